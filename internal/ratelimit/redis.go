package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/tasktrack/apiserver/config"
)

const (
	redisKeyPrefix = "tasktrack:ratelimit:"
	redisTimeout   = 250 * time.Millisecond
)

// hitScript counts a request and returns {count, ttl_ms}. The window is
// (re)armed whenever the key has no TTL, so a counter can never outlive it.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Redis is a Limiter whose counters live in Redis and are shared by every
// replica. It fails open when Redis is unreachable.
type Redis struct {
	scripter redis.Scripter
	closer   io.Closer
	logger   *slog.Logger
	now      func() time.Time
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newRedis(client, client, logger), nil
}

func newRedis(scripter redis.Scripter, closer io.Closer, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{scripter: scripter, closer: closer, logger: logger, now: time.Now}
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, period time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if period <= 0 {
		period = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	res, err := hitScript.Run(ctx, r.scripter, []string{redisKeyPrefix + key}, period.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		r.logger.Error("redis rate limiter error", "op", "hit", "error", err)
		return Decision{Allowed: true}
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if ttl <= 0 {
		ttl = period
	}
	return Decision{
		Allowed: count <= limit,
		Count:   count,
		ResetAt: r.now().Add(ttl),
	}
}

func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
