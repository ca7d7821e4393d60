package mq

import (
	"context"
	"errors"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/tasktrack/apiserver/config"
	"google.golang.org/api/option"
)

// Pub/Sub accepts dead-letter attempt limits in this range.
const (
	minDeliveryAttempts = 5
	maxDeliveryAttempts = 100
)

// PubSubClient wraps the Google Cloud Pub/Sub SDK client.
type PubSubClient struct {
	client             *pubsub.Client
	subscriptionSuffix string
	deadLetterTopic    string
	attempts           *deliveryTracker
}

// NewPubSubClient constructs a Pub/Sub client from config.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	suffix := cfg.SubscriptionSuffix
	if suffix == "" {
		suffix = "-sub"
	}

	return &PubSubClient{
		client:             client,
		subscriptionSuffix: suffix,
		deadLetterTopic:    strings.TrimSpace(cfg.DeadLetterTopic),
		attempts:           newDeliveryTracker(cfg.MaxDeliveryAttempts),
	}, nil
}

// Publish sends a message to the named topic.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	return result.Get(ctx)
}

// Subscribe consumes messages from the named channel. A message whose
// handler fails is redelivered until it reaches the attempt limit, then
// dropped or dead-lettered.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return err
	}

	sub, err := p.ensureSubscription(ctx, p.subscriptionName(channel), topic)
	if err != nil {
		return err
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		message := Message{
			ID:         msg.ID,
			Data:       msg.Data,
			Attributes: msg.Attributes,
		}
		if err := handler(ctx, message); err != nil {
			if p.attempts.failed(msg.ID, msg.DeliveryAttempt) {
				msg.Nack()
				return
			}
			msg.Ack()
			return
		}
		p.attempts.forget(msg.ID)
		msg.Ack()
	})
}

// Close closes the underlying Pub/Sub client.
func (p *PubSubClient) Close() error {
	return p.client.Close()
}

func (p *PubSubClient) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateTopic(ctx, name)
	}
	return topic, nil
}

func (p *PubSubClient) ensureSubscription(ctx context.Context, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return sub, nil
	}

	cfg := pubsub.SubscriptionConfig{Topic: topic}
	if p.deadLetterTopic != "" {
		dead, err := p.ensureTopic(ctx, p.deadLetterTopic)
		if err != nil {
			return nil, err
		}
		cfg.DeadLetterPolicy = &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     dead.String(),
			MaxDeliveryAttempts: p.attempts.limit,
		}
	}
	return p.client.CreateSubscription(ctx, name, cfg)
}

func (p *PubSubClient) subscriptionName(channel string) string {
	if p.subscriptionSuffix == "" {
		return channel
	}
	return channel + p.subscriptionSuffix
}

// deliveryTracker decides whether a failed message gets another attempt.
// Pub/Sub reports the attempt number only on subscriptions with a
// dead-letter policy; otherwise failures are counted locally per message id.
type deliveryTracker struct {
	mu       sync.Mutex
	limit    int
	failures map[string]int
}

func newDeliveryTracker(limit int) *deliveryTracker {
	limit = min(max(limit, minDeliveryAttempts), maxDeliveryAttempts)
	return &deliveryTracker{limit: limit, failures: make(map[string]int)}
}

// failed records a failed attempt and reports whether to redeliver.
func (t *deliveryTracker) failed(id string, reported *int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	attempt := t.failures[id] + 1
	if reported != nil && *reported > attempt {
		attempt = *reported
	}
	if attempt >= t.limit {
		delete(t.failures, id)
		return false
	}
	t.failures[id] = attempt
	return true
}

func (t *deliveryTracker) forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, id)
}
