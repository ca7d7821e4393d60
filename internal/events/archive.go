package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/tasktrack/apiserver/internal/mq"
	"github.com/tasktrack/apiserver/internal/storage"
)

const archivePrefix = "events"

// ErrInvalidEvent marks a message that cannot be archived.
var ErrInvalidEvent = errors.New("invalid event")

// Archiver writes events into object storage.
type Archiver struct {
	store *storage.Storage
}

func NewArchiver(store *storage.Storage) *Archiver {
	return &Archiver{store: store}
}

// Key returns the object key of event: events/YYYY/MM/DD/<type>/<id>.json.
func Key(event Event) string {
	at := event.OccurredAt.UTC()
	return path.Join(
		archivePrefix,
		at.Format("2006"),
		at.Format("01"),
		at.Format("02"),
		string(event.Type),
		event.ID+".json",
	)
}

// Handle decodes msg and archives the event it carries. It satisfies
// mq.Handler.
func (a *Archiver) Handle(ctx context.Context, msg mq.Message) error {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.ID == "" || event.Type == "" || event.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing id, type or timestamp", ErrInvalidEvent)
	}
	return a.Store(ctx, event)
}

// Handler adapts Handle for a long-running subscriber. Undecodable events
// are logged and acknowledged since no redelivery can fix them; storage
// failures are returned so the broker retries.
func (a *Archiver) Handler(logger *slog.Logger) mq.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, msg mq.Message) error {
		err := a.Handle(ctx, msg)
		switch {
		case err == nil:
			logger.Debug("event archived", "message_id", msg.ID, "type", msg.Attributes[mq.AttrEventType])
			return nil
		case errors.Is(err, ErrInvalidEvent):
			logger.Warn("dropping invalid event", "message_id", msg.ID, "error", err)
			return nil
		default:
			logger.Error("archive event failed", "message_id", msg.ID, "error", err)
			return err
		}
	}
}

// Store writes event under Key(event).
func (a *Archiver) Store(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := Key(event)
	if err := a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	return nil
}

// Load reads an archived event back.
func (a *Archiver) Load(ctx context.Context, key string) (Event, error) {
	r, err := a.store.Get(ctx, key)
	if err != nil {
		return Event{}, err
	}
	defer r.Close()

	var event Event
	if err := json.NewDecoder(r).Decode(&event); err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return event, nil
}

// Replay loads every archived event under prefix and publishes it again,
// in key order. Events keep their ids, so archiving a replayed event
// overwrites the same object.
func (a *Archiver) Replay(ctx context.Context, prefix string, publisher Publisher) (int, error) {
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	if !strings.HasPrefix(prefix, archivePrefix) {
		return 0, fmt.Errorf("replay prefix must start with %q", archivePrefix)
	}

	keys, err := a.store.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", prefix, err)
	}

	replayed := 0
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		event, err := a.Load(ctx, key)
		if err != nil {
			return replayed, err
		}
		if err := publisher.Publish(ctx, event); err != nil {
			return replayed, fmt.Errorf("publish %s: %w", key, err)
		}
		replayed++
	}
	return replayed, nil
}
