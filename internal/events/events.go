// Package events publishes task and account activity to the message broker
// and archives it into object storage.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tasktrack/apiserver/internal/mq"
	"github.com/tasktrack/apiserver/types"
)

// Type names an activity.
type Type string

const (
	TaskCreated    Type = "task.created"
	TaskUpdated    Type = "task.updated"
	TaskDeleted    Type = "task.deleted"
	UserRegistered Type = "user.registered"
)

// Event is one recorded activity.
type Event struct {
	ID         string      `json:"id"`
	Type       Type        `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	ActorID    int         `json:"actor_id"`
	Task       *types.Task `json:"task,omitempty"`
	User       *types.User `json:"user,omitempty"`
}

// ForTask builds an event carrying a snapshot of task.
func ForTask(typ Type, actorID int, task types.Task) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		ActorID:    actorID,
		Task:       &task,
	}
}

// ForUser builds an event carrying a snapshot of user.
func ForUser(typ Type, user types.User) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		ActorID:    user.ID,
		User:       &user,
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Discard drops every event. It is used when no broker is configured.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// BrokerPublisher publishes events as JSON onto a broker channel.
type BrokerPublisher struct {
	queue   *mq.MQ
	channel string
}

func NewBrokerPublisher(queue *mq.MQ, channel string) *BrokerPublisher {
	return &BrokerPublisher{queue: queue, channel: channel}
}

func (p *BrokerPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = p.queue.Publish(ctx, p.channel, data, map[string]string{
		mq.AttrContentType: "application/json",
		mq.AttrEventType:   string(event.Type),
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}
