// Package events carries engagement side effects to other processes:
// JetStream for durable work, Redis pub/sub for realtime delivery.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	StreamName = "ENGAGEMENT"

	SubjectNotificationCreated = "engagement.notification.created"
	SubjectCountersReconcile   = "engagement.counters.reconcile"
	// SubjectContentDeleted is published by the content registry when a
	// novel, episode or chapter is removed.
	SubjectContentDeleted = "engagement.content.deleted"
)

// Event is the envelope published on every engagement subject.
// UserID is the user the event is addressed to, if any.
type Event struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	UserID     string          `json:"user_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// ContentRef is the payload of reconcile and content-deleted events.
type ContentRef struct {
	ContentID string `json:"content_id"`
	Reason    string `json:"reason,omitempty"`
}

// New builds an Event with a fresh id.
func New(eventType, userID string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}, nil
}

// Publisher sends an event on a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, evt Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, subject string, evt Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, subject, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
