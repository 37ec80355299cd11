package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSPublisher publishes events to the ENGAGEMENT JetStream stream.
type NATSPublisher struct {
	js  nats.JetStreamContext
	log *zap.Logger
}

// NewNATSPublisher ensures the stream exists on nc and returns a publisher.
func NewNATSPublisher(nc *nats.Conn, log *zap.Logger) (*NATSPublisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	if err := EnsureStream(js, log); err != nil {
		return nil, err
	}
	log.Info("NATS publisher initialised", zap.String("stream", StreamName))
	return &NATSPublisher{js: js, log: log}, nil
}

// EnsureStream creates the ENGAGEMENT stream or updates it in place.
func EnsureStream(js nats.JetStreamContext, log *zap.Logger) error {
	cfg := &nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{"engagement.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	}

	if _, err := js.StreamInfo(StreamName); err == nil {
		if _, err := js.UpdateStream(cfg); err != nil {
			log.Warn("engagement: stream update failed", zap.Error(err))
		}
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}

	if _, err := js.AddStream(cfg); err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return err
	}
	log.Info("engagement: stream created", zap.String("stream", StreamName))
	return nil
}

// Publish sends evt with its id as the JetStream message id, so a retried
// publish of the same event is deduplicated by the server.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	ack, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(evt.EventID))
	if err != nil {
		return err
	}
	p.log.Debug("NATS event published",
		zap.String("subject", subject),
		zap.String("event_id", evt.EventID),
		zap.Uint64("seq", ack.Sequence),
	)
	return nil
}
