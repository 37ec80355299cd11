// Package worker runs the JetStream pull consumers that repair counters and
// purge engagement data of deleted content.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/novel-platform/services/engagement/internal/config"
	"github.com/example/novel-platform/services/engagement/internal/events"
)

// Durable consumer names, one per subject.
const (
	ReconcileConsumer      = "engagement_reconcile"
	ContentDeletedConsumer = "engagement_content_deleted"
)

// Consumer wraps one JetStream pull subscription.
type Consumer struct {
	sub       *nats.Subscription
	subject   string
	handler   *Handler
	batchSize int
	wait      time.Duration
	log       *zap.Logger
}

// Start subscribes to the reconcile and content-deleted subjects and runs
// both consumers until ctx is cancelled.
func Start(ctx context.Context, nc *nats.Conn, h *Handler, cfg config.WorkerConfig, log *zap.Logger) error {
	js, err := nc.JetStream()
	if err != nil {
		return err
	}
	if err := events.EnsureStream(js, log); err != nil {
		return err
	}

	subjects := map[string]string{
		events.SubjectCountersReconcile: ReconcileConsumer,
		events.SubjectContentDeleted:    ContentDeletedConsumer,
	}
	for subject, durable := range subjects {
		sub, err := js.PullSubscribe(subject, durable, nats.BindStream(events.StreamName), nats.ManualAck())
		if err != nil {
			return err
		}
		c := &Consumer{
			sub:       sub,
			subject:   subject,
			handler:   h,
			batchSize: cfg.BatchSize,
			wait:      cfg.BatchInterval,
			log:       log.With(zap.String("consumer", durable)),
		}
		go c.Run(ctx)
	}
	return nil
}

// Run fetches and applies messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.log.Info("consumer started", zap.String("subject", c.subject))
	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer stopped")
			return
		default:
		}

		msgs, err := c.sub.Fetch(c.batchSize, nats.MaxWait(c.wait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.log.Error("fetch", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			c.settle(msg, c.handler.Handle(ctx, msg.Subject, msg.Data))
		}
	}
}

func (c *Consumer) settle(msg *nats.Msg, err error) {
	switch {
	case err == nil:
		if err := msg.Ack(); err != nil {
			c.log.Warn("ack", zap.Error(err))
		}
	case errors.Is(err, ErrMalformed):
		c.log.Error("dropping malformed message", zap.String("subject", msg.Subject), zap.Error(err))
		if err := msg.Term(); err != nil {
			c.log.Warn("term", zap.Error(err))
		}
	default:
		c.log.Warn("handle failed, requesting redelivery", zap.String("subject", msg.Subject), zap.Error(err))
		if err := msg.Nak(); err != nil {
			c.log.Warn("nak", zap.Error(err))
		}
	}
}
