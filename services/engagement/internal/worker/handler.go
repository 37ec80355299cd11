package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/example/novel-platform/services/engagement/internal/engagement"
	"github.com/example/novel-platform/services/engagement/internal/events"
	"github.com/example/novel-platform/services/engagement/internal/store"
)

// ErrMalformed marks a message that can never be applied.
// The consumer terminates it instead of asking for redelivery.
var ErrMalformed = errors.New("malformed event")

// Service is the part of the coordinator the worker drives.
type Service interface {
	ReconcileContent(ctx context.Context, contentID string) error
	PurgeContent(ctx context.Context, contentID string) (engagement.PurgeResult, error)
}

// Handler applies engagement events once per event id.
type Handler struct {
	svc    Service
	ledger store.EventLedger
	log    *zap.Logger
}

func NewHandler(svc Service, ledger store.EventLedger, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, ledger: ledger, log: log}
}

// Handle decodes and applies one message. A nil error means the message can
// be acked, including duplicates that were skipped.
func (h *Handler) Handle(ctx context.Context, subject string, data []byte) error {
	var evt events.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(evt.EventID) == "" {
		return fmt.Errorf("%w: missing event_id", ErrMalformed)
	}
	var ref events.ContentRef
	if err := json.Unmarshal(evt.Data, &ref); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(ref.ContentID) == "" {
		return fmt.Errorf("%w: missing content_id", ErrMalformed)
	}

	done, err := h.ledger.Processed(ctx, evt.EventID)
	if err != nil {
		return err
	}
	if done {
		h.log.Debug("event already processed", zap.String("event_id", evt.EventID), zap.String("subject", subject))
		return nil
	}

	switch subject {
	case events.SubjectCountersReconcile:
		err = h.svc.ReconcileContent(ctx, ref.ContentID)
	case events.SubjectContentDeleted:
		_, err = h.svc.PurgeContent(ctx, ref.ContentID)
	default:
		return fmt.Errorf("%w: unexpected subject %s", ErrMalformed, subject)
	}
	if err != nil {
		return err
	}

	if _, err := h.ledger.MarkProcessed(ctx, evt.EventID, subject); err != nil {
		// Applied already; a redelivery repeats idempotent work.
		h.log.Warn("event ledger write failed", zap.String("event_id", evt.EventID), zap.Error(err))
	}
	return nil
}
