package router

import (
	"context"
	"fmt"

	"github.com/angelmondragon/vcledger/internal/analytics/types"
	"github.com/angelmondragon/vcledger/internal/analytics/writer"
	"github.com/angelmondragon/vcledger/pkg/logger"
	"github.com/angelmondragon/vcledger/pkg/outbox/payloads"
)

type chainAlertHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newChainAlertHandler(w Writer, logg *logger.Logger) Handler {
	return &chainAlertHandler{writer: w, logg: logg}
}

func (h *chainAlertHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.LedgerChainBrokenEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type": envelope.EventType,
		"tenant_id":  event.TenantID.String(),
		"sequence":   event.Sequence,
	})

	encoded, err := writer.EncodeJSON(event)
	if err != nil {
		return err
	}
	row := types.ChainAlertRow{
		EventID:       envelope.EventID,
		OccurredAt:    envelope.OccurredAt.UTC(),
		TenantID:      event.TenantID.String(),
		LedgerEventID: event.EventID.String(),
		Sequence:      event.Sequence,
		ExpectedHash:  event.ExpectedHash,
		ActualHash:    event.ActualHash,
		Reason:        event.Reason,
		DetectedBy:    event.DetectedBy,
		DetectedAt:    event.DetectedAt.UTC(),
		Payload:       encoded,
	}
	if err := h.writer.InsertChainAlert(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert chain alert row", err)
		return err
	}
	h.logg.Warn(logCtx, "ledger chain alert exported")
	return nil
}
