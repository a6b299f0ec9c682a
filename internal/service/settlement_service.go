package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"flash-sale-reservation-service/internal/clock"
	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/observability"
	"flash-sale-reservation-service/internal/payment"
	"flash-sale-reservation-service/internal/repository"
	"flash-sale-reservation-service/internal/security"
)

var ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

const (
	webhookEventChargeSuccess = "charge.success"
	webhookEventChargeFailed  = "charge.failed"
)

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference   string `json:"reference"`
		Status      string `json:"status"`
		AmountMinor int64  `json:"amount"`
	} `json:"data"`
}

// SettlementService applies payment outcomes to the ledger. Webhooks and the
// verify-poll path funnel into the same status-guarded transitions, so
// duplicate and out-of-order deliveries collapse into no-ops.
type SettlementService struct {
	reservations  repository.ReservationRepository
	sales         repository.SaleRepository
	gateway       payment.Gateway
	notifier      Notifier
	clock         clock.Clock
	webhookSecret string
}

func NewSettlementService(
	reservations repository.ReservationRepository,
	sales repository.SaleRepository,
	gateway payment.Gateway,
	notifier Notifier,
	clk clock.Clock,
	webhookSecret string,
) *SettlementService {
	return &SettlementService{
		reservations:  reservations,
		sales:         sales,
		gateway:       gateway,
		notifier:      notifier,
		clock:         clk,
		webhookSecret: webhookSecret,
	}
}

// HandleWebhook authenticates and applies one processor event. Unknown event
// types are acknowledged without effect so the processor stops retrying them.
func (s *SettlementService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !security.VerifyWebhookSignature(payload, signature, s.webhookSecret) {
		observability.RecordSettlementEvent(ctx, "webhook", "bad_signature")
		return ErrInvalidWebhookSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		observability.RecordSettlementEvent(ctx, "webhook", "malformed")
		return fmt.Errorf("decode webhook payload: %w", err)
	}

	switch event.Event {
	case webhookEventChargeSuccess:
		return s.ApplySuccess(ctx, event.Data.Reference)
	case webhookEventChargeFailed:
		return s.ApplyFailure(ctx, event.Data.Reference)
	default:
		slog.InfoContext(ctx, "ignoring webhook event", "event", event.Event)
		observability.RecordSettlementEvent(ctx, "webhook", "ignored")
		return nil
	}
}

// ApplySuccess marks the reservation purchased. If the reservation already
// left pending (expired hold, duplicate delivery), the money arrived for a
// unit the holder no longer owns; that is surfaced for reconciliation rather
// than silently swallowed.
func (s *SettlementService) ApplySuccess(ctx context.Context, reference string) error {
	res, err := s.reservations.FindByPaymentReference(reference)
	if err != nil {
		observability.RecordSettlementEvent(ctx, "success", "unknown_reference")
		return err
	}

	won, err := s.reservations.MarkCompleted(ctx, reference, s.clock.Now())
	if err != nil {
		observability.RecordSettlementEvent(ctx, "success", "error")
		return err
	}
	if !won {
		if res.Status == domain.ReservationStatusExpired || res.Status == domain.ReservationStatusFailed {
			observability.AuditIncident("late_settlement",
				"reference", reference, "reservation_status", string(res.Status))
		}
		observability.RecordSettlementEvent(ctx, "success", "noop")
		return nil
	}

	s.notifier.PublishPaymentResult(ctx, res.UserID, PaymentResult{
		Reference: reference,
		Status:    string(domain.ReservationStatusCompleted),
	})
	observability.RecordSettlementEvent(ctx, "success", "applied")
	return nil
}

// ApplyFailure releases the held unit back to the pool.
func (s *SettlementService) ApplyFailure(ctx context.Context, reference string) error {
	res, err := s.reservations.FindByPaymentReference(reference)
	if err != nil {
		observability.RecordSettlementEvent(ctx, "failure", "unknown_reference")
		return err
	}

	won, err := s.reservations.MarkFailed(ctx, reference)
	if err != nil {
		observability.RecordSettlementEvent(ctx, "failure", "error")
		return err
	}
	if !won {
		observability.RecordSettlementEvent(ctx, "failure", "noop")
		return nil
	}

	ok, err := s.sales.IncrementStock(ctx, res.LineItemID)
	if err != nil || !ok {
		attrs := []any{"line_item_id", res.LineItemID, "reference", reference}
		if err != nil {
			attrs = append(attrs, "error", err.Error())
		}
		observability.AuditIncident("stock_rollback_failed", attrs...)
	}

	s.notifier.PublishPaymentResult(ctx, res.UserID, PaymentResult{
		Reference: reference,
		Status:    string(domain.ReservationStatusFailed),
	})
	observability.RecordSettlementEvent(ctx, "failure", "applied")
	return nil
}

// VerifyAndSettle is the poll-side path for clients returning from checkout
// before the webhook lands. It asks the processor directly and applies the
// answer through the same transitions the webhook would.
func (s *SettlementService) VerifyAndSettle(ctx context.Context, reference string) (*domain.Reservation, error) {
	verified, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}

	switch verified.Status {
	case payment.StatusSuccess:
		if err := s.ApplySuccess(ctx, reference); err != nil {
			return nil, err
		}
	case payment.StatusFailed, payment.StatusAbandoned:
		if err := s.ApplyFailure(ctx, reference); err != nil {
			return nil, err
		}
	}
	return s.reservations.FindByPaymentReference(reference)
}
