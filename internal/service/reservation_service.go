package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"flash-sale-reservation-service/internal/clock"
	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/observability"
	"flash-sale-reservation-service/internal/payment"
	"flash-sale-reservation-service/internal/repository"

	"github.com/google/uuid"
)

type ReservationOutcome struct {
	Reservation *domain.Reservation
	PaymentURL  string
}

// ReservationService runs the purchase pipeline: window check, atomic stock
// claim, ledger insert, payment initiation. Every step after the stock claim
// compensates on failure so a unit is never stranded outside the pool longer
// than the hold window.
type ReservationService struct {
	sales        repository.SaleRepository
	reservations repository.ReservationRepository
	cache        ParticipationCache
	gateway      payment.Gateway
	notifier     Notifier
	clock        clock.Clock
	holdDuration time.Duration
	callbackURL  string
}

func NewReservationService(
	sales repository.SaleRepository,
	reservations repository.ReservationRepository,
	cache ParticipationCache,
	gateway payment.Gateway,
	notifier Notifier,
	clk clock.Clock,
	holdDuration time.Duration,
	callbackURL string,
) *ReservationService {
	return &ReservationService{
		sales:        sales,
		reservations: reservations,
		cache:        cache,
		gateway:      gateway,
		notifier:     notifier,
		clock:        clk,
		holdDuration: holdDuration,
		callbackURL:  callbackURL,
	}
}

func (s *ReservationService) Reserve(ctx context.Context, user *domain.User, saleWindowID uint, itemID string) (*ReservationOutcome, error) {
	now := s.clock.Now()

	window, err := s.sales.FindByID(saleWindowID)
	if err != nil {
		return nil, err
	}
	if !window.Open(now) {
		observability.RecordReservationAttempt(ctx, "window_closed")
		return nil, ErrSaleWindowClosed
	}

	var item *domain.LineItem
	for i := range window.LineItems {
		if window.LineItems[i].ItemID == itemID {
			item = &window.LineItems[i]
			break
		}
	}
	if item == nil {
		observability.RecordReservationAttempt(ctx, "item_not_in_sale")
		return nil, ErrItemNotInSale
	}

	// Fast rejection for repeat buyers. Best effort: a cache error falls
	// through to the unique index, which makes the real decision.
	if seen, cerr := s.cache.Seen(ctx, user.ID, saleWindowID); cerr != nil {
		slog.WarnContext(ctx, "participation cache lookup", "error", cerr)
	} else if seen {
		observability.RecordReservationAttempt(ctx, "duplicate_cached")
		return nil, ErrAlreadyParticipated
	}

	claimed, err := s.sales.DecrementStock(ctx, item.ID, now)
	if err != nil {
		observability.RecordReservationAttempt(ctx, "error")
		return nil, fmt.Errorf("claim stock: %w", err)
	}
	if !claimed {
		// The conditional update refused either because stock hit zero or
		// because the window closed underneath us. A repeat buyer whose own
		// hold took the last unit must hear "already participated", so the
		// ledger is consulted before any stock answer.
		if _, derr := s.reservations.FindByUserAndSale(user.ID, saleWindowID); derr == nil {
			s.markParticipated(ctx, user.ID, window)
			observability.RecordReservationAttempt(ctx, "duplicate")
			return nil, ErrAlreadyParticipated
		}
		if fresh, ferr := s.sales.FindByID(saleWindowID); ferr == nil && !fresh.Open(s.clock.Now()) {
			observability.RecordReservationAttempt(ctx, "window_closed")
			return nil, ErrSaleWindowClosed
		}
		observability.RecordReservationAttempt(ctx, "out_of_stock")
		return nil, ErrOutOfStock
	}

	res := &domain.Reservation{
		UserID:           user.ID,
		SaleWindowID:     saleWindowID,
		LineItemID:       item.ID,
		ItemID:           item.ItemID,
		Price:            item.SalePrice,
		Status:           domain.ReservationStatusPending,
		PaymentReference: uuid.NewString(),
		ExpiresAt:        now.Add(s.holdDuration),
	}
	if err := s.reservations.Create(ctx, res); err != nil {
		s.returnUnit(ctx, item.ID, "ledger_insert_failed")
		if errors.Is(err, repository.ErrDuplicateReservation) {
			s.markParticipated(ctx, user.ID, window)
			observability.RecordReservationAttempt(ctx, "duplicate")
			return nil, ErrAlreadyParticipated
		}
		observability.RecordReservationAttempt(ctx, "error")
		return nil, fmt.Errorf("record reservation: %w", err)
	}

	init, err := s.gateway.Initialize(ctx, payment.InitializeRequest{
		Reference:   res.PaymentReference,
		AmountMinor: res.Price,
		Email:       user.Email,
		CallbackURL: s.callbackURL,
	})
	if err != nil {
		if derr := s.reservations.DeleteByID(ctx, res.ID); derr != nil {
			observability.AuditIncident("reservation_cleanup_failed",
				"reservation_id", res.ID, "reference", res.PaymentReference, "error", derr.Error())
		}
		s.returnUnit(ctx, item.ID, "payment_init_failed")
		observability.RecordReservationAttempt(ctx, "payment_init_failed")
		return nil, fmt.Errorf("%w: %v", ErrPaymentInitFailed, err)
	}

	s.markParticipated(ctx, user.ID, window)
	s.publishStock(ctx, window.ID, item.ID, item.ItemID)
	observability.RecordReservationAttempt(ctx, "success")

	return &ReservationOutcome{Reservation: res, PaymentURL: init.AuthorizationURL}, nil
}

// GetByReference resolves a reservation for status polling.
func (s *ReservationService) GetByReference(reference string) (*domain.Reservation, error) {
	return s.reservations.FindByPaymentReference(reference)
}

// GetForUser returns the caller's reservation in a sale, if any.
func (s *ReservationService) GetForUser(userID, saleWindowID uint) (*domain.Reservation, error) {
	return s.reservations.FindByUserAndSale(userID, saleWindowID)
}

// returnUnit compensates a claimed unit. A failure here leaks stock until a
// human reconciles, so it is logged as an incident rather than an error.
func (s *ReservationService) returnUnit(ctx context.Context, lineItemID uint, reason string) {
	ok, err := s.sales.IncrementStock(ctx, lineItemID)
	if err != nil || !ok {
		attrs := []any{"line_item_id", lineItemID, "reason", reason}
		if err != nil {
			attrs = append(attrs, "error", err.Error())
		}
		observability.AuditIncident("stock_rollback_failed", attrs...)
	}
}

func (s *ReservationService) markParticipated(ctx context.Context, userID uint, window *domain.SaleWindow) {
	// Keep the entry until well past the last moment the ledger row matters
	// for admission.
	ttl := window.EndTime.Sub(s.clock.Now()) + s.holdDuration
	if err := s.cache.Mark(ctx, userID, window.ID, ttl); err != nil {
		slog.WarnContext(ctx, "participation cache mark", "error", err)
	}
}

func (s *ReservationService) publishStock(ctx context.Context, saleWindowID, lineItemID uint, itemID string) {
	item, err := s.sales.FindLineItem(lineItemID)
	if err != nil {
		slog.WarnContext(ctx, "reload line item for stock update", "error", err)
		return
	}
	s.notifier.PublishStockUpdate(ctx, StockUpdate{
		SaleWindowID:   saleWindowID,
		ItemID:         itemID,
		RemainingStock: item.StockRemaining,
	})
}
