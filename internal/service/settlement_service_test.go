package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"flash-sale-reservation-service/internal/clock"
	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/payment"
	"flash-sale-reservation-service/internal/security"
)

const testWebhookSecret = "whsec_test"

type settlementFixture struct {
	svc          *SettlementService
	sales        *fakeSaleRepo
	reservations *fakeReservationRepo
	gateway      *fakeGateway
	notifier     *fakeNotifier
	resID        uint
	lineItemID   uint
}

// newSettlementFixture seeds one pending reservation whose unit has already
// been taken out of stock, the state a reservation is in while checkout is
// open.
func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sales := newFakeSaleRepo()
	saleID, itemIDs := sales.addWindow(
		domain.SaleWindow{
			Title:     "drop",
			Status:    domain.SaleStatusActive,
			StartTime: now.Add(-time.Hour),
			EndTime:   now.Add(time.Hour),
		},
		domain.LineItem{ItemID: "sku-1", SalePrice: 5000, StockLimit: 5, StockRemaining: 4},
	)

	reservations := newFakeReservationRepo()
	resID := reservations.add(domain.Reservation{
		UserID:           1,
		SaleWindowID:     saleID,
		LineItemID:       itemIDs[0],
		ItemID:           "sku-1",
		Price:            5000,
		Status:           domain.ReservationStatusPending,
		PaymentReference: "ref-1",
		ExpiresAt:        now.Add(10 * time.Minute),
	})

	gateway := &fakeGateway{}
	notifier := &fakeNotifier{}
	svc := NewSettlementService(reservations, sales, gateway, notifier,
		&clock.Fixed{Current: now}, testWebhookSecret)

	return &settlementFixture{
		svc:          svc,
		sales:        sales,
		reservations: reservations,
		gateway:      gateway,
		notifier:     notifier,
		resID:        resID,
		lineItemID:   itemIDs[0],
	}
}

func TestApplySuccessIsIdempotent(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	if err := fx.svc.ApplySuccess(ctx, "ref-1"); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if got := fx.reservations.statusOf(fx.resID); got != domain.ReservationStatusCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
	if fx.notifier.paymentCount() != 1 {
		t.Fatalf("payment notifications = %d, want 1", fx.notifier.paymentCount())
	}

	// Duplicate delivery: no state change, no second notification.
	if err := fx.svc.ApplySuccess(ctx, "ref-1"); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if got := fx.reservations.statusOf(fx.resID); got != domain.ReservationStatusCompleted {
		t.Fatalf("status after duplicate = %s, want completed", got)
	}
	if fx.notifier.paymentCount() != 1 {
		t.Fatalf("payment notifications after duplicate = %d, want 1", fx.notifier.paymentCount())
	}
	// Completion never touches the stock counter.
	if got := fx.sales.stockOf(fx.lineItemID); got != 4 {
		t.Fatalf("stock = %d, want 4", got)
	}
}

func TestApplyFailureRestoresStockOnce(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	if err := fx.svc.ApplyFailure(ctx, "ref-1"); err != nil {
		t.Fatalf("apply failure: %v", err)
	}
	if got := fx.reservations.statusOf(fx.resID); got != domain.ReservationStatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}
	if got := fx.sales.stockOf(fx.lineItemID); got != 5 {
		t.Fatalf("stock = %d, want restored 5", got)
	}

	if err := fx.svc.ApplyFailure(ctx, "ref-1"); err != nil {
		t.Fatalf("duplicate apply failure: %v", err)
	}
	if got := fx.sales.stockOf(fx.lineItemID); got != 5 {
		t.Fatalf("stock after duplicate = %d, want still 5", got)
	}
}

func TestOutOfOrderFailureAfterSuccessIsNoop(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	if err := fx.svc.ApplySuccess(ctx, "ref-1"); err != nil {
		t.Fatalf("apply success: %v", err)
	}
	if err := fx.svc.ApplyFailure(ctx, "ref-1"); err != nil {
		t.Fatalf("late failure: %v", err)
	}
	if got := fx.reservations.statusOf(fx.resID); got != domain.ReservationStatusCompleted {
		t.Fatalf("status = %s, want completed to stand", got)
	}
	if got := fx.sales.stockOf(fx.lineItemID); got != 4 {
		t.Fatalf("stock = %d, want 4", got)
	}
}

func TestLateSuccessAfterExpiryLeavesStateAlone(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	if _, err := fx.reservations.MarkExpired(ctx, fx.resID); err != nil {
		t.Fatalf("mark expired: %v", err)
	}
	if err := fx.svc.ApplySuccess(ctx, "ref-1"); err != nil {
		t.Fatalf("late success: %v", err)
	}
	if got := fx.reservations.statusOf(fx.resID); got != domain.ReservationStatusExpired {
		t.Fatalf("status = %s, want expired to stand", got)
	}
	if fx.notifier.paymentCount() != 0 {
		t.Fatal("late success must not notify")
	}
}

func TestApplySuccessUnknownReference(t *testing.T) {
	fx := newSettlementFixture(t)
	if err := fx.svc.ApplySuccess(context.Background(), "ref-unknown"); err == nil {
		t.Fatal("expected error for unknown reference")
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	fx := newSettlementFixture(t)
	payload := []byte(`{"event":"charge.success","data":{"reference":"ref-1"}}`)
	signature := security.SignWebhookPayload(payload, "wrong-secret")

	err := fx.svc.HandleWebhook(context.Background(), payload, signature)
	if !errors.Is(err, ErrInvalidWebhookSignature) {
		t.Fatalf("err = %v, want ErrInvalidWebhookSignature", err)
	}
	if got := fx.reservations.statusOf(fx.resID); got != domain.ReservationStatusPending {
		t.Fatalf("status = %s, want untouched pending", got)
	}
}

func TestHandleWebhookDispatchesChargeSuccess(t *testing.T) {
	fx := newSettlementFixture(t)
	payload, err := json.Marshal(map[string]any{
		"event": "charge.success",
		"data":  map[string]any{"reference": "ref-1", "status": "success", "amount": 5000},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	signature := security.SignWebhookPayload(payload, testWebhookSecret)

	if err := fx.svc.HandleWebhook(context.Background(), payload, signature); err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if got := fx.reservations.statusOf(fx.resID); got != domain.ReservationStatusCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
}

func TestHandleWebhookIgnoresUnknownEvent(t *testing.T) {
	fx := newSettlementFixture(t)
	payload := []byte(`{"event":"transfer.success","data":{"reference":"ref-1"}}`)
	signature := security.SignWebhookPayload(payload, testWebhookSecret)

	if err := fx.svc.HandleWebhook(context.Background(), payload, signature); err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if got := fx.reservations.statusOf(fx.resID); got != domain.ReservationStatusPending {
		t.Fatalf("status = %s, want untouched pending", got)
	}
}

func TestVerifyAndSettleAppliesProcessorAnswer(t *testing.T) {
	fx := newSettlementFixture(t)
	fx.gateway.verifyStatus = payment.StatusSuccess

	res, err := fx.svc.VerifyAndSettle(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("verify and settle: %v", err)
	}
	if res.Status != domain.ReservationStatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
}

func TestVerifyAndSettlePendingLeavesReservation(t *testing.T) {
	fx := newSettlementFixture(t)
	fx.gateway.verifyStatus = payment.StatusPending

	res, err := fx.svc.VerifyAndSettle(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("verify and settle: %v", err)
	}
	if res.Status != domain.ReservationStatusPending {
		t.Fatalf("status = %s, want still pending", res.Status)
	}
}
