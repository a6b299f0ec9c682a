package service

import (
	"context"
	"testing"
	"time"

	"flash-sale-reservation-service/internal/clock"
	"flash-sale-reservation-service/internal/domain"
)

type reaperFixture struct {
	reaper       *Reaper
	sales        *fakeSaleRepo
	reservations *fakeReservationRepo
	notifier     *fakeNotifier
	clk          *clock.Fixed
	saleID       uint
	lineItemID   uint
}

func newReaperFixture(t *testing.T) *reaperFixture {
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
		domain.LineItem{ItemID: "sku-1", SalePrice: 5000, StockLimit: 5, StockRemaining: 3},
	)

	reservations := newFakeReservationRepo()
	notifier := &fakeNotifier{}
	clk := &clock.Fixed{Current: now}
	reaper := NewReaper(reservations, sales, notifier, clk, 2*time.Minute, 3*time.Minute, 500)

	return &reaperFixture{
		reaper:       reaper,
		sales:        sales,
		reservations: reservations,
		notifier:     notifier,
		clk:          clk,
		saleID:       saleID,
		lineItemID:   itemIDs[0],
	}
}

func (fx *reaperFixture) addPending(userID uint, reference string, expiresAt time.Time) uint {
	return fx.reservations.add(domain.Reservation{
		UserID:           userID,
		SaleWindowID:     fx.saleID,
		LineItemID:       fx.lineItemID,
		ItemID:           "sku-1",
		Price:            5000,
		Status:           domain.ReservationStatusPending,
		PaymentReference: reference,
		ExpiresAt:        expiresAt,
	})
}

func TestReclaimExpiredExactlyOnce(t *testing.T) {
	fx := newReaperFixture(t)
	ctx := context.Background()

	overdueID := fx.addPending(1, "ref-overdue", fx.clk.Current.Add(10*time.Minute))
	freshID := fx.addPending(2, "ref-fresh", fx.clk.Current.Add(30*time.Minute))
	fx.clk.Advance(11 * time.Minute)

	n, err := fx.reaper.ReclaimExpired(ctx)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}
	if got := fx.reservations.statusOf(overdueID); got != domain.ReservationStatusExpired {
		t.Fatalf("overdue status = %s, want expired", got)
	}
	if got := fx.reservations.statusOf(freshID); got != domain.ReservationStatusPending {
		t.Fatalf("fresh status = %s, want pending", got)
	}
	if got := fx.sales.stockOf(fx.lineItemID); got != 4 {
		t.Fatalf("stock = %d, want 4", got)
	}

	// A second pass over the same state reclaims nothing.
	n, err = fx.reaper.ReclaimExpired(ctx)
	if err != nil {
		t.Fatalf("second reclaim: %v", err)
	}
	if n != 0 {
		t.Fatalf("second reclaim = %d, want 0", n)
	}
	if got := fx.sales.stockOf(fx.lineItemID); got != 4 {
		t.Fatalf("stock after second pass = %d, want 4", got)
	}
}

func TestReclaimSkipsSettledReservation(t *testing.T) {
	fx := newReaperFixture(t)
	ctx := context.Background()

	id := fx.addPending(1, "ref-1", fx.clk.Current.Add(10*time.Minute))
	if _, err := fx.reservations.MarkCompleted(ctx, "ref-1", fx.clk.Current); err != nil {
		t.Fatalf("settle: %v", err)
	}
	fx.clk.Advance(11 * time.Minute)

	n, err := fx.reaper.ReclaimExpired(ctx)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 0 {
		t.Fatalf("reclaimed = %d, want 0", n)
	}
	if got := fx.reservations.statusOf(id); got != domain.ReservationStatusCompleted {
		t.Fatalf("status = %s, want completed to stand", got)
	}
	if got := fx.sales.stockOf(fx.lineItemID); got != 3 {
		t.Fatalf("stock = %d, want untouched 3", got)
	}
	if got := fx.notifier.paymentCount(); got != 0 {
		t.Fatalf("payment notifications = %d, want 0 for a settled row", got)
	}
}

func TestReclaimPublishesStockUpdates(t *testing.T) {
	fx := newReaperFixture(t)
	ctx := context.Background()

	fx.addPending(1, "ref-1", fx.clk.Current.Add(10*time.Minute))
	fx.clk.Advance(11 * time.Minute)

	if _, err := fx.reaper.ReclaimExpired(ctx); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	fx.notifier.mu.Lock()
	defer fx.notifier.mu.Unlock()
	if len(fx.notifier.stock) != 1 {
		t.Fatalf("stock updates = %d, want 1", len(fx.notifier.stock))
	}
	if got := fx.notifier.stock[0].RemainingStock; got != 4 {
		t.Fatalf("published remaining = %d, want 4", got)
	}
}

func TestReclaimNotifiesExpiredHolder(t *testing.T) {
	fx := newReaperFixture(t)
	ctx := context.Background()

	fx.addPending(7, "ref-late", fx.clk.Current.Add(10*time.Minute))
	fx.clk.Advance(11 * time.Minute)

	if _, err := fx.reaper.ReclaimExpired(ctx); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if got := fx.notifier.paymentCount(); got != 1 {
		t.Fatalf("payment notifications = %d, want 1", got)
	}
	fx.notifier.mu.Lock()
	result := fx.notifier.payments[0]
	fx.notifier.mu.Unlock()
	if result.Reference != "ref-late" {
		t.Fatalf("notified reference = %q, want ref-late", result.Reference)
	}
	if result.Status != string(domain.ReservationStatusExpired) {
		t.Fatalf("notified status = %q, want expired", result.Status)
	}
}

func TestSweepWindowsClosesOverdue(t *testing.T) {
	fx := newReaperFixture(t)
	ctx := context.Background()
	fx.clk.Advance(2 * time.Hour)

	n, err := fx.reaper.SweepWindows(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("closed = %d, want 1", n)
	}
	w, err := fx.sales.FindByID(fx.saleID)
	if err != nil {
		t.Fatalf("find window: %v", err)
	}
	if w.Status != domain.SaleStatusEnded {
		t.Fatalf("status = %s, want ended", w.Status)
	}

	n, err = fx.reaper.SweepWindows(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep closed = %d, want 0", n)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	fx := newReaperFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- fx.reaper.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop after cancel")
	}
}
