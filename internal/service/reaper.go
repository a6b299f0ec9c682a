package service

import (
	"context"
	"log/slog"
	"time"

	"flash-sale-reservation-service/internal/clock"
	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/observability"
	"flash-sale-reservation-service/internal/repository"
)

// Reaper is the background janitor. One tick reclaims expired reservation
// holds; the other closes sale windows whose end time passed without an
// explicit transition. Both ticks are idempotent, so overlapping or repeated
// runs (including across replicas) are harmless.
type Reaper struct {
	reservations repository.ReservationRepository
	sales        repository.SaleRepository
	notifier     Notifier
	clock        clock.Clock

	reclaimEvery time.Duration
	sweepEvery   time.Duration
	batchSize    int
}

func NewReaper(
	reservations repository.ReservationRepository,
	sales repository.SaleRepository,
	notifier Notifier,
	clk clock.Clock,
	reclaimEvery, sweepEvery time.Duration,
	batchSize int,
) *Reaper {
	return &Reaper{
		reservations: reservations,
		sales:        sales,
		notifier:     notifier,
		clock:        clk,
		reclaimEvery: reclaimEvery,
		sweepEvery:   sweepEvery,
		batchSize:    batchSize,
	}
}

// Run blocks until ctx is cancelled, driving both ticks on their own timers.
func (r *Reaper) Run(ctx context.Context) error {
	reclaim := time.NewTicker(r.reclaimEvery)
	defer reclaim.Stop()
	sweep := time.NewTicker(r.sweepEvery)
	defer sweep.Stop()

	slog.InfoContext(ctx, "reaper started",
		"reclaim_every", r.reclaimEvery, "sweep_every", r.sweepEvery, "batch_size", r.batchSize)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "reaper stopped")
			return ctx.Err()
		case <-reclaim.C:
			if _, err := r.ReclaimExpired(ctx); err != nil {
				slog.ErrorContext(ctx, "reclaim expired reservations", "error", err)
			}
		case <-sweep.C:
			if _, err := r.SweepWindows(ctx); err != nil {
				slog.ErrorContext(ctx, "sweep ended windows", "error", err)
			}
		}
	}
}

// ReclaimExpired expires overdue pending holds and returns their units to
// stock. The status-guarded transition decides the winner when a settlement
// races the reaper; only the winner touches the counter.
func (r *Reaper) ReclaimExpired(ctx context.Context) (int, error) {
	expired, err := r.reservations.ListExpiredPending(r.clock.Now(), r.batchSize)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for i := range expired {
		res := expired[i]
		won, err := r.reservations.MarkExpired(ctx, res.ID)
		if err != nil {
			return reclaimed, err
		}
		if !won {
			continue
		}
		reclaimed++

		// The holder hears about the expiry the same way they would hear
		// about a declined payment.
		r.notifier.PublishPaymentResult(ctx, res.UserID, PaymentResult{
			Reference: res.PaymentReference,
			Status:    string(domain.ReservationStatusExpired),
		})

		ok, err := r.sales.IncrementStock(ctx, res.LineItemID)
		if err != nil || !ok {
			attrs := []any{"reservation_id", res.ID, "line_item_id", res.LineItemID}
			if err != nil {
				attrs = append(attrs, "error", err.Error())
			}
			observability.AuditIncident("stock_rollback_failed", attrs...)
			continue
		}

		if item, ferr := r.sales.FindLineItem(res.LineItemID); ferr == nil {
			r.notifier.PublishStockUpdate(ctx, StockUpdate{
				SaleWindowID:   res.SaleWindowID,
				ItemID:         res.ItemID,
				RemainingStock: item.StockRemaining,
			})
		}
	}

	observability.RecordReaperSweep(ctx, "reservation_expiry", int64(reclaimed))
	if reclaimed > 0 {
		slog.InfoContext(ctx, "reclaimed expired reservations", "count", reclaimed)
	}
	return reclaimed, nil
}

// SweepWindows force-closes windows whose end time has passed.
func (r *Reaper) SweepWindows(ctx context.Context) (int, error) {
	closed, err := r.sales.SweepEndedWindows(r.clock.Now())
	if err != nil {
		return 0, err
	}
	observability.RecordReaperSweep(ctx, "window_close", int64(len(closed)))
	if len(closed) > 0 {
		slog.InfoContext(ctx, "closed overdue sale windows", "count", len(closed))
	}
	return len(closed), nil
}
