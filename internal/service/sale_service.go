package service

import (
	"context"
	"errors"
	"fmt"

	"flash-sale-reservation-service/internal/clock"
	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/repository"
)

var ErrInvalidSaleWindow = errors.New("invalid sale window definition")

// SaleService owns the administrative side of sale windows: creation and the
// explicit lifecycle transitions. Terminal states are enforced in the store,
// so an admin racing the sweeper cannot resurrect an ended window.
type SaleService struct {
	sales        repository.SaleRepository
	reservations repository.ReservationRepository
	clock        clock.Clock
}

func NewSaleService(sales repository.SaleRepository, reservations repository.ReservationRepository, clk clock.Clock) *SaleService {
	return &SaleService{sales: sales, reservations: reservations, clock: clk}
}

func (s *SaleService) CreateWindow(ctx context.Context, window *domain.SaleWindow) error {
	if window.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidSaleWindow)
	}
	if !window.EndTime.After(window.StartTime) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidSaleWindow)
	}
	if window.EndTime.Before(s.clock.Now()) {
		return fmt.Errorf("%w: end time is in the past", ErrInvalidSaleWindow)
	}
	if len(window.LineItems) == 0 {
		return fmt.Errorf("%w: at least one line item is required", ErrInvalidSaleWindow)
	}
	for i := range window.LineItems {
		li := &window.LineItems[i]
		if li.ItemID == "" {
			return fmt.Errorf("%w: line item %d missing item id", ErrInvalidSaleWindow, i)
		}
		if li.SalePrice <= 0 {
			return fmt.Errorf("%w: line item %q has non-positive price", ErrInvalidSaleWindow, li.ItemID)
		}
		if li.StockLimit <= 0 {
			return fmt.Errorf("%w: line item %q has non-positive stock limit", ErrInvalidSaleWindow, li.ItemID)
		}
		li.StockRemaining = li.StockLimit
	}
	window.Status = domain.SaleStatusScheduled
	return s.sales.Create(window)
}

func (s *SaleService) Get(id uint) (*domain.SaleWindow, error) {
	return s.sales.FindByID(id)
}

// Activate opens a scheduled window for reservations.
func (s *SaleService) Activate(ctx context.Context, id uint) error {
	return s.sales.SetStatus(id, domain.SaleStatusScheduled, domain.SaleStatusActive)
}

// Cancel aborts a window from either non-terminal state.
func (s *SaleService) Cancel(ctx context.Context, id uint) error {
	err := s.sales.SetStatus(id, domain.SaleStatusActive, domain.SaleStatusCancelled)
	if errors.Is(err, repository.ErrInvalidTransition) {
		err = s.sales.SetStatus(id, domain.SaleStatusScheduled, domain.SaleStatusCancelled)
	}
	return err
}

// ListReservations pages through a sale's ledger, optionally filtered by
// status, in insertion order.
func (s *SaleService) ListReservations(saleWindowID uint, query repository.ReservationListQuery) (repository.PageResult[domain.Reservation], error) {
	if _, err := s.sales.FindByID(saleWindowID); err != nil {
		return repository.PageResult[domain.Reservation]{}, err
	}
	return s.reservations.ListBySalePaged(saleWindowID, query)
}
