package repository

import (
	"context"
	"errors"
	"time"

	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrSaleWindowNotFound = errors.New("sale window not found")
	ErrLineItemNotFound   = errors.New("line item not found")
	ErrInvalidTransition  = errors.New("invalid sale window status transition")
)

type SaleRepository interface {
	Create(w *domain.SaleWindow) error
	FindByID(id uint) (*domain.SaleWindow, error)
	FindLineItem(id uint) (*domain.LineItem, error)
	// DecrementStock performs the collision-proof conditional decrement.
	// The WHERE clause re-validates stock and the owning window's status
	// and time range in the same statement, so a window that ended between
	// the caller's check and this update cannot leak a unit. Returns false
	// when the condition did not hold (no rows affected, no partial write).
	DecrementStock(ctx context.Context, lineItemID uint, now time.Time) (bool, error)
	// IncrementStock returns one unit to the pool. Guarded by
	// stock_remaining < stock_limit so repeated compensation cannot push
	// the counter past its limit.
	IncrementStock(ctx context.Context, lineItemID uint) (bool, error)
	SetStatus(id uint, from, to domain.SaleStatus) error
	// SweepEndedWindows transitions scheduled/active windows whose end time
	// has passed to ended and reports how many were closed.
	SweepEndedWindows(now time.Time) ([]domain.SaleWindow, error)
}

type GormSaleRepository struct{ db *gorm.DB }

func NewSaleRepository(db *gorm.DB) SaleRepository { return &GormSaleRepository{db: db} }

func (r *GormSaleRepository) Create(w *domain.SaleWindow) error {
	err := r.db.Create(w).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "sale_window", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "sale_window", "create", "success")
	return nil
}

func (r *GormSaleRepository) FindByID(id uint) (*domain.SaleWindow, error) {
	var w domain.SaleWindow
	err := r.db.Preload("LineItems").First(&w, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "sale_window", "find_by_id", "not_found")
			return nil, ErrSaleWindowNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "sale_window", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "sale_window", "find_by_id", "success")
	return &w, nil
}

func (r *GormSaleRepository) FindLineItem(id uint) (*domain.LineItem, error) {
	var li domain.LineItem
	err := r.db.First(&li, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "line_item", "find_by_id", "not_found")
			return nil, ErrLineItemNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "line_item", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "line_item", "find_by_id", "success")
	return &li, nil
}

func (r *GormSaleRepository) DecrementStock(ctx context.Context, lineItemID uint, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.LineItem{}).
		Where("id = ? AND stock_remaining > 0", lineItemID).
		Where("sale_window_id IN (?)",
			r.db.Model(&domain.SaleWindow{}).Select("id").
				Where("status = ? AND start_time <= ? AND end_time > ?", domain.SaleStatusActive, now, now),
		).
		UpdateColumn("stock_remaining", gorm.Expr("stock_remaining - 1"))
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "line_item", "decrement_stock", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "line_item", "decrement_stock", "exhausted")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "line_item", "decrement_stock", "success")
	return true, nil
}

func (r *GormSaleRepository) IncrementStock(ctx context.Context, lineItemID uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.LineItem{}).
		Where("id = ? AND stock_remaining < stock_limit", lineItemID).
		UpdateColumn("stock_remaining", gorm.Expr("stock_remaining + 1"))
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "line_item", "increment_stock", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "line_item", "increment_stock", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSaleRepository) SetStatus(id uint, from, to domain.SaleStatus) error {
	res := r.db.Model(&domain.SaleWindow{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "sale_window", "set_status", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "sale_window", "set_status", "conflict")
		return ErrInvalidTransition
	}
	observability.RecordRepositoryOperation(context.Background(), "sale_window", "set_status", "success")
	return nil
}

func (r *GormSaleRepository) SweepEndedWindows(now time.Time) ([]domain.SaleWindow, error) {
	var stale []domain.SaleWindow
	err := r.db.
		Where("status IN ? AND end_time <= ?", []domain.SaleStatus{domain.SaleStatusScheduled, domain.SaleStatusActive}, now).
		Find(&stale).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "sale_window", "sweep_ended", "error")
		return nil, err
	}
	var closed []domain.SaleWindow
	for i := range stale {
		w := stale[i]
		res := r.db.Model(&domain.SaleWindow{}).
			Where("id = ? AND status = ?", w.ID, w.Status).
			Update("status", domain.SaleStatusEnded)
		if res.Error != nil {
			observability.RecordRepositoryOperation(context.Background(), "sale_window", "sweep_ended", "error")
			return closed, res.Error
		}
		if res.RowsAffected > 0 {
			w.Status = domain.SaleStatusEnded
			closed = append(closed, w)
		}
	}
	observability.RecordRepositoryOperation(context.Background(), "sale_window", "sweep_ended", "success")
	return closed, nil
}
