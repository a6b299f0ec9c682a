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
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrDuplicateReservation maps the ledger's (user_id, sale_window_id)
	// unique-index violation. It is the authoritative one-attempt-per-user
	// guard; callers treat it as "already participated".
	ErrDuplicateReservation = errors.New("duplicate reservation for user and sale")
)

type ReservationListQuery struct {
	PageRequest
	Status domain.ReservationStatus
}

type ReservationRepository interface {
	Create(ctx context.Context, res *domain.Reservation) error
	FindByPaymentReference(reference string) (*domain.Reservation, error)
	FindByUserAndSale(userID, saleWindowID uint) (*domain.Reservation, error)
	// MarkCompleted, MarkFailed and MarkExpired transition only FROM
	// pending. The returned bool reports whether this call won the
	// transition; a false with nil error means the reservation was already
	// terminal and the call is a no-op.
	MarkCompleted(ctx context.Context, reference string, purchasedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, reference string) (bool, error)
	MarkExpired(ctx context.Context, id uint) (bool, error)
	ListExpiredPending(now time.Time, limit int) ([]domain.Reservation, error)
	ListBySalePaged(saleWindowID uint, query ReservationListQuery) (PageResult[domain.Reservation], error)
	DeleteByID(ctx context.Context, id uint) error
}

type GormReservationRepository struct{ db *gorm.DB }

func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &GormReservationRepository{db: db}
}

func (r *GormReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	err := r.db.WithContext(ctx).Create(res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(ctx, "reservation", "create", "duplicate")
			return ErrDuplicateReservation
		}
		observability.RecordRepositoryOperation(ctx, "reservation", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "reservation", "create", "success")
	return nil
}

func (r *GormReservationRepository) FindByPaymentReference(reference string) (*domain.Reservation, error) {
	var res domain.Reservation
	err := r.db.Where("payment_reference = ?", reference).First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "reservation", "find_by_reference", "not_found")
			return nil, ErrReservationNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "reservation", "find_by_reference", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "reservation", "find_by_reference", "success")
	return &res, nil
}

func (r *GormReservationRepository) FindByUserAndSale(userID, saleWindowID uint) (*domain.Reservation, error) {
	var res domain.Reservation
	err := r.db.Where("user_id = ? AND sale_window_id = ?", userID, saleWindowID).First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "reservation", "find_by_user_and_sale", "not_found")
			return nil, ErrReservationNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "reservation", "find_by_user_and_sale", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "reservation", "find_by_user_and_sale", "success")
	return &res, nil
}

func (r *GormReservationRepository) MarkCompleted(ctx context.Context, reference string, purchasedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Reservation{}).
		Where("payment_reference = ? AND status = ?", reference, domain.ReservationStatusPending).
		Updates(map[string]any{"status": domain.ReservationStatusCompleted, "purchased_at": purchasedAt})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "reservation", "mark_completed", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "reservation", "mark_completed", "noop")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "reservation", "mark_completed", "success")
	return true, nil
}

func (r *GormReservationRepository) MarkFailed(ctx context.Context, reference string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Reservation{}).
		Where("payment_reference = ? AND status = ?", reference, domain.ReservationStatusPending).
		Update("status", domain.ReservationStatusFailed)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "reservation", "mark_failed", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "reservation", "mark_failed", "noop")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "reservation", "mark_failed", "success")
	return true, nil
}

func (r *GormReservationRepository) MarkExpired(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Reservation{}).
		Where("id = ? AND status = ?", id, domain.ReservationStatusPending).
		Update("status", domain.ReservationStatusExpired)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "reservation", "mark_expired", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "reservation", "mark_expired", "noop")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "reservation", "mark_expired", "success")
	return true, nil
}

func (r *GormReservationRepository) ListExpiredPending(now time.Time, limit int) ([]domain.Reservation, error) {
	var out []domain.Reservation
	q := r.db.Where("status = ? AND expires_at < ?", domain.ReservationStatusPending, now).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "reservation", "list_expired_pending", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "reservation", "list_expired_pending", "success")
	return out, nil
}

func (r *GormReservationRepository) ListBySalePaged(saleWindowID uint, query ReservationListQuery) (PageResult[domain.Reservation], error) {
	req := normalizePageRequest(query.PageRequest)
	result := PageResult[domain.Reservation]{
		Page:     req.Page,
		PageSize: req.PageSize,
	}

	base := r.db.Model(&domain.Reservation{}).Where("sale_window_id = ?", saleWindowID)
	if query.Status != "" {
		base = base.Where("status = ?", query.Status)
	}

	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "reservation", "list_by_sale_paged", "error")
		return PageResult[domain.Reservation]{}, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := base.Order("created_at ASC").Order("id ASC").Offset(offset).Limit(req.PageSize).Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "reservation", "list_by_sale_paged", "error")
		return PageResult[domain.Reservation]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(context.Background(), "reservation", "list_by_sale_paged", "success")
	return result, nil
}

func (r *GormReservationRepository) DeleteByID(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Delete(&domain.Reservation{}, id).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "reservation", "delete_by_id", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "reservation", "delete_by_id", "success")
	return nil
}
