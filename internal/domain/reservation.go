package domain

import "time"

type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusCompleted ReservationStatus = "completed"
	ReservationStatusFailed    ReservationStatus = "failed"
	ReservationStatusExpired   ReservationStatus = "expired"
)

func (s ReservationStatus) Terminal() bool {
	return s != ReservationStatusPending
}

// Reservation is a user's claim on one unit of a line item, pending payment
// confirmation. The composite unique index on (user_id, sale_window_id) is
// the authoritative one-attempt-per-user-per-sale guard; application code
// may pre-check but never relies on it.
type Reservation struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	UserID           uint              `gorm:"not null;uniqueIndex:idx_user_sale" json:"user_id"`
	SaleWindowID     uint              `gorm:"not null;uniqueIndex:idx_user_sale" json:"sale_window_id"`
	LineItemID       uint              `gorm:"index;not null" json:"line_item_id"`
	ItemID           string            `gorm:"size:64;index;not null" json:"item_id"`
	Price            int64             `gorm:"not null" json:"price"`
	Status           ReservationStatus `gorm:"size:16;index:idx_status_expiry;not null;default:pending" json:"status"`
	PaymentReference string            `gorm:"size:64;uniqueIndex;not null" json:"payment_reference"`
	ExpiresAt        time.Time         `gorm:"index:idx_status_expiry;not null" json:"expires_at"`
	PurchasedAt      *time.Time        `json:"purchased_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
