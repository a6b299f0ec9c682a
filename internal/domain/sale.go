package domain

import "time"

type SaleStatus string

const (
	SaleStatusScheduled SaleStatus = "scheduled"
	SaleStatusActive    SaleStatus = "active"
	SaleStatusEnded     SaleStatus = "ended"
	SaleStatusCancelled SaleStatus = "cancelled"
)

// Terminal reports whether no further status transition is allowed.
func (s SaleStatus) Terminal() bool {
	return s == SaleStatusEnded || s == SaleStatusCancelled
}

type SaleWindow struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Title     string     `gorm:"size:256;not null" json:"title"`
	StartTime time.Time  `gorm:"index;not null" json:"start_time"`
	EndTime   time.Time  `gorm:"index;not null" json:"end_time"`
	Status    SaleStatus `gorm:"size:16;index;not null;default:scheduled" json:"status"`
	LineItems []LineItem `gorm:"foreignKey:SaleWindowID" json:"line_items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Open reports whether the window accepts reservations at the given instant.
// The authoritative check is repeated inside the conditional stock decrement;
// this one exists to fail fast with a precise error.
func (w *SaleWindow) Open(now time.Time) bool {
	return w.Status == SaleStatusActive && !now.Before(w.StartTime) && now.Before(w.EndTime)
}

// LineItem is one catalog entry's allocation within a sale window, carrying
// its own sub-pool of stock. SalePrice is in minor currency units.
type LineItem struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SaleWindowID   uint      `gorm:"index;not null" json:"sale_window_id"`
	ItemID         string    `gorm:"size:64;index;not null" json:"item_id"`
	SalePrice      int64     `gorm:"not null" json:"sale_price"`
	StockLimit     int       `gorm:"not null" json:"stock_limit"`
	StockRemaining int       `gorm:"not null" json:"stock_remaining"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
