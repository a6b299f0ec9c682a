package domain

import "time"

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"size:256;uniqueIndex;not null" json:"email"`
	Username     string    `gorm:"size:64;uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"size:128" json:"-"`
	Suspended    bool      `gorm:"not null;default:false" json:"suspended"`
	Verified     bool      `gorm:"not null;default:false" json:"verified"`
	IsAdmin      bool      `gorm:"not null;default:false" json:"is_admin"`
	TokenVersion int       `gorm:"not null;default:0" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
