package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Signal statuses. A signal is created OPEN and makes exactly one
// transition to CLOSED; it is never reopened or deleted.
const (
	SignalStatusOpen   = "OPEN"
	SignalStatusClosed = "CLOSED"
)

// Order sides, canonicalized to uppercase before persistence.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Signal is a trading intent.
type Signal struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	UserID     string     `gorm:"index;not null" json:"user_id"`
	Symbol     string     `gorm:"not null" json:"symbol"`
	Side       string     `gorm:"size:4;not null" json:"side"`
	Qty        float64    `gorm:"not null" json:"qty"`
	EntryPrice float64    `gorm:"not null" json:"entry_price"`
	Status     string     `gorm:"index;size:8;default:OPEN" json:"status"`
	Strategy   string     `json:"strategy,omitempty"`
	Confidence *float64   `json:"confidence,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	ClosePrice *float64   `json:"close_price,omitempty"`
}

func (s *Signal) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
