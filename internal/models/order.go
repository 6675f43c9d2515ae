package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Order statuses.
const (
	OrderStatusNew      = "NEW"
	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
)

// Order is a broker order record. Cancellation is owner-guarded and
// only applies while the order is still NEW.
type Order struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"index;not null" json:"user_id"`
	SignalID  string    `gorm:"size:36" json:"signal_id,omitempty"`
	Symbol    string    `gorm:"not null" json:"symbol"`
	Side      string    `gorm:"size:4;not null" json:"side"`
	Qty       float64   `gorm:"not null" json:"qty"`
	Price     *float64  `json:"price,omitempty"`
	Provider  string    `gorm:"size:16" json:"provider,omitempty"`
	Status    string    `gorm:"index;size:8;default:NEW" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}
