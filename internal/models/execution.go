package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Execution statuses. PENDING is the only non-terminal status.
const (
	ExecStatusPending  = "PENDING"
	ExecStatusFilled   = "FILLED"
	ExecStatusPartial  = "PARTIAL"
	ExecStatusCanceled = "CANCELED"
)

// Execution is a broker fill record for a follower. FilledQty and
// AvgFillPrice stay unset while PENDING and are set together on any
// terminal status.
type Execution struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	FollowerID     string    `gorm:"index;not null" json:"follower_id"`
	SignalID       string    `gorm:"size:36" json:"signal_id,omitempty"`
	Symbol         string    `gorm:"not null" json:"symbol"`
	Side           string    `gorm:"size:4;not null" json:"side"`
	RequestedQty   float64   `gorm:"not null" json:"requested_qty"`
	RequestedPrice float64   `gorm:"not null" json:"requested_price"`
	TradeRef       string    `json:"trade_ref,omitempty"`
	Status         string    `gorm:"index;size:8;default:PENDING" json:"status"`
	FilledQty      *float64  `json:"filled_qty,omitempty"`
	AvgFillPrice   *float64  `json:"avg_fill_price,omitempty"`
	BrokerOrderID  string    `json:"broker_order_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (e *Execution) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
