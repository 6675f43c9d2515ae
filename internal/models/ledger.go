package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ledger entry types.
const LedgerTypeRealizedPnL = "REALIZED_PNL"

// LedgerEntry is an append-only realized-P&L booking. The unique index
// on SourceSignalID is what makes ledger posting idempotent: at most one
// entry can ever reference a given signal.
type LedgerEntry struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	UserID         string    `gorm:"index;not null" json:"user_id"`
	SourceSignalID string    `gorm:"uniqueIndex;size:36;not null" json:"source_signal_id"`
	Type           string    `gorm:"size:16;not null" json:"type"`
	AmountUSD      float64   `gorm:"column:amount_usd;not null" json:"amount_usd"`
	PostedAt       time.Time `json:"posted_at"`
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
