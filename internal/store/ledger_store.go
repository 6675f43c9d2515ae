package store

import (
	"context"
	"errors"
	"fmt"

	"copytrade-backend-go/internal/models"
	"gorm.io/gorm"
)

// LedgerStore persists append-only ledger entries.
type LedgerStore struct {
	db *gorm.DB
}

func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Insert writes a new ledger entry. The unique index on source_signal_id
// turns a duplicate post into ErrAlreadyExists rather than a second row.
func (s *LedgerStore) Insert(ctx context.Context, entry *models.LedgerEntry) error {
	err := s.db.WithContext(ctx).Create(entry).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// BySignal fetches the ledger entry referencing a signal, or ErrNotFound.
func (s *LedgerStore) BySignal(ctx context.Context, signalID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.db.WithContext(ctx).First(&entry, "source_signal_id = ?", signalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entry: %w", err)
	}
	return &entry, nil
}

// ForUser lists a user's ledger entries, most recent first.
func (s *LedgerStore) ForUser(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("posted_at desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

// RealizedTotal sums a user's realized P&L.
func (s *LedgerStore) RealizedTotal(ctx context.Context, userID string) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("user_id = ? AND type = ?", userID, models.LedgerTypeRealizedPnL).
		Select("COALESCE(SUM(amount_usd), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return total, nil
}
