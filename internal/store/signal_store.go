package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"copytrade-backend-go/internal/models"
	"gorm.io/gorm"
)

// SignalStore persists trading signals.
type SignalStore struct {
	db *gorm.DB
}

func NewSignalStore(db *gorm.DB) *SignalStore {
	return &SignalStore{db: db}
}

func (s *SignalStore) Create(ctx context.Context, sig *models.Signal) error {
	if err := s.db.WithContext(ctx).Create(sig).Error; err != nil {
		return fmt.Errorf("failed to create signal: %w", err)
	}
	return nil
}

// GetByID fetches a signal by id, or ErrNotFound.
func (s *SignalStore) GetByID(ctx context.Context, id string) (*models.Signal, error) {
	var sig models.Signal
	err := s.db.WithContext(ctx).First(&sig, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load signal: %w", err)
	}
	return &sig, nil
}

// Recent lists the newest signals, most recently opened first.
func (s *SignalStore) Recent(ctx context.Context, userID string, limit int) ([]models.Signal, error) {
	var sigs []models.Signal
	q := s.db.WithContext(ctx).Order("opened_at desc").Limit(limit)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&sigs).Error; err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	return sigs, nil
}

// CloseIfOpen transitions a signal to CLOSED if and only if it is still
// OPEN and owned by userID. Ownership and staleness share a single
// predicate; zero rows affected is ErrNoMatch either way. On success the
// updated row is returned.
func (s *SignalStore) CloseIfOpen(ctx context.Context, id, userID string, closedAt time.Time, closePrice *float64) (*models.Signal, error) {
	patch := map[string]interface{}{
		"status":    models.SignalStatusClosed,
		"closed_at": closedAt,
	}
	if closePrice != nil {
		patch["close_price"] = *closePrice
	}

	res := s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, models.SignalStatusOpen).
		Updates(patch)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to close signal: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNoMatch
	}

	return s.GetByID(ctx, id)
}
