package store

import (
	"context"
	"errors"
	"fmt"

	"copytrade-backend-go/internal/models"
	"gorm.io/gorm"
)

// OrderStore persists broker orders.
type OrderStore struct {
	db *gorm.DB
}

func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

func (s *OrderStore) Create(ctx context.Context, order *models.Order) error {
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetByID fetches an order by id, or ErrNotFound.
func (s *OrderStore) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return &order, nil
}

// Recent lists orders, newest first, optionally filtered by owner.
func (s *OrderStore) Recent(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	var orders []models.Order
	q := s.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// CancelIfNew cancels an order if it is still NEW and owned by userID;
// the owner check and the status check are one predicate, so a missing
// order, someone else's order, and an already-terminal order are all
// ErrNoMatch.
func (s *OrderStore) CancelIfNew(ctx context.Context, id, userID string) (*models.Order, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, models.OrderStatusNew).
		Update("status", models.OrderStatusCanceled)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNoMatch
	}

	return s.GetByID(ctx, id)
}
