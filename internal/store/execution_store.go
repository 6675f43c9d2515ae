package store

import (
	"context"
	"errors"
	"fmt"

	"copytrade-backend-go/internal/models"
	"gorm.io/gorm"
)

// ExecutionStore persists follower fill records.
type ExecutionStore struct {
	db *gorm.DB
}

func NewExecutionStore(db *gorm.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) Create(ctx context.Context, exec *models.Execution) error {
	if err := s.db.WithContext(ctx).Create(exec).Error; err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// GetByID fetches an execution by id, or ErrNotFound.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	var exec models.Execution
	err := s.db.WithContext(ctx).First(&exec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	return &exec, nil
}

// ListPending lists a follower's PENDING executions, newest first.
func (s *ExecutionStore) ListPending(ctx context.Context, followerID string) ([]models.Execution, error) {
	var execs []models.Execution
	err := s.db.WithContext(ctx).
		Where("follower_id = ? AND status = ?", followerID, models.ExecStatusPending).
		Order("created_at desc").
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending executions: %w", err)
	}
	return execs, nil
}

// Recent lists a follower's executions, newest first.
func (s *ExecutionStore) Recent(ctx context.Context, followerID string, limit int) ([]models.Execution, error) {
	var execs []models.Execution
	err := s.db.WithContext(ctx).
		Where("follower_id = ?", followerID).
		Order("created_at desc").
		Limit(limit).
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return execs, nil
}

// ApplyFill records fill details on an execution. The update is
// unconditional: fills are simulator-driven and not raced by concurrent
// clients the way signal closes are.
func (s *ExecutionStore) ApplyFill(ctx context.Context, id string, filledQty, avgFillPrice float64, status, brokerOrderID string) (*models.Execution, error) {
	patch := map[string]interface{}{
		"filled_qty":     filledQty,
		"avg_fill_price": avgFillPrice,
		"status":         status,
	}
	if brokerOrderID != "" {
		patch["broker_order_id"] = brokerOrderID
	}

	res := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ?", id).
		Updates(patch)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to record fill: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	return s.GetByID(ctx, id)
}
