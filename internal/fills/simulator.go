// Package fills models broker fills for follower executions. It shares
// the settlement engine's pattern of a PENDING-initial state machine
// with terminal statuses, but fills are simulator-driven, so updates
// are unconditional.
package fills

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"copytrade-backend-go/internal/models"
	"go.uber.org/zap"
)

// ErrValidation is returned for a malformed side, qty, price, or status.
var ErrValidation = errors.New("fills: invalid execution parameters")

// ExecutionStore is the persistence the simulator needs.
type ExecutionStore interface {
	Create(ctx context.Context, exec *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	ListPending(ctx context.Context, followerID string) ([]models.Execution, error)
	ApplyFill(ctx context.Context, id string, filledQty, avgFillPrice float64, status, brokerOrderID string) (*models.Execution, error)
}

// Simulator drives execution fills.
type Simulator struct {
	store  ExecutionStore
	logger *zap.Logger
}

// NewSimulator creates a new fill simulator.
func NewSimulator(st ExecutionStore, logger *zap.Logger) *Simulator {
	return &Simulator{store: st, logger: logger}
}

// SubmitParams describes a new execution request.
type SubmitParams struct {
	FollowerID string
	SignalID   string
	Symbol     string
	Side       string
	Qty        float64
	Price      float64
	TradeRef   string
}

// Submit creates a PENDING execution for a follower.
func (s *Simulator) Submit(ctx context.Context, p SubmitParams) (*models.Execution, error) {
	side := strings.ToUpper(strings.TrimSpace(p.Side))
	if side != models.SideBuy && side != models.SideSell {
		return nil, fmt.Errorf("%w: side must be BUY or SELL", ErrValidation)
	}
	if p.FollowerID == "" || p.Symbol == "" || p.TradeRef == "" {
		return nil, fmt.Errorf("%w: follower_id, symbol and trade_ref are required", ErrValidation)
	}
	if !(p.Qty > 0) || !(p.Price > 0) {
		return nil, fmt.Errorf("%w: qty and price must be positive", ErrValidation)
	}

	exec := &models.Execution{
		FollowerID:     p.FollowerID,
		SignalID:       p.SignalID,
		Symbol:         p.Symbol,
		Side:           side,
		RequestedQty:   p.Qty,
		RequestedPrice: p.Price,
		TradeRef:       p.TradeRef,
		Status:         models.ExecStatusPending,
	}
	if err := s.store.Create(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// AutofillOptions controls an autofill pass.
type AutofillOptions struct {
	FillAll  bool
	Slippage float64
	Status   string
}

// Autofill fills the most recent PENDING execution for the follower, or
// all of them when FillAll. Each fill takes the full requested quantity
// at requested price plus slippage. No pending executions is not an
// error; the result is empty.
func (s *Simulator) Autofill(ctx context.Context, followerID string, opts AutofillOptions) ([]models.Execution, error) {
	if followerID == "" {
		return nil, fmt.Errorf("%w: follower_id is required", ErrValidation)
	}
	status := opts.Status
	if status == "" {
		status = models.ExecStatusFilled
	}
	if !terminalStatus(status) {
		return nil, fmt.Errorf("%w: status must be FILLED, PARTIAL or CANCELED", ErrValidation)
	}

	pending, err := s.store.ListPending(ctx, followerID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return []models.Execution{}, nil
	}

	targets := pending[:1]
	if opts.FillAll {
		targets = pending
	}

	filled := make([]models.Execution, 0, len(targets))
	for _, exec := range targets {
		brokerOrderID := exec.BrokerOrderID
		if brokerOrderID == "" {
			brokerOrderID = syntheticBrokerOrderID(exec.ID)
		}

		updated, err := s.store.ApplyFill(ctx, exec.ID,
			exec.RequestedQty,
			exec.RequestedPrice+opts.Slippage,
			status,
			brokerOrderID,
		)
		if err != nil {
			return filled, err
		}
		filled = append(filled, *updated)
	}

	s.logger.Info("Autofilled executions",
		zap.String("follower_id", followerID),
		zap.Int("count", len(filled)),
		zap.Float64("slippage", opts.Slippage),
	)
	return filled, nil
}

// RecordFill records explicit fill details on an execution.
func (s *Simulator) RecordFill(ctx context.Context, executionID string, filledQty, avgFillPrice float64, status string) (*models.Execution, error) {
	if status == "" {
		status = models.ExecStatusFilled
	}
	if !terminalStatus(status) {
		return nil, fmt.Errorf("%w: status must be FILLED, PARTIAL or CANCELED", ErrValidation)
	}

	exec, err := s.store.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	brokerOrderID := exec.BrokerOrderID
	if brokerOrderID == "" {
		brokerOrderID = syntheticBrokerOrderID(exec.ID)
	}

	return s.store.ApplyFill(ctx, executionID, filledQty, avgFillPrice, status, brokerOrderID)
}

func terminalStatus(status string) bool {
	switch status {
	case models.ExecStatusFilled, models.ExecStatusPartial, models.ExecStatusCanceled:
		return true
	}
	return false
}

// syntheticBrokerOrderID fabricates a broker acknowledgment id. The
// execution id prefix keeps it unique per execution.
func syntheticBrokerOrderID(executionID string) string {
	if len(executionID) > 8 {
		executionID = executionID[:8]
	}
	return "SIM-" + executionID
}
