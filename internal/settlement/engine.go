// Package settlement owns the signal state machine. A signal is created
// OPEN and makes exactly one OPEN→CLOSED transition; closing books a
// realized-P&L ledger entry exactly once.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"copytrade-backend-go/internal/models"
	"copytrade-backend-go/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrNotFoundOrNotOwner is returned when a close matched no OPEN
	// signal for the caller. A missing signal, someone else's signal,
	// and an already-closed signal are indistinguishable on purpose:
	// existence must not leak across owners.
	ErrNotFoundOrNotOwner = errors.New("settlement: signal not found, not owned, or already closed")

	// ErrValidation is returned for a malformed side, qty, or price.
	ErrValidation = errors.New("settlement: invalid signal parameters")
)

// SignalStore is the signal persistence the engine needs.
type SignalStore interface {
	Create(ctx context.Context, sig *models.Signal) error
	GetByID(ctx context.Context, id string) (*models.Signal, error)
	CloseIfOpen(ctx context.Context, id, userID string, closedAt time.Time, closePrice *float64) (*models.Signal, error)
}

// LedgerStore is the ledger persistence the engine needs. Only the
// engine writes REALIZED_PNL entries.
type LedgerStore interface {
	Insert(ctx context.Context, entry *models.LedgerEntry) error
}

// Engine drives signal settlement.
type Engine struct {
	signals SignalStore
	ledger  LedgerStore
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine creates a new settlement engine.
func NewEngine(signals SignalStore, ledger LedgerStore, logger *zap.Logger) *Engine {
	return &Engine{
		signals: signals,
		ledger:  ledger,
		logger:  logger,
		now:     time.Now,
	}
}

// OpenParams describes a new signal.
type OpenParams struct {
	UserID     string
	Symbol     string
	Side       string
	Qty        float64
	EntryPrice float64
	Strategy   string
	Confidence *float64
	Notes      string
}

// Open validates and creates an OPEN signal. The side is canonicalized
// to uppercase before persistence.
func (e *Engine) Open(ctx context.Context, p OpenParams) (*models.Signal, error) {
	side := strings.ToUpper(strings.TrimSpace(p.Side))
	if side != models.SideBuy && side != models.SideSell {
		return nil, fmt.Errorf("%w: side must be BUY or SELL", ErrValidation)
	}
	if p.UserID == "" || p.Symbol == "" {
		return nil, fmt.Errorf("%w: user_id and symbol are required", ErrValidation)
	}
	if !(p.Qty > 0) {
		return nil, fmt.Errorf("%w: qty must be positive", ErrValidation)
	}
	if !(p.EntryPrice > 0) || math.IsInf(p.EntryPrice, 0) {
		return nil, fmt.Errorf("%w: entry price must be positive", ErrValidation)
	}

	sig := &models.Signal{
		UserID:     p.UserID,
		Symbol:     p.Symbol,
		Side:       side,
		Qty:        p.Qty,
		EntryPrice: p.EntryPrice,
		Status:     models.SignalStatusOpen,
		Strategy:   p.Strategy,
		Confidence: p.Confidence,
		Notes:      p.Notes,
		OpenedAt:   e.now(),
	}
	if err := e.signals.Create(ctx, sig); err != nil {
		return nil, err
	}
	return sig, nil
}

// CloseResult is the outcome of a successful close. LedgerErr carries a
// ledger-post failure as a warning; it never fails the close itself.
type CloseResult struct {
	Signal    *models.Signal      `json:"signal"`
	Ledger    *models.LedgerEntry `json:"ledger,omitempty"`
	LedgerErr error               `json:"-"`
}

// Close transitions a signal to CLOSED. The transition only applies to
// an OPEN signal owned by userID; anything else is ErrNotFoundOrNotOwner.
// When a finite close price is supplied the realized P&L is booked to the
// ledger, idempotently: a retry can never produce a second entry for the
// same signal.
func (e *Engine) Close(ctx context.Context, signalID, userID string, closePrice *float64) (*CloseResult, error) {
	if closePrice != nil && (math.IsNaN(*closePrice) || math.IsInf(*closePrice, 0)) {
		return nil, fmt.Errorf("%w: close price must be finite", ErrValidation)
	}

	sig, err := e.signals.CloseIfOpen(ctx, signalID, userID, e.now(), closePrice)
	if errors.Is(err, store.ErrNoMatch) {
		return nil, ErrNotFoundOrNotOwner
	}
	if err != nil {
		return nil, err
	}

	result := &CloseResult{Signal: sig}
	if sig.ClosePrice == nil {
		// No exit price recorded, nothing to book.
		return result, nil
	}

	entry, err := e.PostRealizedPnL(ctx, sig)
	if err != nil {
		// The signal stays CLOSED; the ledger post can be retried later.
		e.logger.Warn("Ledger post failed after close",
			zap.String("signal_id", sig.ID),
			zap.Error(err),
		)
		result.LedgerErr = err
		return result, nil
	}

	result.Ledger = entry
	return result, nil
}

// PostRealizedPnL books the realized P&L for a closed signal. Safe to
// retry: the unique source-signal index turns a duplicate post into a
// success. This is the retry path for a close whose ledger write failed
// transiently.
func (e *Engine) PostRealizedPnL(ctx context.Context, sig *models.Signal) (*models.LedgerEntry, error) {
	if sig.Status != models.SignalStatusClosed || sig.ClosePrice == nil {
		return nil, fmt.Errorf("%w: signal is not closed with a price", ErrValidation)
	}

	entry := &models.LedgerEntry{
		UserID:         sig.UserID,
		SourceSignalID: sig.ID,
		Type:           models.LedgerTypeRealizedPnL,
		AmountUSD:      RealizedPnL(sig.Side, sig.EntryPrice, *sig.ClosePrice, sig.Qty),
		PostedAt:       e.now(),
	}

	err := e.ledger.Insert(ctx, entry)
	if errors.Is(err, store.ErrAlreadyExists) {
		// Already booked by an earlier attempt.
		e.logger.Info("Ledger entry already present for signal", zap.String("signal_id", sig.ID))
		return entry, nil
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info("Realized P&L booked",
		zap.String("signal_id", sig.ID),
		zap.Float64("amount_usd", entry.AmountUSD),
	)
	return entry, nil
}

// RealizedPnL computes the profit or loss booked at close.
func RealizedPnL(side string, entryPrice, closePrice, qty float64) float64 {
	if side == models.SideSell {
		return (entryPrice - closePrice) * qty
	}
	return (closePrice - entryPrice) * qty
}
