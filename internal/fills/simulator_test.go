package fills

import (
	"context"
	"testing"
	"time"

	"copytrade-backend-go/internal/models"
	"copytrade-backend-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupSimulator(t *testing.T) (*Simulator, *store.ExecutionStore) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Execution{}))

	execStore := store.NewExecutionStore(db)
	return NewSimulator(execStore, zap.NewNop()), execStore
}

// seedPending creates a PENDING execution with an explicit creation time
// so ordering is deterministic.
func seedPending(t *testing.T, st *store.ExecutionStore, followerID string, price float64, createdAt time.Time) *models.Execution {
	exec := &models.Execution{
		FollowerID:     followerID,
		Symbol:         "MESU5",
		Side:           models.SideBuy,
		RequestedQty:   2,
		RequestedPrice: price,
		TradeRef:       "ref-" + createdAt.Format("150405.000"),
		Status:         models.ExecStatusPending,
		CreatedAt:      createdAt,
	}
	require.NoError(t, st.Create(context.Background(), exec))
	return exec
}

func TestSubmit_CreatesPending(t *testing.T) {
	sim, _ := setupSimulator(t)

	exec, err := sim.Submit(context.Background(), SubmitParams{
		FollowerID: "follower-1",
		Symbol:     "NQ",
		Side:       "sell",
		Qty:        3,
		Price:      18000,
		TradeRef:   "ref-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecStatusPending, exec.Status)
	assert.Equal(t, models.SideSell, exec.Side)
	assert.NotEmpty(t, exec.ID)
	assert.Nil(t, exec.FilledQty)
	assert.Nil(t, exec.AvgFillPrice)
}

func TestSubmit_Validation(t *testing.T) {
	sim, _ := setupSimulator(t)
	ctx := context.Background()

	cases := []SubmitParams{
		{FollowerID: "f", Symbol: "NQ", Side: "HOLD", Qty: 1, Price: 10, TradeRef: "r"},
		{FollowerID: "", Symbol: "NQ", Side: "BUY", Qty: 1, Price: 10, TradeRef: "r"},
		{FollowerID: "f", Symbol: "NQ", Side: "BUY", Qty: 0, Price: 10, TradeRef: "r"},
		{FollowerID: "f", Symbol: "NQ", Side: "BUY", Qty: 1, Price: -10, TradeRef: "r"},
		{FollowerID: "f", Symbol: "NQ", Side: "BUY", Qty: 1, Price: 10, TradeRef: ""},
	}
	for _, p := range cases {
		_, err := sim.Submit(ctx, p)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestAutofill_MostRecentOnly(t *testing.T) {
	sim, st := setupSimulator(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	oldest := seedPending(t, st, "follower-1", 100, base)
	middle := seedPending(t, st, "follower-1", 101, base.Add(time.Minute))
	newest := seedPending(t, st, "follower-1", 102, base.Add(2*time.Minute))

	filled, err := sim.Autofill(ctx, "follower-1", AutofillOptions{Slippage: 0.25})
	require.NoError(t, err)
	require.Len(t, filled, 1)

	assert.Equal(t, newest.ID, filled[0].ID)
	assert.Equal(t, models.ExecStatusFilled, filled[0].Status)
	require.NotNil(t, filled[0].FilledQty)
	require.NotNil(t, filled[0].AvgFillPrice)
	assert.Equal(t, newest.RequestedQty, *filled[0].FilledQty)
	assert.Equal(t, 102.25, *filled[0].AvgFillPrice)

	// The other two stayed PENDING.
	for _, id := range []string{oldest.ID, middle.ID} {
		exec, err := st.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.ExecStatusPending, exec.Status)
		assert.Nil(t, exec.FilledQty)
	}
}

func TestAutofill_FillAll(t *testing.T) {
	sim, st := setupSimulator(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	seedPending(t, st, "follower-1", 100, base)
	seedPending(t, st, "follower-1", 101, base.Add(time.Minute))
	seedPending(t, st, "follower-2", 500, base) // another follower, untouched

	filled, err := sim.Autofill(ctx, "follower-1", AutofillOptions{FillAll: true})
	require.NoError(t, err)
	assert.Len(t, filled, 2)

	remaining, err := st.ListPending(ctx, "follower-1")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	other, err := st.ListPending(ctx, "follower-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestAutofill_NoPendingIsNotAnError(t *testing.T) {
	sim, _ := setupSimulator(t)

	filled, err := sim.Autofill(context.Background(), "follower-1", AutofillOptions{})
	require.NoError(t, err)
	assert.Empty(t, filled)
}

func TestAutofill_SyntheticBrokerOrderID(t *testing.T) {
	sim, st := setupSimulator(t)
	ctx := context.Background()

	exec := seedPending(t, st, "follower-1", 100, time.Now())

	filled, err := sim.Autofill(ctx, "follower-1", AutofillOptions{})
	require.NoError(t, err)
	require.Len(t, filled, 1)
	assert.Equal(t, "SIM-"+exec.ID[:8], filled[0].BrokerOrderID)
}

func TestAutofill_TargetStatus(t *testing.T) {
	sim, st := setupSimulator(t)
	ctx := context.Background()

	seedPending(t, st, "follower-1", 100, time.Now())

	filled, err := sim.Autofill(ctx, "follower-1", AutofillOptions{Status: models.ExecStatusCanceled})
	require.NoError(t, err)
	require.Len(t, filled, 1)
	assert.Equal(t, models.ExecStatusCanceled, filled[0].Status)
}

func TestAutofill_Validation(t *testing.T) {
	sim, _ := setupSimulator(t)
	ctx := context.Background()

	_, err := sim.Autofill(ctx, "", AutofillOptions{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = sim.Autofill(ctx, "follower-1", AutofillOptions{Status: "PENDING"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecordFill(t *testing.T) {
	sim, st := setupSimulator(t)
	ctx := context.Background()

	exec := seedPending(t, st, "follower-1", 100, time.Now())

	updated, err := sim.RecordFill(ctx, exec.ID, 1.5, 100.5, models.ExecStatusPartial)
	require.NoError(t, err)
	assert.Equal(t, models.ExecStatusPartial, updated.Status)
	require.NotNil(t, updated.FilledQty)
	require.NotNil(t, updated.AvgFillPrice)
	assert.Equal(t, 1.5, *updated.FilledQty)
	assert.Equal(t, 100.5, *updated.AvgFillPrice)
	assert.Equal(t, "SIM-"+exec.ID[:8], updated.BrokerOrderID)
}

func TestRecordFill_UnknownExecution(t *testing.T) {
	sim, _ := setupSimulator(t)

	_, err := sim.RecordFill(context.Background(), "no-such-id", 1, 100, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
