package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"copytrade-backend-go/internal/fills"
	"copytrade-backend-go/internal/models"
	"copytrade-backend-go/internal/settlement"
	"copytrade-backend-go/internal/store"
	"copytrade-backend-go/internal/token"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultListLimit = 50

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log        *zap.Logger
	tokens     *token.Manager
	settle     *settlement.Engine
	sim        *fills.Simulator
	signals    *store.SignalStore
	executions *store.ExecutionStore
	orders     *store.OrderStore
	ledger     *store.LedgerStore
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps core sentinel errors onto HTTP status codes:
// validation 400, ownership/not-found 404, exchange failures 502,
// everything else (store trouble included) 500.
func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, settlement.ErrValidation),
		errors.Is(err, fills.ErrValidation),
		errors.Is(err, token.ErrEmptyAccessToken):
		status = http.StatusBadRequest
	case errors.Is(err, settlement.ErrNotFoundOrNotOwner),
		errors.Is(err, token.ErrNoCredential),
		errors.Is(err, store.ErrNoMatch),
		errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, token.ErrNoRefreshToken),
		errors.Is(err, token.ErrExchangeUnconfigured),
		errors.Is(err, token.ErrRefreshRejected):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	if status >= 500 {
		h.log.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > 200 {
		limit = 200
	}
	return limit
}

// PasswordLoginHandler creates a mock password-flow session for a user.
func (h *APIHandler) PasswordLoginHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID       string   `json:"user_id"`
		Username     string   `json:"username"`
		Password     string   `json:"password"`
		AccountIDs   []string `json:"account_ids"`
		ExpiresInSec int      `json:"expires_in_sec"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.UserID == "" || body.Username == "" || body.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id, username and password are required"})
		return
	}

	cred, err := h.tokens.Issue(r.Context(), token.IssueParams{
		UserID:      body.UserID,
		Provider:    models.ProviderPassword,
		AccessToken: "MOCK-" + uuid.NewString(),
		TTLSeconds:  body.ExpiresInSec,
		AccountIDs:  body.AccountIDs,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "connection": cred})
}

// TokenIntakeHandler stores an externally obtained oauth token.
func (h *APIHandler) TokenIntakeHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID       string   `json:"user_id"`
		AccessToken  string   `json:"access_token"`
		RefreshToken string   `json:"refresh_token"`
		ExpiresInSec int      `json:"expires_in_sec"`
		Scopes       []string `json:"scopes"`
		AccountIDs   []string `json:"account_ids"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	cred, err := h.tokens.Issue(r.Context(), token.IssueParams{
		UserID:       body.UserID,
		Provider:     models.ProviderOAuth,
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		TTLSeconds:   body.ExpiresInSec,
		Scopes:       body.Scopes,
		AccountIDs:   body.AccountIDs,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "connection": cred})
}

// ValidTokenHandler returns a usable access token for a user, refreshing
// a near-expiry oauth credential first.
func (h *APIHandler) ValidTokenHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	accessToken, err := h.tokens.GetValidToken(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": accessToken})
}

// CreateSignalHandler records a new OPEN trading signal.
func (h *APIHandler) CreateSignalHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID     string   `json:"user_id"`
		Symbol     string   `json:"symbol"`
		Side       string   `json:"side"`
		Qty        float64  `json:"qty"`
		Price      float64  `json:"price"`
		Strategy   string   `json:"strategy"`
		Confidence *float64 `json:"confidence"`
		Notes      string   `json:"notes"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	sig, err := h.settle.Open(r.Context(), settlement.OpenParams{
		UserID:     body.UserID,
		Symbol:     body.Symbol,
		Side:       body.Side,
		Qty:        body.Qty,
		EntryPrice: body.Price,
		Strategy:   body.Strategy,
		Confidence: body.Confidence,
		Notes:      body.Notes,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sig)
}

// ListSignalsHandler returns recent signals, newest first.
func (h *APIHandler) ListSignalsHandler(w http.ResponseWriter, r *http.Request) {
	sigs, err := h.signals.Recent(r.Context(), r.URL.Query().Get("user_id"), limitParam(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sigs)
}

// CloseSignalHandler performs the OPEN→CLOSED transition and books
// realized P&L when a close price is given. A ledger failure is attached
// as a warning, never a close failure.
func (h *APIHandler) CloseSignalHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID     string   `json:"user_id"`
		ClosePrice *float64 `json:"close_price"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := h.settle.Close(r.Context(), r.PathValue("id"), body.UserID, body.ClosePrice)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := map[string]interface{}{"signal": result.Signal}
	if result.Ledger != nil {
		resp["ledger"] = result.Ledger
	}
	if result.LedgerErr != nil {
		resp["ledger_warning"] = result.LedgerErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateExecutionHandler records a PENDING execution request.
func (h *APIHandler) CreateExecutionHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FollowerID string  `json:"follower_id"`
		SignalID   string  `json:"signal_id"`
		Symbol     string  `json:"symbol"`
		Side       string  `json:"side"`
		Qty        float64 `json:"qty"`
		Price      float64 `json:"price"`
		TradeRef   string  `json:"trade_ref"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	exec, err := h.sim.Submit(r.Context(), fills.SubmitParams{
		FollowerID: body.FollowerID,
		SignalID:   body.SignalID,
		Symbol:     body.Symbol,
		Side:       body.Side,
		Qty:        body.Qty,
		Price:      body.Price,
		TradeRef:   body.TradeRef,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exec)
}

// ListExecutionsHandler returns a follower's recent executions.
func (h *APIHandler) ListExecutionsHandler(w http.ResponseWriter, r *http.Request) {
	execs, err := h.executions.Recent(r.Context(), r.PathValue("followerId"), limitParam(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

// FillExecutionHandler records explicit fill details on an execution.
func (h *APIHandler) FillExecutionHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FilledQty    *float64 `json:"filled_qty"`
		AvgFillPrice *float64 `json:"avg_fill_price"`
		Status       string   `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.FilledQty == nil || body.AvgFillPrice == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "filled_qty and avg_fill_price are required"})
		return
	}

	exec, err := h.sim.RecordFill(r.Context(), r.PathValue("id"), *body.FilledQty, *body.AvgFillPrice, body.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// AutofillHandler fills pending executions for a follower.
func (h *APIHandler) AutofillHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FollowerID string  `json:"follower_id"`
		FillAll    bool    `json:"fill_all"`
		Slippage   float64 `json:"slippage"`
		Status     string  `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	filled, err := h.sim.Autofill(r.Context(), body.FollowerID, fills.AutofillOptions{
		FillAll:  body.FillAll,
		Slippage: body.Slippage,
		Status:   body.Status,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "filled": len(filled), "rows": filled})
}

// CreateOrderHandler records a NEW broker order.
func (h *APIHandler) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID   string   `json:"user_id"`
		SignalID string   `json:"signal_id"`
		Symbol   string   `json:"symbol"`
		Side     string   `json:"side"`
		Qty      float64  `json:"qty"`
		Price    *float64 `json:"price"`
		Provider string   `json:"provider"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.UserID == "" || body.Symbol == "" || !(body.Qty > 0) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id, symbol and positive qty are required"})
		return
	}
	side := strings.ToUpper(strings.TrimSpace(body.Side))
	if side != models.SideBuy && side != models.SideSell {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "side must be BUY or SELL"})
		return
	}
	provider := body.Provider
	if provider == "" {
		provider = "mock"
	}

	order := &models.Order{
		UserID:   body.UserID,
		SignalID: body.SignalID,
		Symbol:   body.Symbol,
		Side:     side,
		Qty:      body.Qty,
		Price:    body.Price,
		Provider: provider,
		Status:   models.OrderStatusNew,
	}
	if err := h.orders.Create(r.Context(), order); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// ListOrdersHandler returns recent orders, optionally for one user.
func (h *APIHandler) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.Recent(r.Context(), r.URL.Query().Get("user_id"), limitParam(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelOrderHandler cancels a NEW order owned by the caller.
func (h *APIHandler) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	order, err := h.orders.CancelIfNew(r.Context(), r.PathValue("id"), body.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// LedgerHandler lists a user's ledger entries.
func (h *APIHandler) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}
	entries, err := h.ledger.ForUser(r.Context(), userID, 100)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// LedgerSummaryHandler returns a user's total realized P&L.
func (h *APIHandler) LedgerSummaryHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}
	total, err := h.ledger.RealizedTotal(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "realized_pnl": total})
}

// HealthHandler reports liveness.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}
