package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"copytrade-backend-go/internal/config"
	"copytrade-backend-go/internal/database"
	"copytrade-backend-go/internal/fills"
	"copytrade-backend-go/internal/logger"
	"copytrade-backend-go/internal/settlement"
	"copytrade-backend-go/internal/store"
	"copytrade-backend-go/internal/token"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Connect to the database
	db, err := database.New(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Stores
	credentials := store.NewCredentialStore(db)
	signals := store.NewSignalStore(db)
	ledger := store.NewLedgerStore(db)
	executions := store.NewExecutionStore(db)
	orders := store.NewOrderStore(db)

	// Core components
	exchange := token.NewExchangeClient(&cfg.Broker, log.Named("exchange"))
	refreshTimeout := time.Duration(cfg.Broker.RefreshTimeoutSec) * time.Second
	tokens := token.NewManager(credentials, exchange, log.Named("tokens"), refreshTimeout)
	settle := settlement.NewEngine(signals, ledger, log.Named("settlement"))
	sim := fills.NewSimulator(executions, log.Named("fills"))

	h := &APIHandler{
		log:        log,
		tokens:     tokens,
		settle:     settle,
		sim:        sim,
		signals:    signals,
		executions: executions,
		orders:     orders,
		ledger:     ledger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/password", h.PasswordLoginHandler)
	mux.HandleFunc("POST /auth/token-intake", h.TokenIntakeHandler)
	mux.HandleFunc("GET /auth/token/{userId}", h.ValidTokenHandler)
	mux.HandleFunc("POST /signals", h.CreateSignalHandler)
	mux.HandleFunc("GET /signals", h.ListSignalsHandler)
	mux.HandleFunc("POST /signals/{id}/close", h.CloseSignalHandler)
	mux.HandleFunc("POST /executions", h.CreateExecutionHandler)
	mux.HandleFunc("GET /executions/{followerId}", h.ListExecutionsHandler)
	mux.HandleFunc("PATCH /executions/{id}/fill", h.FillExecutionHandler)
	mux.HandleFunc("POST /dev/autofill", h.AutofillHandler)
	mux.HandleFunc("POST /orders", h.CreateOrderHandler)
	mux.HandleFunc("GET /orders", h.ListOrdersHandler)
	mux.HandleFunc("PATCH /orders/{id}/cancel", h.CancelOrderHandler)
	mux.HandleFunc("GET /ledger", h.LedgerHandler)
	mux.HandleFunc("GET /ledger/summary", h.LedgerSummaryHandler)
	mux.HandleFunc("GET /health", h.HealthHandler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	log.Info("Starting server", zap.String("address", addr))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal("Server failed", zap.Error(err))
	}

	log.Info("Server has been shut down.")
}
