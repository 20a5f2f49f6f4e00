package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bazaarhq/payments/internal/auth"
	"github.com/bazaarhq/payments/internal/config"
	"github.com/bazaarhq/payments/internal/events"
	"github.com/bazaarhq/payments/internal/handler"
	"github.com/bazaarhq/payments/internal/logging"
	"github.com/bazaarhq/payments/internal/middleware"
	"github.com/bazaarhq/payments/internal/notify"
	"github.com/bazaarhq/payments/internal/repository"
	"github.com/bazaarhq/payments/internal/service/intake"
	"github.com/bazaarhq/payments/internal/service/ledger"
	"github.com/bazaarhq/payments/internal/service/recon"
	"github.com/bazaarhq/payments/internal/service/statussync"
	"github.com/bazaarhq/payments/internal/service/visibility"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("payments-api", cfg.LogLevel, cfg.AppEnv)

	db, err := connectDB(cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv := buildServer(cfg, db)

	go func() {
		slog.Info("server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func buildServer(cfg *config.Config, db *sql.DB) *http.Server {
	accountRepo := repository.NewAccountRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	settlementRepo := repository.NewSettlementRepository(db)

	notifier := notify.NewHTTPDispatcher(cfg.NotifierURL, cfg.NotifierSecret)
	eventHandler := events.NopHandler{}

	ledgerSvc := ledger.NewService(accountRepo, ledgerRepo, db)
	linker := recon.NewLinker(settlementRepo)
	reconSvc := recon.NewService(attemptRepo, orderRepo, linker, db, notifier, eventHandler)
	intakeSvc := intake.NewService(attemptRepo, orderRepo, accountRepo, ledgerSvc, linker, db,
		cfg.AmountToleranceMinor, notifier, eventHandler)
	visibilitySvc := visibility.NewService(orderRepo)
	poller := statussync.NewPoller(reconSvc, cfg.PollInterval())

	paymentHandler := handler.NewPaymentHandler(intakeSvc, reconSvc, poller)
	walletHandler := handler.NewWalletHandler(ledgerSvc, accountRepo)
	orderHandler := handler.NewOrderHandler(visibilitySvc)
	healthHandler := handler.NewHealthHandler(db)

	authn := middleware.Auth(cfg.JWTSecret)
	reviewerOnly := middleware.RequireRole(auth.RoleReviewer)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /health/live", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /api/v1/payments", authn(http.HandlerFunc(paymentHandler.Submit)))
	mux.Handle("GET /api/v1/payments/{id}/status", authn(http.HandlerFunc(paymentHandler.Status)))
	mux.Handle("POST /api/v1/payments/{id}/decision", authn(reviewerOnly(http.HandlerFunc(paymentHandler.Decide))))
	mux.Handle("GET /api/v1/wallet/balance", authn(http.HandlerFunc(walletHandler.Balance)))
	mux.Handle("GET /api/v1/wallet/transactions", authn(http.HandlerFunc(walletHandler.Transactions)))
	mux.Handle("GET /api/v1/orders/{id}/visibility", authn(http.HandlerFunc(orderHandler.Visibility)))

	chain := middleware.Tracing(middleware.Logging(middleware.Metrics(middleware.Recovery(mux))))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           chain,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      75 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func connectDB(cfg *config.Config) (*sql.DB, error) {
	var lastErr error
	for i := range 30 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
			MaxOpenConns:     cfg.DBMaxOpenConns,
			MaxIdleConns:     cfg.DBMaxIdleConns,
			ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
			ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
		})
		cancel()
		if err == nil {
			return db, nil
		}
		lastErr = err
		slog.Info("waiting for database", "attempt", i+1)
		time.Sleep(time.Second)
	}
	return nil, fmt.Errorf("connectDB: gave up after 30 attempts: %w", lastErr)
}
