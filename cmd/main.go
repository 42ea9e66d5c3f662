package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mockmate/creditgate/internal/api"
	"github.com/mockmate/creditgate/internal/chain"
	"github.com/mockmate/creditgate/internal/config"
	"github.com/mockmate/creditgate/internal/events"
	"github.com/mockmate/creditgate/internal/indexer"
	"github.com/mockmate/creditgate/internal/repository"
	"github.com/mockmate/creditgate/internal/service"
	"github.com/mockmate/creditgate/internal/telemetry"
	"github.com/mockmate/creditgate/internal/x402"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize telemetry
	if err := telemetry.InitTelemetry("creditgate", cfg.JaegerEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting creditgate")

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize repositories
	records := repository.NewPaymentRecordRepository(db)
	if err := records.InitDB(); err != nil {
		telemetry.Logger.Fatal("Failed to initialize payment records table", zap.Error(err))
	}
	ledger := repository.NewCreditLedgerRepository(db)
	if err := ledger.InitDB(); err != nil {
		telemetry.Logger.Fatal("Failed to initialize credit balances table", zap.Error(err))
	}

	// Connect to Redis for the distributed settlement lock
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
	lock := service.NewRedisSettlementLock(redisClient, 2*time.Minute)

	// Kafka audit stream
	publisher := events.NewKafkaPublisher(cfg.KafkaBrokers)
	defer publisher.Close()

	// Verification collaborators
	verifier := chain.NewVerifier(cfg.SolanaRPCURL, cfg.ConfirmPollInterval, cfg.ConfirmMaxAttempts)
	crossChecker := indexer.NewCrossChecker(cfg.IndexerURL, cfg.IndexerKey, cfg.TokenDecimals, 10*time.Second)

	// Challenge issuer and settlement coordinator
	issuer := x402.NewIssuer(cfg.Network, cfg.TokenMint, cfg.TokenDecimals, cfg.PaymentWallet, cfg.ChallengeTimeoutSeconds)
	coordinator := service.NewSettlementCoordinator(
		records, ledger, verifier, crossChecker, lock, publisher,
		cfg.AmountTolerance, 30*time.Minute,
	)
	gate := service.NewUsageGate(ledger, records, issuer, coordinator)

	// Setup router and HTTP server
	r := api.NewRouter(gate, ledger, records)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("creditgate starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}
