package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mockmate/creditgate/internal/chain"
	"github.com/mockmate/creditgate/internal/events"
	"github.com/mockmate/creditgate/internal/interfaces"
	"github.com/mockmate/creditgate/internal/metrics"
	"github.com/mockmate/creditgate/internal/models"
	"github.com/mockmate/creditgate/internal/telemetry"
	"github.com/mockmate/creditgate/internal/x402"
)

// ErrAlreadyProcessed means a confirmed payment record already exists for
// this transaction id. Each real transaction credits a user exactly once.
var ErrAlreadyProcessed = errors.New("already processed")

// ChainVerifier confirms a transaction on the primary RPC endpoint.
type ChainVerifier interface {
	Confirm(ctx context.Context, transactionID string) error
}

// CrossChecker corroborates a transaction through an independent indexer.
type CrossChecker interface {
	CrossCheck(ctx context.Context, transactionID, expectedRecipient, expectedToken string, expectedAmount, tolerance int64) models.VerificationResult
}

// placeholderPrefix marks synthetic transaction ids created when a challenge
// is issued, before the client has produced a real signature.
const placeholderPrefix = "pending_"

// PlaceholderTransactionID builds a synthetic transaction id for a challenge
// that has no on-chain signature yet.
func PlaceholderTransactionID(userID string) string {
	return fmt.Sprintf("%s%s_%d", placeholderPrefix, userID, time.Now().UnixNano())
}

// SettlementCoordinator drives one payment through chain confirmation,
// indexer corroboration, ledger crediting, and record keeping.
type SettlementCoordinator struct {
	records         interfaces.PaymentRecordStore
	ledger          interfaces.CreditLedger
	verifier        ChainVerifier
	crossChecker    CrossChecker
	lock            SettlementLock
	publisher       events.Publisher
	amountTolerance int64
	pendingLookback time.Duration
}

func NewSettlementCoordinator(
	records interfaces.PaymentRecordStore,
	ledger interfaces.CreditLedger,
	verifier ChainVerifier,
	crossChecker CrossChecker,
	lock SettlementLock,
	publisher events.Publisher,
	amountTolerance int64,
	pendingLookback time.Duration,
) *SettlementCoordinator {
	if pendingLookback <= 0 {
		pendingLookback = 30 * time.Minute
	}
	return &SettlementCoordinator{
		records:         records,
		ledger:          ledger,
		verifier:        verifier,
		crossChecker:    crossChecker,
		lock:            lock,
		publisher:       publisher,
		amountTolerance: amountTolerance,
		pendingLookback: pendingLookback,
	}
}

// Settle confirms the transaction and credits the user exactly once.
//
// A transport-level RPC failure does not block the payment: the client
// already verified the transaction before submitting it, and refusing every
// payment while the RPC endpoint is down was judged worse than trusting that
// signal. Such settlements are logged and published with trusted=true so
// they can be re-verified offline.
func (s *SettlementCoordinator) Settle(ctx context.Context, userID, transactionID string, expectedAmount int64, usdAmount float64, token, recipient string) models.SettlementResult {
	acquired, err := s.lock.Acquire(ctx, transactionID)
	if err != nil {
		// A dead lock backend should not freeze settlements; the
		// transaction_id primary key still prevents double crediting.
		telemetry.Logger.Warn("Settlement lock unavailable, proceeding without it",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
	} else if !acquired {
		return s.fail(transactionID, "settlement already in progress")
	} else {
		defer s.lock.Release(ctx, transactionID)
	}

	// Both terminal statuses block resubmission: a confirmed transaction
	// already credited, and a failed one stays failed even if it later
	// reaches confirmation on chain.
	if existing, err := s.records.GetByTransactionID(ctx, transactionID); err == nil {
		if existing.Status != models.StatusPending {
			telemetry.Logger.Warn("Replay attempt on settled transaction",
				zap.String("transaction_id", transactionID),
				zap.String("user_id", userID),
				zap.String("status", string(existing.Status)),
			)
			metrics.SettlementsTotal.WithLabelValues("replay").Inc()
			return s.fail(transactionID, ErrAlreadyProcessed.Error())
		}
	}

	trusted := false
	start := time.Now()
	if err := s.verifier.Confirm(ctx, transactionID); err != nil {
		switch {
		case errors.Is(err, x402.ErrInvalidFormat):
			metrics.SettlementsTotal.WithLabelValues("invalid_format").Inc()
			return s.fail(transactionID, err.Error())

		case errors.Is(err, chain.ErrNetwork):
			trusted = true
			telemetry.Logger.Warn("RPC unreachable, trusting client-side verification",
				zap.String("transaction_id", transactionID),
				zap.String("user_id", userID),
				zap.Error(err),
			)

		default:
			s.markStatus(ctx, userID, transactionID, expectedAmount, token, recipient, models.StatusFailed)
			metrics.SettlementsTotal.WithLabelValues("chain_failure").Inc()
			s.publish(ctx, userID, transactionID, usdAmount, 0, string(models.StatusFailed), false)
			return s.fail(transactionID, fmt.Sprintf("payment verification failed: %v", err))
		}
	}
	metrics.ConfirmationDuration.Observe(time.Since(start).Seconds())

	if !trusted {
		check := s.crossChecker.CrossCheck(ctx, transactionID, recipient, token, expectedAmount, s.amountTolerance)
		if !check.Success {
			s.markStatus(ctx, userID, transactionID, expectedAmount, token, recipient, models.StatusFailed)
			metrics.SettlementsTotal.WithLabelValues("mismatch").Inc()
			s.publish(ctx, userID, transactionID, usdAmount, 0, string(models.StatusFailed), false)
			return s.fail(transactionID, fmt.Sprintf("payment verification failed: %v", check.Err))
		}
	}

	credits := x402.CreditsForUSD(usdAmount)
	if err := s.creditWithRetry(ctx, userID, credits); err != nil {
		// Verified but not yet credited: leave the record pending so a
		// reconciliation pass can retry the write. The payment is owed.
		telemetry.Logger.Error("Credit write failed after verified payment",
			zap.String("transaction_id", transactionID),
			zap.String("user_id", userID),
			zap.Int64("credits", credits),
			zap.Error(err),
		)
		metrics.SettlementsTotal.WithLabelValues("storage_error").Inc()
		s.publish(ctx, userID, transactionID, usdAmount, 0, "credit_write_failed", trusted)
		return s.fail(transactionID, "storage error: payment verified, crediting deferred")
	}

	s.markStatus(ctx, userID, transactionID, expectedAmount, token, recipient, models.StatusConfirmed)

	metrics.SettlementsTotal.WithLabelValues("confirmed").Inc()
	metrics.CreditsGrantedTotal.Add(float64(credits))
	s.publish(ctx, userID, transactionID, usdAmount, credits, string(models.StatusConfirmed), trusted)

	telemetry.Logger.Info("Payment settled",
		zap.String("transaction_id", transactionID),
		zap.String("user_id", userID),
		zap.Int64("credits_added", credits),
		zap.Bool("trusted", trusted),
	)

	return models.SettlementResult{Success: true, CreditsAdded: credits}
}

func (s *SettlementCoordinator) creditWithRetry(ctx context.Context, userID string, credits int64) error {
	err := s.ledger.Add(ctx, userID, credits)
	if err == nil {
		return nil
	}
	telemetry.Logger.Warn("Credit write failed, retrying once",
		zap.String("user_id", userID),
		zap.Error(err),
	)
	return s.ledger.Add(ctx, userID, credits)
}

// markStatus moves the record for transactionID to the given terminal
// status. When no record carries the id yet, the user's most recent pending
// placeholder is rebound to it; when no placeholder exists either, a record
// is synthesized. Every settlement attempt leaves a durable trace.
func (s *SettlementCoordinator) markStatus(ctx context.Context, userID, transactionID string, expectedAmount int64, token, recipient string, status models.PaymentStatus) {
	rows, err := s.records.UpdateStatus(ctx, transactionID, status)
	if err != nil {
		telemetry.Logger.Error("Failed to update payment record",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return
	}
	if rows > 0 {
		return
	}

	if s.rebindPlaceholder(ctx, userID, transactionID) {
		if rows, err = s.records.UpdateStatus(ctx, transactionID, status); err == nil && rows > 0 {
			return
		}
	}

	record := &models.PaymentRecord{
		TransactionID:  transactionID,
		UserID:         userID,
		ExpectedAmount: expectedAmount,
		Token:          token,
		Recipient:      recipient,
	}
	if err := s.records.InsertPending(ctx, record); err != nil {
		telemetry.Logger.Error("Failed to synthesize payment record",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return
	}
	if _, err := s.records.UpdateStatus(ctx, transactionID, status); err != nil {
		telemetry.Logger.Error("Failed to update synthesized payment record",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
	}
}

func (s *SettlementCoordinator) rebindPlaceholder(ctx context.Context, userID, transactionID string) bool {
	pending, err := s.records.GetPendingByUser(ctx, userID, s.pendingLookback)
	if err != nil {
		telemetry.Logger.Error("Failed to look up pending placeholders",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false
	}

	for _, record := range pending {
		if !strings.HasPrefix(record.TransactionID, placeholderPrefix) {
			continue
		}
		rows, err := s.records.RebindTransactionID(ctx, record.TransactionID, transactionID)
		if err != nil {
			telemetry.Logger.Error("Failed to rebind placeholder record",
				zap.String("placeholder_id", record.TransactionID),
				zap.String("transaction_id", transactionID),
				zap.Error(err),
			)
			return false
		}
		if rows > 0 {
			telemetry.Logger.Info("Rebound placeholder record to real signature",
				zap.String("placeholder_id", record.TransactionID),
				zap.String("transaction_id", transactionID),
			)
			return true
		}
	}
	return false
}

func (s *SettlementCoordinator) publish(ctx context.Context, userID, transactionID string, usdAmount float64, credits int64, status string, trusted bool) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishSettlement(ctx, models.SettlementEvent{
		TransactionID: transactionID,
		UserID:        userID,
		USDAmount:     usdAmount,
		CreditsAdded:  credits,
		Status:        status,
		Trusted:       trusted,
	})
}

func (s *SettlementCoordinator) fail(transactionID, message string) models.SettlementResult {
	telemetry.Logger.Info("Settlement rejected",
		zap.String("transaction_id", transactionID),
		zap.String("reason", message),
	)
	return models.SettlementResult{Success: false, Error: message}
}
