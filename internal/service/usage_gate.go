package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mockmate/creditgate/internal/interfaces"
	"github.com/mockmate/creditgate/internal/metrics"
	"github.com/mockmate/creditgate/internal/models"
	"github.com/mockmate/creditgate/internal/repository"
	"github.com/mockmate/creditgate/internal/telemetry"
	"github.com/mockmate/creditgate/internal/x402"
)

// challengeLookback bounds how far back the gate searches for the pending
// placeholder a payment is answering.
const challengeLookback = 30 * time.Minute

// Settler is the slice of the settlement coordinator the gate needs.
type Settler interface {
	Settle(ctx context.Context, userID, transactionID string, expectedAmount int64, usdAmount float64, token, recipient string) models.SettlementResult
}

// UsageGate decides whether a metered action may proceed. Affordable actions
// are debited and allowed; unaffordable ones produce a 402 payment
// challenge; requests carrying a payment proof are settled first.
type UsageGate struct {
	ledger  interfaces.CreditLedger
	records interfaces.PaymentRecordStore
	issuer  *x402.Issuer
	settler Settler
}

func NewUsageGate(ledger interfaces.CreditLedger, records interfaces.PaymentRecordStore, issuer *x402.Issuer, settler Settler) *UsageGate {
	return &UsageGate{
		ledger:  ledger,
		records: records,
		issuer:  issuer,
		settler: settler,
	}
}

// CheckUsage gates one action of the given credit cost.
//
// Anonymous callers (empty user id) are not metered at all: they get
// unlimited, unpersonalized usage and never touch the credit system.
func (g *UsageGate) CheckUsage(ctx context.Context, userID, action string, cost int64, proof *x402.PaymentPayload) (*models.UsageCheckResult, error) {
	if userID == "" {
		return &models.UsageCheckResult{Allowed: true, Remaining: -1, CreditsAvailable: -1}, nil
	}

	if proof != nil {
		return g.settleAndAllow(ctx, userID, action, cost, proof)
	}

	balance, err := g.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	if balance >= cost {
		err := g.ledger.Deduct(ctx, userID, cost)
		if err == nil {
			return &models.UsageCheckResult{
				Allowed:          true,
				Remaining:        balance - cost,
				CreditsAvailable: balance,
			}, nil
		}
		if !errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, fmt.Errorf("failed to deduct credits: %w", err)
		}
		// Lost a race with a concurrent deduction; fall through to the
		// challenge path with a fresh read.
		if balance, err = g.ledger.GetBalance(ctx, userID); err != nil {
			return nil, fmt.Errorf("failed to read balance: %w", err)
		}
	}

	return g.challenge(ctx, userID, action, cost, balance), nil
}

// settleAndAllow runs settlement for the attached proof. On success the
// action is allowed even if a stale balance read would say otherwise.
func (g *UsageGate) settleAndAllow(ctx context.Context, userID, action string, cost int64, proof *x402.PaymentPayload) (*models.UsageCheckResult, error) {
	transactionID, err := x402.ExtractSignature(proof.Payload)
	if err != nil {
		return nil, err
	}

	balance, err := g.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	expectedAmount, usd := g.challengedAmount(ctx, userID, cost, balance)

	result := g.settler.Settle(ctx, userID, transactionID, expectedAmount, usd, g.issuer.Asset(), g.issuer.Recipient())
	if !result.Success {
		required := g.issuer.IssueRequired(usd, challengeDescription(action, cost))
		required.Error = result.Error
		return &models.UsageCheckResult{
			Allowed:          false,
			Remaining:        balance,
			CreditsAvailable: balance,
			PaymentRequired:  required,
		}, nil
	}

	updated, err := g.ledger.GetBalance(ctx, userID)
	if err != nil {
		updated = balance + result.CreditsAdded
	}

	// The payment covered this action; a deduction failure here means a
	// stale read, not an unpaid action.
	remaining := updated
	if err := g.ledger.Deduct(ctx, userID, cost); err != nil {
		telemetry.Logger.Warn("Deduction after settlement failed",
			zap.String("user_id", userID),
			zap.Int64("cost", cost),
			zap.Error(err),
		)
	} else {
		remaining = updated - cost
	}

	return &models.UsageCheckResult{
		Allowed:          true,
		Remaining:        remaining,
		CreditsAvailable: updated,
	}, nil
}

// challengedAmount returns the amount a submitted payment is expected to
// carry. The pending placeholder written at challenge time is authoritative:
// the balance may have moved between challenge and payment, and a deficit
// recomputed from it would no longer match what the caller was told to pay.
func (g *UsageGate) challengedAmount(ctx context.Context, userID string, cost, balance int64) (int64, float64) {
	if record := g.latestPlaceholder(ctx, userID); record != nil && record.ExpectedAmount > 0 {
		return record.ExpectedAmount, x402.USDForAtomic(record.ExpectedAmount, g.issuer.AssetDecimals())
	}

	// No challenge on file. A proof sent while the balance already covers
	// the action settles as a minimum top-up.
	deficit := cost - balance
	if deficit < 0 {
		deficit = 0
	}
	usd := x402.TopUpUSD(deficit)
	return x402.AtomicAmount(usd, g.issuer.AssetDecimals()), usd
}

func (g *UsageGate) latestPlaceholder(ctx context.Context, userID string) *models.PaymentRecord {
	pending, err := g.records.GetPendingByUser(ctx, userID, challengeLookback)
	if err != nil {
		telemetry.Logger.Warn("Failed to look up pending challenges",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil
	}
	for _, record := range pending {
		if strings.HasPrefix(record.TransactionID, placeholderPrefix) {
			return record
		}
	}
	return nil
}

// challenge writes a pending placeholder record and builds the 402 payment
// requirements. The placeholder is written on every insufficient-balance
// check, completed or not, so abandoned challenges stay visible to
// reconciliation.
func (g *UsageGate) challenge(ctx context.Context, userID, action string, cost int64, balance int64) *models.UsageCheckResult {
	usd := x402.TopUpUSD(cost - balance)

	record := &models.PaymentRecord{
		TransactionID:  PlaceholderTransactionID(userID),
		UserID:         userID,
		ExpectedAmount: x402.AtomicAmount(usd, g.issuer.AssetDecimals()),
		Token:          g.issuer.Asset(),
		Recipient:      g.issuer.Recipient(),
	}
	if err := g.records.InsertPending(ctx, record); err != nil {
		telemetry.Logger.Error("Failed to write pending placeholder record",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	metrics.ChallengesIssuedTotal.Inc()
	telemetry.Logger.Info("Issued payment challenge",
		zap.String("user_id", userID),
		zap.String("action", action),
		zap.Int64("cost", cost),
		zap.Int64("balance", balance),
		zap.Float64("usd_amount", usd),
	)

	return &models.UsageCheckResult{
		Allowed:          false,
		Remaining:        balance,
		CreditsAvailable: balance,
		PaymentRequired:  g.issuer.IssueRequired(usd, challengeDescription(action, cost)),
	}
}

func challengeDescription(action string, cost int64) string {
	return fmt.Sprintf("Credit top-up for %s (%d credits)", action, cost)
}
