// Package indexer corroborates settled payments against an independent
// block-explorer API. The indexer is a secondary signal: when it is
// unreachable or inconclusive the check passes open, and only a conclusive
// disagreement blocks settlement.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mockmate/creditgate/internal/models"
	"github.com/mockmate/creditgate/internal/telemetry"
)

// ErrMismatch means the indexer's view of the transaction disagrees with
// what the challenge required. Terminal for that transaction.
var ErrMismatch = errors.New("indexer mismatch")

// tokenTransfer is one parsed transfer in an indexed transaction.
type tokenTransfer struct {
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
	Mint            string  `json:"mint"`
	TokenAmount     float64 `json:"tokenAmount"`
}

// indexedTransaction is the subset of the indexer's transaction schema this
// service reads.
type indexedTransaction struct {
	Signature      string          `json:"signature"`
	TokenTransfers []tokenTransfer `json:"tokenTransfers"`
	TransactionErr interface{}     `json:"transactionError"`
}

// CrossChecker queries the block-explorer API for independent confirmation
// of recipient, token mint, and amount.
type CrossChecker struct {
	baseURL       string
	apiKey        string
	client        *http.Client
	tokenDecimals int
}

// NewCrossChecker creates a CrossChecker for the given indexer endpoint.
func NewCrossChecker(baseURL, apiKey string, tokenDecimals int, timeout time.Duration) *CrossChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CrossChecker{
		baseURL:       baseURL,
		apiKey:        apiKey,
		client:        &http.Client{Timeout: timeout},
		tokenDecimals: tokenDecimals,
	}
}

// CrossCheck looks up the transaction through the indexer and matches the
// recipient, mint, and amount within the tolerance band (atomic units).
//
// Availability policy: any failure to obtain a conclusive answer leaves the
// match fields true and logs the gap. Only an indexed transfer that
// conclusively disagrees produces a mismatch.
func (c *CrossChecker) CrossCheck(ctx context.Context, transactionID, expectedRecipient, expectedToken string, expectedAmount, tolerance int64) models.VerificationResult {
	result := models.VerificationResult{
		Success:        true,
		RecipientMatch: true,
		TokenMatch:     true,
		AmountMatch:    true,
		ExpectedAmount: expectedAmount,
	}

	tx, err := c.fetchTransaction(ctx, transactionID)
	if err != nil {
		telemetry.Logger.Warn("Indexer unavailable, skipping cross-check",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return result
	}
	if tx == nil || len(tx.TokenTransfers) == 0 {
		telemetry.Logger.Warn("Indexer returned no token transfers, skipping cross-check",
			zap.String("transaction_id", transactionID),
		)
		return result
	}

	// Find the transfer to our recipient for the expected mint. Other
	// transfers in the same transaction (fee routing etc.) are ignored.
	var matched *tokenTransfer
	for i := range tx.TokenTransfers {
		t := &tx.TokenTransfers[i]
		if t.ToUserAccount == expectedRecipient && t.Mint == expectedToken {
			matched = t
			break
		}
	}

	if matched == nil {
		// A transfer exists but not to our recipient with our token.
		// Determine which dimension disagrees for the audit log.
		result.RecipientMatch = false
		result.TokenMatch = false
		for _, t := range tx.TokenTransfers {
			if t.ToUserAccount == expectedRecipient {
				result.RecipientMatch = true
			}
			if t.Mint == expectedToken {
				result.TokenMatch = true
			}
		}
		result.Success = false
		result.Err = fmt.Errorf("%w: no transfer of %s to %s found", ErrMismatch, expectedToken, expectedRecipient)

		telemetry.Logger.Warn("Indexer cross-check mismatch",
			zap.String("transaction_id", transactionID),
			zap.Bool("recipient_match", result.RecipientMatch),
			zap.Bool("token_match", result.TokenMatch),
		)
		return result
	}

	actual := atomicFromUI(matched.TokenAmount, c.tokenDecimals)
	result.ActualAmount = actual

	diff := actual - expectedAmount
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		result.AmountMatch = false
		result.Success = false
		result.Err = fmt.Errorf("%w: amount %d outside tolerance of expected %d", ErrMismatch, actual, expectedAmount)

		telemetry.Logger.Warn("Indexer cross-check amount mismatch",
			zap.String("transaction_id", transactionID),
			zap.Int64("actual_amount", actual),
			zap.Int64("expected_amount", expectedAmount),
			zap.Int64("tolerance", tolerance),
		)
	}

	return result
}

func (c *CrossChecker) fetchTransaction(ctx context.Context, transactionID string) (*indexedTransaction, error) {
	url := fmt.Sprintf("%s/v0/transactions?signature=%s", c.baseURL, transactionID)
	if c.apiKey != "" {
		url += "&api-key=" + c.apiKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("indexer returned status %d", resp.StatusCode)
	}

	var txs []indexedTransaction
	if err := json.NewDecoder(resp.Body).Decode(&txs); err != nil {
		return nil, fmt.Errorf("failed to decode indexer response: %w", err)
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func atomicFromUI(uiAmount float64, decimals int) int64 {
	return int64(math.Round(uiAmount * math.Pow10(decimals)))
}
