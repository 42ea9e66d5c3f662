// Package chain confirms Solana transactions through the primary RPC
// endpoint. Confirmation is a bounded sequential poll of signature status
// followed by a fetch of the full transaction to inspect its execution
// result.
package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/mockmate/creditgate/internal/telemetry"
	"github.com/mockmate/creditgate/internal/x402"
)

const (
	// Signatures outside these bounds are rejected before any RPC call.
	minSignatureLen = 40
	maxSignatureLen = 100
)

// Verifier polls a Solana RPC endpoint for transaction confirmation.
type Verifier struct {
	client       *rpc.Client
	pollInterval time.Duration
	maxAttempts  int
}

// NewVerifier creates a Verifier against the given RPC endpoint.
func NewVerifier(rpcURL string, pollInterval time.Duration, maxAttempts int) *Verifier {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	return &Verifier{
		client:       rpc.New(rpcURL),
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
	}
}

// NewVerifierWithClient builds a Verifier around an existing RPC client.
func NewVerifierWithClient(client *rpc.Client, pollInterval time.Duration, maxAttempts int) *Verifier {
	v := NewVerifier("", pollInterval, maxAttempts)
	v.client = client
	return v
}

// Confirm waits for the transaction to reach confirmed or finalized
// commitment, then checks its execution result. Polling is strictly
// sequential to avoid bursts against the RPC endpoint.
func (v *Verifier) Confirm(ctx context.Context, transactionID string) error {
	if len(transactionID) < minSignatureLen || len(transactionID) > maxSignatureLen {
		return fmt.Errorf("%w: signature length %d outside [%d, %d]",
			x402.ErrInvalidFormat, len(transactionID), minSignatureLen, maxSignatureLen)
	}

	if v.client == nil {
		return ErrNotInitialized
	}

	sig, err := solana.SignatureFromBase58(transactionID)
	if err != nil {
		return fmt.Errorf("%w: signature is not valid base58", x402.ErrInvalidFormat)
	}

	confirmed := false
	for attempt := 1; attempt <= v.maxAttempts; attempt++ {
		status, err := v.signatureStatus(ctx, sig)
		if err != nil {
			if isNetworkError(err) {
				return fmt.Errorf("%w: %v", ErrNetwork, err)
			}
			return err
		}

		if status != nil {
			if status.Err != nil {
				telemetry.Logger.Warn("Transaction failed on chain",
					zap.String("transaction_id", transactionID),
					zap.Any("chain_error", status.Err),
					zap.Int("attempt", attempt),
				)
				return fmt.Errorf("%w: %v", ErrChainFailure, status.Err)
			}

			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				confirmed = true
				telemetry.Logger.Info("Transaction confirmed",
					zap.String("transaction_id", transactionID),
					zap.Int("attempts", attempt),
					zap.String("commitment", string(status.ConfirmationStatus)),
				)
				break
			}
		}

		if attempt == v.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(v.pollInterval):
		}
	}

	if !confirmed {
		return fmt.Errorf("%w: no confirmation after %d attempts", ErrTimeout, v.maxAttempts)
	}

	// The signature being confirmed does not mean the transaction
	// succeeded: a confirmed transaction can still have failed execution.
	return v.checkExecution(ctx, sig, transactionID)
}

func (v *Verifier) signatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	out, err := v.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

func (v *Verifier) checkExecution(ctx context.Context, sig solana.Signature, transactionID string) error {
	maxVersion := uint64(0)
	tx, err := v.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, transactionID)
		}
		if isNetworkError(err) {
			return fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		return fmt.Errorf("failed to fetch transaction: %w", err)
	}
	if tx == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, transactionID)
	}

	if tx.Meta != nil && tx.Meta.Err != nil {
		telemetry.Logger.Warn("Confirmed transaction has execution error",
			zap.String("transaction_id", transactionID),
			zap.Any("execution_error", tx.Meta.Err),
		)
		return fmt.Errorf("%w: %v", ErrChainFailure, tx.Meta.Err)
	}

	return nil
}

// isNetworkError reports whether err is a transport-level failure as opposed
// to a genuine chain-level answer.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}
