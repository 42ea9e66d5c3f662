package chain

import "errors"

var (
	// ErrNotInitialized means the verifier has no RPC client to talk to.
	ErrNotInitialized = errors.New("verifier not initialized")

	// ErrNotFound means the transaction never appeared on chain.
	ErrNotFound = errors.New("transaction not found on chain")

	// ErrChainFailure means the transaction reached the chain but its
	// execution failed. Terminal for that transaction.
	ErrChainFailure = errors.New("on-chain execution failed")

	// ErrTimeout means confirmation was not reached within the attempt
	// budget. Terminal for this attempt.
	ErrTimeout = errors.New("confirmation timed out")

	// ErrNetwork marks transport-level failures (connection refused, DNS,
	// request timeouts). Distinguished from chain failures because the
	// settlement coordinator applies a trust fallback on these.
	ErrNetwork = errors.New("rpc endpoint unreachable")
)
