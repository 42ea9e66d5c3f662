package x402

import "errors"

// ErrInvalidFormat marks malformed payment headers and transaction ids.
// It is always raised before any network call.
var ErrInvalidFormat = errors.New("invalid format")
