package models

import "github.com/mockmate/creditgate/internal/x402"

// UsageCheckRequest is the body of POST /v1/usage/check.
type UsageCheckRequest struct {
	Action string `json:"action" binding:"required"`
	Cost   int64  `json:"cost" binding:"required"`
}

// UsageCheckResult tells the caller whether the requested action may proceed
// and, when it may not, what payment would unlock it.
type UsageCheckResult struct {
	Allowed          bool                  `json:"allowed"`
	Remaining        int64                 `json:"remaining"`
	CreditsAvailable int64                 `json:"credits_available"`
	PaymentRequired  *x402.PaymentRequired `json:"payment_required,omitempty"`
}
