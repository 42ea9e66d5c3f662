// Package x402 implements the server side of the HTTP 402 payment-challenge
// protocol: building machine-readable payment requirements for 402 responses
// and decoding the X-PAYMENT retry header.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	// Version is the x402 protocol version this service speaks.
	Version = 1

	// SchemeExact requires the payment amount to match exactly.
	SchemeExact = "exact"
)

// PaymentRequirements describes one way a caller can satisfy a 402 challenge.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	PayTo             string                 `json:"payTo"`
	Asset             string                 `json:"asset"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequired is the body of a 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// PaymentPayload is the decoded X-PAYMENT header a caller attaches when
// retrying after a 402.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     PaymentProof `json:"payload"`
}

// PaymentProof carries the signed transaction produced client-side. The
// transaction itself is opaque to this service beyond signature extraction.
type PaymentProof struct {
	SerializedTransaction string `json:"serializedTransaction,omitempty"`
	Signature             string `json:"signature,omitempty"`
}

// DecodePaymentHeader decodes a base64-encoded X-PAYMENT header value.
func DecodePaymentHeader(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("%w: payment header is not valid base64", ErrInvalidFormat)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: payment header is not valid JSON", ErrInvalidFormat)
	}

	if payload.Payload.SerializedTransaction == "" && payload.Payload.Signature == "" {
		return nil, fmt.Errorf("%w: payment payload carries no transaction", ErrInvalidFormat)
	}

	return &payload, nil
}

// EncodePaymentHeader is the inverse of DecodePaymentHeader. Used by tests
// and by clients of this package.
func EncodePaymentHeader(payload *PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
