package models

import "time"

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusConfirmed PaymentStatus = "confirmed"
	StatusFailed    PaymentStatus = "failed"
)

// PaymentRecord is the durable trace of a payment attempt. Records are never
// deleted; they form the audit trail for reconciliation.
type PaymentRecord struct {
	TransactionID  string        `json:"transaction_id"`
	UserID         string        `json:"user_id"`
	ExpectedAmount int64         `json:"expected_amount"` // atomic token units
	Token          string        `json:"token"`
	Recipient      string        `json:"recipient"`
	Status         PaymentStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// CreditBalance is a user's current credit count.
type CreditBalance struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VerificationResult is the composite outcome of the on-chain confirmation
// plus the indexer cross-check.
type VerificationResult struct {
	Success        bool
	RecipientMatch bool
	TokenMatch     bool
	AmountMatch    bool
	ActualAmount   int64
	ExpectedAmount int64
	Err            error
}

// SettlementResult is returned by the settlement coordinator.
type SettlementResult struct {
	Success      bool   `json:"success"`
	CreditsAdded int64  `json:"credits_added,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SettlementEvent is published to Kafka after every terminal settlement.
type SettlementEvent struct {
	EventID       string    `json:"event_id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	USDAmount     float64   `json:"usd_amount"`
	CreditsAdded  int64     `json:"credits_added"`
	Status        string    `json:"status"`
	Trusted       bool      `json:"trusted"`
	Timestamp     time.Time `json:"timestamp"`
}
