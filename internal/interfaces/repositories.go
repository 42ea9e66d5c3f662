package interfaces

import (
	"context"
	"time"

	"github.com/mockmate/creditgate/internal/models"
)

// PaymentRecordStore defines the contract for payment record persistence.
type PaymentRecordStore interface {
	InsertPending(ctx context.Context, record *models.PaymentRecord) error
	UpdateStatus(ctx context.Context, transactionID string, status models.PaymentStatus) (int64, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error)
	GetPendingByUser(ctx context.Context, userID string, since time.Duration) ([]*models.PaymentRecord, error)
	RebindTransactionID(ctx context.Context, oldID, newID string) (int64, error)
}

// CreditLedger defines the contract for credit balance persistence.
type CreditLedger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	Add(ctx context.Context, userID string, amount int64) error
	Deduct(ctx context.Context, userID string, amount int64) error
}
