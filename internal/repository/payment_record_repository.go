package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mockmate/creditgate/internal/models"
)

var (
	// ErrDuplicateRecord means a record with this transaction_id already
	// exists. The primary key on transaction_id is the idempotency
	// guarantee across server instances.
	ErrDuplicateRecord = errors.New("payment record already exists")

	// ErrRecordNotFound means no record carries the given transaction_id.
	ErrRecordNotFound = errors.New("payment record not found")
)

const uniqueViolation = "23505"

type PaymentRecordRepository struct {
	db *sql.DB
}

func NewPaymentRecordRepository(db *sql.DB) *PaymentRecordRepository {
	return &PaymentRecordRepository{db: db}
}

func (r *PaymentRecordRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS payment_records (
			transaction_id VARCHAR(128) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			expected_amount BIGINT NOT NULL,
			token VARCHAR(64) NOT NULL,
			recipient VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_user_status ON payment_records(user_id, status)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func (r *PaymentRecordRepository) InsertPending(ctx context.Context, record *models.PaymentRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_records (transaction_id, user_id, expected_amount, token, recipient, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, record.TransactionID, record.UserID, record.ExpectedAmount, record.Token, record.Recipient, models.StatusPending)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateRecord, record.TransactionID)
		}
		return err
	}
	return nil
}

// UpdateStatus moves a pending record to a terminal status. Records already
// confirmed or failed are never touched; the returned row count tells the
// caller whether the transition happened.
func (r *PaymentRecordRepository) UpdateStatus(ctx context.Context, transactionID string, status models.PaymentStatus) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_records
		SET status = $1, updated_at = NOW()
		WHERE transaction_id = $2 AND status = $3
	`, status, transactionID, models.StatusPending)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *PaymentRecordRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT transaction_id, user_id, expected_amount, token, recipient, status, created_at, updated_at
		FROM payment_records WHERE transaction_id = $1
	`, transactionID).Scan(
		&record.TransactionID, &record.UserID, &record.ExpectedAmount,
		&record.Token, &record.Recipient, &record.Status,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetPendingByUser returns the user's pending records created within the
// lookback window, newest first.
func (r *PaymentRecordRepository) GetPendingByUser(ctx context.Context, userID string, since time.Duration) ([]*models.PaymentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT transaction_id, user_id, expected_amount, token, recipient, status, created_at, updated_at
		FROM payment_records
		WHERE user_id = $1 AND status = $2 AND created_at > $3
		ORDER BY created_at DESC
	`, userID, models.StatusPending, time.Now().Add(-since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.PaymentRecord
	for rows.Next() {
		var record models.PaymentRecord
		if err := rows.Scan(
			&record.TransactionID, &record.UserID, &record.ExpectedAmount,
			&record.Token, &record.Recipient, &record.Status,
			&record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// RebindTransactionID replaces a placeholder transaction id with the real
// on-chain signature once the client has returned one.
func (r *PaymentRecordRepository) RebindTransactionID(ctx context.Context, oldID, newID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_records
		SET transaction_id = $1, updated_at = NOW()
		WHERE transaction_id = $2 AND status = $3
	`, newID, oldID, models.StatusPending)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateRecord, newID)
		}
		return 0, err
	}
	return result.RowsAffected()
}
