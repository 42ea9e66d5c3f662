package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance means a deduction would drive the balance
	// negative. The floor check runs inside the UPDATE itself.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount rejects zero or negative mutation amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

type CreditLedgerRepository struct {
	db *sql.DB
}

func NewCreditLedgerRepository(db *sql.DB) *CreditLedgerRepository {
	return &CreditLedgerRepository{db: db}
}

func (r *CreditLedgerRepository) InitDB() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS credit_balances (
			user_id VARCHAR(255) PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// GetBalance returns the user's credit count. Unknown users have zero.
func (r *CreditLedgerRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_balances WHERE user_id = $1`, userID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Add credits the user, creating the row on first sight.
func (r *CreditLedgerRepository) Add(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credit_balances (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = credit_balances.balance + $2, updated_at = NOW()
	`, userID, amount)
	return err
}

// Deduct debits the user in a single statement with the floor check done by
// the storage engine, so two concurrent deductions can never both succeed on
// the same credits.
func (r *CreditLedgerRepository) Deduct(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE credit_balances
		SET balance = balance - $2, updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2
	`, userID, amount)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInsufficientBalance
	}
	return nil
}
