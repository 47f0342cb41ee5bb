package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/roach88/courier/internal/ir"
)

// SQL implements Ledger on a database/sql connection.
// It keeps its own accounts table and is normally opened on the same SQLite
// file as the message store, so it can Join the store's transactions.
type SQL struct {
	q Execer
}

// NewSQL wraps db. Call Init before first use on a fresh database.
func NewSQL(db *sql.DB) *SQL {
	return &SQL{q: db}
}

// Join implements Joiner. q must reach the database the ledger was
// initialized on.
func (l *SQL) Join(q Execer) Ledger {
	return &SQL{q: q}
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	account  TEXT PRIMARY KEY,
	free     INTEGER NOT NULL DEFAULT 0 CHECK (free >= 0),
	reserved INTEGER NOT NULL DEFAULT 0 CHECK (reserved >= 0)
);
`

// Init creates the accounts table if it does not exist.
func (l *SQL) Init(ctx context.Context) error {
	if _, err := l.q.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	return nil
}

// Credit adds amount to the free balance of account, creating it if needed.
func (l *SQL) Credit(ctx context.Context, account ir.Account, amount ir.Balance) error {
	if err := checkRange(amount); err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	_, err := l.q.ExecContext(ctx, `
		INSERT INTO accounts (account, free) VALUES (?, ?)
		ON CONFLICT(account) DO UPDATE SET free = free + excluded.free
	`, string(account), int64(amount))
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return nil
}

// Reserve moves amount from free to reserved.
func (l *SQL) Reserve(ctx context.Context, account ir.Account, amount ir.Balance) error {
	if err := checkRange(amount); err != nil {
		return fmt.Errorf("reserve %s: %w", account, err)
	}
	if amount == 0 {
		return nil
	}
	res, err := l.q.ExecContext(ctx, `
		UPDATE accounts
		SET free = free - ?, reserved = reserved + ?
		WHERE account = ? AND free >= ?
	`, int64(amount), int64(amount), string(account), int64(amount))
	if err != nil {
		return fmt.Errorf("reserve %s: %w", account, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve %s: %w", account, err)
	}
	if n == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// Release moves amount from reserved back to free.
func (l *SQL) Release(ctx context.Context, account ir.Account, amount ir.Balance) error {
	if err := checkRange(amount); err != nil {
		return fmt.Errorf("release %s: %w", account, err)
	}
	if amount == 0 {
		return nil
	}
	res, err := l.q.ExecContext(ctx, `
		UPDATE accounts
		SET free = free + ?, reserved = reserved - ?
		WHERE account = ? AND reserved >= ?
	`, int64(amount), int64(amount), string(account), int64(amount))
	if err != nil {
		return fmt.Errorf("release %s: %w", account, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release %s: %w", account, err)
	}
	if n == 0 {
		return fmt.Errorf("release %s: %w", account, ErrOverRelease)
	}
	return nil
}

// Settle removes amount from the reserved balance of account.
func (l *SQL) Settle(ctx context.Context, account ir.Account, amount ir.Balance) error {
	if err := checkRange(amount); err != nil {
		return fmt.Errorf("settle %s: %w", account, err)
	}
	if amount == 0 {
		return nil
	}
	res, err := l.q.ExecContext(ctx, `
		UPDATE accounts
		SET reserved = reserved - ?
		WHERE account = ? AND reserved >= ?
	`, int64(amount), string(account), int64(amount))
	if err != nil {
		return fmt.Errorf("settle %s: %w", account, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("settle %s: %w", account, err)
	}
	if n == 0 {
		return fmt.Errorf("settle %s: %w", account, ErrOverRelease)
	}
	return nil
}

// Balance returns the funds of account. Unknown accounts have zero funds.
func (l *SQL) Balance(ctx context.Context, account ir.Account) (Funds, error) {
	var free, reserved int64
	err := l.q.QueryRowContext(ctx,
		`SELECT free, reserved FROM accounts WHERE account = ?`, string(account),
	).Scan(&free, &reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return Funds{}, nil
	}
	if err != nil {
		return Funds{}, fmt.Errorf("balance %s: %w", account, err)
	}
	return Funds{Free: ir.Balance(free), Reserved: ir.Balance(reserved)}, nil
}

// SQLite integers are signed, so amounts are capped at MaxInt64.
func checkRange(amount ir.Balance) error {
	if amount > math.MaxInt64 {
		return ErrAmountTooLarge
	}
	return nil
}
