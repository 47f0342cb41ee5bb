// Package ledger holds the deposit accounts that back message storage.
//
// The engine reserves, releases and settles; it never reads balances to make
// decisions. Funding accounts is an operator concern (the CLI fund command
// and tests).
package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roach88/courier/internal/ir"
)

var (
	// ErrInsufficientFunds is returned by Reserve when free balance is short.
	ErrInsufficientFunds = errors.New("insufficient free balance")
	// ErrOverRelease is returned by Release when more is released than reserved.
	ErrOverRelease = errors.New("release exceeds reserved balance")
	// ErrAmountTooLarge is returned for amounts the backing store cannot hold.
	ErrAmountTooLarge = errors.New("amount exceeds ledger range")
)

// Ledger reserves and releases deposits against accounts.
//
// Settle consumes reserved funds: the amount leaves the account instead of
// returning to its free balance. Callback fees are paid this way.
type Ledger interface {
	Reserve(ctx context.Context, account ir.Account, amount ir.Balance) error
	Release(ctx context.Context, account ir.Account, amount ir.Balance) error
	Settle(ctx context.Context, account ir.Account, amount ir.Balance) error
	Balance(ctx context.Context, account ir.Account) (Funds, error)
}

// Execer is the part of *sql.DB and *sql.Tx the SQL ledger runs on.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Joiner is implemented by ledgers that can run inside a caller's database
// transaction. The returned Ledger commits and rolls back with q.
type Joiner interface {
	Join(q Execer) Ledger
}

// Funds is the balance of one account.
type Funds struct {
	Free     ir.Balance `json:"free"`
	Reserved ir.Balance `json:"reserved"`
}

// Total returns free plus reserved.
func (f Funds) Total() ir.Balance {
	return f.Free + f.Reserved
}
