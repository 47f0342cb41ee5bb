package ledger

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/courier/internal/ir"
)

type crediter interface {
	Ledger
	Credit(ctx context.Context, account ir.Account, amount ir.Balance) error
}

func newSQLLedger(t *testing.T) *SQL {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	l := NewSQL(db)
	require.NoError(t, l.Init(context.Background()))
	return l
}

func ledgers(t *testing.T) map[string]crediter {
	return map[string]crediter{
		"memory": NewMemory(),
		"sql":    newSQLLedger(t),
	}
}

func TestLedger_ReserveRelease(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, l.Credit(ctx, "alice", 1000))

			require.NoError(t, l.Reserve(ctx, "alice", 300))
			f, err := l.Balance(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, Funds{Free: 700, Reserved: 300}, f)

			require.NoError(t, l.Release(ctx, "alice", 300))
			f, err = l.Balance(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, Funds{Free: 1000}, f)
		})
	}
}

func TestLedger_InsufficientFunds(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, l.Credit(ctx, "bob", 50))

			err := l.Reserve(ctx, "bob", 51)
			assert.ErrorIs(t, err, ErrInsufficientFunds)

			// Unknown accounts have nothing to reserve.
			assert.ErrorIs(t, l.Reserve(ctx, "nobody", 1), ErrInsufficientFunds)

			f, err := l.Balance(ctx, "bob")
			require.NoError(t, err)
			assert.Equal(t, Funds{Free: 50}, f, "failed reserve must not move funds")
		})
	}
}

func TestLedger_OverRelease(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, l.Credit(ctx, "carol", 10))
			require.NoError(t, l.Reserve(ctx, "carol", 5))

			assert.ErrorIs(t, l.Release(ctx, "carol", 6), ErrOverRelease)
		})
	}
}

func TestLedger_Settle(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, l.Credit(ctx, "dave", 100))
			require.NoError(t, l.Reserve(ctx, "dave", 40))

			require.NoError(t, l.Settle(ctx, "dave", 25))
			f, err := l.Balance(ctx, "dave")
			require.NoError(t, err)
			assert.Equal(t, Funds{Free: 60, Reserved: 15}, f)

			assert.ErrorIs(t, l.Settle(ctx, "dave", 16), ErrOverRelease)
			require.NoError(t, l.Settle(ctx, "dave", 0))
		})
	}
}

func TestLedger_UnknownAccountBalance(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			f, err := l.Balance(context.Background(), "ghost")
			require.NoError(t, err)
			assert.Zero(t, f.Total())
		})
	}
}

func TestSQL_RejectsOutOfRangeAmount(t *testing.T) {
	l := newSQLLedger(t)
	err := l.Credit(context.Background(), "alice", ir.Balance(math.MaxInt64)+1)
	assert.ErrorIs(t, err, ErrAmountTooLarge)
}

func TestSQL_ReserveExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("UPDATE accounts").
		WithArgs(int64(10), int64(10), "alice", int64(10)).
		WillReturnError(errors.New("database is locked"))

	err = NewSQL(db).Reserve(context.Background(), "alice", 10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_JoinRollsBackWithTx(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	l := NewSQL(db)
	require.NoError(t, l.Init(ctx))
	require.NoError(t, l.Credit(ctx, "erin", 100))

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	joined := l.Join(tx)
	require.NoError(t, joined.Reserve(ctx, "erin", 30))

	f, err := joined.Balance(ctx, "erin")
	require.NoError(t, err)
	assert.Equal(t, Funds{Free: 70, Reserved: 30}, f, "joined ledger sees its own writes")

	require.NoError(t, tx.Rollback())

	f, err = l.Balance(ctx, "erin")
	require.NoError(t, err)
	assert.Equal(t, Funds{Free: 100}, f)
}

func TestSQL_SettleExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("UPDATE accounts").
		WithArgs(int64(5), "alice", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewSQL(db).Settle(context.Background(), "alice", 5)
	assert.ErrorIs(t, err, ErrOverRelease)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemory_Settled(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Credit(ctx, "a", 10))
	require.NoError(t, m.Reserve(ctx, "a", 10))
	require.NoError(t, m.Settle(ctx, "a", 4))

	assert.Equal(t, ir.Balance(4), m.Settled())
	assert.Equal(t, ir.Balance(6), m.TotalReserved())
}

func TestMemory_TotalReserved(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Credit(ctx, "a", 10))
	require.NoError(t, m.Credit(ctx, "b", 10))
	require.NoError(t, m.Reserve(ctx, "a", 3))
	require.NoError(t, m.Reserve(ctx, "b", 4))

	assert.Equal(t, ir.Balance(7), m.TotalReserved())
}
