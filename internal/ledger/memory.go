package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/courier/internal/ir"
)

// Memory is an in-process Ledger for tests and scenarios.
type Memory struct {
	mu       sync.Mutex
	accounts map[ir.Account]Funds
	settled  ir.Balance
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{accounts: make(map[ir.Account]Funds)}
}

// Credit adds amount to the free balance of account.
func (m *Memory) Credit(_ context.Context, account ir.Account, amount ir.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := m.accounts[account]
	if f.Total()+amount < f.Total() {
		return fmt.Errorf("credit %s: %w", account, ErrAmountTooLarge)
	}
	f.Free += amount
	m.accounts[account] = f
	return nil
}

// Reserve moves amount from free to reserved.
func (m *Memory) Reserve(_ context.Context, account ir.Account, amount ir.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := m.accounts[account]
	if f.Free < amount {
		return ErrInsufficientFunds
	}
	f.Free -= amount
	f.Reserved += amount
	m.accounts[account] = f
	return nil
}

// Release moves amount from reserved back to free.
func (m *Memory) Release(_ context.Context, account ir.Account, amount ir.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := m.accounts[account]
	if f.Reserved < amount {
		return fmt.Errorf("release %s: %w", account, ErrOverRelease)
	}
	f.Reserved -= amount
	f.Free += amount
	m.accounts[account] = f
	return nil
}

// Settle removes amount from the reserved balance of account. The amount is
// added to Settled.
func (m *Memory) Settle(_ context.Context, account ir.Account, amount ir.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := m.accounts[account]
	if f.Reserved < amount {
		return fmt.Errorf("settle %s: %w", account, ErrOverRelease)
	}
	f.Reserved -= amount
	m.accounts[account] = f
	m.settled += amount
	return nil
}

// Settled returns the sum of all settled amounts.
func (m *Memory) Settled() ir.Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settled
}

// Balance returns the funds of account.
func (m *Memory) Balance(_ context.Context, account ir.Account) (Funds, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[account], nil
}

// TotalReserved sums reserved funds over all accounts.
func (m *Memory) TotalReserved() ir.Balance {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total ir.Balance
	for _, f := range m.accounts {
		total += f.Reserved
	}
	return total
}
