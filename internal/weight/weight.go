// Package weight declares operation costs and the meter the engine charges.
//
// Every engine operation charges its upper-bound cost before doing any work
// and refunds the difference once the actual cost is known. The meter is an
// external collaborator: the engine never decides whether a caller can pay,
// it only reports what the operation costs.
package weight

import (
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/courier/internal/ir"
)

// Op names a metered operation.
type Op string

const (
	OpCreateQuery Op = "create_query"
	OpResolve     Op = "resolve"
	OpPollStatus  Op = "poll_status"
	OpFetch       Op = "fetch"
	OpRemove      Op = "remove"
	OpSweep       Op = "sweep"
	OpCallback    Op = "callback"
)

// CostTable holds the cost of each operation. Batch operations have a fixed
// base plus a per-message component.
type CostTable struct {
	CreateQuery      ir.Weight `yaml:"create_query" json:"create_query"`
	Resolve          ir.Weight `yaml:"resolve" json:"resolve"`
	PollStatus       ir.Weight `yaml:"poll_status" json:"poll_status"`
	Fetch            ir.Weight `yaml:"fetch" json:"fetch"`
	RemoveBase       ir.Weight `yaml:"remove_base" json:"remove_base"`
	RemovePerMessage ir.Weight `yaml:"remove_per_message" json:"remove_per_message"`
	SweepBase        ir.Weight `yaml:"sweep_base" json:"sweep_base"`
	SweepPerMessage  ir.Weight `yaml:"sweep_per_message" json:"sweep_per_message"`
}

// DefaultCosts returns the cost table used when none is configured.
func DefaultCosts() CostTable {
	return CostTable{
		CreateQuery:      25_000,
		Resolve:          20_000,
		PollStatus:       2_000,
		Fetch:            3_000,
		RemoveBase:       5_000,
		RemovePerMessage: 8_000,
		SweepBase:        1_000,
		SweepPerMessage:  6_000,
	}
}

// Remove returns the cost of removing a batch of n messages.
func (c CostTable) Remove(n int) ir.Weight {
	return c.RemoveBase + c.RemovePerMessage*ir.Weight(n)
}

// Sweep returns the cost of expiring n messages in one block.
func (c CostTable) Sweep(n int) ir.Weight {
	return c.SweepBase + c.SweepPerMessage*ir.Weight(n)
}

// Meter is charged before an operation and refunded afterwards.
type Meter interface {
	Charge(op Op, w ir.Weight) error
	Refund(op Op, w ir.Weight)
}

// Unmetered accepts every charge.
type Unmetered struct{}

func (Unmetered) Charge(Op, ir.Weight) error { return nil }
func (Unmetered) Refund(Op, ir.Weight)       {}

// Budget is a Meter with an optional total limit. It records net usage per
// operation for diagnostics.
type Budget struct {
	mu    sync.Mutex
	limit ir.Weight // 0 means unlimited
	used  ir.Weight
	byOp  map[Op]ir.Weight
}

// NewBudget returns a meter that rejects charges beyond limit.
// A limit of 0 never rejects.
func NewBudget(limit ir.Weight) *Budget {
	return &Budget{limit: limit, byOp: make(map[Op]ir.Weight)}
}

// Charge reserves w for op.
func (b *Budget) Charge(op Op, w ir.Weight) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit > 0 && (b.used+w > b.limit || b.used+w < b.used) {
		return &ExhaustedError{Op: op, Requested: w, Remaining: b.limit - b.used}
	}
	b.used += w
	b.byOp[op] += w
	return nil
}

// Refund returns up to w of what op was charged.
func (b *Budget) Refund(op Op, w ir.Weight) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w > b.byOp[op] {
		w = b.byOp[op]
	}
	b.used -= w
	b.byOp[op] -= w
}

// Used returns the net weight consumed.
func (b *Budget) Used() ir.Weight {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// UsedBy returns the net weight consumed by op.
func (b *Budget) UsedBy(op Op) ir.Weight {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.byOp[op]
}

// ExhaustedError is returned when a charge would exceed the budget.
type ExhaustedError struct {
	Op        Op
	Requested ir.Weight
	Remaining ir.Weight
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("weight exhausted for %s: requested %d, remaining %d",
		e.Op, e.Requested, e.Remaining)
}

// IsExhausted reports whether err is an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
