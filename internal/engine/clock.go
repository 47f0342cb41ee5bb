package engine

import "sync/atomic"

// Clock stamps event log entries with a strictly increasing seq.
//
// Block numbers order state transitions; seq orders the entries written
// within and across blocks. The engine and the callback dispatcher share one
// Clock so their events interleave in the order they were produced.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start.
// Used on open to continue the persisted event log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
