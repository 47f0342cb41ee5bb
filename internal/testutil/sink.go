package testutil

import (
	"context"
	"sync"

	"github.com/roach88/courier/internal/ir"
)

// CaptureSink keeps published events in memory.
type CaptureSink struct {
	mu     sync.Mutex
	events []ir.Event
	err    error
}

// NewCaptureSink creates an empty sink.
func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

// FailWith makes Publish return err after recording the event.
func (s *CaptureSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Publish implements engine.EventSink.
func (s *CaptureSink) Publish(_ context.Context, ev ir.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

// Events returns the published events in order.
func (s *CaptureSink) Events() []ir.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ir.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Kinds returns the kinds of the published events in order.
func (s *CaptureSink) Kinds() []ir.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ir.EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}
