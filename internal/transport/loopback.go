// Package transport provides in-process transports for the engine.
//
// The real cross-chain transport lives outside this module. Loopback stands
// in for it: it records what the engine submits and lets the caller deliver
// responses later, through the same Resolver surface a real transport uses.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/courier/internal/engine"
)

// ErrUnbound is returned by Deliver before Bind.
var ErrUnbound = errors.New("loopback transport has no resolver bound")

// ErrUnknownRef is returned by Deliver for a ref that was never submitted or
// was already delivered.
var ErrUnknownRef = errors.New("unknown transport ref")

// Submission is a request the engine handed to the transport.
type Submission struct {
	Request engine.Request
	Ref     string
}

// Loopback is an in-process Transport.
//
// Thread-safety: safe for concurrent use. Deliver must not be called while
// the engine is inside Submit (the engine calls Submit under its own lock).
type Loopback struct {
	gen RefGenerator

	mu       sync.Mutex
	resolver engine.Resolver
	pending  map[string]Submission
	order    []string
	failNext error
}

// NewLoopback creates a loopback transport that names requests with gen.
func NewLoopback(gen RefGenerator) *Loopback {
	return &Loopback{
		gen:     gen,
		pending: make(map[string]Submission),
	}
}

// Bind sets the resolver responses are delivered to. Usually the engine.
func (l *Loopback) Bind(r engine.Resolver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolver = r
}

// FailNext makes the next Submit return err.
func (l *Loopback) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// Submit implements engine.Transport.
func (l *Loopback) Submit(_ context.Context, req engine.Request) (engine.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.failNext; err != nil {
		l.failNext = nil
		return engine.Receipt{}, err
	}

	ref := l.gen.Generate()
	if _, dup := l.pending[ref]; dup {
		return engine.Receipt{}, fmt.Errorf("submit %d: duplicate ref %q", req.ID, ref)
	}
	l.pending[ref] = Submission{Request: req, Ref: ref}
	l.order = append(l.order, ref)

	slog.Debug("loopback submit",
		"id", req.ID,
		"ref", ref,
		"token", req.CorrelationToken,
	)
	return engine.Receipt{Ref: ref}, nil
}

// Deliver resolves the request known by ref with payload.
//
// The ref stays pending if the resolver rejects the response, so a caller can
// observe the rejection and retry with a smaller payload.
func (l *Loopback) Deliver(ctx context.Context, ref string, payload []byte) error {
	l.mu.Lock()
	r := l.resolver
	_, ok := l.pending[ref]
	l.mu.Unlock()

	if r == nil {
		return ErrUnbound
	}
	if !ok {
		return fmt.Errorf("deliver %q: %w", ref, ErrUnknownRef)
	}

	if err := r.ResolveRef(ctx, ref, payload); err != nil {
		if engine.IsCode(err, engine.ErrCodeRequestTimedOut) {
			l.forget(ref)
		}
		return fmt.Errorf("deliver %q: %w", ref, err)
	}
	l.forget(ref)
	return nil
}

// Pending returns undelivered submissions in submission order.
func (l *Loopback) Pending() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Submission, 0, len(l.order))
	for _, ref := range l.order {
		out = append(out, l.pending[ref])
	}
	return out
}

// Drop forgets ref without delivering, as if the response was lost.
func (l *Loopback) Drop(ref string) {
	l.forget(ref)
}

func (l *Loopback) forget(ref string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.pending[ref]; !ok {
		return
	}
	delete(l.pending, ref)
	for i, r := range l.order {
		if r == ref {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}
