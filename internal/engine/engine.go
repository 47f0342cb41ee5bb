package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/courier/internal/ir"
	"github.com/roach88/courier/internal/ledger"
	"github.com/roach88/courier/internal/store"
	"github.com/roach88/courier/internal/weight"
)

const tracerName = "github.com/roach88/courier/internal/engine"

// Engine is the correlation engine.
//
// Thread-safety: all exported methods are safe for concurrent use; they are
// serialized internally. Hook notifications and sink publication run after
// the engine lock is released.
type Engine struct {
	mu sync.Mutex

	store     *store.Store
	ledger    ledger.Ledger
	transport Transport
	hook      Hook
	sinks     []EventSink
	meter     weight.Meter
	costs     weight.CostTable
	tracer    trace.Tracer
	clock     *Clock
	limits    Limits
	deposit   DepositPolicy
}

// New creates an Engine over an open store and a deposit ledger.
//
// Unless WithClock is given, the event seq clock resumes after the highest
// seq already in the store's event log.
func New(ctx context.Context, s *store.Store, l ledger.Ledger, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:     s,
		ledger:    l,
		transport: nopTransport{},
		hook:      nopHook{},
		meter:     weight.Unmetered{},
		costs:     weight.DefaultCosts(),
		tracer:    otel.Tracer(tracerName),
		limits:    DefaultLimits(),
		deposit:   DefaultDepositPolicy(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.clock == nil {
		seq, err := s.MaxEventSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("new engine: %w", err)
		}
		e.clock = NewClockAt(seq)
	}

	return e, nil
}

// Clock returns the event seq clock. The callback dispatcher stamps its
// events from the same clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Limits returns the configured limits.
func (e *Engine) Limits() Limits {
	return e.limits
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// CurrentBlock returns the last block the engine has entered.
func (e *Engine) CurrentBlock(ctx context.Context) (ir.BlockNumber, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.CurrentBlock(ctx)
}

// allocate issues the next handle inside tx. Handles are never reused: once
// the transport may have seen a handle its cursor advance is committed, so a
// failed creation leaves a gap rather than a handle that could be issued
// twice.
func allocate(ctx context.Context, tx *store.Tx) (ir.MessageID, error) {
	id, err := tx.NextMessageID(ctx)
	if errors.Is(err, store.ErrHandleSpaceExhausted) {
		return 0, newError(ErrCodeCapacityExhausted, 0, "handle space exhausted")
	}
	if err != nil {
		return 0, fmt.Errorf("allocate handle: %w", err)
	}
	return id, nil
}

// withTx runs fn in a store transaction with the ledger bound to it.
//
// A ledger.Joiner runs on the transaction's connection, so its moves commit
// and roll back with the store. Moves made through any other ledger are
// reversed after a failed transaction.
func (e *Engine) withTx(ctx context.Context, fn func(tx *store.Tx, l ledger.Ledger) error) error {
	var comp *compensated
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		if j, ok := e.ledger.(ledger.Joiner); ok {
			return fn(tx, j.Join(tx.Conn()))
		}
		comp = &compensated{Ledger: e.ledger}
		return fn(tx, comp)
	})
	if err != nil && comp != nil {
		if undoErr := comp.undo(ctx); undoErr != nil {
			slog.Error("ledger rollback failed", "error", undoErr)
			return errors.Join(err, undoErr)
		}
	}
	return err
}

// compensated records the inverse of every Reserve and Release it passes
// through. Settle has no inverse.
type compensated struct {
	ledger.Ledger
	inverse []func(ctx context.Context) error
}

func (c *compensated) Reserve(ctx context.Context, account ir.Account, amount ir.Balance) error {
	if err := c.Ledger.Reserve(ctx, account, amount); err != nil {
		return err
	}
	c.inverse = append(c.inverse, func(ctx context.Context) error {
		return c.Ledger.Release(ctx, account, amount)
	})
	return nil
}

func (c *compensated) Release(ctx context.Context, account ir.Account, amount ir.Balance) error {
	if err := c.Ledger.Release(ctx, account, amount); err != nil {
		return err
	}
	c.inverse = append(c.inverse, func(ctx context.Context) error {
		return c.Ledger.Reserve(ctx, account, amount)
	})
	return nil
}

// undo applies the inverses newest first.
func (c *compensated) undo(ctx context.Context) error {
	var errs []error
	for i := len(c.inverse) - 1; i >= 0; i-- {
		if err := c.inverse[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.inverse = nil
	return errors.Join(errs...)
}

// appendEvent stamps an event with the next seq and appends it inside tx.
func (e *Engine) appendEvent(ctx context.Context, tx *store.Tx, kind ir.EventKind, block ir.BlockNumber, attrs map[string]any) (ir.Event, error) {
	ev, err := ir.NewEvent(kind, block, e.clock.Next(), attrs)
	if err != nil {
		return ir.Event{}, fmt.Errorf("build %s event: %w", kind, err)
	}
	if err := tx.AppendEvent(ctx, ev); err != nil {
		return ir.Event{}, err
	}
	return ev, nil
}

// publish hands committed events to every sink. Sink failures are logged.
func (e *Engine) publish(ctx context.Context, evs ...ir.Event) {
	for _, ev := range evs {
		for _, sink := range e.sinks {
			if err := sink.Publish(ctx, ev); err != nil {
				slog.Error("event sink publish failed",
					"kind", ev.Kind,
					"seq", ev.Seq,
					"error", err,
				)
			}
		}
	}
}

// notify hands notifications to the hook. Failures never roll back.
func (e *Engine) notify(ctx context.Context, notes []Notification) {
	for _, n := range notes {
		if err := e.hook.Notify(ctx, n); err != nil {
			slog.Error("callback hook failed",
				"message_id", n.ID,
				"outcome", n.Outcome.String(),
				"destination", n.Callback.Destination.Hex(),
				"error", err,
			)
		}
	}
}

// charge charges the upper bound for op and returns a func that refunds down
// to the actual cost.
func (e *Engine) charge(op weight.Op, upper ir.Weight) (func(actual ir.Weight), error) {
	if err := e.meter.Charge(op, upper); err != nil {
		return nil, &Error{Code: ErrCodeWeightExhausted, Message: string(op), Err: err}
	}
	return func(actual ir.Weight) {
		if actual < upper {
			e.meter.Refund(op, upper-actual)
		}
	}, nil
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "engine."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if code := CodeOf(err); code != "" {
			span.SetAttributes(attribute.String("courier.error_code", string(code)))
		}
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func idAttr(id ir.MessageID) attribute.KeyValue {
	return attribute.Int64("courier.message_id", int64(id))
}
