package engine

import (
	"context"

	"github.com/roach88/courier/internal/ir"
)

// Outcome is what a notification reports to its destination.
type Outcome int

const (
	// OutcomeResponse carries the response payload.
	OutcomeResponse Outcome = iota + 1
	// OutcomeTimeout reports expiry in place of a payload.
	OutcomeTimeout
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeResponse:
		return "response"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Notification is handed to the Hook after a transition out of Query has
// been committed for a record that registered a callback.
type Notification struct {
	ID       ir.MessageID
	Origin   ir.Account
	Callback ir.Callback
	Outcome  Outcome
	Payload  []byte // nil for OutcomeTimeout
	Block    ir.BlockNumber
}

// Hook consumes post-commit notifications.
//
// A Hook error is logged and never rolls back the transition: the response
// stays retrievable by polling.
type Hook interface {
	Notify(ctx context.Context, n Notification) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, n Notification) error

// Notify implements Hook.
func (f HookFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

type nopHook struct{}

func (nopHook) Notify(context.Context, Notification) error { return nil }

// EventSink receives committed event log entries.
// Implemented by the sinks in internal/events.
type EventSink interface {
	Publish(ctx context.Context, ev ir.Event) error
}

// Resolver is the surface a transport uses to deliver responses.
// *Engine implements it.
type Resolver interface {
	Resolve(ctx context.Context, id ir.MessageID, payload []byte) error
	ResolveRef(ctx context.Context, ref string, payload []byte) error
}

// Request is what the engine submits to the transport at creation.
type Request struct {
	ID               ir.MessageID
	Origin           ir.Account
	CorrelationToken string
	Timeout          ir.BlockNumber
}

// Receipt acknowledges a submitted request.
type Receipt struct {
	// Ref is the transport's own identifier for the request (e.g. a query id).
	// ResolveRef looks records up by it. Empty means the transport will
	// resolve by handle.
	Ref string
}

// Transport accepts outbound requests.
//
// Submit runs once the Query record has been committed and before the
// receipt is stored. A returned error withdraws the record and releases its
// funds; the handle is not issued again. Submit must not call back into the
// engine synchronously.
type Transport interface {
	Submit(ctx context.Context, req Request) (Receipt, error)
}

type nopTransport struct{}

func (nopTransport) Submit(context.Context, Request) (Receipt, error) { return Receipt{}, nil }
