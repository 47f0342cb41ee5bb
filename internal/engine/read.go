package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/courier/internal/ir"
	"github.com/roach88/courier/internal/weight"
)

// PollStatus reports the state of any handle, including ones never issued.
// The only errors are infrastructure failures (store I/O, meter).
func (e *Engine) PollStatus(ctx context.Context, id ir.MessageID) (_ ir.Status, err error) {
	ctx, span := e.startSpan(ctx, "PollStatus", idAttr(id))
	defer func() { endSpan(span, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	refund, err := e.charge(weight.OpPollStatus, e.costs.PollStatus)
	if err != nil {
		return ir.StatusNotFound, err
	}
	defer refund(e.costs.PollStatus)

	msg, ok, err := e.store.GetMessage(ctx, id)
	if err != nil {
		return ir.StatusNotFound, fmt.Errorf("poll status %d: %w", id, err)
	}
	if !ok {
		slog.Debug("poll status", "id", id, "status", ir.StatusNotFound.String())
		return ir.StatusNotFound, nil
	}
	slog.Debug("poll status", "id", id, "status", msg.Status().String())
	return msg.Status(), nil
}

// Response returns the stored payload of a resolved handle without
// changing anything, so it may be read any number of times.
func (e *Engine) Response(ctx context.Context, id ir.MessageID) (_ []byte, err error) {
	ctx, span := e.startSpan(ctx, "Response", idAttr(id))
	defer func() { endSpan(span, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	refund, err := e.charge(weight.OpFetch, e.costs.Fetch)
	if err != nil {
		return nil, err
	}
	defer refund(e.costs.Fetch)

	msg, ok, err := e.store.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch response %d: %w", id, err)
	}
	if !ok {
		return nil, newError(ErrCodeMessageNotFound, id, "unknown handle")
	}

	switch msg.Kind {
	case ir.KindResponse:
		slog.Debug("response fetched", "id", id, "payload_len", len(msg.Payload))
		return msg.Payload, nil
	case ir.KindTimeout:
		return nil, newError(ErrCodeRequestTimedOut, id, "request expired at block %d", msg.ExpiredAt)
	default:
		return nil, newError(ErrCodeRequestPending, id, "no response yet")
	}
}

// Get returns the full record for a handle.
func (e *Engine) Get(ctx context.Context, id ir.MessageID) (ir.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	msg, ok, err := e.store.GetMessage(ctx, id)
	if err != nil {
		return ir.Message{}, fmt.Errorf("get %d: %w", id, err)
	}
	if !ok {
		return ir.Message{}, newError(ErrCodeMessageNotFound, id, "unknown handle")
	}
	return msg, nil
}

// List returns every record owned by origin, ordered by handle.
func (e *Engine) List(ctx context.Context, origin ir.Account) ([]ir.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	msgs, err := e.store.ListByOrigin(ctx, origin)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", origin, err)
	}
	return msgs, nil
}
