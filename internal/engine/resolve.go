package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/courier/internal/ir"
	"github.com/roach88/courier/internal/store"
	"github.com/roach88/courier/internal/weight"
)

// Resolve stores the response for a pending handle.
//
// Called by the transport, at most once per handle. The record moves from
// Query to Response keeping its origin and deposit, and leaves its timeout
// bucket. If a callback was registered the hook is notified after commit.
func (e *Engine) Resolve(ctx context.Context, id ir.MessageID, payload []byte) (err error) {
	ctx, span := e.startSpan(ctx, "Resolve", idAttr(id),
		attribute.Int("courier.payload_len", len(payload)))
	defer func() { endSpan(span, err) }()

	note, ev, err := e.resolve(ctx, id, payload)
	if err != nil {
		return err
	}
	e.publish(ctx, ev)
	if note != nil {
		e.notify(ctx, []Notification{*note})
	}
	return nil
}

// ResolveRef resolves the handle the transport knows by ref.
func (e *Engine) ResolveRef(ctx context.Context, ref string, payload []byte) error {
	id, ok, err := e.store.FindByTransportRef(ctx, ref)
	if err != nil {
		return fmt.Errorf("resolve ref %q: %w", ref, err)
	}
	if !ok {
		return newError(ErrCodeMessageNotFound, 0, "no request for transport ref %q", ref)
	}
	return e.Resolve(ctx, id, payload)
}

func (e *Engine) resolve(ctx context.Context, id ir.MessageID, payload []byte) (*Notification, ir.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	refund, err := e.charge(weight.OpResolve, e.costs.Resolve)
	if err != nil {
		return nil, ir.Event{}, err
	}
	defer refund(e.costs.Resolve)

	if len(payload) > e.limits.MaxResponseLen {
		return nil, ir.Event{}, newError(ErrCodeResponseTooLarge, id,
			"response is %d bytes, limit %d", len(payload), e.limits.MaxResponseLen)
	}

	var (
		note *Notification
		ev   ir.Event
	)
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		msg, ok, err := tx.GetMessage(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return newError(ErrCodeMessageNotFound, id, "unknown handle")
		}

		switch msg.Kind {
		case ir.KindQuery:
		case ir.KindResponse:
			slog.Error("transport resolved a handle twice",
				"id", id,
				"origin", msg.Origin,
				"event", "transport_contract_violation",
			)
			return newError(ErrCodeInvalidState, id, "handle already holds a response")
		case ir.KindTimeout:
			return newError(ErrCodeRequestTimedOut, id, "request expired at block %d", msg.ExpiredAt)
		default:
			return newError(ErrCodeInvalidState, id, "unknown record kind %d", int(msg.Kind))
		}

		current, err := tx.CurrentBlock(ctx)
		if err != nil {
			return err
		}

		if err := tx.RemoveTimeout(ctx, msg.Timeout, id); err != nil {
			return err
		}

		resp := ir.Message{
			ID:           id,
			Kind:         ir.KindResponse,
			Origin:       msg.Origin,
			Deposit:      msg.Deposit,
			TransportRef: msg.TransportRef,
			CallbackFee:  msg.CallbackFee,
			ReceivedAt:   current,
			Payload:      payload,
		}
		if err := tx.UpdateMessage(ctx, resp); err != nil {
			return err
		}

		ev, err = e.appendEvent(ctx, tx, ir.EventResponseReceived, current, map[string]any{
			"id":          id,
			"origin":      string(msg.Origin),
			"payload_len": len(payload),
		})
		if err != nil {
			return err
		}

		if msg.Callback != nil {
			note = &Notification{
				ID:       id,
				Origin:   msg.Origin,
				Callback: *msg.Callback,
				Outcome:  OutcomeResponse,
				Payload:  payload,
				Block:    current,
			}
		}
		return nil
	})
	if err != nil {
		var engErr *Error
		if errors.As(err, &engErr) {
			return nil, ir.Event{}, err
		}
		return nil, ir.Event{}, fmt.Errorf("resolve %d: %w", id, err)
	}

	slog.Info("response received",
		"id", id,
		"origin", ev.Attrs["origin"],
		"block", ev.Block,
		"payload_len", len(payload),
	)
	return note, ev, nil
}
