package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/courier/internal/ir"
	"github.com/roach88/courier/internal/ledger"
	"github.com/roach88/courier/internal/store"
	"github.com/roach88/courier/internal/weight"
)

// Remove deletes a batch of terminal records owned by origin and releases
// their deposits, along with any callback fee still held.
//
// The batch is all-or-nothing: an oversized batch fails with TooManyMessages
// before any lookup, and an absent, pending, foreign or repeated handle
// fails the whole batch with nothing removed. A release the ledger refuses
// fails the batch the same way.
func (e *Engine) Remove(ctx context.Context, origin ir.Account, ids []ir.MessageID) (err error) {
	ctx, span := e.startSpan(ctx, "Remove",
		attribute.String("courier.origin", string(origin)),
		attribute.Int("courier.batch_len", len(ids)),
	)
	defer func() { endSpan(span, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	upper := e.costs.Remove(e.limits.MaxRemovals)
	refund, err := e.charge(weight.OpRemove, upper)
	if err != nil {
		return err
	}
	actual := e.costs.Remove(0)
	defer func() { refund(actual) }()

	if len(ids) > e.limits.MaxRemovals {
		return newError(ErrCodeTooManyMessages, 0,
			"batch of %d exceeds limit %d", len(ids), e.limits.MaxRemovals)
	}
	actual = e.costs.Remove(len(ids))
	if len(ids) == 0 {
		return nil
	}

	var (
		removed  []ir.Message
		released ir.Balance
		ev       ir.Event
	)
	err = e.withTx(ctx, func(tx *store.Tx, l ledger.Ledger) error {
		seen := make(map[ir.MessageID]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				return newError(ErrCodeMessageNotFound, id, "handle repeated in batch")
			}
			seen[id] = struct{}{}

			msg, ok, err := tx.GetMessage(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				return newError(ErrCodeMessageNotFound, id, "unknown handle")
			}
			if msg.Origin != origin {
				return newError(ErrCodeBadOrigin, id, "record belongs to another account")
			}
			if !msg.Kind.Terminal() {
				return newError(ErrCodeRequestPending, id, "request is still pending")
			}

			if err := tx.DeleteMessage(ctx, id); err != nil {
				return err
			}
			// A callback fee that was never settled goes back with the deposit.
			held := saturatingAdd(msg.Deposit, msg.CallbackFee)
			if err := l.Release(ctx, msg.Origin, held); err != nil {
				return fmt.Errorf("release funds of message %d: %w", id, err)
			}
			released += held
			removed = append(removed, msg)
		}

		current, err := tx.CurrentBlock(ctx)
		if err != nil {
			return err
		}
		ev, err = e.appendEvent(ctx, tx, ir.EventMessagesRemoved, current, map[string]any{
			"origin": string(origin),
			"ids":    ir.IDList(ids),
		})
		return err
	})
	if err != nil {
		var engErr *Error
		if errors.As(err, &engErr) {
			return err
		}
		return fmt.Errorf("remove: %w", err)
	}

	slog.Info("messages removed",
		"origin", origin,
		"count", len(removed),
		"released", released,
	)

	e.publish(ctx, ev)
	return nil
}
