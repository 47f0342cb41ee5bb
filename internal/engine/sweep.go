package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/courier/internal/ir"
	"github.com/roach88/courier/internal/store"
	"github.com/roach88/courier/internal/weight"
)

// OnBlock enters block and expires every query scheduled at or before it.
//
// Blocks at or before the current block are a no-op. Non-empty buckets
// between the current block and block are swept in order first, so none is
// ever missed; empty ones are skipped without a transaction of their own.
func (e *Engine) OnBlock(ctx context.Context, block ir.BlockNumber) error {
	for {
		reached, err := e.sweep(ctx, block)
		if err != nil {
			return err
		}
		if reached >= block {
			return nil
		}
	}
}

// Advance moves the clock forward n blocks, sweeping each one.
// Returns the new current block.
func (e *Engine) Advance(ctx context.Context, n uint64) (ir.BlockNumber, error) {
	current, err := e.CurrentBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("advance: %w", err)
	}
	target := current + ir.BlockNumber(n)
	if target < current {
		return current, newError(ErrCodeCapacityExhausted, 0, "block number overflow")
	}
	if err := e.OnBlock(ctx, target); err != nil {
		return 0, err
	}
	return target, nil
}

// sweep enters the lowest non-empty bucket in (current, target], or target
// itself when there is none, and drains it. Entries that no longer refer to
// a query are skipped without error. Returns the block entered.
func (e *Engine) sweep(ctx context.Context, target ir.BlockNumber) (_ ir.BlockNumber, err error) {
	ctx, span := e.startSpan(ctx, "OnBlock", attribute.Int64("courier.target", int64(target)))
	defer func() { endSpan(span, err) }()

	block, notes, evs, err := e.expire(ctx, target)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(
		attribute.Int64("courier.block", int64(block)),
		attribute.Int("courier.expired", len(notes)),
	)

	e.publish(ctx, evs...)
	e.notify(ctx, notes)
	return block, nil
}

func (e *Engine) expire(ctx context.Context, target ir.BlockNumber) (ir.BlockNumber, []Notification, []ir.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	upper := e.costs.Sweep(e.limits.MaxTimeoutsPerBlock)
	refund, err := e.charge(weight.OpSweep, upper)
	if err != nil {
		return 0, nil, nil, err
	}
	actual := upper
	defer func() { refund(actual) }()

	var (
		block   ir.BlockNumber
		notes   []Notification
		evs     []ir.Event
		expired []ir.MessageID
	)
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		current, err := tx.CurrentBlock(ctx)
		if err != nil {
			return err
		}
		if target <= current {
			// Another caller already entered this block.
			block = current
			actual = 0
			return nil
		}

		next, ok, err := tx.NextTimeoutBlock(ctx, current, target)
		if err != nil {
			return err
		}
		block = target
		if ok {
			block = next
		}

		bucket, err := tx.TimeoutBucket(ctx, block)
		if err != nil {
			return err
		}
		actual = e.costs.Sweep(len(bucket))

		for _, id := range bucket {
			msg, ok, err := tx.GetMessage(ctx, id)
			if err != nil {
				return err
			}
			if !ok || msg.Kind != ir.KindQuery {
				slog.Debug("sweep skipped stale entry", "id", id, "block", block)
				continue
			}

			if err := tx.UpdateMessage(ctx, ir.Message{
				ID:           id,
				Kind:         ir.KindTimeout,
				Origin:       msg.Origin,
				Deposit:      msg.Deposit,
				TransportRef: msg.TransportRef,
				Callback:     msg.Callback,
				CallbackFee:  msg.CallbackFee,
				ExpiredAt:    block,
			}); err != nil {
				return err
			}
			expired = append(expired, id)

			if msg.Callback != nil {
				notes = append(notes, Notification{
					ID:       id,
					Origin:   msg.Origin,
					Callback: *msg.Callback,
					Outcome:  OutcomeTimeout,
					Block:    block,
				})
			}
		}

		if err := tx.ClearTimeouts(ctx, block); err != nil {
			return err
		}
		if err := tx.SetCurrentBlock(ctx, block); err != nil {
			return err
		}

		if len(expired) > 0 {
			ev, err := e.appendEvent(ctx, tx, ir.EventQueriesTimedOut, block, map[string]any{
				"ids": ir.IDList(expired),
			})
			if err != nil {
				return err
			}
			evs = append(evs, ev)
		}
		return nil
	})
	if err != nil {
		return 0, nil, nil, fmt.Errorf("sweep to block %d: %w", target, err)
	}

	if len(expired) > 0 {
		slog.Info("queries timed out",
			"block", block,
			"count", len(expired),
			"ids", expired,
		)
	}
	return block, notes, evs, nil
}
