package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/courier/internal/ir"
	"github.com/roach88/courier/internal/ledger"
	"github.com/roach88/courier/internal/store"
)

// Settlement is how a held callback fee was split.
type Settlement struct {
	// Charged is paid out of the origin's reserved funds for the weight used.
	Charged ir.Balance
	// Refunded goes back to the origin's free balance.
	Refunded ir.Balance
}

// SettleCallback pays the callback fee of id for used weight and returns the
// rest of the held fee to the origin.
//
// Called by the dispatcher once a callback has run. A record whose fee was
// already settled, or that never held one, settles to zero. Pending and
// unknown handles are rejected; a removed record already returned its fee.
func (e *Engine) SettleCallback(ctx context.Context, id ir.MessageID, used ir.Weight) (_ Settlement, err error) {
	ctx, span := e.startSpan(ctx, "SettleCallback", idAttr(id))
	defer func() { endSpan(span, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	var s Settlement
	err = e.withTx(ctx, func(tx *store.Tx, l ledger.Ledger) error {
		msg, ok, err := tx.GetMessage(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return newError(ErrCodeMessageNotFound, id, "unknown handle")
		}
		if !msg.Kind.Terminal() {
			return newError(ErrCodeInvalidState, id, "request is still pending")
		}
		if msg.CallbackFee == 0 {
			return nil
		}

		s.Charged = min(e.deposit.CallbackFee(used), msg.CallbackFee)
		s.Refunded = msg.CallbackFee - s.Charged

		if err := l.Release(ctx, msg.Origin, s.Refunded); err != nil {
			return fmt.Errorf("refund callback fee: %w", err)
		}
		if err := l.Settle(ctx, msg.Origin, s.Charged); err != nil {
			return fmt.Errorf("charge callback fee: %w", err)
		}

		msg.CallbackFee = 0
		return tx.UpdateMessage(ctx, msg)
	})
	if err != nil {
		var engErr *Error
		if errors.As(err, &engErr) {
			return Settlement{}, err
		}
		return Settlement{}, fmt.Errorf("settle callback %d: %w", id, err)
	}

	slog.Debug("callback fee settled",
		"id", id,
		"weight_used", used,
		"charged", s.Charged,
		"refunded", s.Refunded,
	)
	return s, nil
}
