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

// QueryRequest is the input to CreateQuery.
type QueryRequest struct {
	Origin           ir.Account
	CorrelationToken string
	// Timeout is the absolute expiry block. It must be in the future.
	Timeout  ir.BlockNumber
	Callback *ir.Callback
}

// Created acknowledges a new query.
type Created struct {
	ID           ir.MessageID
	TransportRef string
	Deposit      ir.Balance
	// CallbackFee is held on top of Deposit when a callback is registered.
	CallbackFee ir.Balance
}

// CreateQuery registers an outbound request and returns its handle.
//
// Validation happens before any mutation. The handle, the deposit and
// callback fee holds, the Query record and its timeout entry commit
// together before the request is handed to the transport. The transport's
// receipt and the QueryCreated event commit afterwards. If the transport
// rejects the request, or its receipt cannot be stored, the record is
// withdrawn and its funds released. The handle stays consumed.
func (e *Engine) CreateQuery(ctx context.Context, req QueryRequest) (_ Created, err error) {
	ctx, span := e.startSpan(ctx, "CreateQuery",
		attribute.String("courier.origin", string(req.Origin)),
		attribute.Int64("courier.timeout", int64(req.Timeout)),
	)
	defer func() { endSpan(span, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	refund, err := e.charge(weight.OpCreateQuery, e.costs.CreateQuery)
	if err != nil {
		return Created{}, err
	}
	defer refund(e.costs.CreateQuery)

	if req.Callback != nil && req.Callback.WeightBudget == 0 {
		return Created{}, newError(ErrCodeZeroWeight, 0, "callback weight budget must be non-zero")
	}

	current, err := e.store.CurrentBlock(ctx)
	if err != nil {
		return Created{}, fmt.Errorf("create query: %w", err)
	}
	if req.Timeout <= current {
		return Created{}, newError(ErrCodeFutureTimeoutMandatory, 0,
			"timeout %d must be after current block %d", req.Timeout, current)
	}

	bucket, err := e.store.TimeoutBucket(ctx, req.Timeout)
	if err != nil {
		return Created{}, fmt.Errorf("create query: %w", err)
	}
	if len(bucket) >= e.limits.MaxTimeoutsPerBlock {
		return Created{}, newError(ErrCodeMaxMessageTimeoutPerBlockReached, 0,
			"block %d already has %d timeouts", req.Timeout, len(bucket))
	}

	msg := ir.Message{
		Kind:             ir.KindQuery,
		Origin:           req.Origin,
		Deposit:          e.deposit.For(req.CorrelationToken, req.Callback, e.limits.MaxResponseLen),
		CorrelationToken: req.CorrelationToken,
		Callback:         req.Callback,
		Timeout:          req.Timeout,
	}
	if req.Callback != nil {
		msg.CallbackFee = e.deposit.CallbackFee(req.Callback.WeightBudget)
	}

	err = e.withTx(ctx, func(tx *store.Tx, l ledger.Ledger) error {
		id, err := allocate(ctx, tx)
		if err != nil {
			return err
		}
		msg.ID = id

		if err := reserve(ctx, l, msg.Origin, msg.Deposit, "deposit"); err != nil {
			return err
		}
		if err := reserve(ctx, l, msg.Origin, msg.CallbackFee, "callback fee"); err != nil {
			return err
		}
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		return tx.AddTimeout(ctx, msg.Timeout, id)
	})
	if err != nil {
		return Created{}, wrapCreate(err)
	}
	span.SetAttributes(idAttr(msg.ID))

	receipt, err := e.transport.Submit(ctx, Request{
		ID:               msg.ID,
		Origin:           msg.Origin,
		CorrelationToken: msg.CorrelationToken,
		Timeout:          msg.Timeout,
	})
	if err != nil {
		err = &Error{Code: ErrCodeTransportFailed, MessageID: msg.ID, Message: "submit request", Err: err}
		if wErr := e.withdraw(ctx, msg); wErr != nil {
			err = errors.Join(err, wErr)
		}
		return Created{}, err
	}
	msg.TransportRef = receipt.Ref

	var ev ir.Event
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if msg.TransportRef != "" {
			if err := tx.SetTransportRef(ctx, msg.ID, msg.TransportRef); err != nil {
				return err
			}
		}
		var err error
		ev, err = e.appendEvent(ctx, tx, ir.EventQueryCreated, current, queryCreatedAttrs(msg))
		return err
	})
	if err != nil {
		if wErr := e.withdraw(ctx, msg); wErr != nil {
			err = errors.Join(err, wErr)
		}
		return Created{}, wrapCreate(err)
	}

	slog.Info("query created",
		"id", msg.ID,
		"origin", msg.Origin,
		"timeout", msg.Timeout,
		"deposit", msg.Deposit,
		"callback_fee", msg.CallbackFee,
		"transport_ref", msg.TransportRef,
		"callback", msg.Callback != nil,
	)

	e.publish(ctx, ev)
	return Created{
		ID:           msg.ID,
		TransportRef: msg.TransportRef,
		Deposit:      msg.Deposit,
		CallbackFee:  msg.CallbackFee,
	}, nil
}

// withdraw undoes a committed creation the transport never acknowledged:
// the record and its timeout entry are deleted and its funds released.
func (e *Engine) withdraw(ctx context.Context, msg ir.Message) error {
	err := e.withTx(ctx, func(tx *store.Tx, l ledger.Ledger) error {
		if err := tx.RemoveTimeout(ctx, msg.Timeout, msg.ID); err != nil {
			return err
		}
		if err := tx.DeleteMessage(ctx, msg.ID); err != nil {
			return err
		}
		if err := l.Release(ctx, msg.Origin, msg.Deposit); err != nil {
			return fmt.Errorf("release deposit: %w", err)
		}
		if err := l.Release(ctx, msg.Origin, msg.CallbackFee); err != nil {
			return fmt.Errorf("release callback fee: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error("withdraw query failed",
			"id", msg.ID,
			"origin", msg.Origin,
			"error", err,
		)
		return fmt.Errorf("withdraw message %d: %w", msg.ID, err)
	}
	slog.Warn("query withdrawn", "id", msg.ID, "origin", msg.Origin)
	return nil
}

// reserve holds amount against account, mapping a short balance to
// FundsUnavailable.
func reserve(ctx context.Context, l ledger.Ledger, account ir.Account, amount ir.Balance, what string) error {
	err := l.Reserve(ctx, account, amount)
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return &Error{
			Code:    ErrCodeFundsUnavailable,
			Message: fmt.Sprintf("cannot reserve %s %d for %s", what, amount, account),
			Err:     err,
		}
	}
	if err != nil {
		return fmt.Errorf("reserve %s: %w", what, err)
	}
	return nil
}

func wrapCreate(err error) error {
	var engErr *Error
	if errors.As(err, &engErr) {
		return err
	}
	return fmt.Errorf("create query: %w", err)
}

func queryCreatedAttrs(msg ir.Message) map[string]any {
	attrs := map[string]any{
		"id":      msg.ID,
		"origin":  string(msg.Origin),
		"timeout": msg.Timeout,
		"deposit": msg.Deposit,
	}
	if msg.CallbackFee > 0 {
		attrs["callback_fee"] = msg.CallbackFee
	}
	if msg.TransportRef != "" {
		attrs["transport_ref"] = msg.TransportRef
	}
	if cb := msg.Callback; cb != nil {
		attrs["callback"] = map[string]any{
			"destination":   cb.Destination.Hex(),
			"encoding":      cb.Encoding.String(),
			"selector":      cb.Selector.String(),
			"weight_budget": cb.WeightBudget,
		}
	}
	return attrs
}
