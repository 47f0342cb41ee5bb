package callback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/courier/internal/engine"
	"github.com/roach88/courier/internal/ir"
	"github.com/roach88/courier/internal/weight"
)

// EventLog persists events outside an engine transaction.
// *store.Store implements it.
type EventLog interface {
	AppendEvents(ctx context.Context, evs ...ir.Event) error
}

// Settler pays the callback fee held for a message once its callback has
// run. *engine.Engine implements it.
type Settler interface {
	SettleCallback(ctx context.Context, id ir.MessageID, used ir.Weight) (engine.Settlement, error)
}

// Dispatcher implements engine.Hook.
type Dispatcher struct {
	exec    Executor
	meter   weight.Meter
	settler Settler
	log     EventLog
	clock   *engine.Clock
	sinks   []engine.EventSink
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMeter charges callback budgets to m.
func WithMeter(m weight.Meter) Option {
	return func(d *Dispatcher) {
		d.meter = m
	}
}

// WithEventLog records outcomes in log, stamped from clock. Pass the
// engine's clock so outcome events interleave with engine events.
func WithEventLog(log EventLog, clock *engine.Clock) Option {
	return func(d *Dispatcher) {
		d.log = log
		d.clock = clock
	}
}

// WithSinks publishes outcome events to sinks.
func WithSinks(sinks ...engine.EventSink) Option {
	return func(d *Dispatcher) {
		d.sinks = append(d.sinks, sinks...)
	}
}

// WithSettler settles callback fees through s. Use Bind when s is the engine
// the dispatcher is a hook of.
func WithSettler(s Settler) Option {
	return func(d *Dispatcher) {
		d.settler = s
	}
}

// NewDispatcher creates a dispatcher that runs calls with exec.
func NewDispatcher(exec Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		exec:  exec,
		meter: weight.Unmetered{},
		clock: engine.NewClock(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Bind sets the settler after construction. The engine takes its hook as an
// option, so a dispatcher hooked into an engine is bound to it afterwards.
func (d *Dispatcher) Bind(s Settler) {
	d.settler = s
}

// Notify implements engine.Hook.
//
// The callback's weight budget is charged up front. On success the weight
// the executor reports is kept and the rest refunded; on failure, or when
// the executor reports nothing, the whole budget is kept. The kept weight
// is then settled against the fee the origin prepaid; a call that never ran
// settles as zero weight.
func (d *Dispatcher) Notify(ctx context.Context, n engine.Notification) error {
	budget := n.Callback.WeightBudget

	data, err := Encode(n)
	if err != nil {
		d.record(ctx, n, 0, d.settle(ctx, n, 0), err)
		return err
	}

	if err := d.meter.Charge(weight.OpCallback, budget); err != nil {
		err = fmt.Errorf("charge callback budget: %w", err)
		d.record(ctx, n, 0, d.settle(ctx, n, 0), err)
		return err
	}

	res, execErr := d.exec.Execute(ctx, Call{
		MessageID:   n.ID,
		Destination: n.Callback.Destination,
		Data:        data,
		WeightLimit: budget,
	})

	used := budget
	if execErr == nil && res.Reported && res.WeightUsed < budget {
		used = res.WeightUsed
	}
	if used < budget {
		d.meter.Refund(weight.OpCallback, budget-used)
	}

	d.record(ctx, n, used, d.settle(ctx, n, used), execErr)
	if execErr != nil {
		return fmt.Errorf("execute callback for message %d: %w", n.ID, execErr)
	}
	return nil
}

// settle pays the fee for used weight. A failure is recorded as a
// WeightRefundErrored event and never fails the callback; the fee stays
// held and is returned when the record is removed.
func (d *Dispatcher) settle(ctx context.Context, n engine.Notification, used ir.Weight) *engine.Settlement {
	if d.settler == nil {
		return nil
	}
	s, err := d.settler.SettleCallback(ctx, n.ID, used)
	if err != nil {
		slog.Error("callback fee settlement failed",
			"message_id", n.ID,
			"weight_used", used,
			"error", err,
		)
		d.emit(ctx, ir.EventWeightRefundErrored, n, map[string]any{
			"id":          n.ID,
			"weight_used": used,
			"error":       err.Error(),
		})
		return nil
	}
	return &s
}

func (d *Dispatcher) record(ctx context.Context, n engine.Notification, used ir.Weight, fee *engine.Settlement, failure error) {
	attrs := map[string]any{
		"id":          n.ID,
		"destination": n.Callback.Destination.Hex(),
		"encoding":    n.Callback.Encoding.String(),
		"outcome":     n.Outcome.String(),
		"weight_used": used,
	}
	if fee != nil {
		attrs["fee_charged"] = fee.Charged
		attrs["fee_refunded"] = fee.Refunded
	}
	kind := ir.EventCallbackExecuted
	if failure != nil {
		kind = ir.EventCallbackFailed
		attrs["error"] = failure.Error()
		slog.Error("callback failed",
			"message_id", n.ID,
			"destination", n.Callback.Destination.Hex(),
			"weight_used", used,
			"error", failure,
		)
	} else {
		slog.Info("callback executed",
			"message_id", n.ID,
			"destination", n.Callback.Destination.Hex(),
			"weight_used", used,
		)
	}

	d.emit(ctx, kind, n, attrs)
}

// emit appends an event to the log and publishes it to the sinks.
func (d *Dispatcher) emit(ctx context.Context, kind ir.EventKind, n engine.Notification, attrs map[string]any) {
	ev, err := ir.NewEvent(kind, n.Block, d.clock.Next(), attrs)
	if err != nil {
		slog.Error("build callback event", "message_id", n.ID, "kind", kind, "error", err)
		return
	}
	if d.log != nil {
		if err := d.log.AppendEvents(ctx, ev); err != nil {
			slog.Error("append callback event", "message_id", n.ID, "error", err)
		}
	}
	for _, sink := range d.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			slog.Error("event sink publish failed", "kind", ev.Kind, "seq", ev.Seq, "error", err)
		}
	}
}
