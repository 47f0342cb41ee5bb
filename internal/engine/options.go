package engine

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/courier/internal/ir"
	"github.com/roach88/courier/internal/weight"
)

// Defaults for Limits.
const (
	DefaultMaxTimeoutsPerBlock = 100
	DefaultMaxRemovals         = 1024
	DefaultMaxResponseLen      = 1024
)

// Limits bound the work a single operation may do.
type Limits struct {
	// MaxTimeoutsPerBlock caps each expiry bucket, which bounds sweep cost.
	MaxTimeoutsPerBlock int
	// MaxRemovals caps the size of a removal batch.
	MaxRemovals int
	// MaxResponseLen caps stored response payloads, in bytes.
	MaxResponseLen int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxTimeoutsPerBlock: DefaultMaxTimeoutsPerBlock,
		MaxRemovals:         DefaultMaxRemovals,
		MaxResponseLen:      DefaultMaxResponseLen,
	}
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLimits replaces all limits at once.
func WithLimits(l Limits) EngineOption {
	return func(e *Engine) {
		e.limits = l
	}
}

// WithMaxTimeoutsPerBlock sets the expiry bucket cap.
//
// Use WithMaxTimeoutsPerBlock(1) for testing the cap.
func WithMaxTimeoutsPerBlock(n int) EngineOption {
	return func(e *Engine) {
		e.limits.MaxTimeoutsPerBlock = n
	}
}

// WithMaxRemovals sets the removal batch cap.
func WithMaxRemovals(n int) EngineOption {
	return func(e *Engine) {
		e.limits.MaxRemovals = n
	}
}

// WithMaxResponseLen sets the response payload cap.
func WithMaxResponseLen(n int) EngineOption {
	return func(e *Engine) {
		e.limits.MaxResponseLen = n
	}
}

// WithDeposit sets the deposit policy.
func WithDeposit(p DepositPolicy) EngineOption {
	return func(e *Engine) {
		e.deposit = p
	}
}

// WithMeter sets the weight meter and the cost table it is charged from.
func WithMeter(m weight.Meter, costs weight.CostTable) EngineOption {
	return func(e *Engine) {
		e.meter = m
		e.costs = costs
	}
}

// WithHook sets the post-commit notification hook.
func WithHook(h Hook) EngineOption {
	return func(e *Engine) {
		e.hook = h
	}
}

// WithTransport sets the outbound transport.
func WithTransport(t Transport) EngineOption {
	return func(e *Engine) {
		e.transport = t
	}
}

// WithSinks adds event sinks.
func WithSinks(sinks ...EventSink) EngineOption {
	return func(e *Engine) {
		e.sinks = append(e.sinks, sinks...)
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// WithClock sets the event seq clock instead of resuming from the store.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// DepositPolicy sizes the deposit from the storage footprint of a request:
//
//	Base + ByteFee * (record + timeout entry + token + callback + MaxResponseLen)
//
// The response allowance is reserved up front so the deposit never has to
// grow when the response arrives.
//
// A callback additionally holds WeightFee per unit of its weight budget. The
// fee for the weight the callback used is paid after it runs and the rest
// is returned.
type DepositPolicy struct {
	Base      ir.Balance
	ByteFee   ir.Balance
	WeightFee ir.Balance
}

// DefaultDepositPolicy returns the policy used when none is configured.
func DefaultDepositPolicy() DepositPolicy {
	return DepositPolicy{Base: 1_000, ByteFee: 10, WeightFee: 1}
}

// Encoded sizes of the stored parts of a request.
const (
	// id, kind, origin hash, deposit, block fields
	messageRecordBytes = 8 + 1 + 32 + 16 + 8
	// block + id
	timeoutEntryBytes = 8 + 8
	// destination, encoding, selector, weight budget
	callbackBytes = 20 + 1 + 4 + 8
)

// For returns the deposit for a request.
func (p DepositPolicy) For(token string, cb *ir.Callback, maxResponseLen int) ir.Balance {
	n := uint64(messageRecordBytes + timeoutEntryBytes + len(token) + maxResponseLen)
	if cb != nil {
		n += callbackBytes
	}
	return saturatingAdd(p.Base, saturatingMul(p.ByteFee, ir.Balance(n)))
}

// CallbackFee returns the fee for w units of callback weight.
func (p DepositPolicy) CallbackFee(w ir.Weight) ir.Balance {
	return saturatingMul(p.WeightFee, ir.Balance(w))
}

func saturatingAdd(a, b ir.Balance) ir.Balance {
	if s := a + b; s >= a {
		return s
	}
	return ^ir.Balance(0)
}

func saturatingMul(a, b ir.Balance) ir.Balance {
	if a == 0 || b == 0 {
		return 0
	}
	if p := a * b; p/b == a {
		return p
	}
	return ^ir.Balance(0)
}
