package harness

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/courier/internal/callback"
	"github.com/roach88/courier/internal/engine"
	"github.com/roach88/courier/internal/ir"
	"github.com/roach88/courier/internal/ledger"
	"github.com/roach88/courier/internal/store"
	"github.com/roach88/courier/internal/testutil"
	"github.com/roach88/courier/internal/transport"
)

// Harness is the test execution engine.
// It runs scenarios against a real engine with deterministic transport
// references, a recording callback executor and an in-memory ledger.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	ledger   *ledger.Memory
	loopback *transport.Loopback
	executor *testutil.RecordingExecutor
	logger   *slog.Logger

	labels map[string]ir.MessageID
	refs   map[ir.MessageID]string
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database and engine
// 2. Fund scenario accounts
// 3. Execute steps, checking each expect clause
// 4. Collect the event log and callbacks
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(ctx, st, scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	result.Events, err = st.ListEvents(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	result.Callbacks = h.executor.Calls()

	actx := &AssertionContext{
		Ctx:    ctx,
		Engine: h.engine,
		Labels: h.labels,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func newHarness(ctx context.Context, st *store.Store, scenario *Scenario) (*Harness, error) {
	l := ledger.NewMemory()
	for account, amount := range scenario.Accounts {
		if err := l.Credit(ctx, ir.Account(account), ir.Balance(amount)); err != nil {
			return nil, fmt.Errorf("fund %s: %w", account, err)
		}
	}

	limits := engine.DefaultLimits()
	if s := scenario.Limits; s != nil {
		if s.MaxTimeoutsPerBlock > 0 {
			limits.MaxTimeoutsPerBlock = s.MaxTimeoutsPerBlock
		}
		if s.MaxRemovals > 0 {
			limits.MaxRemovals = s.MaxRemovals
		}
		if s.MaxResponseLen > 0 {
			limits.MaxResponseLen = s.MaxResponseLen
		}
	}

	// Suppress logs in tests
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	clock := engine.NewClock()
	exec := testutil.NewRecordingExecutor()
	dispatcher := callback.NewDispatcher(exec, callback.WithEventLog(st, clock))
	loop := transport.NewLoopback(transport.NewSequenceGenerator("ref"))

	eng, err := engine.New(ctx, st, l,
		engine.WithLimits(limits),
		engine.WithClock(clock),
		engine.WithHook(dispatcher),
		engine.WithTransport(loop),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	loop.Bind(eng)
	dispatcher.Bind(eng)

	return &Harness{
		store:    st,
		engine:   eng,
		ledger:   l,
		loopback: loop,
		executor: exec,
		logger:   logger,
		labels:   make(map[string]ir.MessageID),
		refs:     make(map[ir.MessageID]string),
	}, nil
}

// executeSteps runs all steps in order and checks expect clauses.
//
// An engine error is an outcome, not a harness failure: it is recorded in
// the trace and compared with the step's expectation. Only malformed steps
// (unknown labels, bad hex) abort the run.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		oc, err := h.execute(ctx, step)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}

		code := ""
		if oc.err != nil {
			code = string(engine.CodeOf(oc.err))
			if code == "" {
				// A failure with no engine code is a harness-level fault.
				return fmt.Errorf("step %d (%s): %w", i, step.Op, oc.err)
			}
		}
		result.AddStepTrace(i, step.Op, code, oc.out)

		for _, msg := range checkExpect(step, code, oc.out) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", i, step.Op, msg))
		}

		h.logger.Info("step completed",
			"step", i,
			"op", step.Op,
			"error_code", code,
		)
	}
	return nil
}

// outcome is what a step produced: its observable output, or the engine
// error that rejected it.
type outcome struct {
	out map[string]any
	err error
}

// execute runs one step. The returned error is non-nil only when the step
// itself is malformed.
func (h *Harness) execute(ctx context.Context, step Step) (outcome, error) {
	switch step.Op {
	case OpCreate:
		req, err := h.queryRequest(step)
		if err != nil {
			return outcome{}, err
		}
		created, opErr := h.engine.CreateQuery(ctx, req)
		if opErr != nil {
			return outcome{err: opErr}, nil
		}
		if step.As != "" {
			h.labels[step.As] = created.ID
		}
		h.refs[created.ID] = created.TransportRef
		out := map[string]any{
			"id":            created.ID,
			"transport_ref": created.TransportRef,
			"deposit":       created.Deposit,
		}
		if created.CallbackFee > 0 {
			out["callback_fee"] = created.CallbackFee
		}
		return outcome{out: out}, nil

	case OpResolve, OpDeliver:
		id, err := h.handle(step.ID)
		if err != nil {
			return outcome{}, err
		}
		payload, err := decodePayload(step.Payload)
		if err != nil {
			return outcome{}, err
		}
		if step.Op == OpResolve {
			return outcome{err: h.engine.Resolve(ctx, id, payload)}, nil
		}
		ref, ok := h.refs[id]
		if !ok {
			return outcome{}, fmt.Errorf("no transport ref for %q", step.ID)
		}
		if err := h.loopback.Deliver(ctx, ref, payload); err != nil {
			if errors.Is(err, transport.ErrUnknownRef) {
				// The loopback forgets a ref once it is answered. Ask the
				// engine directly so a repeated answer is still observable.
				return outcome{err: h.engine.ResolveRef(ctx, ref, payload)}, nil
			}
			return outcome{err: err}, nil
		}
		return outcome{}, nil

	case OpAdvance:
		block, opErr := h.engine.Advance(ctx, step.Blocks)
		if opErr != nil {
			return outcome{err: opErr}, nil
		}
		return outcome{out: map[string]any{"block": block}}, nil

	case OpRemove:
		ids := make([]ir.MessageID, len(step.IDs))
		for i, label := range step.IDs {
			id, err := h.handle(label)
			if err != nil {
				return outcome{}, err
			}
			ids[i] = id
		}
		return outcome{err: h.engine.Remove(ctx, ir.Account(step.Origin), ids)}, nil

	case OpStatus:
		id, err := h.handle(step.ID)
		if err != nil {
			return outcome{}, err
		}
		status, opErr := h.engine.PollStatus(ctx, id)
		if opErr != nil {
			return outcome{err: opErr}, nil
		}
		return outcome{out: map[string]any{"status": status.String()}}, nil

	case OpFetch:
		id, err := h.handle(step.ID)
		if err != nil {
			return outcome{}, err
		}
		payload, opErr := h.engine.Response(ctx, id)
		if opErr != nil {
			return outcome{err: opErr}, nil
		}
		return outcome{out: map[string]any{"payload": "0x" + hex.EncodeToString(payload)}}, nil

	case OpBalance:
		funds, err := h.ledger.Balance(ctx, ir.Account(step.Account))
		if err != nil {
			return outcome{}, err
		}
		return outcome{out: map[string]any{
			"free":     funds.Free,
			"reserved": funds.Reserved,
		}}, nil
	}

	return outcome{}, fmt.Errorf("unknown op %q", step.Op)
}

func (h *Harness) queryRequest(step Step) (engine.QueryRequest, error) {
	req := engine.QueryRequest{
		Origin:           ir.Account(step.Origin),
		CorrelationToken: step.Token,
		Timeout:          ir.BlockNumber(step.Timeout),
	}
	if cb := step.Callback; cb != nil {
		enc, err := ir.ParseEncoding(cb.Encoding)
		if err != nil {
			return req, err
		}
		sel, err := ir.ParseSelector(cb.Selector)
		if err != nil {
			return req, err
		}
		if !common.IsHexAddress(cb.Destination) {
			return req, fmt.Errorf("invalid destination %q", cb.Destination)
		}
		req.Callback = &ir.Callback{
			Destination:  common.HexToAddress(cb.Destination),
			Encoding:     enc,
			Selector:     sel,
			WeightBudget: ir.Weight(cb.WeightBudget),
		}
	}
	return req, nil
}

// handle resolves a label to the handle it was bound to, or parses a raw
// handle number.
func (h *Harness) handle(label string) (ir.MessageID, error) {
	if id, ok := h.labels[label]; ok {
		return id, nil
	}
	n, err := strconv.ParseUint(label, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown handle label %q", label)
	}
	return ir.MessageID(n), nil
}

func decodePayload(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		b, err := hex.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("payload %q: %w", s, err)
		}
		return b, nil
	}
	return []byte(s), nil
}
