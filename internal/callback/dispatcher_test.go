package callback

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/courier/internal/engine"
	"github.com/roach88/courier/internal/ir"
	"github.com/roach88/courier/internal/ledger"
	"github.com/roach88/courier/internal/store"
	"github.com/roach88/courier/internal/weight"
)

type scriptedExecutor struct {
	mu     sync.Mutex
	calls  []Call
	result Result
	err    error
}

func (x *scriptedExecutor) Execute(_ context.Context, call Call) (Result, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls = append(x.calls, call)
	return x.result, x.err
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDispatcher_ReportedWeightRefunded(t *testing.T) {
	s := setupTestStore(t)
	meter := weight.NewBudget(0)
	exec := &scriptedExecutor{result: Result{WeightUsed: 300, Reported: true}}
	d := NewDispatcher(exec, WithMeter(meter), WithEventLog(s, engine.NewClock()))
	ctx := context.Background()

	n := notification(ir.EncodingNative, "12345678", 5, engine.OutcomeResponse, []byte{1})
	require.NoError(t, d.Notify(ctx, n))

	assert.Equal(t, ir.Weight(300), meter.UsedBy(weight.OpCallback))
	require.Len(t, exec.calls, 1)
	assert.Equal(t, n.Callback.WeightBudget, exec.calls[0].WeightLimit)
	assert.Equal(t, n.Callback.Destination, exec.calls[0].Destination)

	want, err := Encode(n)
	require.NoError(t, err)
	assert.Equal(t, want, exec.calls[0].Data)

	evs, err := s.ListEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, ir.EventCallbackExecuted, evs[0].Kind)
	assert.Equal(t, int64(300), evs[0].Attrs["weight_used"])
	assert.Equal(t, "response", evs[0].Attrs["outcome"])
}

func TestDispatcher_UnreportedWeightKeepsBudget(t *testing.T) {
	meter := weight.NewBudget(0)
	var got Call
	exec := ExecutorFunc(func(_ context.Context, call Call) (Result, error) {
		got = call
		return Result{}, nil
	})
	d := NewDispatcher(exec, WithMeter(meter))

	n := notification(ir.EncodingCallingConvention, "12345678", 5, engine.OutcomeTimeout, nil)
	require.NoError(t, d.Notify(context.Background(), n))

	assert.Equal(t, n.ID, got.MessageID)
	assert.Equal(t, n.Callback.WeightBudget, meter.UsedBy(weight.OpCallback))
}

func TestDispatcher_OverReportCappedAtBudget(t *testing.T) {
	meter := weight.NewBudget(0)
	d := NewDispatcher(&scriptedExecutor{result: Result{WeightUsed: 5000, Reported: true}}, WithMeter(meter))

	n := notification(ir.EncodingNative, "12345678", 5, engine.OutcomeResponse, nil)
	require.NoError(t, d.Notify(context.Background(), n))

	assert.Equal(t, n.Callback.WeightBudget, meter.UsedBy(weight.OpCallback))
}

func TestDispatcher_FailureRecorded(t *testing.T) {
	s := setupTestStore(t)
	meter := weight.NewBudget(0)
	exec := &scriptedExecutor{
		result: Result{WeightUsed: 10, Reported: true},
		err:    errors.New("revert"),
	}
	d := NewDispatcher(exec, WithMeter(meter), WithEventLog(s, engine.NewClock()))
	ctx := context.Background()

	n := notification(ir.EncodingNative, "12345678", 8, engine.OutcomeResponse, nil)
	err := d.Notify(ctx, n)
	require.Error(t, err)

	// A failed call keeps the whole budget.
	assert.Equal(t, n.Callback.WeightBudget, meter.UsedBy(weight.OpCallback))

	evs, err := s.ListEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, ir.EventCallbackFailed, evs[0].Kind)
	assert.Equal(t, "revert", evs[0].Attrs["error"])
}

func TestDispatcher_BudgetExhausted(t *testing.T) {
	exec := &scriptedExecutor{}
	d := NewDispatcher(exec, WithMeter(weight.NewBudget(10)))

	err := d.Notify(context.Background(), notification(ir.EncodingNative, "12345678", 1, engine.OutcomeResponse, nil))
	assert.True(t, weight.IsExhausted(err))
	assert.Empty(t, exec.calls, "nothing executes without budget")
}

// The dispatcher wired to a real engine: outcome events land in the same
// log as engine events, with seq from the shared clock.
func TestDispatcher_WithEngine(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	l := ledger.NewMemory()
	require.NoError(t, l.Credit(ctx, "alice", 1_000_000))

	exec := &scriptedExecutor{result: Result{WeightUsed: 1, Reported: true}}
	var d *Dispatcher
	e, err := engine.New(ctx, s, l, engine.WithHook(engine.HookFunc(func(ctx context.Context, n engine.Notification) error {
		return d.Notify(ctx, n)
	})))
	require.NoError(t, err)
	d = NewDispatcher(exec, WithEventLog(s, e.Clock()))
	d.Bind(e)

	cb := notification(ir.EncodingCallingConvention, "12345678", 0, 0, nil).Callback
	a, err := e.CreateQuery(ctx, engine.QueryRequest{Origin: "alice", Timeout: 2, Callback: &cb})
	require.NoError(t, err)
	b, err := e.CreateQuery(ctx, engine.QueryRequest{Origin: "alice", Timeout: 2, Callback: &cb})
	require.NoError(t, err)

	require.NoError(t, e.Resolve(ctx, a.ID, []byte("hi")))
	_, err = e.Advance(ctx, 2)
	require.NoError(t, err)

	require.Len(t, exec.calls, 2)
	assert.Equal(t, a.ID, exec.calls[0].MessageID)
	assert.Equal(t, b.ID, exec.calls[1].MessageID)

	evs, err := s.ListEvents(ctx, 0, 0)
	require.NoError(t, err)
	kinds := make([]ir.EventKind, len(evs))
	for i, ev := range evs {
		kinds[i] = ev.Kind
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	assert.Equal(t, []ir.EventKind{
		ir.EventQueryCreated,
		ir.EventQueryCreated,
		ir.EventResponseReceived,
		ir.EventCallbackExecuted,
		ir.EventQueriesTimedOut,
		ir.EventCallbackExecuted,
	}, kinds)

	// Each callback used 1 of its 1000 budget: 1 is paid, 999 returned.
	assert.Equal(t, int64(1), evs[3].Attrs["fee_charged"])
	assert.Equal(t, int64(999), evs[3].Attrs["fee_refunded"])
	f, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, a.Deposit+b.Deposit, f.Reserved)
	assert.Equal(t, ir.Balance(1_000_000)-a.Deposit-b.Deposit-2, f.Free)
	assert.Equal(t, ir.Balance(2), l.Settled())
}

// fakeSettler records settlements and answers with a fixed result.
type fakeSettler struct {
	used []ir.Weight
	res  engine.Settlement
	err  error
}

func (f *fakeSettler) SettleCallback(_ context.Context, _ ir.MessageID, used ir.Weight) (engine.Settlement, error) {
	f.used = append(f.used, used)
	return f.res, f.err
}

func TestDispatcher_SettlesKeptWeight(t *testing.T) {
	s := setupTestStore(t)
	settler := &fakeSettler{res: engine.Settlement{Charged: 300, Refunded: 700}}
	exec := &scriptedExecutor{result: Result{WeightUsed: 300, Reported: true}}
	d := NewDispatcher(exec, WithSettler(settler), WithEventLog(s, engine.NewClock()))
	ctx := context.Background()

	require.NoError(t, d.Notify(ctx, notification(ir.EncodingNative, "12345678", 5, engine.OutcomeResponse, nil)))

	assert.Equal(t, []ir.Weight{300}, settler.used)
	evs, err := s.ListEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(300), evs[0].Attrs["fee_charged"])
	assert.Equal(t, int64(700), evs[0].Attrs["fee_refunded"])
}

func TestDispatcher_UnrunCallbackSettlesAsZero(t *testing.T) {
	settler := &fakeSettler{}
	exec := &scriptedExecutor{}
	d := NewDispatcher(exec, WithMeter(weight.NewBudget(10)), WithSettler(settler))

	err := d.Notify(context.Background(), notification(ir.EncodingNative, "12345678", 1, engine.OutcomeTimeout, nil))
	require.Error(t, err)
	assert.Empty(t, exec.calls)
	assert.Equal(t, []ir.Weight{0}, settler.used, "the whole fee goes back when nothing ran")
}

func TestDispatcher_SettlementFailureRecorded(t *testing.T) {
	s := setupTestStore(t)
	settler := &fakeSettler{err: engine.ErrMessageNotFound}
	exec := &scriptedExecutor{result: Result{WeightUsed: 40, Reported: true}}
	d := NewDispatcher(exec, WithSettler(settler), WithEventLog(s, engine.NewClock()))
	ctx := context.Background()

	// The callback itself succeeded; only the fee could not be settled.
	require.NoError(t, d.Notify(ctx, notification(ir.EncodingNative, "12345678", 9, engine.OutcomeResponse, nil)))

	evs, err := s.ListEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, ir.EventWeightRefundErrored, evs[0].Kind)
	assert.Equal(t, int64(9), evs[0].Attrs["id"])
	assert.Equal(t, int64(40), evs[0].Attrs["weight_used"])
	assert.Contains(t, evs[0].Attrs["error"], "MessageNotFound")

	assert.Equal(t, ir.EventCallbackExecuted, evs[1].Kind)
	assert.NotContains(t, evs[1].Attrs, "fee_charged")
}
