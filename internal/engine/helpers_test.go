package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/roach88/courier/internal/ir"
	"github.com/roach88/courier/internal/ledger"
	"github.com/roach88/courier/internal/store"
)

const startingFunds ir.Balance = 1_000_000

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// setupTestEngine returns an engine over a fresh store with alice and bob
// funded in an in-memory ledger.
func setupTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *ledger.Memory) {
	t.Helper()
	ctx := context.Background()

	l := ledger.NewMemory()
	require.NoError(t, l.Credit(ctx, "alice", startingFunds))
	require.NoError(t, l.Credit(ctx, "bob", startingFunds))

	e, err := New(ctx, setupTestStore(t), l, opts...)
	require.NoError(t, err)
	return e, l
}

func testCallback() *ir.Callback {
	return &ir.Callback{
		Destination:  common.HexToAddress("0x00000000000000000000000000000000000000cb"),
		Encoding:     ir.EncodingNative,
		Selector:     ir.Selector{0x12, 0x34, 0x56, 0x78},
		WeightBudget: 10_000,
	}
}

// mustCreate creates a query expiring timeoutIn blocks from now.
func mustCreate(t *testing.T, e *Engine, origin ir.Account, timeoutIn ir.BlockNumber, cb *ir.Callback) Created {
	t.Helper()
	ctx := context.Background()
	current, err := e.CurrentBlock(ctx)
	require.NoError(t, err)

	c, err := e.CreateQuery(ctx, QueryRequest{
		Origin:           origin,
		CorrelationToken: "para:1000",
		Timeout:          current + timeoutIn,
		Callback:         cb,
	})
	require.NoError(t, err)
	return c
}

// recordingHook collects notifications and optionally fails.
type recordingHook struct {
	mu    sync.Mutex
	notes []Notification
	fail  bool
}

func (h *recordingHook) Notify(_ context.Context, n Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notes = append(h.notes, n)
	if h.fail {
		return errors.New("destination unreachable")
	}
	return nil
}

func (h *recordingHook) Notes() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Notification(nil), h.notes...)
}

// stubTransport issues refs from a fixed list and can be made to fail. It
// records every request it is handed, failed or not.
type stubTransport struct {
	refs     []string
	reqs     []Request
	fail     error
	onSubmit func(req Request)
}

func (s *stubTransport) Submit(_ context.Context, req Request) (Receipt, error) {
	s.reqs = append(s.reqs, req)
	if s.onSubmit != nil {
		s.onSubmit(req)
	}
	if s.fail != nil {
		return Receipt{}, s.fail
	}
	var ref string
	if len(s.refs) > 0 {
		ref, s.refs = s.refs[0], s.refs[1:]
	}
	return Receipt{Ref: ref}, nil
}

func submittedIDs(reqs []Request) []ir.MessageID {
	ids := make([]ir.MessageID, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID
	}
	return ids
}

// setupSQLEngine returns an engine whose ledger keeps its accounts in the
// store's own database, with alice and bob funded.
func setupSQLEngine(t *testing.T, opts ...EngineOption) (*Engine, *ledger.SQL) {
	t.Helper()
	ctx := context.Background()

	s := setupTestStore(t)
	l := ledger.NewSQL(s.DB())
	require.NoError(t, l.Init(ctx))
	require.NoError(t, l.Credit(ctx, "alice", startingFunds))
	require.NoError(t, l.Credit(ctx, "bob", startingFunds))

	e, err := New(ctx, s, l, opts...)
	require.NoError(t, err)
	return e, l
}

// flakyLedger fails Release from the failAt-th call on. Zero never fails.
type flakyLedger struct {
	*ledger.Memory
	releases int
	failAt   int
}

var errLedgerDown = errors.New("ledger unavailable")

func (f *flakyLedger) Release(ctx context.Context, account ir.Account, amount ir.Balance) error {
	f.releases++
	if f.failAt > 0 && f.releases >= f.failAt {
		return errLedgerDown
	}
	return f.Memory.Release(ctx, account, amount)
}

func setupFlakyEngine(t *testing.T, opts ...EngineOption) (*Engine, *flakyLedger) {
	t.Helper()
	ctx := context.Background()

	l := &flakyLedger{Memory: ledger.NewMemory()}
	require.NoError(t, l.Credit(ctx, "alice", startingFunds))

	e, err := New(ctx, setupTestStore(t), l, opts...)
	require.NoError(t, err)
	return e, l
}

// captureSink records published events.
type captureSink struct {
	mu  sync.Mutex
	evs []ir.Event
}

func (c *captureSink) Publish(_ context.Context, ev ir.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, ev)
	return nil
}

func (c *captureSink) Kinds() []ir.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]ir.EventKind, len(c.evs))
	for i, ev := range c.evs {
		kinds[i] = ev.Kind
	}
	return kinds
}
