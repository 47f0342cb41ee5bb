// Package testutil provides deterministic fakes for callback execution and
// event publication, shared by the harness and CLI tests.
package testutil

import (
	"context"
	"sync"

	"github.com/roach88/courier/internal/callback"
)

// RecordingExecutor records every call instead of running it.
//
// Unlike callback.LogExecutor, it can be told to report a weight or fail,
// and can be reset for test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingExecutor struct {
	mu     sync.Mutex
	calls  []callback.Call
	result callback.Result
	err    error
}

// NewRecordingExecutor creates an executor that succeeds with unreported
// weight.
func NewRecordingExecutor() *RecordingExecutor {
	return &RecordingExecutor{}
}

// Report makes subsequent calls return r.
func (x *RecordingExecutor) Report(r callback.Result) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.result = r
}

// FailWith makes subsequent calls fail with err. A nil err restores success.
func (x *RecordingExecutor) FailWith(err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.err = err
}

// Execute implements callback.Executor.
func (x *RecordingExecutor) Execute(_ context.Context, call callback.Call) (callback.Result, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	call.Data = append([]byte(nil), call.Data...)
	x.calls = append(x.calls, call)
	return x.result, x.err
}

// Calls returns the recorded calls in execution order.
func (x *RecordingExecutor) Calls() []callback.Call {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]callback.Call, len(x.calls))
	copy(out, x.calls)
	return out
}

// Reset forgets recorded calls and restores default behaviour.
func (x *RecordingExecutor) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls = nil
	x.result = callback.Result{}
	x.err = nil
}
