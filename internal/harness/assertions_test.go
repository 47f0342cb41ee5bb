package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/courier/internal/callback"
	"github.com/roach88/courier/internal/ir"
)

func eventLog(kinds ...ir.EventKind) []ir.Event {
	evs := make([]ir.Event, len(kinds))
	for i, k := range kinds {
		evs[i] = ir.Event{Seq: int64(i + 1), Kind: k}
	}
	return evs
}

func TestAssertEventCount(t *testing.T) {
	evs := eventLog(ir.EventQueryCreated, ir.EventQueryCreated, ir.EventQueriesTimedOut)

	assert.NoError(t, assertEventCount(evs, Assertion{Kind: "QueryCreated", Count: 2}))
	assert.NoError(t, assertEventCount(evs, Assertion{Kind: "MessagesRemoved", Count: 0}))

	err := assertEventCount(evs, Assertion{Kind: "QueryCreated", Count: 1})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "2 occurrences", ae.Actual)
	assert.Contains(t, err.Error(), "Event log:")
}

func TestAssertEventOrder(t *testing.T) {
	evs := eventLog(
		ir.EventQueryCreated,
		ir.EventResponseReceived,
		ir.EventCallbackExecuted,
		ir.EventQueryCreated,
		ir.EventMessagesRemoved,
	)

	assert.NoError(t, assertEventOrder(evs, Assertion{Kinds: []string{"QueryCreated", "MessagesRemoved"}}))
	assert.NoError(t, assertEventOrder(evs, Assertion{Kinds: []string{"ResponseReceived", "CallbackExecuted"}}))

	err := assertEventOrder(evs, Assertion{Kinds: []string{"CallbackExecuted", "ResponseReceived"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertEventOrder(evs, Assertion{Kinds: []string{"QueryCreated", "QueriesTimedOut"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing kind: QueriesTimedOut")
}

func TestAssertCallbackCount(t *testing.T) {
	r := NewResult()
	r.Callbacks = []callback.Call{{MessageID: 1}, {MessageID: 2}}

	assert.NoError(t, assertCallbackCount(r, Assertion{Count: 2}))
	assert.Error(t, assertCallbackCount(r, Assertion{Count: 1}))
}

func TestEvaluateAssertions_FinalStatusNeedsEngine(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertFinalStatus, ID: "q", Status: "pending"},
	}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires engine context")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: "vibes"}}, &AssertionContext{Ctx: context.Background()})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "vibes"`)
}

func TestRun_FailingAssertions(t *testing.T) {
	s := mustParse(t, `
name: wrong
description: assertions that do not hold
accounts: {alice: 1000000}
steps:
  - {op: create, as: q, origin: alice, timeout: 3}
assertions:
  - {type: event_count, kind: QueryCreated, count: 2}
  - {type: callback_count, count: 1}
  - {type: final_status, id: q, status: complete}
  - {type: final_status, id: ghost, status: pending}
`)
	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "event_count")
	assert.Contains(t, result.Errors[1], "callback_count")
	assert.Contains(t, result.Errors[2], "Actual: pending")
	assert.Contains(t, result.Errors[3], `unknown handle label "ghost"`)
}
