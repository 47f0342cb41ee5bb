package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/courier/internal/engine"
	"github.com/roach88/courier/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string     // Assertion type for categorization
	Expected string     // Human-readable expected outcome
	Actual   string     // Human-readable actual outcome
	Events   []ir.Event // Full event log for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Events) > 0 {
		fmt.Fprintf(&buf, "\nEvent log:\n")
		for _, ev := range e.Events {
			fmt.Fprintf(&buf, "  [%d] block %d %s %v\n", ev.Seq, ev.Block, ev.Kind, ev.Attrs)
		}
	}

	return buf.String()
}

// assertEventCount checks that events of the kind appear exactly Count times.
func assertEventCount(events []ir.Event, assertion Assertion) error {
	count := 0
	for _, ev := range events {
		if string(ev.Kind) == assertion.Kind {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Kind),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Events:   events,
		}
	}
	return nil
}

// assertEventOrder checks that the first occurrences of the kinds appear in
// the listed order. Other events may appear in between.
func assertEventOrder(events []ir.Event, assertion Assertion) error {
	positions := make(map[string]int)
	for i, ev := range events {
		kind := string(ev.Kind)
		if positions[kind] == 0 {
			positions[kind] = i + 1 // 1-indexed for readability
		}
	}

	for _, kind := range assertion.Kinds {
		if positions[kind] == 0 {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("all kinds present: %v", assertion.Kinds),
				Actual:   fmt.Sprintf("missing kind: %s", kind),
				Events:   events,
			}
		}
	}

	for i := 1; i < len(assertion.Kinds); i++ {
		prev, curr := assertion.Kinds[i-1], assertion.Kinds[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("kinds in order: %v", assertion.Kinds),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Events: events,
			}
		}
	}
	return nil
}

// assertCallbackCount checks how many callbacks were executed.
func assertCallbackCount(result *Result, assertion Assertion) error {
	if got := len(result.Callbacks); got != assertion.Count {
		return &AssertionError{
			Type:     AssertCallbackCount,
			Expected: fmt.Sprintf("%d callbacks", assertion.Count),
			Actual:   fmt.Sprintf("%d callbacks", got),
			Events:   result.Events,
		}
	}
	return nil
}

// assertFinalStatus polls the engine for the handle's status.
func assertFinalStatus(actx *AssertionContext, assertion Assertion) error {
	id, ok := actx.Labels[assertion.ID]
	if !ok {
		return fmt.Errorf("final_status: unknown handle label %q", assertion.ID)
	}

	status, err := actx.Engine.PollStatus(actx.Ctx, id)
	if err != nil {
		return fmt.Errorf("final_status: poll %s: %w", assertion.ID, err)
	}

	if status.String() != assertion.Status {
		return &AssertionError{
			Type:     AssertFinalStatus,
			Expected: fmt.Sprintf("%s is %s", assertion.ID, assertion.Status),
			Actual:   status.String(),
		}
	}
	return nil
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ctx    context.Context
	Engine *engine.Engine
	Labels map[string]ir.MessageID
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides engine access for final_status assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventCount:
			err = assertEventCount(result.Events, assertion)
		case AssertEventOrder:
			err = assertEventOrder(result.Events, assertion)
		case AssertCallbackCount:
			err = assertCallbackCount(result, assertion)
		case AssertFinalStatus:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: final_status requires engine context", i)
			} else {
				err = assertFinalStatus(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
