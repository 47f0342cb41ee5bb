package harness

import (
	"encoding/hex"
	"fmt"

	"github.com/roach88/courier/internal/callback"
	"github.com/roach88/courier/internal/ir"
)

// StepTrace records what one step did.
type StepTrace struct {
	Index int    `json:"index"`
	Op    string `json:"op"`
	// Error is the engine error code, empty on success.
	Error  string         `json:"error,omitempty"`
	Output map[string]any `json:"output,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion holds.
	Pass bool `json:"pass"`

	// Steps traces each step in order.
	Steps []StepTrace `json:"steps"`

	// Events is the engine's event log after the last step.
	Events []ir.Event `json:"events"`

	// Callbacks are the encoded notifications in execution order.
	Callbacks []callback.Call `json:"callbacks"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepTrace{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStepTrace appends a step to the trace.
func (r *Result) AddStepTrace(index int, op, code string, output map[string]any) {
	r.Steps = append(r.Steps, StepTrace{
		Index:  index,
		Op:     op,
		Error:  code,
		Output: output,
	})
}

// checkExpect compares a step's outcome with its expect clause and returns
// one message per mismatch.
func checkExpect(step Step, code string, out map[string]any) []string {
	e := step.Expect
	if e == nil || e.Error == "" {
		if code != "" {
			return []string{fmt.Sprintf("unexpected error %s", code)}
		}
	} else if code != e.Error {
		got := code
		if got == "" {
			got = "success"
		}
		return []string{fmt.Sprintf("expected error %s, got %s", e.Error, got)}
	}
	if e == nil {
		return nil
	}

	var msgs []string
	if e.Status != "" && out["status"] != e.Status {
		msgs = append(msgs, fmt.Sprintf("expected status %s, got %v", e.Status, out["status"]))
	}
	if e.Payload != nil {
		want, err := decodePayload(*e.Payload)
		if err != nil {
			msgs = append(msgs, err.Error())
		} else if got := "0x" + hex.EncodeToString(want); out["payload"] != got {
			msgs = append(msgs, fmt.Sprintf("expected payload %s, got %v", got, out["payload"]))
		}
	}
	if e.Block != nil && out["block"] != ir.BlockNumber(*e.Block) {
		msgs = append(msgs, fmt.Sprintf("expected block %d, got %v", *e.Block, out["block"]))
	}
	if e.Free != nil && out["free"] != ir.Balance(*e.Free) {
		msgs = append(msgs, fmt.Sprintf("expected free %d, got %v", *e.Free, out["free"]))
	}
	if e.Reserved != nil && out["reserved"] != ir.Balance(*e.Reserved) {
		msgs = append(msgs, fmt.Sprintf("expected reserved %d, got %v", *e.Reserved, out["reserved"]))
	}
	return msgs
}
