package harness

import (
	"encoding/hex"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/courier/internal/ir"
)

// Snapshot renders a result as canonical JSON for golden comparison.
//
// Event ids are left out: they are content hashes of fields the snapshot
// already shows, and would only make golden files harder to read.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	steps := make([]any, len(result.Steps))
	for i, st := range result.Steps {
		m := map[string]any{
			"index": st.Index,
			"op":    st.Op,
		}
		if st.Error != "" {
			m["error"] = st.Error
		}
		if st.Output != nil {
			m["output"] = st.Output
		}
		steps[i] = m
	}

	events := make([]any, len(result.Events))
	for i, ev := range result.Events {
		m := map[string]any{
			"seq":   ev.Seq,
			"kind":  string(ev.Kind),
			"block": ev.Block,
		}
		if ev.Attrs != nil {
			m["attrs"] = ev.Attrs
		}
		events[i] = m
	}

	callbacks := make([]any, len(result.Callbacks))
	for i, call := range result.Callbacks {
		callbacks[i] = map[string]any{
			"id":           call.MessageID,
			"destination":  call.Destination.Hex(),
			"weight_limit": call.WeightLimit,
			"data":         "0x" + hex.EncodeToString(call.Data),
		}
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"steps":         steps,
		"events":        events,
		"callbacks":     callbacks,
	})
}

// RunWithGolden executes a scenario and compares the snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
