package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/courier/internal/engine"
	"github.com/roach88/courier/internal/ir"
)

// Scenario defines a conformance test scenario.
// Scenarios drive a fresh engine through a list of steps and assert on the
// resulting event log, callbacks and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Limits overrides engine limits. Unset fields keep their defaults.
	Limits *LimitsSpec `yaml:"limits,omitempty"`

	// Accounts funds ledger accounts before the first step.
	Accounts map[string]uint64 `yaml:"accounts,omitempty"`

	// Steps run in order against one engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final event log, callbacks and state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// LimitsSpec mirrors engine.Limits.
type LimitsSpec struct {
	MaxTimeoutsPerBlock int `yaml:"max_timeouts_per_block,omitempty"`
	MaxRemovals         int `yaml:"max_removals,omitempty"`
	MaxResponseLen      int `yaml:"max_response_len,omitempty"`
}

// Step operation names.
const (
	OpCreate  = "create"
	OpResolve = "resolve"
	OpDeliver = "deliver"
	OpAdvance = "advance"
	OpRemove  = "remove"
	OpStatus  = "status"
	OpFetch   = "fetch"
	OpBalance = "balance"
)

// Step is one engine operation.
//
// Handles are referred to by label: a create step with `as: q1` makes "q1"
// usable in later id and ids fields. A field that is not a label is parsed
// as a raw handle number, which lets scenarios name handles that were never
// issued.
type Step struct {
	Op string `yaml:"op"`

	// create
	As       string        `yaml:"as,omitempty"`
	Origin   string        `yaml:"origin,omitempty"`
	Token    string        `yaml:"token,omitempty"`
	Timeout  uint64        `yaml:"timeout,omitempty"`
	Callback *CallbackSpec `yaml:"callback,omitempty"`

	// resolve, deliver, status, fetch
	ID string `yaml:"id,omitempty"`
	// resolve, deliver. A 0x prefix means hex; anything else is taken as text.
	Payload string `yaml:"payload,omitempty"`

	// remove (also uses origin)
	IDs []string `yaml:"ids,omitempty"`

	// advance
	Blocks uint64 `yaml:"blocks,omitempty"`

	// balance
	Account string `yaml:"account,omitempty"`

	// Expect checks the step's outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// CallbackSpec describes a callback in scenario form.
type CallbackSpec struct {
	Destination  string `yaml:"destination"`
	Encoding     string `yaml:"encoding"`
	Selector     string `yaml:"selector"`
	WeightBudget uint64 `yaml:"weight_budget"`
}

// Expect specifies the expected outcome of a step. Only the fields that are
// set are checked.
type Expect struct {
	// Error is the expected engine error code, e.g. "BadOrigin".
	Error string `yaml:"error,omitempty"`

	Status   string  `yaml:"status,omitempty"`
	Payload  *string `yaml:"payload,omitempty"`
	Block    *uint64 `yaml:"block,omitempty"`
	Free     *uint64 `yaml:"free,omitempty"`
	Reserved *uint64 `yaml:"reserved,omitempty"`
}

// Assertion validates the final event log, callbacks or state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "event_count": Check events of Kind appear exactly Count times
	// - "event_order": Check the first occurrences of Kinds are in order
	// - "callback_count": Check exactly Count callbacks were executed
	// - "final_status": Check handle ID ends in Status
	Type string `yaml:"type"`

	Kind   string   `yaml:"kind,omitempty"`
	Kinds  []string `yaml:"kinds,omitempty"`
	Count  int      `yaml:"count,omitempty"`
	ID     string   `yaml:"id,omitempty"`
	Status string   `yaml:"status,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount    = "event_count"
	AssertEventOrder    = "event_order"
	AssertCallbackCount = "callback_count"
	AssertFinalStatus   = "final_status"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, labels); err != nil {
			return err
		}
		if step.As != "" {
			labels[step.As] = true
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(i int, step Step, labels map[string]bool) error {
	switch step.Op {
	case OpCreate:
		if step.Origin == "" {
			return fmt.Errorf("steps[%d]: origin is required for create", i)
		}
		if step.Timeout == 0 {
			return fmt.Errorf("steps[%d]: timeout is required for create", i)
		}
		if step.As != "" && labels[step.As] {
			return fmt.Errorf("steps[%d]: label %q already used", i, step.As)
		}
		if cb := step.Callback; cb != nil {
			if _, err := ir.ParseEncoding(cb.Encoding); err != nil {
				return fmt.Errorf("steps[%d].callback: %w", i, err)
			}
			if _, err := ir.ParseSelector(cb.Selector); err != nil {
				return fmt.Errorf("steps[%d].callback: %w", i, err)
			}
		}
	case OpResolve, OpDeliver, OpStatus, OpFetch:
		if step.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for %s", i, step.Op)
		}
	case OpRemove:
		if step.Origin == "" {
			return fmt.Errorf("steps[%d]: origin is required for remove", i)
		}
	case OpAdvance:
		if step.Blocks == 0 {
			return fmt.Errorf("steps[%d]: blocks must be positive for advance", i)
		}
	case OpBalance:
		if step.Account == "" {
			return fmt.Errorf("steps[%d]: account is required for balance", i)
		}
	case "":
		return fmt.Errorf("steps[%d]: op is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}

	if step.As != "" && step.Op != OpCreate {
		return fmt.Errorf("steps[%d]: as is only valid on create", i)
	}

	if e := step.Expect; e != nil {
		if e.Error != "" && !engine.KnownCode(engine.ErrorCode(e.Error)) {
			return fmt.Errorf("steps[%d].expect: unknown error code %q", i, e.Error)
		}
		if e.Status != "" {
			if _, err := ir.ParseStatus(e.Status); err != nil {
				return fmt.Errorf("steps[%d].expect: %w", i, err)
			}
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertEventOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for event_order", index)
		}
	case AssertCallbackCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for callback_count", index)
		}
	case AssertFinalStatus:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for final_status", index)
		}
		if _, err := ir.ParseStatus(a.Status); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
