package models

import "encoding/json"

// Plan is the planner's classification of a request.
type Plan struct {
	// MultiStep is true when the request decomposes into an ordered
	// sequence of dependent steps.
	MultiStep bool `json:"is_multi_step"`

	// Steps holds the ordered steps; empty when MultiStep is false.
	Steps []PlanStep `json:"steps,omitempty"`

	// Fallback is set when the planner could not classify confidently.
	// Callers treat a fallback plan as single-step.
	Fallback bool `json:"fallback,omitempty"`
}

// PlanStep is one step of a multi-step plan. Either Tool names a concrete
// registered tool, or Action carries free text resolved by a scaled-down
// decision loop.
type PlanStep struct {
	Tool   string          `json:"tool,omitempty"`
	Action string          `json:"action,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Executable reports whether the plan is structurally valid for multi-step
// execution: the multi-step flag set and at least two steps. Anything else
// is coerced to the single-step path.
func (p *Plan) Executable() bool {
	return p != nil && p.MultiStep && len(p.Steps) >= 2
}
