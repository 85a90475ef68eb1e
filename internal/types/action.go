package types

import (
	"fmt"
	"time"
)

// ActionKind tags the canonical action variants.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionFill     ActionKind = "fill"
	ActionClick    ActionKind = "click"
	ActionSelect   ActionKind = "select"
	ActionWait     ActionKind = "wait"
	ActionScroll   ActionKind = "scroll"
	ActionExtract  ActionKind = "extract"
	ActionAssert   ActionKind = "assert"
)

// TargetStrategy identifies how a target candidate locates its element.
type TargetStrategy string

const (
	ByRoleName    TargetStrategy = "role_name"
	ByAriaLabel   TargetStrategy = "aria_label"
	ByPlaceholder TargetStrategy = "placeholder"
	ByText        TargetStrategy = "text"
	BySelector    TargetStrategy = "selector"
	ByIndex       TargetStrategy = "index"
)

// ResolutionOrder is the fixed order in which candidate strategies are
// attempted during target resolution.
var ResolutionOrder = []TargetStrategy{
	ByRoleName, ByAriaLabel, ByPlaceholder, ByText, BySelector, ByIndex,
}

// TargetCandidate is one way of locating a DOM element.
type TargetCandidate struct {
	Strategy TargetStrategy `json:"strategy"`
	Value    string         `json:"value"`
	// Role qualifies ByRoleName candidates ("button", "textbox", ...).
	Role string `json:"role,omitempty"`
	// Index qualifies ByIndex candidates.
	Index int `json:"index,omitempty"`
}

// Target describes the element an action refers to: a primary candidate plus
// ordered fallbacks derived at record time.
type Target struct {
	Primary   TargetCandidate   `json:"primary"`
	Fallbacks []TargetCandidate `json:"fallbacks,omitempty"`
}

// Candidates returns primary followed by fallbacks.
func (t Target) Candidates() []TargetCandidate {
	out := make([]TargetCandidate, 0, 1+len(t.Fallbacks))
	out = append(out, t.Primary)
	out = append(out, t.Fallbacks...)
	return out
}

// IsZero reports whether the target has no primary candidate.
func (t Target) IsZero() bool {
	return t.Primary.Strategy == "" && t.Primary.Value == "" && t.Primary.Index == 0
}

// ActionResult records the outcome of executing an action.
type ActionResult struct {
	Success     bool          `json:"success"`
	ObservedURL string        `json:"observed_url,omitempty"`
	FinalTarget string        `json:"final_target,omitempty"`
	Extracted   string        `json:"extracted,omitempty"`
	Duration    time.Duration `json:"duration"`
	FailureKind ErrorKind     `json:"failure_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Action is the canonical executable unit.
type Action struct {
	Kind        ActionKind `json:"kind"`
	Description string     `json:"description,omitempty"`
	// Instruction is the originating free-text instruction, when any.
	Instruction string `json:"instruction,omitempty"`

	// Navigate
	URL string `json:"url,omitempty"`

	// Fill / select / extract payloads.
	Target Target `json:"target,omitempty"`
	Value  string `json:"value,omitempty"`
	Option string `json:"option,omitempty"`

	// Wait: a fixed duration or a predicate expression, never both.
	WaitDuration time.Duration `json:"wait_duration,omitempty"`
	Predicate    string        `json:"predicate,omitempty"`

	// Scroll: "up", "down", or empty when Target is set.
	Direction string `json:"direction,omitempty"`

	// Variable bound by extract, or referenced by fill.
	Variable string `json:"variable,omitempty"`

	// FieldType carries the DOM input type of the resolved element, when
	// known. Variable inference keys password detection off it.
	FieldType string `json:"field_type,omitempty"`

	Result *ActionResult `json:"result,omitempty"`
}

// NeedsTarget reports whether the action kind resolves a DOM element.
func (a Action) NeedsTarget() bool {
	switch a.Kind {
	case ActionClick, ActionFill, ActionSelect, ActionExtract:
		return true
	case ActionScroll:
		return a.Direction == ""
	}
	return false
}

// Describe returns the human description, synthesizing one when unset.
func (a Action) Describe() string {
	if a.Description != "" {
		return a.Description
	}
	switch a.Kind {
	case ActionNavigate:
		return fmt.Sprintf("navigate to %s", a.URL)
	case ActionClick:
		return fmt.Sprintf("click %s", a.Target.Primary.Value)
	case ActionFill:
		return fmt.Sprintf("fill %s", a.Target.Primary.Value)
	case ActionSelect:
		return fmt.Sprintf("select %q in %s", a.Option, a.Target.Primary.Value)
	case ActionWait:
		if a.Predicate != "" {
			return fmt.Sprintf("wait for %s", a.Predicate)
		}
		return fmt.Sprintf("wait %s", a.WaitDuration)
	case ActionScroll:
		if a.Direction != "" {
			return fmt.Sprintf("scroll %s", a.Direction)
		}
		return fmt.Sprintf("scroll to %s", a.Target.Primary.Value)
	case ActionExtract:
		return fmt.Sprintf("extract %s into %s", a.Target.Primary.Value, a.Variable)
	case ActionAssert:
		return fmt.Sprintf("assert %s", a.Predicate)
	}
	return string(a.Kind)
}

// Validate checks structural integrity of a single action.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionNavigate:
		if a.URL == "" {
			return NewError(KindSchemaMismatch, "navigate action requires a url")
		}
	case ActionClick, ActionFill, ActionSelect, ActionExtract:
		if a.Target.IsZero() {
			return NewError(KindSchemaMismatch, "%s action requires a target", a.Kind)
		}
		if a.Kind == ActionExtract && a.Variable == "" {
			return NewError(KindSchemaMismatch, "extract action requires a variable")
		}
	case ActionWait:
		if a.WaitDuration <= 0 && a.Predicate == "" {
			return NewError(KindSchemaMismatch, "wait action requires a duration or predicate")
		}
	case ActionScroll:
		if a.Direction == "" && a.Target.IsZero() {
			return NewError(KindSchemaMismatch, "scroll action requires a direction or target")
		}
	case ActionAssert:
		if a.Predicate == "" {
			return NewError(KindSchemaMismatch, "assert action requires a predicate")
		}
	default:
		return NewError(KindSchemaMismatch, "unknown action kind %q", a.Kind)
	}
	return nil
}
