// Package execution drives script replays through their steps, emitting
// progress events and honoring pause/resume/stop control.
package execution

import (
	"errors"

	"browsernerd/internal/types"
)

// Event is one outbound execution event. Concrete events carry their wire
// type in the Type field; the gateway marshals them as-is.
type Event interface {
	EventType() string
}

// Emitter receives execution events. The session wires it to the gateway
// fan-out; producers never block on transport.
type Emitter interface {
	Emit(ev Event)
}

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// StartedEvent reports a new execution.
type StartedEvent struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id"`
	ScriptName  string `json:"script_name"`
	TotalSteps  int    `json:"total_steps"`
}

func (e StartedEvent) EventType() string { return e.Type }

// StepInfo describes the step an event refers to.
type StepInfo struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
	DurationMs  int64  `json:"duration_ms"`
}

// ProgressEvent reports one completed step.
type ProgressEvent struct {
	Type        string                `json:"type"`
	ExecutionID string                `json:"execution_id"`
	CurrentStep int                   `json:"current_step"`
	TotalSteps  int                   `json:"total_steps"`
	Progress    int                   `json:"progress"`
	Status      types.ExecutionStatus `json:"status"`
	Step        StepInfo              `json:"step"`
}

func (e ProgressEvent) EventType() string { return e.Type }

// ControlEvent reports a pause or resume.
type ControlEvent struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id"`
	CurrentStep int    `json:"current_step"`
}

func (e ControlEvent) EventType() string { return e.Type }

// TerminalEvent reports completion, failure or stop. Exactly one is emitted
// per started execution. Missing carries the structured variable-name list
// for MissingVariable failures.
type TerminalEvent struct {
	Type               string                `json:"type"`
	ExecutionID        string                `json:"execution_id"`
	Status             types.ExecutionStatus `json:"status"`
	DurationMs         int64                 `json:"duration_ms"`
	LastSuccessfulStep int                   `json:"last_successful_step"`
	ErrorKind          types.ErrorKind       `json:"error_kind,omitempty"`
	Error              string                `json:"error,omitempty"`
	Missing            []string              `json:"missing,omitempty"`
}

func (e TerminalEvent) EventType() string { return e.Type }

// missingNames pulls the structured missing-variable list off a typed error.
func missingNames(err error) []string {
	var te *types.Error
	if !errors.As(err, &te) {
		return nil
	}
	names, _ := te.Context["missing"].([]string)
	return names
}
