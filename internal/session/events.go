package session

import (
	"browsernerd/internal/store"
	"browsernerd/internal/types"
)

// Message is one inbound client message. The gateway decodes the JSON frame
// and hands it to the owning session's dispatcher untouched; fields that do
// not apply to a given type stay zero.
type Message struct {
	Type string `json:"type"`

	// chat_instruction
	Instruction string `json:"message,omitempty"`

	// start_recording
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	// script and execution operations
	ScriptID    string            `json:"script_id,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`

	// export_script / import_script
	Compress     bool              `json:"compress,omitempty"`
	Data         string            `json:"data,omitempty"`
	Conflict     string            `json:"conflict,omitempty"`
	Mapping      map[string]string `json:"mapping,omitempty"`
	ValidateOnly bool              `json:"validate_only,omitempty"`

	// manual mode
	URL       string `json:"url,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Text      string `json:"text,omitempty"`
	Key       string `json:"key,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// StatusEvent reports session state changes and operation acknowledgements.
type StatusEvent struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	State      string `json:"state"`
	Detail     string `json:"detail,omitempty"`
	ManualMode bool   `json:"manual_mode"`
	Recording  bool   `json:"recording"`
}

// ErrorEvent reports a failed operation to the session's clients.
type ErrorEvent struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id"`
	Kind      types.ErrorKind        `json:"kind"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// FrameEvent is one streamed screenshot. Data is base64 JPEG.
type FrameEvent struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	FrameID    uint64 `json:"frame_id"`
	Data       string `json:"data"`
	URL        string `json:"url"`
	CapturedMs int64  `json:"captured_ms"`
}

// ScreenshotEvent answers an explicit screenshot_request.
type ScreenshotEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
	URL       string `json:"url"`
}

// InstructionEvent reports the interpretation and execution of one chat
// instruction.
type InstructionEvent struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	Instruction string `json:"instruction"`
	Source      string `json:"source"`
	Warning     string `json:"warning,omitempty"`
	ActionCount int    `json:"action_count"`
	Executed    int    `json:"executed"`
}

// RecordingStartedEvent acknowledges start_recording.
type RecordingStartedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

// RecordingCompletedEvent carries the saved script's identity.
type RecordingCompletedEvent struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id"`
	ScriptID      string `json:"script_id"`
	Name          string `json:"name"`
	ActionCount   int    `json:"action_count"`
	VariableCount int    `json:"variable_count"`
}

// ScriptListEvent answers get_scripts.
type ScriptListEvent struct {
	Type    string                `json:"type"`
	Scripts []types.ScriptSummary `json:"scripts"`
}

// ScriptEvent answers get_script.
type ScriptEvent struct {
	Type   string        `json:"type"`
	Script *types.Script `json:"script"`
}

// ScriptVariablesEvent lists the variables a script needs so the client can
// prompt for values before execute_script.
type ScriptVariablesEvent struct {
	Type      string               `json:"type"`
	ScriptID  string               `json:"script_id"`
	Variables types.VariableSchema `json:"variables"`
}

// ScriptExportEvent carries an exported package.
type ScriptExportEvent struct {
	Type     string `json:"type"`
	ScriptID string `json:"script_id"`
	Data     string `json:"data"`
}

// ScriptImportEvent carries an import (or validate-only) report.
type ScriptImportEvent struct {
	Type   string              `json:"type"`
	Report *store.ImportReport `json:"report"`
}

// ExecutionStatusEvent answers get_execution_status.
type ExecutionStatusEvent struct {
	Type      string          `json:"type"`
	Execution types.Execution `json:"execution"`
}
