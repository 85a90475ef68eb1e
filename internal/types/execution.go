package types

import "time"

// ExecutionStatus is the state of a script replay.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusPaused    ExecutionStatus = "PAUSED"
	StatusStopped   ExecutionStatus = "STOPPED"
	StatusCompleted ExecutionStatus = "COMPLETED"
	StatusFailed    ExecutionStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusFailed
}

// StepLog records one executed step of an execution.
type StepLog struct {
	Index    int           `json:"index"`
	Action   string        `json:"action"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Failure  ErrorKind     `json:"failure,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Execution is one replay of a script. It is exclusively owned by the
// progress manager while active; terminal executions migrate to history.
type Execution struct {
	ID          string          `json:"id"`
	ScriptID    string          `json:"script_id"`
	ScriptName  string          `json:"script_name"`
	SessionID   string          `json:"session_id"`
	TotalSteps  int             `json:"total_steps"`
	CurrentStep int             `json:"current_step"`
	Status      ExecutionStatus `json:"status"`
	Progress    int             `json:"progress"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     *time.Time      `json:"ended_at,omitempty"`
	Steps       []StepLog       `json:"steps,omitempty"`
	Errors      []string        `json:"errors,omitempty"`
}
