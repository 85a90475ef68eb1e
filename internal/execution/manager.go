package execution

import (
	"context"
	"sync"
	"time"

	"browsernerd/internal/config"
	"browsernerd/internal/logging"
	"browsernerd/internal/types"
	"browsernerd/internal/vars"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager owns every execution of one session: the active set, the control
// surface, and a bounded FIFO history of terminal executions.
type Manager struct {
	cfg     config.ExecutionConfig
	emitter Emitter
	log     *zap.Logger

	mu      sync.Mutex
	active  map[string]*driver
	history []types.Execution
}

// NewManager builds a per-session manager.
func NewManager(cfg config.ExecutionConfig, emitter Emitter) *Manager {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &Manager{
		cfg:     cfg,
		emitter: emitter,
		log:     logging.Get(logging.CategoryExecution),
		active:  make(map[string]*driver),
	}
}

// buildSteps prepends the synthetic entry navigation when the script does
// not already start with one.
func buildSteps(script *types.Script) []types.Action {
	if script.InitialURL != "" &&
		(len(script.Actions) == 0 || script.Actions[0].Kind != types.ActionNavigate) {
		entry := types.Action{
			Kind:        types.ActionNavigate,
			URL:         script.InitialURL,
			Description: "navigate to " + script.InitialURL,
		}
		return append([]types.Action{entry}, script.Actions...)
	}
	return script.Actions
}

// Start validates variables and launches a driver for the script. Variable
// completeness is checked before any step runs: a missing required variable
// fails the execution immediately with MissingVariable.
func (m *Manager) Start(ctx context.Context, script *types.Script, sessionID string, supplied map[string]string, executor Executor) (types.Execution, error) {
	m.mu.Lock()
	running := 0
	for _, d := range m.active {
		if st := d.snapshot().Status; st == types.StatusRunning || st == types.StatusPaused {
			running++
		}
	}
	if running >= m.cfg.GetMaxConcurrent() {
		m.mu.Unlock()
		return types.Execution{}, types.NewError(types.KindBusy,
			"session already has %d executions running", running)
	}
	m.mu.Unlock()

	runtime := make(map[string]string, len(supplied))
	for k, v := range supplied {
		runtime[k] = v
	}
	resolver := vars.New(runtime, script.Variables)

	steps := buildSteps(script)
	exec := &types.Execution{
		ID:         uuid.NewString(),
		ScriptID:   script.ID,
		ScriptName: script.Name,
		SessionID:  sessionID,
		TotalSteps: len(steps),
		Status:     types.StatusRunning,
		StartedAt:  time.Now(),
	}

	if err := resolver.Check(script); err != nil {
		// Fails before any step; no execution_started is emitted.
		ev := TerminalEvent{
			Type:        "execution_failed",
			ExecutionID: exec.ID,
			Status:      types.StatusFailed,
			ErrorKind:   types.KindMissingVariable,
			Error:       err.Error(),
			Missing:     missingNames(err),
		}
		m.emitter.Emit(ev)
		exec.Status = types.StatusFailed
		m.pushHistory(*exec)
		return *exec, err
	}

	d := newDriver(exec, steps, executor, m.emitter, m.cfg.GetActionTimeout(), m.log)
	m.mu.Lock()
	m.active[exec.ID] = d
	m.mu.Unlock()

	go func() {
		d.run(ctx, resolver, script.Variables, runtime)
		m.retire(exec.ID)
	}()

	m.log.Info("execution started",
		zap.String("execution_id", exec.ID),
		zap.String("script", script.Name),
		zap.Int("total_steps", exec.TotalSteps))
	return d.snapshot(), nil
}

// retire moves a finished execution into history.
func (m *Manager) retire(id string) {
	m.mu.Lock()
	d, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, id)
	m.mu.Unlock()
	m.pushHistory(d.snapshot())
}

func (m *Manager) pushHistory(exec types.Execution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, exec)
	if n := m.cfg.GetHistorySize(); len(m.history) > n {
		m.history = m.history[len(m.history)-n:]
	}
}

// Pause suspends an execution between steps.
func (m *Manager) Pause(id string) error {
	d, err := m.driverFor(id)
	if err != nil {
		return err
	}
	return d.pause()
}

// Resume continues a paused execution.
func (m *Manager) Resume(id string) error {
	d, err := m.driverFor(id)
	if err != nil {
		return err
	}
	return d.resumeRun()
}

// Stop terminates an execution and cancels its in-flight action.
func (m *Manager) Stop(id string) error {
	d, err := m.driverFor(id)
	if err != nil {
		return err
	}
	return d.stop()
}

// StopAll stops every active execution; used at session teardown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	drivers := make([]*driver, 0, len(m.active))
	for _, d := range m.active {
		drivers = append(drivers, d)
	}
	m.mu.Unlock()
	for _, d := range drivers {
		_ = d.stop()
		<-d.done
	}
}

// Status returns the current state of an execution, active or historical.
func (m *Manager) Status(id string) (types.Execution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.active[id]; ok {
		return d.snapshot(), true
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID == id {
			return m.history[i], true
		}
	}
	return types.Execution{}, false
}

// History returns the terminal executions, oldest first.
func (m *Manager) History() []types.Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Execution(nil), m.history...)
}

// FlushHistory clears retained terminal executions.
func (m *Manager) FlushHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}

func (m *Manager) driverFor(id string) (*driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.active[id]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "no active execution %s", id)
	}
	return d, nil
}
