package execution

import (
	"context"
	"math"
	"sync"
	"time"

	"browsernerd/internal/types"
	"browsernerd/internal/vars"

	"go.uber.org/zap"
)

// Executor performs one action against the browser. The worker satisfies
// this directly.
type Executor interface {
	Execute(ctx context.Context, action types.Action, deadline time.Duration) (types.ActionResult, error)
}

// driver owns one execution for its lifetime. Control signals flip flags
// under mu; the loop observes them strictly between steps, so a pause never
// lands mid-action.
type driver struct {
	exec     *types.Execution
	steps    []types.Action
	executor Executor
	emitter  Emitter
	deadline time.Duration
	log      *zap.Logger

	mu         sync.Mutex
	resume     chan struct{}
	stopc      chan struct{}
	stopOnce   sync.Once
	cancelStep context.CancelFunc

	done chan struct{}
}

func newDriver(exec *types.Execution, steps []types.Action, executor Executor, emitter Emitter, deadline time.Duration, log *zap.Logger) *driver {
	return &driver{
		exec:     exec,
		steps:    steps,
		executor: executor,
		emitter:  emitter,
		deadline: deadline,
		log:      log,
		resume:   make(chan struct{}, 1),
		stopc:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// pause transitions RUNNING -> PAUSED.
func (d *driver) pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exec.Status != types.StatusRunning {
		return types.NewError(types.KindSchemaMismatch,
			"cannot pause execution in state %s", d.exec.Status)
	}
	d.exec.Status = types.StatusPaused
	d.emitter.Emit(ControlEvent{
		Type:        "execution_paused",
		ExecutionID: d.exec.ID,
		CurrentStep: d.exec.CurrentStep,
	})
	return nil
}

// resumeRun transitions PAUSED -> RUNNING.
func (d *driver) resumeRun() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exec.Status != types.StatusPaused {
		return types.NewError(types.KindSchemaMismatch,
			"cannot resume execution in state %s", d.exec.Status)
	}
	d.exec.Status = types.StatusRunning
	select {
	case d.resume <- struct{}{}:
	default:
	}
	d.emitter.Emit(ControlEvent{
		Type:        "execution_resumed",
		ExecutionID: d.exec.ID,
		CurrentStep: d.exec.CurrentStep,
	})
	return nil
}

// stop requests termination from RUNNING or PAUSED and cancels the pending
// action's deadline. The loop emits the terminal event.
func (d *driver) stop() error {
	d.mu.Lock()
	if d.exec.Status.Terminal() {
		d.mu.Unlock()
		return types.NewError(types.KindSchemaMismatch, "execution already terminal")
	}
	cancel := d.cancelStep
	d.mu.Unlock()

	d.stopOnce.Do(func() { close(d.stopc) })
	if cancel != nil {
		cancel()
	}
	return nil
}

// gate blocks while paused and reports whether the loop should stop.
func (d *driver) gate(ctx context.Context) bool {
	for {
		select {
		case <-d.stopc:
			return false
		case <-ctx.Done():
			return false
		default:
		}

		d.mu.Lock()
		st := d.exec.Status
		d.mu.Unlock()
		if st == types.StatusRunning {
			return true
		}
		select {
		case <-d.resume:
		case <-d.stopc:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// run executes every step in order. Exactly one terminal event is emitted on
// every exit path.
func (d *driver) run(ctx context.Context, resolver *vars.Resolver, schema types.VariableSchema, runtime map[string]string) {
	defer close(d.done)

	d.emitter.Emit(StartedEvent{
		Type:        "execution_started",
		ExecutionID: d.exec.ID,
		ScriptName:  d.exec.ScriptName,
		TotalSteps:  d.exec.TotalSteps,
	})

	for i, step := range d.steps {
		if !d.gate(ctx) {
			d.terminate(types.StatusStopped, "", nil)
			return
		}

		resolved, err := resolver.Apply(step)
		if err != nil {
			d.failStep(i+1, step, types.ActionResult{FailureKind: types.KindOf(err), Error: err.Error()}, err)
			return
		}

		sctx, cancel := context.WithCancel(ctx)
		d.mu.Lock()
		d.cancelStep = cancel
		d.mu.Unlock()

		result, err := d.executor.Execute(sctx, resolved, d.deadline)
		cancel()
		d.mu.Lock()
		d.cancelStep = nil
		d.mu.Unlock()

		if err != nil {
			kind := types.KindOf(err)
			if kind == types.KindCancelled {
				d.terminate(types.StatusStopped, "", nil)
				return
			}
			d.failStep(i+1, step, result, err)
			return
		}

		// Extracted values become available to later steps.
		if step.Kind == types.ActionExtract && step.Variable != "" {
			runtime[step.Variable] = result.Extracted
			resolver = vars.New(runtime, schema)
		}

		d.advance(i+1, resolved, result)
	}

	d.terminate(types.StatusCompleted, "", nil)
}

// advance records a successful step and emits its progress event. The final
// step's event carries progress=100 with status still RUNNING; the terminal
// event follows separately.
func (d *driver) advance(index int, step types.Action, result types.ActionResult) {
	d.mu.Lock()
	d.exec.CurrentStep = index
	d.exec.Progress = int(math.Round(float64(index) / float64(d.exec.TotalSteps) * 100))
	d.exec.Steps = append(d.exec.Steps, types.StepLog{
		Index:    index,
		Action:   step.Describe(),
		Success:  true,
		Duration: result.Duration,
	})
	ev := ProgressEvent{
		Type:        "execution_progress",
		ExecutionID: d.exec.ID,
		CurrentStep: index,
		TotalSteps:  d.exec.TotalSteps,
		Progress:    d.exec.Progress,
		Status:      types.StatusRunning,
		Step: StepInfo{
			Index:       index,
			Description: step.Describe(),
			Kind:        string(step.Kind),
			DurationMs:  result.Duration.Milliseconds(),
		},
	}
	d.mu.Unlock()
	d.emitter.Emit(ev)
}

func (d *driver) failStep(index int, step types.Action, result types.ActionResult, err error) {
	d.mu.Lock()
	d.exec.Steps = append(d.exec.Steps, types.StepLog{
		Index:    index,
		Action:   step.Describe(),
		Success:  false,
		Duration: result.Duration,
		Failure:  result.FailureKind,
		Error:    result.Error,
	})
	d.exec.Errors = append(d.exec.Errors, err.Error())
	d.mu.Unlock()
	d.log.Warn("step failed",
		zap.String("execution_id", d.exec.ID),
		zap.Int("step", index),
		zap.Error(err))
	d.terminate(types.StatusFailed, result.FailureKind, err)
}

// terminate settles the execution into its terminal state and emits the
// single terminal event.
func (d *driver) terminate(status types.ExecutionStatus, kind types.ErrorKind, err error) {
	d.mu.Lock()
	if d.exec.Status.Terminal() {
		d.mu.Unlock()
		return
	}
	d.exec.Status = status
	now := time.Now()
	d.exec.EndedAt = &now
	if status == types.StatusCompleted {
		d.exec.Progress = 100
	}

	eventType := map[types.ExecutionStatus]string{
		types.StatusCompleted: "execution_completed",
		types.StatusFailed:    "execution_failed",
		types.StatusStopped:   "execution_stopped",
	}[status]

	ev := TerminalEvent{
		Type:               eventType,
		ExecutionID:        d.exec.ID,
		Status:             status,
		DurationMs:         now.Sub(d.exec.StartedAt).Milliseconds(),
		LastSuccessfulStep: d.exec.CurrentStep,
		ErrorKind:          kind,
	}
	if err != nil {
		ev.Error = err.Error()
		ev.Missing = missingNames(err)
	}
	d.mu.Unlock()
	d.emitter.Emit(ev)
}

// snapshot returns a copy of the execution state.
func (d *driver) snapshot() types.Execution {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *d.exec
	cp.Steps = append([]types.StepLog(nil), d.exec.Steps...)
	cp.Errors = append([]string(nil), d.exec.Errors...)
	return cp
}
