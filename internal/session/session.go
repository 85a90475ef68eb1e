// Package session ties one client context to its browser worker, recorder,
// streamer, interpreter and execution manager. A single dispatcher goroutine
// per session consumes inbound messages; all outbound events fan out to every
// attached client.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"browsernerd/internal/browser"
	"browsernerd/internal/config"
	"browsernerd/internal/execution"
	"browsernerd/internal/interpreter"
	"browsernerd/internal/logging"
	"browsernerd/internal/recorder"
	"browsernerd/internal/store"
	"browsernerd/internal/types"

	"go.uber.org/zap"
)

// Client is an attached event consumer. Deliveries must never block: the
// gateway implementation buffers per client and coalesces frames on overflow.
type Client interface {
	// Deliver enqueues one JSON-marshalable event. Critical events
	// (execution progress and terminals) are never dropped.
	Deliver(ev interface{}, critical bool)
	// DeliverFrame enqueues a real_time_screenshot; on a full buffer only
	// the newest frame is kept.
	DeliverFrame(ev FrameEvent)
	// BufferDepth reports the outbound buffer fill ratio in [0, 1].
	BufferDepth() float64
}

const inboxDepth = 64

// Session owns the per-client-context resources. It implements
// browser.Events, browser.FrameSink and execution.Emitter so the worker,
// streamer and manager need no back-references.
type Session struct {
	ID        string
	CreatedAt time.Time

	cfg    config.Config
	log    *zap.Logger
	worker *browser.Worker
	stream *browser.Streamer
	rec    *recorder.Recorder
	interp *interpreter.Interpreter
	mgr    *execution.Manager
	store  *store.Store

	inbox  chan Message
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	clients   map[Client]struct{}
	manual    bool
	idleSince time.Time
	lastURL   string
}

// newSession builds and starts a session. The driver is opened eagerly so an
// unusable browser surfaces as a ResourceInit error on attach, not on the
// first action.
func newSession(ctx context.Context, id string, cfg config.Config, st *store.Store, planner interpreter.Planner, drv browser.Driver) (*Session, error) {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		cfg:       cfg,
		log:       logging.Get(logging.CategorySession).With(zap.String("session_id", id)),
		rec:       recorder.New(),
		interp:    interpreter.New(planner),
		store:     st,
		inbox:     make(chan Message, inboxDepth),
		ctx:       sctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		clients:   make(map[Client]struct{}),
		idleSince: time.Now(),
	}
	s.worker = browser.NewWorker(drv, cfg.Execution, s)
	s.stream = browser.NewStreamer(s.worker, cfg.Stream, s)
	s.mgr = execution.NewManager(cfg.Execution, s)

	if err := s.worker.Open(sctx); err != nil {
		cancel()
		return nil, err
	}
	s.stream.Start(sctx)
	go s.dispatch()
	s.log.Info("session created")
	return s, nil
}

// Handle queues one inbound message for the dispatcher. It blocks only when
// the inbox is full; a closed session drops the message.
func (s *Session) Handle(msg Message) {
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
	}
}

// Attach registers a client and resumes streaming.
func (s *Session) Attach(c Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	manual, rec := s.manual, s.rec.Recording()
	s.mu.Unlock()

	s.stream.ClientAttached()
	c.Deliver(StatusEvent{
		Type:       "status",
		SessionID:  s.ID,
		State:      "attached",
		ManualMode: manual,
		Recording:  rec,
	}, true)
}

// Detach deregisters a client. The session survives with no clients until
// the registry's idle reaper collects it.
func (s *Session) Detach(c Client) {
	s.mu.Lock()
	delete(s.clients, c)
	if len(s.clients) == 0 {
		s.idleSince = time.Now()
	}
	s.mu.Unlock()
	s.stream.ClientDetached()
}

// ClientCount returns the number of attached clients.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// idleFor reports how long the session has been without clients; zero while
// any client is attached.
func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) > 0 {
		return 0
	}
	return now.Sub(s.idleSince)
}

// Close tears the session down: in-flight executions stop with a stopped
// terminal, the open recording is discarded, and the browser is released.
// Idempotent.
func (s *Session) Close() {
	s.cancel()
	<-s.done
	s.mgr.StopAll()
	if _, ok := s.rec.Stop(); ok {
		s.log.Warn("open recording discarded on session close")
	}
	s.stream.Stop()
	if err := s.worker.Close(); err != nil {
		s.log.Warn("browser close failed", zap.Error(err))
	}
	s.log.Info("session closed")
}

// ActionCompleted implements browser.Events: successful actions feed the
// recorder and wake the streamer into its burst rate. The recorder gets the
// URL observed before this action, so a first capture that itself navigates
// cannot synthesize an entry navigation to the page it landed on.
func (s *Session) ActionCompleted(action types.Action, result types.ActionResult) {
	if !result.Success {
		return
	}
	s.mu.Lock()
	prev := s.lastURL
	if result.ObservedURL != "" {
		s.lastURL = result.ObservedURL
	}
	s.mu.Unlock()
	s.rec.Observe(action, result, prev)
	s.stream.Poke()
}

// Frame implements browser.FrameSink: fan the frame out and feed the slowest
// client's buffer depth back into the quality controller.
func (s *Session) Frame(f types.Frame) {
	ev := FrameEvent{
		Type:       "real_time_screenshot",
		SessionID:  s.ID,
		FrameID:    f.ID,
		Data:       base64.StdEncoding.EncodeToString(f.Data),
		URL:        f.URL,
		CapturedMs: f.Captured,
	}
	s.mu.Lock()
	var worst float64
	for c := range s.clients {
		c.DeliverFrame(ev)
		if d := c.BufferDepth(); d > worst {
			worst = d
		}
	}
	s.mu.Unlock()
	s.stream.ReportBufferDepth(worst)
}

// Emit implements execution.Emitter. Execution events are critical.
func (s *Session) Emit(ev execution.Event) {
	s.broadcast(ev, true)
}

// broadcast delivers to a snapshot of the client set. Critical deliveries can
// block on a slow client, and must not do so while holding the session lock.
func (s *Session) broadcast(ev interface{}, critical bool) {
	s.mu.Lock()
	clients := make([]Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.Deliver(ev, critical)
	}
}

func (s *Session) broadcastError(err error) {
	kind := types.KindOf(err)
	if kind == "" {
		kind = types.KindDriver
	}
	ev := ErrorEvent{Type: "error", SessionID: s.ID, Kind: kind, Message: err.Error()}
	var te *types.Error
	if e, ok := err.(*types.Error); ok {
		te = e
	}
	if te != nil {
		ev.Context = te.Context
		ev.Message = te.Message
	}
	s.broadcast(ev, true)
}

func (s *Session) status(state, detail string) {
	s.mu.Lock()
	manual := s.manual
	s.mu.Unlock()
	s.broadcast(StatusEvent{
		Type:       "status",
		SessionID:  s.ID,
		State:      state,
		Detail:     detail,
		ManualMode: manual,
		Recording:  s.rec.Recording(),
	}, true)
}

// handler is one dispatch table entry.
type handler func(s *Session, ctx context.Context, msg Message) error

var handlers = map[string]handler{
	"chat_instruction":     (*Session).handleChat,
	"start_recording":      (*Session).handleStartRecording,
	"stop_recording":       (*Session).handleStopRecording,
	"execute_script":       (*Session).handleExecuteScript,
	"pause_execution":      (*Session).handlePause,
	"resume_execution":     (*Session).handleResume,
	"stop_execution":       (*Session).handleStop,
	"get_execution_status": (*Session).handleExecutionStatus,
	"get_scripts":          (*Session).handleGetScripts,
	"get_script":           (*Session).handleGetScript,
	"delete_script":        (*Session).handleDeleteScript,
	"export_script":        (*Session).handleExportScript,
	"import_script":        (*Session).handleImportScript,
	"toggle_manual_mode":   (*Session).handleToggleManual,
	"navigate":             (*Session).handleManualNavigate,
	"click":                (*Session).handleManualClick,
	"type":                 (*Session).handleManualType,
	"key_press":            (*Session).handleManualKey,
	"scroll":               (*Session).handleManualScroll,
	"screenshot_request":   (*Session).handleScreenshotRequest,
}

// dispatch is the session's single message loop. Handlers run serially, so
// nothing in the session needs inbound ordering locks.
func (s *Session) dispatch() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			h, ok := handlers[msg.Type]
			if !ok {
				s.broadcastError(types.NewError(types.KindUnknownMessage, "unknown message type %q", msg.Type))
				continue
			}
			if err := h(s, s.ctx, msg); err != nil {
				s.log.Debug("message failed",
					zap.String("type", msg.Type),
					zap.Error(err))
				s.broadcastError(err)
			}
		}
	}
}

func (s *Session) handleChat(ctx context.Context, msg Message) error {
	snapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	snap, err := s.worker.Snapshot(snapCtx)
	cancel()
	if err != nil {
		s.log.Debug("snapshot unavailable", zap.Error(err))
		snap = nil
	}

	result, err := s.interp.Interpret(ctx, msg.Instruction, snap)
	if err != nil {
		return err
	}

	executed := 0
	for _, a := range result.Actions {
		if _, err := s.worker.Execute(ctx, a, 0); err != nil {
			s.broadcast(InstructionEvent{
				Type:        "status",
				SessionID:   s.ID,
				Instruction: msg.Instruction,
				Source:      result.Source,
				Warning:     result.Warning,
				ActionCount: len(result.Actions),
				Executed:    executed,
			}, true)
			return err
		}
		executed++
	}

	s.broadcast(InstructionEvent{
		Type:        "status",
		SessionID:   s.ID,
		Instruction: msg.Instruction,
		Source:      result.Source,
		Warning:     result.Warning,
		ActionCount: len(result.Actions),
		Executed:    executed,
	}, true)
	return nil
}

func (s *Session) handleStartRecording(ctx context.Context, msg Message) error {
	name := msg.Name
	if name == "" {
		name = fmt.Sprintf("recording_%s", time.Now().Format("20060102_150405"))
	}
	if !s.rec.Start(name, msg.Description) {
		return types.NewError(types.KindBusy, "a recording is already open")
	}
	s.broadcast(RecordingStartedEvent{Type: "recording_started", SessionID: s.ID, Name: name}, true)
	return nil
}

func (s *Session) handleStopRecording(ctx context.Context, msg Message) error {
	script, ok := s.rec.Stop()
	if !ok {
		return types.NewError(types.KindNotFound, "no recording in progress")
	}
	id, err := s.store.Save(script)
	if err != nil {
		return err
	}
	s.broadcast(RecordingCompletedEvent{
		Type:          "recording_completed",
		SessionID:     s.ID,
		ScriptID:      id,
		Name:          script.Name,
		ActionCount:   len(script.Actions),
		VariableCount: len(script.Variables),
	}, true)
	return nil
}

func (s *Session) handleExecuteScript(ctx context.Context, msg Message) error {
	script, err := s.store.Load(msg.ScriptID)
	if err != nil {
		return err
	}
	exec, err := s.mgr.Start(ctx, script, s.ID, msg.Variables, s.worker)
	if err != nil {
		// The manager already emitted execution_failed for this one.
		if types.KindOf(err) == types.KindMissingVariable {
			return nil
		}
		return err
	}
	if err := s.store.TouchLastRun(script.ID, exec.StartedAt); err != nil {
		s.log.Warn("last-run update failed", zap.String("script_id", script.ID), zap.Error(err))
	}
	return nil
}

func (s *Session) handlePause(ctx context.Context, msg Message) error {
	return s.mgr.Pause(msg.ExecutionID)
}

func (s *Session) handleResume(ctx context.Context, msg Message) error {
	return s.mgr.Resume(msg.ExecutionID)
}

func (s *Session) handleStop(ctx context.Context, msg Message) error {
	return s.mgr.Stop(msg.ExecutionID)
}

func (s *Session) handleExecutionStatus(ctx context.Context, msg Message) error {
	exec, ok := s.mgr.Status(msg.ExecutionID)
	if !ok {
		return types.NewError(types.KindNotFound, "execution %q not found", msg.ExecutionID)
	}
	s.broadcast(ExecutionStatusEvent{Type: "execution_status", Execution: exec}, true)
	return nil
}

func (s *Session) handleGetScripts(ctx context.Context, msg Message) error {
	s.broadcast(ScriptListEvent{Type: "scripts", Scripts: s.store.List()}, true)
	return nil
}

func (s *Session) handleGetScript(ctx context.Context, msg Message) error {
	script, err := s.store.Load(msg.ScriptID)
	if err != nil {
		return err
	}
	s.broadcast(ScriptEvent{Type: "script", Script: script}, true)
	s.broadcast(ScriptVariablesEvent{
		Type:      "script_variables",
		ScriptID:  script.ID,
		Variables: script.Variables,
	}, true)
	return nil
}

func (s *Session) handleDeleteScript(ctx context.Context, msg Message) error {
	if err := s.store.Delete(msg.ScriptID); err != nil {
		return err
	}
	s.status("script_deleted", msg.ScriptID)
	return nil
}

func (s *Session) handleExportScript(ctx context.Context, msg Message) error {
	data, err := s.store.Export(msg.ScriptID, store.ExportOptions{Compress: msg.Compress})
	if err != nil {
		return err
	}
	s.broadcast(ScriptExportEvent{Type: "script_export", ScriptID: msg.ScriptID, Data: string(data)}, true)
	return nil
}

func (s *Session) handleImportScript(ctx context.Context, msg Message) error {
	report, err := s.store.Import([]byte(msg.Data), store.ImportOptions{
		Conflict:     msg.Conflict,
		Mapping:      msg.Mapping,
		ValidateOnly: msg.ValidateOnly,
	})
	if err != nil {
		return err
	}
	s.broadcast(ScriptImportEvent{Type: "script_import", Report: report}, true)
	return nil
}

func (s *Session) handleToggleManual(ctx context.Context, msg Message) error {
	s.mu.Lock()
	s.manual = !s.manual
	manual := s.manual
	s.mu.Unlock()
	if manual {
		s.status("manual_mode_on", "")
	} else {
		s.status("manual_mode_off", "")
	}
	return nil
}

// requireManual gates raw input messages. Navigation and screenshots stay
// available outside manual mode.
func (s *Session) requireManual() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.manual {
		return types.NewError(types.KindSchemaMismatch, "manual mode is off")
	}
	return nil
}

func (s *Session) handleManualNavigate(ctx context.Context, msg Message) error {
	a := types.Action{Kind: types.ActionNavigate, URL: msg.URL}
	a.Description = a.Describe()
	_, err := s.worker.Execute(ctx, a, 0)
	return err
}

func (s *Session) handleManualClick(ctx context.Context, msg Message) error {
	if err := s.requireManual(); err != nil {
		return err
	}
	a := types.Action{
		Kind:   types.ActionClick,
		Target: types.Target{Primary: types.TargetCandidate{Strategy: types.BySelector, Value: msg.Selector}},
	}
	a.Description = a.Describe()
	_, err := s.worker.Execute(ctx, a, 0)
	return err
}

func (s *Session) handleManualType(ctx context.Context, msg Message) error {
	if err := s.requireManual(); err != nil {
		return err
	}
	a := types.Action{
		Kind:   types.ActionFill,
		Target: types.Target{Primary: types.TargetCandidate{Strategy: types.BySelector, Value: msg.Selector}},
		Value:  msg.Text,
	}
	a.Description = a.Describe()
	_, err := s.worker.Execute(ctx, a, 0)
	return err
}

func (s *Session) handleManualKey(ctx context.Context, msg Message) error {
	if err := s.requireManual(); err != nil {
		return err
	}
	kctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.worker.Press(kctx, msg.Key); err != nil {
		return err
	}
	s.stream.Poke()
	return nil
}

func (s *Session) handleManualScroll(ctx context.Context, msg Message) error {
	if err := s.requireManual(); err != nil {
		return err
	}
	dir := msg.Direction
	if dir == "" {
		dir = "down"
	}
	a := types.Action{Kind: types.ActionScroll, Direction: dir}
	a.Description = a.Describe()
	_, err := s.worker.Execute(ctx, a, 0)
	return err
}

func (s *Session) handleScreenshotRequest(ctx context.Context, msg Message) error {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	data, err := s.worker.Screenshot(sctx, s.stream.Quality())
	if err != nil {
		return err
	}
	info, _ := s.worker.Info(sctx)
	s.broadcast(ScreenshotEvent{
		Type:      "screenshot",
		SessionID: s.ID,
		Data:      base64.StdEncoding.EncodeToString(data),
		URL:       info.URL,
	}, false)
	return nil
}
