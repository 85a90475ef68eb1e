// Package recorder captures executed actions into reusable scripts and
// infers their variable schemas.
package recorder

import (
	"sync"
	"time"

	"browsernerd/internal/logging"
	"browsernerd/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// softCap bounds a single recording. Captures past the cap are dropped with
// a warning rather than failing the session.
const softCap = 500

// Recorder observes successful worker actions while the session is in
// recording mode. A stopped recording atomically becomes a script and the
// recording slot resets.
type Recorder struct {
	log *zap.Logger

	mu        sync.Mutex
	active    bool
	name      string
	desc      string
	actions   []types.Action
	firstURL  string
	startedAt time.Time
}

// New creates an idle recorder.
func New() *Recorder {
	return &Recorder{log: logging.Get(logging.CategoryRecording)}
}

// Start opens a recording. Starting while one is open discards nothing; the
// open recording keeps accumulating.
func (r *Recorder) Start(name, description string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return false
	}
	r.active = true
	r.name = name
	r.desc = description
	r.actions = nil
	r.firstURL = ""
	r.startedAt = time.Now()
	r.log.Info("recording started", zap.String("name", name))
	return true
}

// Recording reports whether a recording is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Observe captures one executed action. Only successful executions are
// recorded; the capture reflects actual execution order. currentURL is the
// page URL before the action ran, used to synthesize the first navigate.
func (r *Recorder) Observe(action types.Action, result types.ActionResult, currentURL string) {
	if !result.Success {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	if len(r.actions) >= softCap {
		r.log.Warn("recording cap reached, dropping capture", zap.Int("cap", softCap))
		return
	}

	if len(r.actions) == 0 && action.Kind != types.ActionNavigate {
		if currentURL != "" && currentURL != "about:blank" {
			r.actions = append(r.actions, types.Action{
				Kind:        types.ActionNavigate,
				URL:         currentURL,
				Description: "navigate to " + currentURL,
			})
			r.firstURL = currentURL
		}
	}
	if r.firstURL == "" && action.Kind == types.ActionNavigate {
		r.firstURL = action.URL
	}

	captured := action
	captured.Result = nil
	captured.Description = action.Describe()
	r.actions = append(r.actions, captured)
}

// Stop closes the recording, runs variable inference and returns the
// resulting script. Returns false when no recording was open or nothing was
// captured.
func (r *Recorder) Stop() (*types.Script, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil, false
	}
	r.active = false

	actions := r.actions
	r.actions = nil
	if len(actions) == 0 {
		return nil, false
	}

	name := r.name
	if name == "" {
		name = "recording " + r.startedAt.Format("2006-01-02 15:04")
	}

	actions, schema := InferVariables(actions)
	script := &types.Script{
		ID:          uuid.NewString(),
		Name:        name,
		Description: r.desc,
		Origin:      types.OriginRecorded,
		InitialURL:  r.firstURL,
		Actions:     actions,
		Variables:   schema,
		CreatedAt:   time.Now(),
	}
	if script.InitialURL == "" {
		for _, a := range actions {
			if a.Kind == types.ActionNavigate {
				script.InitialURL = a.URL
				break
			}
		}
	}
	r.log.Info("recording completed",
		zap.String("script_id", script.ID),
		zap.Int("actions", len(actions)),
		zap.Int("variables", len(schema)))
	return script, true
}
