package browser

import (
	"context"
	"time"

	"browsernerd/internal/config"
	"browsernerd/internal/logging"
	"browsernerd/internal/types"

	"go.uber.org/zap"
)

// Events is the worker's outward notification surface. The session wires it
// to the recorder and the streamer; the worker holds no back-reference.
type Events interface {
	ActionCompleted(action types.Action, result types.ActionResult)
}

// NopEvents discards notifications.
type NopEvents struct{}

func (NopEvents) ActionCompleted(types.Action, types.ActionResult) {}

// Worker exposes a strictly serial action API over one browser page. A
// single-slot mailbox serializes callers; a second Execute while one is in
// flight is rejected with Busy rather than queued.
type Worker struct {
	drv    Driver
	cfg    config.ExecutionConfig
	events Events
	log    *zap.Logger

	slot chan struct{}
}

// NewWorker builds a worker over the given driver.
func NewWorker(drv Driver, cfg config.ExecutionConfig, events Events) *Worker {
	if events == nil {
		events = NopEvents{}
	}
	w := &Worker{
		drv:    drv,
		cfg:    cfg,
		events: events,
		log:    logging.Get(logging.CategoryBrowser),
		slot:   make(chan struct{}, 1),
	}
	w.slot <- struct{}{}
	return w
}

// Open acquires the browser page. Idempotent.
func (w *Worker) Open(ctx context.Context) error {
	return w.drv.Open(ctx)
}

// Close tears the browser down. Idempotent; safe on all exit paths.
func (w *Worker) Close() error {
	return w.drv.Close()
}

// Snapshot returns the interpreter's view of the current page.
func (w *Worker) Snapshot(ctx context.Context) (*types.PageSnapshot, error) {
	return w.drv.Snapshot(ctx)
}

// Info returns the current URL and title.
func (w *Worker) Info(ctx context.Context) (PageInfo, error) {
	return w.drv.Info(ctx)
}

// Press sends a key to the focused element. Manual mode only; key presses
// are not recorded.
func (w *Worker) Press(ctx context.Context, key string) error {
	return w.drv.Press(ctx, key)
}

// Screenshot captures the current frame at the given JPEG quality.
func (w *Worker) Screenshot(ctx context.Context, quality int) ([]byte, error) {
	return w.drv.Screenshot(ctx, quality)
}

// Execute performs exactly one action under the given deadline. Retryable
// failures (Timeout, TargetNotFound) get up to MaxRetries extra attempts with
// exponential backoff; every attempt walks the target's fallback candidates.
func (w *Worker) Execute(ctx context.Context, action types.Action, deadline time.Duration) (types.ActionResult, error) {
	select {
	case <-w.slot:
	default:
		return types.ActionResult{FailureKind: types.KindBusy},
			types.NewError(types.KindBusy, "worker has an action in flight")
	}
	defer func() { w.slot <- struct{}{} }()

	if deadline <= 0 {
		deadline = w.cfg.GetActionTimeout()
	}

	start := time.Now()
	var lastErr error
	attempts := w.cfg.GetMaxRetries() + 1
	backoff := w.cfg.GetRetryBase()

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			cancelled := false
			select {
			case <-ctx.Done():
				lastErr = types.WrapError(types.KindCancelled, ctx.Err(), "action cancelled")
				cancelled = true
			case <-time.After(backoff):
				backoff *= 2
			}
			if cancelled {
				break
			}
		}

		actx, cancel := context.WithTimeout(ctx, deadline)
		final, extracted, err := w.perform(actx, action)
		cancel()

		if err == nil {
			info, _ := w.drv.Info(ctx)
			result := types.ActionResult{
				Success:     true,
				ObservedURL: info.URL,
				FinalTarget: final,
				Extracted:   extracted,
				Duration:    time.Since(start),
			}
			w.events.ActionCompleted(action, result)
			w.log.Debug("action executed",
				zap.String("kind", string(action.Kind)),
				zap.String("target", final),
				zap.Duration("duration", result.Duration))
			return result, nil
		}

		lastErr = err
		kind := types.KindOf(err)
		if !types.IsRetryable(kind) {
			break
		}
		w.log.Debug("retryable action failure",
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempt+1))
	}

	kind := types.KindOf(lastErr)
	if kind == "" {
		kind = types.KindDriver
	}
	result := types.ActionResult{
		Success:     false,
		Duration:    time.Since(start),
		FailureKind: kind,
		Error:       lastErr.Error(),
	}
	w.events.ActionCompleted(action, result)
	return result, lastErr
}

// perform dispatches one attempt of one action to the driver.
func (w *Worker) perform(ctx context.Context, action types.Action) (final, extracted string, err error) {
	switch action.Kind {
	case types.ActionNavigate:
		return "", "", w.drv.Navigate(ctx, action.URL)
	case types.ActionClick:
		final, err = w.drv.Click(ctx, action.Target)
		return final, "", err
	case types.ActionFill:
		final, err = w.drv.Fill(ctx, action.Target, action.Value)
		return final, "", err
	case types.ActionSelect:
		final, err = w.drv.SelectOption(ctx, action.Target, action.Option)
		return final, "", err
	case types.ActionExtract:
		extracted, final, err = w.drv.Extract(ctx, action.Target)
		return final, extracted, err
	case types.ActionScroll:
		if action.Direction != "" {
			return "", "", w.drv.ScrollBy(ctx, action.Direction)
		}
		final, err = w.drv.ScrollTo(ctx, action.Target)
		return final, "", err
	case types.ActionWait:
		if action.Predicate != "" {
			return "", "", w.drv.WaitFor(ctx, action.Predicate)
		}
		select {
		case <-ctx.Done():
			return "", "", types.WrapError(types.KindCancelled, ctx.Err(), "wait interrupted")
		case <-time.After(action.WaitDuration):
			return "", "", nil
		}
	case types.ActionAssert:
		return "", "", w.drv.WaitFor(ctx, action.Predicate)
	}
	return "", "", types.NewError(types.KindSchemaMismatch, "unknown action kind %q", action.Kind)
}
