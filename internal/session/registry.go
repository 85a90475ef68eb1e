package session

import (
	"context"
	"sync"
	"time"

	"browsernerd/internal/browser"
	"browsernerd/internal/config"
	"browsernerd/internal/interpreter"
	"browsernerd/internal/logging"
	"browsernerd/internal/store"
	"browsernerd/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DriverFactory builds the browser driver for a new session. Tests inject
// stubs through it; production uses browser.NewRodDriver.
type DriverFactory func(cfg config.BrowserConfig) browser.Driver

const reapInterval = 30 * time.Second

// Registry tracks live sessions and reaps the ones left idle past the
// configured timeout.
type Registry struct {
	cfg     config.Config
	store   *store.Store
	planner interpreter.Planner
	drivers DriverFactory
	log     *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry builds a registry and starts its reaper. planner may be nil.
func NewRegistry(cfg config.Config, st *store.Store, planner interpreter.Planner, drivers DriverFactory) *Registry {
	if drivers == nil {
		drivers = func(bc config.BrowserConfig) browser.Driver {
			return browser.NewRodDriver(bc)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:      cfg,
		store:    st,
		planner:  planner,
		drivers:  drivers,
		log:      logging.Get(logging.CategorySession),
		sessions: make(map[string]*Session),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go r.reap(ctx)
	return r
}

// Attach binds a client to the session with the given id, creating a fresh
// session when id is empty. An unknown id is an error, never an implicit
// create: a reaped session must not silently come back with empty state.
func (r *Registry) Attach(ctx context.Context, id string, c Client) (*Session, error) {
	if id == "" {
		return r.create(ctx, c)
	}

	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.KindSessionUnknown, "session %q not found", id)
	}
	s.Attach(c)
	return s, nil
}

func (r *Registry) create(ctx context.Context, c Client) (*Session, error) {
	id := uuid.NewString()
	s, err := newSession(ctx, id, r.cfg, r.store, r.planner, r.drivers(r.cfg.Browser))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.log.Info("session registered", zap.String("session_id", id), zap.Int("live", count))
	s.Attach(c)
	return s, nil
}

// Detach unbinds a client. The session lingers for reconnects until the idle
// reaper collects it.
func (r *Registry) Detach(s *Session, c Client) {
	s.Detach(c)
}

// Get looks up a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, types.NewError(types.KindSessionUnknown, "session %q not found", id)
	}
	return s, nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) reap(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.reapOnce(now)
		}
	}
}

func (r *Registry) reapOnce(now time.Time) {
	timeout := r.cfg.Gateway.GetIdleTimeout()

	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if s.idleFor(now) >= timeout {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	closeAll(stale, func(s *Session) {
		r.log.Info("reaping idle session", zap.String("session_id", s.ID))
	})
}

// Close stops the reaper and tears down every live session.
func (r *Registry) Close() {
	r.cancel()
	<-r.done

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	closeAll(sessions, nil)
}

// closeAll tears sessions down in parallel; each close waits on a browser
// shutdown, so serializing them would stall the caller.
func closeAll(sessions []*Session, before func(*Session)) {
	var g errgroup.Group
	for _, s := range sessions {
		if before != nil {
			before(s)
		}
		g.Go(func() error {
			s.Close()
			return nil
		})
	}
	_ = g.Wait()
}
