package browser

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"browsernerd/internal/config"
	"browsernerd/internal/logging"
	"browsernerd/internal/types"

	"go.uber.org/zap"
)

// FrameSink receives captured frames.
type FrameSink interface {
	Frame(f types.Frame)
}

// Streamer is the adaptive screenshot producer. It idles at the base rate,
// bursts after actions and navigations, and trades JPEG quality against the
// slowest client's buffer depth. It is suspended while no client is attached.
type Streamer struct {
	worker *Worker
	cfg    config.StreamConfig
	sink   FrameSink
	log    *zap.Logger

	frameID    atomic.Uint64
	burstUntil atomic.Int64 // unix nanos

	mu      sync.Mutex
	quality int
	clients int
	resume  chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStreamer builds a streamer over the worker's page.
func NewStreamer(worker *Worker, cfg config.StreamConfig, sink FrameSink) *Streamer {
	return &Streamer{
		worker:  worker,
		cfg:     cfg,
		sink:    sink,
		log:     logging.Get(logging.CategoryStream),
		quality: cfg.GetQuality(),
		resume:  make(chan struct{}, 1),
	}
}

// Start launches the capture loop.
func (s *Streamer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop terminates the capture loop and waits for it to exit.
func (s *Streamer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Poke switches the producer into burst mode; called after any worker action
// or navigation completes.
func (s *Streamer) Poke() {
	s.burstUntil.Store(time.Now().Add(s.cfg.GetBurstWindow()).UnixNano())
}

// ClientAttached / ClientDetached track attached clients; the producer is
// suspended at zero.
func (s *Streamer) ClientAttached() {
	s.mu.Lock()
	s.clients++
	first := s.clients == 1
	s.mu.Unlock()
	if first {
		select {
		case s.resume <- struct{}{}:
		default:
		}
	}
}

func (s *Streamer) ClientDetached() {
	s.mu.Lock()
	if s.clients > 0 {
		s.clients--
	}
	s.mu.Unlock()
}

// ReportBufferDepth feeds back the fullest client buffer as a 0..1 ratio.
// Above 50% quality drops by 10; below 25% it recovers toward 80.
func (s *Streamer) ReportBufferDepth(ratio float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case ratio > 0.5:
		if s.quality > 10 {
			s.quality -= 10
		}
	case ratio < 0.25:
		if s.quality < 80 {
			s.quality += 10
			if s.quality > 80 {
				s.quality = 80
			}
		}
	}
}

// Quality returns the current JPEG quality.
func (s *Streamer) Quality() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality
}

func (s *Streamer) interval() time.Duration {
	rate := s.cfg.GetBaseRate()
	if time.Now().UnixNano() < s.burstUntil.Load() {
		rate = s.cfg.GetBurstRate()
	}
	return time.Duration(float64(time.Second) / rate)
}

func (s *Streamer) suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients == 0
}

func (s *Streamer) run(ctx context.Context) {
	defer close(s.done)
	timer := time.NewTimer(s.interval())
	defer timer.Stop()

	for {
		if s.suspended() {
			select {
			case <-ctx.Done():
				return
			case <-s.resume:
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.capture(ctx)
		timer.Reset(s.interval())
	}
}

func (s *Streamer) capture(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := s.worker.Screenshot(cctx, s.Quality())
	if err != nil {
		s.log.Debug("frame capture failed", zap.Error(err))
		return
	}
	info, _ := s.worker.Info(cctx)
	s.sink.Frame(types.Frame{
		ID:       s.frameID.Add(1),
		Data:     data,
		URL:      info.URL,
		Captured: time.Now().UnixMilli(),
	})
}
