package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"browsernerd/internal/config"
	"browsernerd/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type collectSink struct {
	mu     sync.Mutex
	frames []types.Frame
}

func (s *collectSink) Frame(f types.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func streamCfg() config.StreamConfig {
	return config.StreamConfig{
		BaseRate:    50, // fast enough for a short test window
		BurstRate:   200,
		BurstWindow: 100 * time.Millisecond,
		Quality:     80,
	}
}

func TestStreamerQualityFeedback(t *testing.T) {
	s := NewStreamer(NewWorker(&stubDriver{}, fastCfg(), nil), streamCfg(), &collectSink{})

	require.Equal(t, 80, s.Quality())

	t.Run("degrades above half-full", func(t *testing.T) {
		s.ReportBufferDepth(0.6)
		assert.Equal(t, 70, s.Quality())
		s.ReportBufferDepth(0.9)
		assert.Equal(t, 60, s.Quality())
	})

	t.Run("holds in the middle band", func(t *testing.T) {
		s.ReportBufferDepth(0.4)
		assert.Equal(t, 60, s.Quality())
	})

	t.Run("recovers below a quarter, capped at 80", func(t *testing.T) {
		s.ReportBufferDepth(0.1)
		assert.Equal(t, 70, s.Quality())
		s.ReportBufferDepth(0.0)
		assert.Equal(t, 80, s.Quality())
		s.ReportBufferDepth(0.0)
		assert.Equal(t, 80, s.Quality())
	})

	t.Run("never collapses to zero", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			s.ReportBufferDepth(1.0)
		}
		assert.Equal(t, 10, s.Quality())
	})
}

func TestStreamerBurstInterval(t *testing.T) {
	s := NewStreamer(NewWorker(&stubDriver{}, fastCfg(), nil), config.StreamConfig{
		BaseRate:    2,
		BurstRate:   10,
		BurstWindow: time.Minute,
		Quality:     80,
	}, &collectSink{})

	assert.Equal(t, 500*time.Millisecond, s.interval())
	s.Poke()
	assert.Equal(t, 100*time.Millisecond, s.interval())
}

func TestStreamerSuspendsWithoutClients(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &collectSink{}
	s := NewStreamer(NewWorker(&stubDriver{url: "https://example.com"}, fastCfg(), nil), streamCfg(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	// No clients: the producer must stay idle.
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, sink.count())

	s.ClientAttached()
	require.Eventually(t, func() bool { return sink.count() > 0 },
		2*time.Second, 10*time.Millisecond, "frames must flow once a client attaches")
}

func TestStreamerFrameIDsIncrease(t *testing.T) {
	sink := &collectSink{}
	s := NewStreamer(NewWorker(&stubDriver{url: "https://example.com"}, fastCfg(), nil), streamCfg(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.ClientAttached()

	require.Eventually(t, func() bool { return sink.count() >= 3 }, 2*time.Second, 10*time.Millisecond)
	s.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i := 1; i < len(sink.frames); i++ {
		assert.Greater(t, sink.frames[i].ID, sink.frames[i-1].ID)
	}
	assert.Equal(t, "https://example.com", sink.frames[0].URL)
}
