package store

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watcher refreshes the index when script files change out of band (manual
// edits, external sync). Events are debounced; the rebuild reads every file,
// so coalescing a burst into one pass is enough.
type watcher struct {
	fs   *fsnotify.Watcher
	done chan struct{}
}

func newWatcher(s *Store) (*watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(s.root); err != nil {
		fs.Close()
		return nil, err
	}
	w := &watcher{fs: fs, done: make(chan struct{})}

	go func() {
		var pending <-chan time.Time
		for {
			select {
			case ev, ok := <-fs.Events:
				if !ok {
					return
				}
				if strings.Contains(ev.Name, ".tmp-") || !strings.HasSuffix(ev.Name, ".json") ||
					strings.HasSuffix(ev.Name, indexFile) {
					continue
				}
				pending = time.After(250 * time.Millisecond)
			case err, ok := <-fs.Errors:
				if !ok {
					return
				}
				s.log.Warn("storage watch error", zap.Error(err))
			case <-pending:
				pending = nil
				if err := s.rebuildIndex(); err != nil {
					s.log.Warn("index refresh failed", zap.Error(err))
				} else {
					s.log.Debug("index refreshed from disk")
				}
				if err := s.writeIndex(); err != nil {
					s.log.Debug("index write after refresh failed", zap.Error(err))
				}
			case <-w.done:
				return
			}
		}
	}()
	return w, nil
}

func (w *watcher) close() error {
	close(w.done)
	return w.fs.Close()
}
