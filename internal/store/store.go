// Package store persists scripts as one JSON file each under a storage
// root, with a top-level index file of summaries. Writes are serialized per
// script id; reads are concurrent.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"browsernerd/internal/logging"
	"browsernerd/internal/types"

	"go.uber.org/zap"
)

const indexFile = "index.json"

// storedScript is the on-disk schema: the script plus bookkeeping.
type storedScript struct {
	Script   types.Script `json:"script"`
	Checksum string       `json:"checksum"`
	SavedAt  time.Time    `json:"saved_at"`
}

// Store is the shared script store.
type Store struct {
	root string
	log  *zap.Logger

	mu    sync.RWMutex // guards index
	index map[string]types.ScriptSummary

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // per script id write locks

	watcher *watcher
}

// Open creates the storage root if needed and loads the index, rebuilding it
// from script files when missing or stale.
func Open(root string, watch bool) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	s := &Store{
		root:  root,
		log:   logging.Get(logging.CategoryStore),
		index: make(map[string]types.ScriptSummary),
		locks: make(map[string]*sync.Mutex),
	}
	if err := s.reloadIndex(); err != nil {
		return nil, err
	}
	if watch {
		w, err := newWatcher(s)
		if err != nil {
			s.log.Warn("storage watcher unavailable", zap.Error(err))
		} else {
			s.watcher = w
		}
	}
	return s, nil
}

// Close stops the watcher.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.close()
	}
	return nil
}

func (s *Store) scriptPath(id string) string {
	return filepath.Join(s.root, id+".json")
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Save persists the script, replacing any previous content for its id. The
// write is atomic (temp file + rename) and the stored document carries a
// content checksum.
func (s *Store) Save(script *types.Script) (string, error) {
	if err := script.Validate(); err != nil {
		return "", err
	}
	if script.ID == "" {
		return "", types.NewError(types.KindSchemaMismatch, "script has no id")
	}

	lock := s.lockFor(script.ID)
	lock.Lock()
	defer lock.Unlock()

	doc := storedScript{
		Script:   *script,
		Checksum: Checksum(script),
		SavedAt:  time.Now(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal script: %w", err)
	}
	if err := atomicWrite(s.scriptPath(script.ID), data); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}

	s.mu.Lock()
	s.index[script.ID] = script.Summary()
	s.mu.Unlock()
	if err := s.writeIndex(); err != nil {
		s.log.Warn("index write failed", zap.Error(err))
	}

	s.log.Info("script saved", zap.String("id", script.ID), zap.String("name", script.Name))
	return script.ID, nil
}

// Load reads one script by id.
func (s *Store) Load(id string) (*types.Script, error) {
	data, err := os.ReadFile(s.scriptPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewError(types.KindNotFound, "script %s not found", id)
		}
		return nil, fmt.Errorf("read script: %w", err)
	}
	var doc storedScript
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, types.WrapError(types.KindSchemaMismatch, err, "script %s is corrupt", id)
	}
	return &doc.Script, nil
}

// List returns summaries of every stored script, name-sorted.
func (s *Store) List() []types.ScriptSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ScriptSummary, 0, len(s.index))
	for _, sum := range s.index {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindByName returns the stored script summary with the given name, if any.
func (s *Store) FindByName(name string) (types.ScriptSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sum := range s.index {
		if sum.Name == name {
			return sum, true
		}
	}
	return types.ScriptSummary{}, false
}

// Delete removes a script.
func (s *Store) Delete(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.scriptPath(id)); err != nil {
		if os.IsNotExist(err) {
			return types.NewError(types.KindNotFound, "script %s not found", id)
		}
		return fmt.Errorf("delete script: %w", err)
	}
	s.mu.Lock()
	delete(s.index, id)
	s.mu.Unlock()
	if err := s.writeIndex(); err != nil {
		s.log.Warn("index write failed", zap.Error(err))
	}
	return nil
}

// TouchLastRun stamps the script's last-run time.
func (s *Store) TouchLastRun(id string, at time.Time) error {
	script, err := s.Load(id)
	if err != nil {
		return err
	}
	script.LastRunAt = &at
	_, err = s.Save(script)
	return err
}

// reloadIndex loads index.json, falling back to a rebuild from script files.
func (s *Store) reloadIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index = make(map[string]types.ScriptSummary)
	data, err := os.ReadFile(filepath.Join(s.root, indexFile))
	if err == nil {
		var idx []types.ScriptSummary
		if jsonErr := json.Unmarshal(data, &idx); jsonErr == nil {
			for _, sum := range idx {
				s.index[sum.ID] = sum
			}
			return nil
		}
		s.log.Warn("index corrupt, rebuilding")
	}
	return s.rebuildIndexLocked()
}

// rebuildIndex rescans the script files, ignoring index.json. The watcher
// uses it: after an external edit the index file is the stale artifact.
func (s *Store) rebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = make(map[string]types.ScriptSummary)
	return s.rebuildIndexLocked()
}

func (s *Store) rebuildIndexLocked() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("scan storage root: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == indexFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		data, err := os.ReadFile(filepath.Join(s.root, name))
		if err != nil {
			continue
		}
		var doc storedScript
		if err := json.Unmarshal(data, &doc); err != nil {
			s.log.Warn("skipping unreadable script file", zap.String("file", name))
			continue
		}
		s.index[id] = doc.Script.Summary()
	}
	return nil
}

func (s *Store) writeIndex() error {
	s.mu.RLock()
	idx := make([]types.ScriptSummary, 0, len(s.index))
	for _, sum := range s.index {
		idx = append(idx, sum)
	}
	s.mu.RUnlock()
	sort.Slice(idx, func(i, j int) bool { return idx[i].ID < idx[j].ID })

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(s.root, indexFile), data)
}

// atomicWrite replaces path via a temp file in the same directory.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Checksum computes the SHA-256 of the script's canonical JSON.
func Checksum(script *types.Script) string {
	canonical, _ := json.Marshal(script)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
