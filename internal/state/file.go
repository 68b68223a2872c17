package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/a2council/a2councilbot/internal/logging"
)

// FileStore persists state as a single JSON file, written atomically. The
// design assumes exactly one orchestrator runs against a given file; no
// locking is taken.
type FileStore struct {
	path   string
	logger logging.Logger
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string, logger logging.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Load reads the state file. Missing or corrupt files yield a fresh state.
func (f *FileStore) Load() (*State, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		f.logger.WithError(err).Debug("Could not load state file, starting fresh")
		return New(), nil
	}
	s := New()
	if err := json.Unmarshal(raw, s); err != nil {
		f.logger.WithError(err).Warn("State file is corrupt, starting fresh")
		return New(), nil
	}
	s.normalize()
	return s, nil
}

// Save writes the state via a temp file and rename so a crash mid-write
// never leaves a truncated state file.
func (f *FileStore) Save(s *State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".state-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path)
}

// MemoryStore keeps state in memory; it backs tests and dry runs.
type MemoryStore struct {
	state *State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored state, or a fresh one.
func (m *MemoryStore) Load() (*State, error) {
	if m.state == nil {
		return New(), nil
	}
	return m.state, nil
}

// Save retains the state in memory.
func (m *MemoryStore) Save(s *State) error {
	m.state = s
	return nil
}
