package license

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LocalState is the locally persisted trust state: the manual retry
// counter, the blocked flag, and the authority-assigned device id.
type LocalState struct {
	RetryCount int    `json:"retry_count"`
	IsBlocked  bool   `json:"is_blocked"`
	DeviceID   string `json:"device_id,omitempty"`
}

// StateStore persists LocalState. Update applies a read-modify-write as a
// single atomic step so concurrent UI surfaces cannot lose increments.
type StateStore interface {
	Load() LocalState
	Update(fn func(*LocalState)) (LocalState, error)
}

// FileStateStore stores LocalState in a JSON file. Reads of corrupt or
// missing state resolve to the permissive defaults: a storage fault must
// never block startup or deny access.
type FileStateStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFileStateStore creates a store backed by the given file path
func NewFileStateStore(path string, logger *slog.Logger) *FileStateStore {
	return &FileStateStore{
		path:   path,
		logger: logger.With(slog.String("component", "state_store")),
	}
}

// Load reads the persisted state, falling back to permissive defaults
func (s *FileStateStore) Load() LocalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStateStore) loadLocked() LocalState {
	var state LocalState

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read trust state, using defaults",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}
		return LocalState{}
	}

	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("corrupt trust state, using defaults",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return LocalState{}
	}

	// Negative counters can only come from tampering or corruption
	if state.RetryCount < 0 {
		state.RetryCount = 0
		state.IsBlocked = false
	}

	return state
}

// Update loads the current state, applies fn, and persists the result
// under the store lock. The returned state is the post-update value.
func (s *FileStateStore) Update(fn func(*LocalState)) (LocalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.loadLocked()
	fn(&state)

	if err := s.saveLocked(state); err != nil {
		return state, err
	}
	return state, nil
}

// saveLocked writes the state file atomically via a temp file rename
func (s *FileStateStore) saveLocked(state LocalState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trust state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write trust state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace trust state: %w", err)
	}

	return nil
}
