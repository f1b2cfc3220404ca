package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ErrUnsupportedVersion is returned for state files from a newer release.
var ErrUnsupportedVersion = errors.New("unsupported state file version")

var stateAPI = sonic.ConfigStd

// BridgeState is the persisted bridge state.
type BridgeState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// LastAddress is the candidate that most recently connected.
	LastAddress string `json:"last_address,omitempty"`

	// LastSource is where LastAddress came from (static, mdns, ...).
	LastSource string `json:"last_source,omitempty"`

	// LastConnectedAt is when LastAddress connected.
	LastConnectedAt time.Time `json:"last_connected_at,omitempty"`

	// Connects counts successful connections over the file's lifetime.
	Connects uint64 `json:"connects,omitempty"`
}

// StateStore manages persistence of bridge state to a JSON file.
type StateStore struct {
	mu   sync.Mutex
	path string
}

// NewStateStore creates a new state store.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Path returns the state file path.
func (s *StateStore) Path() string {
	return s.path
}

// Save persists the state to disk. The file is replaced atomically.
func (s *StateStore) Save(state *BridgeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(state)
}

func (s *StateStore) saveLocked(state *BridgeState) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := stateAPI.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads the state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *StateStore) Load() (*BridgeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *StateStore) loadLocked() (*BridgeState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &BridgeState{}
	if err := stateAPI.Unmarshal(data, state); err != nil {
		return nil, err
	}
	if state.Version > StateVersion {
		return nil, ErrUnsupportedVersion
	}
	return state, nil
}

// Clear removes the state file.
func (s *StateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// LastAddress returns the remembered address. Unreadable state counts as
// none.
func (s *StateStore) LastAddress() (string, bool) {
	st, err := s.Load()
	if err != nil || st == nil || st.LastAddress == "" {
		return "", false
	}
	return st.LastAddress, true
}

// RecordConnect remembers address as the last one that worked.
func (s *StateStore) RecordConnect(address, source string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil || st == nil {
		st = &BridgeState{}
	}
	st.LastAddress = address
	st.LastSource = source
	st.LastConnectedAt = at
	st.Connects++
	st.SavedAt = time.Time{}
	return s.saveLocked(st)
}
