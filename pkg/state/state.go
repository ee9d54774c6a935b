// Package state persists per-session preferences (auto-confirm, selected
// model) across restarts. Saves are atomic so a crash mid-write never leaves
// a corrupted file.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deskmate/pkg/logger"
)

// Prefs are the durable settings of one session.
type Prefs struct {
	// AutoConfirm, when set, overrides the global confirmation policy.
	AutoConfirm *bool  `json:"auto_confirm,omitempty"`
	Model       string `json:"model,omitempty"`
}

type State struct {
	Sessions  map[string]Prefs `json:"sessions"`
	Timestamp time.Time        `json:"timestamp"`
}

// Manager manages persistent session preferences with atomic saves.
type Manager struct {
	stateFile string
	mu        sync.RWMutex
	state     *State
}

var (
	stateReadFile         = os.ReadFile
	stateBootstrapTimeout = 750 * time.Millisecond
)

// NewManager loads preferences from dir/state.json, creating the directory
// if needed. Load failures are logged and start from empty state rather
// than blocking startup.
func NewManager(dir string) *Manager {
	stateFile := filepath.Join(dir, "state.json")
	os.MkdirAll(dir, 0755)

	m := &Manager{
		stateFile: stateFile,
		state:     &State{Sessions: map[string]Prefs{}},
	}

	loaded, err := loadWithTimeout(stateFile, stateBootstrapTimeout)
	if err != nil {
		logger.WarnCF("state", "bootstrap skipped", map[string]interface{}{
			"file":  stateFile,
			"error": err.Error(),
		})
	} else if loaded != nil {
		if loaded.Sessions == nil {
			loaded.Sessions = map[string]Prefs{}
		}
		m.state = loaded
	}
	return m
}

// Get returns the preferences for a session, zero-valued if never set.
func (m *Manager) Get(sessionID string) Prefs {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Sessions[sessionID]
}

// SetAutoConfirm updates the session's confirmation policy and saves.
func (m *Manager) SetAutoConfirm(sessionID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefs := m.state.Sessions[sessionID]
	prefs.AutoConfirm = &enabled
	m.state.Sessions[sessionID] = prefs
	m.state.Timestamp = time.Now()
	return m.saveAtomic()
}

// SetModel updates the session's selected model and saves.
func (m *Manager) SetModel(sessionID, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefs := m.state.Sessions[sessionID]
	prefs.Model = model
	m.state.Sessions[sessionID] = prefs
	m.state.Timestamp = time.Now()
	return m.saveAtomic()
}

// saveAtomic writes to a temp file in the target directory, then renames it
// over the state file (atomic on POSIX). Must be called with the lock held.
func (m *Manager) saveAtomic() error {
	tempFile := m.stateFile + ".tmp"

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tempFile, m.stateFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("rename temp state file: %w", err)
	}
	return nil
}

// loadWithTimeout bounds the bootstrap read so startup stays responsive on
// slow network filesystems.
func loadWithTimeout(stateFile string, timeout time.Duration) (*State, error) {
	if timeout <= 0 {
		return loadStateFromPath(stateFile)
	}

	type result struct {
		state *State
		err   error
	}
	done := make(chan result, 1)
	go func() {
		st, err := loadStateFromPath(stateFile)
		done <- result{state: st, err: err}
	}()

	select {
	case out := <-done:
		return out.state, out.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("state load timed out")
	}
}

func loadStateFromPath(path string) (*State, error) {
	data, err := stateReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal state %s: %w", path, err)
	}
	return &st, nil
}
