// Package session keeps per-session dialog history for the QA fallback and
// persists it as one JSON file per session.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"deskmate/pkg/logger"
	"deskmate/pkg/providers"
)

type Session struct {
	Key      string              `json:"key"`
	Messages []providers.Message `json:"messages"`
	Created  time.Time           `json:"created"`
	Updated  time.Time           `json:"updated"`
}

type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	storage  string
}

var (
	// Keep startup responsive even if cloud-backed folders stall.
	sessionLoadTimeout = 750 * time.Millisecond
	readDir            = os.ReadDir
	readFile           = os.ReadFile
)

func NewSessionManager(storage string) *SessionManager {
	sm := &SessionManager{
		sessions: make(map[string]*Session),
		storage:  storage,
	}

	if storage != "" {
		os.MkdirAll(storage, 0755)
		if err := sm.loadSessionsWithTimeout(sessionLoadTimeout); err != nil {
			logger.WarnCF("session", "session preload skipped", map[string]interface{}{
				"storage": storage,
				"error":   err.Error(),
			})
		}
	}

	return sm
}

func (sm *SessionManager) AddMessage(key, role, content string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, ok := sm.sessions[key]
	if !ok {
		session = &Session{
			Key:      key,
			Messages: []providers.Message{},
			Created:  time.Now(),
		}
		sm.sessions[key] = session
	}
	session.Messages = append(session.Messages, providers.Message{Role: role, Content: content})
	session.Updated = time.Now()
}

func (sm *SessionManager) GetHistory(key string) []providers.Message {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, ok := sm.sessions[key]
	if !ok {
		return []providers.Message{}
	}
	history := make([]providers.Message, len(session.Messages))
	copy(history, session.Messages)
	return history
}

// TruncateHistory keeps only the most recent messages to bound prompt size.
func (sm *SessionManager) TruncateHistory(key string, keepLast int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, ok := sm.sessions[key]
	if !ok {
		return
	}
	if keepLast <= 0 {
		session.Messages = []providers.Message{}
		session.Updated = time.Now()
		return
	}
	if len(session.Messages) <= keepLast {
		return
	}
	session.Messages = session.Messages[len(session.Messages)-keepLast:]
	session.Updated = time.Now()
}

// Clear drops a session's history, in memory and on disk.
func (sm *SessionManager) Clear(key string) {
	sm.mu.Lock()
	delete(sm.sessions, key)
	sm.mu.Unlock()

	if sm.storage != "" && validKey(key) {
		_ = os.Remove(filepath.Join(sm.storage, key+".json"))
	}
}

// Save persists one session atomically (temp file + rename).
func (sm *SessionManager) Save(key string) error {
	if sm.storage == "" {
		return nil
	}
	if !validKey(key) {
		return os.ErrInvalid
	}

	sm.mu.RLock()
	stored, ok := sm.sessions[key]
	if !ok {
		sm.mu.RUnlock()
		return nil
	}
	snapshot := Session{
		Key:     stored.Key,
		Created: stored.Created,
		Updated: stored.Updated,
	}
	snapshot.Messages = make([]providers.Message, len(stored.Messages))
	copy(snapshot.Messages, stored.Messages)
	sm.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(sm.storage, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(sm.storage, key+".json")); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// validKey rejects keys that would produce invalid filenames or escape the
// storage directory.
func validKey(key string) bool {
	return key != "" && key != "." && key != ".." &&
		key == filepath.Base(key) &&
		!strings.Contains(key, "/") && !strings.Contains(key, "\\")
}

func (sm *SessionManager) loadSessionsWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return sm.loadSessions()
	}
	done := make(chan error, 1)
	go func() { done <- sm.loadSessions() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.New("session load timed out")
	}
}

func (sm *SessionManager) loadSessions() error {
	entries, err := readDir(sm.storage)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := readFile(filepath.Join(sm.storage, entry.Name()))
		if err != nil {
			continue
		}
		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			logger.WarnCF("session", "skipping corrupt session file", map[string]interface{}{
				"file": entry.Name(),
			})
			continue
		}
		if session.Key == "" {
			session.Key = strings.TrimSuffix(entry.Name(), ".json")
		}
		sm.sessions[session.Key] = &session
	}
	return nil
}
