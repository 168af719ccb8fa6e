package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/user/logfan"
)

// UpdateError reports a rejected configuration update. The current
// snapshot is always retained when it is returned.
type UpdateError struct {
	Err error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("config update rejected: %v", e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Manager owns the current configuration snapshot. Reads are lock-free
// through an atomic pointer; Apply serializes through a mutex.
// Subscriber callbacks run synchronously under that mutex and must
// return quickly.
type Manager struct {
	path     string
	log      logfan.Logger
	mu       sync.Mutex
	snapshot atomic.Pointer[Server]
	subs     []func(*Server)
}

// NewManager builds the manager, preferring the persisted snapshot at
// path. If the file is absent or invalid, the fallback document is
// used and persisted.
func NewManager(path string, fallback *Server, log logfan.Logger) (*Manager, error) {
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("fallback config: %w", err)
	}

	m := &Manager{path: path, log: log}

	if data, err := os.ReadFile(path); err == nil {
		if s, perr := Parse(data); perr == nil {
			m.snapshot.Store(s)
			return m, nil
		} else {
			log.Warn("persisted config invalid, falling back to environment", "path", path, "error", perr)
		}
	}

	m.snapshot.Store(fallback)
	if err := m.persist(fallback); err != nil {
		log.Warn("could not persist initial config", "path", path, "error", err)
	}
	return m, nil
}

// Get returns the current snapshot. The returned document must be
// treated as immutable.
func (m *Manager) Get() *Server {
	return m.snapshot.Load()
}

// Subscribe registers a callback invoked synchronously after each
// accepted update.
func (m *Manager) Subscribe(fn func(*Server)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Apply validates a raw document and, if it differs from the current
// snapshot, swaps it in, persists it and notifies subscribers. The
// update is all-or-nothing.
func (m *Manager) Apply(doc []byte) error {
	next, err := Parse(doc)
	if err != nil {
		return &UpdateError{Err: err}
	}
	return m.ApplyConfig(next)
}

// ApplyConfig is Apply for an already-decoded document.
func (m *Manager) ApplyConfig(next *Server) error {
	if err := next.Validate(); err != nil {
		return &UpdateError{Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.snapshot.Load()
	if reflect.DeepEqual(current, next) {
		m.log.Debug("config unchanged, skipping apply")
		return nil
	}

	m.snapshot.Store(next)
	if err := m.persist(next); err != nil {
		m.log.Error("could not persist config snapshot", "path", m.path, "error", err)
	}
	for _, fn := range m.subs {
		fn(next)
	}
	return nil
}

// persist writes the snapshot as pretty-printed UTF-8 JSON, two-space
// indent, non-ASCII preserved. The write goes through a temp file and
// rename so a crash leaves either the old or the new document.
func (m *Manager) persist(s *Server) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
