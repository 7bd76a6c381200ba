package shell

import (
	"sync"

	"go.uber.org/zap"

	"github.com/blockwait/toolhost/internal/config"
	"github.com/blockwait/toolhost/internal/logging"
	"github.com/blockwait/toolhost/internal/shared/id"
)

// Manager owns the live shell sessions, keyed by session ID. Sessions are
// created lazily on first use and live until closed explicitly or the
// manager shuts down.
type Manager struct {
	cfg config.ShellConfig
	log *logging.Logger

	mu       sync.Mutex
	sessions map[id.SessionID]*Session

	// newSession is swapped out by tests to avoid spawning real shells.
	newSession func() (*Session, error)
}

// NewManager creates an empty session manager.
func NewManager(cfg config.ShellConfig, log *logging.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		log:      log.Named("shell"),
		sessions: make(map[id.SessionID]*Session),
	}
	m.newSession = func() (*Session, error) {
		return NewSession(m.cfg, m.log)
	}
	return m
}

// NewManagerWithFactory creates a manager that spawns sessions through
// factory instead of launching real shells. Used by tests.
func NewManagerWithFactory(factory func() (*Session, error), log *logging.Logger) *Manager {
	return &Manager{
		log:        log.Named("shell"),
		sessions:   make(map[id.SessionID]*Session),
		newSession: factory,
	}
}

// Acquire returns the session for sid, spawning a fresh shell if this is
// the first use of the ID. A session whose shell has died is evicted and
// replaced, so an ID recovers on its next use instead of staying wedged
// on a dead process.
func (m *Manager) Acquire(sid id.SessionID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sid]; ok {
		if s.State() != StateClosed {
			return s, nil
		}
		s.Close()
		delete(m.sessions, sid)
		m.log.Info("session respawned after shell exit", zap.String("session_id", string(sid)))
	}
	s, err := m.newSession()
	if err != nil {
		return nil, err
	}
	m.sessions[sid] = s
	m.log.Info("session created", zap.String("session_id", string(sid)))
	return s, nil
}

// Get returns the session for sid without creating one.
func (m *Manager) Get(sid id.SessionID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sid]
	return s, ok
}

// Close tears down the session for sid. Closing an unknown ID reports
// false.
func (m *Manager) Close(sid id.SessionID) bool {
	m.mu.Lock()
	s, ok := m.sessions[sid]
	delete(m.sessions, sid)
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	m.log.Info("session closed", zap.String("session_id", string(sid)))
	return true
}

// CloseAll tears down every live session. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[id.SessionID]*Session)
	m.mu.Unlock()

	for sid, s := range sessions {
		s.Close()
		m.log.Info("session closed", zap.String("session_id", string(sid)))
	}
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
