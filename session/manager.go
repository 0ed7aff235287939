package session

import (
	"os"
	"sync"
	"time"

	"cmux-remote/log"
)

// DefaultGracePeriod is how long an orphaned session survives before the
// reaper terminates it.
const DefaultGracePeriod = 60 * time.Second

// Manager is the registry of live sessions, keyed both by session id and by
// attached client. A single mutex guards both maps; session methods that can
// block (Attach, Reattach, Terminate) are always called outside it so they
// can never deadlock against the read pump.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byClient map[Client]string

	grace time.Duration
	now   func() time.Time
	spawn func(Options) (*Session, error)
}

// NewManager returns a manager with the default grace period.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		byClient: make(map[Client]string),
		grace:    DefaultGracePeriod,
		now:      time.Now,
		spawn:    Spawn,
	}
}

// CreateFor spawns a session for a client and registers both directions.
// A missing or non-directory dir falls back to the user's home directory.
func (m *Manager) CreateFor(client Client, dir string, cols, rows int, tmuxName, tmuxBinary string) (*Session, error) {
	s, err := m.spawn(Options{
		WorkingDir: normalizeDir(dir),
		Cols:       cols,
		Rows:       rows,
		TmuxName:   tmuxName,
		TmuxBinary: tmuxBinary,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.byClient[client] = s.ID
	m.mu.Unlock()

	s.Attach(client)
	return s, nil
}

// SessionFor returns the session a client is attached to, nil if unknown.
func (m *Manager) SessionFor(client Client) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byClient[client]
	if !ok {
		return nil
	}
	return m.sessions[id]
}

// Detach drops the client mapping and orphans the session. It stays in the id
// map for the grace period so the client can reconnect.
func (m *Manager) Detach(client Client) {
	m.mu.Lock()
	id, ok := m.byClient[client]
	var s *Session
	if ok {
		delete(m.byClient, client)
		s = m.sessions[id]
	}
	m.mu.Unlock()
	if s != nil {
		s.Detach()
	}
}

// Remove drops the client mapping and terminates its session.
func (m *Manager) Remove(client Client) {
	m.mu.Lock()
	id, ok := m.byClient[client]
	var s *Session
	if ok {
		delete(m.byClient, client)
		s = m.sessions[id]
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if s != nil {
		s.Terminate()
	}
}

// FindOrphanByID returns the session with this id iff it is orphaned.
func (m *Manager) FindOrphanByID(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.sessions[id]; s != nil && s.IsOrphaned() {
		return s
	}
	return nil
}

// FindOrphansByDir returns all orphans spawned in dir.
func (m *Manager) FindOrphansByDir(dir string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orphans []*Session
	for _, s := range m.sessions {
		if s.WorkingDir == dir && s.IsOrphaned() {
			orphans = append(orphans, s)
		}
	}
	return orphans
}

// FindOrphanByTmux returns an orphan attached to the named tmux session.
func (m *Manager) FindOrphanByTmux(name string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TmuxName == name && s.IsOrphaned() {
			return s
		}
	}
	return nil
}

// Reattach binds a client to an orphaned session. Returns false when the id
// is unknown or the session already has a client.
func (m *Manager) Reattach(id string, client Client) bool {
	m.mu.Lock()
	s := m.sessions[id]
	if s == nil || !s.IsOrphaned() {
		m.mu.Unlock()
		return false
	}
	m.byClient[client] = id
	m.mu.Unlock()

	s.Reattach(client)
	return true
}

// ReapOrphans terminates orphans past the grace period and returns how many
// were reaped. Candidates are collected under the lock, terminated outside it.
func (m *Manager) ReapOrphans() int {
	m.mu.Lock()
	var victims []*Session
	for id, s := range m.sessions {
		if s.IsOrphaned() && m.now().Sub(s.LastDisconnectedAt()) > m.grace {
			victims = append(victims, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range victims {
		log.FileOnlyInfoLog.Printf("reaping orphaned session %s (dir %s)", s.ID, s.WorkingDir)
		s.Terminate()
	}
	return len(victims)
}

// RemoveAll terminates every session and clears both maps. Used at shutdown.
func (m *Manager) RemoveAll() {
	m.mu.Lock()
	victims := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		victims = append(victims, s)
	}
	m.sessions = make(map[string]*Session)
	m.byClient = make(map[Client]string)
	m.mu.Unlock()

	for _, s := range victims {
		s.Terminate()
	}
}

// AttachedCount returns the number of clients currently attached to sessions.
func (m *Manager) AttachedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byClient)
}

// SessionCount returns the number of live sessions, attached or orphaned.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// normalizeDir substitutes the home directory for paths that do not exist or
// are not directories.
func normalizeDir(dir string) string {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/"
	}
	return home
}
