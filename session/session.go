// session/session.go
package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/werewolfserver/network"
)

// Session is one registered agent connection.
type Session struct {
	PlayerID  int
	Name      string
	Conn      network.Connection
	CreatedAt time.Time

	alive      atomic.Bool
	lastActive atomic.Int64
	closeOnce  sync.Once
	closeErr   error
	sendMutex  sync.Mutex
}

func NewSession(playerID int, name string, conn network.Connection) *Session {
	now := time.Now()
	s := &Session{
		PlayerID:  playerID,
		Name:      name,
		Conn:      conn,
		CreatedAt: now,
	}
	s.alive.Store(true)
	s.lastActive.Store(now.UnixNano())
	return s
}

// Send writes one message. A non-zero deadline bounds the write; a blocked
// write fails once it passes.
func (s *Session) Send(data []byte, deadline time.Time) error {
	s.sendMutex.Lock()
	defer s.sendMutex.Unlock()
	s.Touch()
	if err := s.Conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.Conn.WriteMessage(data)
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) Alive() bool {
	return s.alive.Load()
}

// Close marks the session dead and closes the transport once.
func (s *Session) Close() error {
	s.alive.Store(false)
	s.closeOnce.Do(func() {
		s.closeErr = s.Conn.Close()
	})
	return s.closeErr
}

// Session管理器, keyed by player id. At most one session per player is live.
type Manager struct {
	sessions map[int]*Session
	onChange func(count int)
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[int]*Session),
	}
}

// OnChange registers a callback invoked with the new count after every
// registry change. It runs under the registry lock and must not call back.
func (m *Manager) OnChange(fn func(count int)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onChange = fn
}

// Register installs s for its player id. A session already on record for
// that id is swapped out under the lock, then closed outside it and returned.
func (m *Manager) Register(s *Session) *Session {
	m.mutex.Lock()
	old := m.sessions[s.PlayerID]
	m.sessions[s.PlayerID] = s
	m.notify()
	m.mutex.Unlock()

	if old == nil || old == s {
		return nil
	}
	old.Close()
	return old
}

// Remove deletes s only if it is still the session on record for its player.
func (m *Manager) Remove(s *Session) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if cur, exists := m.sessions[s.PlayerID]; !exists || cur != s {
		return false
	}
	delete(m.sessions, s.PlayerID)
	m.notify()
	return true
}

func (m *Manager) notify() {
	if m.onChange != nil {
		m.onChange(len(m.sessions))
	}
}

func (m *Manager) Get(playerID int) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, exists := m.sessions[playerID]
	if !exists || !s.Alive() {
		return nil, false
	}
	return s, true
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// PlayerIDs returns the registered player ids in ascending order.
func (m *Manager) PlayerIDs() []int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	ids := make([]int, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// CloseAll closes and forgets every session.
func (m *Manager) CloseAll() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for id, s := range m.sessions {
		s.Close()
		delete(m.sessions, id)
	}
	m.notify()
}
