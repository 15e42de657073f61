// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/wfunc/picklo/network"
)

// Session 一个客户端连接。Attach 之后绑定到房间里的一个玩家
type Session struct {
	ID         string
	Conn       network.Connection
	CreatedAt  time.Time
	roomID     string
	playerID   string
	lastActive time.Time
	mutex      sync.RWMutex
}

func NewSession(id string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		lastActive: now,
	}
}

// Attach 绑定房间和玩家
func (s *Session) Attach(roomID, playerID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.roomID = roomID
	s.playerID = playerID
}

// Identity 返回绑定的房间和玩家；未绑定时为空
func (s *Session) Identity() (roomID, playerID string) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.roomID, s.playerID
}

func (s *Session) Touch() {
	s.mutex.Lock()
	s.lastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

func (s *Session) Send(msgID uint16, data []byte) error {
	s.Touch()
	return s.Conn.Send(msgID, data)
}

// SendJSON 编码并发送
func (s *Session) SendJSON(msgID uint16, v interface{}) error {
	s.Touch()
	return network.SendJSON(s.Conn, msgID, v)
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

// GetByRoom 绑定到某个房间的所有会话
func (m *Manager) GetByRoom(roomID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if r, _ := session.Identity(); r == roomID {
			result = append(result, session)
		}
	}
	return result
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// CloseAll 关闭所有连接
func (m *Manager) CloseAll() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, s := range m.sessions {
		s.Close()
	}
}
