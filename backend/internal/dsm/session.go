package dsm

import "sync"

// SessionStore 按目标缓存 DSM 的 SID，可并发使用
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]string)}
}

func (s *SessionStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sid, ok := s.sessions[name]
	return sid, ok
}

func (s *SessionStore) Set(name, sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[name] = sid
}

func (s *SessionStore) Clear(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, name)
}
