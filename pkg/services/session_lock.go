package services

import "sync"

// sessionLocks serializes pipeline runs per session so interleaved requests
// cannot corrupt the clarification handshake. Requests for different
// sessions proceed in parallel.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// Lock acquires the mutex for sessionID and returns its release func.
func (s *sessionLocks) Lock(sessionID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		s.locks[sessionID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}
