package session

import "sync"

// Sessions maps fingerprints to upstream conversation ids. Process
// lifetime only; losing it just starts fresh upstream conversations.
type Sessions struct {
	mu  sync.RWMutex
	ids map[string]string
}

func NewSessions() *Sessions {
	return &Sessions{ids: make(map[string]string)}
}

// Get returns the cached upstream conversation id, if any.
func (s *Sessions) Get(fingerprint string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.ids[fingerprint]

	return id, ok
}

// Set records the upstream id observed in a SessionCreated event. First
// writer wins; the mapping only changes through Clear.
func (s *Sessions) Set(fingerprint, upstreamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[fingerprint]; !exists {
		s.ids[fingerprint] = upstreamID
	}
}

// Clear drops the mapping, on an explicit reset or when the upstream
// reports the conversation gone. The next unit starts a fresh one.
func (s *Sessions) Clear(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ids, fingerprint)
}
