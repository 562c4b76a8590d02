package audit

import (
	"context"
	"sync"

	"keystone/pkg/domain"
)

// InMemoryStore keeps events in process for tests and local runs.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of every appended event in order.
func (s *InMemoryStore) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}

// ActionsFor returns the actions recorded for one member, in order.
func (s *InMemoryStore) ActionsFor(memberID domain.MemberID) []Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Action
	for _, e := range s.events {
		if e.MemberID == memberID {
			out = append(out, e.Action)
		}
	}
	return out
}
