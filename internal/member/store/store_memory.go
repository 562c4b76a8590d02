package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"keystone/internal/member/models"
	"keystone/pkg/domain"
	"keystone/pkg/platform/sentinel"
)

// InMemoryStore is a Store for tests and local runs. Pair it with
// tx.MemoryRunner so allocations serialize the way SERIALIZABLE does.
type InMemoryStore struct {
	mu      sync.RWMutex
	members map[domain.MemberID]*models.Member
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{members: make(map[domain.MemberID]*models.Member)}
}

func (s *InMemoryStore) Create(_ context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.members[m.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	if m.HasNumber() && s.numberTaken(m.MemberNumber) {
		return sentinel.ErrConflict
	}
	clone := *m
	s.members[m.ID] = &clone
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.MemberID) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *m
	return &clone, nil
}

func (s *InMemoryStore) FindByNumber(_ context.Context, number domain.MemberNumber) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if m.MemberNumber == number {
			clone := *m
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindByIDs(_ context.Context, ids []domain.MemberID) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Member, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.members[id]; ok {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

// MaxMemberNumber returns the greatest well-formed number. Fixed width makes
// the lexical order numeric, matching the postgres store.
func (s *InMemoryStore) MaxMemberNumber(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max string
	for _, m := range s.members {
		n := string(m.MemberNumber)
		if domain.IsValidMemberNumber(n) && n > max {
			max = n
		}
	}
	return max, nil
}

func (s *InMemoryStore) AssignNumber(_ context.Context, id domain.MemberID, number domain.MemberNumber, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if m.HasNumber() {
		return sentinel.ErrAlreadyUsed
	}
	if s.numberTaken(number) {
		return sentinel.ErrConflict
	}
	m.MemberNumber = number
	m.UpdatedAt = at
	return nil
}

func (s *InMemoryStore) ListUnnumbered(_ context.Context) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Member
	for _, m := range s.members {
		if !m.HasNumber() {
			clone := *m
			out = append(out, &clone)
		}
	}
	sortByEnrollment(out)
	return out, nil
}

func (s *InMemoryStore) ListByRole(_ context.Context, role domain.Role) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Member
	for _, m := range s.members {
		if m.Role == role {
			clone := *m
			out = append(out, &clone)
		}
	}
	sortByEnrollment(out)
	return out, nil
}

func (s *InMemoryStore) UpdateRole(_ context.Context, id domain.MemberID, role domain.Role, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	m.Role = role
	m.UpdatedAt = at
	return nil
}

func (s *InMemoryStore) numberTaken(number domain.MemberNumber) bool {
	for _, m := range s.members {
		if m.MemberNumber == number {
			return true
		}
	}
	return false
}

func sortByEnrollment(members []*models.Member) {
	sort.Slice(members, func(i, j int) bool {
		if !members[i].EnrolledAt.Equal(members[j].EnrolledAt) {
			return members[i].EnrolledAt.Before(members[j].EnrolledAt)
		}
		return members[i].ID.String() < members[j].ID.String()
	})
}
