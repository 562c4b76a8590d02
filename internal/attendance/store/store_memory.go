package store

import (
	"context"
	"sort"
	"sync"

	"keystone/internal/attendance/models"
	"keystone/pkg/domain"
	"keystone/pkg/platform/sentinel"
)

type pairKey struct {
	occurrence domain.OccurrenceID
	member     domain.MemberID
}

// InMemoryStore keeps occurrences, participation records and exemption
// requests in maps. Values are copied in and out.
type InMemoryStore struct {
	mu          sync.RWMutex
	occurrences map[domain.OccurrenceID]*models.Occurrence
	records     map[pairKey]*models.ParticipationRecord
	exemptions  map[pairKey]*models.ExemptionRequest
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		occurrences: make(map[domain.OccurrenceID]*models.Occurrence),
		records:     make(map[pairKey]*models.ParticipationRecord),
		exemptions:  make(map[pairKey]*models.ExemptionRequest),
	}
}

func (s *InMemoryStore) CreateOccurrence(_ context.Context, o *models.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.occurrences[o.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	clone := *o
	s.occurrences[o.ID] = &clone
	return nil
}

func (s *InMemoryStore) FindOccurrence(_ context.Context, id domain.OccurrenceID) (*models.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.occurrences[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *o
	return &clone, nil
}

// ListOccurrences returns occurrences newest first.
func (s *InMemoryStore) ListOccurrences(_ context.Context) ([]*models.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Occurrence, 0, len(s.occurrences))
	for _, o := range s.occurrences {
		clone := *o
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].HeldOn.Equal(out[j].HeldOn) {
			return out[i].HeldOn.After(out[j].HeldOn)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *InMemoryStore) FindRecord(_ context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.ParticipationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[pairKey{occurrenceID, memberID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *InMemoryStore) SaveRecord(_ context.Context, r *models.ParticipationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.occurrences[r.OccurrenceID]; !ok {
		return sentinel.ErrNotFound
	}
	clone := *r
	s.records[pairKey{r.OccurrenceID, r.MemberID}] = &clone
	return nil
}

func (s *InMemoryStore) ListRecords(_ context.Context, occurrenceID domain.OccurrenceID) ([]*models.ParticipationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ParticipationRecord
	for k, r := range s.records {
		if k.occurrence == occurrenceID {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID.String() < out[j].MemberID.String() })
	return out, nil
}

func (s *InMemoryStore) FindExemption(_ context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.ExemptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.exemptions[pairKey{occurrenceID, memberID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (s *InMemoryStore) SaveExemption(_ context.Context, e *models.ExemptionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.occurrences[e.OccurrenceID]; !ok {
		return sentinel.ErrNotFound
	}
	clone := *e
	s.exemptions[pairKey{e.OccurrenceID, e.MemberID}] = &clone
	return nil
}

func (s *InMemoryStore) DeleteExemption(_ context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{occurrenceID, memberID}
	if _, ok := s.exemptions[key]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.exemptions, key)
	return nil
}

func (s *InMemoryStore) ListExemptions(_ context.Context, occurrenceID domain.OccurrenceID) ([]*models.ExemptionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ExemptionRequest
	for k, e := range s.exemptions {
		if k.occurrence == occurrenceID {
			clone := *e
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}
