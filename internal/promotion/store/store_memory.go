package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"keystone/internal/promotion/models"
	"keystone/pkg/domain"
	"keystone/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	apps map[domain.MemberID]*models.Application
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{apps: make(map[domain.MemberID]*models.Application)}
}

func (s *InMemoryStore) FindByMemberID(_ context.Context, memberID domain.MemberID) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[memberID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(app), nil
}

func (s *InMemoryStore) Save(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.MemberID] = clone(app)
	return nil
}

func (s *InMemoryStore) ListSubmitted(_ context.Context) ([]*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Application
	for _, app := range s.apps {
		if app.AppliedAt != nil && app.PromotedAt == nil {
			out = append(out, clone(app))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppliedAt.Before(*out[j].AppliedAt) })
	return out, nil
}

func clone(app *models.Application) *models.Application {
	c := *app
	if app.SurveyAnswers != nil {
		c.SurveyAnswers = append(json.RawMessage(nil), app.SurveyAnswers...)
	}
	return &c
}
