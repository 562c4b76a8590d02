//go:build integration

package store_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"keystone/internal/member/models"
	"keystone/internal/member/service"
	"keystone/internal/member/store"
	"keystone/internal/platform/postgres"
	"keystone/pkg/domain"
	"keystone/pkg/platform/sentinel"
	"keystone/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "outbox", "members")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newMember(enrolledAt time.Time) *models.Member {
	m := &models.Member{
		ID:         domain.NewMemberID(),
		Role:       domain.RoleRegular,
		EnrolledAt: enrolledAt,
		UpdatedAt:  enrolledAt,
	}
	s.Require().NoError(s.store.Create(context.Background(), m))
	return m
}

func (s *PostgresStoreSuite) TestAssignNumberIsWriteOnce() {
	ctx := context.Background()
	m := s.newMember(time.Now().UTC())

	s.Require().NoError(s.store.AssignNumber(ctx, m.ID, "KS0000001", time.Now()))
	err := s.store.AssignNumber(ctx, m.ID, "KS0000002", time.Now())
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)

	other := s.newMember(time.Now().UTC())
	err = s.store.AssignNumber(ctx, other.ID, "KS0000001", time.Now())
	s.ErrorIs(err, sentinel.ErrConflict)

	err = s.store.AssignNumber(ctx, domain.NewMemberID(), "KS0000003", time.Now())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestMaxMemberNumber() {
	ctx := context.Background()
	max, err := s.store.MaxMemberNumber(ctx)
	s.Require().NoError(err)
	s.Empty(max)

	a := s.newMember(time.Now().UTC())
	b := s.newMember(time.Now().UTC())
	s.Require().NoError(s.store.AssignNumber(ctx, a.ID, "KS0000009", time.Now()))
	s.Require().NoError(s.store.AssignNumber(ctx, b.ID, "KS0000010", time.Now()))

	max, err = s.store.MaxMemberNumber(ctx)
	s.Require().NoError(err)
	s.Equal("KS0000010", max)

	legacy := s.newMember(time.Now().UTC())
	s.Require().NoError(s.store.AssignNumber(ctx, legacy.ID, "KSZZZ", time.Now()))
	max, err = s.store.MaxMemberNumber(ctx)
	s.Require().NoError(err)
	s.Equal("KS0000010", max, "malformed numbers are ignored")
}

// TestConcurrentAllocationUnderSerializable runs the allocator against real
// SERIALIZABLE transactions; losers of a race are replayed by the runner.
func (s *PostgresStoreSuite) TestConcurrentAllocationUnderSerializable() {
	ctx := context.Background()
	const n = 20
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	members := make([]*models.Member, n)
	for i := range members {
		members[i] = s.newMember(base.Add(time.Duration(i) * time.Minute))
	}

	runner := postgres.NewTxRunner(s.postgres.DB,
		postgres.WithIsolation(sql.LevelSerializable),
		postgres.WithRetries(50),
		postgres.WithTimeout(30*time.Second),
	)
	svc := service.New(s.store, runner)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[domain.MemberNumber]bool{}
		errs    []error
	)
	for _, m := range members {
		wg.Add(1)
		go func(id domain.MemberID) {
			defer wg.Done()
			number, err := svc.Allocate(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers[number] = true
		}(m.ID)
	}
	wg.Wait()

	s.Empty(errs)
	s.Len(numbers, n)
	for seq := 1; seq <= n; seq++ {
		want, _ := domain.FormatMemberNumber(seq)
		s.True(numbers[want], "missing %s", want)
	}
}

func (s *PostgresStoreSuite) TestBackfillAssignsInEnrollmentOrder() {
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	late := s.newMember(base.Add(2 * time.Hour))
	early := s.newMember(base.Add(1 * time.Hour))

	runner := postgres.NewTxRunner(s.postgres.DB, postgres.WithIsolation(sql.LevelSerializable))
	allocations, err := service.New(s.store, runner).AllocateMissing(ctx)
	s.Require().NoError(err)
	s.Require().Len(allocations, 2)
	s.Equal(early.ID, allocations[0].MemberID)
	s.Equal(domain.MemberNumber("KS0000001"), allocations[0].MemberNumber)
	s.Equal(late.ID, allocations[1].MemberID)
	s.Equal(domain.MemberNumber("KS0000002"), allocations[1].MemberNumber)
}

func (s *PostgresStoreSuite) TestFindByIDs() {
	ctx := context.Background()
	a := s.newMember(time.Now().UTC())
	b := s.newMember(time.Now().UTC().Add(time.Second))

	found, err := s.store.FindByIDs(ctx, []domain.MemberID{b.ID, a.ID, domain.NewMemberID()})
	s.Require().NoError(err)
	s.Len(found, 2)

	_, err = s.store.FindByID(ctx, domain.NewMemberID())
	s.True(errors.Is(err, sentinel.ErrNotFound))
}
