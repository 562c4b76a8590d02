package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"keystone/internal/audit"
	"keystone/internal/member/models"
	"keystone/internal/member/store"
	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
	"keystone/pkg/platform/tx"
)

type AllocatorSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	auditor *audit.InMemoryStore
	service *Service
	ctx     context.Context
	base    time.Time
}

func TestAllocatorSuite(t *testing.T) {
	suite.Run(t, new(AllocatorSuite))
}

func (s *AllocatorSuite) SetupTest() {
	s.store = store.NewInMemoryStore()
	s.auditor = audit.NewInMemoryStore()
	s.service = New(s.store, tx.NewMemoryRunner(),
		WithAuditPublisher(audit.NewPublisher(s.auditor, nil)))
	s.ctx = context.Background()
	s.base = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
}

func (s *AllocatorSuite) seedMember(enrolledAt time.Time, number domain.MemberNumber) domain.MemberID {
	m := &models.Member{
		ID:           domain.NewMemberID(),
		Role:         domain.RoleRegular,
		MemberNumber: number,
		EnrolledAt:   enrolledAt,
		UpdatedAt:    enrolledAt,
	}
	s.Require().NoError(s.store.Create(s.ctx, m))
	return m.ID
}

func (s *AllocatorSuite) TestFirstAllocationStartsAtOne() {
	id := s.seedMember(s.base, "")

	number, err := s.service.Allocate(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.MemberNumber("KS0000001"), number)
	s.Equal([]audit.Action{audit.ActionMemberNumberAllocated}, s.auditor.ActionsFor(id))
}

func (s *AllocatorSuite) TestAllocationIncrementsCurrentMaximum() {
	s.seedMember(s.base, "KS0000041")
	id := s.seedMember(s.base.Add(time.Hour), "")

	number, err := s.service.Allocate(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.MemberNumber("KS0000042"), number)
}

func (s *AllocatorSuite) TestAllocateIsIdempotent() {
	id := s.seedMember(s.base, "")

	first, err := s.service.Allocate(s.ctx, id)
	s.Require().NoError(err)
	second, err := s.service.Allocate(s.ctx, id)
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Len(s.auditor.ActionsFor(id), 1, "re-allocation must not emit again")
}

func (s *AllocatorSuite) TestUnknownMember() {
	_, err := s.service.Allocate(s.ctx, domain.NewMemberID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *AllocatorSuite) TestMalformedMaximumIsTreatedAsAbsent() {
	s.seedMember(s.base, "KS-legacy")
	id := s.seedMember(s.base.Add(time.Hour), "")

	number, err := s.service.Allocate(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.MemberNumber("KS0000001"), number)
}

func (s *AllocatorSuite) TestMalformedNumbersDoNotHideTheRealMaximum() {
	s.seedMember(s.base, "KS0000001")
	s.seedMember(s.base, "KS0000002")
	s.seedMember(s.base, "KSZZZ")

	for _, want := range []domain.MemberNumber{"KS0000003", "KS0000004", "KS0000005"} {
		id := s.seedMember(s.base.Add(time.Hour), "")
		number, err := s.service.Allocate(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(want, number)
	}
}

// laggingStore reports no existing numbers, so the computed successor collides.
type laggingStore struct {
	*store.InMemoryStore
}

func (laggingStore) MaxMemberNumber(context.Context) (string, error) { return "", nil }

func (s *AllocatorSuite) TestDuplicateSurfacesAsConflict() {
	s.seedMember(s.base, "KS0000001")
	id := s.seedMember(s.base.Add(time.Hour), "")
	svc := New(laggingStore{s.store}, tx.NewMemoryRunner())

	_, err := svc.Allocate(s.ctx, id)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	m, err := s.store.FindByID(s.ctx, id)
	s.Require().NoError(err)
	s.False(m.HasNumber(), "a conflicting allocation must not be persisted")
}

func (s *AllocatorSuite) TestConcurrentAllocationsAreUnique() {
	const n = 64
	ids := make([]domain.MemberID, n)
	for i := range ids {
		ids[i] = s.seedMember(s.base.Add(time.Duration(i)*time.Second), "")
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[domain.MemberNumber]domain.MemberID, n)
		errs    []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id domain.MemberID) {
			defer wg.Done()
			number, err := s.service.Allocate(s.ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers[number] = id
		}(id)
	}
	wg.Wait()

	s.Empty(errs)
	s.Len(numbers, n)
	for seq := 1; seq <= n; seq++ {
		want, err := domain.FormatMemberNumber(seq)
		s.Require().NoError(err)
		s.Contains(numbers, want)
	}
}

func (s *AllocatorSuite) TestAllocateMissingFollowsEnrollmentOrder() {
	s.seedMember(s.base.Add(-time.Hour), "KS0000007")
	third := s.seedMember(s.base.Add(3*time.Hour), "")
	first := s.seedMember(s.base.Add(1*time.Hour), "")
	second := s.seedMember(s.base.Add(2*time.Hour), "")

	allocations, err := s.service.AllocateMissing(s.ctx)
	s.Require().NoError(err)
	s.Equal([]models.Allocation{
		{MemberID: first, MemberNumber: "KS0000008"},
		{MemberID: second, MemberNumber: "KS0000009"},
		{MemberID: third, MemberNumber: "KS0000010"},
	}, allocations)

	again, err := s.service.AllocateMissing(s.ctx)
	s.Require().NoError(err)
	s.Empty(again)
}

func (s *AllocatorSuite) TestAllocateMissingStopsAtFirstError() {
	s.seedMember(s.base, "KS0000001")
	s.seedMember(s.base, "KSZZZ")
	s.seedMember(s.base.Add(time.Hour), "")
	s.seedMember(s.base.Add(2*time.Hour), "")

	allocations, err := s.service.AllocateMissing(s.ctx)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Empty(allocations)

	pending, err := s.store.ListUnnumbered(s.ctx)
	s.Require().NoError(err)
	s.Len(pending, 2, "members after the failure stay untouched")
}

func (s *AllocatorSuite) TestEnrollCreatesRegularMemberWithNumber() {
	id := domain.NewMemberID()
	m, err := s.service.Enroll(s.ctx, models.Enrollment{MemberID: id, DisplayName: "Ada", EnrolledAt: s.base})
	s.Require().NoError(err)
	s.Equal(id, m.ID)
	s.Equal(domain.RoleRegular, m.Role)
	s.Equal(domain.MemberNumber("KS0000001"), m.MemberNumber)

	again, err := s.service.Enroll(s.ctx, models.Enrollment{MemberID: id, DisplayName: "Ada", EnrolledAt: s.base})
	s.Require().NoError(err)
	s.Equal(m.MemberNumber, again.MemberNumber)
	s.Equal([]audit.Action{audit.ActionMemberEnrolled, audit.ActionMemberNumberAllocated}, s.auditor.ActionsFor(id))
}

func (s *AllocatorSuite) TestGetByNumber() {
	id := s.seedMember(s.base, "KS0000005")

	m, err := s.service.GetByNumber(s.ctx, "KS0000005")
	s.Require().NoError(err)
	s.Equal(id, m.ID)

	_, err = s.service.GetByNumber(s.ctx, "KS0000006")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
