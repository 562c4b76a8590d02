//go:build integration

package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"keystone/internal/attendance/models"
	"keystone/internal/attendance/store"
	memberModels "keystone/internal/member/models"
	memberStore "keystone/internal/member/store"
	"keystone/pkg/domain"
	"keystone/pkg/platform/sentinel"
	"keystone/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	members  *memberStore.PostgresStore
	store    *store.PostgresStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.members = memberStore.NewPostgres(s.postgres.DB)
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.now = time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.postgres.TruncateTables(context.Background(),
		"exemption_requests", "participation_records", "meeting_occurrences", "members"))
}

func (s *PostgresStoreSuite) member() domain.MemberID {
	m := &memberModels.Member{ID: domain.NewMemberID(), Role: domain.RoleElevated, EnrolledAt: s.now, UpdatedAt: s.now}
	s.Require().NoError(s.members.Create(context.Background(), m))
	return m.ID
}

func (s *PostgresStoreSuite) occurrence() *models.Occurrence {
	deadline := s.now.Add(time.Hour)
	o := &models.Occurrence{
		ID:                 domain.NewOccurrenceID(),
		Title:              "weekly",
		HeldOn:             time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
		AttendanceCode:     "WEEK",
		AttendanceDeadline: &deadline,
		CreatedAt:          s.now,
	}
	s.Require().NoError(s.store.CreateOccurrence(context.Background(), o))
	return o
}

func (s *PostgresStoreSuite) TestOccurrenceRoundTrip() {
	ctx := context.Background()
	o := s.occurrence()

	got, err := s.store.FindOccurrence(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal("WEEK", got.AttendanceCode)
	s.Empty(got.RecordingURL)
	s.Nil(got.ApplicationDeadline)
	s.True(o.AttendanceDeadline.Equal(*got.AttendanceDeadline))

	err = s.store.CreateOccurrence(ctx, o)
	s.True(errors.Is(err, sentinel.ErrAlreadyUsed))

	_, err = s.store.FindOccurrence(ctx, domain.NewOccurrenceID())
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestRecordUpsert() {
	ctx := context.Background()
	o := s.occurrence()
	id := s.member()

	r := models.NewRecord(o.ID, id, s.now)
	r.RecordVideoProgress(o, 95, s.now)
	r.RecordSurvey(o, json.RawMessage(`{"a":1}`), s.now)
	s.Require().NoError(s.store.SaveRecord(ctx, r))

	r.FinalApproval = models.DecisionDemoted
	r.FinalApprovalAt = &s.now
	s.Require().NoError(s.store.SaveRecord(ctx, r))

	got, err := s.store.FindRecord(ctx, o.ID, id)
	s.Require().NoError(err)
	s.Equal(models.MethodVideoSurvey, got.Method)
	s.Equal(models.DecisionDemoted, got.FinalApproval)
	s.Equal(95, got.VideoProgress)
	s.JSONEq(`{"a":1}`, string(got.SurveyAnswers))

	records, err := s.store.ListRecords(ctx, o.ID)
	s.Require().NoError(err)
	s.Len(records, 1)

	orphan := models.NewRecord(domain.NewOccurrenceID(), id, s.now)
	s.True(errors.Is(s.store.SaveRecord(ctx, orphan), sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestExemptionLifecycle() {
	ctx := context.Background()
	o := s.occurrence()
	id := s.member()

	e := &models.ExemptionRequest{OccurrenceID: o.ID, MemberID: id, Status: models.ExemptionPending, Reason: "away", SubmittedAt: s.now}
	s.Require().NoError(s.store.SaveExemption(ctx, e))

	e.Status = models.ExemptionRejected
	e.ReviewedAt = &s.now
	s.Require().NoError(s.store.SaveExemption(ctx, e))

	got, err := s.store.FindExemption(ctx, o.ID, id)
	s.Require().NoError(err)
	s.Equal(models.ExemptionRejected, got.Status)
	s.NotNil(got.ReviewedAt)

	list, err := s.store.ListExemptions(ctx, o.ID)
	s.Require().NoError(err)
	s.Len(list, 1)

	s.Require().NoError(s.store.DeleteExemption(ctx, o.ID, id))
	s.True(errors.Is(s.store.DeleteExemption(ctx, o.ID, id), sentinel.ErrNotFound))
}
