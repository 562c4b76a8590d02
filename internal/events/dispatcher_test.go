package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	attendanceModels "keystone/internal/attendance/models"
	attendanceService "keystone/internal/attendance/service"
	attendanceStore "keystone/internal/attendance/store"
	memberModels "keystone/internal/member/models"
	memberService "keystone/internal/member/service"
	memberStore "keystone/internal/member/store"
	"keystone/internal/platform/kafka/consumer"
	promotionModels "keystone/internal/promotion/models"
	promotionService "keystone/internal/promotion/service"
	promotionStore "keystone/internal/promotion/store"
	"keystone/pkg/domain"
	"keystone/pkg/platform/tx"
	"keystone/pkg/requestcontext"
)

type memoryDeduper struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func (d *memoryDeduper) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimed[id] {
		return false, nil
	}
	d.claimed[id] = true
	return true, nil
}

func (d *memoryDeduper) Release(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claimed, id)
	return nil
}

type flakyPromotion struct {
	PromotionService
	calls int
}

func (f *flakyPromotion) RecordMeetingCompleted(context.Context, domain.MemberID) (*promotionModels.EligibilityState, error) {
	f.calls++
	return nil, errors.New("connection reset")
}

type DispatcherSuite struct {
	suite.Suite
	members    *memberStore.InMemoryStore
	promotion  *promotionService.Service
	attendance *attendanceService.Service
	dedupe     *memoryDeduper
	dispatcher *Dispatcher
	ctx        context.Context
	seq        int
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.members = memberStore.NewInMemoryStore()
	runner := tx.NewMemoryRunner()
	s.promotion = promotionService.New(promotionStore.NewInMemoryStore(), s.members, runner)
	s.attendance = attendanceService.New(attendanceStore.NewInMemoryStore(), s.members, runner)
	s.dedupe = &memoryDeduper{claimed: map[string]bool{}}
	s.dispatcher = NewDispatcher(memberService.New(s.members, runner), s.promotion, s.attendance, WithDeduper(s.dedupe))
	s.ctx = context.Background()
	s.seq = 0
}

func (s *DispatcherSuite) send(env map[string]any) error {
	return s.sendAt(env, time.Time{})
}

func (s *DispatcherSuite) sendAt(env map[string]any, published time.Time) error {
	s.seq++
	if _, ok := env["id"]; !ok {
		env["id"] = uuid.NewString()
	}
	raw, err := json.Marshal(env)
	s.Require().NoError(err)
	return s.dispatcher.Handle(s.ctx, &consumer.Message{Topic: "keystone.evidence", Offset: int64(s.seq), Value: raw, Timestamp: published})
}

func (s *DispatcherSuite) TestEnrollmentIsIdempotentAcrossRedelivery() {
	id := domain.NewMemberID()
	env := map[string]any{
		"id":        "enroll-1",
		"type":      "enrollment.completed",
		"member_id": id.String(),
		"payload":   map[string]any{"display_name": "Ada"},
	}
	s.Require().NoError(s.send(env))
	s.Require().NoError(s.send(env))

	m, err := s.members.FindByID(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.MemberNumber("KS0000001"), m.MemberNumber)
	s.Equal(domain.RoleRegular, m.Role)
	s.Equal("Ada", m.DisplayName)
}

func (s *DispatcherSuite) TestPromotionEvidenceRouting() {
	id := domain.NewMemberID()
	s.Require().NoError(s.send(map[string]any{"type": "enrollment.completed", "member_id": id.String()}))

	for _, env := range []map[string]any{
		{"type": "promotion.meeting_completed"},
		{"type": "promotion.assessment_scored", "payload": map[string]any{"score": 88}},
		{"type": "promotion.survey_submitted", "payload": map[string]any{"answers": map[string]any{"q1": "yes"}}},
		{"type": "promotion.contact_saved"},
		{"type": "promotion.compliance_scored", "payload": map[string]any{"score": 90}},
		{"type": "promotion.onboarding_progress", "payload": map[string]any{"percent": 40}},
	} {
		env["member_id"] = id.String()
		s.Require().NoError(s.send(env))
	}

	state, err := s.promotion.Evaluate(s.ctx, id)
	s.Require().NoError(err)
	s.True(state.MeetingCompleted)
	s.True(state.AssessmentCompleted)
	s.True(state.SurveyCompleted)
	s.True(state.ContactInfoSaved)
	s.Equal(40, state.OnboardingProgress)
	s.Nil(state.AppliedAt, "evidence never submits the application")
	s.Equal(promotionModels.PhaseReadyToSubmit, state.Phase)
}

func (s *DispatcherSuite) TestAttendanceEvidenceUsesOccurredAt() {
	deadline := time.Date(2026, 9, 20, 23, 59, 0, 0, time.UTC)
	occ, err := s.attendance.CreateOccurrence(s.ctx, attendanceModels.NewOccurrence{
		HeldOn:             time.Date(2026, 9, 13, 0, 0, 0, 0, time.UTC),
		AttendanceCode:     "FALL",
		AttendanceDeadline: &deadline,
	})
	s.Require().NoError(err)

	late := s.elevated()
	onTime := s.elevated()

	s.Require().NoError(s.send(map[string]any{
		"type": "attendance.code_submitted", "member_id": late.String(), "occurrence_id": occ.ID.String(),
		"occurred_at": deadline.Add(time.Hour), "payload": map[string]any{"code": "FALL"},
	}))
	s.Require().NoError(s.send(map[string]any{
		"type": "attendance.intent_declared", "member_id": onTime.String(), "occurrence_id": occ.ID.String(),
		"occurred_at": deadline.Add(-48 * time.Hour), "payload": map[string]any{"intent": "will_attend"},
	}))
	s.Require().NoError(s.send(map[string]any{
		"type": "attendance.code_submitted", "member_id": onTime.String(), "occurrence_id": occ.ID.String(),
		"occurred_at": deadline.Add(-time.Hour), "payload": map[string]any{"code": "fall"},
	}))

	p, err := s.attendance.Participation(s.ctx, occ.ID, late)
	s.Require().NoError(err)
	s.False(p.Verdict.OfficiallyAttended)

	p, err = s.attendance.Participation(s.ctx, occ.ID, onTime)
	s.Require().NoError(err)
	s.True(p.Verdict.OfficiallyAttended)
	s.Equal(attendanceModels.MethodCode, p.Verdict.Method)
	s.Equal(attendanceModels.IntentWillAttend, p.Record.Intent)
}

func (s *DispatcherSuite) TestOccurredAtIsBoundedByConsumeAndBrokerTime() {
	deadline := time.Date(2026, 9, 20, 23, 59, 0, 0, time.UTC)
	occ, err := s.attendance.CreateOccurrence(s.ctx, attendanceModels.NewOccurrence{
		HeldOn:             time.Date(2026, 9, 13, 0, 0, 0, 0, time.UTC),
		AttendanceCode:     "FALL",
		AttendanceDeadline: &deadline,
	})
	s.Require().NoError(err)
	code := func(id domain.MemberID, occurredAt time.Time) map[string]any {
		return map[string]any{
			"type": "attendance.code_submitted", "member_id": id.String(), "occurrence_id": occ.ID.String(),
			"occurred_at": occurredAt, "payload": map[string]any{"code": "FALL"},
		}
	}
	verdict := func(id domain.MemberID) attendanceModels.Verdict {
		p, err := s.attendance.Participation(s.ctx, occ.ID, id)
		s.Require().NoError(err)
		return p.Verdict
	}

	s.Run("future occurred_at is clamped to consume time", func() {
		consumed := deadline.Add(-2 * time.Hour)
		s.ctx = requestcontext.WithTime(context.Background(), consumed)
		defer func() { s.ctx = context.Background() }()
		id := s.elevated()

		s.Require().NoError(s.sendAt(code(id, deadline.Add(-time.Hour)), time.Time{}))

		v := verdict(id)
		s.True(v.OfficiallyAttended)
		s.Require().NotNil(v.CompletedAt)
		s.True(consumed.Equal(*v.CompletedAt))
	})

	s.Run("backdating beyond tolerance falls back to broker time", func() {
		id := s.elevated()
		s.Require().NoError(s.sendAt(code(id, deadline.Add(-time.Hour)), deadline.Add(time.Hour)))
		s.False(verdict(id).OfficiallyAttended)
	})

	s.Run("small producer skew keeps occurred_at", func() {
		id := s.elevated()
		occurredAt := deadline.Add(-time.Minute)
		s.Require().NoError(s.sendAt(code(id, occurredAt), deadline.Add(time.Minute)))

		v := verdict(id)
		s.True(v.OfficiallyAttended)
		s.Require().NotNil(v.CompletedAt)
		s.True(occurredAt.Equal(*v.CompletedAt))
	})
}

func (s *DispatcherSuite) TestExemptionLifecycle() {
	occ, err := s.attendance.CreateOccurrence(s.ctx, attendanceModels.NewOccurrence{HeldOn: time.Now()})
	s.Require().NoError(err)
	id := s.elevated()
	base := map[string]any{"member_id": id.String(), "occurrence_id": occ.ID.String()}
	with := func(extra map[string]any) map[string]any {
		out := map[string]any{}
		for k, v := range base {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	s.Require().NoError(s.send(with(map[string]any{"type": "exemption.submitted", "payload": map[string]any{"reason": "travel"}})))
	p, err := s.attendance.Participation(s.ctx, occ.ID, id)
	s.Require().NoError(err)
	s.Require().NotNil(p.Exemption)
	s.Equal(attendanceModels.ExemptionPending, p.Exemption.Status)

	s.Require().NoError(s.send(with(map[string]any{"type": "exemption.withdrawn"})))
	p, err = s.attendance.Participation(s.ctx, occ.ID, id)
	s.Require().NoError(err)
	s.Nil(p.Exemption)
}

func (s *DispatcherSuite) TestPermanentFailuresAreAcknowledged() {
	s.NoError(s.dispatcher.Handle(s.ctx, &consumer.Message{Value: []byte("{not json")}))
	s.NoError(s.send(map[string]any{"type": "promotion.teleported", "member_id": domain.NewMemberID().String()}))
	s.NoError(s.send(map[string]any{"type": "attendance.code_submitted", "member_id": domain.NewMemberID().String()}))

	s.NoError(s.send(map[string]any{"id": "ghost", "type": "promotion.meeting_completed", "member_id": domain.NewMemberID().String()}))
	s.True(s.dedupe.claimed["ghost"], "rejected envelopes stay claimed")

	id := domain.NewMemberID()
	s.Require().NoError(s.send(map[string]any{"type": "enrollment.completed", "member_id": id.String()}))
	s.NoError(s.send(map[string]any{"type": "promotion.assessment_scored", "member_id": id.String()}))
	state, err := s.promotion.Evaluate(s.ctx, id)
	s.Require().NoError(err)
	s.False(state.AssessmentCompleted)
}

func (s *DispatcherSuite) TestTransientFailuresReleaseTheClaim() {
	flaky := &flakyPromotion{}
	d := NewDispatcher(nil, flaky, nil, WithDeduper(s.dedupe))
	raw := []byte(`{"id":"retry-me","type":"promotion.meeting_completed","member_id":"` + domain.NewMemberID().String() + `"}`)

	s.Error(d.Handle(s.ctx, &consumer.Message{Value: raw}))
	s.False(s.dedupe.claimed["retry-me"])
	s.Error(d.Handle(s.ctx, &consumer.Message{Value: raw}))
	s.Equal(2, flaky.calls)
}

func (s *DispatcherSuite) elevated() domain.MemberID {
	now := time.Now().UTC()
	m := &memberModels.Member{ID: domain.NewMemberID(), Role: domain.RoleElevated, EnrolledAt: now, UpdatedAt: now}
	s.Require().NoError(s.members.Create(s.ctx, m))
	return m.ID
}
