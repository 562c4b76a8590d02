package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"keystone/pkg/domain"
)

func TestPhaseOf(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	score := func(v int) *int { return &v }
	complete := func() *Application {
		return &Application{MeetingCompleted: true, AssessmentCompleted: true, SurveyCompleted: true}
	}

	tests := []struct {
		name string
		role domain.Role
		app  func() *Application
		want Phase
	}{
		{"no application", domain.RoleRegular, func() *Application { return nil }, PhaseChecklist},
		{"partial checklist", domain.RoleRegular, func() *Application { return &Application{MeetingCompleted: true} }, PhaseChecklist},
		{"complete checklist", domain.RoleRegular, complete, PhaseReadyToSubmit},
		{"submitted", domain.RoleRegular, func() *Application {
			a := complete()
			a.AppliedAt = &now
			return a
		}, PhaseUnderReview},
		{"screened", domain.RoleRegular, func() *Application {
			a := complete()
			a.AppliedAt, a.ScreeningApprovedAt = &now, &now
			return a
		}, PhaseOnboarding},
		{"onboarded", domain.RoleRegular, func() *Application {
			a := complete()
			a.AppliedAt, a.ScreeningApprovedAt = &now, &now
			a.ContactInfoSaved, a.ComplianceScore, a.OnboardingProgress = true, score(90), 90
			return a
		}, PhaseReadyForPromotion},
		{"onboarding evidence before screening is not evaluated", domain.RoleRegular, func() *Application {
			a := complete()
			a.AppliedAt = &now
			a.ContactInfoSaved, a.ComplianceScore, a.OnboardingProgress = true, score(100), 100
			return a
		}, PhaseUnderReview},
		{"elevated", domain.RoleElevated, complete, PhasePromoted},
		{"lead", domain.RoleLead, func() *Application { return nil }, PhasePromoted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PhaseOf(tt.role, tt.app()))
		})
	}
}

func TestThresholdBoundaries(t *testing.T) {
	app := &Application{}
	assert.False(t, app.RecordAssessmentScore(PassingAssessmentScore-1))
	assert.False(t, app.AssessmentCompleted)
	assert.True(t, app.RecordAssessmentScore(PassingAssessmentScore))
	assert.True(t, app.AssessmentCompleted)

	assert.False(t, app.RecordComplianceScore(PassingComplianceScore-1))
	assert.True(t, app.RecordComplianceScore(PassingComplianceScore))

	assert.False(t, app.RecordOnboardingProgress(OnboardingWatchedPercent-1))
	assert.True(t, app.RecordOnboardingProgress(OnboardingWatchedPercent))
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("under_review")
	assert.NoError(t, err)
	assert.Equal(t, PhaseUnderReview, p)

	_, err = ParsePhase("UNDER_REVIEW")
	assert.Error(t, err)
}
