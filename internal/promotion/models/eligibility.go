package models

import (
	"fmt"
	"time"

	"keystone/pkg/domain"
)

// Phase is where a member stands on the way to promotion.
type Phase string

const (
	PhaseChecklist         Phase = "checklist"
	PhaseReadyToSubmit     Phase = "ready_to_submit"
	PhaseUnderReview       Phase = "under_review"
	PhaseOnboarding        Phase = "onboarding"
	PhaseReadyForPromotion Phase = "ready_for_promotion"
	PhasePromoted          Phase = "promoted"
)

var validPhases = map[Phase]bool{
	PhaseChecklist:         true,
	PhaseReadyToSubmit:     true,
	PhaseUnderReview:       true,
	PhaseOnboarding:        true,
	PhaseReadyForPromotion: true,
	PhasePromoted:          true,
}

func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !validPhases[p] {
		return "", fmt.Errorf("unknown promotion phase %q", s)
	}
	return p, nil
}

func (p Phase) String() string { return string(p) }

// Reviewable reports whether an operator may reject in this phase.
func (p Phase) Reviewable() bool {
	return p == PhaseUnderReview || p == PhaseOnboarding || p == PhaseReadyForPromotion
}

// PhaseOf derives the phase from role and application. app may be nil.
func PhaseOf(role domain.Role, app *Application) Phase {
	switch {
	case role.HoldsElevatedStatus():
		return PhasePromoted
	case app == nil:
		return PhaseChecklist
	case !app.Submitted():
		if app.ChecklistComplete() {
			return PhaseReadyToSubmit
		}
		return PhaseChecklist
	case app.ScreeningApprovedAt == nil:
		return PhaseUnderReview
	case len(app.MissingOnboarding()) == 0:
		return PhaseReadyForPromotion
	default:
		return PhaseOnboarding
	}
}

// EligibilityState is the read-only projection returned by Evaluate.
type EligibilityState struct {
	MemberID domain.MemberID
	Role     domain.Role
	Phase    Phase

	MeetingCompleted    bool
	AssessmentCompleted bool
	SurveyCompleted     bool
	MissingChecklist    []string

	ContactInfoSaved   bool
	CompliancePassed   bool
	OnboardingWatched  bool
	MissingOnboarding  []string
	AssessmentScore    *int
	ComplianceScore    *int
	OnboardingProgress int

	AppliedAt           *time.Time
	ScreeningApprovedAt *time.Time
	RejectedAt          *time.Time
	ReviewNotes         string
	PromotedAt          *time.Time
}

// CanSubmit reports whether Submit would succeed.
func (s EligibilityState) CanSubmit() bool {
	return s.Phase == PhaseReadyToSubmit && s.Role == domain.RoleRegular
}

// Evaluate folds a member's role and application into an EligibilityState. It
// has no side effects.
func Evaluate(memberID domain.MemberID, role domain.Role, app *Application) EligibilityState {
	state := EligibilityState{
		MemberID: memberID,
		Role:     role,
		Phase:    PhaseOf(role, app),
	}
	if app == nil {
		empty := NewApplication(memberID, time.Time{})
		state.MissingChecklist = empty.MissingChecklist()
		state.MissingOnboarding = empty.MissingOnboarding()
		return state
	}
	state.MeetingCompleted = app.MeetingCompleted
	state.AssessmentCompleted = app.AssessmentCompleted
	state.SurveyCompleted = app.SurveyCompleted
	state.MissingChecklist = app.MissingChecklist()
	state.ContactInfoSaved = app.ContactInfoSaved
	state.CompliancePassed = app.CompliancePassed()
	state.OnboardingWatched = app.OnboardingWatched()
	state.MissingOnboarding = app.MissingOnboarding()
	state.AssessmentScore = app.AssessmentScore
	state.ComplianceScore = app.ComplianceScore
	state.OnboardingProgress = app.OnboardingProgress
	state.AppliedAt = app.AppliedAt
	state.ScreeningApprovedAt = app.ScreeningApprovedAt
	state.RejectedAt = app.RejectedAt
	state.ReviewNotes = app.ReviewNotes
	state.PromotedAt = app.PromotedAt
	return state
}
