package models

import (
	"encoding/json"
	"time"

	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
)

// Thresholds for score and progress evidence. A value passes when it is at or
// above the threshold.
const (
	PassingAssessmentScore   = 80
	PassingComplianceScore   = 90
	OnboardingWatchedPercent = 90
)

// Checklist item names reported when something is missing.
const (
	ItemMeeting         = "meeting"
	ItemAssessment      = "assessment"
	ItemSurvey          = "survey"
	ItemContactInfo     = "contact_info"
	ItemCompliance      = "compliance"
	ItemOnboardingVideo = "onboarding_video"
)

// Reasons distinguishing refused transitions that share invalid_transition.
const (
	ReasonNotRegular           dErrors.Reason = "not_regular"
	ReasonAlreadySubmitted     dErrors.Reason = "already_submitted"
	ReasonIncompleteChecklist  dErrors.Reason = "incomplete_checklist"
	ReasonIncompleteOnboarding dErrors.Reason = "incomplete_onboarding"
	ReasonWrongPhase           dErrors.Reason = "wrong_phase"
)

// Application is a member's single, latest promotion application. AppliedAt is
// set only by an explicit submit and cleared only by a rejection; evidence
// never touches it.
type Application struct {
	MemberID domain.MemberID

	MeetingCompleted    bool
	AssessmentCompleted bool
	AssessmentScore     *int
	SurveyCompleted     bool
	SurveyAnswers       json.RawMessage

	AppliedAt           *time.Time
	ScreeningApprovedAt *time.Time

	ContactInfoSaved   bool
	ComplianceScore    *int
	OnboardingProgress int

	RejectedAt  *time.Time
	ReviewNotes string
	PromotedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewApplication returns an empty application created lazily on first evidence.
func NewApplication(memberID domain.MemberID, now time.Time) *Application {
	return &Application{MemberID: memberID, CreatedAt: now, UpdatedAt: now}
}

// MissingChecklist names the pre-submission items still outstanding, in
// checklist order.
func (a *Application) MissingChecklist() []string {
	var missing []string
	if !a.MeetingCompleted {
		missing = append(missing, ItemMeeting)
	}
	if !a.AssessmentCompleted {
		missing = append(missing, ItemAssessment)
	}
	if !a.SurveyCompleted {
		missing = append(missing, ItemSurvey)
	}
	return missing
}

func (a *Application) ChecklistComplete() bool {
	return a.MeetingCompleted && a.AssessmentCompleted && a.SurveyCompleted
}

// OnboardingWatched reports whether the onboarding video counts as watched.
func (a *Application) OnboardingWatched() bool {
	return a.OnboardingProgress >= OnboardingWatchedPercent
}

func (a *Application) CompliancePassed() bool {
	return a.ComplianceScore != nil && *a.ComplianceScore >= PassingComplianceScore
}

// MissingOnboarding names the secondary checklist items still outstanding.
func (a *Application) MissingOnboarding() []string {
	var missing []string
	if !a.ContactInfoSaved {
		missing = append(missing, ItemContactInfo)
	}
	if !a.CompliancePassed() {
		missing = append(missing, ItemCompliance)
	}
	if !a.OnboardingWatched() {
		missing = append(missing, ItemOnboardingVideo)
	}
	return missing
}

func (a *Application) Submitted() bool {
	return a.AppliedAt != nil
}

// RecordAssessmentScore keeps the best score and reports whether score passed.
func (a *Application) RecordAssessmentScore(score int) bool {
	if a.AssessmentScore == nil || score > *a.AssessmentScore {
		a.AssessmentScore = &score
	}
	passed := score >= PassingAssessmentScore
	if passed {
		a.AssessmentCompleted = true
	}
	return passed
}

// RecordComplianceScore keeps the best score and reports whether score passed.
func (a *Application) RecordComplianceScore(score int) bool {
	if a.ComplianceScore == nil || score > *a.ComplianceScore {
		a.ComplianceScore = &score
	}
	return score >= PassingComplianceScore
}

// RecordOnboardingProgress keeps the furthest progress and reports whether the
// video now counts as watched.
func (a *Application) RecordOnboardingProgress(percent int) bool {
	if percent > a.OnboardingProgress {
		a.OnboardingProgress = percent
	}
	return a.OnboardingWatched()
}
