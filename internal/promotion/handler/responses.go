package handler

import (
	"time"

	"keystone/internal/promotion/models"
)

type EligibilityResponse struct {
	MemberID  string `json:"member_id"`
	Role      string `json:"role"`
	Phase     string `json:"phase"`
	CanSubmit bool   `json:"can_submit"`

	MeetingCompleted    bool     `json:"meeting_completed"`
	AssessmentCompleted bool     `json:"assessment_completed"`
	SurveyCompleted     bool     `json:"survey_completed"`
	MissingChecklist    []string `json:"missing_checklist"`

	ContactInfoSaved   bool     `json:"contact_info_saved"`
	CompliancePassed   bool     `json:"compliance_passed"`
	OnboardingWatched  bool     `json:"onboarding_watched"`
	OnboardingProgress int      `json:"onboarding_progress"`
	AssessmentScore    *int     `json:"assessment_score"`
	ComplianceScore    *int     `json:"compliance_score"`
	MissingOnboarding  []string `json:"missing_onboarding"`

	AppliedAt           *time.Time `json:"applied_at"`
	ScreeningApprovedAt *time.Time `json:"screening_approved_at"`
	RejectedAt          *time.Time `json:"rejected_at"`
	ReviewNotes         string     `json:"review_notes,omitempty"`
	PromotedAt          *time.Time `json:"promoted_at"`
}

func FromState(s *models.EligibilityState) EligibilityResponse {
	return EligibilityResponse{
		MemberID:            s.MemberID.String(),
		Role:                s.Role.String(),
		Phase:               s.Phase.String(),
		CanSubmit:           s.CanSubmit(),
		MeetingCompleted:    s.MeetingCompleted,
		AssessmentCompleted: s.AssessmentCompleted,
		SurveyCompleted:     s.SurveyCompleted,
		MissingChecklist:    nonNil(s.MissingChecklist),
		ContactInfoSaved:    s.ContactInfoSaved,
		CompliancePassed:    s.CompliancePassed,
		OnboardingWatched:   s.OnboardingWatched,
		OnboardingProgress:  s.OnboardingProgress,
		AssessmentScore:     s.AssessmentScore,
		ComplianceScore:     s.ComplianceScore,
		MissingOnboarding:   nonNil(s.MissingOnboarding),
		AppliedAt:           s.AppliedAt,
		ScreeningApprovedAt: s.ScreeningApprovedAt,
		RejectedAt:          s.RejectedAt,
		ReviewNotes:         s.ReviewNotes,
		PromotedAt:          s.PromotedAt,
	}
}

type QueueResponse struct {
	Applications []EligibilityResponse `json:"applications"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
