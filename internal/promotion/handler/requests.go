package handler

import (
	"encoding/json"
	"strings"

	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
)

const (
	EvidenceMeeting     = "meeting_completed"
	EvidenceAssessment  = "assessment_scored"
	EvidenceSurvey      = "survey_submitted"
	EvidenceContactInfo = "contact_saved"
	EvidenceCompliance  = "compliance_scored"
	EvidenceOnboarding  = "onboarding_progress"
)

// EvidenceRequest records one piece of promotion evidence on a member's
// behalf. Value carries the score or percentage for the kinds that need one.
type EvidenceRequest struct {
	Kind    string          `json:"kind" validate:"required,oneof=meeting_completed assessment_scored survey_submitted contact_saved compliance_scored onboarding_progress"`
	Value   *int            `json:"value,omitempty" validate:"omitempty,min=0,max=100"`
	Answers json.RawMessage `json:"answers,omitempty"`
}

func (r *EvidenceRequest) Validate() error {
	switch r.Kind {
	case EvidenceAssessment, EvidenceCompliance, EvidenceOnboarding:
		if r.Value == nil {
			return dErrors.New(dErrors.CodeValidation, "value is required for "+r.Kind)
		}
	case EvidenceSurvey:
		return domain.ValidateSurveyAnswers(r.Answers)
	}
	return nil
}

type RejectRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

func (r *RejectRequest) Validate() error {
	r.Notes = strings.TrimSpace(r.Notes)
	return nil
}
