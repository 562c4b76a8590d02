// Package events consumes evidence envelopes from the evidence topic and
// routes each one to the service that owns it.
package events

import (
	"encoding/json"
	"strings"
	"time"

	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
)

type Type string

const (
	TypeEnrollmentCompleted Type = "enrollment.completed"

	TypeMeetingCompleted   Type = "promotion.meeting_completed"
	TypeAssessmentScored   Type = "promotion.assessment_scored"
	TypePromotionSurvey    Type = "promotion.survey_submitted"
	TypeContactSaved       Type = "promotion.contact_saved"
	TypeComplianceScored   Type = "promotion.compliance_scored"
	TypeOnboardingProgress Type = "promotion.onboarding_progress"

	TypeIntentDeclared   Type = "attendance.intent_declared"
	TypeCodeSubmitted    Type = "attendance.code_submitted"
	TypeVideoProgress    Type = "attendance.video_progress"
	TypeAttendanceSurvey Type = "attendance.survey_submitted"

	TypeExemptionSubmitted Type = "exemption.submitted"
	TypeExemptionWithdrawn Type = "exemption.withdrawn"
)

// needsOccurrence lists the types scoped to one meeting occurrence.
var needsOccurrence = map[Type]bool{
	TypeIntentDeclared:     true,
	TypeCodeSubmitted:      true,
	TypeVideoProgress:      true,
	TypeAttendanceSurvey:   true,
	TypeExemptionSubmitted: true,
	TypeExemptionWithdrawn: true,
}

var knownTypes = map[Type]bool{
	TypeEnrollmentCompleted: true,
	TypeMeetingCompleted:    true,
	TypeAssessmentScored:    true,
	TypePromotionSurvey:     true,
	TypeContactSaved:        true,
	TypeComplianceScored:    true,
	TypeOnboardingProgress:  true,
}

func init() {
	for t := range needsOccurrence {
		knownTypes[t] = true
	}
}

// Envelope is the wire shape of one evidence event. OccurredAt, when present,
// is the instant the action happened and is used for deadline checks.
type Envelope struct {
	ID           string          `json:"id"`
	Type         Type            `json:"type"`
	MemberID     string          `json:"member_id"`
	OccurrenceID string          `json:"occurrence_id,omitempty"`
	OccurredAt   *time.Time      `json:"occurred_at,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`

	memberID     domain.MemberID
	occurrenceID domain.OccurrenceID
}

// Decode parses and checks an envelope. All failures are bad_request and
// will never succeed on redelivery.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed envelope")
	}
	env.ID = strings.TrimSpace(env.ID)
	if env.ID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "envelope id is required")
	}
	if !knownTypes[env.Type] {
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown envelope type")
	}
	id, err := domain.ParseMemberID(env.MemberID)
	if err != nil {
		return nil, err
	}
	env.memberID = id
	if needsOccurrence[env.Type] {
		occ, err := domain.ParseOccurrenceID(env.OccurrenceID)
		if err != nil {
			return nil, err
		}
		env.occurrenceID = occ
	}
	return &env, nil
}

// decodePayload unmarshals the payload into T. A missing payload decodes to
// the zero value.
func decodePayload[T any](env *Envelope) (T, error) {
	var p T
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return p, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed payload for "+string(env.Type))
	}
	return p, nil
}

type enrollmentPayload struct {
	DisplayName string    `json:"display_name"`
	EnrolledAt  time.Time `json:"enrolled_at"`
}

type scorePayload struct {
	Score *int `json:"score"`
}

type percentPayload struct {
	Percent *int `json:"percent"`
}

type surveyPayload struct {
	Answers json.RawMessage `json:"answers"`
}

type intentPayload struct {
	Intent string `json:"intent"`
}

type codePayload struct {
	Code string `json:"code"`
}

type reasonPayload struct {
	Reason string `json:"reason"`
}
