package handler

import (
	"encoding/json"
	"strings"
	"time"

	"keystone/internal/attendance/models"
	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
)

type CreateOccurrenceRequest struct {
	ID                  string     `json:"id,omitempty"`
	Title               string     `json:"title" validate:"max=200"`
	HeldOn              string     `json:"held_on" validate:"required"`
	AttendanceCode      string     `json:"attendance_code,omitempty" validate:"max=64"`
	RecordingURL        string     `json:"recording_url,omitempty" validate:"omitempty,url"`
	SurveyRef           string     `json:"survey_ref,omitempty" validate:"max=200"`
	ApplicationDeadline *time.Time `json:"application_deadline,omitempty"`
	AttendanceDeadline  *time.Time `json:"attendance_deadline,omitempty"`

	parsedID     domain.OccurrenceID
	parsedHeldOn time.Time
}

func (r *CreateOccurrenceRequest) Validate() error {
	if r.ID != "" {
		id, err := domain.ParseOccurrenceID(r.ID)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "id must be a UUID")
		}
		r.parsedID = id
	}
	heldOn, err := time.Parse(time.DateOnly, r.HeldOn)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "held_on must be a date (YYYY-MM-DD)")
	}
	r.parsedHeldOn = heldOn
	return nil
}

func (r *CreateOccurrenceRequest) ToNewOccurrence() models.NewOccurrence {
	return models.NewOccurrence{
		ID:                  r.parsedID,
		Title:               r.Title,
		HeldOn:              r.parsedHeldOn,
		AttendanceCode:      r.AttendanceCode,
		RecordingURL:        r.RecordingURL,
		SurveyRef:           r.SurveyRef,
		ApplicationDeadline: utc(r.ApplicationDeadline),
		AttendanceDeadline:  utc(r.AttendanceDeadline),
	}
}

type IntentRequest struct {
	Intent string `json:"intent" validate:"required"`

	intent models.Intent
}

func (r *IntentRequest) Validate() error {
	intent, err := models.ParseIntent(strings.ToUpper(strings.TrimSpace(r.Intent)))
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "intent must be one of UNDECIDED, WILL_ATTEND, WILL_NOT_ATTEND")
	}
	r.intent = intent
	return nil
}

type CodeRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type VideoProgressRequest struct {
	Percent *int `json:"percent" validate:"required,min=0,max=100"`
}

type SurveyRequest struct {
	Answers json.RawMessage `json:"answers"`
}

func (r *SurveyRequest) Validate() error {
	return domain.ValidateSurveyAnswers(r.Answers)
}

type ExemptionRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

type ReviewExemptionRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Notes   string `json:"notes" validate:"max=2000"`
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
