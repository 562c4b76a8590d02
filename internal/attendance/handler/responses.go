package handler

import (
	"time"

	"keystone/internal/attendance/models"
)

type OccurrenceResponse struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	HeldOn              string     `json:"held_on"`
	HasAttendanceCode   bool       `json:"has_attendance_code"`
	RecordingURL        string     `json:"recording_url,omitempty"`
	SurveyRef           string     `json:"survey_ref,omitempty"`
	ApplicationDeadline *time.Time `json:"application_deadline"`
	AttendanceDeadline  *time.Time `json:"attendance_deadline"`
}

// FromOccurrence never exposes the attendance code itself.
func FromOccurrence(o *models.Occurrence) OccurrenceResponse {
	return OccurrenceResponse{
		ID:                  o.ID.String(),
		Title:               o.Title,
		HeldOn:              o.HeldOn.Format(time.DateOnly),
		HasAttendanceCode:   o.AttendanceCode != "",
		RecordingURL:        o.RecordingURL,
		SurveyRef:           o.SurveyRef,
		ApplicationDeadline: o.ApplicationDeadline,
		AttendanceDeadline:  o.AttendanceDeadline,
	}
}

type OccurrenceListResponse struct {
	Occurrences []OccurrenceResponse `json:"occurrences"`
}

type ParticipationResponse struct {
	OccurrenceID       string     `json:"occurrence_id"`
	MemberID           string     `json:"member_id"`
	OfficiallyAttended bool       `json:"officially_attended"`
	Method             string     `json:"method"`
	CompletedAt        *time.Time `json:"completed_at"`
	Stale              bool       `json:"stale,omitempty"`

	Intent            string     `json:"intent"`
	CodeEnteredAt     *time.Time `json:"code_entered_at"`
	VideoProgress     int        `json:"video_progress"`
	VideoWatched      bool       `json:"video_watched"`
	SurveyCompletedAt *time.Time `json:"survey_completed_at"`

	Exemption *ExemptionResponse `json:"exemption"`
}

type ExemptionResponse struct {
	Status        string     `json:"status"`
	Reason        string     `json:"reason"`
	ReviewerNotes string     `json:"reviewer_notes,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	ReviewedAt    *time.Time `json:"reviewed_at"`
}

func FromParticipation(p *models.Participation) ParticipationResponse {
	resp := ParticipationResponse{
		OccurrenceID:       p.Occurrence.ID.String(),
		MemberID:           p.MemberID.String(),
		OfficiallyAttended: p.Verdict.OfficiallyAttended,
		Method:             p.Verdict.Method.String(),
		CompletedAt:        p.Verdict.CompletedAt,
		Stale:              p.Stale,
		Intent:             models.IntentUndecided.String(),
	}
	if r := p.Record; r != nil {
		resp.Intent = r.Intent.String()
		resp.CodeEnteredAt = r.CodeEnteredAt
		resp.VideoProgress = r.VideoProgress
		resp.VideoWatched = r.VideoWatched
		resp.SurveyCompletedAt = r.SurveyCompletedAt
	}
	if e := p.Exemption; e != nil {
		resp.Exemption = &ExemptionResponse{
			Status:        e.Status.String(),
			Reason:        e.Reason,
			ReviewerNotes: e.ReviewerNotes,
			SubmittedAt:   e.SubmittedAt,
			ReviewedAt:    e.ReviewedAt,
		}
	}
	return resp
}
