package models

import (
	"encoding/json"
	"time"

	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
)

// VideoWatchedPercent is the progress at which a recording counts as watched.
const VideoWatchedPercent = 90

type Intent string

const (
	IntentUndecided     Intent = "UNDECIDED"
	IntentWillAttend    Intent = "WILL_ATTEND"
	IntentWillNotAttend Intent = "WILL_NOT_ATTEND"
)

func ParseIntent(s string) (Intent, error) {
	switch i := Intent(s); i {
	case IntentUndecided, IntentWillAttend, IntentWillNotAttend:
		return i, nil
	}
	return "", dErrors.New(dErrors.CodeBadRequest, "invalid intent: "+s)
}

func (i Intent) String() string { return string(i) }

// Method is how attendance was established. Records only ever store NONE,
// CODE or VIDEO_SURVEY; EXEMPTION exists only in resolver verdicts.
type Method string

const (
	MethodNone        Method = "NONE"
	MethodCode        Method = "CODE"
	MethodVideoSurvey Method = "VIDEO_SURVEY"
	MethodExemption   Method = "EXEMPTION"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodNone, MethodCode, MethodVideoSurvey, MethodExemption:
		return m, nil
	}
	return "", dErrors.New(dErrors.CodeBadRequest, "invalid attendance method: "+s)
}

func (m Method) String() string { return string(m) }

// Decision is an explicit final approval.
type Decision string

const (
	DecisionMaintained Decision = "MAINTAINED"
	DecisionDemoted    Decision = "DEMOTED"
)

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionMaintained, DecisionDemoted:
		return d, nil
	}
	return "", dErrors.New(dErrors.CodeBadRequest, "invalid final approval: "+s)
}

func (d Decision) String() string { return string(d) }

type ExemptionStatus string

const (
	ExemptionPending  ExemptionStatus = "PENDING"
	ExemptionApproved ExemptionStatus = "APPROVED"
	ExemptionRejected ExemptionStatus = "REJECTED"
)

func ParseExemptionStatus(s string) (ExemptionStatus, error) {
	switch st := ExemptionStatus(s); st {
	case ExemptionPending, ExemptionApproved, ExemptionRejected:
		return st, nil
	}
	return "", dErrors.New(dErrors.CodeBadRequest, "invalid exemption status: "+s)
}

func (s ExemptionStatus) String() string { return string(s) }

// Occurrence is one instance of the recurring meeting. Empty code, recording
// and survey reference mean the corresponding path is not offered. Nil
// deadlines mean the window never closes.
type Occurrence struct {
	ID                  domain.OccurrenceID
	Title               string
	HeldOn              time.Time
	AttendanceCode      string
	RecordingURL        string
	SurveyRef           string
	ApplicationDeadline *time.Time
	AttendanceDeadline  *time.Time
	CreatedAt           time.Time
}

// WithinAttendanceWindow reports whether an action at t counts toward attendance.
func (o *Occurrence) WithinAttendanceWindow(t time.Time) bool {
	return o.AttendanceDeadline == nil || !t.After(*o.AttendanceDeadline)
}

// AcceptsExemptions reports whether an exemption may still be requested at t.
func (o *Occurrence) AcceptsExemptions(t time.Time) bool {
	return o.ApplicationDeadline == nil || !t.After(*o.ApplicationDeadline)
}

// Overdue reports whether the attendance deadline has passed at now. An
// occurrence without a deadline is never overdue.
func (o *Occurrence) Overdue(now time.Time) bool {
	return o.AttendanceDeadline != nil && now.After(*o.AttendanceDeadline)
}

// ParticipationRecord holds one member's evidence and review state for one
// occurrence. Completion timestamps are set once and never cleared; the
// interview revert is the only exception.
type ParticipationRecord struct {
	OccurrenceID domain.OccurrenceID
	MemberID     domain.MemberID

	Intent   Intent
	IntentAt *time.Time

	// Method and AttendanceCompletedAt mirror the evidence rules of Resolve
	// and are recomputed on every evidence write. Exemptions are not stored
	// here.
	Method                Method
	AttendanceCompletedAt *time.Time
	CodeEnteredAt         *time.Time

	VideoProgress     int
	VideoWatched      bool
	VideoWatchedAt    *time.Time
	SurveyCompletedAt *time.Time
	SurveyAnswers     json.RawMessage

	InterviewCompleted   bool
	InterviewCompletedAt *time.Time

	FinalApproval   Decision
	FinalApprovalAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord returns the empty record created on first touch.
func NewRecord(occurrenceID domain.OccurrenceID, memberID domain.MemberID, now time.Time) *ParticipationRecord {
	return &ParticipationRecord{
		OccurrenceID: occurrenceID,
		MemberID:     memberID,
		Intent:       IntentUndecided,
		Method:       MethodNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HasFinalApproval reports whether an explicit decision has been set.
func (r *ParticipationRecord) HasFinalApproval() bool {
	return r.FinalApproval != ""
}

// VideoSurveyCompletedAt is the moment both halves of the video path were
// done, or nil while either is missing.
func (r *ParticipationRecord) VideoSurveyCompletedAt() *time.Time {
	if !r.VideoWatched || r.VideoWatchedAt == nil || r.SurveyCompletedAt == nil {
		return nil
	}
	if r.VideoWatchedAt.After(*r.SurveyCompletedAt) {
		return r.VideoWatchedAt
	}
	return r.SurveyCompletedAt
}

// settle stores the winning evidence path so the persisted method never
// disagrees with Resolve. Evidence timestamps only ever get set, so a path
// that counted keeps counting unless a higher ranked one appears.
func (r *ParticipationRecord) settle(o *Occurrence) {
	v := Resolve(o, r, nil)
	if !v.OfficiallyAttended {
		return
	}
	r.Method = v.Method
	r.AttendanceCompletedAt = v.CompletedAt
}

// RecordCode stores a correct code entry. Only the first entry is kept.
func (r *ParticipationRecord) RecordCode(o *Occurrence, now time.Time) {
	if r.CodeEnteredAt == nil {
		r.CodeEnteredAt = &now
	}
	r.settle(o)
}

// RecordVideoProgress keeps the highest progress seen and marks the video
// watched the first time it crosses VideoWatchedPercent.
func (r *ParticipationRecord) RecordVideoProgress(o *Occurrence, percent int, now time.Time) {
	if percent > r.VideoProgress {
		r.VideoProgress = percent
	}
	if r.VideoProgress >= VideoWatchedPercent && !r.VideoWatched {
		r.VideoWatched = true
		r.VideoWatchedAt = &now
	}
	r.settle(o)
}

// RecordSurvey stores the first survey submission; later ones are ignored.
func (r *ParticipationRecord) RecordSurvey(o *Occurrence, answers json.RawMessage, now time.Time) {
	if r.SurveyCompletedAt == nil {
		r.SurveyCompletedAt = &now
		r.SurveyAnswers = answers
	}
	r.settle(o)
}

// ExemptionRequest excuses a member from one occurrence once approved.
type ExemptionRequest struct {
	OccurrenceID  domain.OccurrenceID
	MemberID      domain.MemberID
	Status        ExemptionStatus
	Reason        string
	ReviewerNotes string
	SubmittedAt   time.Time
	ReviewedAt    *time.Time
}

// Active reports whether the request blocks a new submission.
func (e *ExemptionRequest) Active() bool {
	return e.Status == ExemptionPending || e.Status == ExemptionApproved
}

// NewOccurrence is the input for creating an occurrence.
type NewOccurrence struct {
	ID                  domain.OccurrenceID
	Title               string
	HeldOn              time.Time
	AttendanceCode      string
	RecordingURL        string
	SurveyRef           string
	ApplicationDeadline *time.Time
	AttendanceDeadline  *time.Time
}

// Participation is one member's view of one occurrence: stored evidence, any
// exemption request, and the resolved verdict. Record and Exemption are nil
// when nothing has been stored yet.
type Participation struct {
	Occurrence *Occurrence
	MemberID   domain.MemberID
	Record     *ParticipationRecord
	Exemption  *ExemptionRequest
	Verdict    Verdict
	// Stale is set when the action that produced this view arrived after the
	// attendance deadline. The evidence is kept but does not count.
	Stale bool
}
