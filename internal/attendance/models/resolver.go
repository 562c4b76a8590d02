package models

import "time"

// Verdict is the resolved attendance for one member at one occurrence.
type Verdict struct {
	OfficiallyAttended bool
	Method             Method
	// CompletedAt is when the winning evidence path completed. Nil for
	// exemptions and for NONE.
	CompletedAt *time.Time
}

// Resolve decides attendance from evidence alone; intent never participates.
// Rules are tried in order and the first match wins:
//
//  1. code entered on or before the attendance deadline
//  2. video watched AND survey completed, the later of the two on or before
//     the deadline
//  3. an APPROVED exemption
//  4. otherwise not attended
//
// A nil record or exemption means none exists. Resolve reads no clock, so the
// same inputs always produce the same verdict.
func Resolve(o *Occurrence, r *ParticipationRecord, e *ExemptionRequest) Verdict {
	if r != nil {
		if r.CodeEnteredAt != nil && o.WithinAttendanceWindow(*r.CodeEnteredAt) {
			return Verdict{OfficiallyAttended: true, Method: MethodCode, CompletedAt: r.CodeEnteredAt}
		}
		if done := r.VideoSurveyCompletedAt(); done != nil && o.WithinAttendanceWindow(*done) {
			return Verdict{OfficiallyAttended: true, Method: MethodVideoSurvey, CompletedAt: done}
		}
	}
	if e != nil && e.Status == ExemptionApproved {
		return Verdict{OfficiallyAttended: true, Method: MethodExemption}
	}
	return Verdict{Method: MethodNone}
}
