package models

import (
	"sort"

	attendance "keystone/internal/attendance/models"
	promotion "keystone/internal/promotion/models"
	"keystone/pkg/domain"
)

// Unresolved labels participants with no explicit or default approval in
// aggregate counts.
const Unresolved = "UNRESOLVED"

// EffectiveApproval is what a reviewer sees for one participant. An empty
// Decision means unresolved and needs manual review.
type EffectiveApproval struct {
	Decision  attendance.Decision
	Defaulted bool
}

func (a EffectiveApproval) Resolved() bool { return a.Decision != "" }

// Label is the decision name, or Unresolved.
func (a EffectiveApproval) Label() string {
	if !a.Resolved() {
		return Unresolved
	}
	return a.Decision.String()
}

// Effective returns the explicit final approval when one is set. Otherwise an
// officially attended member defaults to MAINTAINED. The default is derived on
// every call and never stored.
func Effective(v attendance.Verdict, r *attendance.ParticipationRecord) EffectiveApproval {
	if r != nil && r.HasFinalApproval() {
		return EffectiveApproval{Decision: r.FinalApproval}
	}
	if v.OfficiallyAttended {
		return EffectiveApproval{Decision: attendance.DecisionMaintained, Defaulted: true}
	}
	return EffectiveApproval{}
}

// ParticipantSummary is the per-occurrence, per-member row consumed by
// reporting and filtering.
type ParticipantSummary struct {
	OccurrenceID       domain.OccurrenceID
	MemberID           domain.MemberID
	MemberNumber       domain.MemberNumber
	Role               domain.Role
	OfficiallyAttended bool
	Method             attendance.Method
	Intent             attendance.Intent
	ExemptionStatus    attendance.ExemptionStatus
	InterviewCompleted bool
	Overdue            bool
	EffectiveApproval  EffectiveApproval
}

// OccurrenceSummary folds participant summaries into counts. It is always
// recomputed and never stored.
type OccurrenceSummary struct {
	Occurrence   *attendance.Occurrence
	Participants []ParticipantSummary
	ByMethod     map[attendance.Method]int
	ByIntent     map[attendance.Intent]int
	ByApproval   map[string]int
}

// Fold builds the aggregate view. Participants are ordered by member number,
// with unnumbered members last by ID.
func Fold(o *attendance.Occurrence, participants []ParticipantSummary) OccurrenceSummary {
	sort.Slice(participants, func(i, j int) bool {
		a, b := participants[i], participants[j]
		if (a.MemberNumber == "") != (b.MemberNumber == "") {
			return a.MemberNumber != ""
		}
		if a.MemberNumber != b.MemberNumber {
			return a.MemberNumber < b.MemberNumber
		}
		return a.MemberID.String() < b.MemberID.String()
	})
	s := OccurrenceSummary{
		Occurrence:   o,
		Participants: participants,
		ByMethod:     map[attendance.Method]int{},
		ByIntent:     map[attendance.Intent]int{},
		ByApproval:   map[string]int{},
	}
	for _, p := range participants {
		s.ByMethod[p.Method]++
		s.ByIntent[p.Intent]++
		s.ByApproval[p.EffectiveApproval.Label()]++
	}
	return s
}

// MemberSummary is the outbound member projection.
type MemberSummary struct {
	MemberID     domain.MemberID
	MemberNumber domain.MemberNumber
	Role         domain.Role
	Eligibility  promotion.EligibilityState
}

// DemotionReport lists what ApplyDemotions did for one occurrence.
type DemotionReport struct {
	OccurrenceID domain.OccurrenceID
	Demoted      []domain.MemberID
	Unresolved   []domain.MemberID
}
