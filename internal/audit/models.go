package audit

import (
	"time"

	"keystone/pkg/domain"
)

// Action names one auditable lifecycle transition.
type Action string

const (
	ActionMemberEnrolled        Action = "member_enrolled"
	ActionMemberNumberAllocated Action = "member_number_allocated"
	ActionApplicationSubmitted  Action = "promotion_submitted"
	ActionScreeningApproved     Action = "promotion_screening_approved"
	ActionApplicationRejected   Action = "promotion_rejected"
	ActionMemberPromoted        Action = "member_promoted"
	ActionOccurrenceCreated     Action = "occurrence_created"
	ActionExemptionSubmitted    Action = "exemption_submitted"
	ActionExemptionWithdrawn    Action = "exemption_withdrawn"
	ActionExemptionReviewed     Action = "exemption_reviewed"
	ActionInterviewRecorded     Action = "interview_recorded"
	ActionInterviewReverted     Action = "interview_reverted"
	ActionFinalApprovalSet      Action = "final_approval_set"
	ActionMemberDemoted         Action = "member_demoted"
)

// Event is emitted from services on every state transition. It is
// transport-agnostic; the outbox serializes it and the relay ships it.
type Event struct {
	Action       Action
	MemberID     domain.MemberID
	OccurrenceID domain.OccurrenceID
	// ActorID is the staff member acting on someone else's record, if any.
	ActorID   domain.MemberID
	Detail    map[string]string
	RequestID string
	Timestamp time.Time
}

// OutboxEntry is one persisted event waiting to be relayed.
type OutboxEntry struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}
