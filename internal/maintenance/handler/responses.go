package handler

import (
	"keystone/internal/maintenance/models"
	promotion "keystone/internal/promotion/handler"
)

type ApprovalResponse struct {
	Decision  string `json:"decision"`
	Defaulted bool   `json:"defaulted"`
}

// FromEffective renders an unresolved approval as "UNRESOLVED".
func FromEffective(a models.EffectiveApproval) ApprovalResponse {
	return ApprovalResponse{Decision: a.Label(), Defaulted: a.Defaulted}
}

type ParticipantResponse struct {
	OccurrenceID       string           `json:"occurrence_id"`
	MemberID           string           `json:"member_id"`
	MemberNumber       string           `json:"member_number,omitempty"`
	Role               string           `json:"role"`
	OfficiallyAttended bool             `json:"officially_attended"`
	Method             string           `json:"method"`
	Intent             string           `json:"intent"`
	ExemptionStatus    string           `json:"exemption_status,omitempty"`
	InterviewCompleted bool             `json:"interview_completed"`
	Overdue            bool             `json:"overdue"`
	EffectiveApproval  ApprovalResponse `json:"effective_approval"`
}

func FromParticipant(s *models.ParticipantSummary) ParticipantResponse {
	return ParticipantResponse{
		OccurrenceID:       s.OccurrenceID.String(),
		MemberID:           s.MemberID.String(),
		MemberNumber:       s.MemberNumber.String(),
		Role:               s.Role.String(),
		OfficiallyAttended: s.OfficiallyAttended,
		Method:             s.Method.String(),
		Intent:             s.Intent.String(),
		ExemptionStatus:    s.ExemptionStatus.String(),
		InterviewCompleted: s.InterviewCompleted,
		Overdue:            s.Overdue,
		EffectiveApproval:  FromEffective(s.EffectiveApproval),
	}
}

type OccurrenceSummaryResponse struct {
	OccurrenceID string                `json:"occurrence_id"`
	Participants []ParticipantResponse `json:"participants"`
	ByMethod     map[string]int        `json:"by_method"`
	ByIntent     map[string]int        `json:"by_intent"`
	ByApproval   map[string]int        `json:"by_approval"`
}

func FromOccurrenceSummary(s *models.OccurrenceSummary) OccurrenceSummaryResponse {
	resp := OccurrenceSummaryResponse{
		OccurrenceID: s.Occurrence.ID.String(),
		Participants: make([]ParticipantResponse, 0, len(s.Participants)),
		ByMethod:     make(map[string]int, len(s.ByMethod)),
		ByIntent:     make(map[string]int, len(s.ByIntent)),
		ByApproval:   s.ByApproval,
	}
	for i := range s.Participants {
		resp.Participants = append(resp.Participants, FromParticipant(&s.Participants[i]))
	}
	for k, v := range s.ByMethod {
		resp.ByMethod[k.String()] = v
	}
	for k, v := range s.ByIntent {
		resp.ByIntent[k.String()] = v
	}
	return resp
}

type MemberSummaryResponse struct {
	MemberID     string                        `json:"member_id"`
	MemberNumber string                        `json:"member_number,omitempty"`
	Role         string                        `json:"role"`
	Eligibility  promotion.EligibilityResponse `json:"eligibility"`
}

func FromMemberSummary(s *models.MemberSummary) MemberSummaryResponse {
	return MemberSummaryResponse{
		MemberID:     s.MemberID.String(),
		MemberNumber: s.MemberNumber.String(),
		Role:         s.Role.String(),
		Eligibility:  promotion.FromState(&s.Eligibility),
	}
}

type DemotionReportResponse struct {
	OccurrenceID string   `json:"occurrence_id"`
	Demoted      []string `json:"demoted"`
	Unresolved   []string `json:"unresolved"`
}

func FromDemotionReport(r *models.DemotionReport) DemotionReportResponse {
	resp := DemotionReportResponse{
		OccurrenceID: r.OccurrenceID.String(),
		Demoted:      make([]string, 0, len(r.Demoted)),
		Unresolved:   make([]string, 0, len(r.Unresolved)),
	}
	for _, id := range r.Demoted {
		resp.Demoted = append(resp.Demoted, id.String())
	}
	for _, id := range r.Unresolved {
		resp.Unresolved = append(resp.Unresolved, id.String())
	}
	return resp
}
