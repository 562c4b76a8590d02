package handler

import (
	"time"

	"keystone/internal/member/models"
)

type MemberResponse struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	MemberNumber *string   `json:"member_number"`
	EnrolledAt   time.Time `json:"enrolled_at"`
}

func FromMember(m *models.Member) MemberResponse {
	resp := MemberResponse{
		ID:          m.ID.String(),
		DisplayName: m.DisplayName,
		Role:        m.Role.String(),
		EnrolledAt:  m.EnrolledAt,
	}
	if m.HasNumber() {
		n := m.MemberNumber.String()
		resp.MemberNumber = &n
	}
	return resp
}

type AllocationResponse struct {
	MemberID     string `json:"member_id"`
	MemberNumber string `json:"member_number"`
}

type BackfillResponse struct {
	Allocated []AllocationResponse `json:"allocated"`
	Error     string               `json:"error,omitempty"`
}

func fromAllocations(in []models.Allocation) []AllocationResponse {
	out := make([]AllocationResponse, 0, len(in))
	for _, a := range in {
		out = append(out, AllocationResponse{MemberID: a.MemberID.String(), MemberNumber: a.MemberNumber.String()})
	}
	return out
}
