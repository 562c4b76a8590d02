package handler

import (
	"strings"
	"time"

	"keystone/internal/member/models"
	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
)

// EnrollRequest is the body of POST /v1/admin/members.
type EnrollRequest struct {
	MemberID    string     `json:"member_id,omitempty"`
	DisplayName string     `json:"display_name" validate:"max=200"`
	EnrolledAt  *time.Time `json:"enrolled_at,omitempty"`

	parsedID domain.MemberID
}

func (r *EnrollRequest) Validate() error {
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	if r.MemberID != "" {
		id, err := domain.ParseMemberID(r.MemberID)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "member_id must be a UUID")
		}
		r.parsedID = id
	}
	return nil
}

func (r *EnrollRequest) ToEnrollment() models.Enrollment {
	e := models.Enrollment{MemberID: r.parsedID, DisplayName: r.DisplayName}
	if r.EnrolledAt != nil {
		e.EnrolledAt = r.EnrolledAt.UTC()
	}
	return e
}
