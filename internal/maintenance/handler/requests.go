package handler

import (
	"strings"

	attendance "keystone/internal/attendance/models"
	dErrors "keystone/pkg/domain-errors"
)

type FinalApprovalRequest struct {
	Decision string `json:"decision" validate:"required"`

	decision attendance.Decision
}

func (r *FinalApprovalRequest) Validate() error {
	d, err := attendance.ParseDecision(strings.ToUpper(strings.TrimSpace(r.Decision)))
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "decision must be MAINTAINED or DEMOTED")
	}
	r.decision = d
	return nil
}
