package models

import (
	"time"

	"keystone/pkg/domain"
)

// Member is an enrolled person. MemberNumber stays empty until allocated and
// never changes afterwards.
type Member struct {
	ID           domain.MemberID
	DisplayName  string
	Role         domain.Role
	MemberNumber domain.MemberNumber
	EnrolledAt   time.Time
	UpdatedAt    time.Time
}

func (m *Member) HasNumber() bool {
	return m.MemberNumber != ""
}

// Allocation pairs a member with the number assigned to it.
type Allocation struct {
	MemberID     domain.MemberID
	MemberNumber domain.MemberNumber
}

// Enrollment is the input of a completed enrollment.
type Enrollment struct {
	// MemberID is optional; upstream systems that already minted an ID pass it
	// so redelivered enrollment events stay idempotent.
	MemberID    domain.MemberID
	DisplayName string
	EnrolledAt  time.Time
}
