package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "keystone/pkg/domain-errors"
)

// MemberID identifies a member row. It is the internal key; the human-facing
// identifier is MemberNumber.
type MemberID uuid.UUID

// OccurrenceID identifies one dated instance of the recurring meeting series.
type OccurrenceID uuid.UUID

func (id MemberID) String() string     { return uuid.UUID(id).String() }
func (id MemberID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id OccurrenceID) String() string { return uuid.UUID(id).String() }
func (id OccurrenceID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// NewMemberID returns a fresh random MemberID.
func NewMemberID() MemberID { return MemberID(uuid.New()) }

// NewOccurrenceID returns a fresh random OccurrenceID.
func NewOccurrenceID() OccurrenceID { return OccurrenceID(uuid.New()) }

// ParseMemberID parses a member ID at a trust boundary.
func ParseMemberID(s string) (MemberID, error) {
	u, err := parseUUID(s, "member_id")
	return MemberID(u), err
}

// ParseOccurrenceID parses an occurrence ID at a trust boundary.
func ParseOccurrenceID(s string) (OccurrenceID, error) {
	u, err := parseUUID(s, "occurrence_id")
	return OccurrenceID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, field+" is required")
	}
	// uuid.Parse also accepts urn and braced forms; only the canonical form is allowed.
	if len(s) != 36 || !utf8.ValidString(s) || strings.TrimSpace(s) != s {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "invalid "+field)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, field+" cannot be nil")
	}
	return u, nil
}
