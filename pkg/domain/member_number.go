package domain

import (
	"fmt"
	"regexp"
	"strconv"

	dErrors "keystone/pkg/domain-errors"
)

// Member numbers are printed on documents and used for support lookups, so the
// prefix and width are a durable contract. Changing either needs a data migration.
const (
	MemberNumberPrefix = "KS"
	MemberNumberWidth  = 7
	MaxMemberSequence  = 9_999_999
)

// MemberNumberExpr matches well-formed member numbers. It is also valid as a
// PostgreSQL regular expression.
const MemberNumberExpr = `^` + MemberNumberPrefix + `[0-9]{7}$`

var memberNumberPattern = regexp.MustCompile(MemberNumberExpr)

// MemberNumber is the sequential, zero-padded public member identifier.
type MemberNumber string

// IsValidMemberNumber reports whether s has the exact member number format.
func IsValidMemberNumber(s string) bool {
	return memberNumberPattern.MatchString(s)
}

// ParseMemberNumber validates s as a member number.
func ParseMemberNumber(s string) (MemberNumber, error) {
	if !IsValidMemberNumber(s) {
		return "", dErrors.New(dErrors.CodeBadRequest, "invalid member number")
	}
	return MemberNumber(s), nil
}

// FormatMemberNumber encodes seq with the fixed prefix and width.
func FormatMemberNumber(seq int) (MemberNumber, error) {
	if seq < 1 || seq > MaxMemberSequence {
		return "", fmt.Errorf("member sequence %d out of range", seq)
	}
	return MemberNumber(fmt.Sprintf("%s%0*d", MemberNumberPrefix, MemberNumberWidth, seq)), nil
}

// Sequence returns the numeric suffix.
func (n MemberNumber) Sequence() (int, error) {
	if !IsValidMemberNumber(string(n)) {
		return 0, fmt.Errorf("malformed member number %q", string(n))
	}
	return strconv.Atoi(string(n)[len(MemberNumberPrefix):])
}

func (n MemberNumber) String() string { return string(n) }

// NextMemberNumber returns the successor of the current maximum. A missing or
// unparsable maximum does not seed the counter, so numbering starts at 1.
func NextMemberNumber(currentMax string) (MemberNumber, error) {
	seq, err := MemberNumber(currentMax).Sequence()
	if err != nil {
		seq = 0
	}
	return FormatMemberNumber(seq + 1)
}
