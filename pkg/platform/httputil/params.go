package httputil

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
	"keystone/pkg/requestcontext"
)

// MemberIDParam parses a chi path parameter as a member ID.
func MemberIDParam(r *http.Request, name string) (domain.MemberID, error) {
	return domain.ParseMemberID(chi.URLParam(r, name))
}

// OccurrenceIDParam parses a chi path parameter as an occurrence ID.
func OccurrenceIDParam(r *http.Request, name string) (domain.OccurrenceID, error) {
	return domain.ParseOccurrenceID(chi.URLParam(r, name))
}

// Principal returns the authenticated caller or an unauthorized error.
func Principal(ctx context.Context) (requestcontext.Principal, error) {
	p, ok := requestcontext.Actor(ctx)
	if !ok || p.MemberID.IsNil() {
		return requestcontext.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return p, nil
}

// RequireSelfOrStaff allows members to act on their own records and staff to
// act on anyone's.
func RequireSelfOrStaff(ctx context.Context, target domain.MemberID) error {
	p, err := Principal(ctx)
	if err != nil {
		return err
	}
	if p.MemberID != target && !p.Role.IsStaff() {
		return dErrors.New(dErrors.CodeForbidden, "members may only act on their own records")
	}
	return nil
}
