package testutil

import (
	"net/http"
	"testing"

	"keystone/pkg/domain"
	"keystone/pkg/requestcontext"
)

// WithPrincipal simulates RequireAuth for handler tests that skip the token.
func WithPrincipal(req *http.Request, memberID domain.MemberID, role domain.Role) *http.Request {
	ctx := requestcontext.WithActor(req.Context(), requestcontext.Principal{MemberID: memberID, Role: role})
	return req.WithContext(ctx)
}

// Given, When and Then name nested subtests after the scenario step they run.
func Given(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "Given", desc, fn) }
func When(t *testing.T, desc string, fn func(t *testing.T))  { step(t, "When", desc, fn) }
func Then(t *testing.T, desc string, fn func(t *testing.T))  { step(t, "Then", desc, fn) }

func step(t *testing.T, keyword, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run(keyword+" "+desc, fn)
}
