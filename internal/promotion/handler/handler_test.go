package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memberModels "keystone/internal/member/models"
	memberStore "keystone/internal/member/store"
	"keystone/internal/promotion/service"
	"keystone/internal/promotion/store"
	"keystone/pkg/domain"
	"keystone/pkg/platform/tx"
	"keystone/pkg/testutil"
)

type fixture struct {
	router   http.Handler
	members  *memberStore.InMemoryStore
	operator domain.MemberID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	members := memberStore.NewInMemoryStore()
	svc := service.New(store.NewInMemoryStore(), members, tx.NewMemoryRunner())
	h := New(svc, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	r := chi.NewRouter()
	h.Register(r)
	r.Route("/admin", h.RegisterAdmin)
	return &fixture{router: r, members: members, operator: domain.NewMemberID()}
}

func (f *fixture) member(t *testing.T, role domain.Role) domain.MemberID {
	t.Helper()
	id := domain.NewMemberID()
	now := time.Now().UTC()
	require.NoError(t, f.members.Create(context.Background(), &memberModels.Member{ID: id, Role: role, EnrolledAt: now, UpdatedAt: now}))
	return id
}

func (f *fixture) asMember(t *testing.T, id domain.MemberID, method, path string, body any) *http.Request {
	return testutil.WithPrincipal(testutil.NewJSONRequest(t, method, path, body), id, domain.RoleRegular)
}

func (f *fixture) asOperator(t *testing.T, method, path string, body any) *http.Request {
	return testutil.WithPrincipal(testutil.NewJSONRequest(t, method, path, body), f.operator, domain.RoleOperator)
}

func TestPromotionJourney(t *testing.T) {
	f := newFixture(t)
	id := f.member(t, domain.RoleRegular)
	base := "/admin/promotions/" + id.String()

	testutil.Given(t, "a member with an incomplete checklist", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, f.asOperator(t, http.MethodPost, base+"/evidence", map[string]any{"kind": "meeting_completed"}))
		testutil.AssertStatus(t, rr, http.StatusOK)

		testutil.When(t, "the member submits", func(t *testing.T) {
			rr := testutil.DoRequest(f.router, f.asMember(t, id, http.MethodPost, "/members/"+id.String()+"/promotion/submit", nil))

			testutil.Then(t, "submission is refused", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusConflict, "invalid_transition")
				testutil.AssertJSONContains(t, rr, "reason", "incomplete_checklist")
			})
		})
	})

	testutil.Given(t, "the remaining checklist evidence arrives", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, f.asOperator(t, http.MethodPost, base+"/evidence", map[string]any{"kind": "assessment_scored", "value": 88}))
		testutil.AssertStatus(t, rr, http.StatusOK)
		rr = testutil.DoRequest(f.router, f.asOperator(t, http.MethodPost, base+"/evidence", map[string]any{"kind": "survey_submitted", "answers": map[string]string{"why": "community"}}))
		testutil.AssertStatus(t, rr, http.StatusOK)

		resp := testutil.UnmarshalResponse[EligibilityResponse](t, rr)
		assert.Equal(t, "ready_to_submit", resp.Phase)
		assert.True(t, resp.CanSubmit)
		assert.Nil(t, resp.AppliedAt)

		testutil.When(t, "the member submits", func(t *testing.T) {
			rr := testutil.DoRequest(f.router, f.asMember(t, id, http.MethodPost, "/members/"+id.String()+"/promotion/submit", nil))

			testutil.Then(t, "the application is under review", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusOK)
				resp := testutil.UnmarshalResponse[EligibilityResponse](t, rr)
				assert.Equal(t, "under_review", resp.Phase)
				assert.NotNil(t, resp.AppliedAt)
			})
		})
	})

	testutil.Given(t, "screening is approved and onboarding completed", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, f.asOperator(t, http.MethodPost, base+"/screening-approval", nil))
		testutil.AssertStatus(t, rr, http.StatusOK)
		for _, body := range []map[string]any{
			{"kind": "contact_saved"},
			{"kind": "compliance_scored", "value": 90},
			{"kind": "onboarding_progress", "value": 100},
		} {
			rr = testutil.DoRequest(f.router, f.asOperator(t, http.MethodPost, base+"/evidence", body))
			testutil.AssertStatus(t, rr, http.StatusOK)
		}

		testutil.When(t, "the operator approves the promotion", func(t *testing.T) {
			rr := testutil.DoRequest(f.router, f.asOperator(t, http.MethodPost, base+"/approval", nil))

			testutil.Then(t, "the member is elevated", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusOK)
				testutil.AssertJSONContains(t, rr, "role", "ELEVATED")
				testutil.AssertJSONContains(t, rr, "phase", "promoted")
			})
		})
	})
}

func TestMembersOnlySeeTheirOwnEligibility(t *testing.T) {
	f := newFixture(t)
	id := f.member(t, domain.RoleRegular)
	other := f.member(t, domain.RoleRegular)

	rr := testutil.DoRequest(f.router, f.asMember(t, other, http.MethodGet, "/members/"+id.String()+"/promotion", nil))
	testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")

	rr = testutil.DoRequest(f.router, f.asMember(t, id, http.MethodGet, "/members/"+id.String()+"/promotion", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[EligibilityResponse](t, rr)
	assert.Equal(t, []string{"meeting", "assessment", "survey"}, resp.MissingChecklist)

	rr = testutil.DoRequest(f.router, testutil.NewJSONRequest(t, http.MethodGet, "/members/"+id.String()+"/promotion", nil))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
}

func TestEvidenceRequestValidation(t *testing.T) {
	f := newFixture(t)
	id := f.member(t, domain.RoleRegular)
	path := "/admin/promotions/" + id.String() + "/evidence"

	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown kind", map[string]any{"kind": "bribe"}},
		{"score without value", map[string]any{"kind": "assessment_scored"}},
		{"value out of range", map[string]any{"kind": "compliance_scored", "value": 140}},
		{"empty survey", map[string]any{"kind": "survey_submitted", "answers": map[string]any{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := testutil.DoRequest(f.router, f.asOperator(t, http.MethodPost, path, tt.body))
			testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "validation_error")
		})
	}
}

func TestRejectAndQueue(t *testing.T) {
	f := newFixture(t)
	id := f.member(t, domain.RoleRegular)
	base := "/admin/promotions/" + id.String()
	for _, body := range []map[string]any{
		{"kind": "meeting_completed"},
		{"kind": "assessment_scored", "value": 80},
		{"kind": "survey_submitted", "answers": map[string]int{"q": 1}},
	} {
		testutil.AssertStatus(t, testutil.DoRequest(f.router, f.asOperator(t, http.MethodPost, base+"/evidence", body)), http.StatusOK)
	}
	testutil.AssertStatus(t, testutil.DoRequest(f.router, f.asMember(t, id, http.MethodPost, "/members/"+id.String()+"/promotion/submit", nil)), http.StatusOK)

	rr := testutil.DoRequest(f.router, f.asOperator(t, http.MethodGet, "/admin/promotions/queue", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	queue := testutil.UnmarshalResponse[QueueResponse](t, rr)
	require.Len(t, queue.Applications, 1)
	assert.Equal(t, id.String(), queue.Applications[0].MemberID)

	rr = testutil.DoRequest(f.router, f.asOperator(t, http.MethodPost, base+"/rejection", map[string]string{"notes": "try next quarter"}))
	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[EligibilityResponse](t, rr)
	assert.Nil(t, resp.AppliedAt)
	assert.Equal(t, "try next quarter", resp.ReviewNotes)
	assert.True(t, resp.MeetingCompleted)

	rr = testutil.DoRequest(f.router, f.asOperator(t, http.MethodGet, "/admin/promotions/queue", nil))
	queue = testutil.UnmarshalResponse[QueueResponse](t, rr)
	assert.Empty(t, queue.Applications)
}
