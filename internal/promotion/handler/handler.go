package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keystone/internal/promotion/models"
	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
	"keystone/pkg/platform/httputil"
	"keystone/pkg/requestcontext"
)

type Service interface {
	Evaluate(ctx context.Context, memberID domain.MemberID) (*models.EligibilityState, error)
	ListQueue(ctx context.Context) ([]models.EligibilityState, error)
	Submit(ctx context.Context, memberID domain.MemberID) (*models.EligibilityState, error)
	ApproveScreening(ctx context.Context, memberID domain.MemberID) (*models.EligibilityState, error)
	ApprovePromotion(ctx context.Context, memberID domain.MemberID) (*models.EligibilityState, error)
	Reject(ctx context.Context, memberID domain.MemberID, notes string) (*models.EligibilityState, error)

	RecordMeetingCompleted(ctx context.Context, memberID domain.MemberID) (*models.EligibilityState, error)
	RecordAssessmentScore(ctx context.Context, memberID domain.MemberID, score int) (*models.EligibilityState, error)
	RecordSurveySubmitted(ctx context.Context, memberID domain.MemberID, answers json.RawMessage) (*models.EligibilityState, error)
	RecordContactInfoSaved(ctx context.Context, memberID domain.MemberID) (*models.EligibilityState, error)
	RecordComplianceScore(ctx context.Context, memberID domain.MemberID, score int) (*models.EligibilityState, error)
	RecordOnboardingProgress(ctx context.Context, memberID domain.MemberID, percent int) (*models.EligibilityState, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts member-facing routes. Callers must be authenticated.
func (h *Handler) Register(r chi.Router) {
	r.Get("/members/{memberID}/promotion", h.HandleEvaluate)
	r.Post("/members/{memberID}/promotion/submit", h.HandleSubmit)
}

// RegisterAdmin mounts operator routes on a router guarded by RequireStaff.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/promotions/queue", h.HandleQueue)
	r.Post("/promotions/{memberID}/evidence", h.HandleRecordEvidence)
	r.Post("/promotions/{memberID}/screening-approval", h.HandleApproveScreening)
	r.Post("/promotions/{memberID}/approval", h.HandleApprovePromotion)
	r.Post("/promotions/{memberID}/rejection", h.HandleReject)
}

func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.selfOrStaff(w, r)
	if !ok {
		return
	}
	state, err := h.service.Evaluate(r.Context(), memberID)
	h.respond(w, r, "evaluate eligibility failed", state, err)
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.selfOrStaff(w, r)
	if !ok {
		return
	}
	state, err := h.service.Submit(r.Context(), memberID)
	h.respond(w, r, "promotion submit failed", state, err)
}

func (h *Handler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	states, err := h.service.ListQueue(r.Context())
	if err != nil {
		h.logFailure(r.Context(), "list promotion queue failed", err)
		httputil.WriteError(w, err)
		return
	}
	resp := QueueResponse{Applications: make([]EligibilityResponse, 0, len(states))}
	for i := range states {
		resp.Applications = append(resp.Applications, FromState(&states[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleRecordEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	memberID, err := httputil.MemberIDParam(r, "memberID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[EvidenceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	var state *models.EligibilityState
	switch req.Kind {
	case EvidenceMeeting:
		state, err = h.service.RecordMeetingCompleted(ctx, memberID)
	case EvidenceAssessment:
		state, err = h.service.RecordAssessmentScore(ctx, memberID, *req.Value)
	case EvidenceSurvey:
		state, err = h.service.RecordSurveySubmitted(ctx, memberID, req.Answers)
	case EvidenceContactInfo:
		state, err = h.service.RecordContactInfoSaved(ctx, memberID)
	case EvidenceCompliance:
		state, err = h.service.RecordComplianceScore(ctx, memberID, *req.Value)
	case EvidenceOnboarding:
		state, err = h.service.RecordOnboardingProgress(ctx, memberID, *req.Value)
	}
	h.respond(w, r, "record promotion evidence failed", state, err)
}

func (h *Handler) HandleApproveScreening(w http.ResponseWriter, r *http.Request) {
	memberID, err := httputil.MemberIDParam(r, "memberID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	state, err := h.service.ApproveScreening(r.Context(), memberID)
	h.respond(w, r, "approve screening failed", state, err)
}

func (h *Handler) HandleApprovePromotion(w http.ResponseWriter, r *http.Request) {
	memberID, err := httputil.MemberIDParam(r, "memberID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	state, err := h.service.ApprovePromotion(r.Context(), memberID)
	h.respond(w, r, "approve promotion failed", state, err)
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	memberID, err := httputil.MemberIDParam(r, "memberID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[RejectRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	state, err := h.service.Reject(ctx, memberID, req.Notes)
	h.respond(w, r, "reject application failed", state, err)
}

func (h *Handler) selfOrStaff(w http.ResponseWriter, r *http.Request) (domain.MemberID, bool) {
	memberID, err := httputil.MemberIDParam(r, "memberID")
	if err != nil {
		httputil.WriteError(w, err)
		return domain.MemberID{}, false
	}
	if err := httputil.RequireSelfOrStaff(r.Context(), memberID); err != nil {
		httputil.WriteError(w, err)
		return domain.MemberID{}, false
	}
	return memberID, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, msg string, state *models.EligibilityState, err error) {
	if err != nil {
		h.logFailure(r.Context(), msg, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromState(state))
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	attrs := []any{"request_id", requestcontext.RequestID(ctx), "error", err}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, attrs...)
		return
	}
	h.logger.WarnContext(ctx, msg, attrs...)
}
