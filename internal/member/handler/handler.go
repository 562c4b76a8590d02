package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keystone/internal/member/models"
	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
	"keystone/pkg/platform/httputil"
	"keystone/pkg/requestcontext"
)

type Service interface {
	Allocate(ctx context.Context, memberID domain.MemberID) (domain.MemberNumber, error)
	AllocateMissing(ctx context.Context) ([]models.Allocation, error)
	Enroll(ctx context.Context, in models.Enrollment) (*models.Member, error)
	Get(ctx context.Context, id domain.MemberID) (*models.Member, error)
	GetByNumber(ctx context.Context, number domain.MemberNumber) (*models.Member, error)
}

// Handler serves member endpoints. Every route is staff-only; members read
// their own data through the summary endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterAdmin mounts routes on a router already guarded by RequireStaff.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/members", h.HandleEnroll)
	r.Post("/members/member-numbers/backfill", h.HandleBackfill)
	r.Get("/members/by-number/{memberNumber}", h.HandleGetByNumber)
	r.Get("/members/{memberID}", h.HandleGet)
	r.Post("/members/{memberID}/member-number", h.HandleAllocate)
}

func (h *Handler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[EnrollRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	m, err := h.service.Enroll(ctx, req.ToEnrollment())
	if err != nil {
		h.logFailure(ctx, "enroll member failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromMember(m))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	memberID, err := httputil.MemberIDParam(r, "memberID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	m, err := h.service.Get(r.Context(), memberID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromMember(m))
}

func (h *Handler) HandleGetByNumber(w http.ResponseWriter, r *http.Request) {
	number, err := domain.ParseMemberNumber(chi.URLParam(r, "memberNumber"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	m, err := h.service.GetByNumber(r.Context(), number)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromMember(m))
}

func (h *Handler) HandleAllocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	memberID, err := httputil.MemberIDParam(r, "memberID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	number, err := h.service.Allocate(ctx, memberID)
	if err != nil {
		h.logFailure(ctx, "member number allocation failed", err, "member_id", memberID.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AllocationResponse{MemberID: memberID.String(), MemberNumber: number.String()})
}

// HandleBackfill reports partial progress: allocations made before a failure
// are returned alongside the error.
func (h *Handler) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	allocations, err := h.service.AllocateMissing(ctx)
	resp := BackfillResponse{Allocated: fromAllocations(allocations)}
	if err != nil {
		h.logFailure(ctx, "member number backfill stopped", err, "allocated", len(allocations))
		resp.Error = dErrors.MessageOf(err)
		httputil.WriteJSON(w, httputil.StatusFor(dErrors.CodeOf(err)), resp)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs, "request_id", requestcontext.RequestID(ctx), "error", err)
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, attrs...)
		return
	}
	h.logger.WarnContext(ctx, msg, attrs...)
}
