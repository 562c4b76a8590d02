package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keystone/internal/attendance/models"
	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
	"keystone/pkg/platform/httputil"
	"keystone/pkg/requestcontext"
)

type Service interface {
	CreateOccurrence(ctx context.Context, in models.NewOccurrence) (*models.Occurrence, error)
	GetOccurrence(ctx context.Context, id domain.OccurrenceID) (*models.Occurrence, error)
	ListOccurrences(ctx context.Context) ([]*models.Occurrence, error)

	Participation(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.Participation, error)
	DeclareIntent(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, intent models.Intent) (*models.Participation, error)
	SubmitCode(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, code string) (*models.Participation, error)
	RecordVideoProgress(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, percent int) (*models.Participation, error)
	SubmitSurvey(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, answers json.RawMessage) (*models.Participation, error)
	SubmitExemption(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, reason string) (*models.Participation, error)
	WithdrawExemption(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.Participation, error)
	ReviewExemption(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, approve bool, notes string) (*models.Participation, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

const participantPath = "/occurrences/{occurrenceID}/members/{memberID}"

// Register mounts member-facing routes. Members may only touch their own
// participation; staff may act for anyone.
func (h *Handler) Register(r chi.Router) {
	r.Get("/occurrences", h.HandleListOccurrences)
	r.Get("/occurrences/{occurrenceID}", h.HandleGetOccurrence)
	r.Get(participantPath+"/participation", h.HandleParticipation)
	r.Put(participantPath+"/intent", h.HandleDeclareIntent)
	r.Post(participantPath+"/code", h.HandleSubmitCode)
	r.Post(participantPath+"/video-progress", h.HandleVideoProgress)
	r.Post(participantPath+"/survey", h.HandleSubmitSurvey)
	r.Post(participantPath+"/exemption", h.HandleSubmitExemption)
	r.Delete(participantPath+"/exemption", h.HandleWithdrawExemption)
}

// RegisterAdmin mounts operator routes on a router guarded by RequireStaff.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/occurrences", h.HandleCreateOccurrence)
	r.Post(participantPath+"/exemption/review", h.HandleReviewExemption)
}

func (h *Handler) HandleCreateOccurrence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CreateOccurrenceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	o, err := h.service.CreateOccurrence(ctx, req.ToNewOccurrence())
	if err != nil {
		h.logFailure(ctx, "create occurrence failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromOccurrence(o))
}

func (h *Handler) HandleListOccurrences(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListOccurrences(r.Context())
	if err != nil {
		h.logFailure(r.Context(), "list occurrences failed", err)
		httputil.WriteError(w, err)
		return
	}
	resp := OccurrenceListResponse{Occurrences: make([]OccurrenceResponse, 0, len(list))}
	for _, o := range list {
		resp.Occurrences = append(resp.Occurrences, FromOccurrence(o))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGetOccurrence(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.OccurrenceIDParam(r, "occurrenceID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	o, err := h.service.GetOccurrence(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromOccurrence(o))
}

func (h *Handler) HandleParticipation(w http.ResponseWriter, r *http.Request) {
	occurrenceID, memberID, ok := h.participant(w, r, true)
	if !ok {
		return
	}
	p, err := h.service.Participation(r.Context(), occurrenceID, memberID)
	h.respond(w, r, "load participation failed", p, err)
}

func (h *Handler) HandleDeclareIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	occurrenceID, memberID, ok := h.participant(w, r, true)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[IntentRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.DeclareIntent(ctx, occurrenceID, memberID, req.intent)
	h.respond(w, r, "declare intent failed", p, err)
}

func (h *Handler) HandleSubmitCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	occurrenceID, memberID, ok := h.participant(w, r, true)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CodeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.SubmitCode(ctx, occurrenceID, memberID, req.Code)
	h.respond(w, r, "submit attendance code failed", p, err)
}

func (h *Handler) HandleVideoProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	occurrenceID, memberID, ok := h.participant(w, r, true)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[VideoProgressRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.RecordVideoProgress(ctx, occurrenceID, memberID, *req.Percent)
	h.respond(w, r, "record video progress failed", p, err)
}

func (h *Handler) HandleSubmitSurvey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	occurrenceID, memberID, ok := h.participant(w, r, true)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SurveyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.SubmitSurvey(ctx, occurrenceID, memberID, req.Answers)
	h.respond(w, r, "submit survey failed", p, err)
}

func (h *Handler) HandleSubmitExemption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	occurrenceID, memberID, ok := h.participant(w, r, true)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ExemptionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.SubmitExemption(ctx, occurrenceID, memberID, req.Reason)
	h.respond(w, r, "submit exemption failed", p, err)
}

func (h *Handler) HandleWithdrawExemption(w http.ResponseWriter, r *http.Request) {
	occurrenceID, memberID, ok := h.participant(w, r, true)
	if !ok {
		return
	}
	p, err := h.service.WithdrawExemption(r.Context(), occurrenceID, memberID)
	h.respond(w, r, "withdraw exemption failed", p, err)
}

func (h *Handler) HandleReviewExemption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	occurrenceID, memberID, ok := h.participant(w, r, false)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ReviewExemptionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.ReviewExemption(ctx, occurrenceID, memberID, *req.Approve, req.Notes)
	h.respond(w, r, "review exemption failed", p, err)
}

// participant parses the path pair and, when selfOnly is set, checks that the
// caller is the member or staff.
func (h *Handler) participant(w http.ResponseWriter, r *http.Request, selfOnly bool) (domain.OccurrenceID, domain.MemberID, bool) {
	occurrenceID, err := httputil.OccurrenceIDParam(r, "occurrenceID")
	if err != nil {
		httputil.WriteError(w, err)
		return domain.OccurrenceID{}, domain.MemberID{}, false
	}
	memberID, err := httputil.MemberIDParam(r, "memberID")
	if err != nil {
		httputil.WriteError(w, err)
		return domain.OccurrenceID{}, domain.MemberID{}, false
	}
	if selfOnly {
		if err := httputil.RequireSelfOrStaff(r.Context(), memberID); err != nil {
			httputil.WriteError(w, err)
			return domain.OccurrenceID{}, domain.MemberID{}, false
		}
	}
	return occurrenceID, memberID, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, msg string, p *models.Participation, err error) {
	if err != nil {
		h.logFailure(r.Context(), msg, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromParticipation(p))
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	attrs := []any{"request_id", requestcontext.RequestID(ctx), "error", err}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, attrs...)
		return
	}
	h.logger.WarnContext(ctx, msg, attrs...)
}
