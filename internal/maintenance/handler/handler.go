package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	attendance "keystone/internal/attendance/models"
	"keystone/internal/maintenance/models"
	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
	"keystone/pkg/platform/httputil"
	"keystone/pkg/requestcontext"
)

type Service interface {
	RecordInterview(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.ParticipantSummary, error)
	RevertInterview(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.ParticipantSummary, error)
	SetFinalApproval(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, decision attendance.Decision) (*models.ParticipantSummary, error)
	EffectiveApproval(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.EffectiveApproval, error)
	ParticipantSummary(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.ParticipantSummary, error)
	OccurrenceSummary(ctx context.Context, occurrenceID domain.OccurrenceID) (*models.OccurrenceSummary, error)
	MemberSummary(ctx context.Context, memberID domain.MemberID) (*models.MemberSummary, error)
	ApplyDemotions(ctx context.Context, occurrenceID domain.OccurrenceID) (*models.DemotionReport, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

const participantPath = "/occurrences/{occurrenceID}/members/{memberID}"

// Register mounts member-facing read routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/members/{memberID}/summary", h.HandleMemberSummary)
	r.Get(participantPath+"/summary", h.HandleParticipantSummary)
}

// RegisterAdmin mounts operator routes on a router guarded by RequireStaff.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/occurrences/{occurrenceID}/summary", h.HandleOccurrenceSummary)
	r.Post("/occurrences/{occurrenceID}/demotions", h.HandleApplyDemotions)
	r.Get(participantPath+"/approval", h.HandleEffectiveApproval)
	r.Put(participantPath+"/approval", h.HandleSetFinalApproval)
	r.Post(participantPath+"/interview", h.HandleRecordInterview)
	r.Delete(participantPath+"/interview", h.HandleRevertInterview)
}

func (h *Handler) HandleMemberSummary(w http.ResponseWriter, r *http.Request) {
	memberID, err := httputil.MemberIDParam(r, "memberID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := httputil.RequireSelfOrStaff(r.Context(), memberID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	summary, err := h.service.MemberSummary(r.Context(), memberID)
	if err != nil {
		h.logFailure(r.Context(), "member summary failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromMemberSummary(summary))
}

func (h *Handler) HandleParticipantSummary(w http.ResponseWriter, r *http.Request) {
	occurrenceID, memberID, ok := h.participant(w, r, true)
	if !ok {
		return
	}
	summary, err := h.service.ParticipantSummary(r.Context(), occurrenceID, memberID)
	h.respond(w, r, "participant summary failed", summary, err)
}

func (h *Handler) HandleOccurrenceSummary(w http.ResponseWriter, r *http.Request) {
	occurrenceID, err := httputil.OccurrenceIDParam(r, "occurrenceID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	summary, err := h.service.OccurrenceSummary(r.Context(), occurrenceID)
	if err != nil {
		h.logFailure(r.Context(), "occurrence summary failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromOccurrenceSummary(summary))
}

func (h *Handler) HandleApplyDemotions(w http.ResponseWriter, r *http.Request) {
	occurrenceID, err := httputil.OccurrenceIDParam(r, "occurrenceID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.service.ApplyDemotions(r.Context(), occurrenceID)
	if err != nil {
		h.logFailure(r.Context(), "apply demotions failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDemotionReport(report))
}

func (h *Handler) HandleEffectiveApproval(w http.ResponseWriter, r *http.Request) {
	occurrenceID, memberID, ok := h.participant(w, r, false)
	if !ok {
		return
	}
	a, err := h.service.EffectiveApproval(r.Context(), occurrenceID, memberID)
	if err != nil {
		h.logFailure(r.Context(), "effective approval failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEffective(*a))
}

func (h *Handler) HandleSetFinalApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	occurrenceID, memberID, ok := h.participant(w, r, false)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[FinalApprovalRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	summary, err := h.service.SetFinalApproval(ctx, occurrenceID, memberID, req.decision)
	h.respond(w, r, "set final approval failed", summary, err)
}

func (h *Handler) HandleRecordInterview(w http.ResponseWriter, r *http.Request) {
	occurrenceID, memberID, ok := h.participant(w, r, false)
	if !ok {
		return
	}
	summary, err := h.service.RecordInterview(r.Context(), occurrenceID, memberID)
	h.respond(w, r, "record interview failed", summary, err)
}

func (h *Handler) HandleRevertInterview(w http.ResponseWriter, r *http.Request) {
	occurrenceID, memberID, ok := h.participant(w, r, false)
	if !ok {
		return
	}
	summary, err := h.service.RevertInterview(r.Context(), occurrenceID, memberID)
	h.respond(w, r, "revert interview failed", summary, err)
}

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

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, msg string, s *models.ParticipantSummary, err error) {
	if err != nil {
		h.logFailure(r.Context(), msg, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromParticipant(s))
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	attrs := []any{"request_id", requestcontext.RequestID(ctx), "error", err}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, attrs...)
		return
	}
	h.logger.WarnContext(ctx, msg, attrs...)
}
