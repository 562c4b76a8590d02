// Package service records attendance evidence for meeting occurrences and
// resolves whether each member officially attended.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"keystone/internal/attendance/models"
	"keystone/internal/audit"
	memberModels "keystone/internal/member/models"
	"keystone/internal/platform/metrics"
	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
	"keystone/pkg/platform/sentinel"
	"keystone/pkg/requestcontext"
)

type Store interface {
	CreateOccurrence(ctx context.Context, o *models.Occurrence) error
	FindOccurrence(ctx context.Context, id domain.OccurrenceID) (*models.Occurrence, error)
	ListOccurrences(ctx context.Context) ([]*models.Occurrence, error)

	FindRecord(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.ParticipationRecord, error)
	SaveRecord(ctx context.Context, r *models.ParticipationRecord) error

	FindExemption(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.ExemptionRequest, error)
	SaveExemption(ctx context.Context, e *models.ExemptionRequest) error
	DeleteExemption(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) error
}

type MemberStore interface {
	FindByID(ctx context.Context, id domain.MemberID) (*memberModels.Member, error)
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store   Store
	members MemberStore
	tx      TxRunner
	auditor AuditPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func New(store Store, members MemberStore, tx TxRunner, opts ...Option) *Service {
	s := &Service{
		store:   store,
		members: members,
		tx:      tx,
		logger:  slog.Default(),
		tracer:  otel.Tracer("keystone/attendance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Occurrences

func (s *Service) CreateOccurrence(ctx context.Context, in models.NewOccurrence) (*models.Occurrence, error) {
	if in.HeldOn.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "held_on is required")
	}
	if in.ID.IsNil() {
		in.ID = domain.NewOccurrenceID()
	}
	o := &models.Occurrence{
		ID:                  in.ID,
		Title:               strings.TrimSpace(in.Title),
		HeldOn:              in.HeldOn.UTC().Truncate(24 * time.Hour),
		AttendanceCode:      strings.TrimSpace(in.AttendanceCode),
		RecordingURL:        strings.TrimSpace(in.RecordingURL),
		SurveyRef:           strings.TrimSpace(in.SurveyRef),
		ApplicationDeadline: in.ApplicationDeadline,
		AttendanceDeadline:  in.AttendanceDeadline,
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		o.CreatedAt = requestcontext.Now(ctx)
		if err := s.store.CreateOccurrence(ctx, o); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "occurrence already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create occurrence")
		}
		return s.emit(ctx, audit.Event{
			Action:       audit.ActionOccurrenceCreated,
			OccurrenceID: o.ID,
			Detail:       map[string]string{"held_on": o.HeldOn.Format(time.DateOnly)},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "occurrence created",
		"occurrence_id", o.ID.String(),
		"held_on", o.HeldOn.Format(time.DateOnly),
	)
	return o, nil
}

func (s *Service) GetOccurrence(ctx context.Context, id domain.OccurrenceID) (*models.Occurrence, error) {
	return s.loadOccurrence(ctx, id)
}

func (s *Service) ListOccurrences(ctx context.Context) ([]*models.Occurrence, error) {
	out, err := s.store.ListOccurrences(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list occurrences")
	}
	return out, nil
}

// Resolution

// Resolve reports whether the member officially attended the occurrence. It
// never writes.
func (s *Service) Resolve(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.Verdict, error) {
	p, err := s.Participation(ctx, occurrenceID, memberID)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementAttendanceVerdict(p.Verdict.Method.String())
	return &p.Verdict, nil
}

// Participation returns the member's stored evidence and verdict for the
// occurrence without creating anything.
func (s *Service) Participation(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.Participation, error) {
	if _, err := s.loadMember(ctx, memberID); err != nil {
		return nil, err
	}
	return s.load(ctx, occurrenceID, memberID)
}

// Evidence

func (s *Service) DeclareIntent(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, intent models.Intent) (*models.Participation, error) {
	if _, err := models.ParseIntent(intent.String()); err != nil {
		return nil, err
	}
	return s.recordEvidence(ctx, occurrenceID, memberID, "attendance_intent",
		func(ctx context.Context, p *models.Participation, now time.Time) error {
			p.Record.Intent = intent
			p.Record.IntentAt = &now
			return nil
		})
}

// SubmitCode checks the code against the occurrence. A correct code entered
// after the deadline is kept and the result is flagged stale.
func (s *Service) SubmitCode(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, code string) (*models.Participation, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "code is required")
	}
	return s.recordEvidence(ctx, occurrenceID, memberID, "attendance_code",
		func(ctx context.Context, p *models.Participation, now time.Time) error {
			if p.Occurrence.AttendanceCode == "" {
				return dErrors.New(dErrors.CodeInvalidTransition, "occurrence has no attendance code")
			}
			if !strings.EqualFold(code, p.Occurrence.AttendanceCode) {
				return dErrors.New(dErrors.CodeInvalidTransition, "attendance code does not match")
			}
			p.Record.RecordCode(p.Occurrence, now)
			return nil
		})
}

func (s *Service) RecordVideoProgress(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, percent int) (*models.Participation, error) {
	if percent < 0 || percent > 100 {
		return nil, dErrors.New(dErrors.CodeValidation, "progress must be between 0 and 100")
	}
	return s.recordEvidence(ctx, occurrenceID, memberID, "attendance_video",
		func(ctx context.Context, p *models.Participation, now time.Time) error {
			if p.Occurrence.RecordingURL == "" {
				return dErrors.New(dErrors.CodeInvalidTransition, "occurrence has no recording")
			}
			p.Record.RecordVideoProgress(p.Occurrence, percent, now)
			return nil
		})
}

func (s *Service) SubmitSurvey(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, answers json.RawMessage) (*models.Participation, error) {
	if err := domain.ValidateSurveyAnswers(answers); err != nil {
		return nil, err
	}
	return s.recordEvidence(ctx, occurrenceID, memberID, "attendance_survey",
		func(ctx context.Context, p *models.Participation, now time.Time) error {
			if p.Occurrence.SurveyRef == "" {
				return dErrors.New(dErrors.CodeInvalidTransition, "occurrence has no survey")
			}
			p.Record.RecordSurvey(p.Occurrence, answers, now)
			return nil
		})
}

type evidenceMutation func(ctx context.Context, p *models.Participation, now time.Time) error

// recordEvidence applies one evidence update to the participation record,
// creating it on first touch. Only members holding elevated status take part
// in attendance.
func (s *Service) recordEvidence(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, kind string, mutate evidenceMutation) (*models.Participation, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.RecordEvidence", trace.WithAttributes(
		attribute.String("occurrence.id", occurrenceID.String()),
		attribute.String("member.id", memberID.String()),
		attribute.String("evidence.kind", kind),
	))
	defer span.End()

	var p *models.Participation
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.requireParticipant(ctx, memberID); err != nil {
			return err
		}
		var err error
		if p, err = s.load(ctx, occurrenceID, memberID); err != nil {
			return err
		}
		now := requestcontext.Now(ctx)
		if p.Record == nil {
			p.Record = models.NewRecord(occurrenceID, memberID, now)
		}
		if err := mutate(ctx, p, now); err != nil {
			return err
		}
		p.Record.UpdatedAt = now
		if err := s.store.SaveRecord(ctx, p.Record); err != nil {
			return s.translate(err, "failed to save participation record")
		}
		p.Stale = !p.Occurrence.WithinAttendanceWindow(now)
		p.Verdict = models.Resolve(p.Occurrence, p.Record, p.Exemption)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Bool("evidence.stale", p.Stale))
	s.metrics.IncrementEvidence(kind, !p.Stale)
	s.logger.DebugContext(ctx, "attendance evidence recorded",
		"occurrence_id", occurrenceID.String(),
		"member_id", memberID.String(),
		"kind", kind,
		"stale", p.Stale,
		"method", p.Verdict.Method.String(),
	)
	return p, nil
}

// Exemptions

// SubmitExemption files a request before the application deadline. A rejected
// request may be replaced; a pending or approved one may not.
func (s *Service) SubmitExemption(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, reason string) (*models.Participation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return s.exemptionStep(ctx, occurrenceID, memberID, audit.ActionExemptionSubmitted, true,
		func(ctx context.Context, p *models.Participation, now time.Time) error {
			if !p.Occurrence.AcceptsExemptions(now) {
				return dErrors.New(dErrors.CodeInvalidTransition, "exemption deadline has passed")
			}
			if p.Exemption != nil && p.Exemption.Active() {
				return dErrors.New(dErrors.CodeInvalidTransition, "an exemption request is already "+strings.ToLower(p.Exemption.Status.String()))
			}
			p.Exemption = &models.ExemptionRequest{
				OccurrenceID: occurrenceID,
				MemberID:     memberID,
				Status:       models.ExemptionPending,
				Reason:       reason,
				SubmittedAt:  now,
			}
			return s.store.SaveExemption(ctx, p.Exemption)
		})
}

// WithdrawExemption removes a request that has not been reviewed yet.
func (s *Service) WithdrawExemption(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.Participation, error) {
	return s.exemptionStep(ctx, occurrenceID, memberID, audit.ActionExemptionWithdrawn, true,
		func(ctx context.Context, p *models.Participation, now time.Time) error {
			if p.Exemption == nil {
				return dErrors.New(dErrors.CodeNotFound, "no exemption request")
			}
			if p.Exemption.Status != models.ExemptionPending {
				return dErrors.New(dErrors.CodeInvalidTransition, "only pending exemption requests can be withdrawn")
			}
			if err := s.store.DeleteExemption(ctx, occurrenceID, memberID); err != nil {
				return err
			}
			p.Exemption = nil
			return nil
		})
}

// ReviewExemption approves or rejects a pending request.
func (s *Service) ReviewExemption(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, approve bool, notes string) (*models.Participation, error) {
	notes = strings.TrimSpace(notes)
	return s.exemptionStep(ctx, occurrenceID, memberID, audit.ActionExemptionReviewed, false,
		func(ctx context.Context, p *models.Participation, now time.Time) error {
			if p.Exemption == nil {
				return dErrors.New(dErrors.CodeNotFound, "no exemption request")
			}
			if p.Exemption.Status != models.ExemptionPending {
				return dErrors.New(dErrors.CodeInvalidTransition, "exemption request already "+strings.ToLower(p.Exemption.Status.String()))
			}
			p.Exemption.Status = models.ExemptionRejected
			if approve {
				p.Exemption.Status = models.ExemptionApproved
			}
			p.Exemption.ReviewerNotes = notes
			p.Exemption.ReviewedAt = &now
			return s.store.SaveExemption(ctx, p.Exemption)
		})
}

func (s *Service) exemptionStep(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, action audit.Action, participantOnly bool, mutate evidenceMutation) (*models.Participation, error) {
	ctx, span := s.tracer.Start(ctx, "attendance."+string(action), trace.WithAttributes(
		attribute.String("occurrence.id", occurrenceID.String()),
		attribute.String("member.id", memberID.String()),
	))
	defer span.End()

	var p *models.Participation
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if participantOnly {
			if err := s.requireParticipant(ctx, memberID); err != nil {
				return err
			}
		} else if _, err := s.loadMember(ctx, memberID); err != nil {
			return err
		}
		var err error
		if p, err = s.load(ctx, occurrenceID, memberID); err != nil {
			return err
		}
		if err := mutate(ctx, p, requestcontext.Now(ctx)); err != nil {
			return s.translate(err, "failed to save exemption request")
		}
		p.Verdict = models.Resolve(p.Occurrence, p.Record, p.Exemption)

		detail := map[string]string{}
		if p.Exemption != nil {
			detail["status"] = p.Exemption.Status.String()
		}
		return s.emit(ctx, audit.Event{
			Action:       action,
			MemberID:     memberID,
			OccurrenceID: occurrenceID,
			Detail:       detail,
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "exemption request updated",
		"occurrence_id", occurrenceID.String(),
		"member_id", memberID.String(),
		"action", string(action),
	)
	return p, nil
}

// load reads the occurrence, record and exemption for one pair. Missing record
// and exemption are returned as nil.
func (s *Service) load(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.Participation, error) {
	o, err := s.loadOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	p := &models.Participation{Occurrence: o, MemberID: memberID}

	p.Record, err = s.store.FindRecord(ctx, occurrenceID, memberID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load participation record")
	}
	p.Exemption, err = s.store.FindExemption(ctx, occurrenceID, memberID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load exemption request")
	}
	p.Verdict = models.Resolve(p.Occurrence, p.Record, p.Exemption)
	return p, nil
}

func (s *Service) loadOccurrence(ctx context.Context, id domain.OccurrenceID) (*models.Occurrence, error) {
	o, err := s.store.FindOccurrence(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "occurrence not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load occurrence")
	}
	return o, nil
}

func (s *Service) loadMember(ctx context.Context, id domain.MemberID) (*memberModels.Member, error) {
	m, err := s.members.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load member")
	}
	return m, nil
}

func (s *Service) requireParticipant(ctx context.Context, id domain.MemberID) error {
	m, err := s.loadMember(ctx, id)
	if err != nil {
		return err
	}
	if !m.Role.HoldsElevatedStatus() {
		return dErrors.New(dErrors.CodeInvalidTransition, "only elevated members take part in meeting attendance")
	}
	return nil
}

// translate passes domain errors through and maps storage facts.
func (s *Service) translate(err error, msg string) error {
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "occurrence not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.Emit(ctx, event)
}
