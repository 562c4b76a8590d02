// Package service evaluates promotion eligibility and drives the promotion
// application through submission, screening, onboarding and approval.
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

	"keystone/internal/audit"
	memberModels "keystone/internal/member/models"
	"keystone/internal/platform/metrics"
	"keystone/internal/promotion/models"
	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
	"keystone/pkg/platform/sentinel"
	"keystone/pkg/requestcontext"
)

type Store interface {
	FindByMemberID(ctx context.Context, memberID domain.MemberID) (*models.Application, error)
	Save(ctx context.Context, app *models.Application) error
	ListSubmitted(ctx context.Context) ([]*models.Application, error)
}

// MemberStore is the slice of the member store promotion needs.
type MemberStore interface {
	FindByID(ctx context.Context, id domain.MemberID) (*memberModels.Member, error)
	UpdateRole(ctx context.Context, id domain.MemberID, role domain.Role, at time.Time) error
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	apps    Store
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

func New(apps Store, members MemberStore, tx TxRunner, opts ...Option) *Service {
	s := &Service{
		apps:    apps,
		members: members,
		tx:      tx,
		logger:  slog.Default(),
		tracer:  otel.Tracer("keystone/promotion"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate returns the member's current eligibility. It never writes.
func (s *Service) Evaluate(ctx context.Context, memberID domain.MemberID) (*models.EligibilityState, error) {
	member, err := s.loadMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	app, err := s.findApplication(ctx, memberID)
	if err != nil {
		return nil, err
	}
	state := models.Evaluate(memberID, member.Role, app)
	return &state, nil
}

// ListQueue returns the eligibility of every submitted, unpromoted application,
// oldest submission first.
func (s *Service) ListQueue(ctx context.Context) ([]models.EligibilityState, error) {
	apps, err := s.apps.ListSubmitted(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.EligibilityState, 0, len(apps))
	for _, app := range apps {
		member, err := s.loadMember(ctx, app.MemberID)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Evaluate(app.MemberID, member.Role, app))
	}
	return out, nil
}

// Evidence

func (s *Service) RecordMeetingCompleted(ctx context.Context, memberID domain.MemberID) (*models.EligibilityState, error) {
	return s.recordEvidence(ctx, memberID, "meeting", func(app *models.Application) (bool, error) {
		app.MeetingCompleted = true
		return true, nil
	})
}

func (s *Service) RecordAssessmentScore(ctx context.Context, memberID domain.MemberID, score int) (*models.EligibilityState, error) {
	if err := validatePercent("score", score); err != nil {
		return nil, err
	}
	return s.recordEvidence(ctx, memberID, "assessment", func(app *models.Application) (bool, error) {
		return app.RecordAssessmentScore(score), nil
	})
}

func (s *Service) RecordSurveySubmitted(ctx context.Context, memberID domain.MemberID, answers json.RawMessage) (*models.EligibilityState, error) {
	if err := domain.ValidateSurveyAnswers(answers); err != nil {
		return nil, err
	}
	return s.recordEvidence(ctx, memberID, "survey", func(app *models.Application) (bool, error) {
		app.SurveyCompleted = true
		app.SurveyAnswers = answers
		return true, nil
	})
}

func (s *Service) RecordContactInfoSaved(ctx context.Context, memberID domain.MemberID) (*models.EligibilityState, error) {
	return s.recordEvidence(ctx, memberID, "contact_info", func(app *models.Application) (bool, error) {
		app.ContactInfoSaved = true
		return true, nil
	})
}

func (s *Service) RecordComplianceScore(ctx context.Context, memberID domain.MemberID, score int) (*models.EligibilityState, error) {
	if err := validatePercent("score", score); err != nil {
		return nil, err
	}
	return s.recordEvidence(ctx, memberID, "compliance", func(app *models.Application) (bool, error) {
		return app.RecordComplianceScore(score), nil
	})
}

func (s *Service) RecordOnboardingProgress(ctx context.Context, memberID domain.MemberID, percent int) (*models.EligibilityState, error) {
	if err := validatePercent("percent", percent); err != nil {
		return nil, err
	}
	return s.recordEvidence(ctx, memberID, "onboarding_video", func(app *models.Application) (bool, error) {
		return app.RecordOnboardingProgress(percent), nil
	})
}

// recordEvidence applies one evidence mutation, creating the application on
// first evidence. It never sets AppliedAt.
func (s *Service) recordEvidence(ctx context.Context, memberID domain.MemberID, kind string, apply func(*models.Application) (bool, error)) (*models.EligibilityState, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.RecordEvidence", trace.WithAttributes(
		attribute.String("member.id", memberID.String()),
		attribute.String("evidence.kind", kind),
	))
	defer span.End()

	var (
		state      models.EligibilityState
		qualifying bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		member, err := s.loadMember(ctx, memberID)
		if err != nil {
			return err
		}
		now := requestcontext.Now(ctx)
		app, err := s.findApplication(ctx, memberID)
		if err != nil {
			return err
		}
		if app == nil {
			app = models.NewApplication(memberID, now)
		}
		if qualifying, err = apply(app); err != nil {
			return err
		}
		app.UpdatedAt = now
		if err := s.apps.Save(ctx, app); err != nil {
			return err
		}
		state = models.Evaluate(memberID, member.Role, app)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.metrics.IncrementEvidence(kind, qualifying)
	s.logger.DebugContext(ctx, "promotion evidence recorded",
		"member_id", memberID.String(),
		"kind", kind,
		"qualifying", qualifying,
		"phase", state.Phase.String(),
	)
	return &state, nil
}

// Transitions

// Submit formally applies for promotion. All three pre-submission items must be
// complete and the member must still be REGULAR.
func (s *Service) Submit(ctx context.Context, memberID domain.MemberID) (*models.EligibilityState, error) {
	return s.transition(ctx, memberID, "submitted", audit.ActionApplicationSubmitted, nil,
		func(ctx context.Context, member *memberModels.Member, app *models.Application, now time.Time) error {
			if member.Role != domain.RoleRegular {
				return dErrors.NewWithReason(dErrors.CodeInvalidTransition, models.ReasonNotRegular, "only REGULAR members may apply for promotion")
			}
			if app.Submitted() {
				return dErrors.NewWithReason(dErrors.CodeInvalidTransition, models.ReasonAlreadySubmitted, "application already submitted")
			}
			if missing := app.MissingChecklist(); len(missing) > 0 {
				return dErrors.NewWithReason(dErrors.CodeInvalidTransition, models.ReasonIncompleteChecklist, "incomplete checklist: missing "+strings.Join(missing, ", "))
			}
			app.AppliedAt = &now
			app.RejectedAt = nil
			app.ReviewNotes = ""
			return nil
		})
}

// ApproveScreening moves a submitted application into onboarding.
func (s *Service) ApproveScreening(ctx context.Context, memberID domain.MemberID) (*models.EligibilityState, error) {
	return s.transition(ctx, memberID, "screening_approved", audit.ActionScreeningApproved, nil,
		func(ctx context.Context, member *memberModels.Member, app *models.Application, now time.Time) error {
			if phase := models.PhaseOf(member.Role, app); phase != models.PhaseUnderReview {
				return dErrors.NewWithReason(dErrors.CodeInvalidTransition, models.ReasonWrongPhase, "screening requires a submitted application under review, phase is "+phase.String())
			}
			app.ScreeningApprovedAt = &now
			return nil
		})
}

// ApprovePromotion grants ELEVATED once onboarding is complete.
func (s *Service) ApprovePromotion(ctx context.Context, memberID domain.MemberID) (*models.EligibilityState, error) {
	return s.transition(ctx, memberID, "promoted", audit.ActionMemberPromoted, nil,
		func(ctx context.Context, member *memberModels.Member, app *models.Application, now time.Time) error {
			switch phase := models.PhaseOf(member.Role, app); phase {
			case models.PhaseReadyForPromotion:
			case models.PhaseOnboarding:
				return dErrors.NewWithReason(dErrors.CodeInvalidTransition, models.ReasonIncompleteOnboarding, "incomplete onboarding: missing "+strings.Join(app.MissingOnboarding(), ", "))
			default:
				return dErrors.NewWithReason(dErrors.CodeInvalidTransition, models.ReasonWrongPhase, "promotion requires completed onboarding, phase is "+phase.String())
			}
			if err := s.members.UpdateRole(ctx, member.ID, domain.RoleElevated, now); err != nil {
				return err
			}
			member.Role = domain.RoleElevated
			app.PromotedAt = &now
			return nil
		})
}

// Reject returns the member to the checklist. Evidence is preserved; only the
// submission and screening approval are cleared.
func (s *Service) Reject(ctx context.Context, memberID domain.MemberID, notes string) (*models.EligibilityState, error) {
	notes = strings.TrimSpace(notes)
	return s.transition(ctx, memberID, "rejected", audit.ActionApplicationRejected, map[string]string{"notes": notes},
		func(ctx context.Context, member *memberModels.Member, app *models.Application, now time.Time) error {
			if phase := models.PhaseOf(member.Role, app); !phase.Reviewable() {
				return dErrors.NewWithReason(dErrors.CodeInvalidTransition, models.ReasonWrongPhase, "nothing to reject, phase is "+phase.String())
			}
			app.AppliedAt = nil
			app.ScreeningApprovedAt = nil
			app.RejectedAt = &now
			app.ReviewNotes = notes
			return nil
		})
}

type mutation func(ctx context.Context, member *memberModels.Member, app *models.Application, now time.Time) error

// transition runs one validate-then-mutate step in a transaction and emits its
// audit event. A failed precondition leaves nothing written.
func (s *Service) transition(ctx context.Context, memberID domain.MemberID, name string, action audit.Action, detail map[string]string, mutate mutation) (*models.EligibilityState, error) {
	ctx, span := s.tracer.Start(ctx, "promotion."+name, trace.WithAttributes(
		attribute.String("member.id", memberID.String()),
	))
	defer span.End()

	var state models.EligibilityState
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		member, err := s.loadMember(ctx, memberID)
		if err != nil {
			return err
		}
		app, err := s.findApplication(ctx, memberID)
		if err != nil {
			return err
		}
		now := requestcontext.Now(ctx)
		if app == nil {
			if member.Role.HoldsElevatedStatus() {
				return dErrors.New(dErrors.CodeInvalidTransition, "member already holds elevated status")
			}
			app = models.NewApplication(memberID, now)
		}
		if err := mutate(ctx, member, app, now); err != nil {
			return err
		}
		app.UpdatedAt = now
		if err := s.apps.Save(ctx, app); err != nil {
			return err
		}
		state = models.Evaluate(memberID, member.Role, app)
		return s.emit(ctx, audit.Event{Action: action, MemberID: memberID, Detail: detail})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.IncrementPromotionTransition(name)
	s.logger.InfoContext(ctx, "promotion transition",
		"member_id", memberID.String(),
		"transition", name,
		"phase", state.Phase.String(),
	)
	return &state, nil
}

func (s *Service) loadMember(ctx context.Context, memberID domain.MemberID) (*memberModels.Member, error) {
	member, err := s.members.FindByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
		}
		return nil, err
	}
	return member, nil
}

// findApplication returns nil without error when the member has none yet.
func (s *Service) findApplication(ctx context.Context, memberID domain.MemberID) (*models.Application, error) {
	app, err := s.apps.FindByMemberID(ctx, memberID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	return app, err
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.Emit(ctx, event)
}

func validatePercent(field string, v int) error {
	if v < 0 || v > 100 {
		return dErrors.New(dErrors.CodeValidation, field+" must be between 0 and 100")
	}
	return nil
}
