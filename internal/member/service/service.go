// Package service allocates member numbers and enrolls members.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"keystone/internal/audit"
	"keystone/internal/member/models"
	"keystone/internal/platform/metrics"
	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
	"keystone/pkg/platform/sentinel"
	"keystone/pkg/requestcontext"
)

// Store is the member persistence port.
type Store interface {
	Create(ctx context.Context, m *models.Member) error
	FindByID(ctx context.Context, id domain.MemberID) (*models.Member, error)
	FindByNumber(ctx context.Context, number domain.MemberNumber) (*models.Member, error)
	MaxMemberNumber(ctx context.Context) (string, error)
	AssignNumber(ctx context.Context, id domain.MemberID, number domain.MemberNumber, at time.Time) error
	ListUnnumbered(ctx context.Context) ([]*models.Member, error)
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service owns member numbering. The allocation runner must provide
// SERIALIZABLE isolation: the read of the current maximum and the write of its
// successor are only safe as one serializable unit.
type Service struct {
	store   Store
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

func New(store Store, tx TxRunner, opts ...Option) *Service {
	s := &Service{
		store:  store,
		tx:     tx,
		logger: slog.Default(),
		tracer: otel.Tracer("keystone/member"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allocate assigns the next member number to memberID in one transaction. A
// member that already holds a number gets it back unchanged.
func (s *Service) Allocate(ctx context.Context, memberID domain.MemberID) (domain.MemberNumber, error) {
	ctx, span := s.tracer.Start(ctx, "member.Allocate",
		trace.WithAttributes(attribute.String("member.id", memberID.String())))
	defer span.End()

	var (
		number    domain.MemberNumber
		allocated bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		allocated = false
		m, err := s.store.FindByID(ctx, memberID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "member not found")
			}
			return err
		}
		if m.HasNumber() {
			number = m.MemberNumber
			return nil
		}

		currentMax, err := s.store.MaxMemberNumber(ctx)
		if err != nil {
			return err
		}
		if currentMax != "" && !domain.IsValidMemberNumber(currentMax) {
			s.logger.WarnContext(ctx, "ignoring malformed maximum member number",
				"member_number", currentMax,
			)
		}
		next, err := domain.NextMemberNumber(currentMax)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "member number space exhausted")
		}

		if err := s.store.AssignNumber(ctx, memberID, next, requestcontext.Now(ctx)); err != nil {
			switch {
			case errors.Is(err, sentinel.ErrConflict):
				return dErrors.Wrap(err, dErrors.CodeConflict, fmt.Sprintf("member number %s is already assigned", next))
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				return dErrors.Wrap(err, dErrors.CodeConflict, "member was numbered concurrently")
			}
			return err
		}
		number = next
		allocated = true
		return s.emit(ctx, audit.Event{
			Action:   audit.ActionMemberNumberAllocated,
			MemberID: memberID,
			Detail:   map[string]string{"member_number": next.String()},
		})
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	if allocated {
		s.metrics.IncrementMemberNumbersAllocated()
		s.logger.InfoContext(ctx, "member number allocated",
			"member_id", memberID.String(),
			"member_number", number.String(),
		)
	}
	span.SetAttributes(attribute.String("member.number", number.String()))
	return number, nil
}

// AllocateMissing numbers every unnumbered member in enrollment order, one
// transaction per member. It stops at the first failure and returns the
// allocations made before it.
func (s *Service) AllocateMissing(ctx context.Context) ([]models.Allocation, error) {
	pending, err := s.store.ListUnnumbered(ctx)
	if err != nil {
		return nil, err
	}

	allocations := make([]models.Allocation, 0, len(pending))
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return allocations, dErrors.Wrap(err, dErrors.CodeTimeout, "backfill interrupted")
		}
		number, err := s.Allocate(ctx, m.ID)
		if err != nil {
			return allocations, fmt.Errorf("allocate for member %s: %w", m.ID, err)
		}
		allocations = append(allocations, models.Allocation{MemberID: m.ID, MemberNumber: number})
	}
	return allocations, nil
}

// Enroll records a completed enrollment as a REGULAR member and allocates its
// number. Repeating an enrollment for an existing ID only re-runs the
// idempotent allocation.
func (s *Service) Enroll(ctx context.Context, in models.Enrollment) (*models.Member, error) {
	now := requestcontext.Now(ctx)
	m := &models.Member{
		ID:          in.MemberID,
		DisplayName: in.DisplayName,
		Role:        domain.RoleRegular,
		EnrolledAt:  in.EnrolledAt,
		UpdatedAt:   now,
	}
	if m.ID.IsNil() {
		m.ID = domain.NewMemberID()
	}
	if m.EnrolledAt.IsZero() {
		m.EnrolledAt = now
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, m); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return nil
			}
			return err
		}
		return s.emit(ctx, audit.Event{Action: audit.ActionMemberEnrolled, MemberID: m.ID})
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.Allocate(ctx, m.ID); err != nil {
		// The member stays enrolled without a number; the backfill picks it up.
		s.logger.ErrorContext(ctx, "member number allocation failed after enrollment",
			"member_id", m.ID.String(),
			"error", err,
		)
		return nil, err
	}
	return s.Get(ctx, m.ID)
}

func (s *Service) Get(ctx context.Context, id domain.MemberID) (*models.Member, error) {
	m, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
		}
		return nil, err
	}
	return m, nil
}

func (s *Service) GetByNumber(ctx context.Context, number domain.MemberNumber) (*models.Member, error) {
	m, err := s.store.FindByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
		}
		return nil, err
	}
	return m, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.Emit(ctx, event)
}
