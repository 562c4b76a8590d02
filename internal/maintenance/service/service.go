// Package service decides whether elevated members keep their status after
// each meeting occurrence: interviews, explicit final approvals, the derived
// effective approval, and the read-only summaries built on them.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	attendance "keystone/internal/attendance/models"
	"keystone/internal/audit"
	"keystone/internal/maintenance/models"
	memberModels "keystone/internal/member/models"
	"keystone/internal/platform/metrics"
	promotion "keystone/internal/promotion/models"
	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
	"keystone/pkg/platform/sentinel"
	"keystone/pkg/requestcontext"
)

// AttendanceStore is the slice of the attendance store the engine reads and
// writes.
type AttendanceStore interface {
	FindOccurrence(ctx context.Context, id domain.OccurrenceID) (*attendance.Occurrence, error)
	FindRecord(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*attendance.ParticipationRecord, error)
	SaveRecord(ctx context.Context, r *attendance.ParticipationRecord) error
	ListRecords(ctx context.Context, occurrenceID domain.OccurrenceID) ([]*attendance.ParticipationRecord, error)
	FindExemption(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*attendance.ExemptionRequest, error)
	ListExemptions(ctx context.Context, occurrenceID domain.OccurrenceID) ([]*attendance.ExemptionRequest, error)
}

type MemberStore interface {
	FindByID(ctx context.Context, id domain.MemberID) (*memberModels.Member, error)
	FindByIDs(ctx context.Context, ids []domain.MemberID) ([]*memberModels.Member, error)
	ListByRole(ctx context.Context, role domain.Role) ([]*memberModels.Member, error)
	UpdateRole(ctx context.Context, id domain.MemberID, role domain.Role, at time.Time) error
}

// EligibilityEvaluator supplies the promotion view for member summaries.
type EligibilityEvaluator interface {
	Evaluate(ctx context.Context, memberID domain.MemberID) (*promotion.EligibilityState, error)
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	attendance  AttendanceStore
	members     MemberStore
	eligibility EligibilityEvaluator
	tx          TxRunner
	auditor     AuditPublisher
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
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

func New(attendanceStore AttendanceStore, members MemberStore, eligibility EligibilityEvaluator, tx TxRunner, opts ...Option) *Service {
	s := &Service{
		attendance:  attendanceStore,
		members:     members,
		eligibility: eligibility,
		tx:          tx,
		logger:      slog.Default(),
		tracer:      otel.Tracer("keystone/maintenance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// pair is everything known about one member at one occurrence.
type pair struct {
	occurrence *attendance.Occurrence
	member     *memberModels.Member
	record     *attendance.ParticipationRecord
	exemption  *attendance.ExemptionRequest
	verdict    attendance.Verdict
}

// RecordInterview marks the compensating interview done for an overdue member
// who did not officially attend. It grants nothing by itself; it only allows a
// MAINTAINED final approval.
func (s *Service) RecordInterview(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.ParticipantSummary, error) {
	return s.mutate(ctx, occurrenceID, memberID, "interview_recorded", audit.ActionInterviewRecorded, false,
		func(p *pair, now time.Time) (map[string]string, error) {
			if p.verdict.OfficiallyAttended {
				return nil, dErrors.New(dErrors.CodeInvalidTransition, "member officially attended; no interview needed")
			}
			if !p.occurrence.Overdue(now) {
				return nil, dErrors.New(dErrors.CodeInvalidTransition, "attendance deadline has not passed")
			}
			if !p.record.InterviewCompleted {
				p.record.InterviewCompleted = true
				p.record.InterviewCompletedAt = &now
			}
			return nil, nil
		})
}

// RevertInterview is the administrative undo for a mistakenly recorded
// interview.
func (s *Service) RevertInterview(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.ParticipantSummary, error) {
	return s.mutate(ctx, occurrenceID, memberID, "interview_reverted", audit.ActionInterviewReverted, false,
		func(p *pair, now time.Time) (map[string]string, error) {
			if !p.record.InterviewCompleted {
				return nil, dErrors.New(dErrors.CodeInvalidTransition, "no completed interview to revert")
			}
			p.record.InterviewCompleted = false
			p.record.InterviewCompletedAt = nil
			return nil, nil
		})
}

// SetFinalApproval attaches an explicit decision, creating the participation
// record when none exists. MAINTAINED needs official attendance or a completed
// interview; DEMOTED is always allowed. Only another call changes it.
func (s *Service) SetFinalApproval(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, decision attendance.Decision) (*models.ParticipantSummary, error) {
	if _, err := attendance.ParseDecision(decision.String()); err != nil {
		return nil, err
	}
	summary, err := s.mutate(ctx, occurrenceID, memberID, "final_approval_set", audit.ActionFinalApprovalSet, true,
		func(p *pair, now time.Time) (map[string]string, error) {
			if decision == attendance.DecisionMaintained && !p.verdict.OfficiallyAttended && !p.record.InterviewCompleted {
				return nil, dErrors.New(dErrors.CodeInvalidTransition, "MAINTAINED requires official attendance or a completed interview")
			}
			p.record.FinalApproval = decision
			p.record.FinalApprovalAt = &now
			return map[string]string{"decision": decision.String()}, nil
		})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementFinalApproval(decision.String())
	return summary, nil
}

type pairMutation func(p *pair, now time.Time) (map[string]string, error)

// mutate loads one pair in a transaction, applies fn to its record (created on
// demand), saves it and emits the audit event. When missingOccurrenceInvalid
// is set an unknown occurrence is an invalid transition rather than not found.
func (s *Service) mutate(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, name string, action audit.Action, missingOccurrenceInvalid bool, fn pairMutation) (*models.ParticipantSummary, error) {
	ctx, span := s.tracer.Start(ctx, "maintenance."+name, trace.WithAttributes(
		attribute.String("occurrence.id", occurrenceID.String()),
		attribute.String("member.id", memberID.String()),
	))
	defer span.End()

	var summary models.ParticipantSummary
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.loadPair(ctx, occurrenceID, memberID)
		if err != nil {
			if missingOccurrenceInvalid && errors.Is(err, errOccurrenceNotFound) {
				return dErrors.New(dErrors.CodeInvalidTransition, "occurrence does not exist")
			}
			return err
		}
		now := requestcontext.Now(ctx)
		if p.record == nil {
			p.record = attendance.NewRecord(occurrenceID, memberID, now)
		}
		detail, err := fn(p, now)
		if err != nil {
			return err
		}
		p.record.UpdatedAt = now
		if err := s.attendance.SaveRecord(ctx, p.record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save participation record")
		}
		summary = summarize(p, now)
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
	s.logger.InfoContext(ctx, "maintenance decision updated",
		"occurrence_id", occurrenceID.String(),
		"member_id", memberID.String(),
		"step", name,
		"effective_approval", summary.EffectiveApproval.Label(),
	)
	return &summary, nil
}

// EffectiveApproval is the explicit decision if set, else MAINTAINED
// (defaulted) for an attended member, else unresolved.
func (s *Service) EffectiveApproval(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.EffectiveApproval, error) {
	p, err := s.loadPair(ctx, occurrenceID, memberID)
	if err != nil {
		return nil, err
	}
	a := models.Effective(p.verdict, p.record)
	return &a, nil
}

func (s *Service) ParticipantSummary(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.ParticipantSummary, error) {
	p, err := s.loadPair(ctx, occurrenceID, memberID)
	if err != nil {
		return nil, err
	}
	summary := summarize(p, requestcontext.Now(ctx))
	return &summary, nil
}

// OccurrenceSummary recomputes every participant row and the aggregate
// counts. Participants are the current ELEVATED members plus anyone with a
// participation record.
func (s *Service) OccurrenceSummary(ctx context.Context, occurrenceID domain.OccurrenceID) (*models.OccurrenceSummary, error) {
	ctx, span := s.tracer.Start(ctx, "maintenance.OccurrenceSummary", trace.WithAttributes(
		attribute.String("occurrence.id", occurrenceID.String()),
	))
	defer span.End()

	o, err := s.loadOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}

	var (
		records    []*attendance.ParticipationRecord
		exemptions []*attendance.ExemptionRequest
		elevated   []*memberModels.Member
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = s.attendance.ListRecords(gctx, occurrenceID)
		return err
	})
	g.Go(func() error {
		var err error
		exemptions, err = s.attendance.ListExemptions(gctx, occurrenceID)
		return err
	})
	g.Go(func() error {
		var err error
		elevated, err = s.members.ListByRole(gctx, domain.RoleElevated)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load occurrence participants")
	}

	members := make(map[domain.MemberID]*memberModels.Member, len(elevated))
	for _, m := range elevated {
		members[m.ID] = m
	}
	var missing []domain.MemberID
	for _, r := range records {
		if _, ok := members[r.MemberID]; !ok {
			missing = append(missing, r.MemberID)
		}
	}
	if len(missing) > 0 {
		extra, err := s.members.FindByIDs(ctx, missing)
		if err != nil {
			span.RecordError(err)
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load participants")
		}
		for _, m := range extra {
			members[m.ID] = m
		}
	}

	recordsBy := make(map[domain.MemberID]*attendance.ParticipationRecord, len(records))
	for _, r := range records {
		recordsBy[r.MemberID] = r
	}
	exemptionsBy := make(map[domain.MemberID]*attendance.ExemptionRequest, len(exemptions))
	for _, e := range exemptions {
		exemptionsBy[e.MemberID] = e
	}

	now := requestcontext.Now(ctx)
	rows := make([]models.ParticipantSummary, 0, len(members))
	for id, m := range members {
		p := &pair{occurrence: o, member: m, record: recordsBy[id], exemption: exemptionsBy[id]}
		p.verdict = attendance.Resolve(o, p.record, p.exemption)
		s.metrics.IncrementAttendanceVerdict(p.verdict.Method.String())
		rows = append(rows, summarize(p, now))
	}
	summary := models.Fold(o, rows)
	return &summary, nil
}

// MemberSummary combines identity, role and promotion eligibility.
func (s *Service) MemberSummary(ctx context.Context, memberID domain.MemberID) (*models.MemberSummary, error) {
	m, err := s.loadMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	state, err := s.eligibility.Evaluate(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return &models.MemberSummary{
		MemberID:     m.ID,
		MemberNumber: m.MemberNumber,
		Role:         m.Role,
		Eligibility:  *state,
	}, nil
}

// ApplyDemotions returns every ELEVATED participant whose effective approval
// is DEMOTED to REGULAR, in one transaction. Unresolved participants are
// reported and left alone. The summary only selects candidates; each one is
// re-read inside the transaction so a decision committed in between wins.
func (s *Service) ApplyDemotions(ctx context.Context, occurrenceID domain.OccurrenceID) (*models.DemotionReport, error) {
	ctx, span := s.tracer.Start(ctx, "maintenance.ApplyDemotions", trace.WithAttributes(
		attribute.String("occurrence.id", occurrenceID.String()),
	))
	defer span.End()

	summary, err := s.OccurrenceSummary(ctx, occurrenceID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	report := &models.DemotionReport{OccurrenceID: occurrenceID}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		report.Demoted, report.Unresolved = nil, nil
		now := requestcontext.Now(ctx)
		for _, row := range summary.Participants {
			if row.Role != domain.RoleElevated {
				continue
			}
			p, err := s.loadPair(ctx, occurrenceID, row.MemberID)
			if err != nil {
				return err
			}
			if p.member.Role != domain.RoleElevated {
				continue
			}
			approval := models.Effective(p.verdict, p.record)
			if !approval.Resolved() {
				report.Unresolved = append(report.Unresolved, row.MemberID)
				continue
			}
			if approval.Decision != attendance.DecisionDemoted {
				continue
			}
			if err := s.members.UpdateRole(ctx, row.MemberID, domain.RoleRegular, now); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to demote member")
			}
			report.Demoted = append(report.Demoted, row.MemberID)
			if err := s.emit(ctx, audit.Event{
				Action:       audit.ActionMemberDemoted,
				MemberID:     row.MemberID,
				OccurrenceID: occurrenceID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "demotions applied",
		"occurrence_id", occurrenceID.String(),
		"demoted", len(report.Demoted),
		"unresolved", len(report.Unresolved),
	)
	return report, nil
}

var errOccurrenceNotFound = dErrors.New(dErrors.CodeNotFound, "occurrence not found")

func (s *Service) loadPair(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*pair, error) {
	m, err := s.loadMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	o, err := s.loadOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	p := &pair{occurrence: o, member: m}
	p.record, err = s.attendance.FindRecord(ctx, occurrenceID, memberID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load participation record")
	}
	p.exemption, err = s.attendance.FindExemption(ctx, occurrenceID, memberID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load exemption request")
	}
	p.verdict = attendance.Resolve(o, p.record, p.exemption)
	return p, nil
}

func (s *Service) loadOccurrence(ctx context.Context, id domain.OccurrenceID) (*attendance.Occurrence, error) {
	o, err := s.attendance.FindOccurrence(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, errOccurrenceNotFound
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

func summarize(p *pair, now time.Time) models.ParticipantSummary {
	s := models.ParticipantSummary{
		OccurrenceID:       p.occurrence.ID,
		MemberID:           p.member.ID,
		MemberNumber:       p.member.MemberNumber,
		Role:               p.member.Role,
		OfficiallyAttended: p.verdict.OfficiallyAttended,
		Method:             p.verdict.Method,
		Intent:             attendance.IntentUndecided,
		Overdue:            !p.verdict.OfficiallyAttended && p.occurrence.Overdue(now),
		EffectiveApproval:  models.Effective(p.verdict, p.record),
	}
	if p.record != nil {
		s.Intent = p.record.Intent
		s.InterviewCompleted = p.record.InterviewCompleted
	}
	if p.exemption != nil {
		s.ExemptionStatus = p.exemption.Status
	}
	return s
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.Emit(ctx, event)
}
