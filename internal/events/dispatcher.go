package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	attendance "keystone/internal/attendance/models"
	member "keystone/internal/member/models"
	"keystone/internal/platform/kafka/consumer"
	"keystone/internal/platform/metrics"
	promotion "keystone/internal/promotion/models"
	"keystone/pkg/domain"
	dErrors "keystone/pkg/domain-errors"
	"keystone/pkg/requestcontext"
)

type MemberService interface {
	Enroll(ctx context.Context, in member.Enrollment) (*member.Member, error)
}

type PromotionService interface {
	RecordMeetingCompleted(ctx context.Context, memberID domain.MemberID) (*promotion.EligibilityState, error)
	RecordAssessmentScore(ctx context.Context, memberID domain.MemberID, score int) (*promotion.EligibilityState, error)
	RecordSurveySubmitted(ctx context.Context, memberID domain.MemberID, answers json.RawMessage) (*promotion.EligibilityState, error)
	RecordContactInfoSaved(ctx context.Context, memberID domain.MemberID) (*promotion.EligibilityState, error)
	RecordComplianceScore(ctx context.Context, memberID domain.MemberID, score int) (*promotion.EligibilityState, error)
	RecordOnboardingProgress(ctx context.Context, memberID domain.MemberID, percent int) (*promotion.EligibilityState, error)
}

type AttendanceService interface {
	DeclareIntent(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, intent attendance.Intent) (*attendance.Participation, error)
	SubmitCode(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, code string) (*attendance.Participation, error)
	RecordVideoProgress(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, percent int) (*attendance.Participation, error)
	SubmitSurvey(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, answers json.RawMessage) (*attendance.Participation, error)
	SubmitExemption(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID, reason string) (*attendance.Participation, error)
	WithdrawExemption(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*attendance.Participation, error)
}

// Dispatcher implements consumer.Handler for the evidence topic.
type Dispatcher struct {
	members    MemberService
	promotion  PromotionService
	attendance AttendanceService
	dedupe     Deduper
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

var _ consumer.Handler = (*Dispatcher)(nil)

type Option func(*Dispatcher)

// WithDeduper enables redelivery suppression.
func WithDeduper(d Deduper) Option {
	return func(x *Dispatcher) { x.dedupe = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(x *Dispatcher) { x.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(x *Dispatcher) { x.metrics = m }
}

func NewDispatcher(members MemberService, promotion PromotionService, attendance AttendanceService, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		members:    members,
		promotion:  promotion,
		attendance: attendance,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// maxBackdate is how far occurred_at may trail the broker timestamp before
// the broker timestamp is used instead.
const maxBackdate = 5 * time.Minute

// Outcomes reported on the events-consumed counter.
const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

// Handle applies one envelope. Envelopes that can never succeed are logged and
// acknowledged; transient failures release the dedupe claim and are returned
// so the consumer retries.
func (d *Dispatcher) Handle(ctx context.Context, msg *consumer.Message) error {
	env, err := Decode(msg.Value)
	if err != nil {
		d.logger.WarnContext(ctx, "discarding undecodable envelope",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		d.metrics.IncrementEventConsumed("unknown", outcomeRejected)
		return nil
	}
	ctx = requestcontext.WithRequestID(ctx, env.ID)
	if env.OccurredAt != nil {
		ctx = requestcontext.WithTime(ctx, d.evaluationTime(ctx, env, msg))
	}

	if d.dedupe != nil {
		fresh, err := d.dedupe.Claim(ctx, env.ID)
		if err != nil {
			return err
		}
		if !fresh {
			d.logger.InfoContext(ctx, "skipping redelivered envelope", "envelope_id", env.ID, "type", string(env.Type))
			d.metrics.IncrementEventConsumed(string(env.Type), outcomeDuplicate)
			return nil
		}
	}

	err = d.apply(ctx, env)
	switch {
	case err == nil:
		d.metrics.IncrementEventConsumed(string(env.Type), outcomeApplied)
		return nil
	case permanent(err):
		d.logger.WarnContext(ctx, "evidence envelope rejected",
			"envelope_id", env.ID,
			"type", string(env.Type),
			"member_id", env.MemberID,
			"error", err,
		)
		d.metrics.IncrementEventConsumed(string(env.Type), outcomeRejected)
		return nil
	default:
		d.metrics.IncrementEventConsumed(string(env.Type), outcomeFailed)
		if d.dedupe != nil {
			if rerr := d.dedupe.Release(ctx, env.ID); rerr != nil {
				d.logger.ErrorContext(ctx, "failed to release envelope claim", "envelope_id", env.ID, "error", rerr)
			}
		}
		return err
	}
}

// evaluationTime is occurred_at, never later than the consume time and never
// earlier than the broker timestamp by more than maxBackdate.
func (d *Dispatcher) evaluationTime(ctx context.Context, env *Envelope, msg *consumer.Message) time.Time {
	at := env.OccurredAt.UTC()
	if consumed := requestcontext.Now(ctx); at.After(consumed) {
		at = consumed
	}
	if msg.Timestamp.IsZero() {
		return at
	}
	published := msg.Timestamp.UTC()
	if published.Sub(at) > maxBackdate {
		d.logger.WarnContext(ctx, "occurred_at trails broker timestamp, using broker timestamp",
			"envelope_id", env.ID,
			"type", string(env.Type),
			"occurred_at", at,
			"broker_timestamp", published,
		)
		return published
	}
	return at
}

func (d *Dispatcher) apply(ctx context.Context, env *Envelope) error {
	id, occ := env.memberID, env.occurrenceID
	switch env.Type {
	case TypeEnrollmentCompleted:
		p, err := decodePayload[enrollmentPayload](env)
		if err != nil {
			return err
		}
		_, err = d.members.Enroll(ctx, member.Enrollment{MemberID: id, DisplayName: p.DisplayName, EnrolledAt: p.EnrolledAt})
		return err

	case TypeMeetingCompleted:
		_, err := d.promotion.RecordMeetingCompleted(ctx, id)
		return err
	case TypeAssessmentScored:
		score, err := requiredInt[scorePayload](env, func(p scorePayload) *int { return p.Score }, "score")
		if err != nil {
			return err
		}
		_, err = d.promotion.RecordAssessmentScore(ctx, id, score)
		return err
	case TypePromotionSurvey:
		p, err := decodePayload[surveyPayload](env)
		if err != nil {
			return err
		}
		_, err = d.promotion.RecordSurveySubmitted(ctx, id, p.Answers)
		return err
	case TypeContactSaved:
		_, err := d.promotion.RecordContactInfoSaved(ctx, id)
		return err
	case TypeComplianceScored:
		score, err := requiredInt[scorePayload](env, func(p scorePayload) *int { return p.Score }, "score")
		if err != nil {
			return err
		}
		_, err = d.promotion.RecordComplianceScore(ctx, id, score)
		return err
	case TypeOnboardingProgress:
		percent, err := requiredInt[percentPayload](env, func(p percentPayload) *int { return p.Percent }, "percent")
		if err != nil {
			return err
		}
		_, err = d.promotion.RecordOnboardingProgress(ctx, id, percent)
		return err

	case TypeIntentDeclared:
		p, err := decodePayload[intentPayload](env)
		if err != nil {
			return err
		}
		intent, err := attendance.ParseIntent(strings.ToUpper(strings.TrimSpace(p.Intent)))
		if err != nil {
			return err
		}
		_, err = d.attendance.DeclareIntent(ctx, occ, id, intent)
		return err
	case TypeCodeSubmitted:
		p, err := decodePayload[codePayload](env)
		if err != nil {
			return err
		}
		_, err = d.attendance.SubmitCode(ctx, occ, id, p.Code)
		return err
	case TypeVideoProgress:
		percent, err := requiredInt[percentPayload](env, func(p percentPayload) *int { return p.Percent }, "percent")
		if err != nil {
			return err
		}
		_, err = d.attendance.RecordVideoProgress(ctx, occ, id, percent)
		return err
	case TypeAttendanceSurvey:
		p, err := decodePayload[surveyPayload](env)
		if err != nil {
			return err
		}
		_, err = d.attendance.SubmitSurvey(ctx, occ, id, p.Answers)
		return err
	case TypeExemptionSubmitted:
		p, err := decodePayload[reasonPayload](env)
		if err != nil {
			return err
		}
		_, err = d.attendance.SubmitExemption(ctx, occ, id, p.Reason)
		return err
	case TypeExemptionWithdrawn:
		_, err := d.attendance.WithdrawExemption(ctx, occ, id)
		return err
	}
	return dErrors.New(dErrors.CodeBadRequest, "unknown envelope type")
}

func requiredInt[T any](env *Envelope, field func(T) *int, name string) (int, error) {
	p, err := decodePayload[T](env)
	if err != nil {
		return 0, err
	}
	v := field(p)
	if v == nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, name+" is required")
	}
	return *v, nil
}

// permanent reports whether redelivering the envelope could never change the
// outcome.
func permanent(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeTimeout:
		return false
	default:
		return true
	}
}
