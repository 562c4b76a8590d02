package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"keystone/internal/promotion/models"
	"keystone/pkg/domain"
	"keystone/pkg/platform/sentinel"
	txcontext "keystone/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const applicationColumns = `
	member_id, meeting_completed, assessment_completed, assessment_score,
	survey_completed, survey_answers, applied_at, screening_approved_at,
	contact_info_saved, compliance_score, onboarding_progress, rejected_at,
	review_notes, promoted_at, created_at, updated_at`

// FindByMemberID loads the application, locking the row when called inside a
// transaction.
func (s *PostgresStore) FindByMemberID(ctx context.Context, memberID domain.MemberID) (*models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM promotion_applications WHERE member_id = $1`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	row := txcontext.Use(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(memberID))
	return scanApplication(row)
}

func (s *PostgresStore) Save(ctx context.Context, app *models.Application) error {
	query := `
		INSERT INTO promotion_applications (` + applicationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (member_id) DO UPDATE SET
			meeting_completed = EXCLUDED.meeting_completed,
			assessment_completed = EXCLUDED.assessment_completed,
			assessment_score = EXCLUDED.assessment_score,
			survey_completed = EXCLUDED.survey_completed,
			survey_answers = EXCLUDED.survey_answers,
			applied_at = EXCLUDED.applied_at,
			screening_approved_at = EXCLUDED.screening_approved_at,
			contact_info_saved = EXCLUDED.contact_info_saved,
			compliance_score = EXCLUDED.compliance_score,
			onboarding_progress = EXCLUDED.onboarding_progress,
			rejected_at = EXCLUDED.rejected_at,
			review_notes = EXCLUDED.review_notes,
			promoted_at = EXCLUDED.promoted_at,
			updated_at = EXCLUDED.updated_at
	`
	var answers any
	if len(app.SurveyAnswers) > 0 {
		answers = []byte(app.SurveyAnswers)
	}
	_, err := txcontext.Use(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(app.MemberID),
		app.MeetingCompleted,
		app.AssessmentCompleted,
		nullInt(app.AssessmentScore),
		app.SurveyCompleted,
		answers,
		nullTime(app.AppliedAt),
		nullTime(app.ScreeningApprovedAt),
		app.ContactInfoSaved,
		nullInt(app.ComplianceScore),
		app.OnboardingProgress,
		nullTime(app.RejectedAt),
		app.ReviewNotes,
		nullTime(app.PromotedAt),
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save promotion application: %w", err)
	}
	return nil
}

// ListSubmitted returns the operator queue: submitted, not yet promoted,
// oldest first.
func (s *PostgresStore) ListSubmitted(ctx context.Context) ([]*models.Application, error) {
	query := `SELECT ` + applicationColumns + `
		FROM promotion_applications
		WHERE applied_at IS NOT NULL AND promoted_at IS NULL
		ORDER BY applied_at`
	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list submitted applications: %w", err)
	}
	defer rows.Close()

	var out []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApplication(row scanner) (*models.Application, error) {
	var (
		app             models.Application
		memberID        uuid.UUID
		assessmentScore sql.NullInt64
		complianceScore sql.NullInt64
		answers         []byte
		appliedAt       sql.NullTime
		screenedAt      sql.NullTime
		rejectedAt      sql.NullTime
		promotedAt      sql.NullTime
	)
	err := row.Scan(
		&memberID,
		&app.MeetingCompleted,
		&app.AssessmentCompleted,
		&assessmentScore,
		&app.SurveyCompleted,
		&answers,
		&appliedAt,
		&screenedAt,
		&app.ContactInfoSaved,
		&complianceScore,
		&app.OnboardingProgress,
		&rejectedAt,
		&app.ReviewNotes,
		&promotedAt,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan promotion application: %w", err)
	}
	app.MemberID = domain.MemberID(memberID)
	app.AssessmentScore = intPtr(assessmentScore)
	app.ComplianceScore = intPtr(complianceScore)
	if len(answers) > 0 {
		app.SurveyAnswers = json.RawMessage(answers)
	}
	app.AppliedAt = timePtr(appliedAt)
	app.ScreeningApprovedAt = timePtr(screenedAt)
	app.RejectedAt = timePtr(rejectedAt)
	app.PromotedAt = timePtr(promotedAt)
	return &app, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
