package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"keystone/internal/attendance/models"
	"keystone/internal/platform/postgres"
	"keystone/pkg/domain"
	"keystone/pkg/platform/sentinel"
	txcontext "keystone/pkg/platform/tx"
)

// PostgresStore persists occurrences, participation records and exemption
// requests. Reads inside a transaction lock the row they return.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

const occurrenceColumns = `
	id, title, held_on, attendance_code, recording_url, survey_ref,
	application_deadline, attendance_deadline, created_at`

func (s *PostgresStore) CreateOccurrence(ctx context.Context, o *models.Occurrence) error {
	query := `INSERT INTO meeting_occurrences (` + occurrenceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := txcontext.Use(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(o.ID),
		o.Title,
		o.HeldOn,
		nullString(o.AttendanceCode),
		nullString(o.RecordingURL),
		nullString(o.SurveyRef),
		nullTime(o.ApplicationDeadline),
		nullTime(o.AttendanceDeadline),
		o.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("create occurrence: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create occurrence: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindOccurrence(ctx context.Context, id domain.OccurrenceID) (*models.Occurrence, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM meeting_occurrences WHERE id = $1`
	return scanOccurrence(txcontext.Use(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(id)))
}

func (s *PostgresStore) ListOccurrences(ctx context.Context) ([]*models.Occurrence, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM meeting_occurrences ORDER BY held_on DESC, id`
	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	defer rows.Close()

	var out []*models.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate occurrences: %w", err)
	}
	return out, nil
}

func scanOccurrence(row scanner) (*models.Occurrence, error) {
	var (
		o                       models.Occurrence
		id                      uuid.UUID
		code, recording, survey sql.NullString
		applicationBy, attendBy sql.NullTime
	)
	err := row.Scan(&id, &o.Title, &o.HeldOn, &code, &recording, &survey, &applicationBy, &attendBy, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan occurrence: %w", err)
	}
	o.ID = domain.OccurrenceID(id)
	o.AttendanceCode = code.String
	o.RecordingURL = recording.String
	o.SurveyRef = survey.String
	o.ApplicationDeadline = timePtr(applicationBy)
	o.AttendanceDeadline = timePtr(attendBy)
	return &o, nil
}

const recordColumns = `
	occurrence_id, member_id, intent, intent_at, attendance_method,
	attendance_completed_at, code_entered_at, video_progress, video_watched,
	video_watched_at, survey_completed_at, survey_answers, interview_completed,
	interview_completed_at, final_approval, final_approval_at, created_at, updated_at`

func (s *PostgresStore) FindRecord(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.ParticipationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM participation_records WHERE occurrence_id = $1 AND member_id = $2`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	row := txcontext.Use(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(occurrenceID), uuid.UUID(memberID))
	return scanRecord(row)
}

func (s *PostgresStore) SaveRecord(ctx context.Context, r *models.ParticipationRecord) error {
	query := `
		INSERT INTO participation_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (occurrence_id, member_id) DO UPDATE SET
			intent = EXCLUDED.intent,
			intent_at = EXCLUDED.intent_at,
			attendance_method = EXCLUDED.attendance_method,
			attendance_completed_at = EXCLUDED.attendance_completed_at,
			code_entered_at = EXCLUDED.code_entered_at,
			video_progress = EXCLUDED.video_progress,
			video_watched = EXCLUDED.video_watched,
			video_watched_at = EXCLUDED.video_watched_at,
			survey_completed_at = EXCLUDED.survey_completed_at,
			survey_answers = EXCLUDED.survey_answers,
			interview_completed = EXCLUDED.interview_completed,
			interview_completed_at = EXCLUDED.interview_completed_at,
			final_approval = EXCLUDED.final_approval,
			final_approval_at = EXCLUDED.final_approval_at,
			updated_at = EXCLUDED.updated_at
	`
	var answers any
	if len(r.SurveyAnswers) > 0 {
		answers = []byte(r.SurveyAnswers)
	}
	_, err := txcontext.Use(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(r.OccurrenceID),
		uuid.UUID(r.MemberID),
		r.Intent.String(),
		nullTime(r.IntentAt),
		r.Method.String(),
		nullTime(r.AttendanceCompletedAt),
		nullTime(r.CodeEnteredAt),
		r.VideoProgress,
		r.VideoWatched,
		nullTime(r.VideoWatchedAt),
		nullTime(r.SurveyCompletedAt),
		answers,
		r.InterviewCompleted,
		nullTime(r.InterviewCompletedAt),
		nullString(r.FinalApproval.String()),
		nullTime(r.FinalApprovalAt),
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return fmt.Errorf("save participation record: %w", sentinel.ErrNotFound)
		}
		return fmt.Errorf("save participation record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, occurrenceID domain.OccurrenceID) ([]*models.ParticipationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM participation_records WHERE occurrence_id = $1 ORDER BY member_id`
	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, query, uuid.UUID(occurrenceID))
	if err != nil {
		return nil, fmt.Errorf("list participation records: %w", err)
	}
	defer rows.Close()

	var out []*models.ParticipationRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participation records: %w", err)
	}
	return out, nil
}

func scanRecord(row scanner) (*models.ParticipationRecord, error) {
	var (
		r                     models.ParticipationRecord
		occurrenceID          uuid.UUID
		memberID              uuid.UUID
		intent, method        string
		finalApproval         sql.NullString
		answers               []byte
		intentAt, completedAt sql.NullTime
		codeAt, watchedAt     sql.NullTime
		surveyAt, interviewAt sql.NullTime
		approvalAt            sql.NullTime
	)
	err := row.Scan(
		&occurrenceID,
		&memberID,
		&intent,
		&intentAt,
		&method,
		&completedAt,
		&codeAt,
		&r.VideoProgress,
		&r.VideoWatched,
		&watchedAt,
		&surveyAt,
		&answers,
		&r.InterviewCompleted,
		&interviewAt,
		&finalApproval,
		&approvalAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan participation record: %w", err)
	}
	if r.Intent, err = models.ParseIntent(intent); err != nil {
		return nil, fmt.Errorf("scan participation record: %w", err)
	}
	if r.Method, err = models.ParseMethod(method); err != nil {
		return nil, fmt.Errorf("scan participation record: %w", err)
	}
	if finalApproval.Valid {
		if r.FinalApproval, err = models.ParseDecision(finalApproval.String); err != nil {
			return nil, fmt.Errorf("scan participation record: %w", err)
		}
	}
	r.OccurrenceID = domain.OccurrenceID(occurrenceID)
	r.MemberID = domain.MemberID(memberID)
	if len(answers) > 0 {
		r.SurveyAnswers = json.RawMessage(answers)
	}
	r.IntentAt = timePtr(intentAt)
	r.AttendanceCompletedAt = timePtr(completedAt)
	r.CodeEnteredAt = timePtr(codeAt)
	r.VideoWatchedAt = timePtr(watchedAt)
	r.SurveyCompletedAt = timePtr(surveyAt)
	r.InterviewCompletedAt = timePtr(interviewAt)
	r.FinalApprovalAt = timePtr(approvalAt)
	return &r, nil
}

const exemptionColumns = `occurrence_id, member_id, status, reason, reviewer_notes, submitted_at, reviewed_at`

func (s *PostgresStore) FindExemption(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) (*models.ExemptionRequest, error) {
	query := `SELECT ` + exemptionColumns + ` FROM exemption_requests WHERE occurrence_id = $1 AND member_id = $2`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	row := txcontext.Use(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(occurrenceID), uuid.UUID(memberID))
	return scanExemption(row)
}

// SaveExemption upserts the single request row for the pair. A new submission
// after a rejection replaces the old row.
func (s *PostgresStore) SaveExemption(ctx context.Context, e *models.ExemptionRequest) error {
	query := `
		INSERT INTO exemption_requests (` + exemptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (occurrence_id, member_id) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			reviewer_notes = EXCLUDED.reviewer_notes,
			submitted_at = EXCLUDED.submitted_at,
			reviewed_at = EXCLUDED.reviewed_at
	`
	_, err := txcontext.Use(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(e.OccurrenceID),
		uuid.UUID(e.MemberID),
		e.Status.String(),
		e.Reason,
		e.ReviewerNotes,
		e.SubmittedAt,
		nullTime(e.ReviewedAt),
	)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return fmt.Errorf("save exemption request: %w", sentinel.ErrNotFound)
		}
		return fmt.Errorf("save exemption request: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExemption(ctx context.Context, occurrenceID domain.OccurrenceID, memberID domain.MemberID) error {
	query := `DELETE FROM exemption_requests WHERE occurrence_id = $1 AND member_id = $2`
	res, err := txcontext.Use(ctx, s.db).ExecContext(ctx, query, uuid.UUID(occurrenceID), uuid.UUID(memberID))
	if err != nil {
		return fmt.Errorf("delete exemption request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete exemption request: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListExemptions(ctx context.Context, occurrenceID domain.OccurrenceID) ([]*models.ExemptionRequest, error) {
	query := `SELECT ` + exemptionColumns + ` FROM exemption_requests WHERE occurrence_id = $1 ORDER BY submitted_at`
	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, query, uuid.UUID(occurrenceID))
	if err != nil {
		return nil, fmt.Errorf("list exemption requests: %w", err)
	}
	defer rows.Close()

	var out []*models.ExemptionRequest
	for rows.Next() {
		e, err := scanExemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exemption requests: %w", err)
	}
	return out, nil
}

func scanExemption(row scanner) (*models.ExemptionRequest, error) {
	var (
		e            models.ExemptionRequest
		occurrenceID uuid.UUID
		memberID     uuid.UUID
		status       string
		reviewedAt   sql.NullTime
	)
	err := row.Scan(&occurrenceID, &memberID, &status, &e.Reason, &e.ReviewerNotes, &e.SubmittedAt, &reviewedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan exemption request: %w", err)
	}
	if e.Status, err = models.ParseExemptionStatus(status); err != nil {
		return nil, fmt.Errorf("scan exemption request: %w", err)
	}
	e.OccurrenceID = domain.OccurrenceID(occurrenceID)
	e.MemberID = domain.MemberID(memberID)
	e.ReviewedAt = timePtr(reviewedAt)
	return &e, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
