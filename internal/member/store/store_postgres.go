package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"keystone/internal/member/models"
	"keystone/internal/platform/postgres"
	"keystone/pkg/domain"
	"keystone/pkg/platform/sentinel"
	txcontext "keystone/pkg/platform/tx"
)

// PostgresStore persists members in PostgreSQL. Every method joins the
// transaction carried by ctx, if any.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const memberColumns = `id, display_name, role, member_number, enrolled_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, m *models.Member) error {
	query := `
		INSERT INTO members (id, display_name, role, member_number, enrolled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := txcontext.Use(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(m.ID), m.DisplayName, m.Role.String(), nullNumber(m.MemberNumber), m.EnrolledAt, m.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("create member: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create member: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.MemberID) (*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	row := txcontext.Use(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(id))
	return scanMember(row)
}

func (s *PostgresStore) FindByNumber(ctx context.Context, number domain.MemberNumber) (*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE member_number = $1`
	row := txcontext.Use(ctx, s.db).QueryRowContext(ctx, query, string(number))
	return scanMember(row)
}

func (s *PostgresStore) FindByIDs(ctx context.Context, ids []domain.MemberID) ([]*models.Member, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = ANY($1::uuid[]) ORDER BY enrolled_at, id`
	return s.queryMembers(ctx, query, pq.Array(raw))
}

// MaxMemberNumber returns the greatest well-formed number, or "" when none
// exists. Malformed values never seed the counter.
func (s *PostgresStore) MaxMemberNumber(ctx context.Context) (string, error) {
	query := `
		SELECT member_number FROM members
		WHERE member_number ~ $1
		ORDER BY member_number DESC
		LIMIT 1
	`
	var max string
	err := txcontext.Use(ctx, s.db).QueryRowContext(ctx, query, domain.MemberNumberExpr).Scan(&max)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read max member number: %w", err)
	}
	return max, nil
}

// AssignNumber sets the number on a member that has none. It reports
// ErrAlreadyUsed when the member is already numbered and ErrConflict when the
// number belongs to someone else.
func (s *PostgresStore) AssignNumber(ctx context.Context, id domain.MemberID, number domain.MemberNumber, at time.Time) error {
	query := `
		UPDATE members SET member_number = $2, updated_at = $3
		WHERE id = $1 AND member_number IS NULL
	`
	res, err := txcontext.Use(ctx, s.db).ExecContext(ctx, query, uuid.UUID(id), string(number), at)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("assign member number %s: %w", number, sentinel.ErrConflict)
		}
		return fmt.Errorf("assign member number: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign member number: %w", err)
	}
	if affected == 0 {
		if _, err := s.FindByID(ctx, id); err != nil {
			return err
		}
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *PostgresStore) ListUnnumbered(ctx context.Context) ([]*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE member_number IS NULL ORDER BY enrolled_at, id`
	return s.queryMembers(ctx, query)
}

func (s *PostgresStore) ListByRole(ctx context.Context, role domain.Role) ([]*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE role = $1 ORDER BY enrolled_at, id`
	return s.queryMembers(ctx, query, role.String())
}

func (s *PostgresStore) UpdateRole(ctx context.Context, id domain.MemberID, role domain.Role, at time.Time) error {
	query := `UPDATE members SET role = $2, updated_at = $3 WHERE id = $1`
	res, err := txcontext.Use(ctx, s.db).ExecContext(ctx, query, uuid.UUID(id), role.String(), at)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) queryMembers(ctx context.Context, query string, args ...any) ([]*models.Member, error) {
	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var out []*models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (*models.Member, error) {
	var (
		id     uuid.UUID
		role   string
		number sql.NullString
		m      models.Member
	)
	err := row.Scan(&id, &m.DisplayName, &role, &number, &m.EnrolledAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan member: %w", err)
	}
	m.ID = domain.MemberID(id)
	if m.Role, err = domain.ParseRole(role); err != nil {
		return nil, fmt.Errorf("member %s: %w", id, err)
	}
	if number.Valid {
		m.MemberNumber = domain.MemberNumber(number.String)
	}
	return &m, nil
}

func nullNumber(n domain.MemberNumber) sql.NullString {
	return sql.NullString{String: string(n), Valid: n != ""}
}
