package principal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"warden/pkg/platform/sentinel"
	"warden/pkg/platform/tx"
)

// PostgresStore persists principals in PostgreSQL. It is pure I/O; workflow
// rules and reconciliation decisions belong to the services on top of it.
//
// When a transaction is present in the context (pull passes running with
// raise-on-error semantics) all statements run inside it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

const principalColumns = `id, login, password_hash, source, external_id, state, attrs, last_login, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p *Principal) error {
	attrs, err := json.Marshal(p.Attrs)
	if err != nil {
		return fmt.Errorf("marshal attrs: %w", err)
	}
	query := `
		INSERT INTO principals (` + principalColumns + `)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
	`
	_, err = s.q(ctx).ExecContext(ctx, query,
		p.ID, p.Login, p.PasswordHash, p.Source, p.ExternalID, string(p.State),
		attrs, p.LastLogin, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create principal: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByID(ctx context.Context, id string) (*Principal, error) {
	return s.one(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, id)
}

func (s *PostgresStore) ByLogin(ctx context.Context, login string) (*Principal, error) {
	// Exact, case-sensitive match: no LOWER() here.
	return s.one(ctx, `SELECT `+principalColumns+` FROM principals WHERE login = $1`, login)
}

func (s *PostgresStore) ByExternalID(ctx context.Context, externalID string) (*Principal, error) {
	return s.one(ctx, `SELECT `+principalColumns+` FROM principals WHERE external_id = $1`, externalID)
}

func (s *PostgresStore) one(ctx context.Context, query string, arg any) (*Principal, error) {
	p, err := scanPrincipal(s.q(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("query principal: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Update(ctx context.Context, p *Principal) error {
	attrs, err := json.Marshal(p.Attrs)
	if err != nil {
		return fmt.Errorf("marshal attrs: %w", err)
	}
	query := `
		UPDATE principals
		SET login = $2, password_hash = $3, source = $4, external_id = NULLIF($5, ''),
		    state = $6, attrs = $7, last_login = $8, updated_at = $9
		WHERE id = $1
	`
	res, err := s.q(ctx).ExecContext(ctx, query,
		p.ID, p.Login, p.PasswordHash, p.Source, p.ExternalID, string(p.State),
		attrs, p.LastLogin, p.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update principal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update principal: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListBySource(ctx context.Context, source string) ([]*Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE source = $1 ORDER BY login`
	rows, err := s.q(ctx).QueryContext(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	defer rows.Close()

	var out []*Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateGroup(ctx context.Context, name string) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO groups (name, created_at) VALUES ($1, NOW())`, name)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func (s *PostgresStore) GroupExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM groups WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("group exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Members(ctx context.Context, group string) ([]string, error) {
	exists, err := s.GroupExists(ctx, group)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT login FROM memberships WHERE group_name = $1 ORDER BY login`, group)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var login string
		if err := rows.Scan(&login); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, login)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddMember(ctx context.Context, group, login string) error {
	query := `
		INSERT INTO memberships (group_name, login) VALUES ($1, $2)
		ON CONFLICT (group_name, login) DO NOTHING
	`
	_, err := s.q(ctx).ExecContext(ctx, query, group, login)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, group, login string) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM memberships WHERE group_name = $1 AND login = $2`, group, login)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GroupsOf(ctx context.Context, login string) ([]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT group_name FROM memberships WHERE login = $1 ORDER BY group_name`, login)
	if err != nil {
		return nil, fmt.Errorf("groups of: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var group string
		if err := rows.Scan(&group); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, group)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*Principal, error) {
	var (
		p          Principal
		id         uuid.UUID
		state      string
		externalID sql.NullString
		attrs      []byte
		lastLogin  sql.NullTime
	)
	err := row.Scan(&id, &p.Login, &p.PasswordHash, &p.Source, &externalID,
		&state, &attrs, &lastLogin, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ID = id
	p.State = State(state)
	if externalID.Valid {
		p.ExternalID = externalID.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		p.LastLogin = &t
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attrs); err != nil {
			return nil, fmt.Errorf("unmarshal attrs: %w", err)
		}
	}
	return &p, nil
}
