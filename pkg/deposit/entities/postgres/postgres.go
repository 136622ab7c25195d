// Package postgres stores the entity graph in a single PostgreSQL table of
// typed JSON documents.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/entities"
)

// Schema creates the entity table. Files carry their normalized submission
// back-reference in submission_id so they can be listed without a scan.
const Schema = `
CREATE TABLE IF NOT EXISTS deposit_entity (
	seq           BIGSERIAL,
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	submission_id TEXT,
	body          JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_deposit_entity_files ON deposit_entity(submission_id, seq) WHERE kind = 'file';`

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Source implements entities.Fetcher and deposit.EntitySource using PostgreSQL
type Source struct {
	db     DBTX
	walker *entities.Walker
}

// New creates a new PostgreSQL entity source
func New(db DBTX, options ...entities.Option) *Source {
	s := &Source{db: db}
	s.walker = entities.NewWalker(s, options...)
	return s
}

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the entity table if needed.
func (s *Source) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return handlePostgresError("ensure schema", err)
	}
	return nil
}

func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("entity already exists")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return entities.ErrNotFound
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Put inserts or replaces an entity.
func (s *Source) Put(ctx context.Context, e deposit.Entity) error {
	id := deposit.NormalizeID(e.EntityID())
	if id == "" {
		return fmt.Errorf("%s entity has empty id", e.Kind())
	}
	body, err := deposit.EncodeEntity(e)
	if err != nil {
		return fmt.Errorf("encode entity %s: %w", id, err)
	}

	var submissionID *string
	if f, ok := e.(*deposit.File); ok && f.Submission != "" {
		ref := deposit.NormalizeID(f.Submission)
		submissionID = &ref
	}

	query := `
		INSERT INTO deposit_entity (id, kind, submission_id, body, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, submission_id = EXCLUDED.submission_id,
			body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`

	if _, err := s.db.Exec(ctx, query, id, string(e.Kind()), submissionID, body); err != nil {
		return handlePostgresError("put entity", err)
	}
	return nil
}

func (s *Source) Get(ctx context.Context, id string) (deposit.Entity, error) {
	query := `SELECT body FROM deposit_entity WHERE id = $1`

	var body []byte
	if err := s.db.QueryRow(ctx, query, deposit.NormalizeID(id)).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", entities.ErrNotFound, id)
		}
		return nil, handlePostgresError("get entity", err)
	}
	return deposit.DecodeEntity(body)
}

func (s *Source) FilesFor(ctx context.Context, submissionID string) ([]*deposit.File, error) {
	query := `
		SELECT body FROM deposit_entity
		WHERE kind = 'file' AND submission_id = $1
		ORDER BY seq`

	rows, err := s.db.Query(ctx, query, deposit.NormalizeID(submissionID))
	if err != nil {
		return nil, handlePostgresError("list files", err)
	}
	defer rows.Close()

	var files []*deposit.File
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, handlePostgresError("scan file", err)
		}
		e, err := deposit.DecodeEntity(body)
		if err != nil {
			return nil, err
		}
		f, ok := e.(*deposit.File)
		if !ok {
			return nil, fmt.Errorf("entity %s stored as file is a %s", e.EntityID(), e.Kind())
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list files", err)
	}
	return files, nil
}

// Resolve walks the graph of submissionID.
func (s *Source) Resolve(ctx context.Context, submissionID string) (*deposit.EntitySet, error) {
	return s.walker.Resolve(ctx, submissionID)
}

// ListSubmissions returns the submissions matching filter in insertion order.
func (s *Source) ListSubmissions(ctx context.Context, filter entities.SubmissionFilter) ([]*deposit.SubmissionEntity, error) {
	query := `
		SELECT body FROM deposit_entity
		WHERE kind = 'submission'
			AND ($1 = false OR (body->>'submitted')::boolean IS TRUE)
			AND ($2 = '' OR lower(body->>'aggregatedDepositStatus') = lower($2))
		ORDER BY seq
		OFFSET $3`
	args := []interface{}{filter.SubmittedOnly, filter.Status, filter.Offset}
	if filter.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, handlePostgresError("list submissions", err)
	}
	defer rows.Close()

	var subs []*deposit.SubmissionEntity
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, handlePostgresError("scan submission", err)
		}
		e, err := deposit.DecodeEntity(body)
		if err != nil {
			return nil, err
		}
		sub, ok := e.(*deposit.SubmissionEntity)
		if !ok {
			return nil, fmt.Errorf("entity %s stored as submission is a %s", e.EntityID(), e.Kind())
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list submissions", err)
	}
	return subs, nil
}
