// File: internal/store/store.go

// Package store persists the application audit trail: one row per tracked
// job application, an append-only step log, and the safety-event record.
// It backs both the orchestrator's DecisionSink and the safety guard's
// volume counters.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/dmage20/linkedin-job-agent/api/schemas"
)

var fastjson = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL-backed audit trail.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// The store doubles as the orchestrator's step sink.
var _ schemas.DecisionSink = (*Store)(nil)

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("store requires a database pool")
	}
	if logger == nil {
		return nil, fmt.Errorf("store requires a logger")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// EnsureSchema creates the tables if they do not exist. Safe to run on every
// startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
        CREATE TABLE IF NOT EXISTS job_applications (
            id           TEXT PRIMARY KEY,
            profile_id   TEXT NOT NULL,
            job_url      TEXT NOT NULL,
            job_title    TEXT NOT NULL DEFAULT '',
            company      TEXT NOT NULL DEFAULT '',
            status       TEXT NOT NULL,
            cover_letter TEXT NOT NULL DEFAULT '',
            session_id   TEXT NOT NULL DEFAULT '',
            fail_reason  TEXT NOT NULL DEFAULT '',
            applied_at   TIMESTAMPTZ,
            created_at   TIMESTAMPTZ NOT NULL,
            updated_at   TIMESTAMPTZ NOT NULL,
            UNIQUE (profile_id, job_url)
        );
        CREATE TABLE IF NOT EXISTS application_steps (
            task_id     TEXT NOT NULL,
            iteration   INTEGER NOT NULL,
            state       TEXT NOT NULL,
            decision    JSONB NOT NULL,
            token_usage INTEGER NOT NULL,
            recorded_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (task_id, iteration)
        );
        CREATE TABLE IF NOT EXISTS safety_events (
            id          TEXT PRIMARY KEY,
            type        TEXT NOT NULL,
            severity    TEXT NOT NULL,
            description TEXT NOT NULL,
            session_id  TEXT NOT NULL DEFAULT '',
            job_url     TEXT NOT NULL DEFAULT '',
            occurred_at TIMESTAMPTZ NOT NULL
        );
    `
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// CreateApplication inserts a new tracked application.
func (s *Store) CreateApplication(ctx context.Context, rec schemas.ApplicationRecord) error {
	const query = `
        INSERT INTO job_applications
            (id, profile_id, job_url, job_title, company, status, cover_letter, session_id, fail_reason, applied_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
    `
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.ProfileID, rec.JobURL, rec.JobTitle, rec.Company,
		string(rec.Status), rec.CoverLetter, rec.SessionID, rec.FailReason,
		rec.AppliedAt, rec.CreatedAt.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert application: %w", err)
	}
	return nil
}

// UpdateApplicationStatus moves an application through its lifecycle. A
// transition to submitted stamps applied_at.
func (s *Store) UpdateApplicationStatus(ctx context.Context, id string, status schemas.ApplicationStatus, failReason string) error {
	const query = `
        UPDATE job_applications
        SET status = $2,
            fail_reason = $3,
            applied_at = CASE WHEN $2 = 'submitted' THEN $4 ELSE applied_at END,
            updated_at = $4
        WHERE id = $1;
    `
	tag, err := s.pool.Exec(ctx, query, id, string(status), failReason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update application status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetApplicationByURL returns the tracked application for a job URL.
func (s *Store) GetApplicationByURL(ctx context.Context, profileID, jobURL string) (*schemas.ApplicationRecord, error) {
	const query = `
        SELECT id, profile_id, job_url, job_title, company, status, cover_letter, session_id, fail_reason, applied_at, created_at, updated_at
        FROM job_applications
        WHERE profile_id = $1 AND job_url = $2;
    `
	var rec schemas.ApplicationRecord
	var status string
	err := s.pool.QueryRow(ctx, query, profileID, jobURL).Scan(
		&rec.ID, &rec.ProfileID, &rec.JobURL, &rec.JobTitle, &rec.Company,
		&status, &rec.CoverLetter, &rec.SessionID, &rec.FailReason,
		&rec.AppliedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query application: %w", err)
	}
	rec.Status = schemas.ApplicationStatus(status)
	return &rec, nil
}

// ListRecentApplications returns the newest applications first.
func (s *Store) ListRecentApplications(ctx context.Context, limit int) ([]schemas.ApplicationRecord, error) {
	const query = `
        SELECT id, profile_id, job_url, job_title, company, status, cover_letter, session_id, fail_reason, applied_at, created_at, updated_at
        FROM job_applications
        ORDER BY updated_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	defer rows.Close()

	var recs []schemas.ApplicationRecord
	for rows.Next() {
		var rec schemas.ApplicationRecord
		var status string
		if err := rows.Scan(
			&rec.ID, &rec.ProfileID, &rec.JobURL, &rec.JobTitle, &rec.Company,
			&status, &rec.CoverLetter, &rec.SessionID, &rec.FailReason,
			&rec.AppliedAt, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan application row: %w", err)
		}
		rec.Status = schemas.ApplicationStatus(status)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return recs, nil
}

// -- safety.AuditStore --

// HasApplication reports whether any profile already applied to the URL.
func (s *Store) HasApplication(ctx context.Context, jobURL string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM job_applications WHERE job_url = $1 AND status IN ('pending', 'submitted'));`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, jobURL).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check for existing application: %w", err)
	}
	return exists, nil
}

// CountApplicationsSince counts submitted applications newer than since.
// Feeds the hourly/daily volume caps.
func (s *Store) CountApplicationsSince(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM job_applications WHERE status = 'submitted' AND applied_at >= $1;`
	var count int
	if err := s.pool.QueryRow(ctx, query, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count applications: %w", err)
	}
	return count, nil
}

// RecordSafetyEvent appends one audit record.
func (s *Store) RecordSafetyEvent(ctx context.Context, ev schemas.SafetyEvent) error {
	const query = `
        INSERT INTO safety_events (id, type, severity, description, session_id, job_url, occurred_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, query,
		ev.ID, string(ev.Type), ev.Severity, ev.Description,
		ev.SessionID, ev.JobURL, ev.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert safety event: %w", err)
	}
	return nil
}

// -- schemas.DecisionSink --

// Record appends one step record. The decision is stored as JSONB so the
// full reasoning survives for later review.
func (s *Store) Record(ctx context.Context, rec schemas.StepRecord) error {
	decision, err := fastjson.Marshal(rec.Decision)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	const query = `
        INSERT INTO application_steps (task_id, iteration, state, decision, token_usage, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_, err = s.pool.Exec(ctx, query,
		rec.TaskID, rec.Iteration, string(rec.State), decision,
		rec.TokenUsage, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert step record: %w", err)
	}
	return nil
}
