// Package deploy stores deployment jobs and runs them against the CMS
// publisher.
package deploy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lib/pq"

	"github.com/rebrick/rebrick/internal/model"
)

// ErrJobNotFound is returned when no job has the requested id. It matches
// model.ErrEntityNotFound.
var ErrJobNotFound = fmt.Errorf("deployment job not found: %w", model.ErrEntityNotFound)

// maxErrorMessageLen bounds a single error log entry.
const maxErrorMessageLen = 500

// Repository handles deployment job database operations.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new deployment job repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateJob inserts a new job.
func (r *Repository) CreateJob(ctx context.Context, job *model.DeploymentJob) error {
	snap := job.Snapshot()
	pages, messages, times, err := encodeJobState(snap)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deployment_jobs (
			id, rebuild_id, wordpress_site_id, status, version,
			deployed_pages, error_messages, error_times,
			created_at, updated_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::timestamptz[], $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		snap.ID,
		snap.RebuildID,
		snap.WordPressSiteID,
		string(snap.Status),
		snap.Version,
		pages,
		pq.Array(messages),
		pq.Array(times),
		snap.CreatedAt,
		snap.UpdatedAt,
		snap.StartedAt,
		snap.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert deployment job: %w", err)
	}
	return nil
}

// SaveJob writes the job's current state. A stored row with a newer
// version makes the write fail with model.ErrConcurrency.
func (r *Repository) SaveJob(ctx context.Context, job *model.DeploymentJob) error {
	snap := job.Snapshot()
	pages, messages, times, err := encodeJobState(snap)
	if err != nil {
		return err
	}

	query := `
		UPDATE deployment_jobs
		SET status = $2,
			version = $3,
			deployed_pages = $4,
			error_messages = $5,
			error_times = $6::timestamptz[],
			updated_at = $7,
			started_at = $8,
			completed_at = $9
		WHERE id = $1 AND version <= $3
	`

	result, err := r.db.ExecContext(ctx, query,
		snap.ID,
		string(snap.Status),
		snap.Version,
		pages,
		pq.Array(messages),
		pq.Array(times),
		snap.UpdatedAt,
		snap.StartedAt,
		snap.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update deployment job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update deployment job rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM deployment_jobs WHERE id = $1)`, snap.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check deployment job: %w", err)
	}
	if !exists {
		return ErrJobNotFound
	}
	return model.Conflict(model.KindDeploymentJob, snap.ID, snap.Version)
}

// GetJob retrieves a job by id.
func (r *Repository) GetJob(ctx context.Context, id string) (*model.DeploymentJob, error) {
	query := `
		SELECT id, rebuild_id, wordpress_site_id, status, version,
			   deployed_pages, error_messages, error_times::text[],
			   created_at, updated_at, started_at, completed_at
		FROM deployment_jobs
		WHERE id = $1
	`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query deployment job: %w", err)
	}
	return job, nil
}

// ListQueuedJobIDs returns up to limit queued job ids, oldest first.
func (r *Repository) ListQueuedJobIDs(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM deployment_jobs
		WHERE status = 'queued'
		ORDER BY created_at
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query queued jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan queued job: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListJobIDsByRebuild returns the jobs created for a rebuild, newest first.
func (r *Repository) ListJobIDsByRebuild(ctx context.Context, rebuildID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM deployment_jobs WHERE rebuild_id = $1 ORDER BY created_at DESC`, rebuildID)
	if err != nil {
		return nil, fmt.Errorf("query jobs by rebuild: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetQueueDepth returns the count of queued jobs.
func (r *Repository) GetQueueDepth(ctx context.Context) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM deployment_jobs
		WHERE status = 'queued'
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queue depth: %w", err)
	}
	return count, nil
}

// truncateMessage cuts msg to at most n bytes on a rune boundary. Postgres
// rejects invalid UTF-8 in TEXT[], so stray invalid bytes are replaced too.
func truncateMessage(msg string, n int) string {
	msg = strings.ToValidUTF8(msg, "\uFFFD")
	if len(msg) <= n {
		return msg
	}
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}

func encodeJobState(snap model.DeploymentJobSnapshot) (pages []byte, messages, times []string, err error) {
	pages, err = json.Marshal(snap.DeployedPages)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode deployed pages: %w", err)
	}

	messages = make([]string, len(snap.ErrorLog))
	times = make([]string, len(snap.ErrorLog))
	for i, e := range snap.ErrorLog {
		messages[i] = truncateMessage(e.Message, maxErrorMessageLen)
		times[i] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return pages, messages, times, nil
}

func scanJob(row *sql.Row) (*model.DeploymentJob, error) {
	var (
		snap     model.DeploymentJobSnapshot
		status   string
		pages    []byte
		messages []string
		times    []string
	)

	if err := row.Scan(
		&snap.ID,
		&snap.RebuildID,
		&snap.WordPressSiteID,
		&status,
		&snap.Version,
		&pages,
		pq.Array(&messages),
		pq.Array(&times),
		&snap.CreatedAt,
		&snap.UpdatedAt,
		&snap.StartedAt,
		&snap.CompletedAt,
	); err != nil {
		return nil, err
	}

	snap.Status = model.DeploymentStatus(status)
	if len(pages) > 0 {
		if err := json.Unmarshal(pages, &snap.DeployedPages); err != nil {
			return nil, fmt.Errorf("decode deployed pages: %w", err)
		}
	}

	if len(messages) != len(times) {
		return nil, fmt.Errorf("error log arrays differ in length: %d messages, %d times", len(messages), len(times))
	}
	snap.ErrorLog = make([]model.ErrorLogEntry, len(messages))
	for i := range messages {
		ts, err := pq.ParseTimestamp(time.UTC, times[i])
		if err != nil {
			return nil, fmt.Errorf("parse error log time %q: %w", times[i], err)
		}
		snap.ErrorLog[i] = model.ErrorLogEntry{Timestamp: ts.UTC(), Message: messages[i]}
	}

	return model.ReconstituteDeploymentJob(snap), nil
}
