package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/sketchmotion/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrJobNotFound is returned by UpdateJob when the job row does not exist.
var ErrJobNotFound = errors.New("job not found")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas run on every pooled connection.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		quality TEXT NOT NULL,
		status TEXT NOT NULL,
		failed_stage TEXT NOT NULL DEFAULT '',
		scene_name TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL DEFAULT '',
		video_file TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		stdout TEXT NOT NULL DEFAULT '',
		stderr TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		renderer TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

const jobColumns = `id, user_id, prompt, quality, status, failed_stage, scene_name, code,
	video_file, error, stdout, stderr, provider, model, renderer,
	created_at, updated_at, finished_at`

// CreateJob inserts a new job.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.UserID, job.Prompt, string(job.Quality), string(job.Status),
		string(job.FailedStage), job.SceneName, job.Code,
		job.VideoFile, job.Error, job.Stdout, job.Stderr,
		job.Provider, job.Model, job.Renderer,
		job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli(), nullableMillis(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan job row: %w", err)
	}
	return job, nil
}

// UpdateJob overwrites the mutable fields of a job.
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	query := `
	UPDATE jobs SET
		status = ?, failed_stage = ?, scene_name = ?, code = ?, video_file = ?,
		error = ?, stdout = ?, stderr = ?, provider = ?, model = ?, renderer = ?,
		updated_at = ?, finished_at = ?
	WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		string(job.Status), string(job.FailedStage), job.SceneName, job.Code, job.VideoFile,
		job.Error, job.Stdout, job.Stderr, job.Provider, job.Model, job.Renderer,
		job.UpdatedAt.UnixMilli(), nullableMillis(job.FinishedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, ErrJobNotFound)
	}
	return nil
}

// ListJobs returns a user's jobs, newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, userID string, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`
	return s.queryJobs(ctx, "list jobs", query, userID, limit)
}

// DeleteJob removes a job.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// ListJobsOlderThan returns jobs created before now minus age.
func (s *SQLiteStore) ListJobsOlderThan(ctx context.Context, age time.Duration) ([]*domain.Job, error) {
	threshold := time.Now().Add(-age).UnixMilli()
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE created_at < ? ORDER BY created_at`
	return s.queryJobs(ctx, "list expired jobs", query, threshold)
}

// FailInterruptedJobs marks every non-terminal job as failed. Jobs caught
// mid-render keep the render stage; everything else is attributed to generation.
func (s *SQLiteStore) FailInterruptedJobs(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UnixMilli()
	query := `
	UPDATE jobs SET
		failed_stage = CASE status WHEN ? THEN ? ELSE ? END,
		status = ?,
		error = ?,
		updated_at = ?,
		finished_at = ?
	WHERE status NOT IN (?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		string(domain.JobRendering), string(domain.StageRender), string(domain.StageGenerate),
		string(domain.JobFailed), reason, now, now,
		string(domain.JobSucceeded), string(domain.JobFailed),
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close job rows", "op", op, "error", closeErr)
		}
	}()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var quality, status, stage string
	var createdAt, updatedAt int64
	var finishedAt sql.NullInt64

	err := row.Scan(
		&job.ID, &job.UserID, &job.Prompt, &quality, &status, &stage, &job.SceneName, &job.Code,
		&job.VideoFile, &job.Error, &job.Stdout, &job.Stderr, &job.Provider, &job.Model, &job.Renderer,
		&createdAt, &updatedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Quality = domain.Quality(quality)
	job.Status = domain.JobStatus(status)
	job.FailedStage = domain.Stage(stage)
	job.CreatedAt = time.UnixMilli(createdAt)
	job.UpdatedAt = time.UnixMilli(updatedAt)
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64)
		job.FinishedAt = &t
	}
	return &job, nil
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
