// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/sketchmotion/internal/domain"
)

// Repository defines the interface for persisting users and animation jobs.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateJob inserts a new job.
	CreateJob(ctx context.Context, job *domain.Job) error

	// GetJob retrieves a job by ID. It returns nil, nil when absent.
	GetJob(ctx context.Context, id string) (*domain.Job, error)

	// UpdateJob overwrites the mutable fields of a job.
	UpdateJob(ctx context.Context, job *domain.Job) error

	// ListJobs returns a user's jobs, newest first.
	ListJobs(ctx context.Context, userID string, limit int) ([]*domain.Job, error)

	// DeleteJob removes a job. Deleting a missing job is not an error.
	DeleteJob(ctx context.Context, id string) error

	// ListJobsOlderThan returns jobs created before now minus age.
	ListJobsOlderThan(ctx context.Context, age time.Duration) ([]*domain.Job, error)

	// FailInterruptedJobs marks every non-terminal job as failed with reason.
	FailInterruptedJobs(ctx context.Context, reason string) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
