package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/sketchmotion/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newJob(id, userID string, created time.Time) *domain.Job {
	return &domain.Job{
		ID:        id,
		UserID:    userID,
		Prompt:    "A square transforms into a circle.",
		Quality:   domain.QualityLow,
		Status:    domain.JobPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestUserRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetUser(ctx, "anon_missing")
	if err != nil || got != nil {
		t.Fatalf("expected nil user without error, got %v, %v", got, err)
	}

	now := time.Now().Truncate(time.Second)
	user := &domain.User{UserID: "anon_1", Username: "anon-1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}
	if err := repo.UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	later := now.Add(time.Hour)
	if err := repo.UpdateLastSeen(ctx, "anon_1", later); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}

	got, err = repo.GetUser(ctx, "anon_1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Username != "anon-1" {
		t.Errorf("unexpected username %q", got.Username)
	}
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("expected last seen %v, got %v", later, got.LastSeenAt)
	}
}

func TestJobLifecycle(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	created := time.Now().Truncate(time.Millisecond)

	job := newJob("job-1", "anon_1", created)
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	finished := created.Add(3 * time.Second)
	job.Status = domain.JobSucceeded
	job.SceneName = "SquareToCircle"
	job.Code = "from manim import *"
	job.VideoFile = "job-1.mp4"
	job.Stdout = "File ready"
	job.Provider = "gemini"
	job.Model = "gemini-2.0-flash-001"
	job.Renderer = "local"
	job.UpdatedAt = finished
	job.FinishedAt = &finished
	if err := repo.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	got, err := repo.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected job")
	}
	if got.Status != domain.JobSucceeded || got.SceneName != "SquareToCircle" || got.VideoFile != "job-1.mp4" {
		t.Errorf("unexpected job state: %+v", got)
	}
	if got.Quality != domain.QualityLow {
		t.Errorf("unexpected quality %q", got.Quality)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("expected finished_at %v, got %v", finished, got.FinishedAt)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("expected created_at %v, got %v", created, got.CreatedAt)
	}

	if err := repo.DeleteJob(ctx, "job-1"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	got, err = repo.GetJob(ctx, "job-1")
	if err != nil || got != nil {
		t.Fatalf("expected job to be gone, got %v, %v", got, err)
	}
	if err := repo.DeleteJob(ctx, "job-1"); err != nil {
		t.Errorf("deleting a missing job should succeed, got %v", err)
	}
}

func TestUpdateMissingJob(t *testing.T) {
	repo := newTestStore(t)

	err := repo.UpdateJob(context.Background(), newJob("ghost", "anon_1", time.Now()))
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestListJobsScopedAndOrdered(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"a", "b", "c"} {
		if err := repo.CreateJob(ctx, newJob(id, "anon_1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("CreateJob %s failed: %v", id, err)
		}
	}
	if err := repo.CreateJob(ctx, newJob("other", "anon_2", base)); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	jobs, err := repo.ListJobs(ctx, "anon_1", 2)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "c" || jobs[1].ID != "b" {
		t.Errorf("expected newest first [c b], got [%s %s]", jobs[0].ID, jobs[1].ID)
	}
	for _, j := range jobs {
		if j.UserID != "anon_1" {
			t.Errorf("job %s leaked from user %s", j.ID, j.UserID)
		}
	}
}

func TestListJobsOlderThan(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.CreateJob(ctx, newJob("old", "anon_1", time.Now().Add(-48*time.Hour))); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := repo.CreateJob(ctx, newJob("fresh", "anon_1", time.Now())); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	jobs, err := repo.ListJobsOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("ListJobsOlderThan failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "old" {
		t.Fatalf("expected only the old job, got %+v", jobs)
	}
}

func TestFailInterruptedJobs(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	states := map[string]domain.JobStatus{
		"pending":   domain.JobPending,
		"rendering": domain.JobRendering,
		"done":      domain.JobSucceeded,
	}
	for id, status := range states {
		job := newJob(id, "anon_1", now)
		job.Status = status
		if err := repo.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
	}

	n, err := repo.FailInterruptedJobs(ctx, "server restarted")
	if err != nil {
		t.Fatalf("FailInterruptedJobs failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 jobs failed, got %d", n)
	}

	rendering, _ := repo.GetJob(ctx, "rendering")
	if rendering.Status != domain.JobFailed || rendering.FailedStage != domain.StageRender {
		t.Errorf("unexpected rendering job state: %s/%s", rendering.Status, rendering.FailedStage)
	}
	if rendering.Error != "server restarted" || rendering.FinishedAt == nil {
		t.Errorf("expected reason and finish time, got %q %v", rendering.Error, rendering.FinishedAt)
	}

	pending, _ := repo.GetJob(ctx, "pending")
	if pending.FailedStage != domain.StageGenerate {
		t.Errorf("expected generate stage for pending job, got %q", pending.FailedStage)
	}

	done, _ := repo.GetJob(ctx, "done")
	if done.Status != domain.JobSucceeded {
		t.Errorf("finished job should be untouched, got %s", done.Status)
	}
}

func TestNewSQLiteEnablesWAL(t *testing.T) {
	repo := newTestStore(t)
	db := repo.(*SQLiteStore).db

	var mode string
	if err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := db.QueryRowContext(context.Background(), "PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("query busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("expected busy_timeout 5000, got %d", timeout)
	}
}
