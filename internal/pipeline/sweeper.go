package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const interruptedReason = "Generation was interrupted by a server restart."

// RecoverInterrupted marks jobs left unfinished by a previous process as
// failed. Call it once at startup, before accepting work.
func (s *Service) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := s.repo.FailInterruptedJobs(ctx, interruptedReason)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if n > 0 {
		slog.Info("Marked interrupted jobs as failed", "count", n)
	}
	return n, nil
}

// StartSweeper periodically deletes jobs older than retention together with
// their videos. It stops when ctx is done or the service is closed.
func (s *Service) StartSweeper(ctx context.Context, interval, retention time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	ticker := time.NewTicker(interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		slog.Info("Job sweeper started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				if _, err := s.Sweep(ctx, retention); err != nil {
					slog.Error("Job sweep failed", "error", err)
				}
			case <-ctx.Done():
				slog.Info("Job sweeper shutting down", "reason", ctx.Err())
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Sweep deletes finished jobs older than retention and returns how many
// were removed. Jobs still in flight are left alone.
func (s *Service) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	expired, err := s.repo.ListJobsOlderThan(ctx, retention)
	if err != nil {
		return 0, fmt.Errorf("list expired jobs: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	removed := 0
	for _, job := range expired {
		if !job.Status.IsTerminal() {
			continue
		}
		if err := s.remove(ctx, job); err != nil {
			slog.Warn("Failed to sweep job", "job_id", job.ID, "error", err)
			continue
		}
		removed++
	}

	slog.Info("Job sweep completed", "expired", len(expired), "removed", removed)
	return removed, nil
}
