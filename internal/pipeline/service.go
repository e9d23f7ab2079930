// Package pipeline runs animation jobs: prompt, model call, code extraction,
// render and persistence, publishing progress as it goes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ashureev/sketchmotion/internal/codegen"
	"github.com/ashureev/sketchmotion/internal/domain"
	"github.com/ashureev/sketchmotion/internal/events"
	"github.com/ashureev/sketchmotion/internal/prompt"
	"github.com/ashureev/sketchmotion/internal/render"
	"github.com/ashureev/sketchmotion/internal/shared"
	"github.com/ashureev/sketchmotion/internal/store"
)

const saveTimeout = 10 * time.Second

// Options configures a Service.
type Options struct {
	MediaDir        string
	DefaultQuality  domain.Quality
	MaxPromptLength int
	LLMTimeout      time.Duration
	Concurrency     int
}

// Request is a user's animation request.
type Request struct {
	Prompt string `json:"prompt"`
	// Quality is a quality name or manim flag; empty selects the default.
	Quality string `json:"quality,omitempty"`
}

// Service owns the job lifecycle.
type Service struct {
	repo     store.Repository
	gen      codegen.Generator
	renderer render.Renderer
	prompts  *prompt.Library
	broker   *events.Broker
	opts     Options

	slots    *semaphore.Weighted
	inflight sync.Map // userID -> jobID

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Service. broker may be nil when nobody listens for progress.
func New(repo store.Repository, gen codegen.Generator, renderer render.Renderer, prompts *prompt.Library, broker *events.Broker, opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxPromptLength <= 0 {
		opts.MaxPromptLength = 2000
	}
	if opts.DefaultQuality == "" {
		opts.DefaultQuality = domain.QualityLow
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 60 * time.Second
	}
	if broker == nil {
		broker = events.NewBroker(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:     repo,
		gen:      gen,
		renderer: renderer,
		prompts:  prompts,
		broker:   broker,
		opts:     opts,
		slots:    semaphore.NewWeighted(int64(opts.Concurrency)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Broker returns the event broker jobs publish to.
func (s *Service) Broker() *events.Broker { return s.broker }

// Suggestions returns the current suggestion shortcuts.
func (s *Service) Suggestions() []prompt.Suggestion { return s.prompts.Suggestions() }

// Submit validates and persists a job, then runs it in the background.
// Each user may have one job in flight.
func (s *Service) Submit(ctx context.Context, userID string, req Request) (*domain.Job, error) {
	job, err := s.newJob(userID, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.claim(userID, job.ID); err != nil {
		return nil, err
	}

	if err := s.create(ctx, job); err != nil {
		s.inflight.Delete(userID)
		return nil, err
	}

	snapshot := *job
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inflight.Delete(userID)
		_ = s.execute(s.ctx, job)
	}()

	return &snapshot, nil
}

// Run executes a job synchronously. The returned job reflects the final
// state; err is a *StageError when the job failed. Like Submit, it refuses
// a second job for a user who already has one in flight.
func (s *Service) Run(ctx context.Context, userID string, req Request) (*domain.Job, error) {
	job, err := s.newJob(userID, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	err = s.claim(userID, job.ID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer s.inflight.Delete(userID)

	if err := s.create(ctx, job); err != nil {
		return nil, err
	}
	err = s.execute(ctx, job)
	return job, err
}

// claim marks userID as running jobID. Callers hold s.mu.
func (s *Service) claim(userID, jobID string) error {
	if s.closed {
		return ErrClosed
	}
	if running, loaded := s.inflight.LoadOrStore(userID, jobID); loaded {
		slog.Info("Rejecting concurrent job", "user_id", userID, "running_job_id", running)
		return ErrJobInProgress
	}
	return nil
}

// GenerateCode runs only the model step and returns the extracted code and
// scene name.
func (s *Service) GenerateCode(ctx context.Context, description string) (code, scene string, err error) {
	description, err = s.validatePrompt(description)
	if err != nil {
		return "", "", err
	}
	code, err = s.generate(ctx, description)
	if err != nil {
		return "", "", err
	}
	scene, err = codegen.SceneName(code)
	if err != nil {
		return code, "", &StageError{Stage: domain.StageExtract, Err: err}
	}
	return code, scene, nil
}

// Get returns a job owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job == nil || job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List returns a user's most recent jobs.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*domain.Job, error) {
	jobs, err := s.repo.ListJobs(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Discard deletes a finished job and its video.
func (s *Service) Discard(ctx context.Context, userID, id string) error {
	job, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return ErrJobRunning
	}
	return s.remove(ctx, job)
}

// VideoPath returns the on-disk path of a job's video, or "" if it has none.
func (s *Service) VideoPath(job *domain.Job) string {
	if !job.HasVideo() {
		return ""
	}
	return filepath.Join(s.opts.MediaDir, job.VideoFile)
}

// Snapshot describes a job's current state as a stream event.
func Snapshot(job *domain.Job) events.Event {
	ev := events.Event{
		JobID:  job.ID,
		Type:   events.TypeStatus,
		Status: job.Status,
		Time:   job.UpdatedAt,
	}
	if job.Status.IsTerminal() {
		ev.Type = events.TypeDone
		ev.Stage = job.FailedStage
		ev.Error = job.Error
	}
	return ev
}

// Close cancels in-flight jobs and waits for background work to stop.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Service) newJob(userID string, req Request) (*domain.Job, error) {
	text, err := s.validatePrompt(req.Prompt)
	if err != nil {
		return nil, err
	}

	quality := s.opts.DefaultQuality
	if strings.TrimSpace(req.Quality) != "" {
		q, err := domain.ParseQuality(req.Quality)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuality, err)
		}
		quality = q
	}

	now := time.Now()
	return &domain.Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Prompt:    text,
		Quality:   quality,
		Status:    domain.JobPending,
		Provider:  s.gen.Provider(),
		Model:     s.gen.Model(),
		Renderer:  s.renderer.Name(),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Service) validatePrompt(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyPrompt
	}
	if n := utf8.RuneCountInString(text); n > s.opts.MaxPromptLength {
		return "", fmt.Errorf("%w: %d characters, limit is %d", ErrPromptTooLong, n, s.opts.MaxPromptLength)
	}
	return text, nil
}

func (s *Service) create(ctx context.Context, job *domain.Job) error {
	err := shared.RetrySQLite(ctx, shared.DefaultRetryPolicy, "create job", func(ctx context.Context) error {
		return s.repo.CreateJob(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	s.publishStatus(job)
	slog.Info("Job created", "job_id", job.ID, "user_id", job.UserID, "quality", job.Quality)
	return nil
}

func (s *Service) execute(ctx context.Context, job *domain.Job) error {
	log := slog.With("job_id", job.ID, "user_id", job.UserID)

	if err := s.slots.Acquire(ctx, 1); err != nil {
		return s.fail(ctx, job, domain.StageGenerate, err)
	}
	defer s.slots.Release(1)

	if err := s.transition(ctx, job, domain.JobGenerating); err != nil {
		return s.fail(ctx, job, domain.StageStore, err)
	}

	code, err := s.generate(ctx, job.Prompt)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return s.fail(ctx, job, se.Stage, se.Err)
		}
		return s.fail(ctx, job, domain.StageGenerate, err)
	}
	job.Code = code

	scene, err := codegen.SceneName(code)
	if err != nil {
		return s.fail(ctx, job, domain.StageExtract, err)
	}
	job.SceneName = scene
	log.Info("Code generated", "scene", scene, "bytes", len(code))

	if err := s.transition(ctx, job, domain.JobRendering); err != nil {
		return s.fail(ctx, job, domain.StageStore, err)
	}

	videoFile := job.ID + ".mp4"
	res, err := s.renderer.Render(ctx, render.Job{
		ID:         job.ID,
		Code:       code,
		SceneName:  scene,
		Quality:    job.Quality,
		OutputPath: filepath.Join(s.opts.MediaDir, videoFile),
		OnOutput: func(stream, line string) {
			s.broker.Publish(events.Event{JobID: job.ID, Type: events.TypeLog, Stream: stream, Line: line})
		},
	})
	if err != nil {
		var rerr *render.Error
		if errors.As(err, &rerr) {
			job.Stdout, job.Stderr = rerr.Stdout, rerr.Stderr
		}
		return s.fail(ctx, job, domain.StageRender, err)
	}

	now := time.Now()
	job.Status = domain.JobSucceeded
	job.VideoFile = videoFile
	job.Stdout, job.Stderr = res.Stdout, res.Stderr
	job.UpdatedAt = now
	job.FinishedAt = &now
	if err := s.save(ctx, job); err != nil {
		_ = os.Remove(res.VideoPath)
		job.VideoFile = ""
		return s.fail(ctx, job, domain.StageStore, err)
	}

	log.Info("Job succeeded", "scene", scene, "render_time", res.Duration, "elapsed", job.Elapsed(now))
	s.publishDone(job)
	return nil
}

// generate builds the prompt, calls the model and extracts the code.
func (s *Service) generate(ctx context.Context, description string) (string, error) {
	text, err := s.prompts.Build(description)
	if err != nil {
		return "", &StageError{Stage: domain.StageGenerate, Err: err}
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.LLMTimeout)
	defer cancel()
	reply, err := s.gen.Generate(gctx, text)
	if err != nil {
		return "", &StageError{Stage: domain.StageGenerate, Err: err}
	}

	code, err := codegen.ExtractCode(reply)
	if err != nil {
		return "", &StageError{Stage: domain.StageExtract, Err: err}
	}
	return code, nil
}

func (s *Service) transition(ctx context.Context, job *domain.Job, status domain.JobStatus) error {
	job.Status = status
	job.UpdatedAt = time.Now()
	if err := s.save(ctx, job); err != nil {
		return err
	}
	s.publishStatus(job)
	return nil
}

// fail records the failure. The write uses a context detached from ctx so a
// cancelled job is still persisted as failed.
func (s *Service) fail(ctx context.Context, job *domain.Job, stage domain.Stage, cause error) error {
	now := time.Now()
	job.Status = domain.JobFailed
	job.FailedStage = stage
	job.Error = describe(stage, cause, job.Model)
	job.UpdatedAt = now
	job.FinishedAt = &now

	slog.Warn("Job failed", "job_id", job.ID, "user_id", job.UserID, "stage", stage, "error", cause)

	if err := s.save(ctx, job); err != nil {
		slog.Error("Failed to persist job failure", "job_id", job.ID, "error", err)
	}
	s.publishDone(job)
	return &StageError{Stage: stage, Err: cause}
}

func (s *Service) save(ctx context.Context, job *domain.Job) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	return shared.RetrySQLite(sctx, shared.DefaultRetryPolicy, "update job", func(ctx context.Context) error {
		return s.repo.UpdateJob(ctx, job)
	})
}

func (s *Service) remove(ctx context.Context, job *domain.Job) error {
	if job.VideoFile != "" {
		path := filepath.Join(s.opts.MediaDir, job.VideoFile)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove video: %w", err)
		}
	}
	err := shared.RetrySQLite(ctx, shared.DefaultRetryPolicy, "delete job", func(ctx context.Context) error {
		return s.repo.DeleteJob(ctx, job.ID)
	})
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	s.broker.Forget(job.ID)
	return nil
}

func (s *Service) publishStatus(job *domain.Job) {
	s.broker.Publish(events.Event{JobID: job.ID, Type: events.TypeStatus, Status: job.Status})
}

func (s *Service) publishDone(job *domain.Job) {
	s.broker.Publish(events.Event{
		JobID:  job.ID,
		Type:   events.TypeDone,
		Status: job.Status,
		Stage:  job.FailedStage,
		Error:  job.Error,
	})
}

// describe turns a stage failure into the message shown to the user.
func describe(stage domain.Stage, err error, model string) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "Generation was cancelled."
	case errors.Is(err, codegen.ErrNoScene):
		return "Could not find Scene name in the generated code. The LLM might have provided an invalid Manim script."
	case errors.Is(err, codegen.ErrNoCode), errors.Is(err, codegen.ErrEmptyResponse):
		return fmt.Sprintf("Failed to generate Manim code: %v", err)
	case stage == domain.StageGenerate:
		return fmt.Sprintf("Error calling LLM (%s): %v", model, err)
	case stage == domain.StageStore:
		return fmt.Sprintf("Failed to save the animation: %v", err)
	default:
		return err.Error()
	}
}
