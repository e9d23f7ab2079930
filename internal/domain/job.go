package domain

import (
	"time"
)

// JobStatus is the lifecycle state of an animation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobGenerating JobStatus = "generating"
	JobRendering  JobStatus = "rendering"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Stage names a step of the generation pipeline.
type Stage string

const (
	StageGenerate Stage = "generate"
	StageExtract  Stage = "extract"
	StageRender   Stage = "render"
	StageStore    Stage = "store"
)

// Job is one description-to-video request.
type Job struct {
	ID          string     `json:"id"`
	UserID      string     `json:"-"`
	Prompt      string     `json:"prompt"`
	Quality     Quality    `json:"quality"`
	Status      JobStatus  `json:"status"`
	FailedStage Stage      `json:"failed_stage,omitempty"`
	SceneName   string     `json:"scene_name,omitempty"`
	Code        string     `json:"code,omitempty"`
	VideoFile   string     `json:"-"`
	Error       string     `json:"error,omitempty"`
	Stdout      string     `json:"stdout,omitempty"`
	Stderr      string     `json:"stderr,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	Model       string     `json:"model,omitempty"`
	Renderer    string     `json:"renderer,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// HasVideo returns true if the job produced a video file.
func (j *Job) HasVideo() bool {
	return j.Status == JobSucceeded && j.VideoFile != ""
}

// Elapsed returns the time between creation and completion, or until now
// for jobs still in flight.
func (j *Job) Elapsed(now time.Time) time.Duration {
	end := now
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	if end.Before(j.CreatedAt) {
		return 0
	}
	return end.Sub(j.CreatedAt)
}
