package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ashureev/sketchmotion/internal/pipeline"
)

// Tools holds the tool handlers.
type Tools struct {
	Runner    Runner
	HidePaths bool
}

type GenerateAnimationInput struct {
	Prompt  string `json:"prompt" jsonschema:"Description of the animation, e.g. a square transforms into a circle"`
	Quality string `json:"quality,omitempty" jsonschema:"Render quality: low, medium, high or 4k (default low)"`
}

type GenerateCodeInput struct {
	Prompt string `json:"prompt" jsonschema:"Description of the animation"`
}

type ListSuggestionsInput struct{}

// AnimationResult is returned by generate_animation.
type AnimationResult struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	SceneName   string `json:"scene_name,omitempty"`
	VideoPath   string `json:"video_path,omitempty"`
	FailedStage string `json:"failed_stage,omitempty"`
	Error       string `json:"error,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	Code        string `json:"code,omitempty"`
}

func (t *Tools) GenerateAnimation(ctx context.Context, _ *mcp.CallToolRequest, input GenerateAnimationInput) (*mcp.CallToolResult, any, error) {
	job, err := t.Runner.Run(ctx, UserID, pipeline.Request{Prompt: input.Prompt, Quality: input.Quality})
	if job == nil {
		return toolError("Failed to generate animation: %v", err), nil, nil
	}

	res := AnimationResult{
		ID:          job.ID,
		Status:      string(job.Status),
		SceneName:   job.SceneName,
		FailedStage: string(job.FailedStage),
		Error:       job.Error,
		Stderr:      job.Stderr,
		Code:        job.Code,
	}
	if !t.HidePaths {
		res.VideoPath = t.Runner.VideoPath(job)
	}
	if err != nil {
		slog.Info("MCP animation failed", "job_id", job.ID, "error", err)
		result, _, _ := toolJSON(res)
		result.IsError = true
		return result, nil, nil
	}
	return toolJSON(res)
}

func (t *Tools) GenerateCode(ctx context.Context, _ *mcp.CallToolRequest, input GenerateCodeInput) (*mcp.CallToolResult, any, error) {
	code, scene, err := t.Runner.GenerateCode(ctx, input.Prompt)
	if err != nil {
		var se *pipeline.StageError
		if errors.As(err, &se) && code != "" {
			return toolError("%v\n\n%s", err, code), nil, nil
		}
		return toolError("Failed to generate code: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("# Scene: %s\n%s", scene, code)}},
	}, nil, nil
}

func (t *Tools) ListSuggestions(_ context.Context, _ *mcp.CallToolRequest, _ ListSuggestionsInput) (*mcp.CallToolResult, any, error) {
	return toolJSON(t.Runner.Suggestions())
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
