// Package mcptool exposes animation generation as Model Context Protocol tools.
package mcptool

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ashureev/sketchmotion/internal/domain"
	"github.com/ashureev/sketchmotion/internal/pipeline"
	"github.com/ashureev/sketchmotion/internal/prompt"
)

// UserID owns the jobs created through MCP.
const UserID = "mcp"

// Runner is the part of the pipeline the tools call.
type Runner interface {
	Run(ctx context.Context, userID string, req pipeline.Request) (*domain.Job, error)
	GenerateCode(ctx context.Context, description string) (code, scene string, err error)
	VideoPath(job *domain.Job) string
	Suggestions() []prompt.Suggestion
}

// Options tunes what the tools reveal.
type Options struct {
	// HidePaths leaves local video paths out of results. Set it when the
	// caller is remote and cannot read the server's disk.
	HidePaths bool
}

// New creates an MCP server with the animation tools registered.
func New(runner Runner, version string, opts Options) *mcp.Server {
	t := &Tools{Runner: runner, HidePaths: opts.HidePaths}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "sketchmotion",
		Version: version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "generate_animation",
		Description: "Generate a short Manim animation from a text description and return the rendered video path",
	}, t.GenerateAnimation)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "generate_code",
		Description: "Generate Manim code for a description without rendering it",
	}, t.GenerateCode)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_suggestions",
		Description: "List example animation descriptions",
	}, t.ListSuggestions)

	return srv
}

// HTTPHandler serves srv over the streamable HTTP transport. limit, when
// set, wraps every request.
func HTTPHandler(srv *mcp.Server, limit func(http.Handler) http.Handler) http.Handler {
	var h http.Handler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return srv
	}, nil)
	if limit != nil {
		h = limit(h)
	}
	return h
}
