package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/ashureev/sketchmotion/internal/app"
	"github.com/ashureev/sketchmotion/internal/mcptool"
	"github.com/ashureev/sketchmotion/internal/pipeline"
	"github.com/ashureev/sketchmotion/internal/prompt"
)

// cliUser owns jobs created from the command line.
const cliUser = "cli"

var (
	renderQuality string
	renderOutput  bool
	mcpTransport  string
	mcpAddr       string
	jsonOutput    bool
)

var renderCmd = &cobra.Command{
	Use:   "render <description>",
	Short: "Generate and render an animation, printing the video path",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description := strings.Join(args, " ")
		return withApp(cmd.Context(), func(a *app.App) error {
			job, err := a.Pipeline.Run(cmd.Context(), cliUser, pipeline.Request{Prompt: description, Quality: renderQuality})
			if job == nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err != nil {
				if renderOutput {
					printOutput(cmd, job.Stdout, job.Stderr)
				}
				return errors.New(job.Error)
			}
			if renderOutput {
				printOutput(cmd, job.Stdout, job.Stderr)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Rendered %s in %s\n", job.SceneName, job.Elapsed(time.Now()).Round(time.Millisecond))
			fmt.Fprintln(out, a.Pipeline.VideoPath(job))
			return nil
		})
	},
}

var codeCmd = &cobra.Command{
	Use:   "code <description>",
	Short: "Print the Manim code generated for a description without rendering",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			code, scene, err := a.Pipeline.GenerateCode(cmd.Context(), strings.Join(args, " "))
			if code != "" {
				fmt.Fprintln(cmd.OutOrStdout(), code)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Scene: %s\n", scene)
			return nil
		})
	},
}

var suggestionsCmd = &cobra.Command{
	Use:   "suggestions",
	Short: "List example descriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		lib := prompt.Default()
		if path, _ := cmd.Flags().GetString("pack"); path != "" {
			var err error
			if lib, err = prompt.Load(path); err != nil {
				return err
			}
		}
		return printSuggestions(cmd, lib.Suggestions())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the animation tools over the Model Context Protocol",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			srv := mcptool.New(a.Pipeline, version, mcptool.Options{})
			switch mcpTransport {
			case "stdio":
				return srv.Run(cmd.Context(), &mcp.StdioTransport{})
			case "http":
				hs := &http.Server{Addr: mcpAddr, Handler: mcptool.HTTPHandler(srv, nil), ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-cmd.Context().Done()
					_ = hs.Close()
				}()
				fmt.Fprintf(cmd.ErrOrStderr(), "MCP server listening on %s\n", mcpAddr)
				if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			default:
				return fmt.Errorf("unknown transport %q (use stdio or http)", mcpTransport)
			}
		})
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderQuality, "quality", "q", "", "Render quality: low, medium, high or 4k")
	renderCmd.Flags().BoolVar(&renderOutput, "output", false, "Print Manim's stdout and stderr")

	suggestionsCmd.Flags().String("pack", "", "Prompt pack YAML to read instead of the built-in one")
	suggestionsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print as JSON")

	mcpCmd.Flags().StringVar(&mcpTransport, "transport", "stdio", "Transport: stdio or http")
	mcpCmd.Flags().StringVar(&mcpAddr, "addr", ":8081", "Listen address for the http transport")
}

func printOutput(cmd *cobra.Command, stdout, stderr string) {
	w := cmd.ErrOrStderr()
	fmt.Fprintln(w, "--- manim stdout ---")
	fmt.Fprintln(w, orNone(stdout, "No standard output."))
	fmt.Fprintln(w, "--- manim stderr ---")
	fmt.Fprintln(w, orNone(stderr, "No standard error."))
}

func printSuggestions(cmd *cobra.Command, suggestions []prompt.Suggestion) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(suggestions)
	}
	for _, s := range suggestions {
		fmt.Fprintf(out, "%-18s %s\n", s.Label, s.Prompt)
	}
	return nil
}

func orNone(s, none string) string {
	if strings.TrimSpace(s) == "" {
		return none
	}
	return s
}
