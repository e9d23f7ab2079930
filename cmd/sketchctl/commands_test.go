package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/sketchmotion/internal/prompt"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		jsonOutput = false
		_ = suggestionsCmd.Flags().Set("pack", "")
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSuggestionsCommand(t *testing.T) {
	out, err := runRoot(t, "suggestions")
	if err != nil {
		t.Fatalf("suggestions failed: %v", err)
	}
	if !strings.Contains(out, "Square to Circle") || !strings.Contains(out, "A square transforms into a circle.") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestSuggestionsCommandJSONFromPack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.yaml")
	pack := "template: \"Make {{.UserPrompt}}\"\nsuggestions:\n  - label: Dot\n    prompt: A dot appears.\n"
	if err := os.WriteFile(path, []byte(pack), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runRoot(t, "suggestions", "--json", "--pack", path)
	if err != nil {
		t.Fatalf("suggestions failed: %v", err)
	}
	var got []prompt.Suggestion
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got) != 1 || got[0].Label != "Dot" {
		t.Errorf("unexpected suggestions %+v", got)
	}
}

func TestRenderRequiresDescription(t *testing.T) {
	if _, err := runRoot(t, "render"); err == nil {
		t.Fatal("expected argument error")
	}
}
