package codegen

import (
	"regexp"
	"strings"
)

var (
	fencePattern = regexp.MustCompile("(?s)```[ \\t]*[A-Za-z0-9_+-]*[ \\t]*\\r?\\n(.*?)```")
	scenePattern = regexp.MustCompile(`(?m)^\s*class\s+(\w+)\s*\(\s*(?:\w+\.)?(\w*Scene)\s*\)\s*:`)
)

// ExtractCode pulls the source out of a model reply. The body of the first
// fenced block wins; otherwise the whole reply is used with any stray
// leading or trailing fence stripped.
func ExtractCode(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoCode
	}

	if m := fencePattern.FindStringSubmatch(text); m != nil {
		code := strings.TrimSpace(m[1])
		if code == "" {
			return "", ErrNoCode
		}
		return code, nil
	}

	code := text
	if strings.HasPrefix(code, "```") {
		// Opening fence with no closing one.
		if i := strings.IndexByte(code, '\n'); i >= 0 {
			code = code[i+1:]
		} else {
			code = ""
		}
	}
	code = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(code), "```"))
	if code == "" {
		return "", ErrNoCode
	}
	return code, nil
}

// SceneName returns the first class deriving from a Scene type, such as
// Scene, MovingCameraScene or ThreeDScene.
func SceneName(code string) (string, error) {
	m := scenePattern.FindStringSubmatch(code)
	if m == nil {
		return "", ErrNoScene
	}
	return m[1], nil
}
