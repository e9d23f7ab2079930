package domain

import (
	"fmt"
	"strings"
)

// Quality is a Manim render quality preset.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	Quality4K     Quality = "4k"
)

// Qualities lists the supported presets from fastest to slowest.
var Qualities = []Quality{QualityLow, QualityMedium, QualityHigh, Quality4K}

// fallbackFolder is the directory Manim uses for its default (medium) quality.
const fallbackFolder = "720p30"

// ParseQuality accepts a preset name or its Manim flag ("-ql").
func ParseQuality(s string) (Quality, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, q := range Qualities {
		if v == string(q) || v == q.Flag() {
			return q, nil
		}
	}
	return "", fmt.Errorf("unknown quality %q", s)
}

// Flag returns the manim command-line flag for the preset.
func (q Quality) Flag() string {
	switch q {
	case QualityLow:
		return "-ql"
	case QualityMedium:
		return "-qm"
	case QualityHigh:
		return "-qh"
	case Quality4K:
		return "-qk"
	default:
		return "-qm"
	}
}

// Folder returns the resolution/framerate directory Manim writes videos into.
func (q Quality) Folder() string {
	switch q {
	case QualityLow:
		return "480p15"
	case QualityMedium:
		return "720p30"
	case QualityHigh:
		return "1080p60"
	case Quality4K:
		return "2160p60"
	default:
		return fallbackFolder
	}
}
