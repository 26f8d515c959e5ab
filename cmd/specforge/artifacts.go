package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"specforge/pkg/metrics"
	"specforge/pkg/pipeline"
)

// MinRequestChars is the shortest accepted feature request.
const MinRequestChars = 10

// runStatus follows pending -> running -> completed | failed.
type runStatus string

const (
	statusPending   runStatus = "pending"
	statusRunning   runStatus = "running"
	statusCompleted runStatus = "completed"
	statusFailed    runStatus = "failed"
)

// job is one feature request handed to the pipeline.
type job struct {
	Title   string `yaml:"title" json:"title"`
	Request string `yaml:"request" json:"request"`
}

// validate enforces the request length and, when a title is given, that it
// is not blank.
func (j job) validate(titleGiven bool) error {
	if utf8.RuneCountInString(strings.TrimSpace(j.Request)) < MinRequestChars {
		return fmt.Errorf("feature request must be at least %d characters", MinRequestChars)
	}
	if titleGiven && strings.TrimSpace(j.Title) == "" {
		return errors.New("title must not be empty")
	}
	return nil
}

// runRecord is written as result.json.
type runRecord struct {
	Title      string              `json:"title,omitempty"`
	Request    string              `json:"request"`
	Status     runStatus           `json:"status"`
	Model      string              `json:"model"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Duration   string              `json:"duration"`
	Result     *pipeline.RunResult `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
	FailedAt   pipeline.Stage      `json:"failed_stage,omitempty"`
	Usage      *metrics.Summary    `json:"usage,omitempty"`
}

//nolint:gochecknoglobals // static lookup
var extensions = map[string]string{
	"python":     "py",
	"go":         "go",
	"golang":     "go",
	"typescript": "ts",
	"javascript": "js",
	"java":       "java",
	"kotlin":     "kt",
	"rust":       "rs",
	"ruby":       "rb",
	"csharp":     "cs",
	"c#":         "cs",
	"php":        "php",
	"swift":      "swift",
}

func extensionFor(language string) string {
	if ext, ok := extensions[strings.ToLower(strings.TrimSpace(language))]; ok {
		return ext
	}
	return "txt"
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// slug makes a directory-safe name from a title or request.
func slug(s string) string {
	s = slugUnsafe.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if len(s) > 48 {
		s = strings.TrimRight(s[:48], "-")
	}
	if s == "" {
		return "run"
	}
	return s
}

// writeArtifacts writes the run outputs into dir. Stage files are written
// only for completed runs; result.json always.
func writeArtifacts(dir, language string, rec *runRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if rec.Result != nil {
		ext := extensionFor(language)
		files := []struct {
			name, content string
		}{
			{"specification.md", rec.Result.Specification},
			{"tests." + ext, rec.Result.Tests},
			{"implementation." + ext, rec.Result.Implementation},
			{"review.md", rec.Result.Review},
		}
		for _, f := range files {
			if err := os.WriteFile(filepath.Join(dir, f.name), []byte(ensureNewline(f.content)), 0o644); err != nil { //nolint:gosec // generated output
				return fmt.Errorf("write %s: %w", f.name, err)
			}
		}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "result.json"), append(data, '\n'), 0o644); err != nil { //nolint:gosec // generated output
		return fmt.Errorf("write result.json: %w", err)
	}
	return nil
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
