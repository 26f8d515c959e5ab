package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"specforge/pkg/pipeline"
)

//nolint:gochecknoglobals // palette
var (
	colorAccent  = lipgloss.Color("#20B9B4")
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#5C7A84")

	stageStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Width(14)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorError)
)

const barWidth = 20

// Console renders one styled line per event to w.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console observer writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) OnProgress(ev pipeline.ProgressEvent) {
	line := c.render(ev)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, line)
}

func (c *Console) render(ev pipeline.ProgressEvent) string {
	bar := mutedStyle.Render(fmt.Sprintf("[%s] %3d%%", progressBar(ev.Progress), ev.Progress))
	if ev.Terminal() {
		style := successStyle
		switch ev.Outcome {
		case pipeline.OutcomeFailed:
			style = errorStyle
		case pipeline.OutcomeLimitReached:
			style = warningStyle
		}
		return bar + " " + style.Render(ev.Message)
	}

	stage := stageStyle.Render(string(ev.Stage))
	attempt := ""
	if ev.Stage == pipeline.StageDevelopment || ev.Stage == pipeline.StageReview {
		attempt = mutedStyle.Render(fmt.Sprintf(" %d/%d", ev.Iteration+1, ev.MaxIterations))
	}
	return bar + " " + stage + ev.Message + attempt
}

func progressBar(pct int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct * barWidth / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}
