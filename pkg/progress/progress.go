// Package progress provides pipeline.Observer implementations: log lines, a
// styled console, NATS publication, Prometheus counters and a JSONL event log,
// plus a fan-out combinator.
package progress

import (
	"specforge/pkg/logx"
	"specforge/pkg/pipeline"
)

// Multi forwards every event to each non-nil observer in order.
func Multi(observers ...pipeline.Observer) pipeline.Observer {
	out := make(multi, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multi []pipeline.Observer

func (m multi) OnProgress(ev pipeline.ProgressEvent) {
	for _, o := range m {
		o.OnProgress(ev)
	}
}

// Log writes each event as a log line; failed runs are logged at ERROR.
type Log struct {
	logger *logx.Logger
}

// NewLog creates a log observer; nil uses the "progress" component.
func NewLog(logger *logx.Logger) *Log {
	if logger == nil {
		logger = logx.NewLogger("progress")
	}
	return &Log{logger: logger}
}

func (l *Log) OnProgress(ev pipeline.ProgressEvent) {
	switch {
	case ev.Outcome == pipeline.OutcomeFailed:
		l.logger.Error("[%s] %s", short(ev.RunID), ev.Message)
	case ev.Terminal():
		l.logger.Info("[%s] %3d%% %s", short(ev.RunID), ev.Progress, ev.Message)
	default:
		l.logger.Info("[%s] %3d%% %s (%d/%d): %s",
			short(ev.RunID), ev.Progress, ev.Stage, ev.Iteration+1, ev.MaxIterations, ev.Message)
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
