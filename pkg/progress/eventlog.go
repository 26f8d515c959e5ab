package progress

import (
	"specforge/pkg/eventlog"
	"specforge/pkg/logx"
	"specforge/pkg/pipeline"
)

// EventLog appends every event to a JSONL event log.
type EventLog struct {
	w      *eventlog.Writer
	logger *logx.Logger
}

// NewEventLog opens an event log in dir.
func NewEventLog(dir string) (*EventLog, error) {
	w, err := eventlog.NewWriter(dir)
	if err != nil {
		return nil, err //nolint:wrapcheck // already descriptive
	}
	return &EventLog{w: w, logger: logx.NewLogger("progress-eventlog")}, nil
}

func (e *EventLog) OnProgress(ev pipeline.ProgressEvent) {
	if err := e.w.WriteEvent(ev); err != nil {
		e.logger.Warn("append progress event: %v", err)
	}
}

// Path returns the file currently written.
func (e *EventLog) Path() string { return e.w.CurrentLogFile() }

// Close closes the underlying file.
func (e *EventLog) Close() error { return e.w.Close() } //nolint:wrapcheck // already descriptive
