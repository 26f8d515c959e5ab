package progress

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"specforge/pkg/logx"
	"specforge/pkg/pipeline"
)

// NATS publishes events as JSON on <subject>.<run id>.
type NATS struct {
	nc      *nats.Conn
	owned   bool
	subject string
	logger  *logx.Logger
}

// NewNATS publishes on an existing connection, which the caller keeps owning.
func NewNATS(nc *nats.Conn, subject string) *NATS {
	return &NATS{nc: nc, subject: subject, logger: logx.NewLogger("progress-nats")}
}

// DialNATS connects to url and publishes on subject. Close drains the connection.
func DialNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("specforge"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	n := NewNATS(nc, subject)
	n.owned = true
	return n, nil
}

// Subject returns the subject an event for runID is published on.
func (n *NATS) Subject(runID string) string {
	if runID == "" {
		return n.subject
	}
	return n.subject + "." + runID
}

// OnProgress publishes without waiting for acknowledgement. Failures are
// logged; progress delivery never fails a run.
func (n *NATS) OnProgress(ev pipeline.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Warn("encode progress event: %v", err)
		return
	}
	if err := n.nc.Publish(n.Subject(ev.RunID), data); err != nil {
		n.logger.Warn("publish progress event: %v", err)
	}
}

// Close flushes pending events and, for dialled connections, drains them.
func (n *NATS) Close() error {
	if !n.owned {
		if err := n.nc.Flush(); err != nil {
			return fmt.Errorf("flush nats: %w", err)
		}
		return nil
	}
	if err := n.nc.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
