// Package events publishes scan and report lifecycle events.
//
// Publishing is fire-and-forget from the caller's point of view: a failed
// publish is logged and never changes the state of the record it describes.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexasecurity/nexasec/internal/log"
)

// Type names an event. It doubles as the AMQP routing key.
type Type string

const (
	ScanCreated     Type = "scan.created"
	ScanRunning     Type = "scan.running"
	ScanCompleted   Type = "scan.completed"
	ScanFailed      Type = "scan.failed"
	ScanCancelled   Type = "scan.cancelled"
	ReportCompleted Type = "report.completed"
	ReportFailed    Type = "report.failed"
)

// Event is a lifecycle notification about a scan or report.
type Event struct {
	At       time.Time `json:"at"`
	Type     Type      `json:"type"`
	ScanID   string    `json:"scan_id,omitempty"`
	ReportID string    `json:"report_id,omitempty"`
	OwnerID  string    `json:"owner_id"`
	Status   string    `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	Progress float64   `json:"progress"`
}

// Publisher delivers events to interested parties.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// LogPublisher writes every event to the context logger.
type LogPublisher struct{}

// Publish logs the event at info level.
func (LogPublisher) Publish(ctx context.Context, event Event) error {
	logger := log.NewLogger(ctx)
	logger.Info("event",
		zap.String("type", string(event.Type)),
		zap.String("scan_id", event.ScanID),
		zap.String("report_id", event.ReportID),
		zap.String("owner", event.OwnerID),
		zap.String("status", event.Status),
		zap.Float64("progress", event.Progress),
		zap.String("error", event.Error),
	)
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends the event.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events in publish order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types for the given scan id.
func (r *Recorder) Types(scanID string) []Type {
	var types []Type
	for _, e := range r.Events() {
		if e.ScanID == scanID {
			types = append(types, e.Type)
		}
	}
	return types
}

// Emit publishes event through p, stamping the time and logging failures.
func Emit(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if err := p.Publish(ctx, event); err != nil {
		logger := log.NewLogger(ctx)
		logger.Warn("failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
