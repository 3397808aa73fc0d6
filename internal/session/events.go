package session

import (
	"context"
	"encoding/json"
	"time"

	"madrasa/internal/queue"
)

// Event kinds published by the session workflow.
const (
	EventMarked     = "attendance_marked"
	EventVerified   = "fingerprint_verified"
	EventSuspicious = "suspicious_activity"
	EventScanFailed = "scan_failed"
	EventCommitted  = "attendance_committed"
	EventEnrolled   = "fingerprint_enrolled"
)

// Event is one user-facing notification emitted by the workflow. The session
// never talks to a presentation layer directly; whatever is wired in as the
// Notifier decides what the operator sees.
type Event struct {
	Kind        string    `json:"kind"`
	Date        string    `json:"date,omitempty"`
	StudentID   string    `json:"studentId,omitempty"`
	StudentName string    `json:"studentName,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier receives workflow events.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// NopNotifier drops events; used in tests.
type NopNotifier struct{}

// Notify discards the event.
func (NopNotifier) Notify(context.Context, Event) {}

// QueueNotifier publishes events onto the work queue for the worker to
// persist and announce. Publish failures are swallowed: notifications are
// best effort and never fail an attendance action.
type QueueNotifier struct {
	q queue.Queue
}

// NewQueueNotifier wraps a queue.
func NewQueueNotifier(q queue.Queue) *QueueNotifier {
	return &QueueNotifier{q: q}
}

// Notify serializes and enqueues the event.
func (n *QueueNotifier) Notify(ctx context.Context, evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return
	}
	_ = n.q.Publish(ctx, queue.Message{Type: evt.Kind, Body: body})
}
