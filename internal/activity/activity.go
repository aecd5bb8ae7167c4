// Package activity records session activity events. Writes are fire-and-
// forget: a recording failure is logged and swallowed, it must never break
// the session that produced it.
//
// Events flow through an Asynq queue so the serving path never blocks on the
// sink; the embedded worker drains the queue in the background.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var validStatuses = map[string]bool{
	StatusPending: true,
	StatusSuccess: true,
	StatusFailed:  true,
}

// TaskRecord is the Asynq task type for one activity record.
const TaskRecord = "activity:record"

// Entry holds all fields for a single activity record. A named struct avoids
// the swap-bug risk of consecutive string parameters.
type Entry struct {
	// SessionID identifies the terminal session the event belongs to.
	SessionID string `json:"session_id"`
	// UserID is the actor; "unknown" for unauthenticated failures.
	UserID string `json:"user_id"`
	// Action is a dot-namespaced verb, e.g. "terminal.session.start".
	Action string `json:"action"`
	// ResourceType is the category of the affected resource, e.g. "host".
	ResourceType string `json:"resource_type"`
	// ResourceID is the unique key of the affected resource.
	ResourceID string `json:"resource_id"`
	// Status must be one of StatusPending, StatusSuccess, StatusFailed.
	Status string `json:"status"`
	// IP is the client's source address; empty for worker-originated events.
	IP string `json:"ip,omitempty"`
	// Detail holds optional structured context.
	Detail map[string]any `json:"detail,omitempty"`
	// At is the event time in UTC; set by Record when zero.
	At time.Time `json:"at"`
}

// Validate checks the fields the sink relies on.
func (e Entry) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("activity: entry missing action")
	}
	if !validStatuses[e.Status] {
		return fmt.Errorf("activity: invalid status %q", e.Status)
	}
	return nil
}

// Recorder accepts activity entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// NopRecorder discards all entries. Used when no queue is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) {}

// QueueRecorder enqueues entries onto Asynq for background processing.
type QueueRecorder struct {
	client *asynq.Client
	log    zerolog.Logger
}

// NewQueueRecorder wraps an Asynq client.
func NewQueueRecorder(client *asynq.Client, log zerolog.Logger) *QueueRecorder {
	return &QueueRecorder{client: client, log: log}
}

// Record enqueues one entry. Invalid entries and enqueue failures are logged
// and dropped.
func (r *QueueRecorder) Record(ctx context.Context, entry Entry) {
	if err := entry.Validate(); err != nil {
		r.log.Warn().Err(err).Str("action", entry.Action).Msg("activity entry dropped")
		return
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		r.log.Warn().Err(err).Msg("activity entry marshal failed")
		return
	}
	if _, err := r.client.EnqueueContext(ctx, asynq.NewTask(TaskRecord, payload), asynq.Queue("low")); err != nil {
		r.log.Warn().Err(err).Str("action", entry.Action).Msg("activity enqueue failed")
	}
}
