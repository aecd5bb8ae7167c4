package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Worker manages the embedded Asynq server that drains the activity queue,
// plus a shared client for enqueuing. It runs as a goroutine inside the
// broker process, connecting to Redis for persistent task processing.
type Worker struct {
	server *asynq.Server
	client *asynq.Client
	log    zerolog.Logger
}

// NewWorker creates a Worker bound to the given Redis address. Call Start to
// begin processing and Shutdown to stop.
func NewWorker(redisAddr string, log zerolog.Logger) *Worker {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			"default": 3,
			"low":     1,
		},
	})
	return &Worker{
		server: srv,
		client: asynq.NewClient(opt),
		log:    log,
	}
}

// Client returns the shared Asynq client for enqueuing.
func (w *Worker) Client() *asynq.Client { return w.client }

// Recorder returns a QueueRecorder backed by this worker's client.
func (w *Worker) Recorder() *QueueRecorder {
	return NewQueueRecorder(w.client, w.log)
}

// Start begins processing tasks in a background goroutine. Call once per
// process lifecycle.
func (w *Worker) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRecord, w.handleRecord)
	go func() {
		if err := w.server.Run(mux); err != nil {
			w.log.Error().Err(err).Msg("activity worker stopped")
		}
	}()
}

// Shutdown gracefully stops the worker and closes the client connection.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	_ = w.client.Close()
}

// handleRecord is the sink for one queued entry. The durable store behind it
// is the structured log stream.
func (w *Worker) handleRecord(_ context.Context, t *asynq.Task) error {
	var entry Entry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		return fmt.Errorf("activity: decode record task: %w", err)
	}
	if err := entry.Validate(); err != nil {
		// Malformed entries are dropped, not retried.
		w.log.Warn().Err(err).Msg("activity record skipped")
		return nil
	}
	w.log.Info().
		Str("session_id", entry.SessionID).
		Str("user_id", entry.UserID).
		Str("action", entry.Action).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		Str("status", entry.Status).
		Str("ip", entry.IP).
		Interface("detail", entry.Detail).
		Time("at", entry.At).
		Msg("activity")
	return nil
}
