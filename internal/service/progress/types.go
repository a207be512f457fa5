// Package progress provides the progress bus and push subscriber registry.
// One worker-emitted progress event becomes (a) a durable task store update,
// (b) an audit log row, and (c) a broadcast to subscribed clients, in that
// order.
package progress

import (
	"time"

	"github.com/jmylchreest/dubarr/internal/models"
)

// Event types pushed to subscribers.
const (
	// EventTypeProgress is a stage progress update.
	EventTypeProgress = "progress_update"
	// EventTypeBatchState is a batch run state change.
	EventTypeBatchState = "batch_state"
)

// Event is the JSON payload delivered over the push channel.
type Event struct {
	// Type identifies the event kind.
	Type string `json:"type"`
	// TaskID is the task the event belongs to.
	TaskID string `json:"task_id"`
	// Language is the target language tag (progress_update only).
	Language string `json:"language,omitempty"`
	// Stage is the pipeline stage (progress_update only).
	Stage models.Stage `json:"stage,omitempty"`
	// Status is the stage state (progress_update only).
	Status models.StageState `json:"status,omitempty"`
	// Progress is the stage progress 0-100 (progress_update only).
	Progress int `json:"progress"`
	// Message describes the current activity.
	Message string `json:"message,omitempty"`
	// Batch carries the batch run snapshot (batch_state only).
	Batch any `json:"batch,omitempty"`
	// Timestamp is when the event was generated.
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionTracker receives execution record updates from the bus. The
// global run lock implements it; the indirection keeps this package free of
// a dependency on the runner.
type ExecutionTracker interface {
	// UpdateExecution refreshes the running record's latest progress/message.
	UpdateExecution(taskID models.ULID, language string, stage models.Stage, progress int, message string)
	// ClearExecution drops the running record after a terminal status.
	ClearExecution(taskID models.ULID, language string, stage models.Stage)
}
