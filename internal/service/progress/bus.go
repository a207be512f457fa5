package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/jmylchreest/dubarr/internal/service"
)

// Bus is the single entry point for stage progress. Publish order is fixed:
// durable store update first, audit log second, subscriber fan-out last, so
// a pushed event is never ahead of what a subsequent read would return.
type Bus struct {
	store    *service.TaskService
	registry *Registry
	tracker  ExecutionTracker
	logger   *slog.Logger

	// Monotonic progress clamp per (task, language, stage) run.
	mu   sync.Mutex
	last map[progressKey]int
}

type progressKey struct {
	taskID   models.ULID
	language string
	stage    models.Stage
}

// NewBus creates a new progress bus.
func NewBus(store *service.TaskService, registry *Registry, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		store:    store,
		registry: registry,
		logger:   logger.With("component", "progress_bus"),
		last:     make(map[progressKey]int),
	}
}

// WithExecutionTracker wires the global run lock's execution record.
func (b *Bus) WithExecutionTracker(tracker ExecutionTracker) *Bus {
	b.tracker = tracker
	return b
}

// Registry returns the subscriber registry the bus fans out to.
func (b *Bus) Registry() *Registry {
	return b.registry
}

// Publish records one progress event. The store write must succeed; log
// append and fan-out failures never roll it back. Progress values are
// clamped monotonic within a run and reset when a new run starts.
func (b *Bus) Publish(ctx context.Context, taskID models.ULID, language string, stage models.Stage, status models.StageState, prog int, message string) error {
	prog = b.clampProgress(taskID, language, stage, status, prog)

	delta := models.StageDelta{
		Status:   &status,
		Progress: &prog,
		Message:  &message,
	}
	_, merged, err := b.store.UpdateStageStatus(ctx, taskID, language, stage, delta)
	if err != nil {
		return err
	}

	if logErr := b.store.AppendLog(ctx, taskID, language, stage, merged.Status, merged.Progress, merged.Message); logErr != nil {
		b.logger.Warn("processing log append failed",
			slog.String("task_id", taskID.String()),
			slog.String("language", language),
			slog.String("stage", string(stage)),
			slog.String("error", logErr.Error()),
		)
	}

	if b.tracker != nil {
		if merged.Status.IsTerminal() {
			b.tracker.ClearExecution(taskID, language, stage)
		} else {
			b.tracker.UpdateExecution(taskID, language, stage, merged.Progress, merged.Message)
		}
	}

	b.registry.Broadcast(taskID.String(), &Event{
		Type:      EventTypeProgress,
		TaskID:    taskID.String(),
		Language:  language,
		Stage:     stage,
		Status:    merged.Status,
		Progress:  merged.Progress,
		Message:   merged.Message,
		Timestamp: time.Now(),
	})

	return nil
}

// PublishBatchState broadcasts a batch run snapshot to a task's subscribers.
// Batch state is in-memory only; nothing is persisted.
func (b *Bus) PublishBatchState(taskID models.ULID, snapshot any) {
	b.registry.Broadcast(taskID.String(), &Event{
		Type:      EventTypeBatchState,
		TaskID:    taskID.String(),
		Batch:     snapshot,
		Timestamp: time.Now(),
	})
}

// clampProgress enforces monotonicity within one run of a stage. Terminal
// statuses end the run and forget the clamp state, so the next run's first
// publish is taken as given.
func (b *Bus) clampProgress(taskID models.ULID, language string, stage models.Stage, status models.StageState, prog int) int {
	if prog < 0 {
		prog = 0
	}
	if prog > 100 {
		prog = 100
	}

	key := progressKey{taskID: taskID, language: language, stage: stage}

	b.mu.Lock()
	defer b.mu.Unlock()

	if status.IsTerminal() {
		if prev, ok := b.last[key]; ok && prog < prev && status == models.StageFailed {
			// A failure keeps the last progress the run reached.
			prog = prev
		}
		delete(b.last, key)
		return prog
	}

	prev, ok := b.last[key]
	if ok && prog < prev {
		prog = prev
	}
	b.last[key] = prog
	return prog
}
