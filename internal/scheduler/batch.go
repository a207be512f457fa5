// Package scheduler walks tasks through the ordered stage graph. One batch
// run exists at a time; languages within a task are processed sequentially
// because the global run lock would serialize them anyway and sequential
// order keeps progress reporting and stop semantics crisp.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/jmylchreest/dubarr/internal/runner"
	"github.com/jmylchreest/dubarr/internal/service"
	"github.com/jmylchreest/dubarr/internal/service/progress"
)

// State is the batch run state machine.
type State string

const (
	// StateIdle indicates no batch is running.
	StateIdle State = "idle"
	// StateRunning indicates the batch is walking the stage graph.
	StateRunning State = "running"
	// StateStopping indicates a stop was requested and the current stage is
	// being terminated.
	StateStopping State = "stopping"
	// StateStopped indicates the batch ended early on a stop request.
	StateStopped State = "stopped"
)

// Snapshot is the externally visible batch run state.
type Snapshot struct {
	State           State        `json:"state"`
	TotalTasks      int          `json:"total_tasks"`
	CompletedTasks  int          `json:"completed_tasks"`
	TotalStages     int          `json:"total_stages"`
	CompletedStages int          `json:"completed_stages"`
	CurrentTaskID   string       `json:"current_task_id,omitempty"`
	CurrentLanguage string       `json:"current_language,omitempty"`
	CurrentStage    models.Stage `json:"current_stage,omitempty"`
	Error           string       `json:"error,omitempty"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	FinishedAt      *time.Time   `json:"finished_at,omitempty"`
}

// Request describes one batch start.
type Request struct {
	// TaskIDs are processed sequentially in the given order.
	TaskIDs []models.ULID
	// Languages are the target language tags, already canonicalized.
	Languages []string
	// SpeakerVoiceMapping, when non-empty, is persisted into each task's
	// config before its stages run.
	SpeakerVoiceMapping map[string]string
}

// Batch coordinates sequential execution of the stage graph over one or
// more tasks. At most one run is active process-wide.
type Batch struct {
	store  *service.TaskService
	runner *runner.StageRunner
	bus    *progress.Bus
	logger *slog.Logger

	mu       sync.Mutex
	snapshot Snapshot
	stopReq  bool
}

// NewBatch creates the batch scheduler.
func NewBatch(store *service.TaskService, stageRunner *runner.StageRunner, bus *progress.Bus) *Batch {
	return &Batch{
		store:  store,
		runner: stageRunner,
		bus:    bus,
		logger: slog.Default().With("component", "batch_scheduler"),
		snapshot: Snapshot{
			State: StateIdle,
		},
	}
}

// WithLogger sets the logger.
func (b *Batch) WithLogger(logger *slog.Logger) *Batch {
	b.logger = logger.With("component", "batch_scheduler")
	return b
}

// Status returns the current snapshot.
func (b *Batch) Status() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot
}

// Start begins a batch run in the background. Returns ErrConflict when a
// run is already active, and validates every task id up front.
func (b *Batch) Start(ctx context.Context, req Request) error {
	if len(req.TaskIDs) == 0 {
		return errors.New("no tasks given")
	}
	if len(req.Languages) == 0 {
		return errors.New("no target languages given")
	}

	b.mu.Lock()
	if b.snapshot.State == StateRunning || b.snapshot.State == StateStopping {
		b.mu.Unlock()
		return fmt.Errorf("%w: a batch is already running", models.ErrConflict)
	}
	b.mu.Unlock()

	// Validate tasks and persist config before flipping state.
	plans := make([]*taskPlan, 0, len(req.TaskIDs))
	totalStages := 0
	for _, id := range req.TaskIDs {
		task, err := b.store.Get(ctx, id)
		if err != nil {
			return err
		}
		task, err = b.store.UpdateConfig(ctx, id, func(c *models.TaskConfig) {
			for _, lang := range req.Languages {
				if !slices.Contains(c.TargetLanguages, lang) {
					c.TargetLanguages = append(c.TargetLanguages, lang)
				}
			}
			if len(req.SpeakerVoiceMapping) > 0 {
				c.SpeakerVoiceMapping = req.SpeakerVoiceMapping
			}
		})
		if err != nil {
			return err
		}

		plan := &taskPlan{task: task, languages: req.Languages}
		plan.needsDiarization = task.StageStatusFor(models.DefaultLanguage, models.StageSpeakerDiarization).Status != models.StageCompleted
		totalStages += plan.stageCount()
		plans = append(plans, plan)
	}

	b.mu.Lock()
	if b.snapshot.State == StateRunning || b.snapshot.State == StateStopping {
		b.mu.Unlock()
		return fmt.Errorf("%w: a batch is already running", models.ErrConflict)
	}
	now := time.Now()
	b.stopReq = false
	b.snapshot = Snapshot{
		State:       StateRunning,
		TotalTasks:  len(plans),
		TotalStages: totalStages,
		StartedAt:   &now,
	}
	b.mu.Unlock()

	go b.run(plans)
	return nil
}

// Stop requests cooperative cancellation: no further stage starts, and the
// currently running worker is terminated. Returns an error when no run is
// active.
func (b *Batch) Stop() error {
	b.mu.Lock()
	if b.snapshot.State != StateRunning {
		b.mu.Unlock()
		return fmt.Errorf("%w: no batch is running", models.ErrConflict)
	}
	b.snapshot.State = StateStopping
	b.stopReq = true
	b.mu.Unlock()

	// Kill the in-flight worker, if any.
	b.runner.Lock().RequestCancel()
	b.logger.Info("batch stop requested")
	return nil
}

// taskPlan is one task's slice of the batch.
type taskPlan struct {
	task             *models.Task
	languages        []string
	needsDiarization bool
}

// stageCount returns the number of stages the plan will run.
func (p *taskPlan) stageCount() int {
	count := len(p.languages) * len(models.PipelineStages)
	if p.needsDiarization {
		count++
	}
	return count
}

// run executes the batch to completion, a stop, or a failure. It owns the
// state machine transitions out of running.
func (b *Batch) run(plans []*taskPlan) {
	ctx := context.Background()

	for _, plan := range plans {
		if b.stopRequested() {
			b.finish(StateStopped, "")
			return
		}

		if err := b.runTask(ctx, plan); err != nil {
			if errors.Is(err, models.ErrCancelled) {
				b.finish(StateStopped, "")
			} else {
				// A stage failure ends the batch; the task already carries
				// the failed stage state.
				b.finish(StateIdle, err.Error())
			}
			return
		}

		b.mu.Lock()
		b.snapshot.CompletedTasks++
		b.mu.Unlock()
	}

	b.finish(StateIdle, "")
}

// runTask walks one task through diarization and the per-language graph.
func (b *Batch) runTask(ctx context.Context, plan *taskPlan) error {
	taskID := plan.task.ID

	if plan.needsDiarization {
		if err := b.runStage(ctx, taskID, models.DefaultLanguage, models.StageSpeakerDiarization); err != nil {
			return err
		}
	}

	for _, lang := range plan.languages {
		for _, stage := range models.PipelineStages {
			if b.stopRequested() {
				return fmt.Errorf("%w: batch stopped", models.ErrCancelled)
			}
			if err := b.runStage(ctx, taskID, lang, stage); err != nil {
				return err
			}
		}
	}
	return nil
}

// runStage advances the snapshot, executes one stage, and broadcasts the
// batch state around it.
func (b *Batch) runStage(ctx context.Context, taskID models.ULID, language string, stage models.Stage) error {
	b.mu.Lock()
	b.snapshot.CurrentTaskID = taskID.String()
	b.snapshot.CurrentLanguage = language
	b.snapshot.CurrentStage = stage
	snapshot := b.snapshot
	b.mu.Unlock()
	b.bus.PublishBatchState(taskID, snapshot)

	if err := b.runner.Run(ctx, taskID, language, stage); err != nil {
		return err
	}

	b.mu.Lock()
	b.snapshot.CompletedStages++
	b.mu.Unlock()
	return nil
}

// stopRequested reports whether Stop was called.
func (b *Batch) stopRequested() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopReq
}

// finish moves the state machine out of running and broadcasts the final
// snapshot to the last touched task's subscribers.
func (b *Batch) finish(state State, errMsg string) {
	b.mu.Lock()
	now := time.Now()
	b.snapshot.State = state
	b.snapshot.Error = errMsg
	b.snapshot.FinishedAt = &now
	currentTask := b.snapshot.CurrentTaskID
	b.snapshot.CurrentTaskID = ""
	b.snapshot.CurrentLanguage = ""
	b.snapshot.CurrentStage = ""
	snapshot := b.snapshot
	b.mu.Unlock()

	if currentTask != "" {
		if id, err := models.ParseULID(currentTask); err == nil {
			b.bus.PublishBatchState(id, snapshot)
		}
	}

	b.logger.Info("batch finished",
		slog.String("state", string(state)),
		slog.String("error", errMsg),
		slog.Int("completed_stages", snapshot.CompletedStages),
		slog.Int("total_stages", snapshot.TotalStages),
	)
}
