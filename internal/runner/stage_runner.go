package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/jmylchreest/dubarr/internal/service"
	"github.com/jmylchreest/dubarr/internal/service/progress"
	"github.com/jmylchreest/dubarr/internal/worker"
)

// StageRunner executes one (task, language, stage) under the global run
// lock, streaming worker progress through the progress bus and capturing
// failure into task state.
type StageRunner struct {
	store   *service.TaskService
	bus     *progress.Bus
	adapter *worker.Adapter
	lock    *RunLock
	logger  *slog.Logger
}

// NewStageRunner creates a stage runner.
func NewStageRunner(store *service.TaskService, bus *progress.Bus, adapter *worker.Adapter, lock *RunLock) *StageRunner {
	return &StageRunner{
		store:   store,
		bus:     bus,
		adapter: adapter,
		lock:    lock,
		logger:  slog.Default().With("component", "stage_runner"),
	}
}

// WithLogger sets the logger.
func (r *StageRunner) WithLogger(logger *slog.Logger) *StageRunner {
	r.logger = logger.With("component", "stage_runner")
	return r
}

// Lock returns the global run lock.
func (r *StageRunner) Lock() *RunLock {
	return r.lock
}

// Run executes one stage to completion. It fails fast with ErrConflict when
// another stage holds the run lock. Stage failure is recorded in task state
// and returned; the caller decides whether to surface it.
func (r *StageRunner) Run(ctx context.Context, taskID models.ULID, language string, stage models.Stage) error {
	if !stage.IsValid() {
		return fmt.Errorf("%w: %s", models.ErrInvalidStage, stage)
	}
	if stage.IsGlobal() != (language == models.DefaultLanguage) {
		return fmt.Errorf("%w: stage %s cannot run under language %q", models.ErrInvalidStage, stage, language)
	}

	task, err := r.store.Get(ctx, taskID)
	if err != nil {
		return err
	}

	token, held := r.lock.TryAcquire(taskID, language, stage)
	if token == nil {
		return fmt.Errorf("%w: %s %s/%s is running", models.ErrConflict, held.TaskID, held.Language, held.Stage)
	}
	// Release on every exit path, panics included.
	defer r.lock.Release(token)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.lock.RegisterCancel(token, cancel)

	if err := r.bus.Publish(runCtx, taskID, language, stage, models.StageProcessing, 0, "starting "+string(stage)); err != nil {
		return err
	}

	lastProgress := 0
	fail := func(runErr error) error {
		message := runErr.Error()
		if errors.Is(runErr, models.ErrCancelled) {
			message = "cancelled"
		}
		if pubErr := r.bus.Publish(context.WithoutCancel(runCtx), taskID, language, stage, models.StageFailed, lastProgress, message); pubErr != nil {
			r.logger.Error("recording stage failure failed",
				slog.String("task_id", taskID.String()),
				slog.String("stage", string(stage)),
				slog.String("error", pubErr.Error()),
			)
		}
		return runErr
	}

	requestPath, err := r.writeRequest(task, language, stage)
	if err != nil {
		return fail(err)
	}

	result, err := r.adapter.Run(runCtx, stage, requestPath, func(update worker.ProgressUpdate) {
		if update.HasProgress && update.Progress > lastProgress {
			lastProgress = update.Progress
		}
		// A lost tick is not a stage failure.
		_ = r.bus.Publish(runCtx, taskID, language, stage, models.StageProcessing, lastProgress, update.Message)
	})
	if err != nil {
		return fail(err)
	}

	if err := r.persistOutputs(task, language, stage, result.Document); err != nil {
		return fail(err)
	}

	if err := r.bus.Publish(context.WithoutCancel(runCtx), taskID, language, stage, models.StageCompleted, 100, string(stage)+" completed"); err != nil {
		// The run succeeded but its completion could not be recorded; this
		// is the one publish failure that must fail the stage.
		return fmt.Errorf("recording stage completion: %w", err)
	}

	r.logger.Info("stage completed",
		slog.String("task_id", taskID.String()),
		slog.String("language", language),
		slog.String("stage", string(stage)),
		slog.Duration("duration", result.Duration),
	)
	return nil
}
