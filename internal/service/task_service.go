// Package service provides business logic services for dubarr.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/jmylchreest/dubarr/internal/repository"
	"github.com/jmylchreest/dubarr/internal/storage"
)

// TaskService is the sole authority over durable task state. All readers and
// writers go through it; stage status updates are serialized per task and
// applied inside a transaction.
type TaskService struct {
	taskRepo repository.TaskRepository
	logRepo  repository.ProcessingLogRepository
	paths    *storage.TaskPaths
	logger   *slog.Logger

	// Per-task serialization of read-merge-write cycles.
	locksMu sync.Mutex
	locks   map[models.ULID]*sync.Mutex
}

// NewTaskService creates a new task service.
func NewTaskService(taskRepo repository.TaskRepository, logRepo repository.ProcessingLogRepository, paths *storage.TaskPaths) *TaskService {
	return &TaskService{
		taskRepo: taskRepo,
		logRepo:  logRepo,
		paths:    paths,
		logger:   slog.Default().With("component", "task_service"),
		locks:    make(map[models.ULID]*sync.Mutex),
	}
}

// WithLogger sets the logger.
func (s *TaskService) WithLogger(logger *slog.Logger) *TaskService {
	s.logger = logger.With("component", "task_service")
	return s
}

// Paths returns the path manager used by this service.
func (s *TaskService) Paths() *storage.TaskPaths {
	return s.paths
}

// taskLock returns the mutex guarding one task's read-merge-write cycles.
func (s *TaskService) taskLock(id models.ULID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if mu, ok := s.locks[id]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	s.locks[id] = mu
	return mu
}

// releaseLock forgets a deleted task's mutex.
func (s *TaskService) releaseLock(id models.ULID) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.locks, id)
}

// Create registers a new task, lays out its directories, and stores the
// uploaded video (and optional subtitle) under them.
func (s *TaskService) Create(ctx context.Context, originalName string, video io.Reader, subtitle io.Reader) (*models.Task, error) {
	if originalName == "" {
		return nil, models.ErrVideoNameRequired
	}

	task := &models.Task{
		VideoOriginalName: originalName,
		LanguageStatus:    models.LanguageStatus{},
	}
	task.ID = models.NewULID()
	task.VideoStoredName = s.paths.StoredVideoName(task.ID.String(), originalName)

	taskID := task.ID.String()
	if err := s.paths.EnsureLayout(taskID); err != nil {
		return nil, fmt.Errorf("creating task layout: %w", err)
	}

	sandbox := s.paths.Sandbox()
	if err := sandbox.AtomicWriteReader(s.paths.VideoFile(taskID, task.VideoStoredName), video); err != nil {
		return nil, fmt.Errorf("storing video: %w", err)
	}

	if subtitle != nil {
		if err := sandbox.AtomicWriteReader(s.paths.SourceSubtitle(taskID), subtitle); err != nil {
			return nil, fmt.Errorf("storing subtitle: %w", err)
		}
		task.SourceSubtitlePresent = true
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		// Don't leave orphaned files behind a failed insert.
		_ = s.paths.DeleteTaskTree(taskID)
		return nil, err
	}

	s.logger.Info("task created",
		slog.String("task_id", taskID),
		slog.String("video", originalName),
		slog.Bool("subtitle", task.SourceSubtitlePresent),
	)
	return task, nil
}

// Get retrieves a task by ID.
func (s *TaskService) Get(ctx context.Context, id models.ULID) (*models.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
	}
	return task, nil
}

// List retrieves tasks newest first.
func (s *TaskService) List(ctx context.Context, offset, limit int) ([]*models.Task, error) {
	return s.taskRepo.List(ctx, offset, limit)
}

// Delete removes the task row, its audit rows, and its whole file tree.
func (s *TaskService) Delete(ctx context.Context, id models.ULID) error {
	mu := s.taskLock(id)
	mu.Lock()
	defer mu.Unlock()

	task, err := s.taskRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
	}

	if err := s.taskRepo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.paths.DeleteTaskTree(id.String()); err != nil {
		s.logger.Warn("task files not fully removed",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
	s.releaseLock(id)

	s.logger.Info("task deleted", slog.String("task_id", id.String()))
	return nil
}

// AttachSubtitle stores a source subtitle uploaded after task creation.
func (s *TaskService) AttachSubtitle(ctx context.Context, id models.ULID, subtitle io.Reader) (*models.Task, error) {
	mu := s.taskLock(id)
	mu.Lock()
	defer mu.Unlock()

	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.paths.Sandbox().AtomicWriteReader(s.paths.SourceSubtitle(id.String()), subtitle); err != nil {
		return nil, fmt.Errorf("storing subtitle: %w", err)
	}

	task.SourceSubtitlePresent = true
	if err := s.taskRepo.Save(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateConfig applies fn to the task's config under the per-task lock and
// persists the result.
func (s *TaskService) UpdateConfig(ctx context.Context, id models.ULID, fn func(*models.TaskConfig)) (*models.Task, error) {
	mu := s.taskLock(id)
	mu.Lock()
	defer mu.Unlock()

	var updated *models.Task
	err := s.taskRepo.Transaction(ctx, func(repo repository.TaskRepository) error {
		task, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
		}
		fn(&task.Config)
		if err := repo.Save(ctx, task); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateStageStatus merges a partial stage update into the task under a
// transaction: re-reads the row, merges, re-derives overall status, writes
// back. Returns the updated task and the merged stage block so the progress
// bus can broadcast them.
func (s *TaskService) UpdateStageStatus(ctx context.Context, id models.ULID, lang string, stage models.Stage, delta models.StageDelta) (*models.Task, models.StageStatus, error) {
	if !stage.IsValid() {
		return nil, models.StageStatus{}, fmt.Errorf("%w: %s", models.ErrInvalidStage, stage)
	}

	mu := s.taskLock(id)
	mu.Lock()
	defer mu.Unlock()

	var (
		updated *models.Task
		merged  models.StageStatus
	)
	err := s.taskRepo.Transaction(ctx, func(repo repository.TaskRepository) error {
		task, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
		}
		merged = task.ApplyStageDelta(lang, stage, delta)
		if err := repo.Save(ctx, task); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, models.StageStatus{}, err
	}
	return updated, merged, nil
}

// AppendLog writes one audit row for a progress event.
func (s *TaskService) AppendLog(ctx context.Context, id models.ULID, lang string, stage models.Stage, status models.StageState, progress int, message string) error {
	return s.logRepo.Append(ctx, &models.ProcessingLog{
		TaskID:   id,
		Language: lang,
		Stage:    stage,
		Status:   status,
		Progress: progress,
		Message:  message,
	})
}

// ListLogs retrieves a task's audit rows oldest first.
func (s *TaskService) ListLogs(ctx context.Context, id models.ULID, offset, limit int) ([]*models.ProcessingLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.logRepo.ListByTask(ctx, id, offset, limit)
}

// TasksByStatus retrieves tasks with the given overall status. Used by
// startup recovery to find interrupted runs.
func (s *TaskService) TasksByStatus(ctx context.Context, status models.OverallStatus) ([]*models.Task, error) {
	return s.taskRepo.GetByStatus(ctx, status)
}
