package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/dubarr/internal/models"
	"gorm.io/gorm"
)

// taskRepo implements task persistence using GORM.
type taskRepo struct {
	db *gorm.DB
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *gorm.DB) *taskRepo {
	return &taskRepo{db: db}
}

// Create creates a new task.
func (r *taskRepo) Create(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by ID. Returns nil when not found.
func (r *taskRepo) GetByID(ctx context.Context, id models.ULID) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting task by ID: %w", err)
	}
	return &task, nil
}

// List retrieves tasks ordered newest first.
func (r *taskRepo) List(ctx context.Context, offset, limit int) ([]*models.Task, error) {
	var tasks []*models.Task
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

// GetByStatus retrieves tasks with the given overall status.
func (r *taskRepo) GetByStatus(ctx context.Context, status models.OverallStatus) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := r.db.WithContext(ctx).Where("overall_status = ?", status).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("getting tasks by status: %w", err)
	}
	return tasks, nil
}

// Save persists the full task row.
func (r *taskRepo) Save(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("saving task: %w", err)
	}
	return nil
}

// Delete deletes a task by ID. Processing log rows are removed with it.
func (r *taskRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", id).Unscoped().Delete(&models.ProcessingLog{}).Error; err != nil {
			return fmt.Errorf("deleting processing logs: %w", err)
		}
		if err := tx.Where("id = ?", id).Unscoped().Delete(&models.Task{}).Error; err != nil {
			return fmt.Errorf("deleting task: %w", err)
		}
		return nil
	})
}

// Transaction runs fn inside a database transaction, exposing a repository
// bound to the transaction handle.
func (r *taskRepo) Transaction(ctx context.Context, fn func(TaskRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&taskRepo{db: tx})
	})
}
