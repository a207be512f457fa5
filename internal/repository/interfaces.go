// Package repository defines data access interfaces for dubarr entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"

	"github.com/jmylchreest/dubarr/internal/models"
)

// TaskRepository defines operations for task persistence.
type TaskRepository interface {
	// Create creates a new task.
	Create(ctx context.Context, task *models.Task) error
	// GetByID retrieves a task by ID; nil when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Task, error)
	// List retrieves tasks ordered newest first.
	List(ctx context.Context, offset, limit int) ([]*models.Task, error)
	// GetByStatus retrieves tasks with the given overall status.
	GetByStatus(ctx context.Context, status models.OverallStatus) ([]*models.Task, error)
	// Save persists the full task row.
	Save(ctx context.Context, task *models.Task) error
	// Delete deletes a task and its processing logs.
	Delete(ctx context.Context, id models.ULID) error
	// Transaction runs fn against a repository bound to one transaction.
	Transaction(ctx context.Context, fn func(TaskRepository) error) error
}

// ProcessingLogRepository defines operations for audit log persistence.
type ProcessingLogRepository interface {
	// Append writes one audit row.
	Append(ctx context.Context, entry *models.ProcessingLog) error
	// ListByTask retrieves a task's audit rows oldest first.
	ListByTask(ctx context.Context, taskID models.ULID, offset, limit int) ([]*models.ProcessingLog, error)
	// DeleteByTask removes all audit rows for a task.
	DeleteByTask(ctx context.Context, taskID models.ULID) error
}
