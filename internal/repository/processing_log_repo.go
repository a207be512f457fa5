package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/dubarr/internal/models"
	"gorm.io/gorm"
)

// processingLogRepo implements processing log persistence using GORM.
type processingLogRepo struct {
	db *gorm.DB
}

// NewProcessingLogRepository creates a new processing log repository.
func NewProcessingLogRepository(db *gorm.DB) *processingLogRepo {
	return &processingLogRepo{db: db}
}

// Append writes one audit row.
func (r *processingLogRepo) Append(ctx context.Context, entry *models.ProcessingLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("appending processing log: %w", err)
	}
	return nil
}

// ListByTask retrieves a task's audit rows oldest first.
func (r *processingLogRepo) ListByTask(ctx context.Context, taskID models.ULID, offset, limit int) ([]*models.ProcessingLog, error) {
	var logs []*models.ProcessingLog
	q := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("created_at ASC, id ASC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("listing processing logs: %w", err)
	}
	return logs, nil
}

// DeleteByTask removes all audit rows for a task.
func (r *processingLogRepo) DeleteByTask(ctx context.Context, taskID models.ULID) error {
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Unscoped().Delete(&models.ProcessingLog{}).Error; err != nil {
		return fmt.Errorf("deleting processing logs: %w", err)
	}
	return nil
}
