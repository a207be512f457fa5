// Package startup performs one-time recovery work before the server starts
// accepting requests.
package startup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/jmylchreest/dubarr/internal/service"
)

// interruptedMessage is recorded on stages that were processing when the
// previous process died.
const interruptedMessage = "interrupted"

// RecoverInterruptedStages relabels every stage persisted as processing to
// failed. A stage can only be processing while its worker lives in this
// process, so any processing state found at startup is stale; clearing it
// keeps the single-flight invariant honest before the run lock exists.
func RecoverInterruptedStages(ctx context.Context, store *service.TaskService, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "startup_recovery")

	tasks, err := store.TasksByStatus(ctx, models.TaskProcessing)
	if err != nil {
		return 0, fmt.Errorf("finding interrupted tasks: %w", err)
	}

	recovered := 0
	for _, task := range tasks {
		for _, pair := range task.ProcessingStages() {
			failed := models.StageFailed
			message := interruptedMessage
			if _, _, err := store.UpdateStageStatus(ctx, task.ID, pair.Language, pair.Stage, models.StageDelta{
				Status:  &failed,
				Message: &message,
			}); err != nil {
				return recovered, fmt.Errorf("relabeling %s %s/%s: %w", task.ID, pair.Language, pair.Stage, err)
			}
			recovered++
			logger.Warn("relabeled interrupted stage",
				slog.String("task_id", task.ID.String()),
				slog.String("language", pair.Language),
				slog.String("stage", string(pair.Stage)),
			)
		}
	}
	return recovered, nil
}
