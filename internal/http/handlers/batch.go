package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/jmylchreest/dubarr/internal/runner"
	"github.com/jmylchreest/dubarr/internal/scheduler"
)

// BatchHandler handles batch run and execution record endpoints.
type BatchHandler struct {
	batch *scheduler.Batch
	lock  *runner.RunLock
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(batch *scheduler.Batch, lock *runner.RunLock) *BatchHandler {
	return &BatchHandler{
		batch: batch,
		lock:  lock,
	}
}

// Register registers the batch routes with the API.
func (h *BatchHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "startBatch",
		Method:        "POST",
		Path:          "/api/batch/start/{task_id}",
		Summary:       "Start batch run",
		Description:   "Runs the full stage graph for one task over the given languages",
		Tags:          []string{"Batch"},
		DefaultStatus: 202,
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "stopBatch",
		Method:      "POST",
		Path:        "/api/batch/stop",
		Summary:     "Stop batch run",
		Description: "Requests cooperative cancellation of the running batch",
		Tags:        []string{"Batch"},
	}, h.Stop)

	huma.Register(api, huma.Operation{
		OperationID: "getBatchStatus",
		Method:      "GET",
		Path:        "/api/batch/status",
		Summary:     "Get batch status",
		Tags:        []string{"Batch"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "getGlobalRunningTask",
		Method:      "GET",
		Path:        "/api/global-running-task",
		Summary:     "Get the currently executing stage",
		Tags:        []string{"Batch"},
	}, h.GlobalRunning)

	huma.Register(api, huma.Operation{
		OperationID: "getRunningTasks",
		Method:      "GET",
		Path:        "/api/running-tasks",
		Summary:     "Get running stages by task",
		Tags:        []string{"Batch"},
	}, h.RunningTasks)
}

// StartBatchInput is the input for starting a batch.
type StartBatchInput struct {
	TaskID string `path:"task_id" doc:"Task ID (ULID)"`
	Body   struct {
		Languages           []string          `json:"languages" minItems:"1"`
		SpeakerVoiceMapping map[string]string `json:"speaker_voice_mapping,omitempty"`
	}
}

// StartBatchOutput acknowledges the batch start.
type StartBatchOutput struct {
	Body scheduler.Snapshot
}

// Start begins a single-task batch run.
func (h *BatchHandler) Start(ctx context.Context, input *StartBatchInput) (*StartBatchOutput, error) {
	id, err := models.ParseULID(input.TaskID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID", err)
	}

	languages := make([]string, 0, len(input.Body.Languages))
	for _, raw := range input.Body.Languages {
		lang, err := models.CanonicalLanguageTag(raw)
		if err != nil || lang == models.DefaultLanguage {
			return nil, huma.Error400BadRequest("invalid language tag: " + raw)
		}
		languages = append(languages, lang)
	}

	err = h.batch.Start(ctx, scheduler.Request{
		TaskIDs:             []models.ULID{id},
		Languages:           languages,
		SpeakerVoiceMapping: input.Body.SpeakerVoiceMapping,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTaskNotFound):
			return nil, huma.Error404NotFound(err.Error())
		case errors.Is(err, models.ErrConflict):
			return nil, huma.Error409Conflict(err.Error())
		default:
			return nil, huma.Error400BadRequest(err.Error())
		}
	}

	return &StartBatchOutput{Body: h.batch.Status()}, nil
}

// StopBatchInput is the input for stopping the batch.
type StopBatchInput struct{}

// StopBatchOutput is the output for stopping the batch.
type StopBatchOutput struct {
	Body scheduler.Snapshot
}

// Stop requests cooperative cancellation of the running batch.
func (h *BatchHandler) Stop(ctx context.Context, input *StopBatchInput) (*StopBatchOutput, error) {
	if err := h.batch.Stop(); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, huma.Error409Conflict(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to stop batch", err)
	}
	return &StopBatchOutput{Body: h.batch.Status()}, nil
}

// BatchStatusInput is the input for reading the batch status.
type BatchStatusInput struct{}

// BatchStatusOutput is the output for reading the batch status.
type BatchStatusOutput struct {
	Body scheduler.Snapshot
}

// Status returns the batch run snapshot.
func (h *BatchHandler) Status(ctx context.Context, input *BatchStatusInput) (*BatchStatusOutput, error) {
	return &BatchStatusOutput{Body: h.batch.Status()}, nil
}

// GlobalRunningInput is the input for reading the execution record.
type GlobalRunningInput struct{}

// GlobalRunningOutput is the output for reading the execution record.
type GlobalRunningOutput struct {
	Body struct {
		Running *runner.ExecutionRecord `json:"running"`
	}
}

// GlobalRunning returns the execution record, or null when idle.
func (h *BatchHandler) GlobalRunning(ctx context.Context, input *GlobalRunningInput) (*GlobalRunningOutput, error) {
	resp := &GlobalRunningOutput{}
	resp.Body.Running = h.lock.Current()
	return resp, nil
}

// RunningTasksInput is the input for the per-task running map.
type RunningTasksInput struct{}

// RunningTasksOutput maps task ids to their execution record.
type RunningTasksOutput struct {
	Body struct {
		Running map[string]*runner.ExecutionRecord `json:"running"`
	}
}

// RunningTasks returns the running stage keyed by task id. With the global
// single-flight lock the map holds at most one entry.
func (h *BatchHandler) RunningTasks(ctx context.Context, input *RunningTasksInput) (*RunningTasksOutput, error) {
	resp := &RunningTasksOutput{}
	resp.Body.Running = map[string]*runner.ExecutionRecord{}
	if current := h.lock.Current(); current != nil {
		resp.Body.Running[current.TaskID.String()] = current
	}
	return resp, nil
}
