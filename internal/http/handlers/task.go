package handlers

import (
	"context"
	"errors"
	"mime/multipart"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/dubarr/internal/ffmpeg"
	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/jmylchreest/dubarr/internal/service"
	"github.com/jmylchreest/dubarr/internal/service/progress"
	"github.com/jmylchreest/dubarr/internal/subtitle"
)

// TaskHandler handles task lifecycle endpoints.
type TaskHandler struct {
	tasks    *service.TaskService
	registry *progress.Registry
	prober   *ffmpeg.Prober
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(tasks *service.TaskService, registry *progress.Registry, prober *ffmpeg.Prober) *TaskHandler {
	return &TaskHandler{
		tasks:    tasks,
		registry: registry,
		prober:   prober,
	}
}

// Register registers the task routes with the API.
func (h *TaskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createTask",
		Method:        "POST",
		Path:          "/api/tasks/",
		Summary:       "Create task",
		Description:   "Uploads a video (and optional subtitle) and creates a dubbing task",
		Tags:          []string{"Tasks"},
		DefaultStatus: 201,
		RequestBody:   &huma.RequestBody{Content: map[string]*huma.MediaType{"multipart/form-data": {}}},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      "GET",
		Path:        "/api/tasks/",
		Summary:     "List tasks",
		Description: "Returns all tasks, newest first",
		Tags:        []string{"Tasks"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getTask",
		Method:      "GET",
		Path:        "/api/tasks/{task_id}",
		Summary:     "Get task",
		Description: "Returns a task by ID",
		Tags:        []string{"Tasks"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteTask",
		Method:        "DELETE",
		Path:          "/api/tasks/{task_id}",
		Summary:       "Delete task",
		Description:   "Deletes a task, its files, and disconnects its push subscribers",
		Tags:          []string{"Tasks"},
		DefaultStatus: 204,
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "getVideoInfo",
		Method:      "GET",
		Path:        "/api/tasks/{task_id}/video-info",
		Summary:     "Get video info",
		Description: "Returns probed metadata of the uploaded video",
		Tags:        []string{"Tasks"},
	}, h.VideoInfo)

	huma.Register(api, huma.Operation{
		OperationID: "getSubtitle",
		Method:      "GET",
		Path:        "/api/tasks/{task_id}/subtitle",
		Summary:     "Get source subtitle",
		Description: "Returns the parsed source subtitle lines",
		Tags:        []string{"Tasks"},
	}, h.GetSubtitle)

	huma.Register(api, huma.Operation{
		OperationID: "uploadSubtitle",
		Method:      "POST",
		Path:        "/api/tasks/{task_id}/subtitle",
		Summary:     "Upload source subtitle",
		Description: "Stores a source subtitle for a task created without one",
		Tags:        []string{"Tasks"},
		RequestBody: &huma.RequestBody{Content: map[string]*huma.MediaType{"multipart/form-data": {}}},
	}, h.UploadSubtitle)

	huma.Register(api, huma.Operation{
		OperationID: "getTaskLogs",
		Method:      "GET",
		Path:        "/api/tasks/{task_id}/logs",
		Summary:     "Get processing logs",
		Description: "Returns the task's processing audit rows, oldest first",
		Tags:        []string{"Tasks"},
	}, h.GetLogs)
}

// CreateTaskInput is the multipart input for creating a task.
type CreateTaskInput struct {
	RawBody multipart.Form
}

// CreateTaskOutput is the output for creating a task.
type CreateTaskOutput struct {
	Body TaskResponse
}

// Create creates a task from an uploaded video and optional subtitle.
func (h *TaskHandler) Create(ctx context.Context, input *CreateTaskInput) (*CreateTaskOutput, error) {
	videos := input.RawBody.File["video"]
	if len(videos) == 0 {
		return nil, huma.Error400BadRequest("video file is required")
	}
	videoHeader := videos[0]

	video, err := videoHeader.Open()
	if err != nil {
		return nil, huma.Error400BadRequest("reading video upload", err)
	}
	defer video.Close()

	var subtitleFile multipart.File
	if subs := input.RawBody.File["subtitle"]; len(subs) > 0 {
		subtitleFile, err = subs[0].Open()
		if err != nil {
			return nil, huma.Error400BadRequest("reading subtitle upload", err)
		}
		defer subtitleFile.Close()
	}

	task, err := h.tasks.Create(ctx, videoHeader.Filename, video, subtitleFile)
	if err != nil {
		if errors.Is(err, models.ErrVideoNameRequired) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to create task", err)
	}

	return &CreateTaskOutput{Body: TaskFromModel(task)}, nil
}

// ListTasksInput is the input for listing tasks.
type ListTasksInput struct {
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Offset for pagination"`
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Limit for pagination"`
}

// ListTasksOutput is the output for listing tasks.
type ListTasksOutput struct {
	Body struct {
		Tasks []TaskResponse `json:"tasks"`
	}
}

// List returns tasks newest first.
func (h *TaskHandler) List(ctx context.Context, input *ListTasksInput) (*ListTasksOutput, error) {
	tasks, err := h.tasks.List(ctx, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list tasks", err)
	}

	resp := &ListTasksOutput{}
	resp.Body.Tasks = make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp.Body.Tasks = append(resp.Body.Tasks, TaskFromModel(t))
	}
	return resp, nil
}

// GetTaskInput is the input for getting a task.
type GetTaskInput struct {
	TaskID string `path:"task_id" doc:"Task ID (ULID)"`
}

// GetTaskOutput is the output for getting a task.
type GetTaskOutput struct {
	Body TaskResponse
}

// GetByID returns a task by ID.
func (h *TaskHandler) GetByID(ctx context.Context, input *GetTaskInput) (*GetTaskOutput, error) {
	task, err := h.loadTask(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}
	return &GetTaskOutput{Body: TaskFromModel(task)}, nil
}

// DeleteTaskInput is the input for deleting a task.
type DeleteTaskInput struct {
	TaskID string `path:"task_id" doc:"Task ID (ULID)"`
}

// DeleteTaskOutput is the output for deleting a task.
type DeleteTaskOutput struct{}

// Delete removes a task, its file tree, and its push subscribers.
func (h *TaskHandler) Delete(ctx context.Context, input *DeleteTaskInput) (*DeleteTaskOutput, error) {
	id, err := models.ParseULID(input.TaskID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID", err)
	}

	if err := h.tasks.Delete(ctx, id); err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to delete task", err)
	}

	// Close push channels after the row and files are gone.
	h.registry.DropAll(id.String())
	return &DeleteTaskOutput{}, nil
}

// VideoInfoInput is the input for probing the uploaded video.
type VideoInfoInput struct {
	TaskID string `path:"task_id" doc:"Task ID (ULID)"`
}

// VideoInfoOutput is the output for probing the uploaded video.
type VideoInfoOutput struct {
	Body ffmpeg.VideoInfo
}

// VideoInfo returns probed metadata of the uploaded video.
func (h *TaskHandler) VideoInfo(ctx context.Context, input *VideoInfoInput) (*VideoInfoOutput, error) {
	task, err := h.loadTask(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}

	paths := h.tasks.Paths()
	videoPath, err := paths.Abs(paths.VideoFile(task.ID.String(), task.VideoStoredName))
	if err != nil {
		return nil, huma.Error500InternalServerError("resolving video path", err)
	}

	info, err := h.prober.VideoInfo(ctx, videoPath)
	if err != nil {
		return nil, huma.Error500InternalServerError("probing video", err)
	}
	return &VideoInfoOutput{Body: *info}, nil
}

// GetSubtitleInput is the input for reading the source subtitle.
type GetSubtitleInput struct {
	TaskID string `path:"task_id" doc:"Task ID (ULID)"`
}

// GetSubtitleOutput is the output for reading the source subtitle.
type GetSubtitleOutput struct {
	Body struct {
		Subtitles []subtitle.Line `json:"subtitles"`
		Filename  string          `json:"filename"`
	}
}

// GetSubtitle returns the parsed source subtitle.
func (h *TaskHandler) GetSubtitle(ctx context.Context, input *GetSubtitleInput) (*GetSubtitleOutput, error) {
	task, err := h.loadTask(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}
	if !task.SourceSubtitlePresent {
		return nil, huma.Error404NotFound("task has no source subtitle")
	}

	paths := h.tasks.Paths()
	data, err := paths.Sandbox().ReadFile(paths.SourceSubtitle(task.ID.String()))
	if err != nil {
		return nil, huma.Error500InternalServerError("reading subtitle", err)
	}
	lines, err := subtitle.ParseBytes(data)
	if err != nil {
		return nil, huma.Error500InternalServerError("parsing subtitle", err)
	}

	resp := &GetSubtitleOutput{}
	resp.Body.Subtitles = lines
	resp.Body.Filename = "source_subtitle.srt"
	return resp, nil
}

// UploadSubtitleInput is the multipart input for a late subtitle upload.
type UploadSubtitleInput struct {
	TaskID  string `path:"task_id" doc:"Task ID (ULID)"`
	RawBody multipart.Form
}

// UploadSubtitleOutput is the output for a late subtitle upload.
type UploadSubtitleOutput struct {
	Body TaskResponse
}

// UploadSubtitle stores a source subtitle uploaded after creation.
func (h *TaskHandler) UploadSubtitle(ctx context.Context, input *UploadSubtitleInput) (*UploadSubtitleOutput, error) {
	id, err := models.ParseULID(input.TaskID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID", err)
	}

	files := input.RawBody.File["subtitle"]
	if len(files) == 0 {
		return nil, huma.Error400BadRequest("subtitle file is required")
	}
	file, err := files[0].Open()
	if err != nil {
		return nil, huma.Error400BadRequest("reading subtitle upload", err)
	}
	defer file.Close()

	task, err := h.tasks.AttachSubtitle(ctx, id, file)
	if err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to store subtitle", err)
	}
	return &UploadSubtitleOutput{Body: TaskFromModel(task)}, nil
}

// GetLogsInput is the input for reading the processing logs.
type GetLogsInput struct {
	TaskID string `path:"task_id" doc:"Task ID (ULID)"`
	Offset int    `query:"offset" default:"0" minimum:"0"`
	Limit  int    `query:"limit" default:"200" minimum:"1" maximum:"1000"`
}

// GetLogsOutput is the output for reading the processing logs.
type GetLogsOutput struct {
	Body struct {
		Logs []*models.ProcessingLog `json:"logs"`
	}
}

// GetLogs returns the task's audit rows oldest first.
func (h *TaskHandler) GetLogs(ctx context.Context, input *GetLogsInput) (*GetLogsOutput, error) {
	id, err := models.ParseULID(input.TaskID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID", err)
	}

	logs, err := h.tasks.ListLogs(ctx, id, input.Offset, input.Limit)
	if err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to read logs", err)
	}

	resp := &GetLogsOutput{}
	resp.Body.Logs = logs
	return resp, nil
}

// loadTask translates the path parameter into a task or an HTTP error.
func (h *TaskHandler) loadTask(ctx context.Context, taskID string) (*models.Task, error) {
	id, err := models.ParseULID(taskID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID", err)
	}
	task, err := h.tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to get task", err)
	}
	return task, nil
}
