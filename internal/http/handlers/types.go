// Package handlers implements the REST and push API operations.
package handlers

import (
	"time"

	"github.com/jmylchreest/dubarr/internal/models"
)

// TaskResponse is the full task representation served by the API.
type TaskResponse struct {
	ID                    string                `json:"task_id"`
	VideoOriginalName     string                `json:"video_original_name"`
	VideoStoredName       string                `json:"video_stored_name"`
	SourceSubtitlePresent bool                  `json:"source_subtitle_present"`
	OverallStatus         models.OverallStatus  `json:"overall_status"`
	Config                models.TaskConfig     `json:"config"`
	LanguageStatus        models.LanguageStatus `json:"language_status"`
	LastError             string                `json:"last_error,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

// TaskFromModel converts a task model to its API representation.
func TaskFromModel(task *models.Task) TaskResponse {
	languageStatus := task.LanguageStatus
	if languageStatus == nil {
		languageStatus = models.LanguageStatus{}
	}
	return TaskResponse{
		ID:                    task.ID.String(),
		VideoOriginalName:     task.VideoOriginalName,
		VideoStoredName:       task.VideoStoredName,
		SourceSubtitlePresent: task.SourceSubtitlePresent,
		OverallStatus:         task.OverallStatus,
		Config:                task.Config,
		LanguageStatus:        languageStatus,
		LastError:             task.LastError,
		CreatedAt:             task.CreatedAt,
		UpdatedAt:             task.UpdatedAt,
	}
}

// StageStatusResponse is one stage's status block.
type StageStatusResponse struct {
	Language string            `json:"language"`
	Stage    models.Stage      `json:"stage"`
	Status   models.StageState `json:"status"`
	Progress int               `json:"progress"`
	Message  string            `json:"message,omitempty"`
	Started  *models.Time      `json:"started_at,omitempty"`
	Finished *models.Time      `json:"finished_at,omitempty"`
}

// StageStatusFromModel converts one stage status block.
func StageStatusFromModel(language string, stage models.Stage, st models.StageStatus) StageStatusResponse {
	return StageStatusResponse{
		Language: language,
		Stage:    stage,
		Status:   st.Status,
		Progress: st.Progress,
		Message:  st.Message,
		Started:  st.StartedAt,
		Finished: st.FinishedAt,
	}
}

// AcknowledgeResponse is returned by fire-and-forget stage triggers.
type AcknowledgeResponse struct {
	Message  string       `json:"message"`
	TaskID   string       `json:"task_id"`
	Language string       `json:"language,omitempty"`
	Stage    models.Stage `json:"stage"`
}
