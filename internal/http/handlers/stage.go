package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/jmylchreest/dubarr/internal/runner"
	"github.com/jmylchreest/dubarr/internal/service"
	"github.com/jmylchreest/dubarr/internal/worker"
)

// StageHandler handles stage trigger and stage status endpoints. Triggers
// are fire-and-forget: they return 202 and the caller observes the outcome
// via the push channel or the status endpoints.
type StageHandler struct {
	tasks  *service.TaskService
	runner *runner.StageRunner
	logger *slog.Logger
}

// NewStageHandler creates a new stage handler.
func NewStageHandler(tasks *service.TaskService, stageRunner *runner.StageRunner, logger *slog.Logger) *StageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StageHandler{
		tasks:  tasks,
		runner: stageRunner,
		logger: logger.With("component", "stage_handler"),
	}
}

// Register registers the stage routes with the API.
func (h *StageHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "triggerSpeakerDiarization",
		Method:        "POST",
		Path:          "/api/tasks/{task_id}/speaker-diarization",
		Summary:       "Trigger speaker diarization",
		Tags:          []string{"Stages"},
		DefaultStatus: 202,
	}, h.TriggerDiarization)

	huma.Register(api, huma.Operation{
		OperationID: "getSpeakerDiarizationStatus",
		Method:      "GET",
		Path:        "/api/tasks/{task_id}/speaker-diarization/status",
		Summary:     "Get speaker diarization status",
		Tags:        []string{"Stages"},
	}, h.DiarizationStatus)

	huma.Register(api, huma.Operation{
		OperationID:   "triggerTranslate",
		Method:        "POST",
		Path:          "/api/tasks/{task_id}/languages/{language}/translate",
		Summary:       "Trigger translation",
		Tags:          []string{"Stages"},
		DefaultStatus: 202,
	}, h.TriggerTranslate)

	huma.Register(api, huma.Operation{
		OperationID: "getTranslateStatus",
		Method:      "GET",
		Path:        "/api/tasks/{task_id}/languages/{language}/translate/status",
		Summary:     "Get translation status",
		Tags:        []string{"Stages"},
	}, h.statusFor(models.StageTranslation))

	huma.Register(api, huma.Operation{
		OperationID:   "triggerVoiceCloning",
		Method:        "POST",
		Path:          "/api/tasks/{task_id}/languages/{language}/voice-cloning",
		Summary:       "Trigger voice cloning",
		Tags:          []string{"Stages"},
		DefaultStatus: 202,
	}, h.TriggerVoiceCloning)

	huma.Register(api, huma.Operation{
		OperationID: "getVoiceCloningStatus",
		Method:      "GET",
		Path:        "/api/tasks/{task_id}/languages/{language}/voice-cloning/status",
		Summary:     "Get voice cloning status",
		Tags:        []string{"Stages"},
	}, h.statusFor(models.StageVoiceCloning))

	huma.Register(api, huma.Operation{
		OperationID:   "triggerStitchAudio",
		Method:        "POST",
		Path:          "/api/tasks/{task_id}/languages/{language}/stitch-audio",
		Summary:       "Trigger audio stitching",
		Tags:          []string{"Stages"},
		DefaultStatus: 202,
	}, h.triggerFor(models.StageStitch))

	huma.Register(api, huma.Operation{
		OperationID: "getStitchAudioStatus",
		Method:      "GET",
		Path:        "/api/tasks/{task_id}/languages/{language}/stitch-audio/status",
		Summary:     "Get audio stitching status",
		Tags:        []string{"Stages"},
	}, h.statusFor(models.StageStitch))

	huma.Register(api, huma.Operation{
		OperationID:   "triggerExportVideo",
		Method:        "POST",
		Path:          "/api/tasks/{task_id}/languages/{language}/export-video",
		Summary:       "Trigger video export",
		Tags:          []string{"Stages"},
		DefaultStatus: 202,
	}, h.triggerFor(models.StageExport))

	huma.Register(api, huma.Operation{
		OperationID: "getExportVideoStatus",
		Method:      "GET",
		Path:        "/api/tasks/{task_id}/languages/{language}/export-video/status",
		Summary:     "Get video export status",
		Tags:        []string{"Stages"},
	}, h.statusFor(models.StageExport))
}

// TriggerStageInput is the input for a diarization trigger.
type TriggerStageInput struct {
	TaskID string `path:"task_id" doc:"Task ID (ULID)"`
}

// LanguageStageInput is the input for language-scoped stage operations.
type LanguageStageInput struct {
	TaskID   string `path:"task_id" doc:"Task ID (ULID)"`
	Language string `path:"language" doc:"Target language tag (en, ko, ja, ...)"`
}

// TriggerStageOutput acknowledges a fire-and-forget trigger.
type TriggerStageOutput struct {
	Body AcknowledgeResponse
}

// StageStatusOutput is the output for stage status endpoints.
type StageStatusOutput struct {
	Body StageStatusResponse
}

// TriggerDiarization starts speaker diarization under the default tag.
func (h *StageHandler) TriggerDiarization(ctx context.Context, input *TriggerStageInput) (*TriggerStageOutput, error) {
	id, err := h.parseTask(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}
	return h.launch(id, models.DefaultLanguage, models.StageSpeakerDiarization)
}

// TriggerTranslate starts translation for one language.
func (h *StageHandler) TriggerTranslate(ctx context.Context, input *LanguageStageInput) (*TriggerStageOutput, error) {
	return h.triggerLanguageStage(ctx, input, models.StageTranslation, nil)
}

// VoiceCloningBody optionally carries a speaker-to-voice mapping.
type VoiceCloningBody struct {
	SpeakerVoiceMapping map[string]string `json:"speaker_voice_mapping,omitempty"`
}

// VoiceCloningInput is the input for the voice cloning trigger.
type VoiceCloningInput struct {
	TaskID   string `path:"task_id" doc:"Task ID (ULID)"`
	Language string `path:"language" doc:"Target language tag"`
	RawBody  []byte `required:"false"`
}

// TriggerVoiceCloning starts voice cloning for one language, persisting a
// supplied speaker-voice mapping first.
func (h *StageHandler) TriggerVoiceCloning(ctx context.Context, input *VoiceCloningInput) (*TriggerStageOutput, error) {
	var body VoiceCloningBody
	if len(input.RawBody) > 0 {
		if err := json.Unmarshal(input.RawBody, &body); err != nil {
			return nil, huma.Error400BadRequest("invalid request body", err)
		}
	}
	return h.triggerLanguageStage(ctx, &LanguageStageInput{TaskID: input.TaskID, Language: input.Language}, models.StageVoiceCloning, body.SpeakerVoiceMapping)
}

// triggerFor builds a language-scoped trigger operation for one stage.
func (h *StageHandler) triggerFor(stage models.Stage) func(context.Context, *LanguageStageInput) (*TriggerStageOutput, error) {
	return func(ctx context.Context, input *LanguageStageInput) (*TriggerStageOutput, error) {
		return h.triggerLanguageStage(ctx, input, stage, nil)
	}
}

// triggerLanguageStage validates, persists config additions, and launches
// one language-scoped stage.
func (h *StageHandler) triggerLanguageStage(ctx context.Context, input *LanguageStageInput, stage models.Stage, voiceMapping map[string]string) (*TriggerStageOutput, error) {
	id, err := h.parseTask(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}

	language, err := models.CanonicalLanguageTag(input.Language)
	if err != nil || language == models.DefaultLanguage {
		return nil, huma.Error400BadRequest("invalid language tag: " + input.Language)
	}

	// The language becomes a target of the task; completion derivation
	// counts it from now on.
	if _, err := h.tasks.UpdateConfig(ctx, id, func(c *models.TaskConfig) {
		if !slices.Contains(c.TargetLanguages, language) {
			c.TargetLanguages = append(c.TargetLanguages, language)
		}
		if len(voiceMapping) > 0 {
			c.SpeakerVoiceMapping = voiceMapping
		}
	}); err != nil {
		return nil, huma.Error500InternalServerError("updating task config", err)
	}

	return h.launch(id, language, stage)
}

// launch rejects triggers while a stage is running, then starts the stage
// in the background and acknowledges.
func (h *StageHandler) launch(id models.ULID, language string, stage models.Stage) (*TriggerStageOutput, error) {
	if held := h.runner.Lock().Current(); held != nil {
		return nil, huma.Error409Conflict("a stage is already running: " + held.TaskID.String() + " " + held.Language + "/" + string(held.Stage))
	}

	go func() {
		if err := h.runner.Run(context.Background(), id, language, stage); err != nil {
			// Failure is recorded in task state; conflicts lost the race
			// against another trigger.
			h.logger.Debug("background stage run ended with error",
				slog.String("task_id", id.String()),
				slog.String("language", language),
				slog.String("stage", string(stage)),
				slog.String("error", err.Error()),
			)
		}
	}()

	return &TriggerStageOutput{
		Body: AcknowledgeResponse{
			Message:  "stage accepted",
			TaskID:   id.String(),
			Language: language,
			Stage:    stage,
		},
	}, nil
}

// statusFor builds a status operation for one language-scoped stage.
func (h *StageHandler) statusFor(stage models.Stage) func(context.Context, *LanguageStageInput) (*StageStatusOutput, error) {
	return func(ctx context.Context, input *LanguageStageInput) (*StageStatusOutput, error) {
		id, err := h.parseTask(ctx, input.TaskID)
		if err != nil {
			return nil, err
		}
		language, err := models.CanonicalLanguageTag(input.Language)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid language tag: " + input.Language)
		}
		task, err := h.tasks.Get(ctx, id)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get task", err)
		}
		return &StageStatusOutput{
			Body: StageStatusFromModel(language, stage, task.StageStatusFor(language, stage)),
		}, nil
	}
}

// DiarizationStatusOutput combines the stage status block with the
// diarization result once it exists.
type DiarizationStatusOutput struct {
	Body struct {
		StageStatusResponse
		SpeakerLabels      []int             `json:"speaker_labels,omitempty"`
		SpeakerNameMapping map[string]string `json:"speaker_name_mapping,omitempty"`
		GenderDict         map[string]string `json:"gender_dict,omitempty"`
		UniqueSpeakers     int               `json:"unique_speakers,omitempty"`
	}
}

// DiarizationStatus returns the diarization status block plus the speaker
// data document when the stage has completed.
func (h *StageHandler) DiarizationStatus(ctx context.Context, input *TriggerStageInput) (*DiarizationStatusOutput, error) {
	id, err := h.parseTask(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}
	task, err := h.tasks.Get(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get task", err)
	}

	st := task.StageStatusFor(models.DefaultLanguage, models.StageSpeakerDiarization)
	resp := &DiarizationStatusOutput{}
	resp.Body.StageStatusResponse = StageStatusFromModel(models.DefaultLanguage, models.StageSpeakerDiarization, st)

	if st.Status == models.StageCompleted {
		paths := h.tasks.Paths()
		if data, readErr := paths.Sandbox().ReadFile(paths.SpeakerData(id.String())); readErr == nil {
			var result worker.DiarizationResult
			if json.Unmarshal(data, &result) == nil {
				resp.Body.SpeakerLabels = result.SpeakerLabels
				resp.Body.SpeakerNameMapping = result.SpeakerNameMapping
				resp.Body.GenderDict = result.GenderDict
				resp.Body.UniqueSpeakers = result.UniqueSpeakers
			}
		}
	}
	return resp, nil
}

// parseTask validates the task id and its existence.
func (h *StageHandler) parseTask(ctx context.Context, taskID string) (models.ULID, error) {
	id, err := models.ParseULID(taskID)
	if err != nil {
		return models.ULID{}, huma.Error400BadRequest("invalid task ID", err)
	}
	if _, err := h.tasks.Get(ctx, id); err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			return models.ULID{}, huma.Error404NotFound(err.Error())
		}
		return models.ULID{}, huma.Error500InternalServerError("failed to get task", err)
	}
	return id, nil
}
