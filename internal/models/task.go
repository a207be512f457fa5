package models

import (
	"gorm.io/gorm"
)

// Stage identifies one step of the dubbing pipeline.
type Stage string

const (
	// StageSpeakerDiarization assigns a speaker to every subtitle line.
	StageSpeakerDiarization Stage = "speaker_diarization"
	// StageTranslation translates the source subtitle into a target language.
	StageTranslation Stage = "translation"
	// StageVoiceCloning synthesizes one cloned audio segment per subtitle line.
	StageVoiceCloning Stage = "voice_cloning"
	// StageStitch assembles the cloned segments into a single audio track.
	StageStitch Stage = "stitch"
	// StageExport muxes the stitched audio with the original video.
	StageExport Stage = "export"
)

// DefaultLanguage is the reserved language tag for task-global stages.
// Only speaker diarization runs under it.
const DefaultLanguage = "default"

// PipelineStages is the ordered stage graph for one target language.
// Speaker diarization runs once per task under DefaultLanguage before any of
// these.
var PipelineStages = []Stage{StageTranslation, StageVoiceCloning, StageStitch, StageExport}

// IsValid returns true if the stage is a known pipeline stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageSpeakerDiarization, StageTranslation, StageVoiceCloning, StageStitch, StageExport:
		return true
	}
	return false
}

// IsGlobal returns true if the stage runs under the DefaultLanguage tag.
func (s Stage) IsGlobal() bool {
	return s == StageSpeakerDiarization
}

// StageState represents the status of one stage for one language.
type StageState string

const (
	// StageIdle indicates the stage has never been triggered.
	StageIdle StageState = "idle"
	// StagePending indicates the stage is queued behind the run lock.
	StagePending StageState = "pending"
	// StageProcessing indicates the stage is currently executing.
	StageProcessing StageState = "processing"
	// StageCompleted indicates the stage finished successfully.
	StageCompleted StageState = "completed"
	// StageFailed indicates the stage failed or was cancelled.
	StageFailed StageState = "failed"
)

// IsTerminal returns true for completed and failed.
func (s StageState) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// StageStatus holds the status block of one (language, stage) pair.
type StageStatus struct {
	Status     StageState `json:"status"`
	Progress   int        `json:"progress"`
	Message    string     `json:"message,omitempty"`
	StartedAt  *Time      `json:"started_at,omitempty"`
	FinishedAt *Time      `json:"finished_at,omitempty"`
}

// StageStatusMap maps each stage to its status for one language.
type StageStatusMap map[Stage]StageStatus

// LanguageStatus maps language tags to their per-stage status.
// The DefaultLanguage key holds task-global stages.
type LanguageStatus map[string]StageStatusMap

// StageDelta is a partial update applied to a StageStatus.
// Nil fields are left unchanged.
type StageDelta struct {
	Status     *StageState
	Progress   *int
	Message    *string
	StartedAt  *Time
	FinishedAt *Time
}

// OverallStatus is the derived task-level status.
type OverallStatus string

const (
	// TaskPending indicates no stage has run or finished yet.
	TaskPending OverallStatus = "pending"
	// TaskProcessing indicates at least one stage is executing.
	TaskProcessing OverallStatus = "processing"
	// TaskCompleted indicates every applicable stage of every target language completed.
	TaskCompleted OverallStatus = "completed"
	// TaskFailed indicates at least one stage failed without a later successful retry.
	TaskFailed OverallStatus = "failed"
)

// ExportOptions holds user-selected export settings carried in the task config.
type ExportOptions struct {
	// KeepOriginalAudio mixes the original track under the dubbed one.
	KeepOriginalAudio bool `json:"keep_original_audio,omitempty"`
	// BurnSubtitles renders the translated subtitle into the video.
	BurnSubtitles bool `json:"burn_subtitles,omitempty"`
}

// TaskConfig holds per-task pipeline configuration.
type TaskConfig struct {
	// TargetLanguages are canonical language tags the task is dubbed into.
	TargetLanguages []string `json:"target_languages,omitempty"`
	// SpeakerVoiceMapping maps diarized speaker labels to reference voices.
	SpeakerVoiceMapping map[string]string `json:"speaker_voice_mapping,omitempty"`
	// Export holds export stage options.
	Export ExportOptions `json:"export,omitempty"`
}

// Task is the durable record of one uploaded video and all of its dubbing
// state. It is the single authoritative row; everything else is derived.
type Task struct {
	BaseModel

	// VideoOriginalName is the filename the video was uploaded as.
	VideoOriginalName string `gorm:"not null;size:512" json:"video_original_name"`

	// VideoStoredName is the filename under the task's input directory.
	VideoStoredName string `gorm:"not null;size:512" json:"video_stored_name"`

	// SourceSubtitlePresent indicates a source subtitle has been stored.
	SourceSubtitlePresent bool `gorm:"not null;default:false" json:"source_subtitle_present"`

	// OverallStatus is derived from LanguageStatus; never set directly.
	OverallStatus OverallStatus `gorm:"not null;default:'pending';size:20;index" json:"overall_status"`

	// Config holds target languages, speaker-voice mapping and export options.
	Config TaskConfig `gorm:"serializer:json" json:"config"`

	// LanguageStatus holds the per-language, per-stage status blocks.
	LanguageStatus LanguageStatus `gorm:"serializer:json" json:"language_status"`

	// LastError holds the most recent stage failure message.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// Validate performs basic validation on the task.
func (t *Task) Validate() error {
	if t.VideoOriginalName == "" {
		return ErrVideoNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the task and generates its ULID.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if err := t.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if t.LanguageStatus == nil {
		t.LanguageStatus = LanguageStatus{}
	}
	return t.Validate()
}

// StageStatusFor returns the status block for (language, stage), defaulting
// to idle when the pair has never been touched.
func (t *Task) StageStatusFor(language string, stage Stage) StageStatus {
	if m, ok := t.LanguageStatus[language]; ok {
		if st, ok := m[stage]; ok {
			return st
		}
	}
	return StageStatus{Status: StageIdle}
}

// ApplyStageDelta merges a partial update into the (language, stage) status
// block and re-derives OverallStatus. Returns the merged block.
func (t *Task) ApplyStageDelta(language string, stage Stage, delta StageDelta) StageStatus {
	if t.LanguageStatus == nil {
		t.LanguageStatus = LanguageStatus{}
	}
	m, ok := t.LanguageStatus[language]
	if !ok {
		m = StageStatusMap{}
		t.LanguageStatus[language] = m
	}

	st := m[stage]
	if st.Status == "" {
		st.Status = StageIdle
	}
	if delta.Status != nil {
		if *delta.Status == StageProcessing && st.Status != StageProcessing {
			// New run of this stage.
			now := Now()
			st.StartedAt = &now
			st.FinishedAt = nil
			st.Progress = 0
		}
		st.Status = *delta.Status
	}
	if delta.Progress != nil {
		st.Progress = *delta.Progress
	}
	if delta.Message != nil {
		st.Message = *delta.Message
	}
	if delta.StartedAt != nil {
		st.StartedAt = delta.StartedAt
	}
	if delta.FinishedAt != nil {
		st.FinishedAt = delta.FinishedAt
	}
	if st.Status.IsTerminal() && st.FinishedAt == nil {
		now := Now()
		st.FinishedAt = &now
	}
	m[stage] = st

	if st.Status == StageFailed && st.Message != "" {
		t.LastError = st.Message
	}

	t.RecomputeOverallStatus()
	return st
}

// RecomputeOverallStatus derives OverallStatus from LanguageStatus.
// Priority: failed > processing > completed > pending. A language counts as
// complete only when every pipeline stage for it (and diarization under the
// default tag) has completed.
func (t *Task) RecomputeOverallStatus() {
	anyFailed := false
	anyProcessing := false

	for _, stages := range t.LanguageStatus {
		for _, st := range stages {
			switch st.Status {
			case StageFailed:
				anyFailed = true
			case StageProcessing:
				anyProcessing = true
			}
		}
	}

	switch {
	case anyFailed:
		t.OverallStatus = TaskFailed
	case anyProcessing:
		t.OverallStatus = TaskProcessing
	case t.allTargetsCompleted():
		t.OverallStatus = TaskCompleted
	default:
		t.OverallStatus = TaskPending
	}
}

// allTargetsCompleted reports whether every target language has every
// pipeline stage completed, including diarization under the default tag.
func (t *Task) allTargetsCompleted() bool {
	if len(t.Config.TargetLanguages) == 0 {
		return false
	}
	if t.StageStatusFor(DefaultLanguage, StageSpeakerDiarization).Status != StageCompleted {
		return false
	}
	for _, lang := range t.Config.TargetLanguages {
		for _, stage := range PipelineStages {
			if t.StageStatusFor(lang, stage).Status != StageCompleted {
				return false
			}
		}
	}
	return true
}

// ProcessingStages returns every (language, stage) pair currently marked
// processing. Used by startup recovery to relabel interrupted runs.
func (t *Task) ProcessingStages() []LanguageStage {
	var out []LanguageStage
	for lang, stages := range t.LanguageStatus {
		for stage, st := range stages {
			if st.Status == StageProcessing {
				out = append(out, LanguageStage{Language: lang, Stage: stage})
			}
		}
	}
	return out
}

// LanguageStage is a (language, stage) pair.
type LanguageStage struct {
	Language string `json:"language"`
	Stage    Stage  `json:"stage"`
}
