package storage

import (
	"fmt"
	"log/slog"
	"path"
)

// TaskPaths derives every filesystem path the pipeline reads or writes for
// one task. All other components receive paths from here; none may construct
// task-relative paths on their own.
//
// Layout under the sandbox root:
//
//	<task_id>/
//	  input/     <task_id>_<original_video_name>
//	  processed/ audio.wav, source_subtitle.srt, speaker_segments/, speaker_data.json
//	  outputs/<language>/ translated.srt, cloned_audio/segment_<idx>.wav,
//	                      stitched_audio.wav, final_video.mp4
type TaskPaths struct {
	sandbox *Sandbox
	logger  *slog.Logger
}

// NewTaskPaths creates a path manager rooted at the given sandbox.
func NewTaskPaths(sandbox *Sandbox, logger *slog.Logger) *TaskPaths {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskPaths{
		sandbox: sandbox,
		logger:  logger.With("component", "task_paths"),
	}
}

// Sandbox returns the underlying sandbox for file operations.
func (p *TaskPaths) Sandbox() *Sandbox {
	return p.sandbox
}

// Root returns the task's root directory relative to the sandbox.
func (p *TaskPaths) Root(taskID string) string {
	return taskID
}

// InputDir returns the task's input directory.
func (p *TaskPaths) InputDir(taskID string) string {
	return path.Join(taskID, "input")
}

// ProcessedDir returns the task's intermediate artifact directory.
func (p *TaskPaths) ProcessedDir(taskID string) string {
	return path.Join(taskID, "processed")
}

// OutputsDir returns the task's per-language output root.
func (p *TaskPaths) OutputsDir(taskID string) string {
	return path.Join(taskID, "outputs")
}

// LanguageDir returns the output directory for one target language.
func (p *TaskPaths) LanguageDir(taskID, language string) string {
	return path.Join(taskID, "outputs", language)
}

// StoredVideoName returns the filename the uploaded video is stored under.
func (p *TaskPaths) StoredVideoName(taskID, originalName string) string {
	return fmt.Sprintf("%s_%s", taskID, path.Base(originalName))
}

// VideoFile returns the stored video path for the given stored name.
func (p *TaskPaths) VideoFile(taskID, storedName string) string {
	return path.Join(p.InputDir(taskID), storedName)
}

// ExtractedAudio returns the extracted source audio track.
func (p *TaskPaths) ExtractedAudio(taskID string) string {
	return path.Join(p.ProcessedDir(taskID), "audio.wav")
}

// SourceSubtitle returns the stored source subtitle file.
func (p *TaskPaths) SourceSubtitle(taskID string) string {
	return path.Join(p.ProcessedDir(taskID), "source_subtitle.srt")
}

// SpeakerSegmentsDir returns the diarizer's per-speaker segment directory.
func (p *TaskPaths) SpeakerSegmentsDir(taskID string) string {
	return path.Join(p.ProcessedDir(taskID), "speaker_segments")
}

// SpeakerData returns the diarization result document.
func (p *TaskPaths) SpeakerData(taskID string) string {
	return path.Join(p.ProcessedDir(taskID), "speaker_data.json")
}

// WorkerRequest returns the request document path for one stage run.
func (p *TaskPaths) WorkerRequest(taskID, language, stage string) string {
	return path.Join(p.ProcessedDir(taskID), fmt.Sprintf("request_%s_%s.json", language, stage))
}

// TranslatedSubtitle returns the translated subtitle for one language.
func (p *TaskPaths) TranslatedSubtitle(taskID, language string) string {
	return path.Join(p.LanguageDir(taskID, language), "translated.srt")
}

// ClonedAudioDir returns the cloned segment directory for one language.
func (p *TaskPaths) ClonedAudioDir(taskID, language string) string {
	return path.Join(p.LanguageDir(taskID, language), "cloned_audio")
}

// ClonedSegment returns one cloned audio segment path.
func (p *TaskPaths) ClonedSegment(taskID, language string, index int) string {
	return path.Join(p.ClonedAudioDir(taskID, language), fmt.Sprintf("segment_%d.wav", index))
}

// StitchedAudio returns the assembled dubbed track for one language.
func (p *TaskPaths) StitchedAudio(taskID, language string) string {
	return path.Join(p.LanguageDir(taskID, language), "stitched_audio.wav")
}

// FinalVideo returns the muxed dubbed video for one language.
func (p *TaskPaths) FinalVideo(taskID, language string) string {
	return path.Join(p.LanguageDir(taskID, language), "final_video.mp4")
}

// Abs resolves a sandbox-relative path to an absolute one for handing to
// external workers.
func (p *TaskPaths) Abs(relativePath string) (string, error) {
	return p.sandbox.ResolvePath(relativePath)
}

// EnsureLayout creates the task's directory skeleton. Idempotent.
func (p *TaskPaths) EnsureLayout(taskID string) error {
	for _, dir := range []string{
		p.Root(taskID),
		p.InputDir(taskID),
		p.ProcessedDir(taskID),
		p.OutputsDir(taskID),
	} {
		if err := p.sandbox.MkdirAll(dir); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureLanguageLayout creates one language's output directories. Idempotent.
func (p *TaskPaths) EnsureLanguageLayout(taskID, language string) error {
	for _, dir := range []string{
		p.LanguageDir(taskID, language),
		p.ClonedAudioDir(taskID, language),
	} {
		if err := p.sandbox.MkdirAll(dir); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// DeleteTaskTree removes the task's whole directory tree. Best-effort:
// residual files are logged, not fatal.
func (p *TaskPaths) DeleteTaskTree(taskID string) error {
	if err := p.sandbox.RemoveAll(p.Root(taskID)); err != nil {
		p.logger.Warn("residual files after task tree delete",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("deleting task tree: %w", err)
	}
	return nil
}
