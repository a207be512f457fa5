package worker

import (
	"github.com/google/uuid"
)

// Request documents are written as JSON files under the task's processed
// directory; the file path is the worker's sole argument. Every document
// carries a correlation id so worker-side logs can be tied back to a run.

// RequestEnvelope is embedded in every request document.
type RequestEnvelope struct {
	RequestID string `json:"request_id"`
	Stage     string `json:"stage"`
	Language  string `json:"language"`
}

// NewRequestEnvelope creates an envelope for one stage run.
func NewRequestEnvelope(stage, language string) RequestEnvelope {
	return RequestEnvelope{
		RequestID: uuid.NewString(),
		Stage:     stage,
		Language:  language,
	}
}

// DiarizationRequest asks the diarizer to label speakers per subtitle line.
type DiarizationRequest struct {
	RequestEnvelope
	AudioPath    string `json:"audio_path"`
	VideoPath    string `json:"video_path"`
	SubtitlePath string `json:"subtitle_path"`
	SegmentsDir  string `json:"segments_dir"`
	OutputPath   string `json:"output_path"`
}

// DiarizationResult is the diarizer's final document, also persisted as
// speaker_data.json under the task's processed directory.
type DiarizationResult struct {
	// SpeakerLabels is aligned with the source subtitle lines.
	SpeakerLabels []int `json:"speaker_labels"`
	// SpeakerNameMapping maps numeric speaker ids to display labels.
	SpeakerNameMapping map[string]string `json:"speaker_name_mapping"`
	// GenderDict maps speaker ids to detected gender.
	GenderDict map[string]string `json:"gender_dict"`
	// UniqueSpeakers is the number of distinct speakers found.
	UniqueSpeakers int `json:"unique_speakers"`
}

// TranslationItem is one line to translate.
type TranslationItem struct {
	TaskID         string `json:"task_id"`
	Source         string `json:"source"`
	TargetLanguage string `json:"target_language"`
}

// TranslationRequest asks the translator to translate subtitle lines.
type TranslationRequest struct {
	RequestEnvelope
	Tasks        []TranslationItem `json:"tasks"`
	SubtitlePath string            `json:"subtitle_path"`
	OutputPath   string            `json:"output_path"`
	ModelPath    string            `json:"model_path"`
	NumProcesses int               `json:"num_processes"`
}

// TranslationResultItem is one translated line.
type TranslationResultItem struct {
	TaskID      string `json:"task_id"`
	Source      string `json:"source"`
	Translation string `json:"translation"`
}

// CloneTask is one segment to synthesize.
type CloneTask struct {
	SegmentIndex int    `json:"segment_index"`
	SpeakerName  string `json:"speaker_name,omitempty"`
	Reference    string `json:"reference,omitempty"`
	TargetText   string `json:"target_text"`
	OutputFile   string `json:"output_file"`
}

// CloningRequest asks the cloner to synthesize every subtitle line.
type CloningRequest struct {
	RequestEnvelope
	ModelDir string      `json:"model_dir"`
	Tasks    []CloneTask `json:"tasks"`
}

// CloneResultItem is one synthesized segment.
type CloneResultItem struct {
	SegmentIndex  int     `json:"segment_index"`
	Status        string  `json:"status"`
	OutputFile    string  `json:"output_file"`
	InferenceTime float64 `json:"inference_time"`
}

// StitchRequest asks the stitcher to assemble cloned segments into one
// track. Carries only paths and the language tag.
type StitchRequest struct {
	RequestEnvelope
	ClonedAudioDir string `json:"cloned_audio_dir"`
	SubtitlePath   string `json:"subtitle_path"`
	OutputFile     string `json:"output_file"`
}

// StitchSegment reflects any timeline re-planning the stitcher performed.
type StitchSegment struct {
	Index           int     `json:"index"`
	ActualStartTime float64 `json:"actual_start_time"`
	ActualEndTime   float64 `json:"actual_end_time"`
}

// ExportRequest asks the muxer to produce the final dubbed video. Carries
// only paths and the language tag.
type ExportRequest struct {
	RequestEnvelope
	VideoPath    string `json:"video_path"`
	AudioPath    string `json:"audio_path"`
	SubtitlePath string `json:"subtitle_path,omitempty"`
	OutputFile   string `json:"output_file"`
}

// ExportResult is the muxer's final document.
type ExportResult struct {
	OutputFile      string  `json:"output_file"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}
