package runner

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/jmylchreest/dubarr/internal/subtitle"
	"github.com/jmylchreest/dubarr/internal/worker"
)

// writeRequest builds the stage's request document from task state, writes
// it under the task's processed directory, and returns its absolute path
// for the worker's argv.
func (r *StageRunner) writeRequest(task *models.Task, language string, stage models.Stage) (string, error) {
	taskID := task.ID.String()
	paths := r.store.Paths()

	if err := paths.EnsureLayout(taskID); err != nil {
		return "", err
	}
	if language != models.DefaultLanguage {
		if err := paths.EnsureLanguageLayout(taskID, language); err != nil {
			return "", err
		}
	}

	doc, err := r.buildRequest(task, language, stage)
	if err != nil {
		return "", err
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding %s request: %w", stage, err)
	}

	rel := paths.WorkerRequest(taskID, language, string(stage))
	if err := paths.Sandbox().AtomicWrite(rel, payload); err != nil {
		return "", fmt.Errorf("writing %s request: %w", stage, err)
	}
	return paths.Abs(rel)
}

// buildRequest assembles the typed request document for one stage.
func (r *StageRunner) buildRequest(task *models.Task, language string, stage models.Stage) (any, error) {
	taskID := task.ID.String()
	paths := r.store.Paths()

	abs := func(rel string) (string, error) { return paths.Abs(rel) }

	switch stage {
	case models.StageSpeakerDiarization:
		audio, err := abs(paths.ExtractedAudio(taskID))
		if err != nil {
			return nil, err
		}
		video, err := abs(paths.VideoFile(taskID, task.VideoStoredName))
		if err != nil {
			return nil, err
		}
		subPath, err := abs(paths.SourceSubtitle(taskID))
		if err != nil {
			return nil, err
		}
		segments, err := abs(paths.SpeakerSegmentsDir(taskID))
		if err != nil {
			return nil, err
		}
		output, err := abs(paths.SpeakerData(taskID))
		if err != nil {
			return nil, err
		}
		return worker.DiarizationRequest{
			RequestEnvelope: worker.NewRequestEnvelope(string(stage), language),
			AudioPath:       audio,
			VideoPath:       video,
			SubtitlePath:    subPath,
			SegmentsDir:     segments,
			OutputPath:      output,
		}, nil

	case models.StageTranslation:
		lines, err := r.readSourceSubtitle(taskID)
		if err != nil {
			return nil, err
		}
		profile, err := r.adapter.Profile(stage)
		if err != nil {
			return nil, err
		}
		items := make([]worker.TranslationItem, 0, len(lines))
		for _, line := range lines {
			items = append(items, worker.TranslationItem{
				TaskID:         taskID,
				Source:         line.Text,
				TargetLanguage: language,
			})
		}
		subPath, err := abs(paths.SourceSubtitle(taskID))
		if err != nil {
			return nil, err
		}
		output, err := abs(paths.TranslatedSubtitle(taskID, language))
		if err != nil {
			return nil, err
		}
		numProcesses := profile.NumProcesses
		if numProcesses < 1 {
			numProcesses = 1
		}
		return worker.TranslationRequest{
			RequestEnvelope: worker.NewRequestEnvelope(string(stage), language),
			Tasks:           items,
			SubtitlePath:    subPath,
			OutputPath:      output,
			ModelPath:       profile.ModelPath,
			NumProcesses:    numProcesses,
		}, nil

	case models.StageVoiceCloning:
		translated, err := r.readTranslatedSubtitle(taskID, language)
		if err != nil {
			return nil, err
		}
		speakers, err := r.readSpeakerData(taskID)
		if err != nil {
			return nil, err
		}
		profile, err := r.adapter.Profile(stage)
		if err != nil {
			return nil, err
		}

		tasks := make([]worker.CloneTask, 0, len(translated))
		for i, line := range translated {
			clone := worker.CloneTask{
				SegmentIndex: i,
				TargetText:   line.Text,
			}
			if i < len(speakers.SpeakerLabels) {
				speakerID := strconv.Itoa(speakers.SpeakerLabels[i])
				clone.SpeakerName = speakers.SpeakerNameMapping[speakerID]
				if ref, ok := task.Config.SpeakerVoiceMapping[clone.SpeakerName]; ok {
					clone.Reference = ref
				} else if ref, ok := task.Config.SpeakerVoiceMapping[speakerID]; ok {
					clone.Reference = ref
				}
			}
			output, err := abs(paths.ClonedSegment(taskID, language, i))
			if err != nil {
				return nil, err
			}
			clone.OutputFile = output
			tasks = append(tasks, clone)
		}
		return worker.CloningRequest{
			RequestEnvelope: worker.NewRequestEnvelope(string(stage), language),
			ModelDir:        profile.ModelPath,
			Tasks:           tasks,
		}, nil

	case models.StageStitch:
		clonedDir, err := abs(paths.ClonedAudioDir(taskID, language))
		if err != nil {
			return nil, err
		}
		subPath, err := abs(paths.TranslatedSubtitle(taskID, language))
		if err != nil {
			return nil, err
		}
		output, err := abs(paths.StitchedAudio(taskID, language))
		if err != nil {
			return nil, err
		}
		return worker.StitchRequest{
			RequestEnvelope: worker.NewRequestEnvelope(string(stage), language),
			ClonedAudioDir:  clonedDir,
			SubtitlePath:    subPath,
			OutputFile:      output,
		}, nil

	case models.StageExport:
		video, err := abs(paths.VideoFile(taskID, task.VideoStoredName))
		if err != nil {
			return nil, err
		}
		audio, err := abs(paths.StitchedAudio(taskID, language))
		if err != nil {
			return nil, err
		}
		output, err := abs(paths.FinalVideo(taskID, language))
		if err != nil {
			return nil, err
		}
		req := worker.ExportRequest{
			RequestEnvelope: worker.NewRequestEnvelope(string(stage), language),
			VideoPath:       video,
			AudioPath:       audio,
			OutputFile:      output,
		}
		if task.Config.Export.BurnSubtitles {
			subPath, err := abs(paths.TranslatedSubtitle(taskID, language))
			if err != nil {
				return nil, err
			}
			req.SubtitlePath = subPath
		}
		return req, nil
	}

	return nil, fmt.Errorf("%w: %s", models.ErrInvalidStage, stage)
}

// readSourceSubtitle parses the task's stored source subtitle.
func (r *StageRunner) readSourceSubtitle(taskID string) ([]subtitle.Line, error) {
	paths := r.store.Paths()
	data, err := paths.Sandbox().ReadFile(paths.SourceSubtitle(taskID))
	if err != nil {
		return nil, fmt.Errorf("reading source subtitle: %w", err)
	}
	return subtitle.ParseBytes(data)
}

// readTranslatedSubtitle parses one language's translated subtitle.
func (r *StageRunner) readTranslatedSubtitle(taskID, language string) ([]subtitle.Line, error) {
	paths := r.store.Paths()
	data, err := paths.Sandbox().ReadFile(paths.TranslatedSubtitle(taskID, language))
	if err != nil {
		return nil, fmt.Errorf("reading translated subtitle (has translation completed?): %w", err)
	}
	return subtitle.ParseBytes(data)
}

// readSpeakerData loads the diarization result document.
func (r *StageRunner) readSpeakerData(taskID string) (*worker.DiarizationResult, error) {
	paths := r.store.Paths()
	data, err := paths.Sandbox().ReadFile(paths.SpeakerData(taskID))
	if err != nil {
		return nil, fmt.Errorf("reading speaker data (has diarization completed?): %w", err)
	}
	var result worker.DiarizationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding speaker data: %w", err)
	}
	return &result, nil
}

// persistOutputs applies the stage's post-conditions after a successful
// worker run. For translation, stitch and export the output file is
// authoritative: the stage fails when it is missing, regardless of what the
// result document says. Voice cloning is judged by the per-segment statuses
// in its document and segment files are not checked; the diarization
// document is itself persisted as the speaker data file.
func (r *StageRunner) persistOutputs(task *models.Task, language string, stage models.Stage, document []byte) error {
	taskID := task.ID.String()
	paths := r.store.Paths()

	requireFile := func(rel string) error {
		ok, err := paths.Sandbox().Exists(rel)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s worker did not produce %s", models.ErrWorkerFailed, stage, rel)
		}
		return nil
	}

	switch stage {
	case models.StageSpeakerDiarization:
		var result worker.DiarizationResult
		if err := json.Unmarshal(document, &result); err != nil {
			return fmt.Errorf("%w: decoding diarization result: %v", models.ErrWorkerFailed, err)
		}
		if err := paths.Sandbox().AtomicWrite(paths.SpeakerData(taskID), document); err != nil {
			return fmt.Errorf("persisting speaker data: %w", err)
		}
		return nil

	case models.StageTranslation:
		return requireFile(paths.TranslatedSubtitle(taskID, language))

	case models.StageVoiceCloning:
		var items []worker.CloneResultItem
		if err := json.Unmarshal(document, &items); err != nil {
			return fmt.Errorf("%w: decoding cloning result: %v", models.ErrWorkerFailed, err)
		}
		for _, item := range items {
			if item.Status != "" && item.Status != "ok" && item.Status != "success" {
				return fmt.Errorf("%w: segment %d failed: %s", models.ErrWorkerFailed, item.SegmentIndex, item.Status)
			}
		}
		return nil

	case models.StageStitch:
		return requireFile(paths.StitchedAudio(taskID, language))

	case models.StageExport:
		return requireFile(paths.FinalVideo(taskID, language))
	}
	return nil
}
