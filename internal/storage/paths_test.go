package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPaths(t *testing.T) *TaskPaths {
	t.Helper()
	sandbox, err := NewSandbox(t.TempDir())
	require.NoError(t, err)
	return NewTaskPaths(sandbox, nil)
}

func TestTaskPaths_Layout(t *testing.T) {
	p := newTestPaths(t)
	const id = "01ARZ3NDEKTSV4RRFFQ69G5FAV"

	assert.Equal(t, id+"/input", p.InputDir(id))
	assert.Equal(t, id+"/processed/source_subtitle.srt", p.SourceSubtitle(id))
	assert.Equal(t, id+"/processed/speaker_data.json", p.SpeakerData(id))
	assert.Equal(t, id+"/outputs/en/translated.srt", p.TranslatedSubtitle(id, "en"))
	assert.Equal(t, id+"/outputs/en/cloned_audio/segment_3.wav", p.ClonedSegment(id, "en", 3))
	assert.Equal(t, id+"/outputs/ko/stitched_audio.wav", p.StitchedAudio(id, "ko"))
	assert.Equal(t, id+"/outputs/ko/final_video.mp4", p.FinalVideo(id, "ko"))
}

func TestTaskPaths_StoredVideoName(t *testing.T) {
	p := newTestPaths(t)
	name := p.StoredVideoName("01ABC", "demo.mp4")
	assert.Equal(t, "01ABC_demo.mp4", name)

	// Path components in the original name must not escape the input dir.
	name = p.StoredVideoName("01ABC", "../../etc/passwd")
	assert.Equal(t, "01ABC_passwd", name)
}

func TestTaskPaths_EnsureLayout(t *testing.T) {
	p := newTestPaths(t)
	const id = "01TESTTASK"

	require.NoError(t, p.EnsureLayout(id))
	require.NoError(t, p.EnsureLayout(id), "idempotent")

	for _, dir := range []string{p.InputDir(id), p.ProcessedDir(id), p.OutputsDir(id)} {
		abs, err := p.Abs(dir)
		require.NoError(t, err)
		info, err := os.Stat(abs)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestTaskPaths_EnsureLanguageLayout(t *testing.T) {
	p := newTestPaths(t)
	const id = "01TESTTASK"

	require.NoError(t, p.EnsureLayout(id))
	require.NoError(t, p.EnsureLanguageLayout(id, "en"))

	abs, err := p.Abs(p.ClonedAudioDir(id, "en"))
	require.NoError(t, err)
	info, err := os.Stat(abs)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestTaskPaths_DeleteTaskTree(t *testing.T) {
	p := newTestPaths(t)
	const id = "01TESTTASK"

	require.NoError(t, p.EnsureLayout(id))
	require.NoError(t, p.Sandbox().WriteFile(p.SourceSubtitle(id), []byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n")))

	require.NoError(t, p.DeleteTaskTree(id))

	root, err := p.Abs(p.Root(id))
	require.NoError(t, err)
	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTaskPaths_ContainmentUnderRoot(t *testing.T) {
	p := newTestPaths(t)
	const id = "01TESTTASK"

	// Every derived path stays under the task root.
	derived := []string{
		p.VideoFile(id, "x.mp4"),
		p.ExtractedAudio(id),
		p.SourceSubtitle(id),
		p.SpeakerSegmentsDir(id),
		p.SpeakerData(id),
		p.WorkerRequest(id, "en", "translation"),
		p.TranslatedSubtitle(id, "en"),
		p.ClonedSegment(id, "en", 0),
		p.StitchedAudio(id, "en"),
		p.FinalVideo(id, "en"),
	}
	for _, rel := range derived {
		assert.True(t, strings.HasPrefix(rel, id+string(filepath.Separator)) || strings.HasPrefix(rel, id+"/"), rel)
	}
}
