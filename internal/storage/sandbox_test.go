package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	s, err := NewSandbox(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSandbox_ResolvePath(t *testing.T) {
	s := newTestSandbox(t)

	t.Run("relative path resolves under root", func(t *testing.T) {
		abs, err := s.ResolvePath("task1/input/video.mp4")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(abs, s.BaseDir()))
	})

	t.Run("absolute path rejected", func(t *testing.T) {
		_, err := s.ResolvePath("/etc/passwd")
		assert.Error(t, err)
	})

	t.Run("traversal rejected", func(t *testing.T) {
		_, err := s.ResolvePath("../outside")
		assert.Error(t, err)
		_, err = s.ResolvePath("task1/../../outside")
		assert.Error(t, err)
	})

	t.Run("dot components cleaned", func(t *testing.T) {
		abs, err := s.ResolvePath("task1/./processed/../input")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(s.BaseDir(), "task1", "input"), abs)
	})
}

func TestSandbox_ReadWrite(t *testing.T) {
	s := newTestSandbox(t)

	require.NoError(t, s.WriteFile("task1/processed/source_subtitle.srt", []byte("1\n")))

	ok, err := s.Exists("task1/processed/source_subtitle.srt")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := s.ReadFile("task1/processed/source_subtitle.srt")
	require.NoError(t, err)
	assert.Equal(t, []byte("1\n"), data)

	ok, err = s.Exists("task1/missing.srt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSandbox_MkdirAllAndRemoveAll(t *testing.T) {
	s := newTestSandbox(t)

	require.NoError(t, s.MkdirAll("task1/outputs/en/cloned_audio"))
	abs, err := s.ResolvePath("task1/outputs/en/cloned_audio")
	require.NoError(t, err)
	info, err := os.Stat(abs)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, s.RemoveAll("task1"))
	root, err := s.ResolvePath("task1")
	require.NoError(t, err)
	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr))

	// Removing a missing tree is not an error.
	require.NoError(t, s.RemoveAll("task1"))
}

func TestSandbox_AtomicWrite(t *testing.T) {
	s := newTestSandbox(t)

	require.NoError(t, s.AtomicWrite("task1/processed/request.json", []byte(`{"a":1}`)))
	data, err := s.ReadFile("task1/processed/request.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	// Overwrite replaces the content in one step.
	require.NoError(t, s.AtomicWrite("task1/processed/request.json", []byte(`{"a":2}`)))
	data, err = s.ReadFile("task1/processed/request.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(data))
}

func TestSandbox_AtomicWriteReader(t *testing.T) {
	s := newTestSandbox(t)

	require.NoError(t, s.AtomicWriteReader("task1/input/video.mp4", strings.NewReader("video bytes")))
	data, err := s.ReadFile("task1/input/video.mp4")
	require.NoError(t, err)
	assert.Equal(t, "video bytes", string(data))

	// No temp files are left behind after a successful write.
	dir, err := s.ResolvePath("task1/input")
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "video.mp4", entries[0].Name())
}

func TestSandbox_EscapeAttemptsFailEverywhere(t *testing.T) {
	s := newTestSandbox(t)

	for _, op := range []func() error{
		func() error { return s.WriteFile("../evil", nil) },
		func() error { return s.MkdirAll("../evil") },
		func() error { return s.RemoveAll("../evil") },
		func() error { _, err := s.ReadFile("../evil"); return err },
		func() error { return s.AtomicWrite("../evil", nil) },
	} {
		assert.Error(t, op())
	}
}
