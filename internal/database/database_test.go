package database

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmylchreest/dubarr/internal/config"
	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()
	return config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNew_SQLite(t *testing.T) {
	db, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping(context.Background()))
}

func TestNew_InvalidDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Driver = "oracle"

	_, err := New(cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestDB_TaskRoundTrip(t *testing.T) {
	db, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AutoMigrate(&models.Task{}))

	task := &models.Task{
		VideoOriginalName: "demo.mp4",
		VideoStoredName:   "x_demo.mp4",
		LanguageStatus:    models.LanguageStatus{},
	}
	require.NoError(t, db.Create(task).Error)

	var got models.Task
	require.NoError(t, db.Where("id = ?", task.ID).First(&got).Error)
	assert.Equal(t, "demo.mp4", got.VideoOriginalName)
}

func TestDB_SQLitePragmas(t *testing.T) {
	db, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	defer db.Close()

	var journalMode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, db.Raw("PRAGMA foreign_keys").Scan(&foreignKeys).Error)
	assert.Equal(t, 1, foreignKeys)
}

func TestTruncateSQL(t *testing.T) {
	short := "SELECT 1"
	assert.Equal(t, short, truncateSQL(short))

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	truncated := truncateSQL(string(long))
	assert.Len(t, truncated, 200+len("... (truncated)"))
}
