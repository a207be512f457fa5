package migrations

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestAllMigrations_VersionsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range AllMigrations() {
		assert.False(t, seen[m.Version], "duplicate version %s", m.Version)
		seen[m.Version] = true
	}
}

func TestMigrator_Up_AllMigrations(t *testing.T) {
	db := newTestDB(t)
	migrator := NewMigrator(db, testLogger())
	migrator.RegisterAll(AllMigrations())

	require.NoError(t, migrator.Up(context.Background()))

	for _, table := range []string{"tasks", "processing_logs", "schema_migrations"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestMigrator_Up_IsIdempotent(t *testing.T) {
	db := newTestDB(t)
	migrator := NewMigrator(db, testLogger())
	migrator.RegisterAll(AllMigrations())

	require.NoError(t, migrator.Up(context.Background()))
	require.NoError(t, migrator.Up(context.Background()))

	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.Equal(t, int64(len(AllMigrations())), count)
}
