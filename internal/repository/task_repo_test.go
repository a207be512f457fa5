package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/dubarr/internal/models"
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
	require.NoError(t, db.AutoMigrate(&models.Task{}, &models.ProcessingLog{}))
	return db
}

func newTask(name string) *models.Task {
	return &models.Task{
		VideoOriginalName: name,
		VideoStoredName:   "stored_" + name,
		Config:            models.TaskConfig{TargetLanguages: []string{"en"}},
		LanguageStatus:    models.LanguageStatus{},
	}
}

func TestTaskRepo_CreateAndGet(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	task := newTask("demo.mp4")
	require.NoError(t, repo.Create(ctx, task))
	require.False(t, task.ID.IsZero(), "ULID assigned on create")

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "demo.mp4", got.VideoOriginalName)
	assert.Equal(t, models.TaskPending, got.OverallStatus)
	assert.Equal(t, []string{"en"}, got.Config.TargetLanguages)
}

func TestTaskRepo_GetByID_NotFound(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))

	got, err := repo.GetByID(context.Background(), models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTaskRepo_List_NewestFirst(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	first := newTask("a.mp4")
	require.NoError(t, repo.Create(ctx, first))
	// Distinct created_at timestamps so ordering is deterministic.
	time.Sleep(5 * time.Millisecond)
	second := newTask("b.mp4")
	require.NoError(t, repo.Create(ctx, second))

	tasks, err := repo.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "b.mp4", tasks[0].VideoOriginalName)
	assert.Equal(t, "a.mp4", tasks[1].VideoOriginalName)

	tasks, err = repo.List(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "a.mp4", tasks[0].VideoOriginalName)
}

func TestTaskRepo_LanguageStatusRoundTrip(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	task := newTask("demo.mp4")
	require.NoError(t, repo.Create(ctx, task))

	status := models.StageProcessing
	progress := 40
	task.ApplyStageDelta("en", models.StageTranslation, models.StageDelta{
		Status:   &status,
		Progress: &progress,
	})
	require.NoError(t, repo.Save(ctx, task))

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	st := got.StageStatusFor("en", models.StageTranslation)
	assert.Equal(t, models.StageProcessing, st.Status)
	assert.Equal(t, 40, st.Progress)
	assert.Equal(t, models.TaskProcessing, got.OverallStatus)
}

func TestTaskRepo_Delete_CascadesLogs(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	logRepo := NewProcessingLogRepository(db)
	ctx := context.Background()

	task := newTask("demo.mp4")
	require.NoError(t, repo.Create(ctx, task))
	require.NoError(t, logRepo.Append(ctx, &models.ProcessingLog{
		TaskID:   task.ID,
		Language: "en",
		Stage:    models.StageTranslation,
		Status:   models.StageProcessing,
		Progress: 10,
	}))

	require.NoError(t, repo.Delete(ctx, task.ID))

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	logs, err := logRepo.ListByTask(ctx, task.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestProcessingLogRepo_AppendAndList(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	logRepo := NewProcessingLogRepository(db)
	ctx := context.Background()

	task := newTask("demo.mp4")
	require.NoError(t, repo.Create(ctx, task))

	for i, progress := range []int{0, 50, 100} {
		require.NoError(t, logRepo.Append(ctx, &models.ProcessingLog{
			TaskID:   task.ID,
			Language: "en",
			Stage:    models.StageTranslation,
			Status:   models.StageProcessing,
			Progress: progress,
			Message:  "step",
		}), i)
	}

	logs, err := logRepo.ListByTask(ctx, task.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, 0, logs[0].Progress)
	assert.Equal(t, 100, logs[2].Progress)
}
