package progress

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/jmylchreest/dubarr/internal/repository"
	"github.com/jmylchreest/dubarr/internal/service"
	"github.com/jmylchreest/dubarr/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingTracker struct {
	updates []int
	cleared bool
}

func (r *recordingTracker) UpdateExecution(_ models.ULID, _ string, _ models.Stage, progress int, _ string) {
	r.updates = append(r.updates, progress)
}

func (r *recordingTracker) ClearExecution(models.ULID, string, models.Stage) {
	r.cleared = true
}

func newTestBus(t *testing.T) (*Bus, *service.TaskService, *models.Task, *recordingTracker) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Task{}, &models.ProcessingLog{}))

	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)
	store := service.NewTaskService(
		repository.NewTaskRepository(db),
		repository.NewProcessingLogRepository(db),
		storage.NewTaskPaths(sandbox, nil),
	)

	task, err := store.Create(context.Background(), "demo.mp4", strings.NewReader("video"), nil)
	require.NoError(t, err)

	tracker := &recordingTracker{}
	bus := NewBus(store, NewRegistry(16, nil), nil).WithExecutionTracker(tracker)
	return bus, store, task, tracker
}

func TestBus_Publish_WriteBeforeBroadcast(t *testing.T) {
	bus, store, task, _ := newTestBus(t)
	ctx := context.Background()

	sub, unsubscribe := bus.Registry().Subscribe(task.ID.String())
	defer unsubscribe()

	require.NoError(t, bus.Publish(ctx, task.ID, "en", models.StageTranslation, models.StageCompleted, 100, "done"))

	select {
	case ev := <-sub.Events:
		require.Equal(t, models.StageCompleted, ev.Status)
		// A read performed after receiving the event observes the
		// persisted completed status.
		got, err := store.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StageCompleted, got.StageStatusFor("en", models.StageTranslation).Status)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestBus_Publish_MonotonicClamp(t *testing.T) {
	bus, _, task, _ := newTestBus(t)
	ctx := context.Background()

	sub, unsubscribe := bus.Registry().Subscribe(task.ID.String())
	defer unsubscribe()

	steps := []struct {
		in   int
		want int
	}{
		{0, 0}, {30, 30}, {20, 30}, {55, 55}, {50, 55}, {90, 90},
	}
	require.NoError(t, bus.Publish(ctx, task.ID, "en", models.StageTranslation, models.StageProcessing, steps[0].in, "start"))
	for _, s := range steps[1:] {
		require.NoError(t, bus.Publish(ctx, task.ID, "en", models.StageTranslation, models.StageProcessing, s.in, "tick"))
	}

	var got []int
	for range steps {
		ev := <-sub.Events
		got = append(got, ev.Progress)
	}
	var want []int
	for _, s := range steps {
		want = append(want, s.want)
	}
	assert.Equal(t, want, got)
}

func TestBus_Publish_NewRunResetsClamp(t *testing.T) {
	bus, store, task, _ := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, task.ID, "en", models.StageTranslation, models.StageProcessing, 80, "run 1"))
	require.NoError(t, bus.Publish(ctx, task.ID, "en", models.StageTranslation, models.StageFailed, 80, "boom"))

	// Second run starts from zero.
	require.NoError(t, bus.Publish(ctx, task.ID, "en", models.StageTranslation, models.StageProcessing, 0, "run 2"))

	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	st := got.StageStatusFor("en", models.StageTranslation)
	assert.Equal(t, models.StageProcessing, st.Status)
	assert.Equal(t, 0, st.Progress)
}

func TestBus_Publish_TrackerLifecycle(t *testing.T) {
	bus, _, task, tracker := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, task.ID, "en", models.StageTranslation, models.StageProcessing, 10, "tick"))
	require.NoError(t, bus.Publish(ctx, task.ID, "en", models.StageTranslation, models.StageCompleted, 100, "done"))

	assert.Equal(t, []int{10}, tracker.updates)
	assert.True(t, tracker.cleared)
}

func TestBus_Publish_UnknownTaskFails(t *testing.T) {
	bus, _, _, _ := newTestBus(t)
	err := bus.Publish(context.Background(), models.NewULID(), "en", models.StageTranslation, models.StageProcessing, 0, "start")
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestBus_Publish_LogAppended(t *testing.T) {
	bus, store, task, _ := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, task.ID, "en", models.StageTranslation, models.StageProcessing, 0, "start"))
	require.NoError(t, bus.Publish(ctx, task.ID, "en", models.StageTranslation, models.StageCompleted, 100, "done"))

	logs, err := store.ListLogs(ctx, task.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.StageProcessing, logs[0].Status)
	assert.Equal(t, models.StageCompleted, logs[1].Status)
}
