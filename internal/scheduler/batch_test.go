package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/dubarr/internal/config"
	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/jmylchreest/dubarr/internal/repository"
	"github.com/jmylchreest/dubarr/internal/runner"
	"github.com/jmylchreest/dubarr/internal/service"
	"github.com/jmylchreest/dubarr/internal/service/progress"
	"github.com/jmylchreest/dubarr/internal/storage"
	"github.com/jmylchreest/dubarr/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const batchSRT = `1
00:00:00,000 --> 00:00:01,000
Hello.
`

type batchFixture struct {
	store *service.TaskService
	bus   *progress.Bus
	lock  *runner.RunLock
	batch *Batch
	task  *models.Task
}

// fakeWorkers builds a worker config where every stage runs the given shell
// script. The script receives the request path as $1 and must produce the
// stage's output files itself; scripts in these tests fake them via the
// request document's paths.
func fakeWorkers(script string) config.WorkersConfig {
	profile := config.WorkerProfile{
		Command: "/bin/sh",
		Args:    []string{"-c", script, "worker"},
		Timeout: time.Minute,
	}
	return config.WorkersConfig{
		Diarization:     profile,
		Translation:     profile,
		VoiceCloning:    profile,
		Stitch:          profile,
		Export:          profile,
		KillGracePeriod: 500 * time.Millisecond,
	}
}

// universalScript fakes any stage: it extracts output paths from the
// request document and creates them, then prints a result document.
const universalScript = `
req="$1"
stage=$(sed -n 's/.*"stage": *"\([^"]*\)".*/\1/p' "$req" | head -1)
out=$(sed -n 's/.*"output_path": *"\([^"]*\)".*/\1/p' "$req" | head -1)
outfile=$(sed -n 's/.*"output_file": *"\([^"]*\)".*/\1/p' "$req" | head -1)
for f in "$out" "$outfile"; do
  if [ -n "$f" ]; then
    mkdir -p "$(dirname "$f")"
    printf '1\n00:00:00,000 --> 00:00:01,000\nBonjour.\n' > "$f"
  fi
done
echo "1/1"
case "$stage" in
voice_cloning)
  echo '[{"segment_index":0,"status":"ok","output_file":"segment_0.wav","inference_time":0.1}]'
  ;;
stitch)
  echo '[{"index":0,"actual_start_time":0.0,"actual_end_time":1.0}]'
  ;;
*)
  echo '{"speaker_labels":[0],"speaker_name_mapping":{"0":"spk1"},"gender_dict":{"0":"m"},"unique_speakers":1,"output_file":"done"}'
  ;;
esac
`

func newBatchFixture(t *testing.T, script string) *batchFixture {
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

	lock := runner.NewRunLock()
	bus := progress.NewBus(store, progress.NewRegistry(256, nil), nil).WithExecutionTracker(lock)
	adapter := worker.NewAdapter(fakeWorkers(script), nil)
	stageRunner := runner.NewStageRunner(store, bus, adapter, lock)
	batch := NewBatch(store, stageRunner, bus)

	task, err := store.Create(context.Background(), "demo.mp4", strings.NewReader("video"), strings.NewReader(batchSRT))
	require.NoError(t, err)

	return &batchFixture{store: store, bus: bus, lock: lock, batch: batch, task: task}
}

func waitForState(t *testing.T, b *Batch, want State) Snapshot {
	t.Helper()
	var snapshot Snapshot
	require.Eventually(t, func() bool {
		snapshot = b.Status()
		return snapshot.State == want && snapshot.FinishedAt != nil
	}, 15*time.Second, 20*time.Millisecond, "batch never reached %s (last: %+v)", want, snapshot)
	return snapshot
}

func TestBatch_SingleTaskHappyPath(t *testing.T) {
	f := newBatchFixture(t, universalScript)
	ctx := context.Background()

	require.NoError(t, f.batch.Start(ctx, Request{
		TaskIDs:             []models.ULID{f.task.ID},
		Languages:           []string{"en"},
		SpeakerVoiceMapping: map[string]string{"spk1": "voice_a.wav"},
	}))

	snapshot := waitForState(t, f.batch, StateIdle)
	assert.Empty(t, snapshot.Error)
	assert.Equal(t, 1, snapshot.CompletedTasks)
	assert.Equal(t, 5, snapshot.TotalStages, "diarization + four pipeline stages")
	assert.Equal(t, 5, snapshot.CompletedStages)

	got, err := f.store.Get(ctx, f.task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.OverallStatus)
	assert.Equal(t, map[string]string{"spk1": "voice_a.wav"}, got.Config.SpeakerVoiceMapping)
	for _, stage := range models.PipelineStages {
		assert.Equal(t, models.StageCompleted, got.StageStatusFor("en", stage).Status, string(stage))
	}
	assert.Equal(t, models.StageCompleted, got.StageStatusFor(models.DefaultLanguage, models.StageSpeakerDiarization).Status)

	assert.Nil(t, f.lock.Current(), "run lock free after batch")
}

func TestBatch_ConflictWhileRunning(t *testing.T) {
	f := newBatchFixture(t, `sleep 3; `+universalScript)
	ctx := context.Background()

	require.NoError(t, f.batch.Start(ctx, Request{TaskIDs: []models.ULID{f.task.ID}, Languages: []string{"en"}}))

	err := f.batch.Start(ctx, Request{TaskIDs: []models.ULID{f.task.ID}, Languages: []string{"ko"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConflict)

	require.NoError(t, f.batch.Stop())
	waitForState(t, f.batch, StateStopped)
}

func TestBatch_StageFailureEndsBatch(t *testing.T) {
	f := newBatchFixture(t, `echo "broken runtime" >&2; exit 1`)
	ctx := context.Background()

	require.NoError(t, f.batch.Start(ctx, Request{TaskIDs: []models.ULID{f.task.ID}, Languages: []string{"en"}}))

	snapshot := waitForState(t, f.batch, StateIdle)
	assert.NotEmpty(t, snapshot.Error)

	got, err := f.store.Get(ctx, f.task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.OverallStatus)
}

func TestBatch_StopTerminatesCurrentStage(t *testing.T) {
	f := newBatchFixture(t, `echo "1/10"; sleep 30`)
	ctx := context.Background()

	require.NoError(t, f.batch.Start(ctx, Request{TaskIDs: []models.ULID{f.task.ID}, Languages: []string{"en", "ko"}}))

	// Wait for the first stage to hold the run lock, then stop.
	require.Eventually(t, func() bool {
		return f.lock.Current() != nil
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, f.batch.Stop())

	snapshot := waitForState(t, f.batch, StateStopped)
	assert.Equal(t, StateStopped, snapshot.State)

	got, err := f.store.Get(ctx, f.task.ID)
	require.NoError(t, err)
	// The interrupted stage is failed with a cancel message; later stages
	// remain untouched.
	st := got.StageStatusFor(models.DefaultLanguage, models.StageSpeakerDiarization)
	assert.Equal(t, models.StageFailed, st.Status)
	assert.Contains(t, st.Message, "cancel")
	assert.Equal(t, models.StageIdle, got.StageStatusFor("ko", models.StageExport).Status)

	assert.Nil(t, f.lock.Current(), "no running record after stop")

	_, err = f.store.Get(ctx, f.task.ID)
	require.NoError(t, err)
}

func TestBatch_Stop_NoRun(t *testing.T) {
	f := newBatchFixture(t, universalScript)
	err := f.batch.Stop()
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestBatch_Start_UnknownTask(t *testing.T) {
	f := newBatchFixture(t, universalScript)
	err := f.batch.Start(context.Background(), Request{
		TaskIDs:   []models.ULID{models.NewULID()},
		Languages: []string{"en"},
	})
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestBatch_SkipsCompletedDiarization(t *testing.T) {
	f := newBatchFixture(t, universalScript)
	ctx := context.Background()

	// First run completes everything including diarization.
	require.NoError(t, f.batch.Start(ctx, Request{TaskIDs: []models.ULID{f.task.ID}, Languages: []string{"en"}}))
	waitForState(t, f.batch, StateIdle)

	// Second run over another language reuses the diarization result.
	require.NoError(t, f.batch.Start(ctx, Request{TaskIDs: []models.ULID{f.task.ID}, Languages: []string{"ko"}}))
	snapshot := waitForState(t, f.batch, StateIdle)
	assert.Equal(t, 4, snapshot.TotalStages)
	assert.Equal(t, 4, snapshot.CompletedStages)
}

func TestBatch_BatchStateEventsReachSubscribers(t *testing.T) {
	f := newBatchFixture(t, universalScript)
	ctx := context.Background()

	sub, unsubscribe := f.bus.Registry().Subscribe(f.task.ID.String())
	defer unsubscribe()

	require.NoError(t, f.batch.Start(ctx, Request{TaskIDs: []models.ULID{f.task.ID}, Languages: []string{"en"}}))
	waitForState(t, f.batch, StateIdle)

	var sawBatchState bool
	timeout := time.After(2 * time.Second)
	for !sawBatchState {
		select {
		case ev := <-sub.Events:
			if ev.Type == progress.EventTypeBatchState {
				sawBatchState = true
			}
		case <-timeout:
			t.Fatal("no batch_state event observed")
		}
	}
}

func TestBatch_MultiTask(t *testing.T) {
	f := newBatchFixture(t, universalScript)
	ctx := context.Background()

	second, err := f.store.Create(ctx, "second.mp4", strings.NewReader("video"), strings.NewReader(batchSRT))
	require.NoError(t, err)

	require.NoError(t, f.batch.Start(ctx, Request{
		TaskIDs:   []models.ULID{f.task.ID, second.ID},
		Languages: []string{"en"},
	}))

	snapshot := waitForState(t, f.batch, StateIdle)
	assert.Equal(t, 2, snapshot.CompletedTasks)
	assert.Equal(t, 10, snapshot.CompletedStages)

	for _, id := range []models.ULID{f.task.ID, second.ID} {
		got, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskCompleted, got.OverallStatus)
	}
}
