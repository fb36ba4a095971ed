package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siamese-iris/internal/metrics"
	"siamese-iris/internal/runlog/migrations"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestRunLifecycle(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	id, err := s.StartRun(ctx, RunInfo{
		DatasetDir: "/data/CASIA1",
		Device:     "cpu",
		Config:     map[string]int{"epochs": 2},
		TrainPairs: 450,
		TestPairs:  306,
		ParamCount: 1234,
	})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		require.NoError(t, s.RecordEpoch(ctx, id, metrics.Epoch{
			Epoch: i, LR: 0.7, TrainLoss: 0.6, TestLoss: 0.001, Correct: 200 + i, Total: 306,
			Duration: 1500 * time.Millisecond,
		}))
	}
	require.NoError(t, s.FinishRun(ctx, id, StatusCompleted, "model.ckpt"))

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, `{"epochs":2}`, run.Config)
	assert.Equal(t, "model.ckpt", run.CheckpointPath)
	assert.False(t, run.FinishedAt.IsZero())

	h, err := s.Epochs(ctx, id)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, 202, h[1].Correct)
	assert.Equal(t, 1500*time.Millisecond, h[0].Duration)
}

func TestRecordEpochRequiresRun(t *testing.T) {
	s, _ := openTestStore(t)
	err := s.RecordEpoch(context.Background(), "missing", metrics.Epoch{Epoch: 1})
	assert.Error(t, err)
}

func TestFinishUnknownRun(t *testing.T) {
	s, _ := openTestStore(t)
	assert.Error(t, s.FinishRun(context.Background(), "missing", StatusFailed, ""))
}

func TestReopenKeepsHistory(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()
	id, err := s.StartRun(ctx, RunInfo{DatasetDir: "d", Device: "cpu"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	again, err := Open(ctx, path)
	require.NoError(t, err)
	defer again.Close()
	run, err := again.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
}

func TestMigrationsApplyOnce(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, applyMigrations(ctx, s.sqlDB, migrations.FS))

	var n int
	require.NoError(t, s.sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+migrationTable).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (x INT);\n-- +migrate Down\nDROP TABLE a;\n"
	assert.Equal(t, "\nCREATE TABLE a (x INT);\n", extractUpMigration(content))
	assert.Equal(t, "SELECT 1;", extractUpMigration("SELECT 1;"))
}
