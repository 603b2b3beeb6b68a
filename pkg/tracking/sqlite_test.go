package tracking

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) *SQLiteTracker {
	tracker, err := NewSQLiteTracker(filepath.Join(t.TempDir(), "mlruns", "tracking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

func TestSQLiteTracker_Run(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)

	run, err := tracker.StartRun(ctx, "Base model")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID())

	require.NoError(t, LogParams(ctx, run, map[string]interface{}{
		"hidden_layer_size": []int{100},
		"batch_norm":        false,
		"epochs":            10,
		"name":              "mlp",
	}))
	require.NoError(t, run.LogParam(ctx, "epochs", 10))
	require.Error(t, run.LogParam(ctx, "epochs", 20))

	require.NoError(t, run.LogMetric(ctx, "val_loss", 1.5, 0))
	require.NoError(t, run.LogMetric(ctx, "val_loss", 1.2, 1))
	require.NoError(t, run.LogMetric(ctx, "accuracy", 0.4, 0))

	artifact := filepath.Join(t.TempDir(), "result_submission.csv")
	require.NoError(t, os.WriteFile(artifact, []byte("PID,AdoptionSpeed\n"), 0644))
	require.NoError(t, run.LogArtifact(ctx, artifact))
	require.NoError(t, run.LogArtifact(ctx, artifact))
	copied, err := os.ReadFile(filepath.Join(tracker.ArtifactDir(run.ID()), "result_submission.csv"))
	require.NoError(t, err)
	require.Equal(t, "PID,AdoptionSpeed\n", string(copied))

	runs, err := tracker.ListRuns(ctx, "Base model")
	require.NoError(t, err)
	require.Equal(t, 1, len(runs))
	require.Equal(t, Running, runs[0].Status)
	require.True(t, runs[0].EndTime.IsZero())

	require.NoError(t, run.End(ctx, Finished))

	runs, err = tracker.ListRuns(ctx, "Base model")
	require.NoError(t, err)
	info := runs[0]
	require.Equal(t, run.ID(), info.ID)
	require.Equal(t, Finished, info.Status)
	require.False(t, info.EndTime.Before(info.StartTime))
	require.Equal(t, map[string]string{
		"hidden_layer_size": "[100]",
		"batch_norm":        "false",
		"epochs":            "10",
		"name":              "mlp",
	}, info.Params)
	require.Equal(t, map[string]float64{"val_loss": 1.2, "accuracy": 0.4}, info.Metrics)
}

func TestSQLiteTracker_Experiments(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)

	_, err := tracker.ListRuns(ctx, "missing")
	require.Error(t, err)

	first, err := tracker.StartRun(ctx, "a")
	require.NoError(t, err)
	second, err := tracker.StartRun(ctx, "a")
	require.NoError(t, err)
	_, err = tracker.StartRun(ctx, "b")
	require.NoError(t, err)
	require.NotEqual(t, first.ID(), second.ID())

	runs, err := tracker.ListRuns(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 2, len(runs))
	require.Equal(t, first.ID(), runs[0].ID)
	require.Equal(t, second.ID(), runs[1].ID)
}

func TestSQLiteTracker_Reopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tracking.db")

	tracker, err := Open("sqlite://" + dbPath)
	require.NoError(t, err)
	run, err := tracker.StartRun(ctx, "persisted")
	require.NoError(t, err)
	require.NoError(t, run.LogMetric(ctx, "loss", 0.5, 0))
	require.NoError(t, run.End(ctx, Failed))
	require.NoError(t, tracker.Close())

	tracker, err = Open("sqlite://" + dbPath)
	require.NoError(t, err)
	defer tracker.Close()
	runs, err := tracker.ListRuns(ctx, "persisted")
	require.NoError(t, err)
	require.Equal(t, 1, len(runs))
	require.Equal(t, Failed, runs[0].Status)
	require.Equal(t, 0.5, runs[0].Metrics["loss"])
}

func TestOpen(t *testing.T) {
	tracker, err := Open("http://localhost:5000/")
	require.NoError(t, err)
	require.IsType(t, &MLflowTracker{}, tracker)

	_, err = Open("file:///tmp/mlruns")
	require.Error(t, err)
}

type level int

func (l level) String() string {
	return "level"
}

func TestFormatParam(t *testing.T) {
	require.Equal(t, "plain", FormatParam("plain"))
	require.Equal(t, "0.0005", FormatParam(0.0005))
	require.Equal(t, "[0.5,0.1]", FormatParam([]float64{0.5, 0.1}))
	require.Equal(t, `{"Breed1":308}`, FormatParam(map[string]int{"Breed1": 308}))
	require.Equal(t, `["Age","Fee"]`, FormatParam([]string{"Age", "Fee"}))
	require.Equal(t, "level", FormatParam(level(1)))
}
