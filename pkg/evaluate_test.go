package pkg

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nlpodyssey/spago/pkg/ml/stats"
	"github.com/stretchr/testify/require"

	"petfinder/pkg/tracking"
)

func TestEvaluationF1(t *testing.T) {
	e := &Evaluation{}
	require.Empty(t, sortClasses(e.Metrics))
	macroF1, microF1 := e.F1()
	require.Equal(t, 0.0, macroF1)
	require.Equal(t, 0.0, microF1)

	e = &Evaluation{Metrics: map[string]*stats.ClassMetrics{}}
	e.count("a", "a")
	e.count("a", "b")
	e.count("b", "b")
	e.count("c", "c")

	require.Equal(t, []string{"a", "b", "c"}, sortClasses(e.Metrics))
	require.Equal(t, 1, e.Metrics["a"].TruePos)
	require.Equal(t, 1, e.Metrics["a"].FalseNeg)
	require.Equal(t, 1, e.Metrics["b"].FalsePos)

	macroF1, microF1 = e.F1()
	require.InDelta(t, (2.0/3+2.0/3+1)/3, macroF1, 1e-9)
	require.InDelta(t, 0.75, microF1, 1e-9)
}

func TestEvaluationF1WithoutTruePositives(t *testing.T) {
	e := &Evaluation{Metrics: map[string]*stats.ClassMetrics{}}
	e.count("0", "1")
	e.count("1", "1")

	require.Equal(t, 0.0, precision(e.Metrics["0"]))
	require.Equal(t, 0.0, recall(e.Metrics["0"]))
	require.Equal(t, 0.0, f1Score(e.Metrics["0"]))
	require.InDelta(t, 0.5, precision(e.Metrics["1"]), 1e-9)
	require.InDelta(t, 1.0, recall(e.Metrics["1"]), 1e-9)

	macroF1, microF1 := e.F1()
	require.InDelta(t, 1.0/3, macroF1, 1e-9)
	require.InDelta(t, 0.5, microF1, 1e-9)
	e.LogMetrics()

	ctx := context.Background()
	tracker, err := tracking.Open("sqlite://" + filepath.Join(t.TempDir(), "tracking.db"))
	require.NoError(t, err)
	defer tracker.Close()
	run, err := tracker.StartRun(ctx, "metrics")
	require.NoError(t, err)
	require.NoError(t, run.LogMetric(ctx, "macro_f1", macroF1, 0))
	require.NoError(t, run.LogMetric(ctx, "micro_f1", microF1, 0))
	require.NoError(t, run.End(ctx, tracking.Finished))
}

func TestArgmax(t *testing.T) {
	require.Equal(t, 2, argmax([]float64{0.1, -3, 4, 1}))
	require.Equal(t, 0, argmax([]float64{1, 1}))
}

func TestClassName(t *testing.T) {
	require.Equal(t, "3", className(nil, 3))
}
