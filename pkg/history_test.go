package pkg

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHistoryPlot(t *testing.T) {
	h := &History{}
	h.Add(HistoryEntry{Epoch: 0, Loss: 1.5, Accuracy: 0.3, HasValidation: true, ValLoss: 1.6, ValAccuracy: 0.25})
	h.Add(HistoryEntry{Epoch: 1, Loss: 1.2, Accuracy: 0.4, HasValidation: true, ValLoss: 1.4, ValAccuracy: 0.35})

	require.Equal(t, 2, len(h.series(func(e HistoryEntry) float64 { return e.ValLoss }, true)))

	dir := t.TempDir()
	files, err := h.Plot(dir)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, LossPlotFile), filepath.Join(dir, AccuracyPlotFile)}, files)
	for _, f := range files {
		require.FileExists(t, f)
	}
}

func TestHistoryPlotWithoutValidation(t *testing.T) {
	h := &History{}
	h.Add(HistoryEntry{Epoch: 0, Loss: 1.5, Accuracy: 0.3})

	require.Empty(t, h.series(func(e HistoryEntry) float64 { return e.ValLoss }, true))

	files, err := h.Plot(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 2, len(files))
}
