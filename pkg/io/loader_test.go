package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeDataset(t *testing.T, train, test string) string {
	dir := t.TempDir()
	if train != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, TrainFileName), []byte(train), 0644))
	}
	if test != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, TestFileName), []byte(test), 0644))
	}
	return dir
}

func TestLoadDataset(t *testing.T) {
	dir := writeDataset(t, testCSV, "PID,Type,Age,Description\nb1,1,4,dog\n")

	dataset, err := LoadDataset(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 3, dataset.Train.Len())
	require.Equal(t, 1, len(dataset.TrainErrors))
	require.Equal(t, 1, dataset.Test.Len())
	require.Empty(t, dataset.TestErrors)
	require.False(t, dataset.Test.HasColumn("AdoptionSpeed"))
}

func TestLoadDatasetMissingFile(t *testing.T) {
	dir := writeDataset(t, testCSV, "")

	_, err := LoadDataset(context.Background(), dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "test data")
}

func TestLoadDatasetCancelled(t *testing.T) {
	dir := writeDataset(t, testCSV, testCSV)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := LoadDataset(ctx, dir)
	require.ErrorIs(t, err, context.Canceled)
}
