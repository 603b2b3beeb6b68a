package io

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	TrainFileName = "train.csv"
	TestFileName  = "test.csv"
)

// Dataset holds the raw train and test frames of a dataset directory.
type Dataset struct {
	Train       *Frame
	Test        *Frame
	TrainErrors []DataError
	TestErrors  []DataError
}

// LoadDataset reads train.csv and test.csv from dir concurrently.
func LoadDataset(ctx context.Context, dir string) (*Dataset, error) {
	result := &Dataset{}
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		frame, dataErrors, err := readFrameContext(egCtx, filepath.Join(dir, TrainFileName))
		if err != nil {
			return fmt.Errorf("error reading training data: %w", err)
		}
		result.Train, result.TrainErrors = frame, dataErrors
		return nil
	})
	eg.Go(func() error {
		frame, dataErrors, err := readFrameContext(egCtx, filepath.Join(dir, TestFileName))
		if err != nil {
			return fmt.Errorf("error reading test data: %w", err)
		}
		result.Test, result.TestErrors = frame, dataErrors
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	log.Info().Int("train", result.Train.Len()).Int("test", result.Test.Len()).Msg("Loaded samples")
	return result, nil
}

func readFrameContext(ctx context.Context, fileName string) (*Frame, []DataError, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return ReadFrame(fileName)
}

func LogDataErrors(source string, dataErrors []DataError) {
	for _, err := range dataErrors {
		log.Error().Str("source", source).Int("line", err.Line).Msg(err.Error)
	}
}
