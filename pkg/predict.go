package pkg

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"petfinder/pkg/io"
	"petfinder/pkg/model"
)

func loadModel(modelFileName string) (*model.Model, error) {
	modelFile, err := os.Open(modelFileName)
	if err != nil {
		return nil, fmt.Errorf("error opening model file %s: %w", modelFileName, err)
	}
	defer modelFile.Close()

	m, err := model.Load(modelFile)
	if err != nil {
		return nil, fmt.Errorf("error loading model from file %s: %w", modelFileName, err)
	}
	return m, nil
}

// Predict runs a saved model over an unlabelled CSV file and writes a submission file.
func Predict(modelFileName, inputFileName, outputFileName string, batchSize int) error {
	m, err := loadModel(modelFileName)
	if err != nil {
		return err
	}

	frame, dataErrors, err := io.ReadFrame(inputFileName)
	if err != nil {
		return fmt.Errorf("error loading data from %s: %w", inputFileName, err)
	}
	io.LogDataErrors(inputFileName, dataErrors)

	examples, err := applyTransform(m.Transform, frame, false, inputFileName)
	if err != nil {
		return err
	}
	if len(examples) == 0 {
		return fmt.Errorf("no data to predict in %s", inputFileName)
	}

	predictions := Evaluate(m, examples, batchSize).PredictedClasses(m.Transform)
	if err := writeSubmission(outputFileName, m.Transform, examples, predictions); err != nil {
		return err
	}
	log.Info().Int("predictions", len(predictions)).Str("file", outputFileName).Msg("Wrote submission")
	return nil
}
