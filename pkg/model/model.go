package model

import (
	"encoding/gob"
	"fmt"
	"io"

	"petfinder/pkg/features"
)

// Model bundles the fitted feature transform with the network trained on it.
type Model struct {
	Transform *features.Transform
	MLP       *MLP
}

// ConfigFor completes a network configuration with the sizes learned by the transform.
func ConfigFor(t *features.Transform, hiddenLayerSizes []int, dropout []float64, batchNorm bool) MLPConfig {
	return MLPConfig{
		HiddenLayerSizes:    hiddenLayerSizes,
		Dropout:             dropout,
		BatchNorm:           batchNorm,
		DirectSize:          t.DirectSize(),
		EmbeddingSizes:      t.EmbeddingSizes,
		EmbeddingDimensions: t.EmbeddingDimensions,
		NumLabels:           t.NumLabels(),
	}
}

func Save(model *Model, writer io.Writer) error {
	encoder := gob.NewEncoder(writer)
	err := encoder.Encode(model)
	if err != nil {
		return fmt.Errorf("error encoding model: %w", err)
	}
	return nil
}

func Load(input io.Reader) (*Model, error) {
	decoder := gob.NewDecoder(input)
	model := Model{}
	err := decoder.Decode(&model)
	if err != nil {
		return nil, fmt.Errorf("error decoding model: %w", err)
	}
	return &model, nil
}
