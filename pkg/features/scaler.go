package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler removes the mean and scales to unit population variance.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler computes per-feature statistics from rows of equal width.
func FitScaler(rows [][]float64) (*StandardScaler, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("cannot fit scaler on empty data")
	}
	width := len(rows[0])
	s := &StandardScaler{Mean: make([]float64, width), Scale: make([]float64, width)}
	column := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, row := range rows {
			column[i] = row[j]
		}
		mean, variance := stat.MeanVariance(column, nil)
		if len(column) > 1 {
			// stat.MeanVariance is unbiased; the population variance is wanted here
			variance *= float64(len(column)-1) / float64(len(column))
		} else {
			variance = 0
		}
		s.Mean[j] = mean
		s.Scale[j] = math.Sqrt(variance)
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return s, nil
}

// Transform scales values in place.
func (s *StandardScaler) Transform(values []float64) {
	for j := range values {
		values[j] = (values[j] - s.Mean[j]) / s.Scale[j]
	}
}
