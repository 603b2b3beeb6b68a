package features

import (
	"fmt"

	"github.com/nlpodyssey/spago/pkg/mat"

	"petfinder/pkg/io"
)

// Transform holds everything learned from the training split that is needed to encode
// any later frame the same way.
type Transform struct {
	Columns Columns

	// OneHotSizes is the indicator vector length of each one-hot column
	OneHotSizes []int

	// EmbeddingSizes is the lookup table size of each embedded column
	EmbeddingSizes []int

	// EmbeddingDimensions is the vector size of each embedded column
	EmbeddingDimensions []int

	Scaler *StandardScaler

	// TargetMap maps target values to class indexes
	TargetMap NameMap
}

type rawRow struct {
	line     int
	id       string
	oneHot   []int
	embedded []int
	numeric  []float64
	target   string
}

func parseRow(f *io.Frame, row int, c Columns) (*rawRow, error) {
	r := &rawRow{
		line:     f.Lines[row],
		id:       f.Value(row, c.ID),
		oneHot:   make([]int, len(c.OneHot)),
		embedded: make([]int, len(c.Embedded)),
		numeric:  make([]float64, len(c.Numeric)),
		target:   f.Value(row, c.Target),
	}
	var err error
	for i, col := range c.OneHot {
		if r.oneHot[i], err = f.Int(row, col); err != nil {
			return nil, err
		}
	}
	for i, col := range c.Embedded {
		if r.embedded[i], err = f.Int(row, col); err != nil {
			return nil, err
		}
	}
	for i, col := range c.Numeric {
		if r.numeric[i], err = numericValue(f, row, col, c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func checkColumns(f *io.Frame, c Columns, labelled bool) error {
	required := append(append([]string{}, c.OneHot...), c.Embedded...)
	for _, col := range c.Numeric {
		if !IsDerived(col) {
			required = append(required, col)
		}
	}
	if labelled {
		required = append(required, c.Target)
	}
	for _, col := range required {
		if !f.HasColumn(col) {
			return fmt.Errorf("column %s not found in data header", col)
		}
	}
	return nil
}

func parseRows(f *io.Frame, c Columns) ([]*rawRow, []io.DataError) {
	var dataErrors []io.DataError
	rows := make([]*rawRow, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		r, err := parseRow(f, i, c)
		if err != nil {
			dataErrors = append(dataErrors, io.DataError{Line: f.Lines[i], Error: err.Error()})
			continue
		}
		rows = append(rows, r)
	}
	return rows, dataErrors
}

// Fit learns the one-hot lengths, embedding table sizes, numeric scaling and target classes
// from a labelled training frame.
func Fit(f *io.Frame, c Columns) (*Transform, []io.DataError, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	if err := checkColumns(f, c, true); err != nil {
		return nil, nil, err
	}
	rows, dataErrors := parseRows(f, c)
	if len(rows) == 0 {
		return nil, dataErrors, fmt.Errorf("no valid rows to fit features on")
	}

	t := &Transform{
		Columns:             c,
		OneHotSizes:         make([]int, len(c.OneHot)),
		EmbeddingSizes:      make([]int, len(c.Embedded)),
		EmbeddingDimensions: make([]int, len(c.Embedded)),
	}
	targets := map[string]struct{}{}
	numeric := make([][]float64, len(rows))
	for i, r := range rows {
		for j, v := range r.oneHot {
			if v > t.OneHotSizes[j] {
				t.OneHotSizes[j] = v
			}
		}
		for j, v := range r.embedded {
			if v+1 > t.EmbeddingSizes[j] {
				t.EmbeddingSizes[j] = v + 1
			}
		}
		numeric[i] = r.numeric
		targets[r.target] = struct{}{}
	}
	for j, size := range t.EmbeddingSizes {
		if size == 0 {
			t.EmbeddingSizes[j] = 1
		}
		t.EmbeddingDimensions[j] = EmbeddingDimension(t.EmbeddingSizes[j])
	}
	if len(c.Numeric) > 0 {
		scaler, err := FitScaler(numeric)
		if err != nil {
			return nil, dataErrors, err
		}
		t.Scaler = scaler
	}
	t.TargetMap = newSortedNameMap(targets)
	return t, dataErrors, nil
}

// EmbeddingDimension is a quarter of the table size, never less than one.
func EmbeddingDimension(tableSize int) int {
	if d := tableSize / 4; d > 0 {
		return d
	}
	return 1
}

func (t *Transform) DirectSize() int {
	size := len(t.Columns.Numeric)
	for _, s := range t.OneHotSizes {
		size += s
	}
	return size
}

func (t *Transform) NumLabels() int {
	return t.TargetMap.Size()
}

func (t *Transform) ClassName(index int) string {
	return t.TargetMap.IndexToName[index]
}

// Apply encodes every valid row of the frame. When labelled is false the target column is
// ignored and the examples carry io.NoTarget.
func (t *Transform) Apply(f *io.Frame, labelled bool) ([]*io.Example, []io.DataError, error) {
	if err := checkColumns(f, t.Columns, labelled); err != nil {
		return nil, nil, err
	}
	rows, dataErrors := parseRows(f, t.Columns)
	result := make([]*io.Example, 0, len(rows))
	for _, r := range rows {
		example, err := t.encode(r, labelled)
		if err != nil {
			dataErrors = append(dataErrors, io.DataError{Line: r.line, Error: err.Error()})
			continue
		}
		result = append(result, example)
	}
	return result, dataErrors, nil
}

func (t *Transform) encode(r *rawRow, labelled bool) (*io.Example, error) {
	example := &io.Example{ID: r.id, Target: io.NoTarget, Embedded: make([]int, len(r.embedded))}
	if labelled {
		target, ok := t.TargetMap.Index(r.target)
		if !ok {
			return nil, fmt.Errorf("unknown target value %q", r.target)
		}
		example.Target = target
	}

	direct := make([]float64, 0, t.DirectSize())
	for j, v := range r.oneHot {
		direct = append(direct, oneHot(v, t.OneHotSizes[j])...)
	}
	if t.Scaler != nil {
		scaled := append([]float64{}, r.numeric...)
		t.Scaler.Transform(scaled)
		direct = append(direct, scaled...)
	}
	example.Direct = mat.NewVecDense(direct)

	for j, v := range r.embedded {
		if v < 0 || v >= t.EmbeddingSizes[j] {
			v = 0 // out of vocabulary values share the zero embedding
		}
		example.Embedded[j] = v
	}
	return example, nil
}

// oneHot encodes a 1-based category; values outside [1, size] give an all-zero vector.
func oneHot(value, size int) []float64 {
	result := make([]float64, size)
	if value >= 1 && value <= size {
		result[value-1] = 1
	}
	return result
}
