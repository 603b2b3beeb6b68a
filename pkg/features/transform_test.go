package features

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"petfinder/pkg/io"
)

const trainCSV = `PID,Type,Breed1,Age,AdoptionSpeed
p1,1,0,1,0
p2,2,3,3,2
p3,1,5,1,4
p4,2,x,2,1
`

func testColumns() Columns {
	return Columns{
		Target:   "AdoptionSpeed",
		ID:       "PID",
		OneHot:   []string{"Type"},
		Embedded: []string{"Breed1"},
		Numeric:  []string{"Age"},
	}
}

func parse(t *testing.T, content string) *io.Frame {
	frame, dataErrors, err := io.ParseFrame(strings.NewReader(content))
	require.NoError(t, err)
	require.Empty(t, dataErrors)
	return frame
}

func TestFit(t *testing.T) {
	transform, dataErrors, err := Fit(parse(t, trainCSV), testColumns())
	require.NoError(t, err)
	require.Equal(t, 1, len(dataErrors)) // p4 has a non numeric breed
	require.Equal(t, 5, dataErrors[0].Line)

	require.Equal(t, []int{2}, transform.OneHotSizes)
	require.Equal(t, []int{6}, transform.EmbeddingSizes)
	require.Equal(t, []int{1}, transform.EmbeddingDimensions)
	require.Equal(t, 3, transform.DirectSize())
	require.Equal(t, 3, transform.NumLabels())
	require.Equal(t, "0", transform.ClassName(0))
	require.Equal(t, "2", transform.ClassName(1))
	require.Equal(t, "4", transform.ClassName(2))
}

func TestApply(t *testing.T) {
	transform, _, err := Fit(parse(t, trainCSV), testColumns())
	require.NoError(t, err)

	test := parse(t, `PID,Type,Breed1,Age
q1,2,3,5
q2,7,9,1
q3,0,-1,3
`)
	examples, dataErrors, err := transform.Apply(test, false)
	require.NoError(t, err)
	require.Empty(t, dataErrors)
	require.Equal(t, 3, len(examples))

	require.Equal(t, "q1", examples[0].ID)
	require.Equal(t, io.NoTarget, examples[0].Target)
	require.Equal(t, []int{3}, examples[0].Embedded)
	require.Equal(t, 3, examples[0].Direct.Rows())
	require.Equal(t, []float64{0, 1}, examples[0].Direct.Data()[:2])

	// Age mean is 5/3 and population deviation sqrt(8/9) over the fitted rows
	require.InDelta(t, (5-5.0/3)/0.9428090415820634, examples[0].Direct.Data()[2], 1e-9)

	// Out of range one-hot values give zero vectors and unknown breeds fall back to index 0
	require.Equal(t, []float64{0, 0}, examples[1].Direct.Data()[:2])
	require.Equal(t, []int{0}, examples[1].Embedded)
	require.Equal(t, []float64{0, 0}, examples[2].Direct.Data()[:2])
	require.Equal(t, []int{0}, examples[2].Embedded)
}

func TestApplyLabelled(t *testing.T) {
	transform, _, err := Fit(parse(t, trainCSV), testColumns())
	require.NoError(t, err)

	dev := parse(t, `PID,Type,Breed1,Age,AdoptionSpeed
d1,1,1,1,4
d2,1,1,1,3
`)
	examples, dataErrors, err := transform.Apply(dev, true)
	require.NoError(t, err)
	require.Equal(t, 1, len(examples))
	require.Equal(t, 2, examples[0].Target)
	require.Equal(t, 1, len(dataErrors))
	require.Contains(t, dataErrors[0].Error, "unknown target value")

	_, _, err = transform.Apply(parse(t, "PID,Type,Breed1,Age\nd1,1,1,1\n"), true)
	require.Error(t, err)
}

func TestFitMissingColumn(t *testing.T) {
	_, _, err := Fit(parse(t, "PID,Type,AdoptionSpeed\np1,1,0\n"), testColumns())
	require.Error(t, err)
	require.Contains(t, err.Error(), "Breed1")
}

func TestEmbeddingDimension(t *testing.T) {
	require.Equal(t, 1, EmbeddingDimension(1))
	require.Equal(t, 1, EmbeddingDimension(7))
	require.Equal(t, 77, EmbeddingDimension(308))
}

func TestSortedNameMap(t *testing.T) {
	m := newSortedNameMap(map[string]struct{}{"10": {}, "2": {}, "1": {}})
	require.Equal(t, 3, m.Size())
	index, ok := m.Index("10")
	require.True(t, ok)
	require.Equal(t, 2, index)

	m = newSortedNameMap(map[string]struct{}{"slow": {}, "fast": {}})
	require.Equal(t, "fast", m.IndexToName[0])
	_, ok = m.Index("medium")
	require.False(t, ok)
}
