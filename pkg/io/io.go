package io

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/nlpodyssey/spago/pkg/mat"
)

// Example is a single processed data row ready to be fed to the network.
type Example struct {
	// ID identifies the row in the submission file
	ID string

	// Direct contains the one-hot and scaled numeric features
	Direct mat.Matrix

	// Embedded contains one embedding table index per embedded column
	Embedded []int

	// Target is the class index, or NoTarget for unlabelled rows
	Target int
}

const NoTarget = -1

type DataBatch []*Example

type DataError struct {
	Line  int
	Error string
}

// Frame is a CSV file held in memory as raw strings, addressed by column name.
type Frame struct {
	Columns []string
	Rows    [][]string
	Lines   []int
	Index   map[string]int
}

func NewFrame(columns []string) *Frame {
	index := make(map[string]int, len(columns))
	for i, col := range columns {
		index[col] = i
	}
	return &Frame{Columns: columns, Index: index}
}

func (f *Frame) Len() int {
	return len(f.Rows)
}

func (f *Frame) HasColumn(name string) bool {
	_, ok := f.Index[name]
	return ok
}

// Value returns the raw cell of the given row, or "" when the column does not exist.
func (f *Frame) Value(row int, column string) string {
	i, ok := f.Index[column]
	if !ok {
		return ""
	}
	return f.Rows[row][i]
}

func (f *Frame) Float(row int, column string) (float64, error) {
	raw := f.Value(row, column)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing %s value %q: %w", column, raw, err)
	}
	return value, nil
}

// Int parses integer-valued cells. Values written as floats ("3.0") are accepted.
func (f *Frame) Int(row int, column string) (int, error) {
	value, err := f.Float(row, column)
	if err != nil {
		return 0, err
	}
	if value != float64(int(value)) {
		return 0, fmt.Errorf("%s value %v is not an integer", column, value)
	}
	return int(value), nil
}

// Subset returns a frame sharing the header and holding the given rows.
func (f *Frame) Subset(rows []int) *Frame {
	result := NewFrame(f.Columns)
	result.Rows = make([][]string, len(rows))
	result.Lines = make([]int, len(rows))
	for i, r := range rows {
		result.Rows[i] = f.Rows[r]
		result.Lines[i] = f.Lines[r]
	}
	return result
}

// ReadFrame reads a CSV file whose first line is the header.
func ReadFrame(fileName string) (*Frame, []DataError, error) {
	inputFile, err := os.Open(fileName)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening file: %w", err)
	}
	defer inputFile.Close()
	return ParseFrame(inputFile)
}

func ParseFrame(input io.Reader) (*Frame, []DataError, error) {
	var dataErrors []DataError

	reader := csv.NewReader(input)
	reader.Comma = ','
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	//First line is expected to be a header
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("error reading data header: %w", err)
	}
	frame := NewFrame(header)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				dataErrors = append(dataErrors, DataError{Line: parseErr.Line, Error: parseErr.Err.Error()})
				continue
			}
			return nil, nil, fmt.Errorf("error reading data: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if len(record) != len(header) {
			dataErrors = append(dataErrors, DataError{
				Line:  line,
				Error: fmt.Sprintf("expected %d fields, found %d", len(header), len(record)),
			})
			continue
		}
		frame.Rows = append(frame.Rows, record)
		frame.Lines = append(frame.Lines, line)
	}

	return frame, dataErrors, nil
}

// WriteSubmission writes a header and one id,prediction row per example.
func WriteSubmission(writer io.Writer, idColumn, targetColumn string, ids, predictions []string) error {
	if len(ids) != len(predictions) {
		return fmt.Errorf("got %d ids for %d predictions", len(ids), len(predictions))
	}
	w := csv.NewWriter(writer)
	if err := w.Write([]string{idColumn, targetColumn}); err != nil {
		return fmt.Errorf("error writing submission header: %w", err)
	}
	for i := range ids {
		if err := w.Write([]string{ids[i], predictions[i]}); err != nil {
			return fmt.Errorf("error writing submission row %d: %w", i, err)
		}
	}
	w.Flush()
	return w.Error()
}
