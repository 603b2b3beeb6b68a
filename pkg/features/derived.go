package features

import (
	"strings"
	"unicode/utf8"

	"petfinder/pkg/io"
)

const (
	SquaredAge        = "SQAge"
	DescriptionLength = "len_des"
	WordCount         = "count_word"
)

type derivation func(f *io.Frame, row int, c Columns) (float64, error)

var derivations = map[string]derivation{
	SquaredAge: func(f *io.Frame, row int, c Columns) (float64, error) {
		age, err := f.Float(row, "Age")
		if err != nil {
			return 0, err
		}
		return age * age, nil
	},
	DescriptionLength: func(f *io.Frame, row int, c Columns) (float64, error) {
		return float64(utf8.RuneCountInString(f.Value(row, c.Description))), nil
	},
	WordCount: func(f *io.Frame, row int, c Columns) (float64, error) {
		return float64(len(strings.Split(f.Value(row, c.Description), " "))), nil
	},
}

func IsDerived(column string) bool {
	_, ok := derivations[column]
	return ok
}

// numericValue reads a numeric column, computing it first when it is a derived column
// that the frame does not already carry.
func numericValue(f *io.Frame, row int, column string, c Columns) (float64, error) {
	if derive, ok := derivations[column]; ok && !f.HasColumn(column) {
		return derive(f, row, c)
	}
	return f.Float(row, column)
}
