package features

import (
	"sort"
	"strconv"
)

// NameMap implements a bidirectional mapping between a name and an index
type NameMap struct {
	NameToIndex map[string]int
	IndexToName map[int]string
}

func NewNameMap() NameMap {
	return NameMap{
		NameToIndex: map[string]int{},
		IndexToName: map[int]string{},
	}
}

func (f NameMap) Set(name string, index int) {
	f.NameToIndex[name] = index
	f.IndexToName[index] = name
}

func (f NameMap) Size() int {
	return len(f.IndexToName)
}

func (f NameMap) Index(name string) (int, bool) {
	index, ok := f.NameToIndex[name]
	return index, ok
}

// newSortedNameMap assigns indexes in ascending order of the names, comparing them as numbers
// when all of them parse as numbers. Integer labels 0..n-1 therefore map onto themselves.
func newSortedNameMap(names map[string]struct{}) NameMap {
	sorted := make([]string, 0, len(names))
	numeric := true
	for name := range names {
		sorted = append(sorted, name)
		if _, err := strconv.ParseFloat(name, 64); err != nil {
			numeric = false
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if numeric {
			a, _ := strconv.ParseFloat(sorted[i], 64)
			b, _ := strconv.ParseFloat(sorted[j], 64)
			return a < b
		}
		return sorted[i] < sorted[j]
	})
	result := NewNameMap()
	for i, name := range sorted {
		result.Set(name, i)
	}
	return result
}
