package io

import (
	"fmt"
	"math/rand"
)

type DataSet struct {
	Data         []*Example
	BatchSize    int
	Rand         *rand.Rand
	dataIndices  []int
	currentOrder []int
	currentIndex int
}

type DatasetOrder int

const (
	OriginalOrder DatasetOrder = iota
	RandomOrder
)

func (d *DataSet) ResetOrder(order DatasetOrder) {
	if d.currentOrder == nil {
		d.currentOrder = make([]int, len(d.dataIndices))
	}
	switch order {
	case OriginalOrder:
		copy(d.currentOrder, d.dataIndices)
	case RandomOrder:
		ind := d.Rand.Perm(len(d.currentOrder))
		for i := range ind {
			d.currentOrder[i] = d.dataIndices[ind[i]]
		}
	}

	d.currentIndex = 0
}

// Next returns the next batch in the current order, or an empty batch once the epoch is exhausted.
func (d *DataSet) Next() DataBatch {
	batch := make(DataBatch, 0, d.BatchSize)
	for ; d.currentIndex < len(d.currentOrder) && len(batch) < d.BatchSize; d.currentIndex++ {
		batch = append(batch, d.Data[d.currentOrder[d.currentIndex]])
	}
	return batch
}

// Batches drains the remainder of the current epoch.
func (d *DataSet) Batches() []DataBatch {
	var result []DataBatch
	for batch := d.Next(); len(batch) > 0; batch = d.Next() {
		result = append(result, batch)
	}
	return result
}

// Examples returns the examples of this dataset in original order.
func (d *DataSet) Examples() []*Example {
	result := make([]*Example, len(d.dataIndices))
	for i, index := range d.dataIndices {
		result[i] = d.Data[index]
	}
	return result
}

func (d *DataSet) Size() int {
	return len(d.dataIndices)
}

func NewDataSet(data []*Example, batchSize int, rnd *rand.Rand) *DataSet {
	dataIndices := make([]int, len(data))
	for i := range dataIndices {
		dataIndices[i] = i
	}
	ds := &DataSet{Data: data, BatchSize: batchSize, Rand: rnd, dataIndices: dataIndices}
	ds.ResetOrder(OriginalOrder)
	return ds
}

// SplitIndices returns a shuffled permutation of [0, n) cut into a train part and a holdout part
// of round(n*fraction) elements.
func SplitIndices(n int, fraction float64, rnd *rand.Rand) (train, holdout []int, err error) {
	if fraction < 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("holdout fraction %v must be in [0, 1)", fraction)
	}
	holdoutSize := int(float64(n)*fraction + 0.5)
	perm := rnd.Perm(n)
	return perm[holdoutSize:], perm[:holdoutSize], nil
}
