package model

import (
	"cloud.google.com/go/civil"
)

// RunKeys identifies the inputs of one calculation run.
type RunKeys struct {
	CalculationTaskID int64
	DatasetTaskID     int64
	// PrevDatasetTaskID is zero when no earlier loadset exists.
	PrevDatasetTaskID int64
	ConfigurationID   int64
	BusinessDate      civil.Date
}

// HasPrevious reports whether the run continues an earlier loadset.
func (k RunKeys) HasPrevious() bool {
	return k.PrevDatasetTaskID != 0
}

// Stamp identifies the dataset and calculation that produced an output row.
type Stamp struct {
	DatasetTaskID     int64
	CalculationTaskID int64
}

// Stamp returns the output stamp for rows produced by this run.
func (k RunKeys) Stamp() Stamp {
	return Stamp{DatasetTaskID: k.DatasetTaskID, CalculationTaskID: k.CalculationTaskID}
}

// Batch is a fixed slice of exposure ids processed together.
type Batch struct {
	ID          int
	ExposureIDs []int64
}

// Population classifies the exposures of a run.
type Population struct {
	All   []int64
	New   map[int64]bool
	Ended map[int64]bool
}

// NewPopulation computes ended = prior - current, new = current - prior and
// all = prior ∪ current. All keeps prior ids first, then current-only ids,
// each in encounter order.
func NewPopulation(prior, current []int64) Population {
	inPrior := make(map[int64]bool, len(prior))
	inCurrent := make(map[int64]bool, len(current))
	for _, id := range prior {
		inPrior[id] = true
	}
	for _, id := range current {
		inCurrent[id] = true
	}

	p := Population{
		All:   make([]int64, 0, len(prior)+len(current)),
		New:   make(map[int64]bool),
		Ended: make(map[int64]bool),
	}
	seen := make(map[int64]bool, len(prior)+len(current))
	for _, id := range prior {
		if seen[id] {
			continue
		}
		seen[id] = true
		p.All = append(p.All, id)
		if !inCurrent[id] {
			p.Ended[id] = true
		}
	}
	for _, id := range current {
		if seen[id] {
			continue
		}
		seen[id] = true
		p.All = append(p.All, id)
		if !inPrior[id] {
			p.New[id] = true
		}
	}
	return p
}

// Partition splits ids into batches of at most size ids, preserving order.
func Partition(ids []int64, size int) []Batch {
	if size <= 0 {
		size = len(ids)
	}
	batches := make([]Batch, 0, (len(ids)+size-1)/max(size, 1))
	for start, n := 0, 0; start < len(ids); start, n = start+size, n+1 {
		end := min(start+size, len(ids))
		batches = append(batches, Batch{ID: n, ExposureIDs: ids[start:end]})
	}
	return batches
}
