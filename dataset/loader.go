package dataset

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/hupe1980/vecclf/tensor"
)

// DefaultBatchSize is the mini-batch size used when none is given.
const DefaultBatchSize = 32

// Batch is a group of consecutive examples from one pass.
type Batch struct {
	Inputs  *tensor.Matrix
	Targets *tensor.Matrix
	// Indices holds the dataset rows that make up the batch.
	Indices []int
}

// Len returns the number of examples in the batch.
func (b Batch) Len() int {
	return b.Inputs.Rows
}

// Loader partitions a dataset into mini-batches.
type Loader struct {
	ds        *Dataset
	batchSize int
	shuffle   bool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLoader creates a loader. With shuffle set, every call to Batches draws a new
// permutation from a generator seeded with seed.
func NewLoader(ds *Dataset, batchSize int, shuffle bool, seed uint64) (*Loader, error) {
	if ds == nil {
		return nil, errors.New("dataset: nil dataset")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{
		ds:        ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewPCG(seed, seed)),
	}, nil
}

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int {
	return l.batchSize
}

// NumBatches returns the number of batches per pass.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// Batches returns one pass over the dataset. All batches have BatchSize examples
// except possibly the last, which holds the remainder.
func (l *Loader) Batches() []Batch {
	n := l.ds.Len()

	var order []int
	if l.shuffle {
		l.mu.Lock()
		order = permutation(n, l.rng)
		l.mu.Unlock()
	} else {
		order = make([]int, n)
		for i := range order {
			order[i] = i
		}
	}

	batches := make([]Batch, 0, l.NumBatches())
	for start := 0; start < n; start += l.batchSize {
		idx := order[start:min(start+l.batchSize, n)]
		batches = append(batches, Batch{
			Inputs:  l.ds.inputs.Gather(idx),
			Targets: l.ds.targets.Gather(idx),
			Indices: idx,
		})
	}
	return batches
}

// BatchList is a fixed sequence of batches replayed on every pass.
type BatchList []Batch

// Batches returns the list itself.
func (b BatchList) Batches() []Batch {
	return b
}
