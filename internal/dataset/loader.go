package dataset

import (
	"fmt"
	"math/rand"
)

// Loader serves a dataset in fixed-size batches over an explicit index
// subset. A final incomplete batch is always dropped, matching the batch
// semantics the ensemble's evaluation counts depend on.
type Loader struct {
	ds      *Dataset
	indices []int
	batch   int
}

// NewLoader builds a loader over the given index subset. Pass the result of
// Indices(ds.Size()) to iterate the full dataset.
func NewLoader(ds *Dataset, indices []int, batchSize int) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	for _, idx := range indices {
		if idx < 0 || idx >= ds.Size() {
			return nil, fmt.Errorf("index %d out of range [0, %d)", idx, ds.Size())
		}
	}
	sub := make([]int, len(indices))
	copy(sub, indices)
	return &Loader{ds: ds, indices: sub, batch: batchSize}, nil
}

// Indices returns [0, n) in order.
func Indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Batches returns the number of full batches the loader yields.
func (l *Loader) Batches() int {
	return len(l.indices) / l.batch
}

// Samples returns the number of samples covered by full batches, i.e. the
// evaluation length M every member's prediction vector must have.
func (l *Loader) Samples() int {
	return l.Batches() * l.batch
}

// Shuffle permutes batch contents using the given source. Training only;
// evaluation loaders must keep their construction order so prediction
// vectors from different members stay aligned.
func (l *Loader) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(l.indices), func(i, j int) {
		l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
	})
}

// Batch returns the samples of batch b in stable order.
func (l *Loader) Batch(b int) ([]Sample, error) {
	if b < 0 || b >= l.Batches() {
		return nil, fmt.Errorf("batch %d out of range [0, %d)", b, l.Batches())
	}
	return l.ds.Subset(l.indices[b*l.batch : (b+1)*l.batch])
}

// Flatten returns every sample covered by full batches, in batch order.
// This is the evaluation-sample sequence shared by all ensemble members.
func (l *Loader) Flatten() ([]Sample, error) {
	return l.ds.Subset(l.indices[:l.Samples()])
}

// Truth returns the ground-truth labels aligned to Flatten's ordering.
func (l *Loader) Truth() []int {
	labels := make([]int, l.Samples())
	for i, idx := range l.indices[:l.Samples()] {
		labels[i] = l.ds.Get(idx).Label
	}
	return labels
}
