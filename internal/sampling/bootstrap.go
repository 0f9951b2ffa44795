// Package sampling generates bootstrap bags for ensemble training.
// Each bag is a random subset of dataset indices drawn without replacement,
// while separate bags are drawn independently and therefore overlap.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrInvalidArgument indicates a malformed sampler request, such as a
// fraction outside (0, 1] or an empty dataset.
var ErrInvalidArgument = errors.New("invalid sampler argument")

// Sampler draws bootstrap bags from a fixed-size dataset.
// The random source is injectable so tests can pin the seed.
type Sampler struct {
	rng *rand.Rand
}

// New creates a sampler seeded from the current time.
func New() *Sampler {
	return NewSeeded(time.Now().UnixNano())
}

// NewSeeded creates a sampler with a fixed seed. Two samplers with the same
// seed produce identical bag sequences.
func NewSeeded(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// Bag returns round(fraction*datasetSize) distinct indices in [0, datasetSize).
// Indices within one bag never repeat; successive calls draw independent bags,
// so the same index may land in several bags.
func (s *Sampler) Bag(datasetSize int, fraction float64) ([]int, error) {
	if datasetSize <= 0 {
		return nil, fmt.Errorf("%w: dataset size must be positive, got %d", ErrInvalidArgument, datasetSize)
	}
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("%w: fraction must be in (0, 1], got %f", ErrInvalidArgument, fraction)
	}

	size := int(math.Round(fraction * float64(datasetSize)))

	// Partial Fisher-Yates: the first `size` positions of a virtual
	// permutation of [0, datasetSize).
	pool := make([]int, datasetSize)
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < size; i++ {
		j := i + s.rng.Intn(datasetSize-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	bag := pool[:size:size]

	log.Debug().
		Int("dataset_size", datasetSize).
		Float64("fraction", fraction).
		Int("bag_size", size).
		Msg("Drew bootstrap bag")

	return bag, nil
}
