// Package ensemble combines probability outputs from independently trained
// classifiers into one consensus prediction per sample and scores the
// consensus against ground truth.
package ensemble

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidArgument indicates an empty prediction set or empty ground truth.
	ErrInvalidArgument = errors.New("invalid ensemble argument")

	// ErrMisalignedInput indicates member probability vectors whose lengths
	// disagree with each other or with the ground-truth vector. Alignment is
	// load-bearing: a silently misaligned vector corrupts the accuracy number.
	ErrMisalignedInput = errors.New("misaligned ensemble input")

	// ErrInvalidProbability indicates a member emitted a value outside [0, 1]
	// or a non-finite value. Failing here catches upstream model bugs instead
	// of clamping them away.
	ErrInvalidProbability = errors.New("invalid probability")
)

// MemberID identifies one ensemble member. Keying predictions by a typed
// identifier instead of a positional index keeps vectors from being
// attributed to the wrong model.
type MemberID string

// PredictionSet maps each ensemble member to its probability vector over a
// shared evaluation ordering. Every vector must be aligned to the same
// sample sequence.
type PredictionSet map[MemberID][]float64

// Result is the outcome of one aggregation pass.
type Result struct {
	// Probabilities holds the per-sample consensus probability, the
	// arithmetic mean of all member probabilities for that sample.
	Probabilities []float64
	// Labels holds the per-sample consensus label, the consensus
	// probability rounded half up: exactly 0.5 becomes 1.
	Labels []int
	// Accuracy is the fraction of samples whose consensus label matches
	// ground truth.
	Accuracy float64
	// Members and Samples record the aggregation shape.
	Members int
	Samples int
}

// Aggregate combines member probability vectors into a consensus prediction
// per sample and measures accuracy against truth.
//
// Every vector in preds and the truth vector must share one sample ordering
// and therefore one length; this is validated, not assumed. With a single
// member the consensus is exactly that member's thresholded prediction.
func Aggregate(preds PredictionSet, truth []int) (*Result, error) {
	if len(preds) == 0 {
		return nil, fmt.Errorf("%w: no ensemble members", ErrInvalidArgument)
	}
	if len(truth) == 0 {
		return nil, fmt.Errorf("%w: empty ground truth", ErrInvalidArgument)
	}

	if err := validate(preds, truth); err != nil {
		return nil, err
	}

	m := len(truth)
	sums := make([]float64, m)
	for _, vec := range preds {
		for i, p := range vec {
			sums[i] += p
		}
	}

	n := float64(len(preds))
	probs := make([]float64, m)
	labels := make([]int, m)
	correct := 0
	for i := range sums {
		probs[i] = sums[i] / n
		labels[i] = roundHalfUp(probs[i])
		if labels[i] == truth[i] {
			correct++
		}
	}

	res := &Result{
		Probabilities: probs,
		Labels:        labels,
		Accuracy:      float64(correct) / float64(m),
		Members:       len(preds),
		Samples:       m,
	}

	log.Info().
		Int("members", res.Members).
		Int("samples", res.Samples).
		Float64("accuracy", res.Accuracy).
		Msg("Ensemble aggregation complete")

	return res, nil
}

// validate checks vector alignment and probability ranges before any
// arithmetic happens. Members are checked in sorted order so diagnostics
// are stable across runs.
func validate(preds PredictionSet, truth []int) error {
	ids := make([]MemberID, 0, len(preds))
	for id := range preds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	m := len(truth)
	for _, id := range ids {
		vec := preds[id]
		if len(vec) != m {
			return fmt.Errorf("%w: member %q has %d predictions, ground truth has %d samples",
				ErrMisalignedInput, id, len(vec), m)
		}
		for i, p := range vec {
			if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 || p > 1 {
				return fmt.Errorf("%w: member %q sample %d: %f",
					ErrInvalidProbability, id, i, p)
			}
		}
	}

	for i, label := range truth {
		if label != 0 && label != 1 {
			return fmt.Errorf("%w: ground truth sample %d has non-binary label %d",
				ErrInvalidArgument, i, label)
		}
	}

	return nil
}

// roundHalfUp thresholds a consensus probability at 0.5, with a tie at
// exactly 0.5 rounding to the positive class.
func roundHalfUp(p float64) int {
	if p >= 0.5 {
		return 1
	}
	return 0
}
