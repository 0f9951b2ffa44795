package classifier

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"

	"ctbag/internal/dataset"
)

// Progress receives one snapshot per training epoch. Hooked up to the
// dashboard and metrics by the trainer binary; nil disables reporting.
type Progress func(epoch int, loss, accuracy float64)

// LogisticConfig controls logistic-regression training.
type LogisticConfig struct {
	Epochs       int
	LearningRate float64
	Seed         int64
	Progress     Progress
}

// LogisticTrainer trains a logistic regression on pooled image features with
// plain SGD on binary cross-entropy. Training is deterministic for a fixed
// seed and a fixed bag.
type LogisticTrainer struct {
	cfg LogisticConfig
}

// NewLogisticTrainer validates the config and returns a trainer.
func NewLogisticTrainer(cfg LogisticConfig) (*LogisticTrainer, error) {
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %f", cfg.LearningRate)
	}
	return &LogisticTrainer{cfg: cfg}, nil
}

// LogisticModel is a trained logistic regression. It is a Handle: inference
// only once training completes.
type LogisticModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// Train fits a model to the loader's bag. The loader's batch contents are
// reshuffled each epoch; that only affects training, never evaluation
// loaders, which are built separately and never shuffled.
func (t *LogisticTrainer) Train(ctx context.Context, loader *dataset.Loader) (Handle, error) {
	if loader.Batches() == 0 {
		return nil, fmt.Errorf("bag too small: no full batch to train on")
	}

	first, err := loader.Batch(0)
	if err != nil {
		return nil, err
	}
	dim := len(first[0].Features)
	if dim == 0 {
		return nil, fmt.Errorf("samples have no features")
	}

	rng := rand.New(rand.NewSource(t.cfg.Seed))
	model := &LogisticModel{Weights: make([]float64, dim)}
	for i := range model.Weights {
		model.Weights[i] = rng.NormFloat64() * 0.01
	}

	log.Info().
		Int("batches", loader.Batches()).
		Int("features", dim).
		Int("epochs", t.cfg.Epochs).
		Float64("learning_rate", t.cfg.LearningRate).
		Msg("Training logistic classifier")

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("training aborted: %w", err)
		}

		loader.Shuffle(rng)

		var lossSum float64
		var correct, seen int
		for b := 0; b < loader.Batches(); b++ {
			batch, err := loader.Batch(b)
			if err != nil {
				return nil, err
			}
			for _, s := range batch {
				if len(s.Features) != dim {
					return nil, fmt.Errorf("sample feature length %d, model expects %d", len(s.Features), dim)
				}

				p := model.forward(s.Features)
				y := float64(s.Label)
				lossSum += bceLoss(p, y)
				if round(p) == s.Label {
					correct++
				}
				seen++

				// BCE-with-sigmoid gradient reduces to (p - y).
				grad := p - y
				for i, f := range s.Features {
					model.Weights[i] -= t.cfg.LearningRate * grad * float64(f)
				}
				model.Bias -= t.cfg.LearningRate * grad
			}
		}

		loss := lossSum / float64(seen)
		acc := float64(correct) / float64(seen)
		if t.cfg.Progress != nil {
			t.cfg.Progress(epoch, loss, acc)
		}
		log.Debug().
			Int("epoch", epoch).
			Float64("loss", loss).
			Float64("accuracy", acc).
			Msg("Epoch complete")
	}

	return model, nil
}

// Predict returns one sigmoid probability per sample, in input order.
func (m *LogisticModel) Predict(ctx context.Context, samples []dataset.Sample) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	probs := make([]float64, len(samples))
	for i, s := range samples {
		if len(s.Features) != len(m.Weights) {
			return nil, fmt.Errorf("sample %d has %d features, model expects %d",
				i, len(s.Features), len(m.Weights))
		}
		probs[i] = m.forward(s.Features)
	}
	return probs, nil
}

func (m *LogisticModel) forward(features []float32) float64 {
	score := m.Bias
	for i, f := range features {
		score += m.Weights[i] * float64(f)
	}
	return sigmoid(score)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// bceLoss clamps probabilities away from 0 and 1 so the log stays finite.
func bceLoss(p, y float64) float64 {
	const eps = 1e-12
	p = math.Min(math.Max(p, eps), 1-eps)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

func round(p float64) int {
	if p >= 0.5 {
		return 1
	}
	return 0
}
