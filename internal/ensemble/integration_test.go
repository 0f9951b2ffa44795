package ensemble_test

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"ctbag/internal/classifier"
	"ctbag/internal/dataset"
	"ctbag/internal/ensemble"
	"ctbag/internal/sampling"
)

// syntheticScans builds samples whose first feature correlates with the
// label, so small logistic members have signal to learn.
func syntheticScans(n int, rng *rand.Rand) []dataset.Sample {
	samples := make([]dataset.Sample, n)
	for i := range samples {
		label := rng.Intn(2)
		base := float32(0.2)
		if label == 1 {
			base = 0.8
		}
		samples[i] = dataset.Sample{
			Features: []float32{
				base + float32(rng.NormFloat64())*0.05,
				float32(rng.Float64()),
				float32(rng.Float64()),
			},
			Label: label,
		}
	}
	return samples
}

// TestBaggingPipeline runs the whole flow: 100 training samples, three
// members each trained on an independently sampled 60-sample bag, then
// evaluated over a shared 20-sample held-out ordering and aggregated.
func TestBaggingPipeline(t *testing.T) {
	rng := rand.New(rand.NewSource(2024))
	train := dataset.FromSamples(syntheticScans(100, rng))
	eval := dataset.FromSamples(syntheticScans(20, rng))

	ctx := context.Background()
	dir := t.TempDir()

	members := []ensemble.MemberID{"m1", "m2", "m3"}
	checkpoints := make(map[ensemble.MemberID]string, len(members))

	for i, id := range members {
		seed := int64(i + 1)

		bag, err := sampling.NewSeeded(seed).Bag(train.Size(), 0.6)
		if err != nil {
			t.Fatalf("member %s: Bag() error: %v", id, err)
		}
		if len(bag) != 60 {
			t.Fatalf("member %s: expected bag of 60, got %d", id, len(bag))
		}

		loader, err := dataset.NewLoader(train, bag, 4)
		if err != nil {
			t.Fatalf("member %s: NewLoader() error: %v", id, err)
		}

		trainer, err := classifier.NewLogisticTrainer(classifier.LogisticConfig{
			Epochs:       100,
			LearningRate: 0.3,
			Seed:         seed,
		})
		if err != nil {
			t.Fatalf("member %s: NewLogisticTrainer() error: %v", id, err)
		}

		handle, err := trainer.Train(ctx, loader)
		if err != nil {
			t.Fatalf("member %s: Train() error: %v", id, err)
		}

		path := filepath.Join(dir, string(id)+".ckpt")
		if err := classifier.Save(handle, path); err != nil {
			t.Fatalf("member %s: Save() error: %v", id, err)
		}
		checkpoints[id] = path
	}

	// Evaluation mirrors the ensemble binary: one shared, never-shuffled
	// loader; every member predicts over its flattened ordering.
	evalLoader, err := dataset.NewLoader(eval, dataset.Indices(eval.Size()), 5)
	if err != nil {
		t.Fatalf("NewLoader() error: %v", err)
	}
	samples, err := evalLoader.Flatten()
	if err != nil {
		t.Fatalf("Flatten() error: %v", err)
	}
	truth := evalLoader.Truth()
	if len(samples) != 20 || len(truth) != 20 {
		t.Fatalf("expected 20 evaluation samples, got %d/%d", len(samples), len(truth))
	}

	preds := make(ensemble.PredictionSet, len(members))
	for id, path := range checkpoints {
		handle, err := classifier.Load(path)
		if err != nil {
			t.Fatalf("member %s: Load() error: %v", id, err)
		}
		vec, err := handle.Predict(ctx, samples)
		if err != nil {
			t.Fatalf("member %s: Predict() error: %v", id, err)
		}
		if len(vec) != 20 {
			t.Fatalf("member %s: expected 20 predictions, got %d", id, len(vec))
		}
		preds[id] = vec
	}

	result, err := ensemble.Aggregate(preds, truth)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}

	if result.Members != 3 {
		t.Errorf("expected 3 members, got %d", result.Members)
	}
	if len(result.Labels) != 20 {
		t.Errorf("expected 20 consensus labels, got %d", len(result.Labels))
	}
	if result.Accuracy < 0 || result.Accuracy > 1 {
		t.Errorf("accuracy outside [0,1]: %f", result.Accuracy)
	}
	for i, label := range result.Labels {
		if label != 0 && label != 1 {
			t.Errorf("sample %d: non-binary consensus label %d", i, label)
		}
	}

	// Strongly separable data: the ensemble should do clearly better
	// than chance.
	if result.Accuracy < 0.7 {
		t.Errorf("expected ensemble accuracy >= 0.7 on separable data, got %f", result.Accuracy)
	}
}

func TestFingerprint(t *testing.T) {
	a := ensemble.Fingerprint([]int{1, 0, 1})
	b := ensemble.Fingerprint([]int{1, 0, 1})
	c := ensemble.Fingerprint([]int{0, 1, 1})
	d := ensemble.Fingerprint([]int{1, 0})

	if a != b {
		t.Error("identical orderings should share a fingerprint")
	}
	if a == c {
		t.Error("different orderings should not share a fingerprint")
	}
	if a == d {
		t.Error("different lengths should not share a fingerprint")
	}
}
