// Package classifier defines the trainable-classifier collaborator the
// ensemble core depends on: anything that can be trained on a bag of samples
// and later asked for one probability per sample. Checkpoint layout is this
// package's concern, not the aggregator's.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"ctbag/internal/dataset"
)

// ErrModelLoad indicates a checkpoint that cannot be deserialized into a
// usable model handle.
var ErrModelLoad = errors.New("model load failure")

// Handle is one trained classifier, immutable after training and used only
// for inference. Predict returns one probability in [0, 1] per input sample,
// preserving input order.
type Handle interface {
	Predict(ctx context.Context, samples []dataset.Sample) ([]float64, error)
}

// Classifier trains a model on a bag of samples served by a loader.
type Classifier interface {
	Train(ctx context.Context, loader *dataset.Loader) (Handle, error)
}

// checkpoint is the on-disk envelope. Kind selects the concrete handle;
// exactly one payload field is set.
type checkpoint struct {
	Kind     string          `json:"kind"`
	Logistic *LogisticModel  `json:"logistic,omitempty"`
	Remote   *RemoteManifest `json:"remote,omitempty"`
}

const (
	kindLogistic = "logistic"
	kindRemote   = "remote"
)

// Save writes a handle to path. Only handle types owned by this package can
// be persisted.
func Save(h Handle, path string) error {
	var cp checkpoint
	switch m := h.(type) {
	case *LogisticModel:
		cp = checkpoint{Kind: kindLogistic, Logistic: m}
	case *Remote:
		cp = checkpoint{Kind: kindRemote, Remote: m.Manifest()}
	default:
		return fmt.Errorf("cannot persist handle of type %T", h)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Load reads a checkpoint back into a usable handle. All failure modes wrap
// ErrModelLoad so callers can fail fast on a missing or corrupt member.
func Load(path string) (Handle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrModelLoad, path, err)
	}

	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrModelLoad, path, err)
	}

	switch cp.Kind {
	case kindLogistic:
		if cp.Logistic == nil || len(cp.Logistic.Weights) == 0 {
			return nil, fmt.Errorf("%w: %s: logistic checkpoint has no weights", ErrModelLoad, path)
		}
		return cp.Logistic, nil
	case kindRemote:
		if cp.Remote == nil || cp.Remote.BaseURL == "" {
			return nil, fmt.Errorf("%w: %s: remote checkpoint has no base URL", ErrModelLoad, path)
		}
		return NewRemoteFromManifest(cp.Remote), nil
	default:
		return nil, fmt.Errorf("%w: %s: unknown checkpoint kind %q", ErrModelLoad, path, cp.Kind)
	}
}
