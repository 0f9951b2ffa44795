package classifier

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"ctbag/internal/dataset"
)

// RemoteManifest is the persisted description of a remotely served model,
// e.g. a GPU inference sidecar holding the actual network weights.
type RemoteManifest struct {
	BaseURL string `json:"baseURL"`
	Timeout string `json:"timeout,omitempty"`
}

// Remote is a Handle whose inference runs in an external model server.
// Training happens wherever the server's weights came from; this side only
// asks for probabilities and refuses anything outside [0, 1].
type Remote struct {
	base    string
	timeout time.Duration
	rest    *resty.Client
}

type remoteRequest struct {
	Features [][]float32 `json:"features"`
}

type remoteResponse struct {
	Probabilities []float64 `json:"probabilities"`
	Error         string    `json:"error,omitempty"`
}

// NewRemote builds a handle for the model server at baseURL.
func NewRemote(baseURL string, timeout time.Duration) *Remote {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		timeout = 10 * time.Second
		r.SetTimeout(timeout)
	}
	return &Remote{base: baseURL, timeout: timeout, rest: r}
}

// NewRemoteFromManifest restores a handle from its persisted form.
func NewRemoteFromManifest(m *RemoteManifest) *Remote {
	timeout, err := time.ParseDuration(m.Timeout)
	if err != nil {
		timeout = 10 * time.Second
	}
	return NewRemote(m.BaseURL, timeout)
}

// Manifest returns the persistable description of this handle.
func (r *Remote) Manifest() *RemoteManifest {
	return &RemoteManifest{BaseURL: r.base, Timeout: r.timeout.String()}
}

// Predict posts the sample features to the server's predict endpoint and
// validates the returned probabilities.
func (r *Remote) Predict(ctx context.Context, samples []dataset.Sample) ([]float64, error) {
	features := make([][]float32, len(samples))
	for i, s := range samples {
		features[i] = s.Features
	}

	result := &remoteResponse{}
	resp, err := r.rest.R().
		SetContext(ctx).
		SetBody(remoteRequest{Features: features}).
		SetResult(result).
		Post(r.base + "/predict")
	if err != nil {
		return nil, fmt.Errorf("remote inference request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("remote inference: server returned %s", resp.Status())
	}
	if result.Error != "" {
		return nil, fmt.Errorf("remote inference: %s", result.Error)
	}

	if len(result.Probabilities) != len(samples) {
		return nil, fmt.Errorf("remote inference: sent %d samples, got %d probabilities",
			len(samples), len(result.Probabilities))
	}
	for i, p := range result.Probabilities {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, fmt.Errorf("remote inference: sample %d probability out of range: %f", i, p)
		}
	}

	log.Debug().
		Str("base_url", r.base).
		Int("samples", len(samples)).
		Msg("Remote prediction complete")

	return result.Probabilities, nil
}
