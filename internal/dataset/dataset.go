// Package dataset loads labeled CT-scan samples and serves them in a stable
// order. Stability matters: ensemble members are evaluated independently and
// their prediction vectors are aligned by sample position.
package dataset

import (
	"bufio"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// LabelNegative marks a non-COVID scan, LabelPositive a COVID scan.
	LabelNegative = 0
	LabelPositive = 1

	covidDir    = "CT_COVID"
	nonCovidDir = "CT_NonCOVID"
)

// Sample is one labeled scan: a pooled grayscale feature vector plus a
// binary label. Immutable once loaded.
type Sample struct {
	Features []float32
	Label    int
}

// Dataset is an ordered, read-only sequence of samples. Iteration order is
// fixed at load time: all positive samples in label-file order, then all
// negative samples in label-file order.
type Dataset struct {
	samples []Sample
}

// SplitPaths names the two label files defining one dataset split. Each file
// lists image file names, one per line, relative to the class directory.
type SplitPaths struct {
	CovidLabels    string
	NonCovidLabels string
}

// Load reads a split from root, which must contain CT_COVID/ and
// CT_NonCOVID/ image directories. Images are decoded, converted to
// grayscale, and mean-pooled onto a poolSize x poolSize grid.
func Load(root string, split SplitPaths, poolSize int) (*Dataset, error) {
	if poolSize <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", poolSize)
	}

	covid, err := readLabelFile(split.CovidLabels)
	if err != nil {
		return nil, fmt.Errorf("read covid labels: %w", err)
	}
	nonCovid, err := readLabelFile(split.NonCovidLabels)
	if err != nil {
		return nil, fmt.Errorf("read non-covid labels: %w", err)
	}

	ds := &Dataset{samples: make([]Sample, 0, len(covid)+len(nonCovid))}

	for _, name := range covid {
		s, err := loadSample(filepath.Join(root, covidDir, name), LabelPositive, poolSize)
		if err != nil {
			return nil, err
		}
		ds.samples = append(ds.samples, s)
	}
	for _, name := range nonCovid {
		s, err := loadSample(filepath.Join(root, nonCovidDir, name), LabelNegative, poolSize)
		if err != nil {
			return nil, err
		}
		ds.samples = append(ds.samples, s)
	}

	log.Info().
		Str("root", root).
		Int("covid", len(covid)).
		Int("non_covid", len(nonCovid)).
		Int("pool_size", poolSize).
		Msg("Dataset loaded")

	return ds, nil
}

// FromSamples wraps an existing slice, preserving its order. Used by tests
// and by callers that synthesize features.
func FromSamples(samples []Sample) *Dataset {
	return &Dataset{samples: samples}
}

// Size returns the number of samples.
func (d *Dataset) Size() int {
	return len(d.samples)
}

// Get returns the sample at index i.
func (d *Dataset) Get(i int) Sample {
	return d.samples[i]
}

// Labels returns the ground-truth label of every sample in dataset order.
func (d *Dataset) Labels() []int {
	labels := make([]int, len(d.samples))
	for i, s := range d.samples {
		labels[i] = s.Label
	}
	return labels
}

// Subset returns the samples at the given indices, in the given order.
func (d *Dataset) Subset(indices []int) ([]Sample, error) {
	out := make([]Sample, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(d.samples) {
			return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.samples))
		}
		out[i] = d.samples[idx]
	}
	return out, nil
}

// readLabelFile reads one image name per line, stripping surrounding
// whitespace and skipping blank lines.
func readLabelFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

func loadSample(path string, label, poolSize int) (Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return Sample{}, fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Sample{}, fmt.Errorf("decode image %s: %w", path, err)
	}

	return Sample{Features: PoolGray(img, poolSize), Label: label}, nil
}

// PoolGray converts an image to grayscale intensities in [0, 1] and
// mean-pools them onto a poolSize x poolSize grid, giving every sample a
// fixed-length feature vector regardless of source resolution.
func PoolGray(img image.Image, poolSize int) []float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	sums := make([]float64, poolSize*poolSize)
	counts := make([]int, poolSize*poolSize)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// Luma weights from Rec. 601; channel values are 16-bit.
			gray := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0

			cell := (y*poolSize/h)*poolSize + x*poolSize/w
			sums[cell] += gray
			counts[cell]++
		}
	}

	features := make([]float32, poolSize*poolSize)
	for i := range sums {
		if counts[i] > 0 {
			features[i] = float32(sums[i] / float64(counts[i]))
		}
	}
	return features
}
