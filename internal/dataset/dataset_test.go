package dataset

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// writeTestSplit builds an on-disk dataset root with CT_COVID and
// CT_NonCOVID image directories plus label files for them.
func writeTestSplit(t *testing.T, covidNames, nonCovidNames []string) (string, SplitPaths) {
	t.Helper()

	root := t.TempDir()
	for dir, names := range map[string][]string{
		"CT_COVID":    covidNames,
		"CT_NonCOVID": nonCovidNames,
	} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		for i, name := range names {
			writeTestImage(t, filepath.Join(root, dir, name), uint8(40*i+20))
		}
	}

	split := SplitPaths{
		CovidLabels:    filepath.Join(root, "covid_labels.txt"),
		NonCovidLabels: filepath.Join(root, "noncovid_labels.txt"),
	}
	writeLines(t, split.CovidLabels, covidNames)
	writeLines(t, split.NonCovidLabels, nonCovidNames)
	return root, split
}

func writeTestImage(t *testing.T, path string, shade uint8) {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create image: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode image: %v", err)
	}
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()

	content := ""
	for _, l := range lines {
		content += "  " + l + "\n" // leading whitespace must be stripped
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write label file: %v", err)
	}
}

func TestLoad_OrderAndLabels(t *testing.T) {
	root, split := writeTestSplit(t,
		[]string{"c1.png", "c2.png"},
		[]string{"n1.png", "n2.png", "n3.png"},
	)

	ds, err := Load(root, split, 4)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if ds.Size() != 5 {
		t.Fatalf("expected 5 samples, got %d", ds.Size())
	}

	// COVID samples come first, then non-COVID, in label-file order.
	wantLabels := []int{1, 1, 0, 0, 0}
	for i, want := range wantLabels {
		if got := ds.Get(i).Label; got != want {
			t.Errorf("sample %d: expected label %d, got %d", i, want, got)
		}
		if len(ds.Get(i).Features) != 16 {
			t.Errorf("sample %d: expected 16 features, got %d", i, len(ds.Get(i).Features))
		}
	}

	labels := ds.Labels()
	for i, want := range wantLabels {
		if labels[i] != want {
			t.Errorf("Labels()[%d]: expected %d, got %d", i, want, labels[i])
		}
	}
}

func TestLoad_StableAcrossReloads(t *testing.T) {
	root, split := writeTestSplit(t,
		[]string{"c1.png", "c2.png"},
		[]string{"n1.png"},
	)

	first, err := Load(root, split, 4)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	second, err := Load(root, split, 4)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for i := 0; i < first.Size(); i++ {
		a, b := first.Get(i), second.Get(i)
		if a.Label != b.Label {
			t.Errorf("sample %d: label changed across reloads", i)
		}
		for j := range a.Features {
			if a.Features[j] != b.Features[j] {
				t.Errorf("sample %d feature %d: value changed across reloads", i, j)
			}
		}
	}
}

func TestLoad_MissingLabelFile(t *testing.T) {
	root := t.TempDir()
	_, err := Load(root, SplitPaths{
		CovidLabels:    filepath.Join(root, "missing.txt"),
		NonCovidLabels: filepath.Join(root, "missing2.txt"),
	}, 4)
	if err == nil {
		t.Fatal("expected error for missing label file, got nil")
	}
}

func TestSubset(t *testing.T) {
	ds := FromSamples([]Sample{
		{Label: 0}, {Label: 1}, {Label: 0}, {Label: 1},
	})

	sub, err := ds.Subset([]int{3, 1, 3})
	if err != nil {
		t.Fatalf("Subset() error: %v", err)
	}
	if len(sub) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(sub))
	}
	for i, s := range sub {
		if s.Label != 1 {
			t.Errorf("sample %d: expected label 1, got %d", i, s.Label)
		}
	}

	if _, err := ds.Subset([]int{4}); err == nil {
		t.Error("expected error for out-of-range index, got nil")
	}
	if _, err := ds.Subset([]int{-1}); err == nil {
		t.Error("expected error for negative index, got nil")
	}
}

func TestPoolGray_Range(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 17, 9)) // deliberately uneven
	for y := 0; y < 9; y++ {
		for x := 0; x < 17; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 15)})
		}
	}

	features := PoolGray(img, 4)
	if len(features) != 16 {
		t.Fatalf("expected 16 features, got %d", len(features))
	}
	for i, f := range features {
		if f < 0 || f > 1 {
			t.Errorf("feature %d out of [0,1]: %f", i, f)
		}
	}
}
