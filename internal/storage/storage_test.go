package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctbag/internal/ensemble"
)

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(filepath.Join(tempDir, "ctbag.db"))
	assert.NoError(t, err, "database file was not created")
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "does", "not", "exist"))
	assert.Error(t, err)
}

func TestStore_CloseNilDB(t *testing.T) {
	store := &Store{db: nil}
	assert.NoError(t, store.Close())
}

func TestPredictions_Roundtrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	rec := PredictionRecord{
		Member:        "member-3",
		Probabilities: []float64{0.1, 0.9, 0.5},
		Fingerprint:   ensemble.Fingerprint([]int{0, 1, 1}),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.PutPredictions(rec))

	got, found, err := store.GetPredictions("member-3")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.Member, got.Member)
	assert.Equal(t, rec.Probabilities, got.Probabilities)
	assert.Equal(t, rec.Fingerprint, got.Fingerprint)
}

func TestPredictions_MissingMember(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, found, err := store.GetPredictions("never-trained")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPredictions_Overwrite(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.PutPredictions(PredictionRecord{
		Member:        "m",
		Probabilities: []float64{0.1},
	}))
	require.NoError(t, store.PutPredictions(PredictionRecord{
		Member:        "m",
		Probabilities: []float64{0.8},
	}))

	got, found, err := store.GetPredictions("m")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []float64{0.8}, got.Probabilities)
}

func TestRuns_Roundtrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	for i, member := range []ensemble.MemberID{"a", "b"} {
		require.NoError(t, store.PutRun(RunRecord{
			Member:         member,
			Seed:           int64(i),
			BagSize:        60,
			BagFraction:    0.6,
			CheckpointPath: "models/" + string(member) + "/last.ckpt",
			TrainAccuracy:  0.8,
			StartedAt:      time.Now().UTC(),
			FinishedAt:     time.Now().UTC(),
		}))
	}

	runs, err := store.ListRuns()
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, 60, run.BagSize)
		assert.Equal(t, 0.6, run.BagFraction)
	}
}
