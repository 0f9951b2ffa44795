// Package storage persists per-member evaluation predictions and training
// run records in BoltDB. Members train as independent jobs on the cluster;
// the store is how their outputs survive until the aggregation pass runs.
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"ctbag/internal/ensemble"
)

const (
	predictionsBucket = "predictions"
	runsBucket        = "runs"

	dbFile = "ctbag.db"
)

// Store wraps a BoltDB database holding prediction vectors and run records.
type Store struct {
	db *bbolt.DB
}

// PredictionRecord is one member's evaluation output: its probability vector
// plus the fingerprint of the evaluation ordering it was computed over.
type PredictionRecord struct {
	Member        ensemble.MemberID `json:"member"`
	Probabilities []float64         `json:"probabilities"`
	Fingerprint   string            `json:"fingerprint"`
	CreatedAt     time.Time         `json:"created_at"`
}

// RunRecord describes one completed training run.
type RunRecord struct {
	Member         ensemble.MemberID `json:"member"`
	Seed           int64             `json:"seed"`
	BagSize        int               `json:"bag_size"`
	BagFraction    float64           `json:"bag_fraction"`
	CheckpointPath string            `json:"checkpoint_path"`
	TrainAccuracy  float64           `json:"train_accuracy"`
	ValAccuracy    float64           `json:"val_accuracy,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// New opens (or creates) the store under dataPath.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PutPredictions stores a member's evaluation vector, replacing any previous
// vector for that member.
func (s *Store) PutPredictions(rec PredictionRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal predictions: %w", err)
		}
		return b.Put([]byte(rec.Member), data)
	})
}

// GetPredictions returns the stored vector for a member, or ok=false when
// the member has never been evaluated.
func (s *Store) GetPredictions(member ensemble.MemberID) (PredictionRecord, bool, error) {
	var rec PredictionRecord
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(predictionsBucket)).Get([]byte(member))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal predictions for %s: %w", member, err)
		}
		found = true
		return nil
	})

	return rec, found, err
}

// PutRun records a completed training run, keyed by member.
func (s *Store) PutRun(rec RunRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		return b.Put([]byte(rec.Member), data)
	})
}

// ListRuns returns every recorded training run.
func (s *Store) ListRuns() ([]RunRecord, error) {
	var runs []RunRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(k, v []byte) error {
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal run %s: %w", k, err)
			}
			runs = append(runs, rec)
			return nil
		})
	})

	return runs, err
}
