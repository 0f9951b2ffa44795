// Package report renders ensemble evaluation results as human-readable and
// machine-readable files.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"ctbag/internal/ensemble"
)

// Reporter writes evaluation reports for one aggregation pass.
type Reporter struct {
	result     *ensemble.Result
	preds      ensemble.PredictionSet
	truth      []int
	outputPath string
}

// New creates a reporter. preds and truth must be the exact inputs the
// result was aggregated from.
func New(result *ensemble.Result, preds ensemble.PredictionSet, truth []int, outputPath string) *Reporter {
	return &Reporter{result: result, preds: preds, truth: truth, outputPath: outputPath}
}

// Generate writes all report formats under the output directory.
func (r *Reporter) Generate() error {
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generateJSON(); err != nil {
		return err
	}
	if err := r.generatePredictionsCSV(); err != nil {
		return err
	}

	log.Info().Str("output", r.outputPath).Msg("Reports generated")
	return nil
}

func (r *Reporter) memberIDs() []ensemble.MemberID {
	ids := make([]ensemble.MemberID, 0, len(r.preds))
	for id := range r.preds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Reporter) generateSummary() error {
	path := filepath.Join(r.outputPath, "ensemble_summary.txt")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	fmt.Fprintf(file, "ENSEMBLE EVALUATION SUMMARY\n")
	fmt.Fprintf(file, "===========================\n\n")
	fmt.Fprintf(file, "Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	fmt.Fprintf(file, "Members: %d\n", r.result.Members)
	fmt.Fprintf(file, "Evaluation Samples: %d\n", r.result.Samples)
	fmt.Fprintf(file, "Consensus Accuracy: %.4f\n\n", r.result.Accuracy)

	fmt.Fprintf(file, "PER-MEMBER SOLO ACCURACY\n")
	fmt.Fprintf(file, "------------------------\n")
	for _, id := range r.memberIDs() {
		solo, err := ensemble.Aggregate(ensemble.PredictionSet{id: r.preds[id]}, r.truth)
		if err != nil {
			return fmt.Errorf("solo accuracy for %s: %w", id, err)
		}
		fmt.Fprintf(file, "%s: %.4f\n", id, solo.Accuracy)
	}

	return nil
}

// jsonReport is the machine-readable evaluation record.
type jsonReport struct {
	GeneratedAt   time.Time                     `json:"generated_at"`
	Members       int                           `json:"members"`
	Samples       int                           `json:"samples"`
	Accuracy      float64                       `json:"accuracy"`
	MemberIDs     []ensemble.MemberID           `json:"member_ids"`
	SoloAccuracy  map[ensemble.MemberID]float64 `json:"solo_accuracy"`
	Probabilities []float64                     `json:"consensus_probabilities"`
	Labels        []int                         `json:"consensus_labels"`
	Truth         []int                         `json:"ground_truth"`
}

func (r *Reporter) generateJSON() error {
	solo := make(map[ensemble.MemberID]float64, len(r.preds))
	for _, id := range r.memberIDs() {
		res, err := ensemble.Aggregate(ensemble.PredictionSet{id: r.preds[id]}, r.truth)
		if err != nil {
			return fmt.Errorf("solo accuracy for %s: %w", id, err)
		}
		solo[id] = res.Accuracy
	}

	rep := jsonReport{
		GeneratedAt:   time.Now().UTC(),
		Members:       r.result.Members,
		Samples:       r.result.Samples,
		Accuracy:      r.result.Accuracy,
		MemberIDs:     r.memberIDs(),
		SoloAccuracy:  solo,
		Probabilities: r.result.Probabilities,
		Labels:        r.result.Labels,
		Truth:         r.truth,
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(filepath.Join(r.outputPath, "ensemble_report.json"), data, 0o644)
}

func (r *Reporter) generatePredictionsCSV() error {
	path := filepath.Join(r.outputPath, "predictions.csv")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create predictions file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	ids := r.memberIDs()
	header := []string{"sample", "truth", "consensus_prob", "consensus_label"}
	for _, id := range ids {
		header = append(header, string(id))
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for i := 0; i < r.result.Samples; i++ {
		row := []string{
			strconv.Itoa(i),
			strconv.Itoa(r.truth[i]),
			strconv.FormatFloat(r.result.Probabilities[i], 'f', 6, 64),
			strconv.Itoa(r.result.Labels[i]),
		}
		for _, id := range ids {
			row = append(row, strconv.FormatFloat(r.preds[id][i], 'f', 6, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	return w.Error()
}

// PrintSummary writes the headline numbers to stdout, matching the
// original pipeline's printed accuracy scalar.
func (r *Reporter) PrintSummary() {
	fmt.Printf("\n=== Ensemble Evaluation ===\n")
	fmt.Printf("Members:  %d\n", r.result.Members)
	fmt.Printf("Samples:  %d\n", r.result.Samples)
	fmt.Printf("test acc: %.4f\n", r.result.Accuracy)
}
