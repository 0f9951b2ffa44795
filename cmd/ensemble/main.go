package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ctbag/internal/cfg"
	"ctbag/internal/classifier"
	"ctbag/internal/dataset"
	"ctbag/internal/ensemble"
	"ctbag/internal/metrics"
	"ctbag/internal/report"
	"ctbag/internal/storage"
)

func main() {
	var (
		outputPath = flag.String("output", "results", "Output directory for evaluation reports")
		useStored  = flag.Bool("use-stored", false, "Reuse prediction vectors persisted by earlier evaluations")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}

	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if len(config.Members) == 0 {
		log.Fatal().Msg("No ensemble members configured")
	}

	covidLabels, nonCovidLabels := config.TestSplit()
	ds, err := dataset.Load(config.DatasetRoot, dataset.SplitPaths{
		CovidLabels:    covidLabels,
		NonCovidLabels: nonCovidLabels,
	}, config.PoolSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load evaluation dataset")
	}

	// The evaluation loader is built once, never shuffled, and shared by
	// every member so their prediction vectors stay index-aligned.
	loader, err := dataset.NewLoader(ds, dataset.Indices(ds.Size()), config.BatchSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build evaluation loader")
	}
	samples, err := loader.Flatten()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to materialize evaluation samples")
	}
	truth := loader.Truth()
	fingerprint := ensemble.Fingerprint(truth)

	log.Info().
		Int("members", len(config.Members)).
		Int("samples", len(samples)).
		Int("batch_size", config.BatchSize).
		Msg("Evaluating ensemble")

	var store *storage.Store
	if config.DataPath != "" {
		store, err = storage.New(config.DataPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open prediction store")
		}
		defer store.Close()
	}

	m := metrics.New()
	ctx := context.Background()

	preds := make(ensemble.PredictionSet, len(config.Members))
	for _, member := range config.Members {
		id := ensemble.MemberID(member.ID)

		vec, err := memberPredictions(ctx, member, id, samples, fingerprint, store, *useStored)
		if err != nil {
			m.PredictionFailures.Inc()
			log.Fatal().Err(err).Str("member", member.ID).Msg("Member evaluation failed")
		}

		preds[id] = vec
		m.Predictions.Add(float64(len(vec)))

		solo, err := ensemble.Aggregate(ensemble.PredictionSet{id: vec}, truth)
		if err != nil {
			log.Fatal().Err(err).Str("member", member.ID).Msg("Member produced unusable predictions")
		}
		m.MemberAccuracy.Observe(solo.Accuracy)
		log.Info().
			Str("member", member.ID).
			Float64("solo_accuracy", solo.Accuracy).
			Msg("Member evaluated")
	}

	result, err := ensemble.Aggregate(preds, truth)
	if err != nil {
		log.Fatal().Err(err).Msg("Ensemble aggregation failed")
	}
	m.MembersEvaluated.Set(float64(result.Members))
	m.EnsembleAccuracy.Set(result.Accuracy)

	reporter := report.New(result, preds, truth, *outputPath)
	if err := reporter.Generate(); err != nil {
		log.Error().Err(err).Msg("Failed to generate reports")
	}
	reporter.PrintSummary()
}

// memberPredictions returns one member's probability vector over the shared
// evaluation ordering, either recomputed from its checkpoint or reused from
// the store when the stored vector was computed over the same ordering.
func memberPredictions(ctx context.Context, member cfg.Member, id ensemble.MemberID,
	samples []dataset.Sample, fingerprint string, store *storage.Store, useStored bool) ([]float64, error) {

	if useStored && store != nil {
		rec, found, err := store.GetPredictions(id)
		if err != nil {
			return nil, err
		}
		if found {
			if rec.Fingerprint != fingerprint {
				return nil, fmt.Errorf("%w: stored predictions for %s were computed over a different evaluation ordering",
					ensemble.ErrMisalignedInput, id)
			}
			log.Debug().Str("member", string(id)).Msg("Reusing stored predictions")
			return rec.Probabilities, nil
		}
	}

	handle, err := classifier.Load(member.Checkpoint)
	if err != nil {
		return nil, err
	}

	vec, err := handle.Predict(ctx, samples)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}

	if store != nil {
		if err := store.PutPredictions(storage.PredictionRecord{
			Member:        id,
			Probabilities: vec,
			Fingerprint:   fingerprint,
			CreatedAt:     time.Now().UTC(),
		}); err != nil {
			return nil, fmt.Errorf("persist predictions: %w", err)
		}
	}

	return vec, nil
}
