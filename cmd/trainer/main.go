package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ctbag/internal/cfg"
	"ctbag/internal/classifier"
	"ctbag/internal/dashboard"
	"ctbag/internal/dataset"
	"ctbag/internal/ensemble"
	"ctbag/internal/metrics"
	"ctbag/internal/sampling"
	"ctbag/internal/storage"
)

func main() {
	var (
		members  = flag.String("members", "", "Comma-separated member ids to train (defaults to all configured members)")
		seed     = flag.Int64("seed", 0, "Base random seed (overrides config)")
		logLevel = flag.String("log-level", "info", "Log level: debug, info, warn, error")
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
	if *seed != 0 {
		config.Seed = *seed
	}

	targets := selectMembers(config, *members)
	if len(targets) == 0 {
		log.Fatal().Msg("No ensemble members to train; configure ensemble.members or pass -members")
	}

	m := metrics.New()
	if config.MetricsPort != 0 {
		go func() {
			addr := fmt.Sprintf(":%d", config.MetricsPort)
			log.Info().Str("address", addr).Msg("Serving metrics")
			if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	var board *dashboard.Dashboard
	if config.DashboardPort != 0 {
		board = dashboard.New(config.DashboardPort)
		if err := board.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start dashboard")
		}
		defer board.Stop()
	}

	covidLabels, nonCovidLabels := config.TrainSplit()
	ds, err := dataset.Load(config.DatasetRoot, dataset.SplitPaths{
		CovidLabels:    covidLabels,
		NonCovidLabels: nonCovidLabels,
	}, config.PoolSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load training dataset")
	}

	var store *storage.Store
	if config.DataPath != "" {
		store, err = storage.New(config.DataPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open run store")
		}
		defer store.Close()
	}

	// Members are independent: no shared mutable state, one goroutine each,
	// per-member seeds derived from the base seed.
	var wg sync.WaitGroup
	errs := make(chan error, len(targets))
	for i, member := range targets {
		wg.Add(1)
		go func(ordinal int, member cfg.Member) {
			defer wg.Done()
			if err := trainMember(config, member, config.Seed+int64(ordinal), ds, m, board, store); err != nil {
				errs <- fmt.Errorf("member %s: %w", member.ID, err)
			}
		}(i, member)
	}
	wg.Wait()
	close(errs)

	failed := false
	for err := range errs {
		failed = true
		log.Error().Err(err).Msg("Training failed")
	}
	if failed {
		os.Exit(1)
	}

	log.Info().Int("members", len(targets)).Msg("All training runs completed")
}

// selectMembers resolves the -members flag against the configured list.
func selectMembers(config cfg.Settings, flagValue string) []cfg.Member {
	if flagValue == "" {
		return config.Members
	}

	byID := make(map[string]cfg.Member, len(config.Members))
	for _, m := range config.Members {
		byID[m.ID] = m
	}

	var targets []cfg.Member
	for _, id := range strings.Split(flagValue, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		member, ok := byID[id]
		if !ok {
			log.Fatal().Str("member", id).Msg("Member not found in configuration")
		}
		targets = append(targets, member)
	}
	return targets
}

func trainMember(config cfg.Settings, member cfg.Member, seed int64, ds *dataset.Dataset,
	m *metrics.Metrics, board *dashboard.Dashboard, store *storage.Store) error {

	start := time.Now()

	sampler := sampling.NewSeeded(seed)
	bag, err := sampler.Bag(ds.Size(), config.BagFraction)
	if err != nil {
		return fmt.Errorf("draw bag: %w", err)
	}
	m.BagSize.Set(float64(len(bag)))

	loader, err := dataset.NewLoader(ds, bag, config.BatchSize)
	if err != nil {
		return fmt.Errorf("build loader: %w", err)
	}

	var lastAccuracy float64
	trainer, err := classifier.NewLogisticTrainer(classifier.LogisticConfig{
		Epochs:       config.Epochs,
		LearningRate: config.LearningRate,
		Seed:         seed,
		Progress: func(epoch int, loss, accuracy float64) {
			lastAccuracy = accuracy
			m.EpochLoss.Set(loss)
			m.EpochAccuracy.Set(accuracy)
			if board != nil {
				board.Publish(dashboard.Snapshot{
					Member:   member.ID,
					Epoch:    epoch,
					Loss:     loss,
					Accuracy: accuracy,
				})
			}
		},
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("member", member.ID).
		Int64("seed", seed).
		Int("bag_size", len(bag)).
		Float64("bag_fraction", config.BagFraction).
		Msg("Training ensemble member")

	handle, err := trainer.Train(context.Background(), loader)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}

	if err := classifier.Save(handle, member.Checkpoint); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	valAccuracy, err := validateMember(config, member, handle, sampler)
	if err != nil {
		return err
	}

	m.TrainRuns.Inc()
	m.TrainDuration.Observe(time.Since(start).Seconds())
	m.TrainAccuracy.Observe(lastAccuracy)

	if store != nil {
		if err := store.PutRun(storage.RunRecord{
			Member:         ensemble.MemberID(member.ID),
			Seed:           seed,
			BagSize:        len(bag),
			BagFraction:    config.BagFraction,
			CheckpointPath: member.Checkpoint,
			TrainAccuracy:  lastAccuracy,
			ValAccuracy:    valAccuracy,
			StartedAt:      start,
			FinishedAt:     time.Now(),
		}); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
	}

	event := log.Info().
		Str("member", member.ID).
		Str("checkpoint", member.Checkpoint).
		Float64("train_accuracy", lastAccuracy).
		Dur("duration", time.Since(start))
	if valAccuracy > 0 {
		event = event.Float64("val_accuracy", valAccuracy)
	}
	event.Msg("Member trained")

	return nil
}

// validateMember scores the freshly trained member on the validation split,
// when one is configured. With evalFraction < 1 only a bag of the split is
// scored, drawn from the member's own sampler so runs stay reproducible.
// Returns 0 when no validation split is configured.
func validateMember(config cfg.Settings, member cfg.Member, handle classifier.Handle,
	sampler *sampling.Sampler) (float64, error) {

	covidLabels, nonCovidLabels := config.ValSplit()
	if covidLabels == "" || nonCovidLabels == "" {
		return 0, nil
	}

	valDs, err := dataset.Load(config.DatasetRoot, dataset.SplitPaths{
		CovidLabels:    covidLabels,
		NonCovidLabels: nonCovidLabels,
	}, config.PoolSize)
	if err != nil {
		return 0, fmt.Errorf("load validation dataset: %w", err)
	}

	indices := dataset.Indices(valDs.Size())
	if config.EvalFraction < 1 {
		indices, err = sampler.Bag(valDs.Size(), config.EvalFraction)
		if err != nil {
			return 0, fmt.Errorf("draw validation bag: %w", err)
		}
	}

	loader, err := dataset.NewLoader(valDs, indices, config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("build validation loader: %w", err)
	}
	if loader.Samples() == 0 {
		log.Warn().Str("member", member.ID).Msg("Validation split smaller than one batch, skipping")
		return 0, nil
	}

	samples, err := loader.Flatten()
	if err != nil {
		return 0, fmt.Errorf("flatten validation batches: %w", err)
	}
	probs, err := handle.Predict(context.Background(), samples)
	if err != nil {
		return 0, fmt.Errorf("validation predict: %w", err)
	}

	result, err := ensemble.Aggregate(ensemble.PredictionSet{
		ensemble.MemberID(member.ID): probs,
	}, loader.Truth())
	if err != nil {
		return 0, fmt.Errorf("score validation: %w", err)
	}

	return result.Accuracy, nil
}
