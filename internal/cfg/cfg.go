// Package cfg loads pipeline configuration from a YAML file with
// environment-variable overrides. Training jobs on the cluster usually get
// their few per-job knobs (member id, seed) from the environment while the
// shared experiment settings live in the config file.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Member names one ensemble member and the checkpoint it persists to.
type Member struct {
	ID         string `yaml:"id"`
	Checkpoint string `yaml:"checkpoint"`
}

// Settings is the resolved runtime configuration.
type Settings struct {
	DatasetRoot string

	CovidTrainLabels    string
	NonCovidTrainLabels string
	CovidValLabels      string
	NonCovidValLabels   string
	CovidTestLabels     string
	NonCovidTestLabels  string

	PoolSize    int
	BatchSize   int
	BagFraction float64

	// EvalFraction is the fraction of the validation split scored after
	// training. Only consulted at training time, never at inference.
	EvalFraction float64

	Epochs       int
	LearningRate float64
	Seed         int64

	Members []Member

	DataPath         string
	MetricsPort      int
	DashboardPort    int
	InferenceURL     string
	InferenceTimeout time.Duration
}

type configFile struct {
	Dataset struct {
		Root                string `yaml:"root"`
		CovidTrainLabels    string `yaml:"covidTrainLabels"`
		NonCovidTrainLabels string `yaml:"nonCovidTrainLabels"`
		CovidValLabels      string `yaml:"covidValLabels"`
		NonCovidValLabels   string `yaml:"nonCovidValLabels"`
		CovidTestLabels     string `yaml:"covidTestLabels"`
		NonCovidTestLabels  string `yaml:"nonCovidTestLabels"`
		PoolSize            int    `yaml:"poolSize"`
	} `yaml:"dataset"`

	Training struct {
		BatchSize    int     `yaml:"batchSize"`
		BagFraction  float64 `yaml:"bagFraction"`
		EvalFraction float64 `yaml:"evalFraction"`
		Epochs       int     `yaml:"epochs"`
		LearningRate float64 `yaml:"learningRate"`
		Seed         int64   `yaml:"seed"`
	} `yaml:"training"`

	Ensemble struct {
		Members []Member `yaml:"members"`
	} `yaml:"ensemble"`

	System struct {
		DataPath         string `yaml:"dataPath"`
		MetricsPort      int    `yaml:"metricsPort"`
		DashboardPort    int    `yaml:"dashboardPort"`
		InferenceURL     string `yaml:"inferenceURL"`
		InferenceTimeout string `yaml:"inferenceTimeout"`
	} `yaml:"system"`
}

// Load reads the file named by CONFIG_FILE when set and falls back to pure
// environment configuration otherwise. Environment variables always win over
// file values.
func Load() (Settings, error) {
	var file configFile
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	inferenceTimeout, err := time.ParseDuration(
		getEnvOrDefault("INFERENCE_TIMEOUT", file.System.InferenceTimeout))
	if err != nil {
		inferenceTimeout = 10 * time.Second
	}

	settings := Settings{
		DatasetRoot: getEnvOrDefault("DATASET_ROOT", file.Dataset.Root),

		CovidTrainLabels:    getEnvOrDefault("COVID_TRAIN_LABELS", file.Dataset.CovidTrainLabels),
		NonCovidTrainLabels: getEnvOrDefault("NONCOVID_TRAIN_LABELS", file.Dataset.NonCovidTrainLabels),
		CovidValLabels:      getEnvOrDefault("COVID_VAL_LABELS", file.Dataset.CovidValLabels),
		NonCovidValLabels:   getEnvOrDefault("NONCOVID_VAL_LABELS", file.Dataset.NonCovidValLabels),
		CovidTestLabels:     getEnvOrDefault("COVID_TEST_LABELS", file.Dataset.CovidTestLabels),
		NonCovidTestLabels:  getEnvOrDefault("NONCOVID_TEST_LABELS", file.Dataset.NonCovidTestLabels),

		PoolSize:    getIntFromEnvOrConfig("POOL_SIZE", file.Dataset.PoolSize, 16),
		BatchSize:   getIntFromEnvOrConfig("BATCH_SIZE", file.Training.BatchSize, 8),
		BagFraction: getFloatFromEnvOrConfig("BAG_FRACTION", file.Training.BagFraction, 0.6),

		EvalFraction: getFloatFromEnvOrConfig("EVAL_FRACTION", file.Training.EvalFraction, 1.0),

		Epochs:       getIntFromEnvOrConfig("EPOCHS", file.Training.Epochs, 50),
		LearningRate: getFloatFromEnvOrConfig("LEARNING_RATE", file.Training.LearningRate, 0.1),
		Seed:         getInt64FromEnvOrConfig("SEED", file.Training.Seed, 0),

		Members: getMembersFromEnvOrConfig(file.Ensemble.Members),

		DataPath:         getEnvOrDefault("DATA_PATH", file.System.DataPath),
		MetricsPort:      getIntFromEnvOrConfig("METRICS_PORT", file.System.MetricsPort, 0),
		DashboardPort:    getIntFromEnvOrConfig("DASHBOARD_PORT", file.System.DashboardPort, 0),
		InferenceURL:     getEnvOrDefault("INFERENCE_URL", file.System.InferenceURL),
		InferenceTimeout: inferenceTimeout,
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// TrainSplit, ValSplit and TestSplit bundle the label-file pairs for the
// dataset loader.
func (s *Settings) TrainSplit() (covid, nonCovid string) {
	return s.CovidTrainLabels, s.NonCovidTrainLabels
}

func (s *Settings) ValSplit() (covid, nonCovid string) {
	return s.CovidValLabels, s.NonCovidValLabels
}

func (s *Settings) TestSplit() (covid, nonCovid string) {
	return s.CovidTestLabels, s.NonCovidTestLabels
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getInt64FromEnvOrConfig(key string, configValue, defaultValue int64) int64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseInt(env, 10, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// getMembersFromEnvOrConfig parses MEMBER_CHECKPOINTS ("id=path,id=path")
// when set, otherwise uses the config file's member list.
func getMembersFromEnvOrConfig(configMembers []Member) []Member {
	env := os.Getenv("MEMBER_CHECKPOINTS")
	if env == "" {
		return configMembers
	}

	var members []Member
	for _, entry := range strings.Split(env, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, path, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		members = append(members, Member{ID: strings.TrimSpace(id), Checkpoint: strings.TrimSpace(path)})
	}
	return members
}

func validateSettings(settings *Settings) error {
	if settings.BagFraction <= 0 || settings.BagFraction > 1 {
		return fmt.Errorf("bag fraction must be in (0, 1], got %f", settings.BagFraction)
	}
	if settings.EvalFraction <= 0 || settings.EvalFraction > 1 {
		return fmt.Errorf("eval fraction must be in (0, 1], got %f", settings.EvalFraction)
	}
	if settings.BatchSize <= 0 || settings.BatchSize > 4096 {
		return fmt.Errorf("batch size must be between 1 and 4096, got %d", settings.BatchSize)
	}
	if settings.PoolSize <= 0 || settings.PoolSize > 256 {
		return fmt.Errorf("pool size must be between 1 and 256, got %d", settings.PoolSize)
	}
	if settings.Epochs <= 0 || settings.Epochs > 100000 {
		return fmt.Errorf("epochs must be between 1 and 100000, got %d", settings.Epochs)
	}
	if settings.LearningRate <= 0 || settings.LearningRate > 10 {
		return fmt.Errorf("learning rate must be between 0 and 10, got %f", settings.LearningRate)
	}
	if settings.MetricsPort != 0 && (settings.MetricsPort < 1024 || settings.MetricsPort > 65535) {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if settings.DashboardPort != 0 && (settings.DashboardPort < 1024 || settings.DashboardPort > 65535) {
		return fmt.Errorf("dashboard port must be between 1024 and 65535, got %d", settings.DashboardPort)
	}

	seen := make(map[string]bool, len(settings.Members))
	for _, m := range settings.Members {
		if m.ID == "" || m.Checkpoint == "" {
			return fmt.Errorf("ensemble member needs both id and checkpoint, got id=%q checkpoint=%q", m.ID, m.Checkpoint)
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate ensemble member id %q", m.ID)
		}
		seen[m.ID] = true
	}

	return nil
}
