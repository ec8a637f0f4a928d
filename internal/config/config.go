// Package config loads and validates runtime configuration at startup.
// Fail-fast: if a required variable is missing or a value is malformed, Load
// returns an error and the process exits.
//
// Connection settings and credentials come from the environment. Pipeline
// tunables come from an optional YAML file named by DISCOVERY_CONFIG; any
// field left out of the file keeps its default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "DISCOVERY_CONFIG"

// Datastore backends.
const (
	DatastorePostgres = "postgres"
	DatastoreSQLite   = "sqlite"
)

// Config holds all runtime configuration for the discovery service.
type Config struct {
	Port        string
	GRPCPort    string
	Datastore   string // "postgres" or "sqlite"
	DatabaseURL string
	SQLitePath  string
	RedisURL    string // optional; events are dropped when empty

	ApifyToken   string
	GeminiAPIKey string
	GeminiModel  string

	MediaDir     string
	MediaBaseURL string

	LogLevel  string
	LogFormat string

	SweepIntervalMinutes int

	Tuning Tuning
}

// Tuning groups the pipeline knobs that may be overridden from YAML.
type Tuning struct {
	// Analysis subset: max(ceil(n*AnalysisFraction), AnalysisMin) capped at AnalysisMax.
	AnalysisFraction float64 `yaml:"analysisFraction"`
	AnalysisMin      int     `yaml:"analysisMin"`
	AnalysisMax      int     `yaml:"analysisMax"`
	AnalysisWorkers  int     `yaml:"analysisWorkers"`

	DefaultLimit   int           `yaml:"defaultLimit"`
	PerCallCap     int           `yaml:"perCallCap"`
	ScrapeWait     time.Duration `yaml:"scrapeWait"`
	ImageTimeout   time.Duration `yaml:"imageTimeout"`
	CandidateDelay time.Duration `yaml:"candidateDelay"`

	BatchSize  int           `yaml:"batchSize"`
	BatchDelay time.Duration `yaml:"batchDelay"`

	StaleJobAge time.Duration `yaml:"staleJobAge"`

	AgencyKeywords []string            `yaml:"agencyKeywords"`
	CityKeywords   map[string][]string `yaml:"cityKeywords"`
}

// DefaultTuning returns the built-in pipeline settings.
func DefaultTuning() Tuning {
	return Tuning{
		AnalysisFraction: 0.5,
		AnalysisMin:      10,
		AnalysisMax:      25,
		AnalysisWorkers:  1,
		DefaultLimit:     50,
		PerCallCap:       30,
		ScrapeWait:       120 * time.Second,
		ImageTimeout:     10 * time.Second,
		CandidateDelay:   200 * time.Millisecond,
		BatchSize:        3,
		BatchDelay:       time.Second,
		StaleJobAge:      30 * time.Minute,
	}
}

// Load reads environment variables, merges the optional YAML file and
// returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         envOr("DISCOVERY_PORT", "8081"),
		GRPCPort:     envOr("GRPC_PORT", "9091"),
		Datastore:    strings.ToLower(envOr("DATASTORE", DatastorePostgres)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SQLitePath:   envOr("SQLITE_PATH", "discovery.db"),
		RedisURL:     os.Getenv("REDIS_URL"),
		ApifyToken:   os.Getenv("APIFY_API_TOKEN"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		MediaDir:     envOr("MEDIA_DIR", "media"),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		LogFormat:    envOr("LOG_FORMAT", "text"),
		Tuning:       DefaultTuning(),
	}

	switch cfg.Datastore {
	case DatastorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when DATASTORE=%s", DatastorePostgres)
		}
	case DatastoreSQLite:
	default:
		return nil, fmt.Errorf("DATASTORE must be %q or %q, got %q", DatastorePostgres, DatastoreSQLite, cfg.Datastore)
	}

	cfg.MediaBaseURL = envOr("MEDIA_BASE_URL", fmt.Sprintf("http://localhost:%s/media", cfg.Port))

	interval := 5
	if s := os.Getenv("SWEEP_INTERVAL_MINUTES"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("SWEEP_INTERVAL_MINUTES must be a positive integer, got %q", s)
		}
		interval = v
	}
	cfg.SweepIntervalMinutes = interval

	if path := os.Getenv(configPathEnv); path != "" {
		fileTuning, err := LoadTuningFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Tuning = mergeTuning(cfg.Tuning, fileTuning)
	}

	if err := cfg.Tuning.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTuningFile reads a YAML tunables file. Fields absent from the file are
// zero in the result.
func LoadTuningFile(path string) (Tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read %s: %w", path, err)
	}
	var t Tuning
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tuning{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return t, nil
}

func mergeTuning(base, override Tuning) Tuning {
	if override.AnalysisFraction > 0 {
		base.AnalysisFraction = override.AnalysisFraction
	}
	if override.AnalysisMin > 0 {
		base.AnalysisMin = override.AnalysisMin
	}
	if override.AnalysisMax > 0 {
		base.AnalysisMax = override.AnalysisMax
	}
	if override.AnalysisWorkers > 0 {
		base.AnalysisWorkers = override.AnalysisWorkers
	}
	if override.DefaultLimit > 0 {
		base.DefaultLimit = override.DefaultLimit
	}
	if override.PerCallCap > 0 {
		base.PerCallCap = override.PerCallCap
	}
	if override.ScrapeWait > 0 {
		base.ScrapeWait = override.ScrapeWait
	}
	if override.ImageTimeout > 0 {
		base.ImageTimeout = override.ImageTimeout
	}
	if override.CandidateDelay > 0 {
		base.CandidateDelay = override.CandidateDelay
	}
	if override.BatchSize > 0 {
		base.BatchSize = override.BatchSize
	}
	if override.BatchDelay > 0 {
		base.BatchDelay = override.BatchDelay
	}
	if override.StaleJobAge > 0 {
		base.StaleJobAge = override.StaleJobAge
	}
	if len(override.AgencyKeywords) > 0 {
		base.AgencyKeywords = override.AgencyKeywords
	}
	if len(override.CityKeywords) > 0 {
		base.CityKeywords = override.CityKeywords
	}
	return base
}

func (t Tuning) validate() error {
	if t.AnalysisFraction > 1 {
		return fmt.Errorf("analysisFraction must be within (0,1], got %v", t.AnalysisFraction)
	}
	if t.AnalysisMin > t.AnalysisMax {
		return fmt.Errorf("analysisMin (%d) must not exceed analysisMax (%d)", t.AnalysisMin, t.AnalysisMax)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
