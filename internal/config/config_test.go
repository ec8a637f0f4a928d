package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"newface/discovery-service/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DISCOVERY_PORT", "GRPC_PORT", "DATASTORE", "DATABASE_URL", "SQLITE_PATH",
		"REDIS_URL", "APIFY_API_TOKEN", "GEMINI_API_KEY", "GEMINI_MODEL",
		"MEDIA_DIR", "MEDIA_BASE_URL", "LOG_LEVEL", "LOG_FORMAT",
		"SWEEP_INTERVAL_MINUTES", "DISCOVERY_CONFIG",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	if _, err := config.Load(); err == nil {
		t.Error("Load() without DATABASE_URL should fail")
	}
}

func TestLoad_SQLiteNeedsNoDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATASTORE", "SQLite")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Datastore != config.DatastoreSQLite {
		t.Errorf("Datastore = %q", cfg.Datastore)
	}
	if cfg.Port != "8081" || cfg.MediaBaseURL != "http://localhost:8081/media" {
		t.Errorf("defaults: port=%q mediaBase=%q", cfg.Port, cfg.MediaBaseURL)
	}
	if diff := cmp.Diff(config.DefaultTuning(), cfg.Tuning); diff != "" {
		t.Errorf("tuning (-want +got):\n%s", diff)
	}
}

func TestLoad_RejectsUnknownDatastore(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATASTORE", "mongo")
	if _, err := config.Load(); err == nil {
		t.Error("Load() with DATASTORE=mongo should fail")
	}
}

func TestLoad_SweepInterval(t *testing.T) {
	cases := []struct {
		value   string
		want    int
		wantErr bool
	}{
		{"", 5, false},
		{"15", 15, false},
		{"0", 0, true},
		{"soon", 0, true},
	}
	for _, c := range cases {
		clearEnv(t)
		t.Setenv("DATASTORE", "sqlite")
		t.Setenv("SWEEP_INTERVAL_MINUTES", c.value)
		cfg, err := config.Load()
		if c.wantErr {
			if err == nil {
				t.Errorf("SWEEP_INTERVAL_MINUTES=%q: expected error", c.value)
			}
			continue
		}
		if err != nil {
			t.Errorf("SWEEP_INTERVAL_MINUTES=%q: %v", c.value, err)
			continue
		}
		if cfg.SweepIntervalMinutes != c.want {
			t.Errorf("SWEEP_INTERVAL_MINUTES=%q: got %d, want %d", c.value, cfg.SweepIntervalMinutes, c.want)
		}
	}
}

func TestLoad_YAMLOverridesOnlyListedFields(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "discovery.yaml")
	yaml := `
analysisMax: 40
scrapeWait: 90s
agencyKeywords: ["acme talent"]
cityKeywords:
  lisbon: ["lisbon", "lisboa"]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATASTORE", "sqlite")
	t.Setenv("DISCOVERY_CONFIG", path)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := config.DefaultTuning()
	want.AnalysisMax = 40
	want.ScrapeWait = 90 * time.Second
	want.AgencyKeywords = []string{"acme talent"}
	want.CityKeywords = map[string][]string{"lisbon": {"lisbon", "lisboa"}}
	if diff := cmp.Diff(want, cfg.Tuning); diff != "" {
		t.Errorf("tuning (-want +got):\n%s", diff)
	}
}

func TestLoad_InvalidTuningFails(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("analysisMin: 30\nanalysisMax: 20\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATASTORE", "sqlite")
	t.Setenv("DISCOVERY_CONFIG", path)
	if _, err := config.Load(); err == nil {
		t.Error("analysisMin > analysisMax should fail")
	}
}

func TestLoad_MissingYAMLFileFails(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATASTORE", "sqlite")
	t.Setenv("DISCOVERY_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := config.Load(); err == nil {
		t.Error("missing config file should fail")
	}
}
