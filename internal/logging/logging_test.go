package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"newface/discovery-service/internal/logging"
)

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter(&buf, "warn", "text")

	log.Info("hidden")
	log.Warn("shown", "jobId", "j1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "jobId=j1") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestNewWithWriter_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter(&buf, "", "JSON")
	log.Info("job completed", "analyzed", 3)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if line["msg"] != "job completed" || line["analyzed"] != float64(3) {
		t.Errorf("unexpected record: %v", line)
	}
}

func TestNewWithWriter_DefaultLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter(&buf, "nonsense", "")
	log.Debug("debug line")
	log.Info("info line")
	if strings.Contains(buf.String(), "debug line") || !strings.Contains(buf.String(), "info line") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}
