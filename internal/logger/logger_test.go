package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupLevels(t *testing.T) {
	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"Debug", zerolog.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			if err := SetupWriter(&buf, tt.level, "console"); err != nil {
				t.Fatalf("SetupWriter: %v", err)
			}
			if got := zerolog.GlobalLevel(); got != tt.expect {
				t.Errorf("level %q: expected %v, got %v", tt.level, tt.expect, got)
			}
		})
	}
}

func TestSetupUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	if err := SetupWriter(&buf, "verbose", "console"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	if err := SetupWriter(&buf, "debug", "json"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = SetupWriter(&buf, "info", "console") })

	Log.With("bench").Info("measured",
		"name", "attn.w0",
		"ops", int64(274877906944),
		"err", errors.New("boom"),
		"orphan",
	)

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	if rec["message"] != "measured" {
		t.Errorf("message = %v", rec["message"])
	}
	if rec["component"] != "bench" {
		t.Errorf("component = %v", rec["component"])
	}
	if rec["name"] != "attn.w0" {
		t.Errorf("name = %v", rec["name"])
	}
	if rec["err"] != "boom" {
		t.Errorf("err = %v", rec["err"])
	}
	if _, ok := rec["orphan"]; ok {
		t.Error("orphan key without value should be dropped")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	if err := SetupWriter(&buf, "error", "json"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = SetupWriter(&buf, "info", "console") })

	Log.Debug("hidden")
	Log.Info("hidden")
	Log.Warn("hidden")
	Log.Error("shown", 7, "non-string key")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("filtered messages leaked: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, `"7":"non-string key"`) {
		t.Errorf("expected error line with stringified key, got %q", out)
	}
}
