package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aqiexplain/internal/explainer"
	"aqiexplain/internal/models"
)

func testExplainer() *explainer.Explainer {
	return explainer.New(explainer.WithClock(func() time.Time {
		return time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)
	}))
}

func TestRunExplain_Stdin(t *testing.T) {
	in := strings.NewReader(`{"current_aqi": 65, "aqi_history": [50, 55, 60, 65], "wind_speed_history": [1, 1, 1, 1]}`)
	var out bytes.Buffer

	if err := runExplain(testExplainer(), "-", in, &out); err != nil {
		t.Fatalf("runExplain() error = %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if doc["trend"] != "rising" {
		t.Errorf("trend = %v, want rising", doc["trend"])
	}
	if doc["timestamp"] != "2025-01-20T09:00:00Z" {
		t.Errorf("timestamp = %v", doc["timestamp"])
	}
	if !strings.HasSuffix(out.String(), "}\n") {
		t.Error("output should end with a newline")
	}
}

func TestRunExplain_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.yaml")
	content := `current_aqi: 40
aqi_history: [80, 70, 55, 40]
humidity_history: [40, 40, 40, 40]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write request: %v", err)
	}

	var out bytes.Buffer
	if err := runExplain(testExplainer(), path, nil, &out); err != nil {
		t.Fatalf("runExplain() error = %v", err)
	}
	if !strings.Contains(out.String(), `"trend": "falling"`) {
		t.Errorf("expected a falling trend, got:\n%s", out.String())
	}
}

func TestRunExplain_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode string
	}{
		{"too short", `{"current_aqi": 42, "aqi_history": [40, 42]}`, models.CodeInsufficientData},
		{"length mismatch", `{"current_aqi": 65, "aqi_history": [50, 55, 60], "humidity_history": [70, 70]}`, models.CodeValidationError},
		{"malformed", `{"current_aqi": "high"}`, models.CodeValidationError},
		{"unknown field", `{"current_aqi": 1, "aqi_history": [1, 2, 3], "pm25": [1, 2, 3]}`, models.CodeValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runExplain(testExplainer(), "-", strings.NewReader(tt.input), &out)
			if err == nil {
				t.Fatal("runExplain() expected an error")
			}
			if !strings.HasPrefix(err.Error(), tt.wantCode+": ") {
				t.Errorf("error = %q, want prefix %s", err.Error(), tt.wantCode)
			}
			if models.ErrorCode(err) != tt.wantCode {
				t.Errorf("ErrorCode() = %s, want %s", models.ErrorCode(err), tt.wantCode)
			}
			if out.Len() != 0 {
				t.Errorf("nothing should be written on error, got %q", out.String())
			}
		})
	}
}

func TestReadRequest_MissingFile(t *testing.T) {
	_, err := readRequest(filepath.Join(t.TempDir(), "missing.json"), nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("readRequest() error = %v, want not-exist", err)
	}
	if explainer.IsEngineError(err) {
		t.Error("a missing file is not an engine error")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"explain": false, "submit": false, "results": false, "worker": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q is not registered", name)
		}
	}
}
