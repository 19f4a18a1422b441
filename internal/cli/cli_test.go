package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/mode"
)

func TestParseEventData(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]any
		wantErr bool
	}{
		{"no args", nil, nil, false},
		{"pairs", []string{"project=alpha", "reason=resync"}, map[string]any{"project": "alpha", "reason": "resync"}, false},
		{"value with equals", []string{"q=a=b"}, map[string]any{"q": "a=b"}, false},
		{"missing equals", []string{"project"}, nil, true},
		{"empty key", []string{"=x"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEventData(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestPrintConfigurations(t *testing.T) {
	var buf bytes.Buffer
	printConfigurations(&buf, domain.ModeScheduled, mode.DefaultConfigurations())

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1+len(domain.AllModes) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), 1+len(domain.AllModes), out)
	}
	if !strings.Contains(out, "scheduled *") {
		t.Errorf("current mode not marked:\n%s", out)
	}
	if !strings.Contains(out, "02:00") {
		t.Errorf("schedule time missing:\n%s", out)
	}
	if !strings.Contains(out, (5 * time.Second).String()) {
		t.Errorf("auto retry delay missing:\n%s", out)
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		debug bool
		want  slog.Level
	}{
		{"debug", false, slog.LevelDebug},
		{"info", false, slog.LevelInfo},
		{"warn", false, slog.LevelWarn},
		{"WARNING", false, slog.LevelWarn},
		{"error", false, slog.LevelError},
		{"", false, slog.LevelInfo},
		{"error", true, slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := logLevel(tt.name, tt.debug); got != tt.want {
				t.Errorf("logLevel(%q, %v) = %v, want %v", tt.name, tt.debug, got, tt.want)
			}
		})
	}
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, slog.LevelWarn)

	logger.Info("dropped")
	logger.Warn("Circuit breaker opened", "failures", 5)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "Circuit breaker opened" || entry["level"] != "WARN" || entry["failures"] != float64(5) {
		t.Errorf("unexpected entry %v", entry)
	}
}

func useConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	prev := cfgPath
	cfgPath = path
	t.Cleanup(func() { cfgPath = prev })
}

func TestCommandsReturnErrors(t *testing.T) {
	useConfig(t, "store:\n  driver: memory\n")

	if err := runTrigger(triggerCmd, []string{"project"}); err == nil {
		t.Error("expected error for malformed event data")
	}

	err := runModeShow(modeShowCmd, []string{"warp"})
	if !errors.Is(err, mode.ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}

	err = runModeSet(modeSetCmd, []string{"warp"})
	if !errors.Is(err, mode.ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}
}
