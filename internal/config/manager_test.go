package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
sequencer:
  base_hz: 100
  run_cycles: 10
  driver_core: 1
  core_pool: [2, 3]
  realtime:
    enabled: true
    required: false
  services:
    - { id: 0, name: fast, hz: 50, work: burn, iterations: 1000 }
    - { id: 1, name: slow, hz: 10, work: sleep, sleep: 1ms }
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./seqd.db
  busy_timeout: 2s
recorder:
  queue_size: 64
  retention: 24h
  prune_spec: "@every 1h"
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "seqd.yaml", validYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if cfg.Sequencer.BaseHz != 100 || cfg.Sequencer.RunCycles != 10 {
		t.Fatalf("sequencer = %+v", cfg.Sequencer)
	}
	if cfg.Sequencer.DriverCore == nil || *cfg.Sequencer.DriverCore != 1 {
		t.Fatalf("driver_core = %v, want 1", cfg.Sequencer.DriverCore)
	}
	if len(cfg.Sequencer.Services) != 2 || cfg.Sequencer.Services[1].Sleep != "1ms" {
		t.Fatalf("services = %+v", cfg.Sequencer.Services)
	}
	if !cfg.Sequencer.Realtime.Enabled || cfg.Sequencer.Realtime.Required {
		t.Fatalf("realtime = %+v", cfg.Sequencer.Realtime)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}

	window, err := cfg.Recorder.RetentionWindow()
	if err != nil {
		t.Fatalf("RetentionWindow error: %v", err)
	}
	if window != 24*time.Hour {
		t.Fatalf("retention = %v, want 24h", window)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	body := `{"sequencer":{"base_hz":100,"services":[{"id":0,"name":"s","hz":10}]},"logging":{"level":"info","console":true}}`
	m := NewManager(writeConfig(t, "seqd.json", body))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Sequencer.Services[0].Hz != 10 {
		t.Fatalf("hz = %d, want 10", cfg.Sequencer.Services[0].Hz)
	}
	if cfg.Sequencer.DriverCore != nil {
		t.Fatal("driver_core should be unset")
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	t.Parallel()
	body := `
sequencer:
  base_hz: 100
  tick_hz: 100
  services:
    - { id: 0, name: s, hz: 10 }
logging:
  level: info
  console: true
`
	m := NewManager(writeConfig(t, "seqd.yaml", body))
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "tick_hz") {
		t.Fatalf("Parse = %v, want unknown-field error naming tick_hz", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	body := `{"sequencer":{"base_hz":100,"services":[]},"logging":{"level":"info","console":true}}{"extra":1}`
	m := NewManager(writeConfig(t, "seqd.json", body))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing-data error")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "500ms", want: 500 * time.Millisecond},
		{raw: " 2s ", want: 2 * time.Second},
		{raw: "24h", want: 24 * time.Hour},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("test.field", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDurationField(%q) error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if got, err := ParseDurationOrDefault("f", "", 2*time.Second); err != nil || got != 2*time.Second {
		t.Fatalf("empty = (%v, %v), want default 2s", got, err)
	}
	if got, err := ParseDurationOrDefault("f", "5s", 2*time.Second); err != nil || got != 5*time.Second {
		t.Fatalf("explicit = (%v, %v), want 5s", got, err)
	}
	if _, err := ParseDurationOrDefault("f", "bogus", time.Second); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadCommitGet(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "seqd.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}
