package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  timezone: UTC
index:
  driver: sqlite
  path: ./data/index.db
profiles:
  local:
    max_per_host: 4
recrawl:
  enabled: true
  schedule: "@every 1m"
  max_queue_size: 500
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Scheduler.Enabled {
		t.Fatalf("unexpected logging/scheduler: %+v %+v", cfg.Logging, cfg.Scheduler)
	}
	if cfg.Index.Driver != "sqlite" {
		t.Fatalf("Index.Driver = %q, want sqlite", cfg.Index.Driver)
	}
	if got := cfg.Profiles["local"].MaxPerHost; got != 4 {
		t.Fatalf("profiles.local.max_per_host = %d, want 4", got)
	}
	if cfg.Recrawl.MaxQueueSize == nil || *cfg.Recrawl.MaxQueueSize != 500 || cfg.Recrawl.Schedule != "@every 1m" {
		t.Fatalf("unexpected recrawl: %+v", cfg.Recrawl)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		data string
	}{
		{name: "unknown json field", file: "c.json", data: `{"recrawl":{"rowz":5}}`},
		{name: "unknown yaml field", file: "c.yml", data: "recrawl:\n  speed: 3\n"},
		{name: "trailing data", file: "c.json", data: `{} {}`},
		{name: "bad yaml", file: "c.yaml", data: "recrawl: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.data)); err == nil {
				t.Fatalf("Decode(%s) expected error", tt.file)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("recrawl.cycle_timeout", "", time.Minute)
	if err != nil || d != time.Minute {
		t.Fatalf("blank = %v, %v; want 1m", d, err)
	}
	d, err = ParseDurationOrDefault("recrawl.cycle_timeout", "30s", time.Minute)
	if err != nil || d != 30*time.Second {
		t.Fatalf("30s = %v, %v; want 30s", d, err)
	}
	if _, err := ParseDuration("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if _, err := ParseDuration("x", "soon"); err == nil {
		t.Fatal("expected error for garbage")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Recrawl: RecrawlConfig{Enabled: true, Rows: 1000}}
	newCfg := &Config{
		Recrawl: RecrawlConfig{Enabled: true, Rows: 50},
		Index:   IndexConfig{Driver: "file", Path: "./idx"},
	}
	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 2 || changed[0] != "index" || changed[1] != "recrawl" {
		t.Fatalf("changed = %v, want [index recrawl]", changed)
	}
	if len(restart) != 1 || restart[0] != "index" {
		t.Fatalf("restart = %v, want [index]", restart)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}

	changed, _, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs changed = %v", changed)
	}
}

func TestReloadSkipsUnchangedAndRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(`{"recrawl":{"enabled":true,"rows":10}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.reload(context.Background()) {
		t.Fatal("unchanged content must not republish")
	}

	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Recrawl.Rows < 0 {
			return errors.New("rows must be >= 0")
		}
		return nil
	})
	write(`{"recrawl":{"enabled":true,"rows":-1}}`)
	if m.reload(context.Background()) {
		t.Fatal("rejected config must not publish")
	}
	if got := m.Get().Recrawl.Rows; got != 10 {
		t.Fatalf("rows after rejection = %d, want 10", got)
	}

	write(`{"recrawl":{"enabled":true,"rows":20}}`)
	if !m.reload(context.Background()) {
		t.Fatal("expected publish")
	}
	select {
	case cfg := <-ch:
		if cfg.Recrawl.Rows != 20 {
			t.Fatalf("published rows = %d, want 20", cfg.Recrawl.Rows)
		}
	default:
		t.Fatal("subscriber received nothing")
	}
}
