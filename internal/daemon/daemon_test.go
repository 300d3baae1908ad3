package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omnivore-app/logseq-omnivore/internal/config"
)

func testConfig() *Config {
	return &Config{
		DebounceInterval: 10 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

func TestStartRunsImmediately(t *testing.T) {
	var runs atomic.Int32
	d, err := NewWithConfig(&config.Settings{}, func(ctx context.Context, s *config.Settings) error {
		runs.Add(1)
		return nil
	}, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, func() bool { return runs.Load() >= 1 })
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start returned %v", err)
	}
}

func TestScheduledRuns(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 20 * time.Millisecond

	var runs atomic.Int32
	d, err := NewWithConfig(&config.Settings{}, func(ctx context.Context, s *config.Settings) error {
		runs.Add(1)
		return nil
	}, cfg)
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Immediate run plus at least one scheduled tick.
	waitFor(t, func() bool { return runs.Load() >= 2 })
	cancel()
	<-done
}

func TestFrequencyZeroDisablesSchedule(t *testing.T) {
	var runs atomic.Int32
	d, err := NewWithConfig(&config.Settings{FrequencyMinutes: 0}, func(ctx context.Context, s *config.Settings) error {
		runs.Add(1)
		return nil
	}, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, func() bool { return runs.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want only the immediate one", got)
	}
}

func TestConfigReload(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "omnisync.yaml")
	if err := os.WriteFile(file, []byte("api_key: old\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	settings, err := config.Load(file)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	d, err := NewWithConfig(settings, func(ctx context.Context, s *config.Settings) error {
		return nil
	}, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() { cancel(); <-done })

	waitFor(t, func() bool { return d.watcher != nil })

	if err := os.WriteFile(file, []byte("api_key: new\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	waitFor(t, func() bool { return d.Settings().APIKey == "new" })
}

func TestReloadKeepsSettingsOnBrokenConfig(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "omnisync.yaml")
	if err := os.WriteFile(file, []byte("api_key: good\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	settings, err := config.Load(file)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	d, err := NewWithConfig(settings, func(ctx context.Context, s *config.Settings) error {
		return nil
	}, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	d.reloadConfig(filepath.Join(dir, "missing.yaml"))
	if d.Settings().APIKey != "good" {
		t.Errorf("settings replaced after failed reload: %q", d.Settings().APIKey)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
