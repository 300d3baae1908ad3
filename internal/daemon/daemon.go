// Package daemon runs the sync engine on a schedule.
//
// The daemon:
// 1. Triggers a sync run immediately on startup
// 2. Re-triggers on the configured interval (0 disables)
// 3. Watches the config file and restarts the schedule on changes
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/omnivore-app/logseq-omnivore/internal/config"
	"github.com/omnivore-app/logseq-omnivore/internal/graph"
)

// RunFunc executes one sync run with the given settings.
type RunFunc func(ctx context.Context, settings *config.Settings) error

// Config holds daemon tuning knobs.
type Config struct {
	// Interval overrides the settings' sync frequency when positive.
	// Zero means use settings.Frequency().
	Interval time.Duration

	// DebounceInterval is how long to wait after a config file event
	// before reloading, batching rapid editor writes together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules sync runs and reacts to config changes.
type Daemon struct {
	run    RunFunc
	config *Config

	settings   *config.Settings
	settingsMu sync.Mutex

	watcher *fsnotify.Watcher
	reload  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon with default configuration.
func New(settings *config.Settings, run RunFunc) (*Daemon, error) {
	return NewWithConfig(settings, run, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(settings *config.Settings, run RunFunc, cfg *Config) (*Daemon, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}
	if run == nil {
		return nil, fmt.Errorf("run function cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		run:      run,
		config:   cfg,
		settings: settings,
		reload:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins scheduling. It triggers one run immediately, then
// re-triggers on the interval, and blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if file := d.Settings().ConfigFile; file != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = watcher
		// Watch the directory: editors replace files via rename, which
		// a watch on the file itself would lose.
		if err := d.watcher.Add(filepath.Dir(file)); err != nil {
			return fmt.Errorf("failed to watch config directory: %w", err)
		}
		d.config.Logger.Printf("Watching config: %s", file)

		d.wg.Add(1)
		go d.watchConfigEvents(file)
	}

	d.runOnce()

	d.wg.Add(1)
	go d.scheduleRuns()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Settings returns the current settings snapshot.
func (d *Daemon) Settings() *config.Settings {
	d.settingsMu.Lock()
	defer d.settingsMu.Unlock()
	return d.settings
}

func (d *Daemon) setSettings(s *config.Settings) {
	d.settingsMu.Lock()
	d.settings = s
	d.settingsMu.Unlock()
}

// interval returns the effective schedule interval; zero disables.
func (d *Daemon) interval() time.Duration {
	if d.config.Interval > 0 {
		return d.config.Interval
	}
	return d.Settings().Frequency()
}

// scheduleRuns re-triggers the run on the configured interval. A
// reload signal recomputes the interval, restarting the schedule.
func (d *Daemon) scheduleRuns() {
	defer d.wg.Done()

	for {
		interval := d.interval()
		var tick <-chan time.Time
		var timer *time.Timer
		if interval > 0 {
			timer = time.NewTimer(interval)
			tick = timer.C
		} else {
			d.config.Logger.Println("Scheduling disabled (frequency 0)")
		}

		select {
		case <-d.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-d.reload:
			if timer != nil {
				timer.Stop()
			}
			d.config.Logger.Println("Schedule restarted after config change")
		case <-tick:
			d.runOnce()
		}
	}
}

// runOnce executes one sync run. An overlapping trigger is dropped,
// not queued.
func (d *Daemon) runOnce() {
	err := d.run(d.ctx, d.Settings())
	switch {
	case err == nil:
	case errors.Is(err, graph.ErrSyncInProgress):
		d.config.Logger.Println("Previous run still active, skipping")
	case errors.Is(err, context.Canceled):
	default:
		d.config.Logger.Printf("Run failed: %v", err)
	}
}

// watchConfigEvents reloads settings when the config file changes.
func (d *Daemon) watchConfigEvents(file string) {
	defer d.wg.Done()

	var pending *time.Timer
	for {
		select {
		case <-d.ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(file) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(d.config.DebounceInterval, func() {
				d.reloadConfig(file)
			})

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// reloadConfig re-reads the config file and restarts the schedule. A
// broken config is logged and ignored; the previous settings stay.
func (d *Daemon) reloadConfig(file string) {
	settings, err := config.Load(file)
	if err != nil {
		d.config.Logger.Printf("Config reload failed, keeping previous settings: %v", err)
		return
	}
	d.setSettings(settings)
	d.config.Logger.Println("Config reloaded")

	select {
	case d.reload <- struct{}{}:
	default:
	}
}
