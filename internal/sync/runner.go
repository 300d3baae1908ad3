package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/omnivore-app/logseq-omnivore/internal/config"
	"github.com/omnivore-app/logseq-omnivore/internal/graph"
	"github.com/omnivore-app/logseq-omnivore/internal/omnivore"
	"github.com/omnivore-app/logseq-omnivore/internal/template"
)

// pageSize is how many items each search request fetches.
const pageSize = 100

// Event types emitted to the Notifier.
const (
	EventRunStarted  = "run_started"
	EventPageFetched = "page_fetched"
	EventItemSynced  = "item_synced"
	EventItemDeleted = "item_deleted"
	EventRunComplete = "run_complete"
	EventRunFailed   = "run_failed"
)

// Event is a user-visible progress notification. Fire-and-forget: no
// part of the run's correctness depends on delivery.
type Event struct {
	Type    string    `json:"type"`
	Message string    `json:"message,omitempty"`
	Slug    string    `json:"slug,omitempty"`
	Count   int       `json:"count,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier receives progress events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

// Report summarizes one completed run.
type Report struct {
	StartedAt time.Time
	Duration  time.Duration
	Pages     int
	Created   int
	Updated   int
	Unchanged int
	Deleted   int
	Watermark string
}

// Runner owns the watermark and sequences a run: pre-flight checks,
// the upsert pass, the deletion pass, then the watermark commit. At
// most one run is in flight per store; concurrent triggers get
// graph.ErrSyncInProgress and are dropped, not queued.
type Runner struct {
	client   *omnivore.Client
	store    *graph.Store
	settings *config.Settings
	notifier Notifier
	logger   *log.Logger
}

// NewRunner wires a runner. A nil notifier and logger default to no-op
// and stderr respectively.
func NewRunner(client *omnivore.Client, store *graph.Store, settings *config.Settings, notifier Notifier, logger *log.Logger) *Runner {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[sync] ", log.LstdFlags)
	}
	return &Runner{
		client:   client,
		store:    store,
		settings: settings,
		notifier: notifier,
		logger:   logger,
	}
}

// preflight validates everything that should fail before the first
// fetch: credentials, store identity, and template syntax.
func (r *Runner) preflight() error {
	if err := r.settings.RequireAPIKey(); err != nil {
		return err
	}
	if r.settings.Graph != "" {
		if err := r.store.SetGraphName(r.settings.Graph); err != nil {
			return err
		}
	}
	for _, tmpl := range []string{
		r.settings.ArticleTemplate,
		r.settings.HighlightTemplate,
		r.settings.PageName,
	} {
		if tmpl == "" {
			continue
		}
		if err := template.ParseTemplate(tmpl); err != nil {
			return err
		}
	}
	return nil
}

// Run executes one full sync. The watermark advances to the run's
// completion time, and only after both passes succeed; a failed run
// leaves it untouched so the next run re-applies from the same point.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if err := r.preflight(); err != nil {
		return nil, err
	}

	if err := r.store.AcquireRunLock(); err != nil {
		if errors.Is(err, graph.ErrSyncInProgress) {
			r.notifier.Notify(Event{Type: EventRunFailed, Message: "already syncing", Time: time.Now()})
		}
		return nil, err
	}
	defer func() {
		if err := r.store.ReleaseRunLock(); err != nil {
			r.logger.Printf("failed to release run lock: %v", err)
		}
	}()

	since, err := r.store.Watermark()
	if err != nil {
		return nil, err
	}
	if since == "" && r.settings.SyncAt != "" {
		since = r.settings.SyncAt
	}

	startedAt := time.Now()
	runID, err := r.store.BeginRun(startedAt)
	if err != nil {
		return nil, err
	}

	report := &Report{StartedAt: startedAt}
	r.logger.Printf("starting run (since=%q)", since)
	r.notifier.Notify(Event{Type: EventRunStarted, Time: startedAt})

	runErr := r.runPasses(ctx, since, report)
	if runErr != nil {
		if err := r.store.FinishRun(runID, "failed", report.Created+report.Updated, report.Deleted, runErr.Error()); err != nil {
			r.logger.Printf("failed to record run outcome: %v", err)
		}
		r.notifier.Notify(Event{Type: EventRunFailed, Message: "failed to fetch articles", Time: time.Now()})
		r.logger.Printf("run failed: %v", runErr)
		return nil, runErr
	}

	// Completion time, not the newest item timestamp: items updated
	// while the run was in flight are re-fetched next time.
	report.Watermark = time.Now().UTC().Format(time.RFC3339)
	if err := r.store.SetWatermark(report.Watermark); err != nil {
		return nil, fmt.Errorf("failed to commit watermark: %w", err)
	}
	if err := r.store.FinishRun(runID, "success", report.Created+report.Updated, report.Deleted, ""); err != nil {
		r.logger.Printf("failed to record run outcome: %v", err)
	}

	report.Duration = time.Since(startedAt)
	r.logger.Printf("run complete: %d created, %d updated, %d unchanged, %d deleted in %s",
		report.Created, report.Updated, report.Unchanged, report.Deleted, report.Duration.Round(time.Millisecond))
	r.notifier.Notify(Event{Type: EventRunComplete, Count: report.Created + report.Updated, Time: time.Now()})
	return report, nil
}

// runPasses executes the upsert pass fully, then the deletion pass, so
// an item updated and deleted in the same window is deleted last.
func (r *Runner) runPasses(ctx context.Context, since string, report *Report) error {
	locator := NewLocator(r.store, r.settings.SinglePage, r.settings.PageName, r.settings.Heading, r.settings.DateFormat)
	rec := NewReconciler(r.store, ReconcilerOptions{
		ArticleTemplate:   r.settings.ArticleTemplate,
		HighlightTemplate: r.settings.HighlightTemplate,
		DateFormat:        r.settings.DateFormat,
		HighlightOrder:    r.settings.HighlightOrder,
		SyncContent:       r.settings.SyncContent,
		SinglePage:        r.settings.SinglePage,
		Logger:            r.logger,
	})

	for after := 0; ; after += pageSize {
		items, hasNext, err := r.client.SearchItems(
			ctx, after, pageSize, since, r.settings.QueryFilter(), r.settings.SyncContent, "markdown")
		if err != nil {
			return fmt.Errorf("failed to fetch items: %w", err)
		}
		report.Pages++
		r.notifier.Notify(Event{Type: EventPageFetched, Count: len(items), Time: time.Now()})

		for i := range items {
			item := &items[i]
			container, err := locator.ContainerFor(item)
			if err != nil {
				return fmt.Errorf("failed to resolve container for %s: %w", item.Slug, err)
			}
			outcome, err := rec.SyncItem(container, item)
			if err != nil {
				return fmt.Errorf("failed to sync %s: %w", item.Slug, err)
			}
			switch outcome {
			case OutcomeCreated:
				report.Created++
			case OutcomeUpdated:
				report.Updated++
			default:
				report.Unchanged++
			}
			r.notifier.Notify(Event{Type: EventItemSynced, Slug: item.Slug, Message: outcome.String(), Time: time.Now()})
		}

		if !hasNext {
			break
		}
	}

	for after := 0; ; after += pageSize {
		slugs, hasNext, err := r.client.DeletedItemSlugs(ctx, after, pageSize, since)
		if err != nil {
			return fmt.Errorf("failed to fetch deletions: %w", err)
		}
		for _, slug := range slugs {
			removed, err := rec.DeleteItem(slug)
			if err != nil {
				return fmt.Errorf("failed to delete %s: %w", slug, err)
			}
			if removed {
				report.Deleted++
				r.notifier.Notify(Event{Type: EventItemDeleted, Slug: slug, Time: time.Now()})
			}
		}
		if !hasNext {
			break
		}
	}
	return nil
}
