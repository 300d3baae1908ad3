package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/omnivore-app/logseq-omnivore/internal/config"
	"github.com/omnivore-app/logseq-omnivore/internal/graph"
	"github.com/omnivore-app/logseq-omnivore/internal/omnivore"
)

// fakeRemote serves canned GraphQL responses and counts calls.
type fakeRemote struct {
	mu           sync.Mutex
	searchCalls  int
	updatesCalls int
	searchPages  []string // one JSON response per search call
	updatesBody  string
}

func (f *fakeRemote) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		f.mu.Lock()
		defer f.mu.Unlock()
		if strings.Contains(req.Query, "updatesSince") {
			f.updatesCalls++
			fmt.Fprint(w, f.updatesBody)
			return
		}
		f.searchCalls++
		if f.searchCalls <= len(f.searchPages) {
			fmt.Fprint(w, f.searchPages[f.searchCalls-1])
			return
		}
		fmt.Fprint(w, searchPage(false))
	}
}

func searchPage(hasNext bool, slugs ...string) string {
	var edges []string
	for _, slug := range slugs {
		edges = append(edges, fmt.Sprintf(`{"node":{
			"slug":%q, "title":"Title of %s",
			"originalArticleUrl":"https://example.com/%s",
			"pageType":"ARTICLE",
			"savedAt":"2023-03-01T00:00:00Z",
			"updatedAt":"2023-03-02T00:00:00Z"
		}}`, slug, slug, slug))
	}
	return fmt.Sprintf(`{"data":{"search":{"edges":[%s],"pageInfo":{"hasNextPage":%t}}}}`,
		strings.Join(edges, ","), hasNext)
}

func deletionsPage(slugs ...string) string {
	var edges []string
	for _, slug := range slugs {
		edges = append(edges, fmt.Sprintf(`{"updateReason":"DELETED","node":{"slug":%q}}`, slug))
	}
	return fmt.Sprintf(`{"data":{"updatesSince":{"edges":[%s],"pageInfo":{"hasNextPage":false}}}}`,
		strings.Join(edges, ","))
}

func testSettings(endpoint string) *config.Settings {
	return &config.Settings{
		APIKey:         "test-key",
		Endpoint:       endpoint,
		Filter:         config.FilterAll,
		HighlightOrder: config.OrderTime,
		SinglePage:     true,
		DateFormat:     "yyyy-MM-dd",
	}
}

func newTestRunner(t *testing.T, remote *fakeRemote) (*Runner, *graph.Store) {
	t.Helper()
	server := httptest.NewServer(remote.handler())
	t.Cleanup(server.Close)

	store := newTestStore(t)
	settings := testSettings(server.URL)
	client := omnivore.NewClient(omnivore.ClientOptions{
		Endpoint: server.URL,
		APIKey:   settings.APIKey,
	})
	return NewRunner(client, store, settings, nil, quietLogger()), store
}

// Two item pages then a final short page: the loop issues exactly the
// right number of fetches and the watermark advances on completion.
func TestRunPaginatesAndAdvancesWatermark(t *testing.T) {
	remote := &fakeRemote{
		searchPages: []string{
			searchPage(true, "one", "two"),
			searchPage(false, "three"),
		},
		updatesBody: deletionsPage(),
	}
	runner, store := newTestRunner(t, remote)

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if remote.searchCalls != 2 {
		t.Errorf("search calls = %d, want 2", remote.searchCalls)
	}
	if report.Pages != 2 || report.Created != 3 {
		t.Errorf("report = %+v", report)
	}

	w, _ := store.Watermark()
	if w == "" || w != report.Watermark {
		t.Errorf("watermark = %q, report %q", w, report.Watermark)
	}

	page, _ := store.GetPage("Omnivore")
	if page == nil {
		t.Fatal("container page missing")
	}
	if n, _ := store.PageCount(); n != 1 {
		t.Errorf("PageCount = %d", n)
	}
}

func TestRunAppliesDeletions(t *testing.T) {
	remote := &fakeRemote{
		searchPages: []string{searchPage(false, "stays", "goes")},
		updatesBody: deletionsPage(),
	}
	runner, store := newTestRunner(t, remote)
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	remote.mu.Lock()
	remote.searchCalls = 0
	remote.searchPages = []string{searchPage(false)}
	remote.updatesBody = deletionsPage("goes")
	remote.mu.Unlock()

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if report.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", report.Deleted)
	}

	page, _ := store.GetPage("Omnivore")
	if b, _ := store.FindBlockByEntity(page.ID, "goes"); b != nil {
		t.Error("deleted item still present")
	}
	if b, _ := store.FindBlockByEntity(page.ID, "stays"); b == nil {
		t.Error("surviving item removed")
	}
}

// A transport failure aborts the run and leaves the watermark alone.
func TestRunFailureLeavesWatermark(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	store := newTestStore(t)
	if err := store.SetWatermark("2023-01-01T00:00:00Z"); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}
	client := omnivore.NewClient(omnivore.ClientOptions{Endpoint: server.URL, APIKey: "k"})
	runner := NewRunner(client, store, testSettings(server.URL), nil, quietLogger())

	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatal("Run should fail on transport error")
	}
	w, _ := store.Watermark()
	if w != "2023-01-01T00:00:00Z" {
		t.Errorf("watermark changed to %q after failed run", w)
	}

	// The lock must be released on the failure path too.
	if err := store.AcquireRunLock(); err != nil {
		t.Errorf("run lock still held after failed run: %v", err)
	}
}

func TestRunRejectedWhileInProgress(t *testing.T) {
	remote := &fakeRemote{updatesBody: deletionsPage()}
	runner, store := newTestRunner(t, remote)

	if err := store.AcquireRunLock(); err != nil {
		t.Fatalf("AcquireRunLock failed: %v", err)
	}
	if _, err := runner.Run(context.Background()); !errors.Is(err, graph.ErrSyncInProgress) {
		t.Errorf("Run = %v, want ErrSyncInProgress", err)
	}
	if remote.searchCalls != 0 {
		t.Errorf("fetches happened while locked: %d", remote.searchCalls)
	}
}

func TestRunPreflightFailures(t *testing.T) {
	remote := &fakeRemote{updatesBody: deletionsPage()}
	runner, store := newTestRunner(t, remote)

	runner.settings.APIKey = ""
	if _, err := runner.Run(context.Background()); !errors.Is(err, config.ErrMissingAPIKey) {
		t.Errorf("Run without key = %v, want ErrMissingAPIKey", err)
	}
	runner.settings.APIKey = "test-key"

	runner.settings.ArticleTemplate = "{{#unclosed}}"
	if _, err := runner.Run(context.Background()); err == nil {
		t.Error("Run with malformed template should fail before fetching")
	}
	runner.settings.ArticleTemplate = ""

	if err := store.SetGraphName("other"); err != nil {
		t.Fatalf("SetGraphName failed: %v", err)
	}
	runner.settings.Graph = "main"
	if _, err := runner.Run(context.Background()); err == nil {
		t.Error("Run against wrong graph should fail")
	}

	if remote.searchCalls != 0 {
		t.Errorf("fetches happened despite preflight failures: %d", remote.searchCalls)
	}
}

// Events arrive in lifecycle order on a successful run.
func TestRunEmitsEvents(t *testing.T) {
	remote := &fakeRemote{
		searchPages: []string{searchPage(false, "one")},
		updatesBody: deletionsPage(),
	}
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	store := newTestStore(t)
	settings := testSettings(server.URL)
	client := omnivore.NewClient(omnivore.ClientOptions{Endpoint: server.URL, APIKey: "k"})

	var events []string
	notifier := notifierFunc(func(e Event) { events = append(events, e.Type) })
	runner := NewRunner(client, store, settings, notifier, quietLogger())

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{EventRunStarted, EventPageFetched, EventItemSynced, EventRunComplete}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

type notifierFunc func(Event)

func (f notifierFunc) Notify(e Event) { f(e) }
