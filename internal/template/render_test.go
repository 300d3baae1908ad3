package template

import (
	"strings"
	"testing"
	"time"

	"github.com/omnivore-app/logseq-omnivore/internal/omnivore"
)

func testItem() *omnivore.Item {
	published := time.Date(2023, 4, 10, 8, 0, 0, 0, time.UTC)
	return &omnivore.Item{
		ID:                 "item-1",
		Slug:               "go-proverbs-123abc",
		Title:              "Go Proverbs",
		SiteName:           "go.dev",
		OriginalArticleURL: "https://go.dev/blog/proverbs",
		Author:             "Rob Pike",
		Labels:             []omnivore.Label{{Name: "go"}, {Name: "talks"}},
		SavedAt:            time.Date(2023, 5, 1, 12, 30, 0, 0, time.UTC),
		PublishedAt:        &published,
		PageType:           omnivore.PageTypeArticle,
	}
}

func TestRenderItemDefaultTemplate(t *testing.T) {
	got, err := RenderItem(DefaultArticleTemplate, testItem(), "yyyy-MM-dd")
	if err != nil {
		t.Fatalf("RenderItem failed: %v", err)
	}

	wantParts := []string{
		"[Go Proverbs](https://omnivore.app/me/go-proverbs-123abc)",
		"collapsed:: true",
		"site:: [go.dev](https://go.dev/blog/proverbs)",
		"author:: Rob Pike",
		"labels:: [[go]][[talks]]",
		"date-saved:: [[2023-05-01]]",
		"date-published:: [[2023-04-10]]",
	}
	for _, part := range wantParts {
		if !strings.Contains(got, part) {
			t.Errorf("rendered item missing %q\ngot:\n%s", part, got)
		}
	}
}

func TestRenderItemOmitsMissingSections(t *testing.T) {
	item := testItem()
	item.Author = ""
	item.Labels = nil
	item.PublishedAt = nil

	got, err := RenderItem(DefaultArticleTemplate, item, "yyyy-MM-dd")
	if err != nil {
		t.Fatalf("RenderItem failed: %v", err)
	}
	for _, absent := range []string{"author::", "labels::", "date-published::"} {
		if strings.Contains(got, absent) {
			t.Errorf("rendered item should not contain %q\ngot:\n%s", absent, got)
		}
	}
}

func TestRenderItemSiteNameFallback(t *testing.T) {
	item := testItem()
	item.SiteName = ""
	item.OriginalArticleURL = "https://www.example.org/a"

	got, err := RenderItem(DefaultArticleTemplate, item, "yyyy-MM-dd")
	if err != nil {
		t.Fatalf("RenderItem failed: %v", err)
	}
	if !strings.Contains(got, "[example.org](https://www.example.org/a)") {
		t.Errorf("expected hostname fallback for site name, got:\n%s", got)
	}
}

func TestRenderItemUnknownVariableIsEmpty(t *testing.T) {
	got, err := RenderItem("before {{{nosuchvar}}} after", testItem(), "yyyy-MM-dd")
	if err != nil {
		t.Fatalf("RenderItem failed: %v", err)
	}
	if got != "before  after" {
		t.Errorf("expected unknown variable to render empty, got %q", got)
	}
}

func TestRenderItemTransforms(t *testing.T) {
	got, err := RenderItem("{{upper.title}} / {{lower.siteName}}", testItem(), "yyyy-MM-dd")
	if err != nil {
		t.Fatalf("RenderItem failed: %v", err)
	}
	if got != "GO PROVERBS / go.dev" {
		t.Errorf("unexpected transform output: %q", got)
	}
}

func TestRenderHighlight(t *testing.T) {
	hl := &omnivore.Highlight{
		ID:         "hl-9",
		Quote:      "Errors are values.",
		Annotation: "remember this",
		UpdatedAt:  time.Date(2023, 5, 2, 9, 0, 0, 0, time.UTC),
		Labels:     []omnivore.Label{{Name: "wisdom"}},
	}

	got, err := RenderHighlight(DefaultHighlightTemplate, hl, testItem(), "yyyy-MM-dd")
	if err != nil {
		t.Fatalf("RenderHighlight failed: %v", err)
	}
	for _, part := range []string{
		"> Errors are values.",
		"https://omnivore.app/me/go-proverbs-123abc#hl-9",
		"#[[wisdom]]",
		"note:: remember this",
	} {
		if !strings.Contains(got, part) {
			t.Errorf("rendered highlight missing %q\ngot:\n%s", part, got)
		}
	}
}

func TestFormatQuoteBlockquoteContinuation(t *testing.T) {
	quote := "first paragraph\n\nsecond paragraph"
	got := FormatQuote(quote, DefaultHighlightTemplate)
	if got != "first paragraph\n> second paragraph" {
		t.Errorf("expected blank line converted to continuation, got %q", got)
	}

	// No blockquote styling: quote passes through untouched.
	if got := FormatQuote(quote, "{{{text}}}"); got != quote {
		t.Errorf("expected quote unchanged for non-blockquote template, got %q", got)
	}
}

func TestRenderPageName(t *testing.T) {
	got, err := RenderPageName("{{{title}}} ({{{date}}})", testItem(), "yyyy-MM-dd")
	if err != nil {
		t.Fatalf("RenderPageName failed: %v", err)
	}
	if got != "Go Proverbs (2023-05-01)" {
		t.Errorf("unexpected page name %q", got)
	}
}

func TestSanitizePageName(t *testing.T) {
	item := testItem()
	item.Title = "a/b\\c#d?e"
	got, err := RenderPageName("{{{title}}}", item, "yyyy-MM-dd")
	if err != nil {
		t.Fatalf("RenderPageName failed: %v", err)
	}
	if got != "a-b-c-d-e" {
		t.Errorf("expected separators replaced, got %q", got)
	}

	long := strings.Repeat("x", 250)
	if got := SanitizePageName(long); len(got) != MaxPageNameLength {
		t.Errorf("expected truncation to %d, got %d", MaxPageNameLength, len(got))
	}
}

func TestParseTemplate(t *testing.T) {
	if err := ParseTemplate(DefaultArticleTemplate); err != nil {
		t.Errorf("default article template should parse: %v", err)
	}
	if err := ParseTemplate(DefaultHighlightTemplate); err != nil {
		t.Errorf("default highlight template should parse: %v", err)
	}
	if err := ParseTemplate("{{#unclosed}}"); err == nil {
		t.Error("expected error for unclosed section")
	}
}
