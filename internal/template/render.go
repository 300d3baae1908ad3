// Package template renders items and highlights into block content.
//
// Rendering is a pure function of the item, the template, and the
// user's date-format preference. Templates are Mustache; variables the
// view model does not define render as empty, so user templates degrade
// gracefully rather than erroring mid-run.
package template

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cbroglie/mustache"

	"github.com/omnivore-app/logseq-omnivore/internal/omnivore"
)

// DefaultArticleTemplate is the content rendered for a newly synced
// item when the user has not customized the template.
const DefaultArticleTemplate = `[{{{title}}}]({{{omnivoreUrl}}})
collapsed:: true
site:: {{#siteName}}[{{{siteName}}}]{{/siteName}}({{{originalUrl}}})
{{#author}}
author:: {{{author}}}
{{/author}}
{{#hasLabels}}
labels:: {{#labels}}[[{{{name}}}]]{{/labels}}
{{/hasLabels}}
date-saved:: {{{dateSaved}}}
{{#datePublished}}
date-published:: {{{datePublished}}}
{{/datePublished}}`

// DefaultHighlightTemplate is the content rendered for each highlight.
const DefaultHighlightTemplate = `> {{{text}}} [⤴️]({{{highlightUrl}}}) {{#labels}} #[[{{{name}}}]] {{/labels}}

note:: {{{note}}}
`

// DefaultPageName is the default container page for single-page mode.
const DefaultPageName = "Omnivore"

// MaxPageNameLength bounds generated page names to what the store's
// naming rules accept.
const MaxPageNameLength = 100

// Transform is a named text transform usable from templates through
// nested lookups, e.g. {{upper.title}}.
type Transform func(string) string

// Transforms is the registered table of text transforms. Entries added
// here become available to every template without further wiring.
var Transforms = map[string]Transform{
	"lower":      strings.ToLower,
	"upper":      strings.ToUpper,
	"upperfirst": upperFirst,
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ParseTemplate validates a template before a run starts, so malformed
// templates fail at configuration time instead of mid-sync.
func ParseTemplate(tmpl string) error {
	if _, err := mustache.ParseString(tmpl); err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}
	return nil
}

// RenderItem renders an item's block content.
func RenderItem(tmpl string, item *omnivore.Item, dateFormat string) (string, error) {
	view := itemView(item, dateFormat)
	out, err := mustache.Render(tmpl, view)
	if err != nil {
		return "", fmt.Errorf("failed to render item %s: %w", item.Slug, err)
	}
	return out, nil
}

// RenderHighlight renders one highlight's block content.
func RenderHighlight(tmpl string, hl *omnivore.Highlight, item *omnivore.Item, dateFormat string) (string, error) {
	view := map[string]any{
		"text":               FormatQuote(hl.Quote, tmpl),
		"labels":             labelMaps(hl.Labels),
		"hasLabels":          len(hl.Labels) > 0,
		"highlightUrl":       fmt.Sprintf("https://omnivore.app/me/%s#%s", item.Slug, hl.ID),
		"dateHighlighted":    DateReference(hl.UpdatedAt, dateFormat),
		"rawDateHighlighted": FormatDate(hl.UpdatedAt, dateFormat),
		"note":               hl.Annotation,
	}
	attachTransforms(view)

	out, err := mustache.Render(tmpl, view)
	if err != nil {
		return "", fmt.Errorf("failed to render highlight %s: %w", hl.ID, err)
	}
	return out, nil
}

// RenderPageName renders and sanitizes the container page name for an
// item in per-item-page mode. Path separators are replaced and the
// result truncated to the store's naming bound.
func RenderPageName(nameTmpl string, item *omnivore.Item, dateFormat string) (string, error) {
	view := map[string]any{
		"title":       item.Title,
		"date":        FormatDate(item.SavedAt, dateFormat),
		"currentDate": FormatDate(time.Now(), dateFormat),
	}
	out, err := mustache.Render(nameTmpl, view)
	if err != nil {
		return "", fmt.Errorf("failed to render page name: %w", err)
	}
	return SanitizePageName(out), nil
}

// SanitizePageName replaces characters the store rejects in page names
// and truncates to MaxPageNameLength.
func SanitizePageName(name string) string {
	r := strings.NewReplacer("/", "-", "\\", "-", "#", "-", "?", "-")
	name = strings.TrimSpace(r.Replace(name))
	runes := []rune(name)
	if len(runes) > MaxPageNameLength {
		return string(runes[:MaxPageNameLength])
	}
	return name
}

// blankLine matches empty (or whitespace-only) lines including their
// terminator.
var blankLine = regexp.MustCompile(`(?m)^\s*?\n`)

// FormatQuote prepares a highlight quote for the template. When the
// template styles the quote as a blockquote, embedded blank lines are
// converted to blockquote continuation markers so multi-paragraph
// quotes stay part of a single quoted block.
func FormatQuote(quote, tmpl string) string {
	if quote == "" {
		return ""
	}
	if strings.HasPrefix(tmpl, ">") {
		return blankLine.ReplaceAllString(quote, "> ")
	}
	return quote
}

func itemView(item *omnivore.Item, dateFormat string) map[string]any {
	view := map[string]any{
		"title":        item.Title,
		"omnivoreUrl":  "https://omnivore.app/me/" + item.Slug,
		"siteName":     item.SiteNameOrHost(),
		"originalUrl":  item.OriginalArticleURL,
		"author":       item.Author,
		"description":  item.Description,
		"content":      item.Content,
		"note":         item.Note(),
		"type":         string(item.PageType),
		"state":        string(item.State()),
		"labels":       labelMaps(item.Labels),
		"hasLabels":    len(item.Labels) > 0,
		"dateSaved":    DateReference(item.SavedAt, dateFormat),
		"rawDateSaved": FormatDate(item.SavedAt, dateFormat),
	}
	if item.PublishedAt != nil {
		view["datePublished"] = DateReference(*item.PublishedAt, dateFormat)
		view["rawDatePublished"] = FormatDate(*item.PublishedAt, dateFormat)
	}
	if item.ReadAt != nil {
		view["dateRead"] = DateReference(*item.ReadAt, dateFormat)
		view["rawDateRead"] = FormatDate(*item.ReadAt, dateFormat)
	}
	if item.ArchivedAt != nil {
		view["dateArchived"] = DateReference(*item.ArchivedAt, dateFormat)
		view["rawDateArchived"] = FormatDate(*item.ArchivedAt, dateFormat)
	}
	attachTransforms(view)
	return view
}

func labelMaps(labels []omnivore.Label) []map[string]string {
	out := make([]map[string]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, map[string]string{"name": l.Name})
	}
	return out
}

// attachTransforms exposes every registered transform as a nested map
// over the view's string values, so templates can write {{upper.title}}
// without Mustache lambda support.
func attachTransforms(view map[string]any) {
	for name, fn := range Transforms {
		sub := make(map[string]string)
		for key, val := range view {
			if s, ok := val.(string); ok {
				sub[key] = fn(s)
			}
		}
		view[name] = sub
	}
}
