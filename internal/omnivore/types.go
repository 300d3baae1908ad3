// Package omnivore provides the read-only client for the Omnivore
// GraphQL API.
//
// The client exposes exactly two logical operations:
//  1. Paginated search of saved items, filtered by an updated-since
//     watermark and an optional search query
//  2. Paginated "updates since" feed, filtered locally to deletions
//
// Transport failures propagate to the caller uninterpreted. Retrying is
// the caller's job: a failed run is simply re-applied from the old
// watermark on the next pass.
package omnivore

import (
	"net/url"
	"strings"
	"time"
)

// PageType classifies what kind of page an item was saved from.
type PageType string

const (
	PageTypeArticle    PageType = "ARTICLE"
	PageTypeBook       PageType = "BOOK"
	PageTypeFile       PageType = "FILE"
	PageTypeProfile    PageType = "PROFILE"
	PageTypeWebsite    PageType = "WEBSITE"
	PageTypeHighlights PageType = "HIGHLIGHTS"
	PageTypeUnknown    PageType = "UNKNOWN"
)

// HighlightType distinguishes quoted highlights from standalone notes
// and redactions. Only HIGHLIGHT-typed entries are projected into the
// graph; a NOTE-typed entry surfaces as the owning item's note field.
type HighlightType string

const (
	HighlightTypeHighlight HighlightType = "HIGHLIGHT"
	HighlightTypeNote      HighlightType = "NOTE"
	HighlightTypeRedaction HighlightType = "REDACTION"
)

// UpdateReason tags entries of the updates-since feed.
type UpdateReason string

const (
	UpdateReasonCreated UpdateReason = "CREATED"
	UpdateReasonUpdated UpdateReason = "UPDATED"
	UpdateReasonDeleted UpdateReason = "DELETED"
)

// State is the derived life-cycle state of an item.
type State string

const (
	StateSaved     State = "SAVED"
	StateReading   State = "READING"
	StateCompleted State = "COMPLETED"
	StateArchived  State = "ARCHIVED"
)

// Label is a named tag attached to an item or highlight.
type Label struct {
	Name string `json:"name"`
}

// Highlight is a quoted excerpt of an item, optionally annotated.
//
// Patch is an opaque diff-match-patch text used only to derive a sort
// key (character offset, or a bbox for file-type items).
type Highlight struct {
	ID              string        `json:"id"`
	Quote           string        `json:"quote"`
	Annotation      string        `json:"annotation"`
	Patch           string        `json:"patch"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	Labels          []Label       `json:"labels"`
	Type            HighlightType `json:"type"`
	PositionPercent float64       `json:"highlightPositionPercent"`
}

// Item is a saved unit of content in the Omnivore library. The remote
// side is authoritative; the local graph is a read-mostly projection.
type Item struct {
	ID                     string      `json:"id"`
	Slug                   string      `json:"slug"`
	Title                  string      `json:"title"`
	SiteName               string      `json:"siteName"`
	OriginalArticleURL     string      `json:"originalArticleUrl"`
	Author                 string      `json:"author"`
	Description            string      `json:"description"`
	Content                string      `json:"content"`
	Labels                 []Label     `json:"labels"`
	Highlights             []Highlight `json:"highlights"`
	PageType               PageType    `json:"pageType"`
	SavedAt                time.Time   `json:"savedAt"`
	UpdatedAt              time.Time   `json:"updatedAt"`
	PublishedAt            *time.Time  `json:"publishedAt"`
	ReadAt                 *time.Time  `json:"readAt"`
	ArchivedAt             *time.Time  `json:"archivedAt"`
	IsArchived             bool        `json:"isArchived"`
	ReadingProgressPercent float64     `json:"readingProgressPercent"`
}

// completedReadingThreshold is the progress percentage at or above
// which an item counts as read to completion.
const completedReadingThreshold = 98

// State derives the life-cycle state from the archived flag and the
// reading progress.
func (i *Item) State() State {
	switch {
	case i.IsArchived:
		return StateArchived
	case i.ReadingProgressPercent >= completedReadingThreshold:
		return StateCompleted
	case i.ReadingProgressPercent > 0:
		return StateReading
	default:
		return StateSaved
	}
}

// Note returns the annotation of the item's NOTE-typed highlight, if
// any. Omnivore stores an item-level note as a sub-item of type NOTE.
func (i *Item) Note() string {
	for _, h := range i.Highlights {
		if h.Type == HighlightTypeNote {
			return h.Annotation
		}
	}
	return ""
}

// QuotedHighlights returns the HIGHLIGHT-typed sub-items, which are
// the only ones projected into the graph.
func (i *Item) QuotedHighlights() []Highlight {
	var out []Highlight
	for _, h := range i.Highlights {
		if h.Type == HighlightTypeHighlight {
			out = append(out, h)
		}
	}
	return out
}

// SiteNameOrHost returns the item's site name, falling back to the
// hostname of the original URL with any leading "www." stripped.
func (i *Item) SiteNameOrHost() string {
	if i.SiteName != "" {
		return i.SiteName
	}
	u, err := url.Parse(i.OriginalArticleURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
