// Package sync implements the reconciliation engine: it pages through
// the remote library, maps each item to a container in the local graph,
// and applies the minimal set of block mutations to bring the mirror in
// line with the remote while preserving user edits around it.
package sync

import (
	"fmt"

	"github.com/omnivore-app/logseq-omnivore/internal/graph"
	"github.com/omnivore-app/logseq-omnivore/internal/omnivore"
	"github.com/omnivore-app/logseq-omnivore/internal/template"
)

// Container is the insertion root for one or more synced items: a page,
// and optionally a header block on it that item nodes nest under. A
// zero Root means items sit at the page's top level.
type Container struct {
	Page *graph.Page
	Root int64
}

// Locator resolves the container an item belongs in, creating it when
// absent. Resolution is idempotent: the same inputs never create a
// duplicate page or header.
type Locator struct {
	store      *graph.Store
	singlePage bool
	pageName   string // literal name in single-page mode, template otherwise
	heading    string // optional header block items nest under
	dateFormat string
}

// NewLocator builds a locator. pageName is the shared page's name in
// single-page mode or the per-item page-name template otherwise; empty
// falls back to the defaults. A non-empty heading makes items nest
// under a header block of that content instead of the page top level.
func NewLocator(store *graph.Store, singlePage bool, pageName, heading, dateFormat string) *Locator {
	return &Locator{
		store:      store,
		singlePage: singlePage,
		pageName:   pageName,
		heading:    heading,
		dateFormat: dateFormat,
	}
}

// ContainerFor resolves the container for one item.
func (l *Locator) ContainerFor(item *omnivore.Item) (*Container, error) {
	if l.singlePage {
		name := l.pageName
		if name == "" {
			name = template.DefaultPageName
		}
		return l.ResolveContainer(name, l.heading)
	}

	nameTmpl := l.pageName
	if nameTmpl == "" {
		nameTmpl = "{{{title}}}"
	}
	name, err := template.RenderPageName(nameTmpl, item, l.dateFormat)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = template.SanitizePageName(item.Title)
	}
	if name == "" {
		name = item.Slug
	}
	return l.ResolveContainer(name, "")
}

// ResolveContainer returns the page with the given name, creating it if
// needed. When firstBlockTitle is non-empty, a header block with that
// content is ensured on the page and becomes the container root.
func (l *Locator) ResolveContainer(name, firstBlockTitle string) (*Container, error) {
	page, err := l.store.CreatePage(name, false)
	if err != nil {
		return nil, err
	}
	if firstBlockTitle == "" {
		return &Container{Page: page}, nil
	}

	header, err := l.store.FindBlockInPage(page.ID, firstBlockTitle)
	if err != nil {
		return nil, err
	}
	if header == nil {
		header, err = l.store.AppendBlock(page.ID, firstBlockTitle, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create container header: %w", err)
		}
	}
	return &Container{Page: page, Root: header.ID}, nil
}
