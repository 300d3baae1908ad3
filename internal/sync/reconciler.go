package sync

import (
	"fmt"
	"log"
	"strings"

	"github.com/omnivore-app/logseq-omnivore/internal/graph"
	"github.com/omnivore-app/logseq-omnivore/internal/omnivore"
	"github.com/omnivore-app/logseq-omnivore/internal/template"
)

// Header blocks grouping an item's nested content.
const (
	highlightsHeader = "### Highlights"
	contentHeader    = "### Content"
)

// Outcome classifies what SyncItem did to the graph.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeUpdated
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Reconciler applies one item at a time to the graph. It never touches
// blocks it did not create: user edits around synced content survive
// every run, and a highlight once synced is never removed even if the
// remote stops reporting it.
type Reconciler struct {
	store         *graph.Store
	articleTmpl   string
	highlightTmpl string
	dateFormat    string
	order         string
	syncContent   bool
	singlePage    bool
	logger        *log.Logger
}

// ReconcilerOptions configures a Reconciler. Empty templates fall back
// to the defaults.
type ReconcilerOptions struct {
	ArticleTemplate   string
	HighlightTemplate string
	DateFormat        string
	HighlightOrder    string
	SyncContent       bool
	SinglePage        bool
	Logger            *log.Logger
}

// NewReconciler builds a reconciler over the given store.
func NewReconciler(store *graph.Store, opts ReconcilerOptions) *Reconciler {
	articleTmpl := opts.ArticleTemplate
	if articleTmpl == "" {
		articleTmpl = template.DefaultArticleTemplate
	}
	highlightTmpl := opts.HighlightTemplate
	if highlightTmpl == "" {
		highlightTmpl = template.DefaultHighlightTemplate
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[sync] ", log.LstdFlags)
	}
	return &Reconciler{
		store:         store,
		articleTmpl:   articleTmpl,
		highlightTmpl: highlightTmpl,
		dateFormat:    opts.DateFormat,
		order:         opts.HighlightOrder,
		syncContent:   opts.SyncContent,
		singlePage:    opts.SinglePage,
		logger:        logger,
	}
}

// identifier is the substring that correlates an item with its block
// when the entity index has no entry (graphs written before the index
// existed). The full URL rather than the bare slug keeps one slug from
// matching another slug that merely contains it.
func identifier(slug string) string {
	return "https://omnivore.app/me/" + slug
}

// SyncItem reconciles one fetched item against the container. A new
// item is batch-inserted at the top of the container; an existing one
// is updated in place only where its rendered properties differ.
func (r *Reconciler) SyncItem(c *Container, item *omnivore.Item) (Outcome, error) {
	existing, err := r.locate(c, item.Slug)
	if err != nil {
		return OutcomeUnchanged, err
	}

	content, err := template.RenderItem(r.articleTmpl, item, r.dateFormat)
	if err != nil {
		return OutcomeUnchanged, err
	}

	highlights := item.QuotedHighlights()
	SortHighlights(highlights, r.order, item.PageType)

	if existing == nil {
		if err := r.insertItem(c, item, content, highlights); err != nil {
			return OutcomeUnchanged, err
		}
		return OutcomeCreated, nil
	}
	return r.updateItem(c, existing, item, content, highlights)
}

// locate finds the block representing the item, preferring the entity
// index and falling back to identifier-in-content search.
func (r *Reconciler) locate(c *Container, slug string) (*graph.Block, error) {
	b, err := r.store.FindBlockByEntity(c.Page.ID, slug)
	if err != nil || b != nil {
		return b, err
	}
	b, err = r.store.FindBlockInPage(c.Page.ID, identifier(slug))
	if err != nil {
		return nil, err
	}
	// A hit indexed under another slug is a different item whose
	// identifier merely contains this one as a prefix.
	if b != nil && b.EntityID != "" && b.EntityID != slug {
		return nil, nil
	}
	return b, nil
}

// insertItem builds the item's full block tree and lands it at the top
// of the container in one transaction. Fetch order is oldest-saved
// first, so successive top insertions leave the newest item first.
func (r *Reconciler) insertItem(c *Container, item *omnivore.Item, content string, highlights []omnivore.Highlight) error {
	node := &graph.BlockNode{Content: content, EntityID: item.Slug}

	if r.syncContent && item.Content != "" {
		node.Children = append(node.Children, &graph.BlockNode{
			Content:  contentHeader,
			Children: []*graph.BlockNode{{Content: item.Content}},
		})
	}

	if len(highlights) > 0 {
		group := &graph.BlockNode{Content: highlightsHeader}
		for i := range highlights {
			hl := &highlights[i]
			rendered, err := template.RenderHighlight(r.highlightTmpl, hl, item, r.dateFormat)
			if err != nil {
				return err
			}
			group.Children = append(group.Children, &graph.BlockNode{
				Content:  rendered,
				EntityID: hl.ID,
			})
		}
		node.Children = append(node.Children, group)
	}

	if err := r.store.InsertBatch(c.Page.ID, c.Root, []*graph.BlockNode{node}, true); err != nil {
		return fmt.Errorf("failed to insert item %s: %w", item.Slug, err)
	}
	return nil
}

// updateItem reconciles an already-synced item in place.
func (r *Reconciler) updateItem(c *Container, existing *graph.Block, item *omnivore.Item, content string, highlights []omnivore.Highlight) (Outcome, error) {
	mutated := false

	// The property gate avoids rewriting the block (and churning its
	// edit timestamp) when nothing the user can see has changed.
	newProps := graph.ParseProperties(content)
	oldProps := graph.ParseProperties(existing.Content)
	if graph.PropertiesChanged(newProps, oldProps) {
		if err := r.store.UpdateBlock(existing.ID, content, item.Slug); err != nil {
			return OutcomeUnchanged, err
		}
		mutated = true
	} else if existing.EntityID == "" {
		// Backfill the index for blocks located by substring.
		if err := r.store.UpdateBlock(existing.ID, existing.Content, item.Slug); err != nil {
			return OutcomeUnchanged, err
		}
	}

	if r.syncContent && item.Content != "" {
		changed, err := r.reconcileContent(existing, item.Content)
		if err != nil {
			return OutcomeUnchanged, err
		}
		mutated = mutated || changed
	}

	if len(highlights) > 0 {
		changed, err := r.reconcileHighlights(c, existing, item, highlights)
		if err != nil {
			return OutcomeUnchanged, err
		}
		mutated = mutated || changed
	}

	if mutated {
		return OutcomeUpdated, nil
	}
	return OutcomeUnchanged, nil
}

// reconcileContent keeps the raw-content sub-node in line with the
// remote article text.
func (r *Reconciler) reconcileContent(itemBlock *graph.Block, remote string) (bool, error) {
	header, err := r.childWithContent(itemBlock.ID, contentHeader)
	if err != nil {
		return false, err
	}
	if header == nil {
		node := &graph.BlockNode{
			Content:  contentHeader,
			Children: []*graph.BlockNode{{Content: remote}},
		}
		if err := r.store.InsertBatch(itemBlock.PageID, itemBlock.ID, []*graph.BlockNode{node}, false); err != nil {
			return false, fmt.Errorf("failed to insert content node: %w", err)
		}
		return true, nil
	}

	children, err := r.store.ChildBlocks(header.ID)
	if err != nil {
		return false, err
	}
	if len(children) == 0 {
		if _, err := r.store.InsertBlock(header.ID, remote, graph.InsertOpts{}); err != nil {
			return false, err
		}
		return true, nil
	}
	if children[0].Content != remote {
		if err := r.store.UpdateBlock(children[0].ID, remote, ""); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// reconcileHighlights brings the item's highlight children in line with
// the remote set. Highlights accumulate monotonically: ones the remote
// stops reporting stay untouched.
func (r *Reconciler) reconcileHighlights(c *Container, itemBlock *graph.Block, item *omnivore.Item, highlights []omnivore.Highlight) (bool, error) {
	group, created, err := r.ensureHighlightGroup(itemBlock, item.Slug)
	if err != nil {
		return false, err
	}
	mutated := created

	for i := range highlights {
		hl := &highlights[i]
		rendered, err := template.RenderHighlight(r.highlightTmpl, hl, item, r.dateFormat)
		if err != nil {
			return mutated, err
		}

		existing, err := r.locateHighlight(c, group, hl.ID)
		if err != nil {
			return mutated, err
		}
		if existing == nil {
			if _, err := r.store.InsertBlock(group.ID, rendered, graph.InsertOpts{EntityID: hl.ID}); err != nil {
				return mutated, err
			}
			mutated = true
			continue
		}

		if existing.Content != rendered {
			if err := r.store.UpdateBlock(existing.ID, rendered, hl.ID); err != nil {
				return mutated, err
			}
			mutated = true
		}

		changed, err := r.reconcileAnnotation(existing, hl.Annotation)
		if err != nil {
			return mutated, err
		}
		mutated = mutated || changed
	}
	return mutated, nil
}

// ensureHighlightGroup finds or creates the highlights sub-node under
// the item, relocating any highlights that were synced directly under
// the item before the group existed.
func (r *Reconciler) ensureHighlightGroup(itemBlock *graph.Block, slug string) (*graph.Block, bool, error) {
	group, err := r.childWithContent(itemBlock.ID, highlightsHeader)
	if err != nil {
		return nil, false, err
	}
	if group != nil {
		return group, false, nil
	}

	group, err = r.store.InsertBlock(itemBlock.ID, highlightsHeader, graph.InsertOpts{})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create highlight group: %w", err)
	}

	// Highlights written by earlier versions sat directly under the
	// item block. Move them into the new group so lookups keep working.
	children, err := r.store.ChildBlocks(itemBlock.ID)
	if err != nil {
		return nil, false, err
	}
	marker := identifier(slug) + "#"
	for _, child := range children {
		if child.ID == group.ID || child.Content == contentHeader {
			continue
		}
		if child.EntityID != "" || strings.Contains(child.Content, marker) {
			if err := r.store.MoveBlock(child.ID, group.ID); err != nil {
				return nil, false, err
			}
		}
	}
	return group, true, nil
}

// locateHighlight finds the block for one highlight, by index first and
// then by its identifier substring under the group.
func (r *Reconciler) locateHighlight(c *Container, group *graph.Block, highlightID string) (*graph.Block, error) {
	b, err := r.store.FindBlockByEntity(c.Page.ID, highlightID)
	if err != nil || b != nil {
		return b, err
	}
	return r.store.FindBlockUnder(group.ID, highlightID)
}

// reconcileAnnotation appends the remote annotation as a child of the
// highlight when no annotation child exists yet. An existing child is
// left alone even when it differs: the user may have edited it.
func (r *Reconciler) reconcileAnnotation(highlightBlock *graph.Block, annotation string) (bool, error) {
	if annotation == "" {
		return false, nil
	}
	children, err := r.store.ChildBlocks(highlightBlock.ID)
	if err != nil {
		return false, err
	}
	if len(children) > 0 {
		return false, nil
	}
	if _, err := r.store.InsertBlock(highlightBlock.ID, annotation, graph.InsertOpts{}); err != nil {
		return false, err
	}
	return true, nil
}

// childWithContent returns the direct child with exactly the given
// content, or nil.
func (r *Reconciler) childWithContent(parentID int64, content string) (*graph.Block, error) {
	children, err := r.store.ChildBlocks(parentID)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if c.Content == content {
			return c, nil
		}
	}
	return nil, nil
}

// DeleteItem applies one deletion event. In per-item-page mode the
// whole page goes, unless the user has repurposed it as a journal page.
// In single-page mode only the item's own block is removed. Absent
// items make this a no-op, so re-running a deletion window is safe.
func (r *Reconciler) DeleteItem(slug string) (bool, error) {
	b, err := r.store.FindBlockAnywhere(slug, identifier(slug))
	if err != nil || b == nil {
		return false, err
	}
	// Same prefix guard as locate: a fallback hit indexed under another
	// slug is a different item.
	if b.EntityID != "" && b.EntityID != slug {
		return false, nil
	}

	if r.singlePage {
		if err := r.store.RemoveBlock(b.ID); err != nil {
			return false, err
		}
		r.logger.Printf("removed deleted item %s", slug)
		return true, nil
	}

	page, err := r.store.PageOf(b)
	if err != nil {
		return false, err
	}
	if page.Journal {
		r.logger.Printf("skipping deletion of %s: page %q is a journal", slug, page.Name)
		return false, nil
	}
	if err := r.store.DeletePage(page.ID); err != nil {
		return false, err
	}
	r.logger.Printf("removed page %q for deleted item %s", page.Name, slug)
	return true, nil
}
