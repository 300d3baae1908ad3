// Package graph provides the local block store the sync engine writes
// into: a tree of named pages, each holding an ordered tree of content
// blocks, persisted in embedded SQLite.
//
// The store runs in embedded mode with WAL so status queries can read
// while a sync run is writing.
//
// Blocks carry an optional entity_id column, an explicit index from
// remote identifiers to block handles. Lookup prefers the index and
// falls back to content-substring search so graphs written before the
// index existed still correlate.
package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with page/block operations.
type Store struct {
	conn *sql.DB
	path string
}

// Page is a top-level named container of blocks.
type Page struct {
	ID      int64
	Name    string
	Journal bool
}

// Block is one addressable node: text content, an optional remote
// entity identifier, and a position among its siblings.
type Block struct {
	ID       int64
	PageID   int64
	ParentID int64 // 0 for top-level blocks
	Position float64
	Content  string
	EntityID string
}

// BlockNode describes a block (and its children) to be inserted in one
// batch. Used for first-time item inserts so an item, its highlight
// group, and every highlight land in a single transaction.
type BlockNode struct {
	Content  string
	EntityID string
	Children []*BlockNode
}

// InsertOpts controls where InsertBlock places the new block relative
// to the reference block.
type InsertOpts struct {
	// Before places the block before the reference (as first child, or
	// preceding sibling). Default is after/last.
	Before bool
	// Sibling inserts next to the reference block instead of under it.
	Sibling bool
	// EntityID records the remote identifier in the index column.
	EntityID string
}

// Open creates or opens the store at the given path.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates tables and indexes. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		journal INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS blocks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		page_id INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
		parent_id INTEGER REFERENCES blocks(id) ON DELETE CASCADE,
		position REAL NOT NULL,
		content TEXT NOT NULL,
		entity_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		items_synced INTEGER NOT NULL DEFAULT 0,
		items_deleted INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_blocks_page ON blocks(page_id);
	CREATE INDEX IF NOT EXISTS idx_blocks_parent ON blocks(parent_id);
	CREATE INDEX IF NOT EXISTS idx_blocks_entity ON blocks(entity_id);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ---- Pages ----

// GetPage returns the page with the given name, or nil if absent.
func (s *Store) GetPage(name string) (*Page, error) {
	row := s.conn.QueryRow(`SELECT id, name, journal FROM pages WHERE name = ?`, name)
	var p Page
	var journal int
	if err := row.Scan(&p.ID, &p.Name, &journal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get page %q: %w", name, err)
	}
	p.Journal = journal != 0
	return &p, nil
}

// CreatePage creates the page if it does not exist and returns it.
// Calling it twice with the same name never creates a duplicate.
func (s *Store) CreatePage(name string, journal bool) (*Page, error) {
	j := 0
	if journal {
		j = 1
	}
	if _, err := s.conn.Exec(
		`INSERT INTO pages (name, journal, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`, name, j, nowString()); err != nil {
		return nil, fmt.Errorf("failed to create page %q: %w", name, err)
	}
	p, err := s.GetPage(name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("page %q missing after create", name)
	}
	return p, nil
}

// DeletePage removes the page and, via cascade, every block on it.
func (s *Store) DeletePage(id int64) error {
	if _, err := s.conn.Exec(`DELETE FROM pages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete page %d: %w", id, err)
	}
	return nil
}

// PageCount returns the number of pages in the store.
func (s *Store) PageCount() (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

// BlockCount returns the number of blocks in the store.
func (s *Store) BlockCount() (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count blocks: %w", err)
	}
	return n, nil
}

// ---- Blocks ----

func scanBlock(row interface{ Scan(...any) error }) (*Block, error) {
	var b Block
	var parent sql.NullInt64
	var entity sql.NullString
	if err := row.Scan(&b.ID, &b.PageID, &parent, &b.Position, &b.Content, &entity); err != nil {
		return nil, err
	}
	b.ParentID = parent.Int64
	b.EntityID = entity.String
	return &b, nil
}

const blockCols = `id, page_id, parent_id, position, content, entity_id`

// GetBlock returns the block with the given id, or nil if absent.
func (s *Store) GetBlock(id int64) (*Block, error) {
	b, err := scanBlock(s.conn.QueryRow(`SELECT `+blockCols+` FROM blocks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get block %d: %w", id, err)
	}
	return b, nil
}

// FirstBlock returns the first top-level block of a page, or nil if
// the page is empty.
func (s *Store) FirstBlock(pageID int64) (*Block, error) {
	b, err := scanBlock(s.conn.QueryRow(
		`SELECT `+blockCols+` FROM blocks
		 WHERE page_id = ? AND parent_id IS NULL
		 ORDER BY position LIMIT 1`, pageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get first block of page %d: %w", pageID, err)
	}
	return b, nil
}

// ChildBlocks returns the ordered children of a block.
func (s *Store) ChildBlocks(parentID int64) ([]*Block, error) {
	rows, err := s.conn.Query(
		`SELECT `+blockCols+` FROM blocks WHERE parent_id = ? ORDER BY position`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children of block %d: %w", parentID, err)
	}
	defer rows.Close()

	var out []*Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AppendBlock adds a block at the end of a page's top level.
func (s *Store) AppendBlock(pageID int64, content, entityID string) (*Block, error) {
	pos, err := s.edgePosition(pageID, 0, false)
	if err != nil {
		return nil, err
	}
	return s.insertRow(pageID, 0, pos, content, entityID)
}

// InsertBlock places a new block relative to the reference block. With
// Sibling it lands next to the reference; otherwise under it. Before
// selects the leading edge (first child / preceding sibling).
func (s *Store) InsertBlock(refID int64, content string, opts InsertOpts) (*Block, error) {
	ref, err := s.GetBlock(refID)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("reference block %d not found", refID)
	}

	if opts.Sibling {
		pos := ref.Position + 1
		if opts.Before {
			pos = ref.Position - 1
		}
		// Midpoint against the adjacent sibling keeps ordering stable.
		if adj, err := s.adjacentSibling(ref, opts.Before); err != nil {
			return nil, err
		} else if adj != nil {
			pos = (ref.Position + adj.Position) / 2
		}
		return s.insertRow(ref.PageID, ref.ParentID, pos, content, opts.EntityID)
	}

	pos, err := s.edgePosition(ref.PageID, ref.ID, opts.Before)
	if err != nil {
		return nil, err
	}
	return s.insertRow(ref.PageID, ref.ID, pos, content, opts.EntityID)
}

// InsertBatch inserts a list of nodes with nested children under the
// given parent block (0 for page top level) in a single transaction.
// With before set, the batch lands at the leading edge in list order.
func (s *Store) InsertBatch(pageID, parentID int64, nodes []*BlockNode, before bool) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin batch insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	pos, err := s.edgePositionTx(tx, pageID, parentID, before)
	if err != nil {
		return err
	}
	if before {
		// Start far enough back that the last node still lands ahead
		// of existing blocks; positions ascend so list order survives.
		pos -= float64(len(nodes) - 1)
	}

	for i, node := range nodes {
		if err := s.insertNodeTx(tx, pageID, parentID, pos+float64(i), node); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch insert: %w", err)
	}
	return nil
}

func (s *Store) insertNodeTx(tx *sql.Tx, pageID, parentID int64, pos float64, node *BlockNode) error {
	id, err := insertRowTx(tx, pageID, parentID, pos, node.Content, node.EntityID)
	if err != nil {
		return err
	}
	for i, child := range node.Children {
		if err := s.insertNodeTx(tx, pageID, id, float64(i+1), child); err != nil {
			return err
		}
	}
	return nil
}

// UpdateBlock overwrites a block's content, refreshing its entity
// index entry when one is supplied.
func (s *Store) UpdateBlock(id int64, content, entityID string) error {
	var res sql.Result
	var err error
	if entityID != "" {
		res, err = s.conn.Exec(
			`UPDATE blocks SET content = ?, entity_id = ?, updated_at = ? WHERE id = ?`,
			content, entityID, nowString(), id)
	} else {
		res, err = s.conn.Exec(
			`UPDATE blocks SET content = ?, updated_at = ? WHERE id = ?`,
			content, nowString(), id)
	}
	if err != nil {
		return fmt.Errorf("failed to update block %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("block %d not found", id)
	}
	return nil
}

// RemoveBlock deletes a block and, via cascade, its descendants.
func (s *Store) RemoveBlock(id int64) error {
	if _, err := s.conn.Exec(`DELETE FROM blocks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove block %d: %w", id, err)
	}
	return nil
}

// MoveBlock reparents a block to the end of newParentID's children.
func (s *Store) MoveBlock(id, newParentID int64) error {
	b, err := s.GetBlock(id)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("block %d not found", id)
	}
	pos, err := s.edgePosition(b.PageID, newParentID, false)
	if err != nil {
		return err
	}
	var parent any
	if newParentID != 0 {
		parent = newParentID
	}
	if _, err := s.conn.Exec(
		`UPDATE blocks SET parent_id = ?, position = ?, updated_at = ? WHERE id = ?`,
		parent, pos, nowString(), id); err != nil {
		return fmt.Errorf("failed to move block %d: %w", id, err)
	}
	return nil
}

// escapeLike escapes LIKE wildcards so substrings match literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// FindBlockInPage returns the first block on the page whose content
// contains the substring, or nil. Identifier uniqueness makes this
// search authoritative for synced entities.
func (s *Store) FindBlockInPage(pageID int64, substring string) (*Block, error) {
	b, err := scanBlock(s.conn.QueryRow(
		`SELECT `+blockCols+` FROM blocks
		 WHERE page_id = ? AND content LIKE ? ESCAPE '\'
		 ORDER BY id LIMIT 1`, pageID, "%"+escapeLike(substring)+"%"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to search page %d: %w", pageID, err)
	}
	return b, nil
}

// FindBlockUnder is like FindBlockInPage but restricted to the
// descendants of the given block.
func (s *Store) FindBlockUnder(parentID int64, substring string) (*Block, error) {
	b, err := scanBlock(s.conn.QueryRow(
		`WITH RECURSIVE sub(id) AS (
			SELECT id FROM blocks WHERE parent_id = ?
			UNION ALL
			SELECT b.id FROM blocks b JOIN sub ON b.parent_id = sub.id
		 )
		 SELECT `+blockCols+` FROM blocks
		 WHERE id IN (SELECT id FROM sub) AND content LIKE ? ESCAPE '\'
		 ORDER BY id LIMIT 1`, parentID, "%"+escapeLike(substring)+"%"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to search under block %d: %w", parentID, err)
	}
	return b, nil
}

// FindBlockByEntity returns the page's block indexed under the remote
// identifier, or nil.
func (s *Store) FindBlockByEntity(pageID int64, entityID string) (*Block, error) {
	b, err := scanBlock(s.conn.QueryRow(
		`SELECT `+blockCols+` FROM blocks
		 WHERE page_id = ? AND entity_id = ? LIMIT 1`, pageID, entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up entity %q: %w", entityID, err)
	}
	return b, nil
}

// FindBlockAnywhere searches the whole store for the block indexed
// under entityID, falling back to a content search for the substring.
// Used by the deletion pass, where the owning page is not known.
func (s *Store) FindBlockAnywhere(entityID, substring string) (*Block, error) {
	b, err := scanBlock(s.conn.QueryRow(
		`SELECT `+blockCols+` FROM blocks WHERE entity_id = ? LIMIT 1`, entityID))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up entity %q: %w", entityID, err)
	}

	b, err = scanBlock(s.conn.QueryRow(
		`SELECT `+blockCols+` FROM blocks
		 WHERE content LIKE ? ESCAPE '\' ORDER BY id LIMIT 1`,
		"%"+escapeLike(substring)+"%"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to search for %q: %w", substring, err)
	}
	return b, nil
}

// PageOf returns the page a block belongs to.
func (s *Store) PageOf(b *Block) (*Page, error) {
	row := s.conn.QueryRow(`SELECT id, name, journal FROM pages WHERE id = ?`, b.PageID)
	var p Page
	var journal int
	if err := row.Scan(&p.ID, &p.Name, &journal); err != nil {
		return nil, fmt.Errorf("failed to get page %d: %w", b.PageID, err)
	}
	p.Journal = journal != 0
	return &p, nil
}

// ---- internal insert helpers ----

func (s *Store) insertRow(pageID, parentID int64, pos float64, content, entityID string) (*Block, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := insertRowTx(tx, pageID, parentID, pos, content, entityID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit insert: %w", err)
	}
	return &Block{ID: id, PageID: pageID, ParentID: parentID, Position: pos, Content: content, EntityID: entityID}, nil
}

func insertRowTx(tx *sql.Tx, pageID, parentID int64, pos float64, content, entityID string) (int64, error) {
	var parent, entity any
	if parentID != 0 {
		parent = parentID
	}
	if entityID != "" {
		entity = entityID
	}
	now := nowString()
	res, err := tx.Exec(
		`INSERT INTO blocks (page_id, parent_id, position, content, entity_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pageID, parent, pos, content, entity, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert block: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read insert id: %w", err)
	}
	return id, nil
}

// edgePosition computes the position just past the first or last block
// under the parent (0 = page top level).
func (s *Store) edgePosition(pageID, parentID int64, before bool) (float64, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin position query: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	pos, err := s.edgePositionTx(tx, pageID, parentID, before)
	if err != nil {
		return 0, err
	}
	return pos, tx.Commit()
}

func (s *Store) edgePositionTx(tx *sql.Tx, pageID, parentID int64, before bool) (float64, error) {
	agg := "MAX"
	if before {
		agg = "MIN"
	}
	var query string
	var args []any
	if parentID == 0 {
		query = `SELECT ` + agg + `(position) FROM blocks WHERE page_id = ? AND parent_id IS NULL`
		args = []any{pageID}
	} else {
		query = `SELECT ` + agg + `(position) FROM blocks WHERE parent_id = ?`
		args = []any{parentID}
	}

	var edge sql.NullFloat64
	if err := tx.QueryRow(query, args...).Scan(&edge); err != nil {
		return 0, fmt.Errorf("failed to compute position: %w", err)
	}
	if !edge.Valid {
		return 1, nil
	}
	if before {
		return edge.Float64 - 1, nil
	}
	return edge.Float64 + 1, nil
}

func (s *Store) adjacentSibling(ref *Block, before bool) (*Block, error) {
	cmp, order := ">", "ASC"
	if before {
		cmp, order = "<", "DESC"
	}
	var query string
	var args []any
	if ref.ParentID == 0 {
		query = `SELECT ` + blockCols + ` FROM blocks
			 WHERE page_id = ? AND parent_id IS NULL AND position ` + cmp + ` ?
			 ORDER BY position ` + order + ` LIMIT 1`
		args = []any{ref.PageID, ref.Position}
	} else {
		query = `SELECT ` + blockCols + ` FROM blocks
			 WHERE parent_id = ? AND position ` + cmp + ` ?
			 ORDER BY position ` + order + ` LIMIT 1`
		args = []any{ref.ParentID, ref.Position}
	}
	b, err := scanBlock(s.conn.QueryRow(query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find sibling: %w", err)
	}
	return b, nil
}
