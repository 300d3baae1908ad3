package graph

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// PageExport is the JSONL record for one page and its full block tree.
// Used for backup and for moving a graph between stores.
type PageExport struct {
	Name    string       `json:"name"`
	Journal bool         `json:"journal,omitempty"`
	Blocks  []*BlockTree `json:"blocks,omitempty"`
}

// BlockTree mirrors BlockNode with JSON tags for export.
type BlockTree struct {
	Content  string       `json:"content"`
	EntityID string       `json:"entity_id,omitempty"`
	Children []*BlockTree `json:"children,omitempty"`
}

// ExportJSONL writes every page as one JSON line. Block order follows
// stored positions, so a round trip preserves the tree.
func (s *Store) ExportJSONL(w io.Writer) (int, error) {
	rows, err := s.conn.Query(`SELECT id, name, journal FROM pages ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	count := 0
	for rows.Next() {
		var id int64
		var name string
		var journal int
		if err := rows.Scan(&id, &name, &journal); err != nil {
			return count, fmt.Errorf("failed to scan page: %w", err)
		}

		blocks, err := s.exportChildren(id, 0)
		if err != nil {
			return count, err
		}
		rec := PageExport{Name: name, Journal: journal != 0, Blocks: blocks}
		if err := enc.Encode(&rec); err != nil {
			return count, fmt.Errorf("failed to encode page %q: %w", name, err)
		}
		count++
	}
	return count, rows.Err()
}

func (s *Store) exportChildren(pageID, parentID int64) ([]*BlockTree, error) {
	var rows []*Block
	var err error
	if parentID == 0 {
		rows, err = s.queryBlocks(
			`SELECT `+blockCols+` FROM blocks WHERE page_id = ? AND parent_id IS NULL ORDER BY position`, pageID)
	} else {
		rows, err = s.queryBlocks(
			`SELECT `+blockCols+` FROM blocks WHERE parent_id = ? ORDER BY position`, parentID)
	}
	if err != nil {
		return nil, err
	}

	var out []*BlockTree
	for _, b := range rows {
		children, err := s.exportChildren(pageID, b.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, &BlockTree{Content: b.Content, EntityID: b.EntityID, Children: children})
	}
	return out, nil
}

func (s *Store) queryBlocks(query string, args ...any) ([]*Block, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
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

// ImportJSONL reads page records and inserts them. Pages that already
// exist receive the imported blocks appended after their current ones;
// import never overwrites existing content.
func (s *Store) ImportJSONL(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	count := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec PageExport
		if err := json.Unmarshal(raw, &rec); err != nil {
			return count, fmt.Errorf("failed to parse line %d: %w", line, err)
		}
		if rec.Name == "" {
			return count, fmt.Errorf("line %d: page name is required", line)
		}

		page, err := s.CreatePage(rec.Name, rec.Journal)
		if err != nil {
			return count, err
		}
		if err := s.InsertBatch(page.ID, 0, toNodes(rec.Blocks), false); err != nil {
			return count, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("failed to read import stream: %w", err)
	}
	return count, nil
}

func toNodes(trees []*BlockTree) []*BlockNode {
	nodes := make([]*BlockNode, 0, len(trees))
	for _, t := range trees {
		nodes = append(nodes, &BlockNode{
			Content:  t.Content,
			EntityID: t.EntityID,
			Children: toNodes(t.Children),
		})
	}
	return nodes
}
