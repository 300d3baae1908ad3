package graph

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Meta keys. The watermark and the run flag live next to the tree they
// guard so both commit through the same database.
const (
	metaWatermark = "watermark"
	metaRunFlag   = "sync_in_progress"
	metaGraphName = "graph_name"
)

// ErrSyncInProgress is returned by AcquireRunLock when another run
// holds the flag. Triggers are dropped, never queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// Watermark returns the last successfully synced position, or the
// empty string when no run has completed (forces a full sync).
func (s *Store) Watermark() (string, error) {
	return s.getMeta(metaWatermark)
}

// SetWatermark records the new watermark. Callers must only invoke
// this after a run has fully completed.
func (s *Store) SetWatermark(v string) error {
	return s.setMeta(metaWatermark, v)
}

// ClearWatermark resets the watermark, forcing the next run to resync
// from the beginning.
func (s *Store) ClearWatermark() error {
	return s.deleteMeta(metaWatermark)
}

// AcquireRunLock atomically flips the in-progress flag. It returns
// ErrSyncInProgress when a run is already active.
func (s *Store) AcquireRunLock() error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin lock acquire: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var v string
	err = tx.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaRunFlag).Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read run flag: %w", err)
	}
	if v == "1" {
		return ErrSyncInProgress
	}

	if _, err := tx.Exec(
		`INSERT INTO meta (key, value) VALUES (?, '1')
		 ON CONFLICT(key) DO UPDATE SET value = '1'`, metaRunFlag); err != nil {
		return fmt.Errorf("failed to set run flag: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lock acquire: %w", err)
	}
	return nil
}

// ReleaseRunLock clears the in-progress flag. Safe to call when the
// flag is already clear.
func (s *Store) ReleaseRunLock() error {
	return s.deleteMeta(metaRunFlag)
}

// ClearStaleRunLock is called once at startup: a flag left set by an
// unclean shutdown is forcibly reset so the next run can proceed. No
// partial-run resumption is attempted.
func (s *Store) ClearStaleRunLock() error {
	return s.deleteMeta(metaRunFlag)
}

// GraphName returns the identity recorded for this store.
func (s *Store) GraphName() (string, error) {
	return s.getMeta(metaGraphName)
}

// SetGraphName records the store identity on first use. An existing,
// different identity is an error: syncing into the wrong graph must
// fail loudly, not silently mix content.
func (s *Store) SetGraphName(name string) error {
	existing, err := s.getMeta(metaGraphName)
	if err != nil {
		return err
	}
	if existing != "" && existing != name {
		return fmt.Errorf("store belongs to graph %q, not %q", existing, name)
	}
	return s.setMeta(metaGraphName, name)
}

func (s *Store) getMeta(key string) (string, error) {
	var v string
	err := s.conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %q: %w", key, err)
	}
	return v, nil
}

func (s *Store) setMeta(key, value string) error {
	if _, err := s.conn.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
		return fmt.Errorf("failed to write meta %q: %w", key, err)
	}
	return nil
}

func (s *Store) deleteMeta(key string) error {
	if _, err := s.conn.Exec(`DELETE FROM meta WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete meta %q: %w", key, err)
	}
	return nil
}

// RunRecord is one row of the sync run history.
type RunRecord struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       string // running, success, failed
	ItemsSynced  int
	ItemsDeleted int
	Error        string
}

// BeginRun records the start of a run and returns its id.
func (s *Store) BeginRun(startedAt time.Time) (int64, error) {
	res, err := s.conn.Exec(
		`INSERT INTO sync_runs (started_at, status) VALUES (?, 'running')`,
		startedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to record run start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	return id, nil
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(id int64, status string, itemsSynced, itemsDeleted int, runErr string) error {
	if _, err := s.conn.Exec(
		`UPDATE sync_runs SET finished_at = ?, status = ?, items_synced = ?, items_deleted = ?, error = ?
		 WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), status, itemsSynced, itemsDeleted, runErr, id); err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// RecentRuns returns the latest n runs, newest first.
func (s *Store) RecentRuns(n int) ([]RunRecord, error) {
	rows, err := s.conn.Query(
		`SELECT id, started_at, finished_at, status, items_synced, items_deleted, error
		 FROM sync_runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var started string
		var finished, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status, &r.ItemsSynced, &r.ItemsDeleted, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}
