package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// FileState is the per-file bookkeeping used for delta detection: the
// content hash seen at the last successful ingestion and the ordered chunk
// ids produced from it.
type FileState struct {
	Path        string
	ContentHash string
	ChunkIDs    []string
}

// SourceStats summarizes the indexed state of one document source.
type SourceStats struct {
	Source string `json:"source"`
	Files  int    `json:"files"`
	Chunks int    `json:"chunks"`
}

// StateStore persists FileState rows in SQLite so delta indexing stays
// correct across restarts. Rows are written only after the corresponding
// chunks were successfully stored.
type StateStore struct {
	db  *sql.DB
	dir string
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS file_index (
	source       TEXT NOT NULL,
	file_path    TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	chunk_ids    TEXT NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (source, file_path)
);
CREATE INDEX IF NOT EXISTS idx_file_index_source ON file_index(source);
`

// OpenState opens (or creates) the state database at path.
func OpenState(path string) (*StateStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	// One writer at a time; ingestion serializes writes anyway and this
	// avoids SQLITE_BUSY from the per-file goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec(stateSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing state schema: %w", err)
	}

	return &StateStore{db: db, dir: filepath.Dir(path)}, nil
}

// Dir returns the directory holding the state database. Ingestion lock
// files live here too, so they share the database's lifetime instead of a
// tmp cleaner's.
func (s *StateStore) Dir() string {
	return s.dir
}

// Load returns all file states for a source, keyed by file path.
func (s *StateStore) Load(ctx context.Context, source string) (map[string]FileState, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT file_path, content_hash, chunk_ids FROM file_index WHERE source = ?", source)
	if err != nil {
		return nil, fmt.Errorf("loading file state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	states := make(map[string]FileState)
	for rows.Next() {
		var fs FileState
		var chunkIDs string
		if err := rows.Scan(&fs.Path, &fs.ContentHash, &chunkIDs); err != nil {
			return nil, fmt.Errorf("scanning file state: %w", err)
		}
		if err := json.Unmarshal([]byte(chunkIDs), &fs.ChunkIDs); err != nil {
			return nil, fmt.Errorf("decoding chunk ids for %q: %w", fs.Path, err)
		}
		states[fs.Path] = fs
	}
	return states, rows.Err()
}

// Put records the state of one file after its chunks were written.
func (s *StateStore) Put(ctx context.Context, source string, fs FileState) error {
	chunkIDs, err := json.Marshal(fs.ChunkIDs)
	if err != nil {
		return fmt.Errorf("encoding chunk ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO file_index (source, file_path, content_hash, chunk_ids, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source, file_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			chunk_ids = excluded.chunk_ids,
			updated_at = excluded.updated_at`,
		source, fs.Path, fs.ContentHash, string(chunkIDs), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storing file state for %q: %w", fs.Path, err)
	}
	return nil
}

// Delete drops the state row for one file.
func (s *StateStore) Delete(ctx context.Context, source, path string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM file_index WHERE source = ? AND file_path = ?", source, path); err != nil {
		return fmt.Errorf("deleting file state for %q: %w", path, err)
	}
	return nil
}

// Stats reports file and chunk counts per source.
func (s *StateStore) Stats(ctx context.Context) ([]SourceStats, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT source, file_path, chunk_ids FROM file_index ORDER BY source")
	if err != nil {
		return nil, fmt.Errorf("loading stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	bySource := make(map[string]*SourceStats)
	var order []string
	for rows.Next() {
		var source, path, chunkIDs string
		if err := rows.Scan(&source, &path, &chunkIDs); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		st, ok := bySource[source]
		if !ok {
			st = &SourceStats{Source: source}
			bySource[source] = st
			order = append(order, source)
		}
		st.Files++
		var ids []string
		if err := json.Unmarshal([]byte(chunkIDs), &ids); err == nil {
			st.Chunks += len(ids)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]SourceStats, 0, len(order))
	for _, source := range order {
		stats = append(stats, *bySource[source])
	}
	return stats, nil
}

// Close closes the underlying database.
func (s *StateStore) Close() error {
	return s.db.Close()
}
