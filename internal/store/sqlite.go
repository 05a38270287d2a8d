package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/kilnd/internal/block"
	"github.com/starford/kilnd/internal/txn"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	path       TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	checksum   TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '[]',
	links      TEXT NOT NULL DEFAULT '[]',
	properties TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS blocks (
	id            TEXT PRIMARY KEY,
	note_path     TEXT NOT NULL,
	parent_id     TEXT NOT NULL DEFAULT '',
	depth         INTEGER NOT NULL DEFAULT 0,
	sibling_order INTEGER NOT NULL DEFAULT 0,
	heading_level INTEGER NOT NULL DEFAULT 0,
	content_hash  TEXT NOT NULL,
	subtree_hash  TEXT NOT NULL DEFAULT '',
	text          TEXT NOT NULL DEFAULT '',
	position      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_blocks_note ON blocks(note_path);
`

// SQLite is the Backend implementation over one kiln's index database.
type SQLite struct {
	conn      *sql.DB
	dimension int // embedding dimension; 0 disables the vector table
}

// Open opens (or creates) the SQLite database and applies the schema. A
// non-zero dimension also creates the vec0 virtual table for block
// embeddings.
func Open(dsn string, dimension int) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply fts schema: %w", err)
	}
	s := &SQLite{conn: conn, dimension: dimension}
	if err := s.initVectors(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Apply persists one transaction. A Batch runs inside a single SQL
// transaction so the whole group commits or rolls back together.
func (s *SQLite) Apply(ctx context.Context, t txn.Transaction) error {
	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := s.applyOne(sqlTx, t); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *SQLite) applyOne(sqlTx *sql.Tx, t txn.Transaction) error {
	switch t.Op {
	case txn.OpBatch:
		for i := range t.Children {
			if err := s.applyOne(sqlTx, t.Children[i]); err != nil {
				return err
			}
		}
		return nil
	case txn.OpCreate, txn.OpUpdate:
		if t.Note == nil {
			return fmt.Errorf("store: %s transaction %s has no payload", t.Op, t.ID)
		}
		return s.upsertNote(sqlTx, t.Note)
	case txn.OpDelete:
		return s.deleteNote(sqlTx, t.Path)
	default:
		return fmt.Errorf("store: unknown transaction op %q", t.Op)
	}
}

// upsertNote replaces the note row, rewrites its block rows in document
// order, tombstones removed blocks, and stores fresh embeddings. Vector
// rows for unchanged blocks are left alone.
func (s *SQLite) upsertNote(sqlTx *sql.Tx, n *txn.NoteChange) error {
	tagsJSON, _ := json.Marshal(n.Tags)
	linksJSON, _ := json.Marshal(n.Links)
	propsJSON, _ := json.Marshal(n.Properties)

	updatedAt := n.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := sqlTx.Exec(`
		INSERT INTO notes (path, title, checksum, tags, links, properties, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title      = excluded.title,
			checksum   = excluded.checksum,
			tags       = excluded.tags,
			links      = excluded.links,
			properties = excluded.properties,
			updated_at = excluded.updated_at
	`, n.Path, n.Title, n.Checksum, string(tagsJSON), string(linksJSON), string(propsJSON), updatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert note: %w", err)
	}

	for _, id := range n.Removed {
		if err := s.deleteVector(sqlTx, id); err != nil {
			return err
		}
	}

	if _, err := sqlTx.Exec(`DELETE FROM blocks WHERE note_path = ?`, n.Path); err != nil {
		return fmt.Errorf("store: clear blocks: %w", err)
	}
	ftsDeleteNote(sqlTx, n.Path)

	stmt, err := sqlTx.Prepare(`
		INSERT INTO blocks
			(id, note_path, parent_id, depth, sibling_order, heading_level, content_hash, subtree_hash, text, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare block insert: %w", err)
	}
	defer stmt.Close()

	for i := range n.Blocks {
		b := &n.Blocks[i]
		if _, err := stmt.Exec(b.ID, n.Path, b.ParentID, b.Depth, b.Order,
			b.HeadingLevel, b.ContentHash, b.SubtreeHash, b.Text, i); err != nil {
			return fmt.Errorf("store: insert block: %w", err)
		}
		if err := ftsUpsertBlock(sqlTx, b.ID, n.Path, b.Text); err != nil {
			return err
		}
	}

	for id, embedding := range n.Embeddings {
		if err := s.upsertVector(sqlTx, id, embedding); err != nil {
			return err
		}
	}

	return nil
}

// deleteNote removes a note, its blocks, FTS entries, and vectors.
func (s *SQLite) deleteNote(sqlTx *sql.Tx, path string) error {
	rows, err := sqlTx.Query(`SELECT id FROM blocks WHERE note_path = ?`, path)
	if err != nil {
		return fmt.Errorf("store: select blocks for delete: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.deleteVector(sqlTx, id); err != nil {
			return err
		}
	}
	ftsDeleteNote(sqlTx, path)
	if _, err := sqlTx.Exec(`DELETE FROM blocks WHERE note_path = ?`, path); err != nil {
		return fmt.Errorf("store: delete blocks: %w", err)
	}
	if _, err := sqlTx.Exec(`DELETE FROM notes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("store: delete note: %w", err)
	}
	return nil
}

// FileChecksum returns the stored whole-file hash, or empty string when the
// note is unknown.
func (s *SQLite) FileChecksum(path string) (string, error) {
	var cs string
	err := s.conn.QueryRow(`SELECT checksum FROM notes WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: file checksum: %w", err)
	}
	return cs, nil
}

// BlockHashes returns the stored blocks for a note in document order. Text
// is not loaded: the diff engine needs hashes and hierarchy only.
func (s *SQLite) BlockHashes(path string) ([]block.Block, error) {
	rows, err := s.conn.Query(`
		SELECT id, parent_id, depth, sibling_order, heading_level, content_hash, subtree_hash
		FROM blocks
		WHERE note_path = ?
		ORDER BY position
	`, path)
	if err != nil {
		return nil, fmt.Errorf("store: block hashes: %w", err)
	}
	defer rows.Close()

	var out []block.Block
	for rows.Next() {
		var b block.Block
		if err := rows.Scan(&b.ID, &b.ParentID, &b.Depth, &b.Order,
			&b.HeadingLevel, &b.ContentHash, &b.SubtreeHash); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AllChecksums returns every indexed path with its whole-file hash.
func (s *SQLite) AllChecksums() (map[string]string, error) {
	rows, err := s.conn.Query(`SELECT path, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("store: all checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}
