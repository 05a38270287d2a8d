//go:build sqlite_fts5

package store

import (
	"context"
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS blocks_fts USING fts5(
			block_id UNINDEXED,
			note_path UNINDEXED,
			text,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsertBlock(sqlTx *sql.Tx, blockID, notePath, text string) error {
	_, err := sqlTx.Exec(`INSERT INTO blocks_fts (block_id, note_path, text) VALUES (?, ?, ?)`,
		blockID, notePath, text)
	if err != nil {
		return fmt.Errorf("store: upsert fts: %w", err)
	}
	return nil
}

func ftsDeleteNote(sqlTx *sql.Tx, notePath string) {
	_, _ = sqlTx.Exec(`DELETE FROM blocks_fts WHERE note_path = ?`, notePath)
}

// Search performs an FTS5 full-text search over block text and returns
// matching blocks with snippets.
func (s *SQLite) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT note_path,
		       block_id,
		       snippet(blocks_fts, 2, '<b>', '</b>', '...', 64)
		FROM blocks_fts
		WHERE blocks_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.BlockID, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
