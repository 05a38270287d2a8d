package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension for every new connection.
	sqlite_vec.Auto()
}

// initVectors creates the vec0 virtual table when an embedding dimension is
// configured. With dimension 0 the kiln runs without vector search.
func (s *SQLite) initVectors() error {
	if s.dimension <= 0 {
		return nil
	}
	schema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS block_vectors USING vec0(
			block_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, s.dimension)
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("store: create vector table: %w", err)
	}
	return nil
}

func (s *SQLite) upsertVector(sqlTx *sql.Tx, blockID string, embedding []float32) error {
	if s.dimension <= 0 || len(embedding) == 0 {
		return nil
	}
	payload, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("store: marshal embedding: %w", err)
	}
	if _, err := sqlTx.Exec(`DELETE FROM block_vectors WHERE block_id = ?`, blockID); err != nil {
		return fmt.Errorf("store: clear vector: %w", err)
	}
	if _, err := sqlTx.Exec(`INSERT INTO block_vectors (block_id, embedding) VALUES (?, ?)`,
		blockID, string(payload)); err != nil {
		return fmt.Errorf("store: insert vector: %w", err)
	}
	return nil
}

func (s *SQLite) deleteVector(sqlTx *sql.Tx, blockID string) error {
	if s.dimension <= 0 {
		return nil
	}
	if _, err := sqlTx.Exec(`DELETE FROM block_vectors WHERE block_id = ?`, blockID); err != nil {
		return fmt.Errorf("store: delete vector: %w", err)
	}
	return nil
}

// SemanticSearch returns the blocks nearest to the given embedding by
// cosine distance.
func (s *SQLite) SemanticSearch(ctx context.Context, embedding []float32, limit int) ([]SemanticResult, error) {
	if s.dimension <= 0 {
		return nil, fmt.Errorf("store: vector search disabled (no embedding dimension)")
	}
	if limit <= 0 {
		limit = 20
	}
	payload, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("store: marshal query embedding: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT v.block_id,
		       b.note_path,
		       vec_distance_cosine(v.embedding, ?) AS distance
		FROM block_vectors v
		JOIN blocks b ON b.id = v.block_id
		ORDER BY distance ASC
		LIMIT ?
	`, string(payload), limit)
	if err != nil {
		return nil, fmt.Errorf("store: semantic search: %w", err)
	}
	defer rows.Close()

	var out []SemanticResult
	for rows.Next() {
		var r SemanticResult
		var distance float64
		if err := rows.Scan(&r.BlockID, &r.Path, &distance); err != nil {
			return nil, err
		}
		r.Similarity = 1.0 - distance
		out = append(out, r)
	}
	return out, rows.Err()
}
