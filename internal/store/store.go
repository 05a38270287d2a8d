// Package store persists notes, content-addressed blocks, and block
// embeddings. The pipeline reads previous block hashes through the Backend
// interface and the transaction consumer is the only writer, so the SQLite
// implementation never sees concurrent mutations for one kiln.
package store

import (
	"context"

	"github.com/starford/kilnd/internal/block"
	"github.com/starford/kilnd/internal/txn"
)

// SearchResult is one full-text search hit at block granularity.
type SearchResult struct {
	Path    string `json:"path"`
	BlockID string `json:"block_id"`
	Snippet string `json:"snippet"`
}

// SemanticResult is one vector-similarity hit.
type SemanticResult struct {
	Path       string  `json:"path"`
	BlockID    string  `json:"block_id"`
	Similarity float64 `json:"similarity"`
}

// Backend is the narrow capability surface the pipeline and consumer depend
// on. Concrete backends implement it; tests swap in doubles.
type Backend interface {
	// Apply persists one transaction (or batch) atomically. Only the
	// single per-kiln consumer calls this.
	Apply(ctx context.Context, tx txn.Transaction) error

	// FileChecksum returns the stored whole-file hash for a note, or empty
	// string when the note has never been indexed.
	FileChecksum(path string) (string, error)

	// BlockHashes returns the stored blocks for a note in document order,
	// hashes and hierarchy only, no text.
	BlockHashes(path string) ([]block.Block, error)

	// AllChecksums returns every indexed path with its whole-file hash.
	AllChecksums() (map[string]string, error)

	// Search runs a full-text query over block text.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// SemanticSearch returns the blocks nearest to the given embedding.
	SemanticSearch(ctx context.Context, embedding []float32, limit int) ([]SemanticResult, error)

	Close() error
}

// Verify *SQLite satisfies Backend at compile time.
var _ Backend = (*SQLite)(nil)
