// Package pipeline turns one changed Markdown file into a storage
// transaction through five strictly sequential phases: quick filter, parse,
// hierarchy + diff, enrich, store. Runs for different files share nothing
// but the transaction queue and read access to stored block hashes, so any
// number of them may execute concurrently.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/kilnd/internal/block"
	"github.com/starford/kilnd/internal/checksum"
	"github.com/starford/kilnd/internal/parser"
	"github.com/starford/kilnd/internal/txn"
)

// Status is the terminal state of one pipeline run.
type Status string

const (
	// StatusSuccess means a transaction was accepted by the queue. It
	// promises eventual persistence, not durability.
	StatusSuccess Status = "success"
	// StatusSkipped means the whole-file hash matched the stored one; no
	// parse, diff, or enrich work ran.
	StatusSkipped Status = "skipped"
	// StatusNoChanges means the file bytes changed but no block did
	// (e.g. a metadata-only edit).
	StatusNoChanges Status = "no_changes"
)

// Result is returned to the caller after a pipeline run.
type Result struct {
	Status              Status `json:"status"`
	ChangedBlocks       int    `json:"changed_blocks"`
	EmbeddingsGenerated bool   `json:"embeddings_generated"`
}

// Metrics carries per-phase durations for one run.
type Metrics struct {
	QuickFilter time.Duration `json:"quick_filter"`
	Parse       time.Duration `json:"parse"`
	Diff        time.Duration `json:"diff"`
	Enrich      time.Duration `json:"enrich"`
	Store       time.Duration `json:"store"`
	Total       time.Duration `json:"total"`
}

// Reader is the file source, usually a vault.FS.
type Reader interface {
	Read(path string) ([]byte, error)
}

// Hashes is the read-only slice of the storage backend the pipeline needs.
type Hashes interface {
	FileChecksum(path string) (string, error)
	BlockHashes(path string) ([]block.Block, error)
}

// Embedder vectorizes block texts. A nil Embedder disables enrichment.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}

// Enqueuer is the producer side of the transaction queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, tx txn.Transaction) error
}

// Pipeline processes files for one kiln.
type Pipeline struct {
	kilnRoot string
	files    Reader
	hashes   Hashes
	embedder Embedder
	queue    Enqueuer
	logger   *slog.Logger
}

// New creates a pipeline. embedder may be nil when embeddings are disabled.
func New(kilnRoot string, files Reader, hashes Hashes, embedder Embedder, queue Enqueuer, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		kilnRoot: kilnRoot,
		files:    files,
		hashes:   hashes,
		embedder: embedder,
		queue:    queue,
		logger:   logger,
	}
}

// Process runs the five phases for path.
func (p *Pipeline) Process(ctx context.Context, path string) (*Result, error) {
	res, _, err := p.ProcessWithMetrics(ctx, path)
	return res, err
}

// ProcessWithMetrics runs the five phases for path and reports per-phase
// durations. Failures in phases 1-4 are side-effect free: nothing has been
// persisted or enqueued yet. A queue-full error from phase 5 is
// backpressure, not corruption.
func (p *Pipeline) ProcessWithMetrics(ctx context.Context, path string) (*Result, *Metrics, error) {
	metrics := &Metrics{}
	started := time.Now()
	defer func() { metrics.Total = time.Since(started) }()

	// Phase 1: quick filter on the whole-file hash.
	phase := time.Now()
	data, err := p.files.Read(path)
	if err != nil {
		return nil, metrics, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	fileHash := checksum.Sum(data)
	prevHash, err := p.hashes.FileChecksum(path)
	if err != nil {
		return nil, metrics, fmt.Errorf("pipeline: previous checksum %s: %w", path, err)
	}
	metrics.QuickFilter = time.Since(phase)
	if fileHash == prevHash {
		return &Result{Status: StatusSkipped}, metrics, nil
	}

	// Phase 2: parse.
	phase = time.Now()
	parsed, err := parser.Parse(data)
	if err != nil {
		return nil, metrics, fmt.Errorf("pipeline: parse %s: %w", path, err)
	}
	metrics.Parse = time.Since(phase)

	// Phase 3: hierarchy + merkle diff against the stored hashes.
	phase = time.Now()
	tree := block.NewTree(block.AssignHierarchy(path, parsed.Blocks))
	prevBlocks, err := p.hashes.BlockHashes(path)
	if err != nil {
		return nil, metrics, fmt.Errorf("pipeline: previous blocks %s: %w", path, err)
	}
	changed := block.Diff(block.RestoreTree(prevBlocks), tree)
	metrics.Diff = time.Since(phase)
	if changed.Empty() {
		return &Result{Status: StatusNoChanges}, metrics, nil
	}

	// Phase 4: enrich added/modified blocks. Removed blocks are tombstoned
	// by the transaction, never re-embedded.
	phase = time.Now()
	embeddings, err := p.enrich(ctx, &changed)
	if err != nil {
		return nil, metrics, err
	}
	metrics.Enrich = time.Since(phase)

	// Phase 5: build one transaction and hand it to the queue.
	phase = time.Now()
	note := &txn.NoteChange{
		Path:       path,
		Checksum:   fileHash,
		Title:      parsed.Title,
		Tags:       parsed.Tags,
		Links:      parsed.Links,
		Properties: parsed.Frontmatter,
		Blocks:     tree.Blocks,
		Embeddings: embeddings,
		UpdatedAt:  time.Now().UTC(),
	}
	for i := range changed.Removed {
		note.Removed = append(note.Removed, changed.Removed[i].ID)
	}

	tx := txn.NewUpdate(p.kilnRoot, note)
	if prevHash == "" {
		tx = txn.NewCreate(p.kilnRoot, note)
	}
	if err := p.queue.Enqueue(ctx, tx); err != nil {
		return nil, metrics, fmt.Errorf("pipeline: enqueue %s: %w", path, err)
	}
	metrics.Store = time.Since(phase)

	p.logger.Debug("pipeline: processed",
		slog.String("path", path),
		slog.Int("changed_blocks", changed.Len()),
		slog.Int("unchanged_blocks", changed.Unchanged))

	return &Result{
		Status:              StatusSuccess,
		ChangedBlocks:       changed.Len(),
		EmbeddingsGenerated: len(embeddings) > 0,
	}, metrics, nil
}

// enrich embeds the texts of added and modified blocks, in batches with
// bounded concurrency. Nothing has been persisted when it fails, so the
// error is retryable at the caller's discretion.
func (p *Pipeline) enrich(ctx context.Context, changed *block.ChangedSet) (map[string][]float32, error) {
	if p.embedder == nil {
		return nil, nil
	}

	targets := make([]block.Block, 0, len(changed.Added)+len(changed.Modified))
	targets = append(targets, changed.Added...)
	targets = append(targets, changed.Modified...)
	if len(targets) == 0 {
		return nil, nil
	}

	texts := make([]string, len(targets))
	for i := range targets {
		texts[i] = targets[i].Text
	}

	vectors, err := p.embedder.EmbedAll(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("pipeline: enrich: %w", err)
	}

	out := make(map[string][]float32, len(targets))
	for i := range targets {
		out[targets[i].ID] = vectors[i]
	}
	return out, nil
}

// Delete enqueues a delete transaction for a note removed from disk.
func (p *Pipeline) Delete(ctx context.Context, path string) error {
	if err := p.queue.Enqueue(ctx, txn.NewDelete(p.kilnRoot, path)); err != nil {
		return fmt.Errorf("pipeline: enqueue delete %s: %w", path, err)
	}
	return nil
}
