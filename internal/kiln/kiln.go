// Package kiln manages open knowledge bases. Each kiln bundles the file
// source, the SQLite index, the transaction queue, and the single consumer
// that owns all writes for that kiln.
package kiln

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/starford/kilnd/internal/embed"
	"github.com/starford/kilnd/internal/pipeline"
	"github.com/starford/kilnd/internal/store"
	"github.com/starford/kilnd/internal/txn"
	"github.com/starford/kilnd/internal/vault"
)

// indexDirName is the per-kiln directory holding the SQLite index.
const indexDirName = ".kilnd"

// Options configures every kiln a Manager opens.
type Options struct {
	QueueSize        int
	EnqueueTimeout   time.Duration
	Consumer         txn.ConsumerConfig
	Embedder         embed.Provider // nil disables enrichment
	EmbedBatchSize   int
	EmbedConcurrency int
	IndexConcurrency int // bulk indexing parallelism
	Watch            bool
	// OnEvent, if set, receives watcher-driven change notifications.
	OnEvent func(kilnRoot, kind, path string)
	Logger  *slog.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.QueueSize <= 0 {
		out.QueueSize = 256
	}
	if out.EnqueueTimeout <= 0 {
		out.EnqueueTimeout = 200 * time.Millisecond
	}
	if out.Consumer == (txn.ConsumerConfig{}) {
		out.Consumer = txn.DefaultConsumerConfig()
	}
	if out.IndexConcurrency <= 0 {
		out.IndexConcurrency = 4
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Kiln is one open knowledge base.
type Kiln struct {
	root             string
	files            *vault.FS
	backend          *store.SQLite
	queue            *txn.Queue
	consumer         *txn.Consumer
	pipe             *pipeline.Pipeline
	logger           *slog.Logger
	cancel           context.CancelFunc
	indexConcurrency int
}

// Open opens the kiln rooted at root: it creates the index directory if
// needed, opens the SQLite backend, and starts the consumer task.
func Open(root string, opts Options) (*Kiln, error) {
	opts = opts.withDefaults()

	files, err := vault.NewFS(root)
	if err != nil {
		return nil, err
	}
	root = files.Root()

	indexDir := filepath.Join(root, indexDirName)
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, fmt.Errorf("kiln: create index dir: %w", err)
	}

	dimension := 0
	if opts.Embedder != nil {
		dimension = opts.Embedder.Dimension()
	}
	backend, err := store.Open(filepath.Join(indexDir, "index.db"), dimension)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.With(slog.String("kiln", root))

	queue := txn.NewQueue(opts.QueueSize, opts.EnqueueTimeout)
	consumer := txn.NewConsumer(queue, backend, opts.Consumer, logger)

	var embedder pipeline.Embedder
	if opts.Embedder != nil {
		embedder = embed.NewBatcher(opts.Embedder, opts.EmbedBatchSize, opts.EmbedConcurrency)
	}

	k := &Kiln{
		root:             root,
		files:            files,
		backend:          backend,
		queue:            queue,
		consumer:         consumer,
		pipe:             pipeline.New(root, files, backend, embedder, queue, logger),
		logger:           logger,
		indexConcurrency: opts.IndexConcurrency,
	}

	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	go consumer.Run(ctx)

	if opts.Watch {
		var cb EventCallback
		if opts.OnEvent != nil {
			onEvent := opts.OnEvent
			cb = func(kind, path string) { onEvent(k.root, kind, path) }
		}
		go func() {
			if err := k.Watch(ctx, cb); err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	return k, nil
}

// Root returns the absolute kiln root path.
func (k *Kiln) Root() string { return k.root }

// Pipeline returns the kiln's processing pipeline.
func (k *Kiln) Pipeline() *pipeline.Pipeline { return k.pipe }

// Files returns the kiln's file source.
func (k *Kiln) Files() *vault.FS { return k.files }

// QueueStats returns a snapshot of the transaction queue counters.
func (k *Kiln) QueueStats() txn.Stats { return k.queue.Stats() }

// Search runs a full-text query over the kiln's blocks.
func (k *Kiln) Search(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	return k.backend.Search(ctx, query, limit)
}

// SemanticSearch returns the blocks nearest to the embedding of query.
// It requires an embedding provider.
func (k *Kiln) SemanticSearch(ctx context.Context, embedder embed.Provider, query string, limit int) ([]store.SemanticResult, error) {
	if embedder == nil {
		return nil, fmt.Errorf("kiln: semantic search requires an embedding provider")
	}
	vectors, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return k.backend.SemanticSearch(ctx, vectors[0], limit)
}

// Close stops the consumer, letting it finish any in-flight batch, then
// closes the storage backend. Transactions still queued are lost.
func (k *Kiln) Close() error {
	k.cancel()
	<-k.consumer.Done()
	return k.backend.Close()
}
