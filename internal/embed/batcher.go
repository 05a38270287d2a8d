package embed

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Batcher splits large text sets into provider-sized batches and embeds
// them with bounded concurrency. The enrich phase is typically the highest
// latency step of a pipeline run, so batches run in parallel, but a single
// failed batch fails the whole call: no partial state escapes.
type Batcher struct {
	provider    Provider
	batchSize   int
	concurrency int
}

// NewBatcher wraps provider with batching. Zero values fall back to a batch
// size of 16 and a concurrency of 4.
func NewBatcher(provider Provider, batchSize, concurrency int) *Batcher {
	if batchSize <= 0 {
		batchSize = 16
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Batcher{provider: provider, batchSize: batchSize, concurrency: concurrency}
}

// EmbedAll returns one vector per input text, in input order.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			vectors, err := b.provider.Embed(gCtx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
