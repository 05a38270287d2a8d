package kiln

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/starford/kilnd/internal/pipeline"
)

// IndexSummary reports the outcome of one bulk indexing pass.
type IndexSummary struct {
	Indexed   int `json:"indexed"`
	Skipped   int `json:"skipped"`
	NoChanges int `json:"no_changes"`
	Failed    int `json:"failed"`
	Deleted   int `json:"deleted"`
}

// Index walks the kiln and brings the stored index up to date: changed
// files are piped through the pipeline with bounded parallelism, and notes
// whose files vanished from disk are deleted. Per-file failures are logged
// as warnings and counted; they never abort the pass.
func (k *Kiln) Index(ctx context.Context) (IndexSummary, error) {
	metas, err := k.files.List()
	if err != nil {
		return IndexSummary{}, err
	}

	stored, err := k.backend.AllChecksums()
	if err != nil {
		return IndexSummary{}, err
	}

	var indexed, skipped, noChanges, failed atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(k.indexConcurrency)

	for _, meta := range metas {
		path := meta.Path
		g.Go(func() error {
			res, err := k.pipe.Process(gCtx, path)
			if err != nil {
				failed.Add(1)
				k.logger.Warn("index: process failed",
					slog.String("path", path), slog.String("error", err.Error()))
				return nil
			}
			switch res.Status {
			case pipeline.StatusSkipped:
				skipped.Add(1)
			case pipeline.StatusNoChanges:
				noChanges.Add(1)
			default:
				indexed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Remove stale entries.
	disk := make(map[string]struct{}, len(metas))
	for _, meta := range metas {
		disk[meta.Path] = struct{}{}
	}
	deleted := 0
	for path := range stored {
		if _, ok := disk[path]; ok {
			continue
		}
		if err := k.pipe.Delete(ctx, path); err != nil {
			failed.Add(1)
			k.logger.Warn("index: delete stale failed",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		deleted++
	}

	return IndexSummary{
		Indexed:   int(indexed.Load()),
		Skipped:   int(skipped.Load()),
		NoChanges: int(noChanges.Load()),
		Failed:    int(failed.Load()),
		Deleted:   deleted,
	}, nil
}
