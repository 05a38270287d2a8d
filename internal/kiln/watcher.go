package kiln

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/kilnd/internal/pipeline"
	"github.com/starford/kilnd/internal/txn"
)

// EventCallback is called after a watcher-driven change has been accepted
// by the pipeline. kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Watch starts an fsnotify watcher on the kiln root and pipes file change
// events through the pipeline until ctx is cancelled. It calls cb (if
// non-nil) after each accepted change.
//
// New directories created at runtime are added to the watch list. Rename
// events fire on the old path only, so a short debounced reconciliation
// pass cleans up index entries whose files no longer exist on disk.
func (k *Kiln) Watch(ctx context.Context, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, k.root); err != nil {
		return err
	}

	k.logger.Info("watcher: started", slog.String("root", k.root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			k.logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if summary, err := k.Index(ctx); err != nil {
				k.logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			} else if summary.Deleted > 0 && cb != nil {
				cb("deleted", "")
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// New directories are added to the watcher, and any .md files
			// already inside them are indexed.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if strings.Contains(absPath, string(os.PathSeparator)+indexDirName) {
						continue
					}
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						k.logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					k.indexNewDir(ctx, absPath, cb)
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") {
				continue
			}

			rel, relErr := filepath.Rel(k.root, absPath)
			if relErr != nil || strings.HasPrefix(rel, indexDirName) {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				k.handleChange(ctx, rel, ev.Op&fsnotify.Create != 0, cb)

			case ev.Op&fsnotify.Remove != 0:
				if delErr := k.pipe.Delete(ctx, rel); delErr != nil {
					k.logger.Warn("watcher: delete failed",
						slog.String("path", rel), slog.String("error", delErr.Error()))
					continue
				}
				k.logger.Debug("watcher: deleted", slog.String("path", rel))
				if cb != nil {
					cb("deleted", rel)
				}

			case ev.Op&fsnotify.Rename != 0:
				// Rename fires on the old path; the new path arrives as a
				// separate Create event when it stays inside the kiln.
				if delErr := k.pipe.Delete(ctx, rel); delErr == nil {
					k.logger.Debug("watcher: rename old deleted", slog.String("path", rel))
					if cb != nil {
						cb("deleted", rel)
					}
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			k.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// handleChange pipes one created/updated file through the pipeline. A full
// queue is backpressure: the change is dropped this cycle and the next
// write or reconcile pass picks it up.
func (k *Kiln) handleChange(ctx context.Context, rel string, isCreate bool, cb EventCallback) {
	res, err := k.pipe.Process(ctx, rel)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, txn.ErrQueueFull) {
			level = slog.LevelDebug
		}
		k.logger.Log(ctx, level, "watcher: process failed",
			slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if res.Status != pipeline.StatusSuccess {
		// Skipped or no_changes: nothing to announce.
		k.logger.Debug("watcher: no-op",
			slog.String("path", rel), slog.String("status", string(res.Status)))
		return
	}
	kind := "updated"
	if isCreate {
		kind = "created"
	}
	k.logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
	if cb != nil {
		cb(kind, rel)
	}
}

// indexNewDir indexes any .md files found in a newly created directory.
func (k *Kiln) indexNewDir(ctx context.Context, dirPath string, cb EventCallback) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(k.root, path)
		if relErr != nil {
			return nil
		}
		k.handleChange(ctx, rel, true, cb)
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher,
// skipping the index directory.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == indexDirName {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
