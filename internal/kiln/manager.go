package kiln

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/starford/kilnd/internal/apperr"
)

// Info describes one open kiln in a Manager snapshot.
type Info struct {
	Path              string `json:"path"`
	LastAccessSecsAgo uint64 `json:"last_access_secs_ago"`
}

type managed struct {
	kiln       *Kiln
	lastAccess time.Time
}

// Manager is the process-wide registry of open kilns. It is constructed
// explicitly at daemon start and passed to every task that needs it; there
// is no ambient global. All operations are atomic with respect to
// concurrent callers.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	kilns map[string]*managed
}

// NewManager creates an empty registry applying opts to every kiln it opens.
func NewManager(opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:   opts,
		logger: logger,
		kilns:  make(map[string]*managed),
	}
}

// Open opens the kiln at path, or refreshes its access time when it is
// already open. Idempotent.
func (m *Manager) Open(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("kiln: resolve %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.kilns[abs]; ok {
		entry.lastAccess = time.Now()
		return nil
	}

	k, err := Open(abs, m.opts)
	if err != nil {
		return err
	}
	m.kilns[abs] = &managed{kiln: k, lastAccess: time.Now()}
	m.logger.Info("kiln opened", slog.String("path", abs))
	return nil
}

// Get returns the open kiln at path, refreshing its access time.
func (m *Manager) Get(path string) (*Kiln, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("kiln: resolve %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.kilns[abs]
	if !ok {
		return nil, fmt.Errorf("kiln: not open: %s: %w", abs, apperr.ErrNotFound)
	}
	entry.lastAccess = time.Now()
	return entry.kiln, nil
}

// Close closes the kiln at path and removes it from the registry.
func (m *Manager) Close(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("kiln: resolve %s: %w", path, err)
	}

	m.mu.Lock()
	entry, ok := m.kilns[abs]
	delete(m.kilns, abs)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("kiln: not open: %s: %w", abs, apperr.ErrNotFound)
	}
	m.logger.Info("kiln closed", slog.String("path", abs))
	return entry.kiln.Close()
}

// List returns a snapshot of all open kilns with their idle durations,
// sorted by path.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]Info, 0, len(m.kilns))
	for path, entry := range m.kilns {
		idle := now.Sub(entry.lastAccess)
		if idle < 0 {
			idle = 0
		}
		out = append(out, Info{
			Path:              path,
			LastAccessSecsAgo: uint64(idle.Seconds()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// CloseAll closes every open kiln. Used during daemon shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	kilns := m.kilns
	m.kilns = make(map[string]*managed)
	m.mu.Unlock()

	for path, entry := range kilns {
		if err := entry.kiln.Close(); err != nil {
			m.logger.Warn("kiln close failed",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}
}

// evictIdle closes kilns idle longer than maxIdle and returns how many.
func (m *Manager) evictIdle(maxIdle time.Duration) int {
	m.mu.Lock()
	now := time.Now()
	var victims []*managed
	for path, entry := range m.kilns {
		if now.Sub(entry.lastAccess) > maxIdle {
			victims = append(victims, entry)
			delete(m.kilns, path)
		}
	}
	m.mu.Unlock()

	for _, entry := range victims {
		m.logger.Info("kiln evicted after idle timeout", slog.String("path", entry.kiln.Root()))
		if err := entry.kiln.Close(); err != nil {
			m.logger.Warn("idle eviction close failed",
				slog.String("path", entry.kiln.Root()), slog.String("error", err.Error()))
		}
	}
	return len(victims)
}

// Janitor periodically evicts idle kilns until ctx is cancelled. A maxIdle
// of zero disables eviction; a non-positive interval falls back to a minute.
func (m *Manager) Janitor(ctx context.Context, interval, maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictIdle(maxIdle)
		}
	}
}
