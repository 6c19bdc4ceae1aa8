// Package tempfile tracks in-progress temporary files so that a batch can
// remove partial artifacts when it finishes or is interrupted.
package tempfile

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	tempFilesRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bicat_temp_files_registered",
		Help: "Number of temporary files currently registered for cleanup",
	})

	tempFilesSwept = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bicat_temp_files_swept_total",
		Help: "Temporary files handled by cleanup sweeps by result",
	}, []string{"result"})
)

// Registry is a set of temporary file paths shared by all pipelines of a
// batch. Add, Remove and Sweep are mutually exclusive.
type Registry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{paths: make(map[string]struct{})}
}

// Add registers path. Adding a path twice is a no-op.
func (r *Registry) Add(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.paths[path]; ok {
		return
	}
	r.paths[path] = struct{}{}
	tempFilesRegistered.Inc()
}

// Remove unregisters path. It reports whether the path was registered.
func (r *Registry) Remove(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.paths[path]; !ok {
		return false
	}
	delete(r.paths, path)
	tempFilesRegistered.Dec()
	return true
}

// Contains reports whether path is registered.
func (r *Registry) Contains(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.paths[path]
	return ok
}

// Len returns the number of registered paths.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.paths)
}

// Snapshot returns the registered paths in sorted order.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sortedLocked()
}

// Sweep deletes every registered path and empties the registry. Deletion is
// best effort: files that are already gone are ignored and other errors are
// only logged. It returns the paths it attempted to delete.
func (r *Registry) Sweep(logger zerolog.Logger) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	paths := r.sortedLocked()
	for _, p := range paths {
		err := os.Remove(p)
		switch {
		case err == nil:
			tempFilesSwept.WithLabelValues("removed").Inc()
			logger.Debug().Str("path", p).Msg("Removed temp file")
		case errors.Is(err, fs.ErrNotExist):
			tempFilesSwept.WithLabelValues("missing").Inc()
		default:
			tempFilesSwept.WithLabelValues("error").Inc()
			logger.Warn().Err(err).Str("path", p).Msg("Failed to remove temp file")
		}
		delete(r.paths, p)
	}
	tempFilesRegistered.Sub(float64(len(paths)))

	return paths
}

func (r *Registry) sortedLocked() []string {
	out := make([]string, 0, len(r.paths))
	for p := range r.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
