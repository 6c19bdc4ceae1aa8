// Package downloader fetches a resolved stream and persists it under its
// final name, retrying transport and filesystem failures with exponential
// backoff.
//
// Bytes are written to "<final>.tmp" first, fsynced and renamed, so a file
// under the final name is always complete. The temp path is registered in
// a tempfile.Registry before the first write and unregistered after the
// rename; anything still registered is swept by the batch orchestrator.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/bicat/pkg/client"
	"github.com/Sternrassler/bicat/pkg/logging"
	"github.com/Sternrassler/bicat/pkg/resolver"
	"github.com/Sternrassler/bicat/pkg/tempfile"
)

var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bicat_downloads_total",
		Help: "Total number of downloads by result",
	}, []string{"result"})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bicat_download_bytes_total",
		Help: "Total number of bytes persisted",
	})
)

const (
	errorClassPersist   = "persist"
	errorClassTransport = "transport"
)

// Fetcher performs a single GET for a stream URL. *client.Client
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Options configures a Downloader.
type Options struct {
	// Dir is the directory final files are written to. Defaults to ".".
	Dir string

	// RetryLimit is the number of retries after the first attempt.
	// Zero means DefaultRetryLimit; use a negative value for no retries.
	RetryLimit int

	// BaseBackoff is the wait after the first failed attempt.
	BaseBackoff time.Duration

	// Suffix is appended to the final name to form the temp name.
	Suffix string

	// Extension is the final file extension.
	Extension string

	// Sleep overrides the backoff wait (tests).
	Sleep SleepFunc

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		Dir:         ".",
		RetryLimit:  DefaultRetryLimit,
		BaseBackoff: DefaultBaseBackoff,
		Suffix:      ".tmp",
		Extension:   ".mp3",
	}
}

// Downloader downloads resolved targets.
type Downloader struct {
	fetcher  Fetcher
	registry *tempfile.Registry
	opts     Options
	sleep    SleepFunc
	logger   zerolog.Logger
}

// New creates a Downloader. Zero-valued options take their defaults.
func New(fetcher Fetcher, registry *tempfile.Registry, opts Options) (*Downloader, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("temp file registry is required")
	}

	defaults := DefaultOptions()
	if opts.Dir == "" {
		opts.Dir = defaults.Dir
	}
	switch {
	case opts.RetryLimit == 0:
		opts.RetryLimit = defaults.RetryLimit
	case opts.RetryLimit < 0:
		opts.RetryLimit = 0
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaults.BaseBackoff
	}
	if opts.Suffix == "" {
		opts.Suffix = defaults.Suffix
	}
	if opts.Extension == "" {
		opts.Extension = defaults.Extension
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	logger := logging.NewLogger("downloader")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Downloader{
		fetcher:  fetcher,
		registry: registry,
		opts:     opts,
		sleep:    sleep,
		logger:   logger,
	}, nil
}

// FileName builds the final file name for a title and owner. Path
// separators are replaced so the name stays inside the output directory.
func FileName(title, owner, ext string) string {
	return sanitize(title) + "-" + sanitize(owner) + ext
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "/", "-")
}

// Paths returns the final and temp paths for t.
func (d *Downloader) Paths(t resolver.Target) (final, temp string) {
	final = filepath.Join(d.opts.Dir, FileName(t.Title, t.Owner, d.opts.Extension))
	return final, final + d.opts.Suffix
}

// Attempts returns the maximum number of attempts per item.
func (d *Downloader) Attempts() int {
	return d.opts.RetryLimit + 1
}

// Download fetches t.SourceURL and persists it under its final name. All
// failure classes share one attempt budget. A terminal failure leaves the
// temp path registered.
func (d *Downloader) Download(ctx context.Context, t resolver.Target) error {
	final, temp := d.Paths(t)
	limit := d.opts.RetryLimit
	logger := d.logger.With().Str("item", string(t.Item)).Logger()

	var lastErr error
	var lastClass string

	for k := 0; k <= limit; k++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		logger.Debug().Int("attempt", k+1).Msg("Fetching stream")

		body, err := d.fetcher.Fetch(ctx, t.SourceURL)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}
			lastClass = transportClass(err)
			lastErr = &TransportError{Item: t.Item, Attempts: k + 1, Err: err}
		} else if err := d.persist(temp, final, body); err != nil {
			lastClass = errorClassPersist
			lastErr = &PersistError{Item: t.Item, Path: final, Attempts: k + 1, Err: err}
		} else {
			downloadsTotal.WithLabelValues("success").Inc()
			downloadBytesTotal.Add(float64(len(body)))
			logger.Debug().
				Int("attempt", k+1).
				Str("path", final).
				Int("bytes", len(body)).
				Msg("Download complete")
			return nil
		}

		if k == limit {
			break
		}

		wait := Backoff(d.opts.BaseBackoff, k)
		retriesTotal.WithLabelValues(lastClass).Inc()
		retryBackoffSeconds.WithLabelValues(lastClass).Observe(wait.Seconds())

		logger.Warn().
			Err(lastErr).
			Int("attempt", k+1).
			Dur("backoff", wait).
			Str("error_class", lastClass).
			Msg("Download attempt failed - retrying after backoff")

		if err := d.sleep(ctx, wait); err != nil {
			logger.Warn().Int("attempt", k+1).Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	retryExhaustedTotal.WithLabelValues(lastClass).Inc()
	downloadsTotal.WithLabelValues("failure").Inc()

	var transportErr *TransportError
	var persistErr *PersistError
	switch {
	case errors.As(lastErr, &transportErr):
		transportErr.Exhausted = true
	case errors.As(lastErr, &persistErr):
		persistErr.Exhausted = true
	}

	logger.Error().
		Err(lastErr).
		Int("max_attempts", limit+1).
		Str("error_class", lastClass).
		Msg("Retry attempts exhausted")

	return lastErr
}

// persist writes body to temp, syncs it and renames it to final.
func (d *Downloader) persist(temp, final string, body []byte) error {
	d.registry.Add(temp)

	f, err := os.OpenFile(temp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(temp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(temp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(temp, final); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("rename to final name: %w", err)
	}
	d.registry.Remove(temp)

	_ = syncDir(filepath.Dir(final))
	return nil
}

// syncDir flushes directory metadata so the rename survives a crash.
// Errors are ignored by callers; not every platform supports it.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func transportClass(err error) string {
	if class := client.ClassOf(err); class != "" {
		return string(class)
	}
	return errorClassTransport
}
