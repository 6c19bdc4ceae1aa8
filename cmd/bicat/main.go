package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/bicat/internal/config"
	"github.com/Sternrassler/bicat/pkg/batch"
	"github.com/Sternrassler/bicat/pkg/cache"
	"github.com/Sternrassler/bicat/pkg/client"
	"github.com/Sternrassler/bicat/pkg/downloader"
	"github.com/Sternrassler/bicat/pkg/gate"
	"github.com/Sternrassler/bicat/pkg/logging"
	"github.com/Sternrassler/bicat/pkg/metrics"
	"github.com/Sternrassler/bicat/pkg/ratelimit"
	"github.com/Sternrassler/bicat/pkg/resolver"
	"github.com/Sternrassler/bicat/pkg/tempfile"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitInvalidArgs    = 2
	ExitNoItems        = 3
	ExitPartialFailure = 4
	ExitStorageError   = 5
	ExitInterrupted    = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	batchMode   bool
	yes         bool
	configPath  string
	override    config.Config
	retries     int
	retriesSet  bool
	positionals []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("bicat", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.BoolVar(&opts.batchMode, "b", false, "Treat arguments as BVIDs instead of a media ID")
	fs.BoolVar(&opts.yes, "y", false, "Overwrite an existing collection directory without asking")
	fs.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	fs.StringVar(&opts.override.OutputDir, "o", "", "Base output directory")
	fs.IntVar(&opts.override.Concurrency, "c", 0, "Maximum concurrent downloads (default 50)")
	fs.IntVar(&opts.retries, "retries", 0, "Retries per item after the first attempt (default 3)")
	fs.DurationVar(&opts.override.Retry.Backoff, "backoff", 0, "Base retry backoff (default 1s)")
	fs.DurationVar(&opts.override.HTTP.Timeout, "timeout", 0, "HTTP request timeout (default 30s)")
	fs.StringVar(&opts.override.HTTP.BaseURL, "api", "", "API base URL")
	fs.StringVar(&opts.override.Log.Level, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&opts.override.Redis.Addr, "redis", "", "Redis address for lookup caching and throttle state")
	fs.StringVar(&opts.override.MetricsAddr, "metrics", "", "Serve Prometheus metrics on this address")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: bicat [options] <media_id>
       bicat [options] -b <BVID> [BVID...]

Download the audio track of every video in a favourites collection, or of
the given videos, as "<title>-<owner>.mp3".

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "retries" {
			opts.retriesSet = true
		}
	})
	opts.positionals = fs.Args()

	switch {
	case opts.batchMode && len(opts.positionals) == 0:
		fs.Usage()
		return nil, errors.New("-b requires at least one BVID")
	case !opts.batchMode && len(opts.positionals) != 1:
		fs.Usage()
		return nil, errors.New("specify exactly one media ID, or use -b with BVIDs")
	}

	return opts, nil
}

func loadConfig(opts *options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.LoadFromFile(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	cfg = cfg.Merge(opts.override)
	if opts.retriesSet {
		cfg.Retry.Limit = opts.retries
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: stderr,
	})

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Listen(cfg.MetricsAddr, logging.NewLogger("metrics"))
		if err != nil {
			logger.Error().Err(err).Msg("Failed to start metrics server")
			return ExitGeneralError
		}
		metricsCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := srv.Serve(metricsCtx); err != nil {
				logger.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	clientCfg := client.Config{
		BaseURL:   cfg.HTTP.BaseURL,
		UserAgent: cfg.HTTP.UserAgent,
		Referer:   cfg.HTTP.Referer,
		Timeout:   cfg.HTTP.Timeout,
	}
	if rdb := connectRedis(ctx, cfg.Redis.Addr, logger); rdb != nil {
		defer rdb.Close()
		clientCfg.Cache = cache.NewManager(rdb)
		clientCfg.Throttle = ratelimit.NewTracker(rdb, logging.NewLogger("ratelimit"), cfg.Redis.ThrottleCooldown)
	}

	httpClient, err := client.New(clientCfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create HTTP client")
		return ExitInvalidArgs
	}

	bili := resolver.NewBilibili(httpClient, resolver.Options{
		ViewTTL:    cfg.Redis.ViewTTL,
		PlayURLTTL: cfg.Redis.PlayURLTTL,
	})

	var items []resolver.Item
	outputDir := cfg.OutputDir

	if opts.batchMode {
		for _, id := range opts.positionals {
			items = append(items, resolver.Item(id))
		}
	} else {
		mediaID := opts.positionals[0]
		items, err = batch.Expand(ctx, bili, mediaID)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(stderr, "Interrupted")
				return ExitInterrupted
			}
			if batch.IsKind(err, batch.KindNoItems) {
				fmt.Fprintf(stderr, "Error: no videos found or private collection: %v\n", err)
				return ExitNoItems
			}
			fmt.Fprintf(stderr, "Data fetch error: %v\n", err)
			return ExitGeneralError
		}

		dir, err := prepareCollectionDir(outputDir, mediaID, opts.yes, stdin, stdout)
		if err != nil {
			fmt.Fprintf(stderr, "Directory creation error: %v\n", err)
			if errors.Is(err, errOverwriteDeclined) {
				return ExitGeneralError
			}
			return ExitStorageError
		}
		outputDir = dir
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Fprintf(stderr, "Error: create output directory: %v\n", err)
		return ExitStorageError
	}

	registry := tempfile.NewRegistry()

	retryLimit := cfg.Retry.Limit
	if retryLimit == 0 {
		retryLimit = -1
	}
	dl, err := downloader.New(httpClient, registry, downloader.Options{
		Dir:         outputDir,
		RetryLimit:  retryLimit,
		BaseBackoff: cfg.Retry.Backoff,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create downloader")
		return ExitGeneralError
	}

	orch, err := batch.New(batch.Config{
		Resolver:   bili,
		Downloader: dl,
		Gate:       gate.New(cfg.Concurrency),
		Registry:   registry,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create orchestrator")
		return ExitGeneralError
	}

	report, err := orch.Run(ctx, items)
	return reportOutcome(report, err, stderr)
}

func reportOutcome(report *batch.Report, err error, stderr io.Writer) int {
	switch {
	case err == nil:
		fmt.Fprintf(stderr, "Done: %d item(s) downloaded in %s\n", len(report.Succeeded), report.Duration.Round(time.Millisecond))
		return ExitSuccess

	case errors.Is(err, batch.ErrInterrupted):
		fmt.Fprintln(stderr, "Received interrupt, temporary files removed")
		if report != nil {
			if pending := report.Unfinished(); len(pending) > 0 {
				fmt.Fprintln(stderr, retryHint(pending))
			}
		}
		return ExitInterrupted

	case batch.IsKind(err, batch.KindPartialFailure):
		var batchErr *batch.BatchError
		errors.As(err, &batchErr)
		for _, item := range batchErr.Failed {
			fmt.Fprintf(stderr, "Task completed with errors for BVID %s\n", item)
		}
		fmt.Fprintln(stderr, retryHint(batchErr.Failed))
		return ExitPartialFailure

	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
}

// retryHint builds the command that re-runs only the failed items.
func retryHint(failed []resolver.Item) string {
	ids := make([]string, len(failed))
	for i, item := range failed {
		ids[i] = string(item)
	}
	return fmt.Sprintf("Failed BVIDs, use the \"bicat -b\" command to try again:\nbicat -b %s", strings.Join(ids, " "))
}

// connectRedis returns a connected client, or nil when addr is empty or
// the server cannot be reached.
func connectRedis(ctx context.Context, addr string, logger zerolog.Logger) *redis.Client {
	if addr == "" {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", addr).Msg("Redis unavailable - continuing without cache")
		rdb.Close()
		return nil
	}

	logger.Info().Str("addr", addr).Msg("Connected to Redis")
	return rdb
}
