package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/bicat/pkg/downloader"
	"github.com/Sternrassler/bicat/pkg/gate"
	"github.com/Sternrassler/bicat/pkg/logging"
	"github.com/Sternrassler/bicat/pkg/resolver"
	"github.com/Sternrassler/bicat/pkg/tempfile"
)

var (
	batchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bicat_batch_items_total",
		Help: "Total number of batch items by result",
	}, []string{"result"})

	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bicat_batches_total",
		Help: "Total number of batch runs by result",
	}, []string{"result"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bicat_batch_duration_seconds",
		Help:    "Batch run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// DefaultProgressEvery is how often progress is logged at info level.
const DefaultProgressEvery = 10

// Downloader persists a resolved target. *downloader.Downloader implements it.
type Downloader interface {
	Download(ctx context.Context, t resolver.Target) error
}

// Forgetter drops cached resolution state for a target. A resolver that
// implements it is asked to forget a target whose download failed, so that
// a later run resolves a fresh stream URL.
type Forgetter interface {
	Forget(ctx context.Context, t resolver.Target) error
}

// Config holds the orchestrator dependencies.
type Config struct {
	Resolver   resolver.Resolver
	Downloader Downloader
	Gate       *gate.Gate
	Registry   *tempfile.Registry

	// ProgressEvery sets the info-level progress interval in items.
	ProgressEvery int

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// Outcome is the result of one item's pipeline. A nil Err is success.
type Outcome struct {
	Item resolver.Item
	Err  error
}

// Retryable reports whether a failed outcome may succeed on a later run.
func (o Outcome) Retryable() bool {
	return downloader.IsRetryable(o.Err)
}

// Report aggregates the outcomes of a batch. Failed preserves submission
// order. After an interrupt it holds only the items that had finished.
type Report struct {
	RunID     string
	Items     []resolver.Item
	Succeeded []resolver.Item
	Failed    []resolver.Item
	Outcomes  []Outcome
	Swept     []string
	Duration  time.Duration
}

// Unfinished returns the items that failed or never finished, in
// submission order. After a completed run it equals Failed.
func (r *Report) Unfinished() []resolver.Item {
	done := make(map[resolver.Item]bool, len(r.Succeeded))
	for _, item := range r.Succeeded {
		done[item] = true
	}
	var out []resolver.Item
	for _, item := range r.Items {
		if !done[item] {
			out = append(out, item)
		}
	}
	return out
}

// Orchestrator runs one pipeline per item under the admission gate.
type Orchestrator struct {
	resolver      resolver.Resolver
	downloader    Downloader
	gate          *gate.Gate
	registry      *tempfile.Registry
	progressEvery int
	logger        zerolog.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if cfg.Downloader == nil {
		return nil, fmt.Errorf("downloader is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("temp file registry is required")
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}

	logger := logging.NewLogger("batch")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Orchestrator{
		resolver:      cfg.Resolver,
		downloader:    cfg.Downloader,
		gate:          cfg.Gate,
		registry:      cfg.Registry,
		progressEvery: cfg.ProgressEvery,
		logger:        logger,
	}, nil
}

// Expand lists a collection. A missing or empty collection is reported as
// KindNoItems; other listing failures are returned wrapped as they are.
func Expand(ctx context.Context, lister resolver.Lister, mediaID string) ([]resolver.Item, error) {
	items, err := lister.ListCollection(ctx, mediaID)
	if errors.Is(err, resolver.ErrDataFetch) {
		return nil, &BatchError{Kind: KindNoItems, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("list collection %s: %w", mediaID, err)
	}
	if len(items) == 0 {
		return nil, &BatchError{Kind: KindNoItems, Err: fmt.Errorf("collection %s is empty", mediaID)}
	}
	return items, nil
}

// Run processes items concurrently and waits for all pipelines, racing
// against ctx. One item's failure never cancels its siblings.
//
// On completion registered temp files are swept and the report is
// returned; the error is nil iff no item failed. If ctx is cancelled first
// the registry is swept immediately and ErrInterrupted is returned with a
// report of the items finished so far, without waiting for in-flight
// pipelines.
func (o *Orchestrator) Run(ctx context.Context, items []resolver.Item) (*Report, error) {
	if len(items) == 0 {
		return nil, &BatchError{Kind: KindInvalidInput, Err: fmt.Errorf("empty item list")}
	}

	start := time.Now()
	runID := uuid.NewString()
	logger := o.logger.With().Str("run_id", runID).Logger()
	total := len(items)

	logger.Info().
		Int("items", total).
		Int("concurrency", o.gate.Capacity()).
		Msg("Starting batch")

	results := newOutcomeSet(total)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item resolver.Item) {
			defer wg.Done()

			err := o.pipeline(ctx, item)
			n := results.record(i, Outcome{Item: item, Err: err})
			o.logOutcome(logger, item, err)
			o.logProgress(logger, n, total)
		}(i, item)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		report := results.report(runID, items)
		report.Swept = o.registry.Sweep(logger)
		report.Duration = time.Since(start)
		batchesTotal.WithLabelValues("interrupted").Inc()
		batchDuration.Observe(report.Duration.Seconds())
		logger.Warn().
			Int("completed", len(report.Outcomes)).
			Int("total", total).
			Int("swept", len(report.Swept)).
			Msg("Batch interrupted - temp files removed")
		return report, fmt.Errorf("%w: %d of %d item(s) completed", ErrInterrupted, len(report.Outcomes), total)
	}

	report := results.report(runID, items)
	report.Swept = o.registry.Sweep(logger)
	report.Duration = time.Since(start)
	batchDuration.Observe(report.Duration.Seconds())

	logger.Info().
		Int("succeeded", len(report.Succeeded)).
		Int("failed", len(report.Failed)).
		Int("swept", len(report.Swept)).
		Dur("duration", report.Duration).
		Msg("Batch complete")

	if len(report.Failed) > 0 {
		batchesTotal.WithLabelValues("partial_failure").Inc()
		return report, &BatchError{Kind: KindPartialFailure, Failed: report.Failed}
	}

	batchesTotal.WithLabelValues("success").Inc()
	return report, nil
}

// outcomeSet collects pipeline outcomes by submission index. Pipelines
// may still be writing when an interrupted Run reads it.
type outcomeSet struct {
	mu       sync.Mutex
	outcomes []Outcome
	finished []bool
	count    int
}

func newOutcomeSet(n int) *outcomeSet {
	return &outcomeSet{outcomes: make([]Outcome, n), finished: make([]bool, n)}
}

// record stores the outcome of item i and returns the completed count.
func (s *outcomeSet) record(i int, outcome Outcome) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[i] = outcome
	s.finished[i] = true
	s.count++
	return s.count
}

// report builds a Report from the outcomes finished so far, in submission
// order.
func (s *outcomeSet) report(runID string, items []resolver.Item) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Report{RunID: runID, Items: append([]resolver.Item(nil), items...)}
	for i, outcome := range s.outcomes {
		if !s.finished[i] {
			continue
		}
		r.Outcomes = append(r.Outcomes, outcome)
		if outcome.Err == nil {
			r.Succeeded = append(r.Succeeded, outcome.Item)
		} else {
			r.Failed = append(r.Failed, outcome.Item)
		}
	}
	return r
}

// pipeline resolves and downloads one item while holding a gate permit.
func (o *Orchestrator) pipeline(ctx context.Context, item resolver.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: item %s: %v", ErrPipelineCrash, item, r)
		}
	}()

	return o.gate.Do(ctx, func(ctx context.Context) error {
		target, err := o.resolver.Resolve(ctx, item)
		if err != nil {
			return err
		}
		if err := o.downloader.Download(ctx, target); err != nil {
			o.forget(ctx, target, err)
			return err
		}
		return nil
	})
}

func (o *Orchestrator) forget(ctx context.Context, target resolver.Target, cause error) {
	f, ok := o.resolver.(Forgetter)
	if !ok || ctx.Err() != nil || !downloader.IsRetryable(cause) {
		return
	}
	if err := f.Forget(ctx, target); err != nil {
		o.logger.Warn().Err(err).Str("item", string(target.Item)).Msg("Failed to drop cached stream url")
	}
}

func (o *Orchestrator) logOutcome(logger zerolog.Logger, item resolver.Item, err error) {
	if err == nil {
		batchItemsTotal.WithLabelValues("success").Inc()
		logger.Debug().Str("item", string(item)).Msg("Item complete")
		return
	}

	batchItemsTotal.WithLabelValues("failure").Inc()
	logger.Error().
		Err(err).
		Str("item", string(item)).
		Bool("retryable", downloader.IsRetryable(err)).
		Msg("Item failed")
}

func (o *Orchestrator) logProgress(logger zerolog.Logger, completed, total int) {
	event := logger.Debug()
	if completed%o.progressEvery == 0 || completed == total {
		event = logger.Info()
	}
	event.
		Int("completed", completed).
		Int("total", total).
		Float64("progress_pct", float64(completed)/float64(total)*100).
		Msg("Batch progress")
}
