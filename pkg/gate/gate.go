// Package gate bounds the number of item pipelines running at once.
package gate

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 10

var (
	pipelinesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bicat_pipelines_in_flight",
		Help: "Number of item pipelines currently holding an admission permit",
	})

	gateWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bicat_gate_waits_total",
		Help: "Total number of permit acquisitions that had to wait",
	})
)

// Gate is a counting semaphore. Every successful Acquire must be paired with
// exactly one Release; Do enforces that pairing.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

// New creates a gate with the given number of permits.
func New(capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Acquire blocks until a permit is available or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if !g.sem.TryAcquire(1) {
		gateWaitsTotal.Inc()
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}

	n := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	pipelinesInFlight.Inc()
	return nil
}

// Release returns a permit.
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	pipelinesInFlight.Dec()
	g.sem.Release(1)
}

// Do runs fn while holding a permit. The permit is released on every exit
// path of fn, including panics.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()

	return fn(ctx)
}

// Capacity returns the number of permits.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}

// InFlight returns the number of permits currently held.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Peak returns the highest number of permits held at once.
func (g *Gate) Peak() int {
	return int(g.peak.Load())
}
