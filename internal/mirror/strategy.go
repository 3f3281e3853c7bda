package mirror

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mirrorctl/mirrorrank/internal/pool"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	// maxWorkers is the number of probes the concurrent strategy runs at
	// the same time.
	maxWorkers = 20

	// defaultPollInterval is how often the cutoff watcher checks the
	// counter.
	defaultPollInterval = 200 * time.Millisecond
)

// Strategy probes a list of mirrors and returns one reduced record per
// probed mirror, in completion order.
//
// With limit > 0 only mirrors that answered are returned, and probing
// stops once limit of them are collected.  With limit == 0 every mirror
// is returned, unreachable ones carrying the sentinel.
type Strategy interface {
	Run(ctx context.Context, records []pool.MirrorRecord, limit int, progress Progress) []pool.MirrorRecord
}

// NewStrategy returns the concurrent or sequential strategy.
func NewStrategy(prober Prober, concurrent bool, metrics *Metrics) Strategy {
	if concurrent {
		return NewConcurrent(prober, metrics)
	}
	return &Sequential{prober: prober}
}

// Sequential probes one protocol of one mirror at a time, in pool order.
type Sequential struct {
	prober Prober
}

// NewSequential creates a Sequential strategy.
func NewSequential(prober Prober) *Sequential {
	return &Sequential{prober: prober}
}

// Run implements Strategy.
func (s *Sequential) Run(ctx context.Context, records []pool.MirrorRecord, limit int, progress Progress) []pool.MirrorRecord {
	if progress == nil {
		progress = noProgress{}
	}

	var result []pool.MirrorRecord
	for _, record := range records {
		if ctx.Err() != nil {
			break
		}

		probes := make([]pool.ProbeResult, 0, len(record.Protocols))
		for _, protocol := range record.Protocols {
			probes = append(probes, s.prober.Probe(ctx, record, protocol))
		}
		reduced := Reduce(record, probes)
		progress.Increment()

		if limit <= 0 {
			result = append(result, reduced)
			continue
		}
		if !reduced.Reachable() {
			continue
		}
		result = append(result, reduced)
		if len(result) == limit {
			break
		}
	}
	return result
}

// Concurrent probes mirrors with a bounded number of workers.  The
// protocols of one mirror are probed concurrently as well, sharing the
// same worker slots.
type Concurrent struct {
	prober       Prober
	workers      func(limit int) int
	pollInterval time.Duration
	metrics      *Metrics
}

// NewConcurrent creates a Concurrent strategy.
func NewConcurrent(prober Prober, metrics *Metrics) *Concurrent {
	return &Concurrent{
		prober:       prober,
		workers:      WorkerCount,
		pollInterval: defaultPollInterval,
		metrics:      metrics,
	}
}

// WorkerCount returns the number of probe workers for limit.
func WorkerCount(limit int) int {
	if limit > 0 && limit < maxWorkers {
		return limit
	}
	return maxWorkers
}

// Run implements Strategy.
//
// When limit > 0, a watcher cancels probes that have not started yet once
// limit mirrors answered.  Probes already running are allowed to finish;
// their results are dropped if the limit was reached meanwhile.
func (s *Concurrent) Run(ctx context.Context, records []pool.MirrorRecord, limit int, progress Progress) []pool.MirrorRecord {
	if progress == nil {
		progress = noProgress{}
	}

	cutoff, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := semaphore.NewWeighted(int64(s.workers(limit)))
	results := make(chan pool.MirrorRecord, len(records))
	var counter Counter

	var g errgroup.Group
	for _, record := range records {
		g.Go(func() error {
			if limit > 0 && counter.Load() >= int64(limit) {
				return nil
			}
			reduced, ok := s.probeMirror(ctx, cutoff, slots, record)
			if !ok {
				return nil
			}
			progress.Increment()

			if !reduced.Reachable() {
				if limit <= 0 {
					results <- reduced
				}
				return nil
			}
			if n := counter.Increment(); limit > 0 && n > int64(limit) {
				slog.Debug("dropping result past limit", "url", reduced.URL, "limit", limit)
				return nil
			}
			results <- reduced
			return nil
		})
	}

	var watcher sync.WaitGroup
	done := make(chan struct{})
	if limit > 0 {
		watcher.Add(1)
		go func() {
			defer watcher.Done()
			s.watch(cancel, &counter, limit, done)
		}()
	}

	_ = g.Wait()
	close(done)
	watcher.Wait()
	close(results)

	collected := make([]pool.MirrorRecord, 0, len(results))
	for r := range results {
		collected = append(collected, r)
	}
	return collected
}

// probeMirror probes all protocols of record.  It returns false if the
// cutoff fired before every protocol got a worker slot.
func (s *Concurrent) probeMirror(ctx, cutoff context.Context, slots *semaphore.Weighted, record pool.MirrorRecord) (pool.MirrorRecord, bool) {
	probes := make([]pool.ProbeResult, len(record.Protocols))

	var g errgroup.Group
	for i, protocol := range record.Protocols {
		g.Go(func() error {
			if err := cutoff.Err(); err != nil {
				return err
			}
			if err := slots.Acquire(cutoff, 1); err != nil {
				return err
			}
			defer slots.Release(1)

			// in-flight probes are not cut off
			probes[i] = s.prober.Probe(ctx, record, protocol)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pool.MirrorRecord{}, false
	}
	return Reduce(record, probes), true
}

// watch cancels the pending probes once limit mirrors answered.  It
// returns when done is closed.
func (s *Concurrent) watch(cancel context.CancelFunc, counter *Counter, limit int, done <-chan struct{}) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if counter.Load() >= int64(limit) {
				slog.Debug("probe limit reached, cancelling pending probes", "limit", limit)
				s.metrics.Cutoff()
				cancel()
				return
			}
		}
	}
}
