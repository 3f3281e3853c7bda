package mirror

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/mirrorctl/mirrorrank/internal/pool"
)

// ErrNoSelection is returned when no mirror is left to write.
var ErrNoSelection = errors.New("no eligible mirrors")

// SortByRespTime sorts records ascending by response time.  The sort is
// stable, so unreachable mirrors keep their relative order at the end.
func SortByRespTime(records []pool.MirrorRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RespTime < records[j].RespTime
	})
}

// Shuffle returns a random permutation of records.
func Shuffle(records []pool.MirrorRecord, rng *rand.Rand) []pool.MirrorRecord {
	shuffled := make([]pool.MirrorRecord, len(records))
	for i, r := range records {
		shuffled[i] = r.Clone()
	}
	swap := func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] }
	if rng == nil {
		rand.Shuffle(len(shuffled), swap)
	} else {
		rng.Shuffle(len(shuffled), swap)
	}
	return shuffled
}

// Ranker orders the filtered pool according to the run options.
type Ranker struct {
	opts     *Options
	strategy Strategy

	// ProgressOut receives the progress bar.  Nil means stderr.
	ProgressOut io.Writer

	// Rand is used for shuffling.  Nil means the global source.
	Rand *rand.Rand
}

// NewRanker creates a Ranker.
func NewRanker(opts *Options, strategy Strategy) *Ranker {
	return &Ranker{
		opts:     opts,
		strategy: strategy,
	}
}

// Select orders candidates by the configured method.  The result only
// holds mirrors that can be written; an empty result is ErrNoSelection.
func (r *Ranker) Select(ctx context.Context, candidates []pool.MirrorRecord) ([]pool.MirrorRecord, error) {
	if len(candidates) == 0 {
		return nil, ErrNoSelection
	}

	var ordered []pool.MirrorRecord
	switch {
	case r.opts.Method == MethodRandom:
		ordered = Shuffle(candidates, r.Rand)
	case r.opts.FastTrack:
		ordered = r.FastTrack(ctx, candidates)
	default:
		ordered = r.Rank(ctx, candidates)
	}

	selected := ordered[:0:0]
	for _, m := range ordered {
		if m.Reachable() && len(m.Protocols) > 0 {
			selected = append(selected, m)
		}
	}
	if len(selected) == 0 {
		return nil, ErrNoSelection
	}
	return selected, nil
}

// Rank probes every candidate and sorts by response time.  Unreachable
// mirrors are kept, sorted last.
func (r *Ranker) Rank(ctx context.Context, candidates []pool.MirrorRecord) []pool.MirrorRecord {
	slog.Info("probing mirrors", "count", len(candidates), "concurrent", r.opts.Concurrent)
	progress := NewProgress(r.ProgressOut, len(candidates), r.opts.Quiet)
	results := r.strategy.Run(ctx, candidates, r.opts.Limit, progress)
	progress.Finish()

	SortByRespTime(results)
	return results
}

// FastTrack shuffles the candidates, probes them until the limit is
// reached, and sorts the answers by response time.  A limit outside
// 1..len(candidates) means all candidates.
func (r *Ranker) FastTrack(ctx context.Context, candidates []pool.MirrorRecord) []pool.MirrorRecord {
	limit := r.opts.Limit
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	shuffled := Shuffle(candidates, r.Rand)

	slog.Info("fast-track probing", "candidates", len(shuffled), "limit", limit)
	progress := NewProgress(r.ProgressOut, len(shuffled), r.opts.Quiet)
	results := r.strategy.Run(ctx, shuffled, limit, progress)
	progress.Finish()

	SortByRespTime(results)
	return results
}
