package mirror

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/mirrorctl/mirrorrank/internal/pool"
)

// ErrUnknownCountry is returned when a selected country has no mirror in
// the pool.
var ErrUnknownCountry = errors.New("unknown country")

// A Filter narrows a list of mirrors.  Filters keep the order of their
// input and never modify it.
type Filter func([]pool.MirrorRecord) []pool.MirrorRecord

func keep(records []pool.MirrorRecord, pred func(pool.MirrorRecord) bool) []pool.MirrorRecord {
	result := make([]pool.MirrorRecord, 0, len(records))
	for _, r := range records {
		if pred(r) {
			result = append(result, r.Clone())
		}
	}
	return result
}

// FilterUnreachable drops mirrors already marked unreachable.
func FilterUnreachable(records []pool.MirrorRecord) []pool.MirrorRecord {
	return keep(records, pool.MirrorRecord.Reachable)
}

// FilterBadSync drops mirrors the status feed flagged as bad.
func FilterBadSync(records []pool.MirrorRecord) []pool.MirrorRecord {
	return keep(records, func(r pool.MirrorRecord) bool {
		return !r.KnownBad()
	})
}

// FilterCountries returns a filter keeping mirrors in one of countries.
func FilterCountries(countries []string) Filter {
	set := make(map[string]bool, len(countries))
	for _, c := range countries {
		set[c] = true
	}
	return func(records []pool.MirrorRecord) []pool.MirrorRecord {
		return keep(records, func(r pool.MirrorRecord) bool {
			return set[r.Country]
		})
	}
}

// FilterProtocols returns a filter that narrows each mirror's protocols to
// allowed and drops mirrors left without any.  An empty allow-list keeps
// everything.
func FilterProtocols(allowed []string) Filter {
	return func(records []pool.MirrorRecord) []pool.MirrorRecord {
		if len(allowed) == 0 {
			return keep(records, func(pool.MirrorRecord) bool { return true })
		}
		set := make(map[string]bool, len(allowed))
		for _, p := range allowed {
			set[p] = true
		}

		result := make([]pool.MirrorRecord, 0, len(records))
		for _, r := range records {
			c := r.Clone()
			c.Protocols = c.Protocols[:0]
			for _, p := range r.Protocols {
				if set[p] {
					c.Protocols = append(c.Protocols, p)
				}
			}
			if len(c.Protocols) > 0 {
				result = append(result, c)
			}
		}
		return result
	}
}

// FilterStale returns a filter keeping mirrors that synced less than
// interval hours ago.  A zero interval keeps everything.  Mirrors with an
// unparsable sync time are dropped.
func FilterStale(interval int) Filter {
	return func(records []pool.MirrorRecord) []pool.MirrorRecord {
		return keep(records, func(r pool.MirrorRecord) bool {
			if interval <= 0 {
				return true
			}
			hours, err := r.SyncHours()
			if err != nil {
				slog.Debug("dropping mirror with malformed sync time", "url", r.URL, "error", err)
				return false
			}
			return hours < interval
		})
	}
}

// FilterBranch returns a filter keeping mirrors whose status flag for
// the branch at index is non-negative.
func FilterBranch(index int) Filter {
	return func(records []pool.MirrorRecord) []pool.MirrorRecord {
		return keep(records, func(r pool.MirrorRecord) bool {
			return index >= 0 && index < len(r.Branches) && r.Branches[index] >= 0
		})
	}
}

// Chain returns the filters applied by BuildPool, in order.
func Chain(opts *Options) []Filter {
	filters := []Filter{FilterUnreachable, FilterBadSync}
	if !opts.FastTrack {
		filters = append(filters, FilterCountries(opts.Countries))
	}
	filters = append(filters, FilterProtocols(opts.Protocols))
	if opts.NoStatus {
		filters = append(filters, FilterStale(opts.Interval))
	} else {
		filters = append(filters, FilterBranch(opts.BranchIndex()))
	}
	return filters
}

// BuildPool runs the filter chain over records.  opts.Countries must
// already be resolved with ResolveCountries.
func BuildPool(records []pool.MirrorRecord, opts *Options) []pool.MirrorRecord {
	work := records
	for _, f := range Chain(opts) {
		work = f(work)
	}
	slog.Debug("filter chain applied", "in", len(records), "out", len(work))
	return work
}

// ResolveCountries expands the requested countries against the pool.
// An empty request selects every country.  Unknown countries are an error.
func ResolveCountries(p *pool.Pool, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return p.Countries(), nil
	}
	for _, c := range requested {
		if !p.HasCountry(c) {
			return nil, errors.Wrapf(ErrUnknownCountry, "%q (available: %v)", c, p.Countries())
		}
	}
	return append([]string(nil), requested...), nil
}
