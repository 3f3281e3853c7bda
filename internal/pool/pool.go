package pool

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
)

// SyncStamp is the last_sync field of the status feed.  The feed encodes
// it either as an "HH:MM" string or as a negative number for mirrors that
// never synced.
type SyncStamp string

// UnmarshalJSON implements json.Unmarshaler.
func (s *SyncStamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = SyncStamp(str)
		return nil
	}

	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return errors.Newf("invalid last_sync value %s", data)
	}
	if n < 0 {
		*s = BadLastSync
		return nil
	}
	*s = SyncStamp(strconv.Itoa(int(n)) + ":00")
	return nil
}

// RawEntry is one mirror as it appears in a feed file.  Branches and
// LastSync are present only in the status feed.
type RawEntry struct {
	Country   string     `json:"country"`
	URL       string     `json:"url"`
	Protocols []string   `json:"protocols"`
	Branches  []int      `json:"branches,omitempty"`
	LastSync  *SyncStamp `json:"last_sync,omitempty"`
}

// Pool is the full set of candidate mirrors of one run.
//
// Pool is built once and is read-only afterwards.  Records returns copies,
// so pipeline stages can never change the pool.
type Pool struct {
	records   []MirrorRecord
	countries map[string]struct{}
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{
		countries: make(map[string]struct{}),
	}
}

// Add appends a mirror to the pool.  When status is false, the sync fields
// of e are ignored and defaults are used, as for the plain mirror feed.
func (p *Pool) Add(e RawEntry, status bool) error {
	if e.Country == "" {
		return errors.New("entry has no country")
	}
	if e.URL == "" {
		return errors.New("entry has no url")
	}
	if len(e.Protocols) == 0 {
		return errors.Newf("mirror %s has no protocols", e.URL)
	}

	record := MirrorRecord{
		Country:   e.Country,
		Continent: ContinentOf(e.Country),
		URL:       StripScheme(e.URL),
		Protocols: append([]string(nil), e.Protocols...),
		Branches:  UnknownBranches,
		LastSync:  DefaultLastSync,
		RespTime:  0,
	}
	sort.Sort(sort.Reverse(sort.StringSlice(record.Protocols)))

	if status {
		if len(e.Branches) > 0 {
			if len(e.Branches) != len(record.Branches) {
				return errors.Newf("mirror %s has %d branch flags, want %d",
					e.URL, len(e.Branches), len(record.Branches))
			}
			copy(record.Branches[:], e.Branches)
		}
		if e.LastSync != nil && *e.LastSync != "" {
			record.LastSync = string(*e.LastSync)
		}
		if record.LastSync == BadLastSync {
			record.RespTime = UnreachableRespTime
		}
	}

	p.countries[record.Country] = struct{}{}
	p.records = append(p.records, record)
	return nil
}

// Seed adds all entries to the pool and orders the pool by country.
// Malformed entries are logged and skipped.  It returns the number of
// mirrors added.
func (p *Pool) Seed(entries []RawEntry, status bool) int {
	added := 0
	for i, e := range entries {
		if err := p.Add(e, status); err != nil {
			slog.Warn("skipping malformed feed entry", "index", i, "error", err)
			continue
		}
		added++
	}
	sort.SliceStable(p.records, func(i, j int) bool {
		return p.records[i].Country < p.records[j].Country
	})
	return added
}

// Len returns the number of mirrors in the pool.
func (p *Pool) Len() int {
	return len(p.records)
}

// Records returns a copy of all mirrors in pool order.
func (p *Pool) Records() []MirrorRecord {
	records := make([]MirrorRecord, len(p.records))
	for i, r := range p.records {
		records[i] = r.Clone()
	}
	return records
}

// Countries returns the distinct countries of the pool, sorted.
func (p *Pool) Countries() []string {
	countries := make([]string, 0, len(p.countries))
	for c := range p.countries {
		countries = append(countries, c)
	}
	sort.Strings(countries)
	return countries
}

// HasCountry reports whether any mirror of the pool is in country.
func (p *Pool) HasCountry(country string) bool {
	_, ok := p.countries[country]
	return ok
}

// Lookup returns the mirror whose URL (without scheme) equals url.
func (p *Pool) Lookup(url string) (MirrorRecord, bool) {
	url = StripScheme(url)
	for _, r := range p.records {
		if r.URL == url {
			return r.Clone(), true
		}
	}
	return MirrorRecord{}, false
}
