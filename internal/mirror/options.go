package mirror

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mirrorctl/mirrorrank/internal/pool"
)

// Method selects how the filtered pool is ordered.
type Method string

const (
	// MethodRank probes every candidate and sorts by response time.
	MethodRank Method = "rank"

	// MethodRandom shuffles the candidates without probing.
	MethodRandom Method = "random"
)

// ParseMethod returns the Method named by s.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(s)) {
	case MethodRank:
		return MethodRank, nil
	case MethodRandom:
		return MethodRandom, nil
	}
	return "", errors.Newf("invalid method %q (use rank or random)", s)
}

// archPrefixes maps a CPU architecture to the prefix of its branch names.
var archPrefixes = map[string]string{
	"x86_64":  "",
	"i686":    "x32-",
	"aarch64": "arm-",
}

// Options is the run configuration shared by every pipeline stage.
// It is created by Config.Options and never modified afterwards; the With*
// methods return modified copies.
type Options struct {
	// Branch is the release branch including its architecture prefix,
	// e.g. "arm-stable".
	Branch string
	Arch   string

	// Countries selected by the caller.  Empty means every country.
	Countries []string

	// Protocols is the allow-list.  Empty means no restriction.
	Protocols []string

	Method  Method
	Timeout time.Duration

	// Limit stops probing once this many mirrors answered.  Zero means no
	// limit.
	Limit     int
	FastTrack bool

	Concurrent bool
	SSLVerify  bool
	Quiet      bool

	// NoStatus selects the staleness filter instead of the branch filter.
	NoStatus bool
	Interval int

	TestFile string
}

// BranchName returns the branch without its architecture prefix.
func (o *Options) BranchName() string {
	return strings.TrimPrefix(o.Branch, archPrefixes[o.Arch])
}

// BranchIndex returns the index of the branch in pool.MirrorRecord.Branches,
// or -1 if the branch is unknown.
func (o *Options) BranchIndex() int {
	return branchIndex(o.BranchName())
}

func branchIndex(name string) int {
	for i, b := range pool.BranchNames {
		if b == name {
			return i
		}
	}
	return -1
}

// ProbePath returns the path of the test resource relative to a mirror's
// base URL.
func (o *Options) ProbePath() string {
	return o.Branch + "/core/" + o.Arch + "/" + o.TestFile
}

// ProbeTimeout returns the time budget of one probe.  Encrypted protocols
// get twice the base timeout.
func (o *Options) ProbeTimeout(protocol string) time.Duration {
	if pool.IsSecure(protocol) {
		return 2 * o.Timeout
	}
	return o.Timeout
}

// WithFastTrack returns a copy of o for fast-track mode.  Fast-track ranks
// the whole pool regardless of country and stops after limit mirrors.
func (o *Options) WithFastTrack(limit int) *Options {
	c := o.clone()
	c.FastTrack = true
	c.Method = MethodRank
	c.Limit = limit
	return c
}

// WithMethod returns a copy of o using method m.
func (o *Options) WithMethod(m Method) *Options {
	c := o.clone()
	c.Method = m
	if m == MethodRandom {
		c.FastTrack = false
		c.Limit = 0
	}
	return c
}

// WithCountries returns a copy of o restricted to countries.
func (o *Options) WithCountries(countries []string) *Options {
	c := o.clone()
	c.Countries = append([]string(nil), countries...)
	return c
}

// WithNoStatus returns a copy of o that uses the staleness filter.
func (o *Options) WithNoStatus() *Options {
	c := o.clone()
	c.NoStatus = true
	return c
}

func (o *Options) clone() *Options {
	c := *o
	c.Countries = append([]string(nil), o.Countries...)
	c.Protocols = append([]string(nil), o.Protocols...)
	return &c
}
