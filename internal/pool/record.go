// Package pool holds the in-memory mirror pool and the feed formats it is
// seeded from.
package pool

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	// UnreachableRespTime marks a mirror that is unreachable or untested.
	// A successful probe never reports it.
	UnreachableRespTime = 99.99

	// BadLastSync marks a mirror that is known bad or has never synced.
	BadLastSync = "9999:99"

	// DefaultLastSync is used for entries of the plain mirror feed, which
	// carries no sync information.
	DefaultLastSync = "00:00"
)

// BranchNames lists the release branches in the order of MirrorRecord.Branches.
var BranchNames = [3]string{"stable", "testing", "unstable"}

// UnknownBranches is the branch status of a mirror without sync data.
var UnknownBranches = [3]int{-1, -1, -1}

// MirrorRecord is a single mirror endpoint.
type MirrorRecord struct {
	Country   string
	Continent string

	// URL is the base URL without the protocol scheme, always ending in "/".
	// Example: "mirror.example.org/manjaro/"
	URL string

	// Protocols is kept sorted in descending order so that https sorts
	// before http and ftps before ftp.
	Protocols []string

	Branches [3]int
	LastSync string
	RespTime float64
}

// ProbeResult is the outcome of probing one protocol of one mirror.
type ProbeResult struct {
	Protocol string
	URL      string
	RespTime float64
}

// Failed reports whether the probe did not reach the mirror.
func (r ProbeResult) Failed() bool {
	return r.RespTime == UnreachableRespTime
}

// Clone returns a deep copy of the record.
func (r MirrorRecord) Clone() MirrorRecord {
	c := r
	c.Protocols = append([]string(nil), r.Protocols...)
	return c
}

// Reachable reports whether the record carries a real response time.
func (r MirrorRecord) Reachable() bool {
	return r.RespTime != UnreachableRespTime
}

// KnownBad reports whether the status feed flagged the mirror as bad.
func (r MirrorRecord) KnownBad() bool {
	return r.LastSync == BadLastSync
}

// HasProtocol reports whether the mirror offers protocol.
func (r MirrorRecord) HasProtocol(protocol string) bool {
	for _, p := range r.Protocols {
		if p == protocol {
			return true
		}
	}
	return false
}

// SyncHours returns the hour part of LastSync.
func (r MirrorRecord) SyncHours() (int, error) {
	hours, _, ok := strings.Cut(r.LastSync, ":")
	if !ok {
		return 0, errors.Newf("malformed last_sync %q", r.LastSync)
	}
	n, err := strconv.Atoi(hours)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed last_sync %q", r.LastSync)
	}
	return n, nil
}

// Host returns the host part of URL, including a port if one is present.
func (r MirrorRecord) Host() string {
	host, _, _ := strings.Cut(r.URL, "/")
	return host
}

// BasePath returns the path part of URL, starting and ending with "/".
func (r MirrorRecord) BasePath() string {
	_, rest, _ := strings.Cut(r.URL, "/")
	return "/" + rest
}

// ServerURL returns the base URL of the mirror for protocol.
func (r MirrorRecord) ServerURL(protocol string) string {
	return protocol + "://" + r.URL
}

// ProbeURL returns the URL of the test resource for protocol.  subpath is
// appended to the base URL and must not start with "/".
func (r MirrorRecord) ProbeURL(protocol, subpath string) string {
	return r.ServerURL(protocol) + subpath
}

// StripScheme removes a leading "scheme://" from url and makes sure the
// result ends with "/".
func StripScheme(url string) string {
	if _, rest, ok := strings.Cut(url, "://"); ok {
		url = rest
	}
	url = strings.TrimLeft(url, "/")
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	return url
}

// SchemeOf returns the scheme of url, or "" if url has none.
func SchemeOf(url string) string {
	scheme, _, ok := strings.Cut(url, "://")
	if !ok {
		return ""
	}
	return scheme
}

// IsSecure reports whether protocol is an encrypted scheme.
func IsSecure(protocol string) bool {
	return strings.HasSuffix(protocol, "tps")
}
