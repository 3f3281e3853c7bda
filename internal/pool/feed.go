package pool

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ulikunitz/xz"
)

// Feed names a mirror feed file and its kind.
type Feed struct {
	Path string

	// Status is true for the status feed, which carries branch flags and
	// last sync times.
	Status bool
}

// Decode parses a JSON feed.
func Decode(r io.Reader) ([]RawEntry, error) {
	var entries []RawEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, errors.Wrap(err, "decode feed")
	}
	return entries, nil
}

// IsCompressed reports whether name, a path or URL, refers to an
// xz-compressed feed.
func IsCompressed(name string) bool {
	return strings.HasSuffix(name, ".xz")
}

// Decompress returns the content of an xz stream.  It fails if the
// content exceeds limit bytes.
func Decompress(data []byte, limit int64) ([]byte, error) {
	xr, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "open xz feed")
	}
	plain, err := io.ReadAll(io.LimitReader(xr, limit+1))
	if err != nil {
		return nil, errors.Wrap(err, "decompress feed")
	}
	if int64(len(plain)) > limit {
		return nil, errors.Newf("decompressed feed exceeds %d bytes", limit)
	}
	return plain, nil
}

// Compress returns data as an xz stream.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "compress feed")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "compress feed")
	}
	return buf.Bytes(), nil
}

// ReadFile reads a feed file.  Files ending in ".xz" are decompressed.
func ReadFile(path string) ([]RawEntry, error) {
	f, err := os.Open(path) // #nosec G304 - feed path comes from the configuration
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close feed file", "path", path, "error", err)
		}
	}()

	var r io.Reader = f
	if IsCompressed(path) {
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "open xz feed %s", path)
		}
		r = xr
	}

	entries, err := Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return entries, nil
}

// Load builds a Pool from feed.
func Load(feed Feed) (*Pool, error) {
	entries, err := ReadFile(feed.Path)
	if err != nil {
		return nil, err
	}
	p := New()
	added := p.Seed(entries, feed.Status)
	slog.Debug("mirror pool loaded", "path", feed.Path, "status", feed.Status,
		"entries", len(entries), "mirrors", added, "countries", len(p.countries))
	return p, nil
}

// Select returns the first feed that exists on disk.  The candidates are
// tried in order; callers list the status feed first.
func Select(candidates ...Feed) (Feed, error) {
	for _, c := range candidates {
		if c.Path == "" {
			continue
		}
		st, err := os.Stat(c.Path)
		if err != nil || !st.Mode().IsRegular() {
			continue
		}
		return c, nil
	}
	return Feed{}, errors.New("no mirror feed file found")
}
