package mirror

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mirrorctl/mirrorrank/internal/pool"
)

const (
	lockFilename = ".lock"
)

// Mode selects what Run does with the candidates.
type Mode int

const (
	// ModeRank ranks the mirrors of the selected countries.
	ModeRank Mode = iota

	// ModeFastTrack ranks a limited number of mirrors from all countries.
	ModeFastTrack

	// ModeInteractive ranks the mirrors of the selected countries and
	// lets the user pick from them.
	ModeInteractive
)

// RunParams are the per-invocation inputs of Run.
type RunParams struct {
	Mode Mode

	// Limit is the fast-track mirror count.  Zero or more than the pool
	// means all mirrors.
	Limit int

	// NoUpdate skips the feed download and uses the cached feeds.
	NoUpdate bool
	Quiet    bool

	// Presenter is required for ModeInteractive.
	Presenter Presenter

	// Prober replaces the network prober.  Nil uses NetProber.
	Prober Prober

	// ProgressOut receives progress bars.  Nil means stderr.
	ProgressOut io.Writer
}

// validateLockFilePath validates that a lock file path is inside the
// work directory.
func validateLockFilePath(lockFile, baseDir string) error {
	cleanLock := filepath.Clean(lockFile)
	cleanBase := filepath.Clean(baseDir)

	if strings.Contains(lockFile, "..") {
		return errors.New("unsafe lock file path (contains directory traversal): " + lockFile)
	}
	if !strings.HasPrefix(cleanLock, cleanBase) {
		return errors.New("lock file path outside of base directory: " + lockFile)
	}
	return nil
}

// lockWorkDir takes the run lock of dir.  The returned function releases
// it.
func lockWorkDir(dir string) (func(), error) {
	lockFile := filepath.Join(dir, lockFilename)
	if err := validateLockFilePath(lockFile, dir); err != nil {
		return nil, errors.Wrap(err, "lock")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(lockFile, os.O_RDWR|os.O_CREATE, 0644) // #nosec G304,G302 - lockFile path validated, 0644 standard for lock files
	if err != nil {
		return nil, err
	}

	fileLock := Flock{file}
	if err := fileLock.Lock(); err != nil {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close lock file", "error", cerr)
		}
		return nil, errors.Wrap(err, "another mirrorrank run is in progress")
	}

	return func() {
		if err := fileLock.Unlock(); err != nil {
			slog.Warn("failed to unlock file", "error", err)
		}
		if err := file.Close(); err != nil {
			slog.Warn("failed to close lock file", "error", err)
		}
	}, nil
}

// updateFeeds downloads the feeds unless noUpdate is set.  It reports
// whether the network is usable.
func updateFeeds(ctx context.Context, config *Config, noUpdate bool) (bool, error) {
	if noUpdate {
		slog.Debug("feed update skipped")
		return true, nil
	}
	fetcher, err := NewFetcher(&config.TLS, config.PGPKeyPath)
	if err != nil {
		return false, err
	}
	return fetcher.Update(ctx, config)
}

// LoadPool loads the status feed, or the plain mirror feed if there is no
// status feed.
func LoadPool(config *Config) (*pool.Pool, pool.Feed, error) {
	feed, err := pool.Select(
		pool.Feed{Path: config.StatusPath(), Status: true},
		pool.Feed{Path: config.MirrorPath()},
	)
	if err != nil {
		return nil, feed, errors.Wrapf(err, "looked in %s and %s", config.StatusPath(), config.MirrorPath())
	}
	p, err := pool.Load(feed)
	if err != nil {
		return nil, feed, err
	}
	return p, feed, nil
}

// Run builds a new mirrorlist.
//
// The first thing to do is to acquire flock on the lock file in the work
// directory.  The feeds are refreshed, the pool is filtered and ranked,
// and the result is written to config.MirrorList.  ErrNoSelection is
// returned when no mirror qualifies; the mirrorlist is then left as is.
func Run(ctx context.Context, config *Config, params RunParams) error {
	unlock, err := lockWorkDir(config.WorkDir)
	if err != nil {
		return err
	}
	defer unlock()

	online, err := updateFeeds(ctx, config, params.NoUpdate)
	if err != nil {
		return err
	}

	p, feed, err := LoadPool(config)
	if err != nil {
		return err
	}

	opts, err := config.Options(params.Quiet)
	if err != nil {
		return err
	}
	if !feed.Status && !opts.NoStatus {
		slog.Info("no status feed, filtering by sync interval instead of branch")
		opts = opts.WithNoStatus()
	}

	switch {
	case !online:
		slog.Warn("network unavailable, mirrors are shuffled instead of ranked")
		opts = opts.WithMethod(MethodRandom)
	case params.Mode == ModeFastTrack:
		opts = opts.WithFastTrack(params.Limit)
	}

	if !opts.FastTrack {
		countries, err := ResolveCountries(p, opts.Countries)
		if err != nil {
			return err
		}
		opts = opts.WithCountries(countries)
	}

	candidates := BuildPool(p.Records(), opts)
	if len(candidates) == 0 {
		slog.Warn("no mirrors left after filtering", "pool", p.Len())
		return ErrNoSelection
	}
	slog.Info("mirror pool built", "pool", p.Len(), "candidates", len(candidates),
		"method", opts.Method, "fasttrack", opts.FastTrack)

	metrics := NewMetrics()
	prober := params.Prober
	if prober == nil {
		prober, err = NewNetProber(opts, &config.TLS, metrics)
		if err != nil {
			return err
		}
	}
	ranker := NewRanker(opts, NewStrategy(prober, opts.Concurrent, metrics))
	ranker.ProgressOut = params.ProgressOut

	selected, err := ranker.Select(ctx, candidates)
	if err != nil {
		if errors.Is(err, ErrNoSelection) {
			slog.Warn("no mirror answered")
		}
		return err
	}

	writer := NewMirrorlistWriter(config.MirrorList, opts.Branch)
	if params.Mode == ModeInteractive {
		if params.Presenter == nil {
			return errors.New("interactive mode needs a presenter")
		}
		selected, err = params.Presenter.Present(selected)
		if err != nil {
			return err
		}
		writer.Custom = true
	}

	if err := writer.Write(selected); err != nil {
		return err
	}

	metrics.SetRanked(len(selected))
	if err := metrics.WriteFile(config.MetricsFile); err != nil {
		slog.Warn("failed to write metrics", "path", config.MetricsFile, "error", err)
	}
	return nil
}

// Status compares the current mirrorlist with the status feed and prints
// a report to w.  It returns the report's exit code.
func Status(ctx context.Context, config *Config, w io.Writer, noUpdate bool) (int, error) {
	if err := config.Check(); err != nil {
		return 1, errors.Wrap(err, "invalid configuration")
	}
	if _, err := updateFeeds(ctx, config, noUpdate); err != nil {
		return 1, err
	}

	p, err := pool.Load(pool.Feed{Path: config.StatusPath(), Status: true})
	if err != nil {
		return 1, errors.Wrap(err, "load status feed")
	}
	ml, err := ReadMirrorlist(config.MirrorList)
	if err != nil {
		return 1, err
	}
	if len(ml.Servers) == 0 {
		return 1, errors.Newf("no servers in %s", config.MirrorList)
	}
	return StatusReport(w, ml, p, config.Arch), nil
}
