package mirror

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mirrorctl/mirrorrank/internal/pool"
	"golang.org/x/sync/errgroup"
)

const (
	// maxFeedSize bounds the size of a downloaded feed.
	maxFeedSize = 16 << 20

	maxFetchAttempts = 3
	fetchTimeout     = 30 * time.Second
)

// errNetwork marks download failures caused by the network or the server.
var errNetwork = errors.New("network error")

// Fetcher downloads the status feed and the plain mirror feed into the
// work directory.
type Fetcher struct {
	client *http.Client

	// pgpKey is the armored key feeds are verified with.  Nil disables
	// verification.
	pgpKey []byte

	retryDelay time.Duration
}

// NewFetcher creates a Fetcher.  If pgpKeyPath is set, every feed must
// come with a valid detached signature at <url>.sig.
func NewFetcher(tlsConfig *TLSConfig, pgpKeyPath string) (*Fetcher, error) {
	f := &Fetcher{
		client:     clonedTransport(tlsConfig),
		retryDelay: time.Second,
	}
	if pgpKeyPath != "" {
		key, err := os.ReadFile(pgpKeyPath) // #nosec G304 - path checked by Config.Check
		if err != nil {
			return nil, errors.Wrap(err, "read pgp_key_path")
		}
		f.pgpKey = key
	}
	return f, nil
}

// feedTarget is one feed to download.
type feedTarget struct {
	url  string
	path string
}

// Update downloads both feeds concurrently.  It reports online = false
// when neither feed could be downloaded.  Network failures are logged and
// the cached files are left in place; any other failure is returned.
func (f *Fetcher) Update(ctx context.Context, config *Config) (online bool, err error) {
	targets := []feedTarget{
		{url: config.StatusURL, path: config.StatusPath()},
		{url: config.MirrorsURL, path: config.MirrorPath()},
	}

	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		if t.url == "" {
			errs[i] = errors.Mark(errors.New("no URL configured"), errNetwork)
			continue
		}
		g.Go(func() error {
			errs[i] = f.fetch(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	for i, e := range errs {
		switch {
		case e == nil:
			online = true
			slog.Info("feed updated", "url", targets[i].url, "path", targets[i].path)
		case errors.Is(e, errNetwork):
			slog.Warn("feed download failed, using cached copy", "url", targets[i].url, "error", e)
		default:
			err = errors.CombineErrors(err, errors.Wrapf(e, "update %s", targets[i].path))
		}
	}
	return online, err
}

func (f *Fetcher) fetch(ctx context.Context, t feedTarget) error {
	data, err := f.get(ctx, t.url)
	if err != nil {
		return err
	}

	if f.pgpKey != nil {
		sig, err := f.get(ctx, t.url+".sig")
		if err != nil {
			return errors.Wrap(err, "download signature")
		}
		keyID, err := pool.VerifyFeed(data, sig, f.pgpKey)
		if err != nil {
			return err
		}
		slog.Debug("feed signature verified", "url", t.url, "key_id", keyID)
	}

	plain := data
	if pool.IsCompressed(t.url) {
		plain, err = pool.Decompress(data, maxFeedSize)
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "invalid feed from %s", t.url), errNetwork)
		}
	}
	if _, err := pool.Decode(bytes.NewReader(plain)); err != nil {
		return errors.Mark(errors.Wrapf(err, "invalid feed from %s", t.url), errNetwork)
	}

	// the cache is stored in the format its file name asks for
	out := plain
	if pool.IsCompressed(t.path) {
		out = data
		if !pool.IsCompressed(t.url) {
			if out, err = pool.Compress(plain); err != nil {
				return err
			}
		}
	}
	return writeFileAtomic(t.path, out)
}

// get downloads url, retrying server errors.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying download", "url", url, "attempt", attempt+1, "max_attempts", maxFetchAttempts)
			select {
			case <-ctx.Done():
				return nil, errors.Mark(ctx.Err(), errNetwork)
			case <-time.After(f.retryDelay):
			}
		}

		data, status, err := f.getOnce(ctx, url)
		switch {
		case err != nil:
			lastErr = err
		case status >= 500:
			lastErr = errors.Newf("server error %d", status)
		case status != http.StatusOK:
			return nil, errors.Mark(errors.Newf("unexpected status %d for %s", status, url), errNetwork)
		default:
			return data, nil
		}
	}
	return nil, errors.Mark(errors.Wrapf(lastErr, "download %s failed after %d attempts", url, maxFetchAttempts), errNetwork)
}

func (f *Fetcher) getOnce(ctx context.Context, url string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer closeRespBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize+1))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if len(data) > maxFeedSize {
		return nil, resp.StatusCode, errors.Newf("feed %s exceeds %d bytes", url, maxFeedSize)
	}
	return data, resp.StatusCode, nil
}

// writeFileAtomic replaces path with data through a temporary file in the
// same directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tempfile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tempfile.Write(data); err != nil {
		closeAndRemoveFile(tempfile)
		return err
	}
	if err := tempfile.Sync(); err != nil {
		closeAndRemoveFile(tempfile)
		return errors.Wrap(err, "tempfile.Sync failed")
	}
	if err := tempfile.Chmod(0644); err != nil {
		closeAndRemoveFile(tempfile)
		return err
	}
	if err := tempfile.Close(); err != nil {
		_ = os.Remove(tempfile.Name())
		return err
	}
	if err := os.Rename(tempfile.Name(), path); err != nil {
		_ = os.Remove(tempfile.Name())
		return err
	}
	return DirSync(dir)
}

// closeRespBody closes HTTP response body.
func closeRespBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err)
	}
}

// closeAndRemoveFile closes and removes a temporary file.
func closeAndRemoveFile(f *os.File) {
	filename := f.Name()
	if err := f.Close(); err != nil {
		slog.Warn("failed to close temp file", "file", filename, "error", err)
	}
	if err := os.Remove(filename); err != nil {
		slog.Warn("failed to remove temp file", "file", filename, "error", err)
	}
}

// clonedTransport creates a new HTTP client for feed downloads with the
// configured TLS settings.
func clonedTransport(tlsConfig *TLSConfig) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 2
	tr.IdleConnTimeout = 90 * time.Second

	if tlsConfig != nil {
		customTLSConfig, err := tlsConfig.BuildTLSConfig()
		if err != nil {
			slog.Error("failed to build TLS config, using defaults", "error", err)
		} else {
			tr.TLSClientConfig = customTLSConfig
		}
	}

	return &http.Client{
		Transport: tr,
		Timeout:   0, // no timeout; timeout is controlled by context
	}
}
