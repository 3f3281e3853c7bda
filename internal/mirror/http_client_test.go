package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ProtonMail/gopenpgp/v3/crypto"
	"github.com/mirrorctl/mirrorrank/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStatusFeed = `[
  {"country": "Germany", "url": "https://de.example.org/manjaro/",
   "protocols": ["https", "http"], "branches": [1, 1, 1], "last_sync": "01:10"},
  {"country": "Germany", "url": "https://de2.example.org/",
   "protocols": ["https"], "branches": [1, 0, 1], "last_sync": "05:00"},
  {"country": "France", "url": "http://fr.example.org/manjaro/",
   "protocols": ["http"], "branches": [1, 1, 1], "last_sync": "02:45"},
  {"country": "Japan", "url": "http://jp.example.org/",
   "protocols": ["http"], "branches": [-1, -1, -1], "last_sync": -1}
]`

const testMirrorsFeed = `[
  {"country": "Germany", "url": "https://de.example.org/manjaro/", "protocols": ["https", "http"]},
  {"country": "France", "url": "http://fr.example.org/manjaro/", "protocols": ["http"]}
]`

// feedServer serves both feeds and counts requests per path.
type feedServer struct {
	*httptest.Server
	files map[string][]byte
	fails map[string]int
	hits  map[string]*atomic.Int64
}

func newFeedServer(t *testing.T, files map[string][]byte) *feedServer {
	t.Helper()

	fs := &feedServer{
		files: files,
		fails: make(map[string]int),
		hits:  make(map[string]*atomic.Int64),
	}
	for path := range files {
		fs.hits[path] = &atomic.Int64{}
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := fs.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		n := fs.hits[r.URL.Path].Add(1)
		if int(n) <= fs.fails[r.URL.Path] {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func fetchConfig(t *testing.T, srv *httptest.Server) *Config {
	t.Helper()

	c := NewConfig()
	c.WorkDir = t.TempDir()
	c.MirrorList = filepath.Join(c.WorkDir, "mirrorlist")
	c.StatusURL = srv.URL + "/status.json"
	c.MirrorsURL = srv.URL + "/mirrors.json"
	return c
}

func testFetcher(t *testing.T, pgpKeyPath string) *Fetcher {
	t.Helper()

	f, err := NewFetcher(nil, pgpKeyPath)
	require.NoError(t, err)
	f.retryDelay = time.Millisecond
	return f
}

// signingKey returns a fresh key and the path of its armored public key.
func signingKey(t *testing.T) (*crypto.Key, string) {
	t.Helper()

	pgp := crypto.PGP()
	key, err := pgp.KeyGeneration().AddUserId("feed signer", "feed@example.org").New().GenerateKey()
	require.NoError(t, err)
	publicKey, err := key.ToPublic()
	require.NoError(t, err)
	armored, err := publicKey.Armor()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "feed.asc")
	require.NoError(t, os.WriteFile(path, []byte(armored), 0644))
	return key, path
}

func sign(t *testing.T, key *crypto.Key, data []byte) []byte {
	t.Helper()

	signer, err := crypto.PGP().Sign().SigningKey(key).Detached().New()
	require.NoError(t, err)
	signature, err := signer.Sign(data, crypto.Armor)
	require.NoError(t, err)
	return signature
}

func TestFetcherUpdate(t *testing.T) {
	t.Parallel()

	srv := newFeedServer(t, map[string][]byte{
		"/status.json":  []byte(testStatusFeed),
		"/mirrors.json": []byte(testMirrorsFeed),
	})
	config := fetchConfig(t, srv.Server)

	online, err := testFetcher(t, "").Update(context.Background(), config)
	require.NoError(t, err)
	assert.True(t, online)

	data, err := os.ReadFile(config.StatusPath())
	require.NoError(t, err)
	assert.Equal(t, testStatusFeed, string(data))

	data, err = os.ReadFile(config.MirrorPath())
	require.NoError(t, err)
	assert.Equal(t, testMirrorsFeed, string(data))
}

func TestFetcherRetry(t *testing.T) {
	t.Parallel()

	srv := newFeedServer(t, map[string][]byte{
		"/status.json":  []byte(testStatusFeed),
		"/mirrors.json": []byte(testMirrorsFeed),
	})
	srv.fails["/status.json"] = maxFetchAttempts - 1
	srv.fails["/mirrors.json"] = maxFetchAttempts
	config := fetchConfig(t, srv.Server)

	online, err := testFetcher(t, "").Update(context.Background(), config)
	require.NoError(t, err)
	assert.True(t, online)

	assert.Equal(t, int64(maxFetchAttempts), srv.hits["/status.json"].Load())
	assert.FileExists(t, config.StatusPath())
	assert.NoFileExists(t, config.MirrorPath())
}

func TestFetcherOffline(t *testing.T) {
	t.Parallel()

	srv := newFeedServer(t, map[string][]byte{})
	config := fetchConfig(t, srv.Server)
	srv.Close()

	// a cached feed survives the failed update
	require.NoError(t, os.WriteFile(config.StatusPath(), []byte(testStatusFeed), 0644))

	online, err := testFetcher(t, "").Update(context.Background(), config)
	require.NoError(t, err)
	assert.False(t, online)

	data, err := os.ReadFile(config.StatusPath())
	require.NoError(t, err)
	assert.Equal(t, testStatusFeed, string(data))
}

func TestFetcherInvalidFeed(t *testing.T) {
	t.Parallel()

	srv := newFeedServer(t, map[string][]byte{
		"/status.json":  []byte(`<html>maintenance</html>`),
		"/mirrors.json": []byte(testMirrorsFeed),
	})
	config := fetchConfig(t, srv.Server)
	require.NoError(t, os.WriteFile(config.StatusPath(), []byte(testStatusFeed), 0644))

	online, err := testFetcher(t, "").Update(context.Background(), config)
	require.NoError(t, err)
	assert.True(t, online)

	data, err := os.ReadFile(config.StatusPath())
	require.NoError(t, err)
	assert.Equal(t, testStatusFeed, string(data), "invalid download must not replace the cache")
}

func TestFetcherSignature(t *testing.T) {
	t.Parallel()

	key, keyPath := signingKey(t)
	other, _ := signingKey(t)

	status := []byte(testStatusFeed)
	mirrors := []byte(testMirrorsFeed)

	t.Run("valid", func(t *testing.T) {
		srv := newFeedServer(t, map[string][]byte{
			"/status.json":      status,
			"/status.json.sig":  sign(t, key, status),
			"/mirrors.json":     mirrors,
			"/mirrors.json.sig": sign(t, key, mirrors),
		})
		config := fetchConfig(t, srv.Server)

		online, err := testFetcher(t, keyPath).Update(context.Background(), config)
		require.NoError(t, err)
		assert.True(t, online)
		assert.FileExists(t, config.StatusPath())
		assert.FileExists(t, config.MirrorPath())
	})

	t.Run("wrong key", func(t *testing.T) {
		srv := newFeedServer(t, map[string][]byte{
			"/status.json":      status,
			"/status.json.sig":  sign(t, other, status),
			"/mirrors.json":     mirrors,
			"/mirrors.json.sig": sign(t, key, mirrors),
		})
		config := fetchConfig(t, srv.Server)

		_, err := testFetcher(t, keyPath).Update(context.Background(), config)
		assert.Error(t, err)
		assert.NoFileExists(t, config.StatusPath())
		assert.FileExists(t, config.MirrorPath())
	})

	t.Run("missing signature", func(t *testing.T) {
		srv := newFeedServer(t, map[string][]byte{
			"/status.json":  status,
			"/mirrors.json": mirrors,
		})
		config := fetchConfig(t, srv.Server)

		online, err := testFetcher(t, keyPath).Update(context.Background(), config)
		require.NoError(t, err)
		assert.False(t, online)
		assert.NoFileExists(t, config.StatusPath())
	})
}

func TestFetcherCompressedFeed(t *testing.T) {
	t.Parallel()

	compressed, err := pool.Compress([]byte(testStatusFeed))
	require.NoError(t, err)

	tests := []struct {
		name string
		url  string
		file string
	}{
		{"xz download to xz cache", "/status.json.xz", "status.json.xz"},
		{"plain download to xz cache", "/status.json", "status.json.xz"},
		{"xz download to plain cache", "/status.json.xz", "status.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFeedServer(t, map[string][]byte{
				"/status.json":    []byte(testStatusFeed),
				"/status.json.xz": compressed,
				"/mirrors.json":   []byte(testMirrorsFeed),
			})
			config := fetchConfig(t, srv.Server)
			config.StatusURL = srv.URL + tt.url
			config.StatusFile = filepath.Join(config.WorkDir, tt.file)

			online, err := testFetcher(t, "").Update(context.Background(), config)
			require.NoError(t, err)
			assert.True(t, online)

			p, feed, err := LoadPool(config)
			require.NoError(t, err)
			assert.Equal(t, config.StatusPath(), feed.Path)
			_, ok := p.Lookup("https://de.example.org/manjaro/")
			assert.True(t, ok)

			if !pool.IsCompressed(tt.file) {
				data, err := os.ReadFile(config.StatusPath())
				require.NoError(t, err)
				assert.Equal(t, testStatusFeed, string(data))
			}
		})
	}
}

func TestFetcherCorruptCompressedFeed(t *testing.T) {
	t.Parallel()

	srv := newFeedServer(t, map[string][]byte{
		"/status.json.xz": []byte(testStatusFeed),
		"/mirrors.json":   []byte(testMirrorsFeed),
	})
	config := fetchConfig(t, srv.Server)
	config.StatusURL = srv.URL + "/status.json.xz"
	config.StatusFile = filepath.Join(config.WorkDir, "status.json.xz")

	_, err := testFetcher(t, "").Update(context.Background(), config)
	require.NoError(t, err)
	assert.NoFileExists(t, config.StatusPath(), "a feed that is not xz must not be cached as xz")
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file")

	require.NoError(t, writeFileAtomic(path, []byte("one")))
	require.NoError(t, writeFileAtomic(path, []byte("two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be renamed away")
}
