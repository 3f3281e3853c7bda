package mirror

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runConfig returns a config whose work directory holds the cached
// status feed.
func runConfig(t *testing.T) *Config {
	t.Helper()

	c := NewConfig()
	c.WorkDir = t.TempDir()
	c.MirrorList = filepath.Join(c.WorkDir, "mirrorlist")
	c.MetricsFile = filepath.Join(c.WorkDir, "mirrorrank.prom")
	require.NoError(t, os.WriteFile(c.StatusPath(), []byte(testStatusFeed), 0644))
	return c
}

func runProber() *fakeProber {
	return &fakeProber{latency: map[string]float64{
		"https://de.example.org/manjaro/": 0.3,
		"http://de.example.org/manjaro/":  0.2,
		"http://fr.example.org/manjaro/":  0.1,
	}}
}

func readServers(t *testing.T, path string) []string {
	t.Helper()

	ml, err := ReadMirrorlist(path)
	require.NoError(t, err)
	return ml.Servers
}

func TestRunRank(t *testing.T) {
	t.Parallel()

	config := runConfig(t)
	prober := runProber()

	err := Run(context.Background(), config, RunParams{
		Mode:     ModeRank,
		NoUpdate: true,
		Quiet:    true,
		Prober:   prober,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"http://fr.example.org/manjaro/",
		"https://de.example.org/manjaro/",
	}, readServers(t, config.MirrorList))

	data, err := os.ReadFile(config.MirrorList)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Manjaro Linux Default mirrorlist")
	assert.Contains(t, string(data), "Server = http://fr.example.org/manjaro/stable/$repo/$arch")

	metrics, err := os.ReadFile(config.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "mirrorrank_ranked_mirrors 2")
}

func TestRunConcurrent(t *testing.T) {
	t.Parallel()

	config := runConfig(t)
	config.Concurrent = true
	config.Branch = "testing"

	err := Run(context.Background(), config, RunParams{NoUpdate: true, Quiet: true, Prober: runProber()})
	require.NoError(t, err)

	// de2 is behind on testing and filtered before probing
	assert.Equal(t, []string{
		"http://fr.example.org/manjaro/",
		"https://de.example.org/manjaro/",
	}, readServers(t, config.MirrorList))
}

func TestRunCountries(t *testing.T) {
	t.Parallel()

	config := runConfig(t)
	config.Countries = []string{"Germany"}

	err := Run(context.Background(), config, RunParams{NoUpdate: true, Quiet: true, Prober: runProber()})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://de.example.org/manjaro/"}, readServers(t, config.MirrorList))

	config.Countries = []string{"Atlantis"}
	err = Run(context.Background(), config, RunParams{NoUpdate: true, Quiet: true, Prober: runProber()})
	assert.ErrorIs(t, err, ErrUnknownCountry)
}

func TestRunFastTrack(t *testing.T) {
	t.Parallel()

	config := runConfig(t)
	config.Countries = []string{"Germany"}

	err := Run(context.Background(), config, RunParams{
		Mode:     ModeFastTrack,
		Limit:    1,
		NoUpdate: true,
		Quiet:    true,
		Prober:   runProber(),
	})
	require.NoError(t, err)

	// countries are ignored and only one answering mirror is kept
	servers := readServers(t, config.MirrorList)
	require.Len(t, servers, 1)
	assert.Contains(t, []string{"http://fr.example.org/manjaro/", "https://de.example.org/manjaro/"}, servers[0])
}

func TestRunInteractive(t *testing.T) {
	t.Parallel()

	config := runConfig(t)
	var out bytes.Buffer

	err := Run(context.Background(), config, RunParams{
		Mode:      ModeInteractive,
		NoUpdate:  true,
		Quiet:     true,
		Prober:    runProber(),
		Presenter: &ConsolePresenter{In: strings.NewReader("2\n"), Out: &out},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://de.example.org/manjaro/"}, readServers(t, config.MirrorList))
	data, err := os.ReadFile(config.MirrorList)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Manjaro Linux Custom mirrorlist")
	assert.Contains(t, out.String(), "fr.example.org")

	err = Run(context.Background(), config, RunParams{Mode: ModeInteractive, NoUpdate: true, Quiet: true, Prober: runProber()})
	assert.Error(t, err, "interactive mode without presenter")
}

func TestRunNoSelection(t *testing.T) {
	t.Parallel()

	config := runConfig(t)
	require.NoError(t, os.WriteFile(config.MirrorList, []byte("keep me\n"), 0644))

	err := Run(context.Background(), config, RunParams{NoUpdate: true, Quiet: true, Prober: &fakeProber{}})
	assert.ErrorIs(t, err, ErrNoSelection)

	data, err := os.ReadFile(config.MirrorList)
	require.NoError(t, err)
	assert.Equal(t, "keep me\n", string(data))
}

func TestRunPlainFeed(t *testing.T) {
	t.Parallel()

	config := NewConfig()
	config.WorkDir = t.TempDir()
	config.MirrorList = filepath.Join(config.WorkDir, "mirrorlist")
	require.NoError(t, os.WriteFile(config.MirrorPath(), []byte(testMirrorsFeed), 0644))

	err := Run(context.Background(), config, RunParams{NoUpdate: true, Quiet: true, Prober: runProber()})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"http://fr.example.org/manjaro/",
		"https://de.example.org/manjaro/",
	}, readServers(t, config.MirrorList))
}

func TestRunNoFeed(t *testing.T) {
	t.Parallel()

	config := NewConfig()
	config.WorkDir = t.TempDir()
	config.MirrorList = filepath.Join(config.WorkDir, "mirrorlist")

	err := Run(context.Background(), config, RunParams{NoUpdate: true, Quiet: true, Prober: runProber()})
	assert.Error(t, err)
	assert.NoFileExists(t, config.MirrorList)
}

func TestRunOffline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(nil)
	config := runConfig(t)
	config.StatusURL = srv.URL + "/status.json"
	config.MirrorsURL = srv.URL + "/mirrors.json"
	srv.Close()

	prober := runProber()
	err := Run(context.Background(), config, RunParams{NoUpdate: false, Quiet: true, Prober: prober})
	require.NoError(t, err)

	// offline runs shuffle the cached pool without probing
	assert.Zero(t, prober.calls.Load())
	assert.ElementsMatch(t, []string{
		"https://de.example.org/manjaro/",
		"https://de2.example.org/",
		"http://fr.example.org/manjaro/",
	}, readServers(t, config.MirrorList))
}

func TestStatus(t *testing.T) {
	t.Parallel()

	config := runConfig(t)

	write := func(content string) {
		require.NoError(t, os.WriteFile(config.MirrorList, []byte(content), 0644))
	}

	write("Server = https://de.example.org/manjaro/testing/$repo/$arch\n" +
		"Server = http://fr.example.org/manjaro/testing/$repo/$arch\n")
	var out bytes.Buffer
	code, err := Status(context.Background(), config, &out, true)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, code)
	assert.Contains(t, out.String(), "Mirror #1  OK")

	write("Server = https://de2.example.org/testing/$repo/$arch\n")
	code, err = Status(context.Background(), config, io.Discard, true)
	require.NoError(t, err)
	assert.Equal(t, StatusOutOfSync, code)

	write("Server = https://nowhere.example.org/stable/$repo/$arch\n")
	code, err = Status(context.Background(), config, io.Discard, true)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknownHost, code)

	write("## empty\n")
	_, err = Status(context.Background(), config, io.Discard, true)
	assert.Error(t, err)
}

func TestStatusInvalidConfig(t *testing.T) {
	t.Parallel()

	config := runConfig(t)
	require.NoError(t, os.WriteFile(config.MirrorList,
		[]byte("Server = https://de.example.org/manjaro/stable/$repo/$arch\n"), 0644))
	config.Arch = "sparc"

	code, err := Status(context.Background(), config, io.Discard, true)
	assert.Error(t, err)
	assert.Equal(t, 1, code)
}
