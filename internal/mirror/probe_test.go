package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mirrorctl/mirrorrank/internal/pool"
)

func probeOptions(timeout time.Duration) *Options {
	return &Options{
		Branch:    "stable",
		Arch:      "x86_64",
		Method:    MethodRank,
		Timeout:   timeout,
		SSLVerify: true,
		Quiet:     true,
		TestFile:  "core.db.tar.gz",
	}
}

func serverRecord(srv *httptest.Server, path string) pool.MirrorRecord {
	return record("Germany", pool.StripScheme(srv.URL)+path, "http")
}

func TestProbeHTTP(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/ok/stable/core/x86_64/core.db.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != userAgent {
			http.Error(w, "bad agent", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(strings.Repeat("x", 1024)))
	})
	mux.HandleFunc("/slow/", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	metrics := NewMetrics()
	prober, err := NewNetProber(probeOptions(200*time.Millisecond), nil, metrics)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		path   string
		proto  string
		wantOK bool
	}{
		{"success", "ok/", "http", true},
		{"not found", "missing/", "http", false},
		{"timeout", "slow/", "http", false},
		{"unsupported protocol", "ok/", "rsync", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := prober.Probe(context.Background(), serverRecord(srv, tt.path), tt.proto)
			if result.Protocol != tt.proto {
				t.Errorf("result.Protocol = %q, want %q", result.Protocol, tt.proto)
			}
			if tt.wantOK {
				if result.Failed() {
					t.Fatalf("probe failed")
				}
				if result.RespTime < 0 || result.RespTime > 1 {
					t.Errorf("result.RespTime = %v", result.RespTime)
				}
				return
			}
			if !result.Failed() {
				t.Errorf("expected failure, got %v", result.RespTime)
			}
		})
	}
}

func TestProbeFTPUnreachable(t *testing.T) {
	t.Parallel()

	prober, err := NewNetProber(probeOptions(200*time.Millisecond), nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	// nothing listens on port 1
	r := record("Germany", "127.0.0.1:1/manjaro/", "ftp")
	result := prober.Probe(context.Background(), r, "ftp")
	if !result.Failed() {
		t.Errorf("expected ftp probe to fail, got %v", result.RespTime)
	}
}

func TestProbeCancelledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	prober, err := NewNetProber(probeOptions(time.Second), nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if result := prober.Probe(ctx, serverRecord(srv, ""), "http"); !result.Failed() {
		t.Errorf("expected failure on cancelled context, got %v", result.RespTime)
	}
}

func TestRoundRespTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want float64
	}{
		{0, 0},
		{1234567 * time.Microsecond, 1.235},
		{499 * time.Microsecond, 0},
		{2 * time.Second, 2},
		{99 * time.Second, 99},
		{100 * time.Second, pool.UnreachableRespTime},
	}

	for _, tt := range tests {
		if got := roundRespTime(tt.in); got != tt.want {
			t.Errorf("roundRespTime(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
