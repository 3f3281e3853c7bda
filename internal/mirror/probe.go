package mirror

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jlaffaye/ftp"
	"github.com/mirrorctl/mirrorrank/internal/pool"
)

// probeReadLimit bounds the number of body bytes read by one probe.
const probeReadLimit = 512 << 10

const userAgent = "mirrorrank"

// Prober measures the response time of one protocol of one mirror.
//
// Probe never fails.  An unreachable mirror yields a result with
// pool.UnreachableRespTime.
type Prober interface {
	Probe(ctx context.Context, record pool.MirrorRecord, protocol string) pool.ProbeResult
}

// NetProber probes mirrors over HTTP(S) and FTP(S).
type NetProber struct {
	opts      *Options
	client    *http.Client
	tlsConfig *tls.Config
	metrics   *Metrics
}

// NewNetProber creates a NetProber.  When opts.SSLVerify is false,
// certificates are not verified.
func NewNetProber(opts *Options, tlsConfig *TLSConfig, metrics *Metrics) (*NetProber, error) {
	if tlsConfig == nil {
		tlsConfig = &TLSConfig{}
	}
	tlsConf, err := tlsConfig.BuildTLSConfig()
	if err != nil {
		return nil, errors.Wrap(err, "probe TLS config")
	}
	if !opts.SSLVerify && !tlsConf.InsecureSkipVerify {
		slog.Warn("TLS certificate verification of mirrors is disabled")
		tlsConf.InsecureSkipVerify = true // #nosec G402 - explicit opt-out
	}

	return &NetProber{
		opts:      opts,
		client:    probeClient(tlsConf),
		tlsConfig: tlsConf,
		metrics:   metrics,
	}, nil
}

// probeClient returns an HTTP client that opens a fresh connection for
// every request so that each probe includes connection setup.
func probeClient(tlsConf *tls.Config) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableKeepAlives = true
	tr.TLSClientConfig = tlsConf
	tr.Proxy = nil

	return &http.Client{
		Transport: tr,
		Timeout:   0, // no timeout; timeout is controlled by context
	}
}

// Probe implements Prober.
func (p *NetProber) Probe(ctx context.Context, record pool.MirrorRecord, protocol string) pool.ProbeResult {
	result := pool.ProbeResult{
		Protocol: protocol,
		URL:      record.URL,
		RespTime: pool.UnreachableRespTime,
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.ProbeTimeout(protocol))
	defer cancel()

	start := time.Now()
	var err error
	switch protocol {
	case "http", "https":
		err = p.probeHTTP(ctx, record.ProbeURL(protocol, p.opts.ProbePath()))
	case "ftp", "ftps":
		err = p.probeFTP(ctx, record, protocol)
	default:
		err = errors.Newf("unsupported protocol %q", protocol)
	}
	elapsed := time.Since(start)

	if err == nil {
		result.RespTime = roundRespTime(elapsed)
		if result.Failed() {
			err = errors.Newf("response time %v out of range", elapsed)
		}
	}
	if err != nil {
		result.RespTime = pool.UnreachableRespTime
		slog.Debug("probe failed", "url", record.URL, "protocol", protocol, "error", err)
		p.metrics.ObserveProbe(protocol, false, elapsed)
		return result
	}

	slog.Debug("probe succeeded", "url", record.URL, "protocol", protocol, "resp_time", result.RespTime)
	p.metrics.ObserveProbe(protocol, true, elapsed)
	return result
}

// roundRespTime converts d to seconds rounded to milliseconds.  Values
// that would reach the sentinel are reported as the sentinel.
func roundRespTime(d time.Duration) float64 {
	secs := math.Round(d.Seconds()*1000) / 1000
	if secs >= pool.UnreachableRespTime {
		return pool.UnreachableRespTime
	}
	return secs
}

func (p *NetProber) probeHTTP(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer closeRespBody(resp)

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("unexpected status %d", resp.StatusCode)
	}
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, probeReadLimit)); err != nil {
		return errors.Wrap(err, "read body")
	}
	return nil
}

func (p *NetProber) probeFTP(ctx context.Context, record pool.MirrorRecord, protocol string) error {
	addr := record.Host()
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "21")
	}

	options := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if deadline, ok := ctx.Deadline(); ok {
		options = append(options, ftp.DialWithTimeout(time.Until(deadline)))
	}
	if protocol == "ftps" {
		tlsConf := p.tlsConfig.Clone()
		if tlsConf.ServerName == "" {
			tlsConf.ServerName, _, _ = net.SplitHostPort(addr)
		}
		options = append(options, ftp.DialWithExplicitTLS(tlsConf))
	}

	conn, err := ftp.Dial(addr, options...)
	if err != nil {
		return err
	}
	// Retr has no context of its own; closing the connection aborts it.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Quit()
	})
	defer func() {
		if stop() {
			if err := conn.Quit(); err != nil {
				slog.Debug("failed to close ftp connection", "addr", addr, "error", err)
			}
		}
	}()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return errors.Wrap(err, "ftp login")
	}

	resp, err := conn.Retr(record.BasePath() + p.opts.ProbePath())
	if err != nil {
		return errors.Wrap(err, "ftp retr")
	}
	// the data connection is separate from the control connection and
	// needs its own deadline
	if deadline, ok := ctx.Deadline(); ok {
		if err := resp.SetDeadline(deadline); err != nil {
			_ = resp.Close()
			return errors.Wrap(err, "ftp data deadline")
		}
	}
	stopRead := context.AfterFunc(ctx, func() {
		_ = resp.SetDeadline(time.Now())
	})
	_, err = io.Copy(io.Discard, io.LimitReader(resp, probeReadLimit))
	stopRead()
	if cerr := resp.Close(); cerr != nil && err == nil {
		slog.Debug("failed to close ftp response", "addr", addr, "error", cerr)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
