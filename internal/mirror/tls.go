package mirror

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
)

// TLSConfig holds TLS settings used for feed downloads and HTTPS/FTPS probes.
type TLSConfig struct {
	MinVersion         string   `toml:"min_version,omitempty"`
	MaxVersion         string   `toml:"max_version,omitempty"`
	CACertFile         string   `toml:"ca_cert_file,omitempty"`
	ClientCertFile     string   `toml:"client_cert_file,omitempty"`
	ClientKeyFile      string   `toml:"client_key_file,omitempty"`
	ServerName         string   `toml:"server_name,omitempty"`
	CipherSuites       []string `toml:"cipher_suites,omitempty"`
	InsecureSkipVerify bool     `toml:"insecure_skip_verify,omitempty"`
}

var tlsVersions = map[string]uint16{
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

func parseTLSVersion(v string) (uint16, error) {
	version, ok := tlsVersions[v]
	if !ok {
		return 0, errors.Newf("unsupported TLS version %q (use 1.2 or 1.3)", v)
	}
	return version, nil
}

func parseCipherSuite(name string) (uint16, error) {
	for _, suite := range tls.CipherSuites() {
		if suite.Name == name {
			return suite.ID, nil
		}
	}
	for _, suite := range tls.InsecureCipherSuites() {
		if suite.Name == name {
			return 0, errors.Newf("cipher suite %s is insecure", name)
		}
	}
	return 0, errors.Newf("unknown cipher suite %q", name)
}

// Validate checks the TLS settings without loading any files.
func (c *TLSConfig) Validate() error {
	var minVersion, maxVersion uint16
	var err error

	if c.MinVersion != "" {
		if minVersion, err = parseTLSVersion(c.MinVersion); err != nil {
			return errors.Wrap(err, "min_version")
		}
	}
	if c.MaxVersion != "" {
		if maxVersion, err = parseTLSVersion(c.MaxVersion); err != nil {
			return errors.Wrap(err, "max_version")
		}
	}
	if minVersion != 0 && maxVersion != 0 && minVersion > maxVersion {
		return errors.New("min_version cannot be greater than max_version")
	}

	if (c.ClientCertFile == "") != (c.ClientKeyFile == "") {
		return errors.New("both client_cert_file and client_key_file must be specified")
	}

	for _, name := range c.CipherSuites {
		if _, err := parseCipherSuite(name); err != nil {
			return err
		}
	}

	if c.InsecureSkipVerify {
		slog.Warn("TLS certificate verification is disabled")
	}
	return nil
}

// BuildTLSConfig converts the settings to a *tls.Config.  TLS 1.2 is the
// minimum version unless configured otherwise.
func (c *TLSConfig) BuildTLSConfig() (*tls.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify, // #nosec G402 - explicit opt-out
	}
	if c.MinVersion != "" {
		cfg.MinVersion = tlsVersions[c.MinVersion]
	}
	if c.MaxVersion != "" {
		cfg.MaxVersion = tlsVersions[c.MaxVersion]
	}

	for _, name := range c.CipherSuites {
		id, _ := parseCipherSuite(name)
		cfg.CipherSuites = append(cfg.CipherSuites, id)
	}

	if c.CACertFile != "" {
		pem, err := os.ReadFile(c.CACertFile)
		if err != nil {
			return nil, errors.Wrap(err, "read ca_cert_file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Newf("no certificates found in %s", c.CACertFile)
		}
		cfg.RootCAs = pool
	}

	if c.ClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCertFile, c.ClientKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "load client certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
