package mirror

import (
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	defaultWorkDir    = "/var/lib/mirrorrank"
	defaultMirrorList = "/etc/pacman.d/mirrorlist"
	defaultBranch     = "stable"
	defaultArch       = "x86_64"
	defaultTestFile   = "core.db.tar.gz"
	defaultTimeout    = 2.0
	defaultStatusURL  = "https://repo.manjaro.org/status.json"
	defaultMirrorsURL = "https://repo.manjaro.org/mirrors.json"

	statusFilename  = "status.json"
	mirrorsFilename = "mirrors.json"
)

// knownProtocols are the schemes a mirror can be probed with.
var knownProtocols = map[string]bool{
	"https": true,
	"http":  true,
	"ftps":  true,
	"ftp":   true,
}

// LogConfig represents slog configuration options
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Apply configures the global slog logger based on the configuration
func (logConfig *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + logConfig.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logConfig.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + logConfig.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := mirror.NewConfig()
//	md, err := toml.DecodeFile("/path/to/mirrorrank.toml", config)
//	if err != nil {
//	    ...
//	}
type Config struct {
	WorkDir    string `toml:"work_dir"`
	MirrorList string `toml:"mirror_list"`

	Branch    string   `toml:"branch"`
	Arch      string   `toml:"arch"`
	Method    string   `toml:"method"`
	Countries []string `toml:"countries"`
	Protocols []string `toml:"protocols"`
	TestFile  string   `toml:"test_file"`

	// Timeout is the base probe timeout in seconds.
	Timeout float64 `toml:"timeout"`

	// Interval drops mirrors whose last sync is this many hours old or
	// older.  It only applies with no_status; zero disables it.
	Interval int `toml:"interval"`

	NoStatus   bool `toml:"no_status"`
	Concurrent bool `toml:"concurrent"`
	SSLVerify  bool `toml:"ssl_verify"`

	StatusFile  string `toml:"status_file"`
	MirrorFile  string `toml:"mirror_file"`
	StatusURL   string `toml:"status_url"`
	MirrorsURL  string `toml:"mirrors_url"`
	PGPKeyPath  string `toml:"pgp_key_path,omitempty"`
	MetricsFile string `toml:"metrics_file,omitempty"`

	Log LogConfig `toml:"log"`
	TLS TLSConfig `toml:"tls"`
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	return &Config{
		WorkDir:    defaultWorkDir,
		MirrorList: defaultMirrorList,
		Branch:     defaultBranch,
		Arch:       defaultArch,
		Method:     string(MethodRank),
		TestFile:   defaultTestFile,
		Timeout:    defaultTimeout,
		SSLVerify:  true,
		StatusURL:  defaultStatusURL,
		MirrorsURL: defaultMirrorsURL,
	}
}

// StatusPath returns the location of the cached status feed.
func (c *Config) StatusPath() string {
	if c.StatusFile != "" {
		return c.StatusFile
	}
	return filepath.Join(c.WorkDir, statusFilename)
}

// MirrorPath returns the location of the cached plain mirror feed.
func (c *Config) MirrorPath() string {
	if c.MirrorFile != "" {
		return c.MirrorFile
	}
	return filepath.Join(c.WorkDir, mirrorsFilename)
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.WorkDir == "" {
		return errors.New("work_dir is not set")
	}
	if !path.IsAbs(c.WorkDir) {
		return errors.New("work_dir must be an absolute path")
	}
	if c.MirrorList == "" {
		return errors.New("mirror_list is not set")
	}

	if _, ok := archPrefixes[c.Arch]; !ok {
		return errors.Newf("unsupported arch %q", c.Arch)
	}
	if branchIndex(c.Branch) < 0 {
		return errors.Newf("unknown branch %q", c.Branch)
	}
	if _, err := ParseMethod(c.Method); err != nil {
		return err
	}
	if c.TestFile == "" || strings.Contains(c.TestFile, "/") {
		return errors.Newf("invalid test_file %q", c.TestFile)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.Interval < 0 {
		return errors.New("interval cannot be negative")
	}

	for _, p := range c.Protocols {
		if !knownProtocols[p] {
			return errors.Newf("unknown protocol %q", p)
		}
	}

	for _, u := range []string{c.StatusURL, c.MirrorsURL} {
		if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return errors.Newf("unsupported feed URL %q", u)
		}
	}

	if c.PGPKeyPath != "" {
		if !path.IsAbs(c.PGPKeyPath) {
			return errors.New("pgp_key_path must be an absolute path")
		}
		if _, err := os.Stat(c.PGPKeyPath); os.IsNotExist(err) {
			return errors.New("pgp_key_path does not exist: " + c.PGPKeyPath)
		} else if err != nil {
			return errors.Wrap(err, "cannot access pgp_key_path")
		}
	}

	if err := c.TLS.Validate(); err != nil {
		return errors.Wrap(err, "tls")
	}
	return nil
}

// Options builds the immutable run options from the configuration.
// Check must have succeeded before.
func (c *Config) Options(quiet bool) (*Options, error) {
	method, err := ParseMethod(c.Method)
	if err != nil {
		return nil, err
	}

	var countries []string
	for _, country := range c.Countries {
		if strings.EqualFold(country, "all") {
			countries = nil
			break
		}
		countries = append(countries, country)
	}

	return &Options{
		Branch:     archPrefixes[c.Arch] + c.Branch,
		Arch:       c.Arch,
		Countries:  countries,
		Protocols:  append([]string(nil), c.Protocols...),
		Method:     method,
		Timeout:    time.Duration(c.Timeout * float64(time.Second)),
		Concurrent: c.Concurrent,
		SSLVerify:  c.SSLVerify && !c.TLS.InsecureSkipVerify,
		Quiet:      quiet,
		NoStatus:   c.NoStatus,
		Interval:   c.Interval,
		TestFile:   c.TestFile,
	}, nil
}
