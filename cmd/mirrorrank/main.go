// Package main implements the mirrorrank command-line tool for ranking
// package mirrors.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/mirrorrank/internal/mirror"
	"github.com/mirrorctl/mirrorrank/internal/pool"
)

const (
	defaultConfigPath = "/etc/mirrorrank/mirrorrank.toml"

	// exitNoSelection is returned when no mirror qualified.
	exitNoSelection = 2
)

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "mirrorrank",
	Short: "Rank package mirrors by response time",
	Long: `mirrorrank builds a pacman mirrorlist from the mirrors that answer fastest.

It downloads the mirror status feed, filters the mirrors by country,
protocol and sync state, probes the remaining ones, and writes the
fastest to the mirrorlist.`,
}

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank the mirrors of the selected countries",
	Long: `Probes every mirror of the selected countries and writes them to the
mirrorlist, fastest first.

Usage:
  # Rank the mirrors configured in the configuration file
  mirrorrank rank

  # Rank German and French mirrors over https only
  mirrorrank rank --country Germany,France --protocols https

  # Probe concurrently
  mirrorrank rank --concurrent

  # Shuffle instead of probing
  mirrorrank rank --method random`,
	Args: cobra.NoArgs,
	Run:  runRank,
}

var fasttrackCmd = &cobra.Command{
	Use:   "fasttrack [count]",
	Short: "Write the fastest mirrors of all countries",
	Long: `Probes mirrors from all countries in random order and stops once
count mirrors answered.  Without count, every mirror is probed.

Examples:
  mirrorrank fasttrack 5
  mirrorrank fasttrack 10 --concurrent`,
	Args: cobra.MaximumNArgs(1),
	Run:  runFastTrack,
}

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Rank mirrors and choose which ones to use",
	Long:  `Ranks the mirrors of the selected countries and asks which of them to write.`,
	Args:  cobra.NoArgs,
	Run:   runInteractive,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync state of the mirrors in the mirrorlist",
	Long: `Compares the servers of the current mirrorlist with the status feed.

Exit codes:
  0  all good
  4  the first mirror is not in sync
  5  a mirror is not in the status feed`,
	Args: cobra.NoArgs,
	Run:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("mirrorrank %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	Run:   runValidate,
}

var tlsCheckCmd = &cobra.Command{
	Use:   "tls-check <mirror-url>",
	Short: "Check TLS configuration and capabilities of a mirror",
	Long: `Performs a detailed TLS handshake and certificate check against a mirror.

This command helps diagnose why https or ftps probes of a mirror fail by
testing supported TLS versions, negotiated cipher suites, and examining
the certificate chain.

Examples:
  mirrorrank tls-check https://mirror.example.org/manjaro/
  mirrorrank tls-check mirror.example.org:8443`,
	Args: cobra.ExactArgs(1),
	Run:  runTLSCheck,
}

func init() {
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(fasttrackCmd)
	rootCmd.AddCommand(interactiveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(tlsCheckCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress all output except for errors")

	for _, cmd := range []*cobra.Command{rankCmd, fasttrackCmd, interactiveCmd} {
		addRankFlags(cmd)
	}
	statusCmd.Flags().Bool("no-update", false, "use the cached status feed")
}

func addRankFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("country", nil, "countries to use (\"all\" for every country)")
	cmd.Flags().StringSlice("protocols", nil, "allowed protocols in order of preference")
	cmd.Flags().String("method", "", "ranking method (rank, random)")
	cmd.Flags().String("branch", "", "release branch (stable, testing, unstable)")
	cmd.Flags().Float64("timeout", 0, "base probe timeout in seconds")
	cmd.Flags().Int("interval", 0, "drop mirrors not synced within this many hours (with --no-status)")
	cmd.Flags().Bool("concurrent", false, "probe mirrors concurrently")
	cmd.Flags().Bool("no-ssl-verify", false, "do not verify TLS certificates of mirrors")
	cmd.Flags().Bool("no-status", false, "ignore branch status, filter by sync interval")
	cmd.Flags().Bool("no-update", false, "use the cached feeds")
	cmd.Flags().StringP("output", "o", "", "write the mirrorlist to this file")
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err) // Full details with stack trace
	}

	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}
	return err.Error()
}

// analyzeUndecoded examines undecoded TOML keys and provides helpful suggestions
func analyzeUndecoded(undecoded []toml.Key) (suggestions []string, unknown []string) {
	for _, key := range undecoded {
		keyStr := key.String()
		switch {
		case strings.HasPrefix(keyStr, "logging."):
			suggestions = append(suggestions, fmt.Sprintf("Key '%s' should be in section '[log]'", keyStr))
		case strings.HasPrefix(keyStr, "ssl."):
			suggestions = append(suggestions, fmt.Sprintf("Key '%s' should be in section '[tls]'", keyStr))
		case keyStr == "country":
			suggestions = append(suggestions, "Key 'country' should be 'countries'")
		case keyStr == "protocol":
			suggestions = append(suggestions, "Key 'protocol' should be 'protocols'")
		default:
			unknown = append(unknown, keyStr)
		}
	}
	return suggestions, unknown
}

// formatUndecodedError builds a user-friendly error message for undecoded TOML keys
func formatUndecodedError(undecoded []toml.Key) string {
	suggestions, unknown := analyzeUndecoded(undecoded)

	var errorMsg strings.Builder
	if len(suggestions) > 0 {
		errorMsg.WriteString("configuration contains keys that don't match expected structure:\n")
		for _, suggestion := range suggestions {
			errorMsg.WriteString("  • " + suggestion + "\n")
		}
		errorMsg.WriteString("\nNote: Configuration keys are case-sensitive and must match exactly.")
	}

	if len(unknown) > 0 {
		if errorMsg.Len() > 0 {
			errorMsg.WriteString("\n\nAdditionally, found unknown keys: ")
		} else {
			errorMsg.WriteString("configuration contains unknown keys: ")
		}
		errorMsg.WriteString(fmt.Sprintf("%v", unknown))
		errorMsg.WriteString("\nThese keys don't match any expected configuration structure.")
	}

	return errorMsg.String()
}

// loadConfig decodes the configuration file and applies the log settings.
func loadConfig(cmd *cobra.Command) *mirror.Config {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config := mirror.NewConfig()
	meta, err := toml.DecodeFile(configPath, config)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Error("configuration file not found", "path", configPath)
			slog.Info("Please create a configuration file at the default location or specify one with the --config flag.")
			os.Exit(1)
		}
		slog.Error("failed to decode config file", "error", formatError(err, verboseErrors), "path", configPath)
		os.Exit(1)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		slog.Error("configuration validation failed", "error", formatUndecodedError(undecoded), "path", configPath)
		os.Exit(1)
	}

	if err := config.Log.Apply(); err != nil {
		slog.Error("failed to apply log config", "error", err)
		os.Exit(1)
	}

	if logLevel != "" {
		config.Log.Level = logLevel
		if err := config.Log.Apply(); err != nil {
			slog.Error("failed to apply command-line log level", "level", logLevel, "error", err)
			os.Exit(1)
		}
		slog.Debug("log level successfully overridden from command line", "level", logLevel)
	}

	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		config.Log.Level = "error"
		if err := config.Log.Apply(); err != nil {
			slog.Error("failed to apply quiet log level", "error", err)
			os.Exit(1)
		}
	}
	return config
}

// applyFlags copies the rank flags that were set on the command line into
// config.
func applyFlags(cmd *cobra.Command, config *mirror.Config) {
	flags := cmd.Flags()
	if flags.Changed("country") {
		config.Countries, _ = flags.GetStringSlice("country")
	}
	if flags.Changed("protocols") {
		config.Protocols, _ = flags.GetStringSlice("protocols")
	}
	if flags.Changed("method") {
		config.Method, _ = flags.GetString("method")
	}
	if flags.Changed("branch") {
		config.Branch, _ = flags.GetString("branch")
	}
	if flags.Changed("timeout") {
		config.Timeout, _ = flags.GetFloat64("timeout")
	}
	if flags.Changed("interval") {
		config.Interval, _ = flags.GetInt("interval")
	}
	if flags.Changed("concurrent") {
		config.Concurrent, _ = flags.GetBool("concurrent")
	}
	if noVerify, _ := flags.GetBool("no-ssl-verify"); noVerify {
		config.SSLVerify = false
	}
	if flags.Changed("no-status") {
		config.NoStatus, _ = flags.GetBool("no-status")
	}
	if flags.Changed("output") {
		config.MirrorList, _ = flags.GetString("output")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runPipeline(cmd *cobra.Command, params mirror.RunParams) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config := loadConfig(cmd)
	applyFlags(cmd, config)
	if err := config.Check(); err != nil {
		slog.Error("invalid configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	params.Quiet, _ = cmd.Flags().GetBool("quiet")
	params.NoUpdate, _ = cmd.Flags().GetBool("no-update")

	ctx, cancel := signalContext()
	defer cancel()

	err := mirror.Run(ctx, config, params)
	if errors.Is(err, mirror.ErrNoSelection) {
		slog.Warn("no mirrors selected, mirrorlist left unchanged", "path", config.MirrorList)
		cancel()
		os.Exit(exitNoSelection)
	}
	if err != nil {
		slog.Error("mirrorrank run failed", "error", formatError(err, verboseErrors))
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		cancel()
		os.Exit(1)
	}
}

func runRank(cmd *cobra.Command, _ []string) {
	runPipeline(cmd, mirror.RunParams{Mode: mirror.ModeRank})
}

func runFastTrack(cmd *cobra.Command, args []string) {
	limit := 0
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			slog.Error("invalid mirror count", "count", args[0])
			os.Exit(1)
		}
		limit = n
	}
	runPipeline(cmd, mirror.RunParams{Mode: mirror.ModeFastTrack, Limit: limit})
}

func runInteractive(cmd *cobra.Command, _ []string) {
	runPipeline(cmd, mirror.RunParams{
		Mode:      mirror.ModeInteractive,
		Presenter: &mirror.ConsolePresenter{In: os.Stdin, Out: os.Stdout},
	})
}

func runStatus(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")
	noUpdate, _ := cmd.Flags().GetBool("no-update")
	config := loadConfig(cmd)
	if err := config.Check(); err != nil {
		slog.Error("invalid configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	code, err := mirror.Status(ctx, config, os.Stdout, noUpdate)
	if err != nil {
		slog.Error("status check failed", "error", formatError(err, verboseErrors))
	}
	cancel()
	os.Exit(code)
}

func runValidate(cmd *cobra.Command, _ []string) {
	config := loadConfig(cmd)

	var validationErrors []error
	if err := config.Check(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "config"))
	}
	if _, err := config.TLS.BuildTLSConfig(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "tls"))
	}

	if len(validationErrors) > 0 {
		slog.Error("the toml configuration file is not valid")
		for _, err := range validationErrors {
			slog.Error(err.Error())
		}
		os.Exit(1)
	}

	slog.Info("the toml configuration file passes validation checks")
}

// tlsTarget returns host and port of a mirror URL or host[:port].
func tlsTarget(arg string) (string, string) {
	scheme := pool.SchemeOf(arg)
	record := pool.MirrorRecord{URL: pool.StripScheme(arg)}
	hostport := record.Host()

	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
		port = "443"
		if scheme == "ftps" {
			port = "21"
		}
	}
	return host, port
}

func runTLSCheck(cmd *cobra.Command, args []string) {
	config := loadConfig(cmd)

	host, port := tlsTarget(args[0])
	fmt.Printf("Checking TLS status for %s:%s...\n\n", host, port)

	checkTLSVersions(config, host, port)
	checkCertificateDetails(config, host, port)

	fmt.Println("TLS check complete.")
}

func checkTLSVersions(config *mirror.Config, host, port string) {
	fmt.Println("[+] TLS Version Support:")

	tlsVersions := []struct {
		version uint16
		name    string
	}{
		{tls.VersionTLS10, "TLS 1.0"},
		{tls.VersionTLS11, "TLS 1.1"},
		{tls.VersionTLS12, "TLS 1.2"},
		{tls.VersionTLS13, "TLS 1.3"},
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	for _, tlsVer := range tlsVersions {
		tlsConf, err := config.TLS.BuildTLSConfig()
		if err != nil {
			fmt.Printf("    %s: Error building TLS config (%v)\n", tlsVer.name, err)
			continue
		}
		tlsConf.MinVersion = tlsVer.version
		tlsConf.MaxVersion = tlsVer.version

		conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(host, port), tlsConf)
		if err != nil {
			fmt.Printf("    %s: Not Supported (%v)\n", tlsVer.name, err)
		} else {
			fmt.Printf("    %s: Supported\n", tlsVer.name)
			conn.Close()
		}
	}
	fmt.Println()
}

func checkCertificateDetails(config *mirror.Config, host, port string) {
	fmt.Println("[+] Connection Details:")

	tlsConf, err := config.TLS.BuildTLSConfig()
	if err != nil {
		fmt.Printf("Error building TLS config: %v\n", err)
		return
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(host, port), tlsConf)
	if err != nil {
		fmt.Printf("Failed to establish connection: %v\n", err)
		return
	}
	defer conn.Close()

	connState := conn.ConnectionState()
	fmt.Printf("    Negotiated Version: %s\n", tlsVersionString(connState.Version))
	fmt.Printf("    Negotiated Cipher:  %s\n", tls.CipherSuiteName(connState.CipherSuite))
	fmt.Println()

	fmt.Println("[+] Server Certificate Chain:")
	for i, cert := range connState.PeerCertificates {
		fmt.Printf("    - Cert %d:\n", i)
		fmt.Printf("      Subject:  %s\n", cert.Subject.CommonName)
		fmt.Printf("      Issuer:   %s\n", cert.Issuer.CommonName)
		fmt.Printf("      Expires:  %s\n", cert.NotAfter.Format(time.RFC3339))
		if i < len(connState.PeerCertificates)-1 {
			fmt.Println()
		}
	}
	fmt.Println()
}

func tlsVersionString(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("Unknown (0x%04x)", version)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
