// Package config assembles the trust core's node configuration from
// sub-structs: NewDefaultConfig, a YAML file overlaid by environment
// variables, and cobra flags layered on top.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Config is the full configuration of a trustctl node.
type Config struct {
	// LogLevel controls the process-wide logger: debug, info, warn, error, fatal.
	LogLevel string

	// Store configures the persistence substrate.
	Store StoreConfig

	// Chain holds the Chain Evaluator's verdict cache size. It is loaded and
	// validated, but chain.New does not read it: the evaluator's cache is
	// fixed at 4096 entries.
	Chain ChainConfig

	// RootSet configures the root-set provider.
	RootSet RootSetConfig

	// Actor configures the trust core actor's mailbox and admission throttle.
	Actor ActorConfig

	// Server configures the debug/introspection HTTP surface.
	Server ServerConfig

	// Metrics configures the Prometheus metrics surface.
	Metrics MetricsConfig
}

// StoreConfig locates the bbolt-backed persistence file and controls the
// automatic checkpoint schedule used by the serve command.
type StoreConfig struct {
	Path             string
	AutoSaveSchedule string
}

// ChainConfig tunes the Chain Evaluator.
type ChainConfig struct {
	CacheSize int
}

// RootSetConfig locates the root-set YAML file and whether it is loaded
// through the reloadable rootset.FileWatchProvider. No trustctl command
// calls its Reload, so the root set stays as loaded at startup either way.
type RootSetConfig struct {
	Path      string
	WatchFile bool
}

// ActorConfig tunes the trust core actor's mailbox and inbound admission
// rate limiter.
type ActorConfig struct {
	MailboxSize    int
	AdmitPerSecond float64
	AdmitBurst     int
}

// ServerConfig contains the debug server's listen configuration. The debug
// surface is read-only and loopback-oriented, so there is no TLS, CORS, or
// auth configuration to carry.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	HealthCheckPath string
	MetricsPath     string
}

// MetricsConfig holds metrics-specific configuration.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// NewDefaultConfig creates a Config with sensible defaults for a single
// embedded node running trustctl locally.
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Store: StoreConfig{
			Path:             "${HOME}/.trustcore/trust.db",
			AutoSaveSchedule: "@every 5m",
		},
		Chain: ChainConfig{
			CacheSize: 4096,
		},
		RootSet: RootSetConfig{
			Path:      "${HOME}/.trustcore/roots.yaml",
			WatchFile: false,
		},
		Actor: ActorConfig{
			MailboxSize:    64,
			AdmitPerSecond: 50,
			AdmitBurst:     100,
		},
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			HealthCheckPath: "/healthz",
			MetricsPath:     "/metrics",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "trustcore",
		},
	}
}

// AddFlags registers the node's configuration on fs, overlaying whatever
// NewDefaultConfig or a loaded file already set.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error, fatal)")
	fs.StringVar(&c.Store.Path, "store-path", c.Store.Path, "Path to the persistence file")
	fs.StringVar(&c.Store.AutoSaveSchedule, "auto-save", c.Store.AutoSaveSchedule, "Cron schedule for automatic persistence checkpoints while serving")
	fs.IntVar(&c.Chain.CacheSize, "chain-cache-size", c.Chain.CacheSize, "Chain Evaluator verdict cache size (validated only; the evaluator uses a fixed 4096-entry cache)")
	fs.StringVar(&c.RootSet.Path, "root-set", c.RootSet.Path, "Path to the root-set YAML file")
	fs.BoolVar(&c.RootSet.WatchFile, "watch-root-set", c.RootSet.WatchFile, "Load the root-set file through a reloadable provider (no command triggers a reload)")
	fs.IntVar(&c.Actor.MailboxSize, "mailbox-size", c.Actor.MailboxSize, "Trust core actor mailbox buffer size")
	fs.Float64Var(&c.Actor.AdmitPerSecond, "admit-rate", c.Actor.AdmitPerSecond, "Sustained certificate/profile admission rate")
	fs.IntVar(&c.Actor.AdmitBurst, "admit-burst", c.Actor.AdmitBurst, "Burst size for admission rate limiting")
}

// AddFlagsToCommand registers the node's configuration as persistent cobra
// flags on cmd.
func (c *Config) AddFlagsToCommand(cmd *cobra.Command) {
	c.AddFlags(cmd.PersistentFlags())
}

// AddServerFlags adds debug-server-specific flags to cmd.
func (c *Config) AddServerFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&c.Server.Port, "port", c.Server.Port, "Debug server listening port")
	cmd.Flags().DurationVar(&c.Server.ReadTimeout, "read-timeout", c.Server.ReadTimeout, "HTTP server read timeout")
	cmd.Flags().DurationVar(&c.Server.WriteTimeout, "write-timeout", c.Server.WriteTimeout, "HTTP server write timeout")
	cmd.Flags().DurationVar(&c.Server.ShutdownTimeout, "shutdown-timeout", c.Server.ShutdownTimeout, "HTTP server shutdown timeout")
}

// ExpandHomeDir expands the ~ or ${HOME} prefix of path to the user's home directory.
func ExpandHomeDir(path string) string {
	if path == "" {
		return path
	}

	if strings.Contains(path, "${HOME}") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = strings.ReplaceAll(path, "${HOME}", homeDir)
		}
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return path
}
