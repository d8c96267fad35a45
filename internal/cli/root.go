package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pendergraft/chainscout/internal/config"
)

// DefaultServer is used when no server is configured anywhere.
const DefaultServer = "http://localhost:8080"

var (
	cfgFile string
	server  string
	apiKey  string
	verbose bool
)

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd(version).ExecuteContext(ctx)
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chainscout",
		Short: "Chain relevance scanner and deployment manifest tool",
		Long: `Chainscout ranks public EVM chains by how useful they are for deploying
a diamond framework, builds the deployment manifest, and checks the
RPC endpoints it lists.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: chainscout.toml or cs.toml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "chainscout-server URL for remote commands")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(createScanCmd())
	rootCmd.AddCommand(createFetchRPCsCmd())
	rootCmd.AddCommand(createChainsCmd())
	rootCmd.AddCommand(createManifestCmd())
	rootCmd.AddCommand(createProbeCmd())
	rootCmd.AddCommand(createPipelineCmd())
	rootCmd.AddCommand(createRemoteCmd())
	rootCmd.AddCommand(createAuthCmd())
	rootCmd.AddCommand(createConfigCmd())

	return rootCmd
}

// loadConfig resolves the project configuration for the current run.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger writes to stderr so stdout stays parseable.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := parseLogLevel(cfg.Logging.Level)
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getServer returns the server URL from flag, env, project config, global
// config, or the default.
func getServer() string {
	// 1. Command line flag
	if server != "" {
		return server
	}

	// 2. Environment variable
	if env := os.Getenv("CHAINSCOUT_SERVER"); env != "" {
		return env
	}

	// 3. Project config file (TOML)
	if cfg := loadProjectConfigSilent(); cfg != nil && cfg.Remote.Server != "" {
		return cfg.Remote.Server
	}

	// 4. Global config (~/.chainscout/config.yaml)
	if global, err := loadGlobalConfig(); err == nil && global.Server != "" {
		return global.Server
	}

	return DefaultServer
}

// getAPIKey returns the API key from flag, env, or credentials file
func getAPIKey() string {
	if apiKey != "" {
		return apiKey
	}

	if env := os.Getenv("CHAINSCOUT_API_KEY"); env != "" {
		return env
	}

	// Credentials file (keyed by server URL)
	if cred := getCredential(getServer()); cred != "" {
		return cred
	}

	return ""
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
