package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/chainscout/internal/config"
	"github.com/pendergraft/chainscout/internal/observability/metrics"
	"github.com/pendergraft/chainscout/internal/server"
	"github.com/pendergraft/chainscout/internal/storage"
)

var (
	version = "dev"
	cfgFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "chainscout-server",
		Short:        "Chainscout server - scan history and manifest API",
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: chainscout.toml or cs.toml)")

	// Default behavior (no subcommand) is to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe()
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newKeysCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}

	cmd.AddCommand(newKeysCreateCmd())
	cmd.AddCommand(newKeysListCmd())
	cmd.AddCommand(newKeysRevokeCmd())

	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	var name string
	var outputFile string
	var quiet bool
	var show bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Create a new API key for triggering scans.

By default, the key is written to a file in the current directory.
The key is only shown once - it cannot be retrieved later.

EXAMPLES:
  # Create key, write to file (default)
  chainscout-server keys create --name "ci-scan"

  # Create key, print only (for piping to secrets manager)
  chainscout-server keys create --name "ci-scan" --quiet | gh secret set CHAINSCOUT_API_KEY

  # Create key, display on screen
  chainscout-server keys create --name "ci-scan" --show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysCreate(cmd.Context(), cmd.OutOrStdout(), name, outputFile, quiet, show)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "name/label for the key (required)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write key to file (default: ./chainscout-key-{name}.txt)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the key (for piping)")
	cmd.Flags().BoolVar(&show, "show", false, "display key on screen")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysList(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func newKeysRevokeCmd() *cobra.Command {
	var keyID string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key",
		Long: `Revoke an API key to prevent further use.

Use 'chainscout-server keys list' to find the key ID. The 8-character
prefix shown there is enough.

EXAMPLES:
  chainscout-server keys revoke --id 1b4e28ba
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysRevoke(cmd.Context(), cmd.OutOrStdout(), keyID)
		},
	}

	cmd.Flags().StringVar(&keyID, "id", "", "key ID to revoke (required)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

// Key management commands

// openKeyStore opens storage with a logger quiet enough for terminal use.
func openKeyStore(ctx context.Context) (storage.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.New(cfg.Storage, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

func runKeysCreate(ctx context.Context, out io.Writer, name, outputFile string, quiet, show bool) error {
	store, err := openKeyStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	key, err := store.CreateAPIKey(ctx, name)
	if err != nil {
		return fmt.Errorf("creating API key: %w", err)
	}

	if quiet {
		fmt.Fprintln(out, key)
		return nil
	}

	if show {
		fmt.Fprintln(out, "⚠️  API key (save this - it cannot be retrieved later):")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "   ", key)
		fmt.Fprintln(out)
		return nil
	}

	if outputFile == "" {
		outputFile = fmt.Sprintf("./chainscout-key-%s.txt", name)
	}

	if dir := filepath.Dir(outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}

	if err := os.WriteFile(outputFile, []byte(key+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing key to file: %w", err)
	}

	fmt.Fprintf(out, "✅ API key created: %s\n", name)
	fmt.Fprintf(out, "   Written to: %s (mode 0600)\n", outputFile)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "   ⚠️  This key cannot be retrieved later. Keep it safe!")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "   Usage:")
	fmt.Fprintln(out, "     export CHAINSCOUT_API_KEY=$(cat", outputFile+")")
	fmt.Fprintln(out, "     chainscout remote trigger")

	return nil
}

func runKeysList(ctx context.Context, out io.Writer) error {
	store, err := openKeyStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Fprintln(out, "No API keys found")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Create one with: chainscout-server keys create --name \"my-key\"")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != "" {
			lastUsed = k.LastUsedAt
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(k.ID), k.Name, k.CreatedAt, lastUsed)
	}
	return w.Flush()
}

func runKeysRevoke(ctx context.Context, out io.Writer, keyID string) error {
	store, err := openKeyStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	fullKeyID, err := matchKeyID(keys, keyID)
	if err != nil {
		return err
	}

	if err := store.RevokeAPIKey(ctx, fullKeyID); err != nil {
		return fmt.Errorf("revoking API key: %w", err)
	}

	fmt.Fprintf(out, "✅ API key revoked: %s\n", keyID)
	return nil
}

// matchKeyID resolves a full key ID or the 8-character prefix that
// 'keys list' prints. Ambiguous prefixes are rejected.
func matchKeyID(keys []storage.APIKey, keyID string) (string, error) {
	var matches []string
	for _, k := range keys {
		if k.ID == keyID {
			return k.ID, nil
		}
		if len(keyID) >= 8 && len(k.ID) >= len(keyID) && k.ID[:len(keyID)] == keyID {
			matches = append(matches, k.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("key not found: %s", keyID)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("key prefix %s matches %d keys, use the full ID", keyID, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

// Server command

func runServe() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg)
	logger.Info("starting chainscout-server", "version", version)

	metrics.Init(cfg.Metrics.Enabled, "chainscout-server")

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	srv, err := server.New(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	background := make(chan error, 1)
	go func() {
		background <- srv.RunBackground(ctx)
	}()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		stop()
		<-background
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	if err := <-background; err != nil {
		logger.Warn("background tasks stopped with error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", "chainscout-server")
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
