package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/chainscout/internal/chainlist"
	"github.com/pendergraft/chainscout/internal/config"
	"github.com/pendergraft/chainscout/internal/relevance"
	"github.com/pendergraft/chainscout/internal/scans/domain"
	"github.com/pendergraft/chainscout/internal/storage"
)

type scanOptions struct {
	threshold *float64
	output    string
	format    string
	top       int
	record    bool
	watch     time.Duration
}

// scanReport is the structured output of one scan.
type scanReport struct {
	ID          string              `json:"id,omitempty" yaml:"id,omitempty"`
	Source      string              `json:"source" yaml:"source"`
	Threshold   float64             `json:"threshold" yaml:"threshold"`
	TotalChains int                 `json:"totalChains" yaml:"totalChains"`
	Skipped     int                 `json:"skipped" yaml:"skipped"`
	Matched     int                 `json:"matched" yaml:"matched"`
	DurationMS  int64               `json:"durationMs" yaml:"durationMs"`
	CreatedAt   string              `json:"createdAt" yaml:"createdAt"`
	Output      string              `json:"output" yaml:"output"`
	Findings    []relevance.Finding `json:"findings" yaml:"findings"`
}

func createScanCmd() *cobra.Command {
	var opts scanOptions
	var threshold float64

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Rank chains by relevance",
		Long: `Fetch the public chain list, score every chain and report those at or
above the relevance threshold, best first.

The findings are written to the findings file on every run.

EXAMPLES:
  # One scan with the configured threshold
  chainscout scan

  # Lower the bar and show the top 10
  chainscout scan --threshold 0.6 --top 10

  # Keep scanning every 5 minutes and record each run
  chainscout scan --watch 5m --record
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("threshold") {
				opts.threshold = &threshold
			}
			return runScan(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0.8, "minimum relevance score (0-1)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "findings file (default from config)")
	cmd.Flags().StringVar(&opts.format, "format", "", "output format: table, json or yaml (default: table on a terminal, json otherwise)")
	cmd.Flags().IntVar(&opts.top, "top", 0, "number of findings to print in table format (default from config)")
	cmd.Flags().BoolVar(&opts.record, "record", false, "store the scan in the scan history database")
	cmd.Flags().DurationVar(&opts.watch, "watch", 0, "repeat the scan at this interval until interrupted")

	return cmd
}

func runScan(ctx context.Context, out, errOut io.Writer, opts scanOptions) error {
	ctx = orBackground(ctx)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format, err := resolveFormat(opts.format, out)
	if err != nil {
		return err
	}
	if opts.output == "" {
		opts.output = cfg.Scan.FindingsPath
	}
	if opts.top <= 0 {
		opts.top = cfg.Scan.Top
	}
	if opts.watch < 0 {
		return errors.New("--watch must be positive")
	}

	logger := newLogger(cfg, errOut)

	var store domain.Store
	if opts.record {
		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		store = st
	}

	svc := domain.LoggingMiddleware(logger)(domain.NewService(newChainlistClient(cfg, logger), store, cfg.Scan.Threshold))

	once := func() error {
		scan, err := svc.Run(ctx, domain.RunRequest{Threshold: opts.threshold, Record: opts.record})
		if err != nil {
			return err
		}
		if err := relevance.WriteFindings(opts.output, scan.Findings); err != nil {
			return err
		}
		return printScan(out, format, opts, scan)
	}

	if opts.watch == 0 {
		return once()
	}

	ticker := time.NewTicker(opts.watch)
	defer ticker.Stop()
	for {
		if err := once(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(errOut, "❌ scan failed: %v\n", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printScan(out io.Writer, format string, opts scanOptions, scan *domain.Scan) error {
	findings := scan.Findings
	if findings == nil {
		findings = []relevance.Finding{}
	}

	if format != FormatTable {
		return printStructured(out, format, scanReport{
			ID:          scan.ID,
			Source:      scan.Source,
			Threshold:   scan.Threshold,
			TotalChains: scan.TotalChains,
			Skipped:     scan.Skipped,
			Matched:     scan.Matched,
			DurationMS:  scan.Duration.Milliseconds(),
			CreatedAt:   scan.CreatedAt.Format(time.RFC3339),
			Output:      opts.output,
			Findings:    findings,
		})
	}

	fmt.Fprintf(out, "Scanned %d chains from %s", scan.TotalChains, scan.Source)
	if scan.Skipped > 0 {
		fmt.Fprintf(out, " (%d malformed records skipped)", scan.Skipped)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "\n%d chains at or above %.0f%% relevance\n", scan.Matched, scan.Threshold*100)
	fmt.Fprintf(out, "Saved to %s\n", opts.output)
	if scan.ID != "" {
		fmt.Fprintf(out, "Recorded as scan %s\n", scan.ID)
	}
	fmt.Fprintln(out)

	for i, f := range findings {
		if i == opts.top {
			fmt.Fprintf(out, "  ... and %d more\n", len(findings)-opts.top)
			break
		}
		fmt.Fprintf(out, "  %3d%%  %s (%d)\n", f.Percent(), f.Name, f.ChainID)
	}
	return nil
}

func newChainlistClient(cfg *config.Config, logger *slog.Logger) *chainlist.Client {
	return chainlist.New(cfg.Chainlist.URL,
		chainlist.WithTimeout(time.Duration(cfg.Chainlist.TimeoutSeconds)*time.Second),
		chainlist.WithLogger(logger),
	)
}

// openStore opens and migrates the scan history database.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}
