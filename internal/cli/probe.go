package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/chainscout/internal/chains/evm"
	"github.com/pendergraft/chainscout/internal/manifest"
)

type probeOptions struct {
	manifest string
	timeout  time.Duration
	output   string
	format   string
}

func createProbeCmd() *cobra.Command {
	var opts probeOptions

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check manifest RPC endpoints and deployments",
		Long: `Dial every RPC URL in the manifest, compare the chain id it reports
and read the head block. Each deployment is then checked for bytecode
through the first healthy RPC of its chain.

Endpoint failures are recorded in the report and never abort the run.

EXAMPLES:
  chainscout probe
  chainscout probe --timeout 5s --output probe.json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.manifest, "manifest", "", "manifest file (default: <manifest.output_dir>/framework-manifest.json)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "per-call timeout (default from config)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "report file (default from config)")
	cmd.Flags().StringVar(&opts.format, "format", "", "output format: table, json or yaml")

	return cmd
}

func runProbe(ctx context.Context, out, errOut io.Writer, opts probeOptions) error {
	ctx = orBackground(ctx)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, errOut)
	format, err := resolveFormat(opts.format, out)
	if err != nil {
		return err
	}

	if opts.manifest == "" {
		opts.manifest = (&manifest.Writer{OutputDir: cfg.Manifest.OutputDir}).Path()
	}
	if opts.timeout <= 0 {
		opts.timeout = time.Duration(cfg.Probe.TimeoutSeconds) * time.Second
	}
	if opts.output == "" {
		opts.output = cfg.Probe.OutputPath
	}

	m, err := manifest.Read(opts.manifest)
	if err != nil {
		return fmt.Errorf("%w (run 'chainscout manifest' first)", err)
	}

	prober := evm.NewProber(evm.WithTimeout(opts.timeout), evm.WithLogger(logger))
	report := prober.Probe(ctx, m)
	if err := evm.WriteReport(opts.output, report); err != nil {
		return err
	}

	if format != FormatTable {
		return printStructured(out, format, report)
	}

	printProbeReport(out, report)
	fmt.Fprintf(out, "\nSaved report to %s\n", opts.output)
	return ctx.Err()
}

func printProbeReport(out io.Writer, report *evm.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN\tNAME\tHEALTHY\tBEST RPC")
	for _, c := range report.Chains {
		best := c.BestRPC()
		if best == "" {
			best = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%d/%d\t%s\n", c.ChainID, c.Name, c.Healthy, len(c.Endpoints), best)
	}
	w.Flush()

	for _, c := range report.Chains {
		for _, e := range c.Endpoints {
			if !e.Healthy() {
				fmt.Fprintf(out, "⚠️  %d %s: %s %s\n", c.ChainID, e.URL, e.Result, e.Error)
			}
		}
	}

	if len(report.Contracts) == 0 {
		return
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN\tADDRESS\tREPO\tCODE")
	for _, c := range report.Contracts {
		status := fmt.Sprintf("✅ %d bytes", c.CodeSize)
		switch {
		case c.Error != "":
			status = "❌ " + c.Error
		case !c.HasCode:
			status = "❌ no code"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ChainID, c.Address, c.RepoName, status)
	}
	w.Flush()
}
