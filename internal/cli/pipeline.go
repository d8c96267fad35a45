package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/chainscout/internal/config"
	"github.com/pendergraft/chainscout/internal/supervisor"
)

// ErrPipelineFailed is returned when a required pipeline step fails.
var ErrPipelineFailed = errors.New("pipeline failed: a required step did not succeed")

// Default step budgets.
const (
	fetchRPCsTimeout = 60 * time.Second
	scanTimeout      = 120 * time.Second
	manifestTimeout  = 60 * time.Second
)

// executable locates the binary the default pipeline re-invokes.
var executable = os.Executable

func createPipelineCmd() *cobra.Command {
	var live bool

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run the configured steps under supervision",
		Long: `Run each pipeline step as a child process with its own timeout.
A step that overruns gets SIGTERM and, after the grace period, SIGKILL.
Failures do not stop later steps; the command fails when a required
step did not succeed.

Steps come from [[pipeline.steps]] in the project config. Without any,
chainscout runs fetch-rpcs (when the lookup file is missing), scan and
manifest.

EXAMPLES:
  chainscout pipeline
  chainscout pipeline --live
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), live)
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "stream step output to stderr while it runs")

	return cmd
}

func runPipeline(ctx context.Context, out, errOut io.Writer, live bool) error {
	ctx = orBackground(ctx)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, errOut)

	steps, err := pipelineSteps(cfg, out)
	if err != nil {
		return err
	}

	opts := []supervisor.Option{supervisor.WithLogger(logger)}
	if cfg.Pipeline.GraceSeconds > 0 {
		opts = append(opts, supervisor.WithGrace(time.Duration(cfg.Pipeline.GraceSeconds)*time.Second))
	}
	if live {
		opts = append(opts, supervisor.WithLiveOutput(errOut))
	}
	sup := supervisor.New(opts...)

	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintln(out, "  PIPELINE")
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintln(out)

	summary := sup.RunPipeline(ctx, steps, func(r supervisor.Result) {
		printStepResult(out, r)
	})

	printPipelineSummary(out, summary)

	if err := ctx.Err(); err != nil {
		return err
	}
	if !summary.RequiredOK() {
		return ErrPipelineFailed
	}
	return nil
}

// pipelineSteps returns the configured steps, or the default
// fetch-rpcs/scan/manifest sequence run through this binary.
func pipelineSteps(cfg *config.Config, out io.Writer) ([]supervisor.Step, error) {
	if len(cfg.Pipeline.Steps) > 0 {
		steps := make([]supervisor.Step, len(cfg.Pipeline.Steps))
		for i, s := range cfg.Pipeline.Steps {
			steps[i] = supervisor.Step{
				Name:     s.Name,
				Command:  s.Command,
				Timeout:  time.Duration(s.TimeoutSeconds) * time.Second,
				Optional: s.Optional,
			}
		}
		return steps, nil
	}

	exe, err := executable()
	if err != nil {
		return nil, fmt.Errorf("locating chainscout binary: %w", err)
	}
	self := func(args ...string) []string {
		argv := []string{exe}
		if cfgFile != "" {
			argv = append(argv, "--config", cfgFile)
		}
		return append(argv, args...)
	}

	var steps []supervisor.Step
	if _, err := os.Stat(cfg.Manifest.LookupPath); err != nil {
		fmt.Fprintf(out, "  📡 %s missing, fetching RPCs first\n\n", cfg.Manifest.LookupPath)
		steps = append(steps, supervisor.Step{
			Name:     "fetch-rpcs",
			Command:  self("fetch-rpcs"),
			Timeout:  fetchRPCsTimeout,
			Optional: true,
		})
	} else {
		fmt.Fprintf(out, "  ✅ %s present\n\n", cfg.Manifest.LookupPath)
	}

	steps = append(steps,
		supervisor.Step{
			Name:     "scan",
			Command:  self("scan", "--format", "json"),
			Timeout:  scanTimeout,
			Optional: true,
		},
		supervisor.Step{
			Name:    "manifest",
			Command: self("manifest"),
			Timeout: manifestTimeout,
		},
	)
	return steps, nil
}

func printStepResult(out io.Writer, r supervisor.Result) {
	icon := "✅"
	switch {
	case r.OK():
	case r.Optional:
		icon = "⏳"
	default:
		icon = "❌"
	}

	label := "required"
	if r.Optional {
		label = "optional"
	}
	fmt.Fprintf(out, "  %s %s (%s) %s in %s\n", icon, r.Name, label, r.Status(), r.Duration.Round(time.Millisecond))
	if r.Err != nil {
		fmt.Fprintf(out, "     %v\n", r.Err)
	}
	if !r.OK() && r.Output != "" {
		for _, line := range lastLines(r.Output, 5) {
			fmt.Fprintf(out, "     | %s\n", line)
		}
	}
}

func printPipelineSummary(out io.Writer, s *supervisor.Summary) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 60))
	fmt.Fprintln(out, "  SUMMARY")
	fmt.Fprintln(out, strings.Repeat("-", 60))

	required := s.Required()
	if s.RequiredOK() {
		fmt.Fprintf(out, "  Required: all ok (%s)\n", supervisor.Names(required))
	} else {
		var failed []supervisor.Result
		for _, r := range required {
			if !r.OK() {
				failed = append(failed, r)
			}
		}
		fmt.Fprintf(out, "  Required: FAILED (%s)\n", supervisor.Names(failed))
	}

	ok, total := s.OptionalCounts()
	fmt.Fprintf(out, "  Optional: %d/%d ok\n", ok, total)
}

func lastLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
