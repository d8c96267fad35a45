package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/chainscout/internal/validation"
	"github.com/pendergraft/chainscout/pkg/client"
)

func createRemoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Query a chainscout server",
		Long: `Read scan history from a chainscout-server, trigger scans on it and
fetch the manifest it serves.

The server comes from --server, CHAINSCOUT_SERVER, [remote] in the
project config or ~/.chainscout/config.yaml.`,
	}

	cmd.AddCommand(createRemoteScansCmd())
	cmd.AddCommand(createRemoteLatestCmd())
	cmd.AddCommand(createRemoteShowCmd())
	cmd.AddCommand(createRemoteTriggerCmd())
	cmd.AddCommand(createRemoteManifestCmd())

	return cmd
}

func newRemoteClient() *client.Client {
	return client.New(getServer(), getAPIKey())
}

func createRemoteScansCmd() *cobra.Command {
	var limit int
	var cursor string
	var format string

	cmd := &cobra.Command{
		Use:   "scans",
		Short: "List recorded scans",
		Long: `List recorded scans, newest first.

EXAMPLES:
  chainscout remote scans
  chainscout remote scans --limit 5 --cursor 42
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteScans(cmd.Context(), cmd.OutOrStdout(), limit, cursor, format)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum scans to list")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue from a previous page")
	cmd.Flags().StringVar(&format, "format", "", "output format: table, json or yaml")

	return cmd
}

func createRemoteLatestCmd() *cobra.Command {
	var format string
	var top int

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the most recent scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteScan(cmd.Context(), cmd.OutOrStdout(), "", format, top)
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "output format: table, json or yaml")
	cmd.Flags().IntVar(&top, "top", 30, "number of findings to print in table format")

	return cmd
}

func createRemoteShowCmd() *cobra.Command {
	var format string
	var top int

	cmd := &cobra.Command{
		Use:   "show <scan-id>",
		Short: "Show one recorded scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteScan(cmd.Context(), cmd.OutOrStdout(), args[0], format, top)
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "output format: table, json or yaml")
	cmd.Flags().IntVar(&top, "top", 30, "number of findings to print in table format")

	return cmd
}

func createRemoteTriggerCmd() *cobra.Command {
	var threshold float64
	var format string

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Run and record a scan on the server",
		Long: `Ask the server to scan now. Requires an API key when the server
runs with AUTH_TYPE=api-key.

EXAMPLES:
  chainscout remote trigger
  chainscout remote trigger --threshold 0.7
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var t *float64
			if cmd.Flags().Changed("threshold") {
				if err := validation.ValidateThreshold(threshold); err != nil {
					return err
				}
				t = &threshold
			}
			return runRemoteTrigger(cmd.Context(), cmd.OutOrStdout(), t, format)
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0.8, "minimum relevance score (0-1, default: server setting)")
	cmd.Flags().StringVar(&format, "format", "", "output format: table, json or yaml")

	return cmd
}

func createRemoteManifestCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Fetch the manifest the server publishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteManifest(cmd.Context(), cmd.OutOrStdout(), format)
		},
	}

	cmd.Flags().StringVar(&format, "format", FormatJSON, "output format: table, json or yaml")

	return cmd
}

func runRemoteScans(ctx context.Context, out io.Writer, limit int, cursor, format string) error {
	format, err := resolveFormat(format, out)
	if err != nil {
		return err
	}

	resp, err := newRemoteClient().ListScans(orBackground(ctx), limit, cursor)
	if err != nil {
		return fmt.Errorf("listing scans: %w", err)
	}
	if format != FormatTable {
		return printStructured(out, format, resp)
	}

	if len(resp.Data) == 0 {
		fmt.Fprintln(out, "No scans recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tTHRESHOLD\tCHAINS\tMATCHED\tDURATION")
	for _, s := range resp.Data {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%d\t%dms\n", s.ID, s.CreatedAt, s.Threshold, s.TotalChains, s.Matched, s.DurationMS)
	}
	w.Flush()

	if resp.Pagination.HasMore {
		fmt.Fprintf(out, "\nMore scans: --cursor %s\n", resp.Pagination.NextCursor)
	}
	return nil
}

func runRemoteScan(ctx context.Context, out io.Writer, id, format string, top int) error {
	format, err := resolveFormat(format, out)
	if err != nil {
		return err
	}

	c := newRemoteClient()
	var scan *client.Scan
	if id == "" {
		scan, err = c.LatestScan(orBackground(ctx))
	} else {
		scan, err = c.GetScan(orBackground(ctx), id)
	}
	if client.IsNotFound(err) {
		if id == "" {
			return fmt.Errorf("no scans recorded on %s", getServer())
		}
		return fmt.Errorf("scan %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("getting scan: %w", err)
	}

	return printRemoteScan(out, format, scan, top)
}

func runRemoteTrigger(ctx context.Context, out io.Writer, threshold *float64, format string) error {
	format, err := resolveFormat(format, out)
	if err != nil {
		return err
	}

	scan, err := newRemoteClient().TriggerScan(orBackground(ctx), threshold)
	if err != nil {
		return fmt.Errorf("triggering scan: %w", err)
	}
	return printRemoteScan(out, format, scan, 30)
}

func runRemoteManifest(ctx context.Context, out io.Writer, format string) error {
	format, err := resolveFormat(format, out)
	if err != nil {
		return err
	}

	m, err := newRemoteClient().GetManifest(orBackground(ctx))
	if client.IsNotFound(err) {
		return fmt.Errorf("%s has not generated a manifest yet", getServer())
	}
	if err != nil {
		return fmt.Errorf("getting manifest: %w", err)
	}
	if format != FormatTable {
		return printStructured(out, format, m)
	}

	fmt.Fprintf(out, "Generated: %s\n\n", m.GeneratedAt)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN\tNAME\tRPCS\tNATIVE")
	for _, c := range m.Chains {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", c.ChainID, c.Name, len(c.RPCURLs), orDash(c.NativeSymbol))
	}
	w.Flush()

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN\tADDRESS\tREPO\tNETWORK")
	for _, d := range m.Deployments {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.ChainID, d.Address, d.RepoName, d.Network)
	}
	w.Flush()
	return nil
}

func printRemoteScan(out io.Writer, format string, scan *client.Scan, top int) error {
	if format != FormatTable {
		return printStructured(out, format, scan)
	}

	fmt.Fprintf(out, "Scan %s (%s)\n", scan.ID, scan.CreatedAt)
	fmt.Fprintf(out, "  Source:    %s\n", scan.Source)
	fmt.Fprintf(out, "  Chains:    %d (%d skipped)\n", scan.TotalChains, scan.Skipped)
	fmt.Fprintf(out, "  Matched:   %d at threshold %.2f\n", scan.Matched, scan.Threshold)
	fmt.Fprintf(out, "  Duration:  %dms\n", scan.DurationMS)
	fmt.Fprintln(out)

	for i, f := range scan.Findings {
		if top > 0 && i == top {
			fmt.Fprintf(out, "  ... and %d more\n", len(scan.Findings)-top)
			break
		}
		fmt.Fprintf(out, "  %3.0f%%  %s (%d)\n", f.Score*100, f.Name, f.ChainID)
	}
	return nil
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
