package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pendergraft/chainscout/internal/chainlist"
	"github.com/pendergraft/chainscout/internal/config"
	"github.com/pendergraft/chainscout/internal/manifest"
	"github.com/pendergraft/chainscout/internal/validation"
)

// maxListedRPCs caps the RPC URLs printed per chain.
const maxListedRPCs = 5

func createFetchRPCsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch-rpcs [chainId...]",
		Short: "Build the chain RPC lookup file",
		Long: `Look up chains in the public chain list and write their HTTP RPC
endpoints, explorers and currency to the lookup file the manifest
command reads.

Without arguments the chains come from the deployments file, or the
configured target chains when it names none.

EXAMPLES:
  chainscout fetch-rpcs
  chainscout fetch-rpcs 137 42161
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseChainIDs(args)
			if err != nil {
				return err
			}
			return runFetchRPCs(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), ids, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "lookup file (default from config)")

	return cmd
}

func parseChainIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q", arg)
		}
		if err := validation.ValidateChainID(id); err != nil {
			return nil, fmt.Errorf("invalid chain id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func runFetchRPCs(ctx context.Context, out, errOut io.Writer, ids []int64, output string) error {
	ctx = orBackground(ctx)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, errOut)
	if output == "" {
		output = cfg.Manifest.LookupPath
	}
	if len(ids) == 0 {
		ids = defaultChainIDs(cfg)
	}

	fmt.Fprintln(out, "Fetching chain data from the chain list...")
	fmt.Fprintln(out)

	chains, err := newChainlistClient(cfg, logger).FetchAll(ctx)
	if err != nil {
		return err
	}

	lookup, found, missing := chainlist.BuildLookup(chainlist.NewIndex(chains), ids)
	for _, id := range missing {
		fmt.Fprintf(out, "⚠️  Chain %d not found in the chain list\n", id)
	}
	for _, entry := range found {
		fmt.Fprintf(out, "✅ %s (chainId %d): %d HTTP RPC(s)\n", entry.Name, entry.ChainID, len(entry.RPC))
	}

	fmt.Fprintln(out, "\n--- Summary ---")
	fmt.Fprintln(out)
	for _, entry := range found {
		printLookupEntry(out, entry)
	}

	if err := chainlist.WriteLookup(output, lookup); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %d chains to %s\n", len(found), output)
	return nil
}

func printLookupEntry(out io.Writer, e chainlist.LookupEntry) {
	fmt.Fprintf(out, "%s (%s)\n", e.Name, e.Chain)
	fmt.Fprintf(out, "  chainId: %d\n", e.ChainID)
	fmt.Fprintf(out, "  shortName: %s\n", orDash(e.ShortName))
	if e.NativeCurrency != nil {
		fmt.Fprintf(out, "  native: %s (%s)\n", orDash(e.NativeCurrency.Symbol), orDash(e.NativeCurrency.Name))
	} else {
		fmt.Fprintln(out, "  native: -")
	}
	fmt.Fprintf(out, "  info: %s\n", orDash(e.InfoURL))
	if len(e.Explorers) > 0 {
		urls := make([]string, len(e.Explorers))
		for i, x := range e.Explorers {
			urls[i] = x.URL
		}
		fmt.Fprintf(out, "  explorers: %s\n", strings.Join(urls, ", "))
	}
	fmt.Fprintf(out, "  RPC (HTTP): %d\n", len(e.RPC))
	for i, u := range e.RPC {
		if i == maxListedRPCs {
			fmt.Fprintf(out, "    ... and %d more\n", len(e.RPC)-maxListedRPCs)
			break
		}
		fmt.Fprintf(out, "    %d. %s\n", i+1, u)
	}
	fmt.Fprintln(out)
}

// defaultChainIDs prefers the chains of the deployments file over the
// configured targets.
func defaultChainIDs(cfg *config.Config) []int64 {
	records := manifest.LoadDeployments(cfg.Manifest.DeploymentsPath, discardLogger())
	if ids := manifest.DeploymentChainIDs(records); len(ids) > 0 {
		return ids
	}
	return cfg.Manifest.TargetChainIDs
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
