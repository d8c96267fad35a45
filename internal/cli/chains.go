package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/chainscout/internal/chainlist"
	"github.com/pendergraft/chainscout/internal/relevance"
)

// chainRow is one line of the chains listing.
type chainRow struct {
	ChainID   int64   `json:"chainId"`
	Name      string  `json:"name"`
	Chain     string  `json:"chain"`
	Score     float64 `json:"score"`
	IsTestnet bool    `json:"isTestnet"`
	RPCCount  int     `json:"rpcCount"`
	Native    string  `json:"native,omitempty"`
	BestRPC   string  `json:"bestRpc,omitempty"`
}

func createChainsCmd() *cobra.Command {
	var format string
	var idsOnly bool

	cmd := &cobra.Command{
		Use:   "chains [query...]",
		Short: "Look up chains in the chain list",
		Long: `Look up chains by id or by name. A numeric query matches the chain id
exactly; anything else matches names case-insensitively. Without a query
every chain in the feed is listed.

EXAMPLES:
  chainscout chains arbitrum
  chainscout chains 137 42161
  chainscout chains --ids
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChains(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args, format, idsOnly)
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "output format: table, json or yaml")
	cmd.Flags().BoolVar(&idsOnly, "ids", false, "print only the distinct chain ids, ascending")

	return cmd
}

func runChains(ctx context.Context, out, errOut io.Writer, queries []string, format string, idsOnly bool) error {
	ctx = orBackground(ctx)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format, err = resolveFormat(format, out)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, errOut)

	chains, err := newChainlistClient(cfg, logger).FetchAll(ctx)
	if err != nil {
		return err
	}
	idx := chainlist.NewIndex(chains)

	if idsOnly {
		ids := idx.SupportedChainIDs()
		if format != FormatTable {
			return printStructured(out, format, ids)
		}
		strs := make([]string, len(ids))
		for i, id := range ids {
			strs[i] = fmt.Sprint(id)
		}
		fmt.Fprintln(out, strings.Join(strs, " "))
		return nil
	}

	matches := idx.Chains()
	if len(queries) > 0 {
		matches = nil
		seen := make(map[int64]bool)
		for _, q := range queries {
			for _, c := range idx.Search(q) {
				if !seen[c.ChainID] {
					seen[c.ChainID] = true
					matches = append(matches, c)
				}
			}
		}
	}

	rows := make([]chainRow, len(matches))
	for i, c := range matches {
		best, _ := chainlist.BestRPC(c)
		rows[i] = chainRow{
			ChainID:   c.ChainID,
			Name:      c.Name,
			Chain:     c.Chain,
			Score:     relevance.Round(relevance.Score(c)),
			IsTestnet: c.IsTestnet,
			RPCCount:  chainlist.HTTPRPCCount(c),
			Native:    c.NativeSymbol(),
			BestRPC:   best,
		}
	}

	if format != FormatTable {
		return printStructured(out, format, rows)
	}

	if len(rows) == 0 {
		fmt.Fprintf(out, "No chains match %s (searched %d)\n", strings.Join(queries, ", "), idx.Len())
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCORE\tRPCS\tNATIVE\tBEST RPC")
	for _, r := range rows {
		name := r.Name
		if r.IsTestnet {
			name += " (testnet)"
		}
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%d\t%s\t%s\n", r.ChainID, name, r.Score, r.RPCCount, orDash(r.Native), orDash(r.BestRPC))
	}
	return w.Flush()
}
