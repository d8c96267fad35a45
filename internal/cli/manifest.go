package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/chainscout/internal/manifest"
)

type manifestOptions struct {
	deployments string
	lookup      string
	outDir      string
	mirrorDir   string
}

func createManifestCmd() *cobra.Command {
	var opts manifestOptions

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Generate the framework manifest",
		Long: `Join the deployments file with the chain RPC lookup and write
framework-manifest.json. When the mirror directory exists the manifest
is copied to <mirror>/manifest as well.

Missing or invalid input files are treated as empty.

EXAMPLES:
  chainscout manifest
  chainscout manifest --deployments deploys.json --out-dir build/manifest
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifest(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.deployments, "deployments", "", "deployments file (default from config)")
	cmd.Flags().StringVar(&opts.lookup, "lookup", "", "chain RPC lookup file (default from config)")
	cmd.Flags().StringVar(&opts.outDir, "out-dir", "", "manifest output directory (default from config)")
	cmd.Flags().StringVar(&opts.mirrorDir, "mirror-dir", "", "mirror directory, used only when it exists (default from config)")

	return cmd
}

func runManifest(out, errOut io.Writer, opts manifestOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, errOut)

	if opts.deployments == "" {
		opts.deployments = cfg.Manifest.DeploymentsPath
	}
	if opts.lookup == "" {
		opts.lookup = cfg.Manifest.LookupPath
	}
	if opts.outDir == "" {
		opts.outDir = cfg.Manifest.OutputDir
	}
	if opts.mirrorDir == "" {
		opts.mirrorDir = cfg.Manifest.MirrorDir
	}

	records := manifest.LoadDeployments(opts.deployments, logger)
	lookup := manifest.LoadLookup(opts.lookup, logger)
	m := manifest.Build(records, lookup, time.Now())

	w := &manifest.Writer{OutputDir: opts.outDir, MirrorDir: opts.mirrorDir, Logger: logger}
	written, err := w.Write(m)
	if err != nil {
		return err
	}

	for _, path := range written[1:] {
		fmt.Fprintf(out, "Manifest copied: %s\n", path)
	}
	fmt.Fprintf(out, "Manifest generated: %s\n", written[0])
	fmt.Fprintf(out, "  Chains: %d\n", len(m.Chains))
	fmt.Fprintf(out, "  Deployments: %d\n", len(m.Deployments))
	return nil
}
