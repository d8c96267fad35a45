package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/chainscout/internal/config"
)

// GlobalConfig is the per-user configuration (stored in ~/.chainscout/config.yaml)
type GlobalConfig struct {
	Server string `yaml:"server"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var serverURL string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a chainscout.toml configuration file in the current directory.

EXAMPLES:
  # Create config with default settings
  chainscout config init

  # Point remote commands at a shared server
  chainscout config init --server https://scout.example.com

  # Overwrite existing config
  chainscout config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), serverURL, force)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", DefaultServer, "server URL")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display every configuration source and the effective values.

EXAMPLES:
  chainscout config show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout())
		},
	}
}

const configTemplate = `# chainscout project configuration

[chainlist]
url = %q
timeout_seconds = 30

[scan]
threshold = 0.8
findings_path = "relevance_findings.json"
top = 30

[manifest]
deployments_path = "diamond_deployments.json"
lookup_path = "chainlist_rpcs.json"
output_dir = "manifest"
mirror_dir = "bridgeworld.lol"
# Chains fetch-rpcs looks up when the deployments file names none
target_chain_ids = [137, 42161, 122, 1285, 3338, 747474]

[probe]
timeout_seconds = 10
output_path = "rpc_probe_results.json"

[remote]
server = %q

# Custom pipeline. Without steps, 'chainscout pipeline' runs
# fetch-rpcs, scan and manifest.
# [pipeline]
# grace_seconds = 2
#
# [[pipeline.steps]]
# name = "scan"
# command = ["chainscout", "scan", "--format", "json"]
# timeout_seconds = 120
# optional = true
`

func runConfigInit(out io.Writer, serverURL string, force bool) error {
	configPath := config.ProjectFiles[0]

	for _, name := range config.ProjectFiles {
		if _, err := os.Stat(name); err == nil && !force {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", name)
		}
	}

	content := fmt.Sprintf(configTemplate, config.DefaultChainlistURL, serverURL)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(out, "Created %s\n", configPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Edit %s to customize settings\n", configPath)
	fmt.Fprintln(out, "  2. Run 'chainscout scan' to rank chains")
	fmt.Fprintln(out, "  3. Run 'chainscout pipeline' to refresh RPCs, scan and build the manifest")

	return nil
}

func runConfigShow(out io.Writer) error {
	fmt.Fprintln(out, "Configuration sources (in order of precedence):")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "1. Command line flags")
	fmt.Fprintln(out, "   --server, --api-key, --config")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "2. Environment variables")
	for _, name := range []string{"CHAINSCOUT_SERVER", "CHAINSCOUT_API_KEY", "CHAINLIST_URL", "RELEVANCE_THRESHOLD"} {
		value := os.Getenv(name)
		switch {
		case value == "":
			value = "(not set)"
		case name == "CHAINSCOUT_API_KEY":
			value = maskAPIKey(value)
		}
		fmt.Fprintf(out, "   %s=%s\n", name, value)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "3. Local project config (%s or %s)\n", config.ProjectFiles[0], config.ProjectFiles[1])
	cfg, err := loadConfig()
	switch {
	case err != nil:
		fmt.Fprintf(out, "   Error: %v\n", err)
	case cfg.Source == "":
		fmt.Fprintln(out, "   (not found)")
	default:
		fmt.Fprintf(out, "   Loaded from: %s\n", cfg.Source)
		fmt.Fprintf(out, "   chainlist.url: %s\n", cfg.Chainlist.URL)
		fmt.Fprintf(out, "   scan.threshold: %v\n", cfg.Scan.Threshold)
		fmt.Fprintf(out, "   manifest.deployments_path: %s\n", cfg.Manifest.DeploymentsPath)
		fmt.Fprintf(out, "   manifest.output_dir: %s\n", cfg.Manifest.OutputDir)
		if len(cfg.Pipeline.Steps) > 0 {
			fmt.Fprintf(out, "   pipeline.steps: %s\n", pipelineStepNames(cfg.Pipeline.Steps))
		}
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "4. Global config (%s)\n", globalConfigPath())
	global, err := loadGlobalConfig()
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintln(out, "   (not found)")
	case err != nil:
		fmt.Fprintf(out, "   Error: %v\n", err)
	case global.Server != "":
		fmt.Fprintf(out, "   server: %s\n", global.Server)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "5. Credentials (%s)\n", credentialsFilePath())
	creds, err := loadCredentials()
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintln(out, "   (not found)")
	case err != nil:
		fmt.Fprintf(out, "   Error: %v\n", err)
	case len(creds.Servers) == 0:
		fmt.Fprintln(out, "   (no credentials stored)")
	default:
		for _, srv := range sortedServers(creds) {
			fmt.Fprintf(out, "   %s: %s\n", srv, maskAPIKey(creds.Servers[srv].APIKey))
		}
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Effective configuration:")
	fmt.Fprintf(out, "   Server:  %s\n", getServer())
	if key := getAPIKey(); key != "" {
		fmt.Fprintf(out, "   API Key: %s\n", maskAPIKey(key))
	} else {
		fmt.Fprintln(out, "   API Key: (not set)")
	}

	return nil
}

// loadProjectConfigSilent loads the project config, returning nil when it
// cannot be read. Parse failures are reported on stderr.
func loadProjectConfigSilent() *config.Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		return nil
	}
	return cfg
}

func globalConfigPath() string {
	return filepath.Join(credentialsDir(), "config.yaml")
}

func loadGlobalConfig() (*GlobalConfig, error) {
	data, err := os.ReadFile(globalConfigPath())
	if err != nil {
		return nil, err
	}
	var global GlobalConfig
	if err := yaml.Unmarshal(data, &global); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", globalConfigPath(), err)
	}
	return &global, nil
}

func pipelineStepNames(steps []config.PipelineStep) string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return fmt.Sprint(names)
}
