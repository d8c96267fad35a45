package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/chainscout/pkg/client"
)

// ErrInvalidAPIKey is returned when the server rejects a key at login.
var ErrInvalidAPIKey = errors.New("invalid API key")

// Credentials stores API keys per server
type Credentials struct {
	Servers map[string]ServerCredential `yaml:"servers"`
}

// ServerCredential stores credentials for a single server
type ServerCredential struct {
	APIKey string `yaml:"api_key"`
	Name   string `yaml:"name,omitempty"` // key label reported by the server
}

func createAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
	}

	cmd.AddCommand(createAuthLoginCmd())
	cmd.AddCommand(createAuthLogoutCmd())
	cmd.AddCommand(createAuthStatusCmd())

	return cmd
}

func createAuthLoginCmd() *cobra.Command {
	var serverFlag string
	var apiKeyFlag string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with server",
		Long: `Save API key credentials for a chainscout server.

The API key is stored in ~/.chainscout/credentials with secure file permissions.

EXAMPLES:
  # Interactive login (prompts for API key)
  chainscout auth login

  # Login to a specific server
  chainscout auth login --server https://scout.example.com

  # Non-interactive login (for CI)
  chainscout auth login --api-key $CHAINSCOUT_API_KEY
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(cmd.Context(), cmd.OutOrStdout(), serverFlag, apiKeyFlag)
		},
	}

	cmd.Flags().StringVar(&serverFlag, "server", "", "server URL (default from config)")
	cmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "API key (prompts if not provided)")

	return cmd
}

func createAuthLogoutCmd() *cobra.Command {
	var serverFlag string
	var allFlag bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear credentials",
		Long: `Remove saved credentials for a server.

EXAMPLES:
  chainscout auth logout
  chainscout auth logout --server https://scout.example.com
  chainscout auth logout --all
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogout(cmd.OutOrStdout(), serverFlag, allFlag)
		},
	}

	cmd.Flags().StringVar(&serverFlag, "server", "", "server URL (default from config)")
	cmd.Flags().BoolVar(&allFlag, "all", false, "clear all credentials")

	return cmd
}

func createAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus(cmd.OutOrStdout())
		},
	}
}

func runAuthLogin(ctx context.Context, out io.Writer, serverURL, key string) error {
	ctx = orBackground(ctx)
	if serverURL == "" {
		serverURL = getServer()
	}

	if key == "" {
		fmt.Fprintf(out, "Enter API key for %s: ", serverURL)
		var err error
		key, err = readAPIKey(out)
		if err != nil {
			return fmt.Errorf("failed to read API key: %w", err)
		}
	}
	if key == "" {
		return errors.New("API key cannot be empty")
	}

	fmt.Fprintf(out, "Validating credentials with %s...\n", serverURL)
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	info, err := client.New(serverURL, key).VerifyKey(ctx)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			return ErrInvalidAPIKey
		}
		return fmt.Errorf("failed to validate credentials: %w", err)
	}

	if err := saveCredential(serverURL, ServerCredential{APIKey: key, Name: info.Name}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Fprintf(out, "✅ Authenticated to %s (key: %s)\n", serverURL, maskAPIKey(key))
	if info.Auth == "none" {
		fmt.Fprintln(out, "   Note: the server does not require authentication")
	}
	fmt.Fprintf(out, "   Credentials saved to %s\n", credentialsFilePath())

	return nil
}

// readAPIKey reads a key without echo when stdin is a terminal.
func readAPIKey(out io.Writer) (string, error) {
	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		b, err := term.ReadPassword(stdinFd)
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func runAuthLogout(out io.Writer, serverURL string, all bool) error {
	if all {
		if err := os.Remove(credentialsFilePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		fmt.Fprintln(out, "✅ All credentials cleared")
		return nil
	}

	if serverURL == "" {
		serverURL = getServer()
	}

	creds, err := loadCredentials()
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(out, "No credentials found for %s\n", serverURL)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if _, exists := creds.Servers[serverURL]; !exists {
		fmt.Fprintf(out, "No credentials found for %s\n", serverURL)
		return nil
	}
	delete(creds.Servers, serverURL)

	if err := writeCredentials(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Fprintf(out, "✅ Logged out from %s\n", serverURL)
	return nil
}

func runAuthStatus(out io.Writer) error {
	creds, err := loadCredentials()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds == nil || len(creds.Servers) == 0 {
		fmt.Fprintln(out, "Not authenticated to any servers")
		fmt.Fprintln(out, "\nRun 'chainscout auth login' to authenticate")
		return nil
	}

	fmt.Fprintln(out, "Authenticated servers:")
	for _, srv := range sortedServers(creds) {
		cred := creds.Servers[srv]
		masked := maskAPIKey(cred.APIKey)
		if cred.Name != "" {
			fmt.Fprintf(out, "  • %s (%s, key: %s)\n", srv, cred.Name, masked)
		} else {
			fmt.Fprintf(out, "  • %s (key: %s)\n", srv, masked)
		}
	}

	return nil
}

// Credential file helpers

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chainscout"
	}
	return filepath.Join(home, ".chainscout")
}

func credentialsFilePath() string {
	return filepath.Join(credentialsDir(), "credentials")
}

func loadCredentials() (*Credentials, error) {
	data, err := os.ReadFile(credentialsFilePath())
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if creds.Servers == nil {
		creds.Servers = make(map[string]ServerCredential)
	}

	return &creds, nil
}

func writeCredentials(creds *Credentials) error {
	if err := os.MkdirAll(credentialsDir(), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	return os.WriteFile(credentialsFilePath(), data, 0o600)
}

func saveCredential(serverURL string, cred ServerCredential) error {
	creds, err := loadCredentials()
	if errors.Is(err, os.ErrNotExist) {
		creds = &Credentials{Servers: make(map[string]ServerCredential)}
	} else if err != nil {
		return err
	}

	creds.Servers[serverURL] = cred
	return writeCredentials(creds)
}

func getCredential(serverURL string) string {
	creds, err := loadCredentials()
	if err != nil {
		return ""
	}
	return creds.Servers[serverURL].APIKey
}

func sortedServers(creds *Credentials) []string {
	servers := make([]string, 0, len(creds.Servers))
	for s := range creds.Servers {
		servers = append(servers, s)
	}
	sort.Strings(servers)
	return servers
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
