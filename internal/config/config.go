package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultChainlistURL is the public chain-list aggregator endpoint.
const DefaultChainlistURL = "https://chainlist.org/rpcs.json"

// ProjectFiles are the project config file names looked up in the working directory.
var ProjectFiles = []string{"chainscout.toml", "cs.toml"}

// EnvFiles are loaded before the environment is read. Existing variables win.
var EnvFiles = []string{".env", "env.txt"}

// Config holds all configuration for the CLI and the server.
type Config struct {
	Chainlist ChainlistConfig `toml:"chainlist"`
	Scan      ScanConfig      `toml:"scan"`
	Manifest  ManifestConfig  `toml:"manifest"`
	Probe     ProbeConfig     `toml:"probe"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Remote    RemoteConfig    `toml:"remote"`
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Auth      AuthConfig      `toml:"auth"`
	Logging   LoggingConfig   `toml:"logging"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Proxy     ProxyConfig     `toml:"proxy"`

	// Source is the project file that was applied, empty if none.
	Source string `toml:"-"`
}

// ChainlistConfig holds aggregator settings
type ChainlistConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ScanConfig holds relevance scan settings
type ScanConfig struct {
	Threshold       float64 `toml:"threshold"`
	FindingsPath    string  `toml:"findings_path"`
	Top             int     `toml:"top"`
	IntervalSeconds int     `toml:"interval_seconds"` // server-side schedule, 0 disables
}

// ManifestConfig holds manifest input and output locations
type ManifestConfig struct {
	DeploymentsPath string  `toml:"deployments_path"`
	LookupPath      string  `toml:"lookup_path"`
	OutputDir       string  `toml:"output_dir"`
	MirrorDir       string  `toml:"mirror_dir"`
	TargetChainIDs  []int64 `toml:"target_chain_ids"`
}

// ProbeConfig holds RPC probe settings
type ProbeConfig struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	OutputPath     string `toml:"output_path"`
}

// PipelineConfig holds the supervised step list
type PipelineConfig struct {
	GraceSeconds int            `toml:"grace_seconds"`
	Steps        []PipelineStep `toml:"steps"`
}

// PipelineStep is one supervised command
type PipelineStep struct {
	Name           string   `toml:"name"`
	Command        []string `toml:"command"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	Optional       bool     `toml:"optional"`
}

// RemoteConfig points the CLI at a chainscout-server
type RemoteConfig struct {
	Server string `toml:"server"`
	APIKey string `toml:"-"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int    `toml:"port"`
	Host           string `toml:"host"`
	ReadTimeout    int    `toml:"read_timeout"`  // seconds
	WriteTimeout   int    `toml:"write_timeout"` // seconds
	IdleTimeout    int    `toml:"idle_timeout"`  // seconds
	RequestTimeout int    `toml:"request_timeout"`
	MaxBodyBytes   int64  `toml:"max_body_bytes"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string         `toml:"type"` // "sqlite" or "postgres"
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string `toml:"url"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Type string `toml:"type"` // "none" or "api-key"
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool `toml:"enabled"`
	RequestsPerMin int  `toml:"requests_per_min"`
	BurstSize      int  `toml:"burst_size"`
	CleanupMinutes int  `toml:"cleanup_minutes"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool     `toml:"trust_proxy"`
	TrustedProxies []string `toml:"trusted_proxies"` // CIDR notation
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Chainlist: ChainlistConfig{
			URL:            DefaultChainlistURL,
			TimeoutSeconds: 30,
		},
		Scan: ScanConfig{
			Threshold:    0.8,
			FindingsPath: "relevance_findings.json",
			Top:          30,
		},
		Manifest: ManifestConfig{
			DeploymentsPath: "diamond_deployments.json",
			LookupPath:      "chainlist_rpcs.json",
			OutputDir:       "manifest",
			MirrorDir:       "bridgeworld.lol",
			TargetChainIDs:  []int64{137, 42161, 122, 1285, 3338, 747474},
		},
		Probe: ProbeConfig{
			TimeoutSeconds: 10,
			OutputPath:     "rpc_probe_results.json",
		},
		Pipeline: PipelineConfig{
			GraceSeconds: 2,
		},
		Server: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			ReadTimeout:    30,
			WriteTimeout:   60,
			IdleTimeout:    120,
			RequestTimeout: 90,
			MaxBodyBytes:   1 << 20,
		},
		Storage: StorageConfig{
			Type:   "sqlite",
			SQLite: SQLiteConfig{Path: "./data/chainscout.db"},
		},
		Auth:    AuthConfig{Type: "none"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 300,
			BurstSize:      50,
			CleanupMinutes: 10,
		},
		Metrics: MetricsConfig{Enabled: true},
		Proxy: ProxyConfig{
			TrustedProxies: []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
		},
	}
}

// Load resolves configuration from defaults, the project file and the
// environment, in increasing order of precedence. An empty projectFile
// searches ProjectFiles in the working directory.
func Load(projectFile string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := Default()

	path, err := findProjectFile(projectFile)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		cfg.Source = path
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Scan.Threshold < 0 || c.Scan.Threshold > 1 {
		return fmt.Errorf("scan threshold must be between 0 and 1, got %v", c.Scan.Threshold)
	}
	switch c.Storage.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	switch c.Auth.Type {
	case "none", "api-key":
	default:
		return fmt.Errorf("unsupported auth type: %s", c.Auth.Type)
	}
	for i, step := range c.Pipeline.Steps {
		if step.Name == "" || len(step.Command) == 0 {
			return fmt.Errorf("pipeline step %d needs a name and a command", i+1)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Chainlist.URL = getEnv("CHAINLIST_URL", c.Chainlist.URL)
	c.Chainlist.TimeoutSeconds = getEnvInt("HTTP_TIMEOUT", c.Chainlist.TimeoutSeconds)

	c.Scan.Threshold = getEnvFloat("RELEVANCE_THRESHOLD", c.Scan.Threshold)
	c.Scan.FindingsPath = getEnv("FINDINGS_PATH", c.Scan.FindingsPath)
	c.Scan.IntervalSeconds = getEnvInt("SCAN_INTERVAL_SECONDS", c.Scan.IntervalSeconds)

	c.Manifest.DeploymentsPath = getEnv("DEPLOYMENTS_PATH", c.Manifest.DeploymentsPath)
	c.Manifest.LookupPath = getEnv("CHAIN_LOOKUP_PATH", c.Manifest.LookupPath)
	c.Manifest.OutputDir = getEnv("MANIFEST_DIR", c.Manifest.OutputDir)
	c.Manifest.MirrorDir = getEnv("MANIFEST_MIRROR_DIR", c.Manifest.MirrorDir)

	c.Probe.TimeoutSeconds = getEnvInt("PROBE_TIMEOUT_SECONDS", c.Probe.TimeoutSeconds)

	c.Remote.Server = getEnv("CHAINSCOUT_SERVER", c.Remote.Server)
	c.Remote.APIKey = getEnv("CHAINSCOUT_API_KEY", c.Remote.APIKey)

	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.ReadTimeout = getEnvInt("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvInt("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvInt("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.RequestTimeout = getEnvInt("SERVER_REQUEST_TIMEOUT", c.Server.RequestTimeout)

	c.Storage.Type = getEnv("STORAGE_TYPE", c.Storage.Type)
	c.Storage.Postgres.URL = getEnv("DATABASE_URL", c.Storage.Postgres.URL)
	c.Storage.SQLite.Path = getEnv("SQLITE_PATH", c.Storage.SQLite.Path)

	// If DATABASE_URL is set, default to postgres
	if os.Getenv("STORAGE_TYPE") == "" && c.Storage.Postgres.URL != "" && c.Storage.Type == "sqlite" {
		c.Storage.Type = "postgres"
	}

	c.Auth.Type = getEnv("AUTH_TYPE", c.Auth.Type)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerMin = getEnvInt("RATE_LIMIT_RPM", c.RateLimit.RequestsPerMin)
	c.RateLimit.BurstSize = getEnvInt("RATE_LIMIT_BURST", c.RateLimit.BurstSize)
	c.RateLimit.CleanupMinutes = getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", c.RateLimit.CleanupMinutes)

	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)

	c.Proxy.TrustProxy = getEnvBool("TRUST_PROXY", c.Proxy.TrustProxy)
	c.Proxy.TrustedProxies = getEnvStringSlice("TRUSTED_PROXIES", c.Proxy.TrustedProxies)
}

func loadEnvFiles() error {
	for _, name := range EnvFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("loading %s: %w", name, err)
		}
	}
	return nil
}

func findProjectFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, name := range ProjectFiles {
		_, err := os.Stat(name)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("checking %s: %w", name, err)
		}
	}
	return "", nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
