// Package evm probes EVM JSON-RPC endpoints listed in a framework manifest.
package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pendergraft/chainscout/internal/manifest"
	"github.com/pendergraft/chainscout/internal/observability/metrics"
	"github.com/pendergraft/chainscout/internal/validation"
)

// Client is the part of an EVM JSON-RPC client the prober uses.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer opens a client for an RPC URL.
type Dialer func(ctx context.Context, url string) (Client, error)

// DialEthclient dials url with go-ethereum's ethclient.
func DialEthclient(ctx context.Context, url string) (Client, error) {
	return ethclient.DialContext(ctx, url)
}

// Endpoint results
const (
	ResultOK       = "ok"
	ResultMismatch = "mismatch"
	ResultError    = "error"
)

// EndpointResult is the outcome of probing one RPC URL.
type EndpointResult struct {
	URL             string `json:"url" yaml:"url"`
	Result          string `json:"result" yaml:"result"`
	ReportedChainID int64  `json:"reportedChainId,omitempty" yaml:"reportedChainId,omitempty"`
	BlockNumber     uint64 `json:"blockNumber,omitempty" yaml:"blockNumber,omitempty"`
	LatencyMS       int64  `json:"latencyMs" yaml:"latencyMs"`
	Error           string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Healthy reports whether the endpoint answered for the expected chain.
func (e EndpointResult) Healthy() bool {
	return e.Result == ResultOK
}

// ChainReport collects endpoint results for one chain.
type ChainReport struct {
	ChainID   int64            `json:"chainId" yaml:"chainId"`
	Name      string           `json:"name" yaml:"name"`
	Healthy   int              `json:"healthy" yaml:"healthy"`
	Endpoints []EndpointResult `json:"endpoints" yaml:"endpoints"`
}

// BestRPC returns the first healthy endpoint, or "" when none answered.
func (c ChainReport) BestRPC() string {
	for _, e := range c.Endpoints {
		if e.Healthy() {
			return e.URL
		}
	}
	return ""
}

// ContractResult is the code check for one deployment.
type ContractResult struct {
	ChainID  int64  `json:"chainId" yaml:"chainId"`
	Address  string `json:"address" yaml:"address"`
	RepoName string `json:"repoName" yaml:"repoName"`
	RPC      string `json:"rpc,omitempty" yaml:"rpc,omitempty"`
	HasCode  bool   `json:"hasCode" yaml:"hasCode"`
	CodeSize int    `json:"codeSize" yaml:"codeSize"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the full probe output.
type Report struct {
	GeneratedAt string           `json:"generatedAt" yaml:"generatedAt"`
	Chains      []ChainReport    `json:"chains" yaml:"chains"`
	Contracts   []ContractResult `json:"contracts" yaml:"contracts"`
}

// Prober checks manifest endpoints one at a time.
type Prober struct {
	dial    Dialer
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Prober.
type Option func(*Prober)

// WithDialer replaces the ethclient dialer.
func WithDialer(d Dialer) Option {
	return func(p *Prober) {
		p.dial = d
	}
}

// WithTimeout bounds each endpoint and contract check.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		p.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		p.logger = l
	}
}

// NewProber creates a Prober with a 10 second per-call budget.
func NewProber(opts ...Option) *Prober {
	p := &Prober{
		dial:    DialEthclient,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProbeEndpoint reads eth_chainId and eth_blockNumber from url. Failures are
// reported in the result, never returned.
func (p *Prober) ProbeEndpoint(ctx context.Context, url string, expected int64) (res EndpointResult) {
	res.URL = url
	start := p.now()
	defer func() {
		res.LatencyMS = p.now().Sub(start).Milliseconds()
		metrics.RPCProbe(res.Result)
	}()

	fail := func(err error) EndpointResult {
		res.Result = ResultError
		res.Error = err.Error()
		return res
	}

	if err := validation.ValidateRPCURL(url); err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, err := p.dial(ctx, url)
	if err != nil {
		return fail(fmt.Errorf("dialing: %w", err))
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		return fail(fmt.Errorf("eth_chainId: %w", err))
	}
	res.ReportedChainID = id.Int64()

	block, err := client.BlockNumber(ctx)
	if err != nil {
		return fail(fmt.Errorf("eth_blockNumber: %w", err))
	}
	res.BlockNumber = block

	if res.ReportedChainID != expected {
		res.Result = ResultMismatch
		res.Error = fmt.Sprintf("expected chain %d, endpoint reports %d", expected, res.ReportedChainID)
		return res
	}
	res.Result = ResultOK
	return res
}

// CheckContract reads the code at address through rpc.
func (p *Prober) CheckContract(ctx context.Context, rpc string, d manifest.Deployment) ContractResult {
	res := ContractResult{ChainID: d.ChainID, Address: d.Address, RepoName: d.RepoName, RPC: rpc}
	if rpc == "" {
		res.Error = "no healthy RPC for chain"
		return res
	}
	if err := validation.ValidateAddress(d.Address); err != nil {
		res.Error = err.Error()
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, err := p.dial(ctx, rpc)
	if err != nil {
		res.Error = fmt.Sprintf("dialing: %v", err)
		return res
	}
	defer client.Close()

	code, err := client.CodeAt(ctx, common.HexToAddress(d.Address), nil)
	if err != nil {
		res.Error = fmt.Sprintf("eth_getCode: %v", err)
		return res
	}
	res.CodeSize = len(code)
	res.HasCode = len(code) > 0
	return res
}

// Probe checks every chain's RPC URLs in order, then checks each deployment
// against the first healthy RPC of its chain. It stops early only when ctx
// is cancelled.
func (p *Prober) Probe(ctx context.Context, m *manifest.Manifest) *Report {
	report := &Report{
		GeneratedAt: p.now().UTC().Format(time.RFC3339),
		Chains:      make([]ChainReport, 0, len(m.Chains)),
		Contracts:   make([]ContractResult, 0, len(m.Deployments)),
	}
	best := make(map[int64]string, len(m.Chains))

	for _, c := range m.Chains {
		cr := ChainReport{ChainID: c.ChainID, Name: c.Name, Endpoints: make([]EndpointResult, 0, len(c.RPCURLs))}
		for _, url := range c.RPCURLs {
			if ctx.Err() != nil {
				return report
			}
			res := p.ProbeEndpoint(ctx, url, c.ChainID)
			if res.Healthy() {
				cr.Healthy++
			}
			p.logger.Debug("probed endpoint", "chain_id", c.ChainID, "url", url, "result", res.Result, "latency_ms", res.LatencyMS)
			cr.Endpoints = append(cr.Endpoints, res)
		}
		if cr.Healthy == 0 {
			p.logger.Warn("no healthy RPC", "chain_id", c.ChainID, "name", c.Name)
		}
		best[c.ChainID] = cr.BestRPC()
		report.Chains = append(report.Chains, cr)
	}

	for _, d := range m.Deployments {
		if ctx.Err() != nil {
			return report
		}
		res := p.CheckContract(ctx, best[d.ChainID], d)
		if res.Error == "" && !res.HasCode {
			p.logger.Warn("no code at deployment address", "chain_id", d.ChainID, "address", d.Address)
		}
		report.Contracts = append(report.Contracts, res)
	}

	return report
}

// WriteReport writes the report as indented JSON.
func WriteReport(path string, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding probe report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
