// Package manifest builds the framework manifest: the chains known
// deployments live on, with RPC endpoints, and the deployments themselves.
package manifest

import (
	"fmt"
	"strconv"
	"time"
)

// MaxRPCPerChain caps the RPC endpoints listed per chain.
const MaxRPCPerChain = 8

// FileName is the manifest file name inside the output directory.
const FileName = "framework-manifest.json"

// FallbackChainIDs are listed when no deployment names a chain.
var FallbackChainIDs = []int64{137, 42161}

// timeFormat matches JavaScript's Date.toISOString.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Manifest is the generated artifact.
type Manifest struct {
	GeneratedAt string       `json:"generatedAt"`
	Chains      []Chain      `json:"chains"`
	Deployments []Deployment `json:"deployments"`
}

// Chain is a manifest chain entry
type Chain struct {
	ChainID      int64    `json:"chainId"`
	Name         string   `json:"name"`
	RPCURLs      []string `json:"rpcUrls"`
	NativeSymbol string   `json:"nativeSymbol,omitempty"`
}

// Deployment is a manifest deployment entry
type Deployment struct {
	Address  string `json:"address"`
	RepoName string `json:"repoName"`
	ChainID  int64  `json:"chainId"`
	Network  string `json:"network"`
}

// Build assembles a manifest. It does no I/O; now stamps generatedAt.
//
// Chains are listed once per distinct chain id among deployments that carry
// both a positive chain id and an address, in first-seen order, or the
// fallback ids when there are none.
func Build(records []DeploymentRecord, lookup map[string]LookupRecord, now time.Time) *Manifest {
	m := &Manifest{
		GeneratedAt: now.UTC().Format(timeFormat),
		Chains:      []Chain{},
		Deployments: []Deployment{},
	}

	var chainIDs []int64
	seen := make(map[int64]bool)
	for _, d := range records {
		id, ok := d.usableChainID()
		if !ok || d.ResolvedAddress() == "" {
			continue
		}
		if !seen[id] {
			seen[id] = true
			chainIDs = append(chainIDs, id)
		}
	}
	if len(chainIDs) == 0 {
		chainIDs = append(chainIDs, FallbackChainIDs...)
	}

	for _, id := range chainIDs {
		m.Chains = append(m.Chains, buildChain(id, lookup))
	}

	for _, d := range records {
		id, ok := d.usableChainID()
		address := d.ResolvedAddress()
		if !ok || address == "" {
			continue
		}
		repo := d.RepoName
		if repo == "" {
			repo = "unknown"
		}
		network := d.Network
		if network == "" {
			network = fmt.Sprintf("chain-%d", id)
		}
		m.Deployments = append(m.Deployments, Deployment{
			Address:  address,
			RepoName: repo,
			ChainID:  id,
			Network:  network,
		})
	}

	return m
}

func buildChain(id int64, lookup map[string]LookupRecord) Chain {
	chain := Chain{
		ChainID: id,
		Name:    fmt.Sprintf("Chain %d", id),
		RPCURLs: []string{},
	}

	entry, ok := lookup[strconv.FormatInt(id, 10)]
	if !ok {
		return chain
	}
	if entry.Name != "" {
		chain.Name = entry.Name
	}
	for _, rpc := range entry.RPC {
		if len(chain.RPCURLs) == MaxRPCPerChain {
			break
		}
		if rpc.URL != "" {
			chain.RPCURLs = append(chain.RPCURLs, rpc.URL)
		}
	}
	if entry.NativeCurrency != nil {
		chain.NativeSymbol = entry.NativeCurrency.Symbol
	}
	return chain
}

// ChainIDs returns the chain ids listed in the manifest.
func (m *Manifest) ChainIDs() []int64 {
	ids := make([]int64, len(m.Chains))
	for i, c := range m.Chains {
		ids[i] = c.ChainID
	}
	return ids
}
