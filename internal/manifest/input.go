package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/pendergraft/chainscout/internal/chainlist"
)

// DeploymentRecord is one entry of the deployments file. Unknown fields are
// ignored.
type DeploymentRecord struct {
	RepoName       string `json:"repoName,omitempty"`
	RepoURL        string `json:"repoUrl,omitempty"`
	DiamondAddress string `json:"diamondAddress,omitempty"`
	Address        string `json:"address,omitempty"`
	ChainID        *int64 `json:"chainId,omitempty"`
	Network        string `json:"network,omitempty"`
	DeployedAt     string `json:"deployedAt,omitempty"`
	Verified       bool   `json:"verified,omitempty"`
}

// ResolvedAddress prefers the diamond proxy address over the plain address.
func (d DeploymentRecord) ResolvedAddress() string {
	if d.DiamondAddress != "" {
		return d.DiamondAddress
	}
	return d.Address
}

func (d DeploymentRecord) usableChainID() (int64, bool) {
	if d.ChainID == nil || *d.ChainID <= 0 {
		return 0, false
	}
	return *d.ChainID, true
}

// LookupRecord is the part of a chain RPC lookup entry the manifest uses.
type LookupRecord struct {
	Name           string                  `json:"name"`
	RPC            []chainlist.RPCEndpoint `json:"rpc"`
	NativeCurrency *chainlist.Currency     `json:"nativeCurrency,omitempty"`
}

// LoadDeployments reads the deployments file. It accepts a top-level array
// or an object with a "deployments" array. A missing or unreadable file
// yields no records; malformed records are skipped.
func LoadDeployments(path string, logger *slog.Logger) []DeploymentRecord {
	data, ok := readInput(path, "deployments", logger)
	if !ok {
		return nil
	}

	var items []json.RawMessage
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			logger.Warn("ignoring invalid deployments file", "path", path, "error", err)
			return nil
		}
	} else {
		var wrapper struct {
			Deployments json.RawMessage `json:"deployments"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			logger.Warn("ignoring invalid deployments file", "path", path, "error", err)
			return nil
		}
		if err := json.Unmarshal(wrapper.Deployments, &items); err != nil {
			logger.Warn("deployments file has no deployments array", "path", path)
			return nil
		}
	}

	records := make([]DeploymentRecord, 0, len(items))
	for i, item := range items {
		var d DeploymentRecord
		if err := json.Unmarshal(item, &d); err != nil {
			logger.Warn("skipping malformed deployment", "path", path, "index", i, "error", err)
			continue
		}
		records = append(records, d)
	}
	return records
}

// LoadLookup reads the chain RPC lookup file keyed by stringified chain id.
// A missing or unreadable file yields an empty lookup; malformed entries
// are skipped.
func LoadLookup(path string, logger *slog.Logger) map[string]LookupRecord {
	lookup := make(map[string]LookupRecord)

	data, ok := readInput(path, "chain lookup", logger)
	if !ok {
		return lookup
	}

	var items map[string]json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		logger.Warn("ignoring invalid chain lookup file", "path", path, "error", err)
		return lookup
	}

	for key, item := range items {
		var r LookupRecord
		if err := json.Unmarshal(item, &r); err != nil {
			logger.Warn("skipping malformed chain lookup entry", "path", path, "chainId", key, "error", err)
			continue
		}
		lookup[key] = r
	}
	return lookup
}

func readInput(path, what string, logger *slog.Logger) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("input file not found, treating as empty", "input", what, "path", path)
		return nil, false
	}
	if err != nil {
		logger.Warn("cannot read input file, treating as empty", "input", what, "path", path, "error", err)
		return nil, false
	}
	return data, true
}

// DeploymentChainIDs returns the distinct positive chain ids named by
// records, in first-seen order. Records without an address still count.
func DeploymentChainIDs(records []DeploymentRecord) []int64 {
	var ids []int64
	seen := make(map[int64]bool)
	for _, d := range records {
		id, ok := d.usableChainID()
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
