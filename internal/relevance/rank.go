package relevance

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/pendergraft/chainscout/internal/chainlist"
)

// ScoredChain pairs a chain with its relevance score.
type ScoredChain struct {
	Chain chainlist.ChainMetadata
	Score float64
}

// Rank scores every chain, keeps those scoring at least threshold and
// orders them by descending score. Equal scores keep their input order.
func Rank(chains []chainlist.ChainMetadata, threshold float64) []ScoredChain {
	ranked := make([]ScoredChain, 0, len(chains))
	for _, c := range chains {
		if s := Score(c); s >= threshold {
			ranked = append(ranked, ScoredChain{Chain: c, Score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Finding is the reported form of a ranked chain.
type Finding struct {
	ChainID   int64             `json:"chainId" yaml:"chainId"`
	Name      string            `json:"name" yaml:"name"`
	Chain     string            `json:"chain" yaml:"chain"`
	ShortName string            `json:"shortName,omitempty" yaml:"shortName,omitempty"`
	Score     float64           `json:"score" yaml:"score"`
	TVL       *float64          `json:"tvl,omitempty" yaml:"tvl,omitempty"`
	IsTestnet bool              `json:"isTestnet" yaml:"isTestnet"`
	Parent    *chainlist.Parent `json:"parent,omitempty" yaml:"parent,omitempty"`
	RPCCount  int               `json:"rpcCount" yaml:"rpcCount"`
}

// Percent returns the score as a whole percentage.
func (f Finding) Percent() int {
	return int(math.Round(f.Score * 100))
}

// Round rounds a score to two decimals, the precision findings carry.
func Round(score float64) float64 {
	return math.Round(score*100) / 100
}

// Findings converts ranked chains into findings, rounding scores to two
// decimals.
func Findings(ranked []ScoredChain) []Finding {
	out := make([]Finding, 0, len(ranked))
	for _, sc := range ranked {
		c := sc.Chain
		out = append(out, Finding{
			ChainID:   c.ChainID,
			Name:      c.Name,
			Chain:     c.Chain,
			ShortName: c.ShortName,
			Score:     Round(sc.Score),
			TVL:       c.TVL,
			IsTestnet: c.IsTestnet,
			Parent:    c.Parent,
			RPCCount:  chainlist.HTTPRPCCount(c),
		})
	}
	return out
}

// WriteFindings writes findings as indented JSON, replacing the file.
func WriteFindings(path string, findings []Finding) error {
	if findings == nil {
		findings = []Finding{}
	}
	data, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding findings: %w", err)
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
