// Package relevance scores chain-list records for production relevance and
// ranks them.
package relevance

import (
	"strings"

	"github.com/pendergraft/chainscout/internal/chainlist"
)

// DefaultThreshold is the minimum score a chain needs to be reported.
const DefaultThreshold = 0.8

// Scoring weights. The raw sum is divided by scoreScale and capped at 1.
const (
	weightHasRPC         = 2.5
	weightMainnet        = 1.5
	weightTestnet        = 0.5
	weightManyRPCs       = 1.0
	weightSomeRPCs       = 0.5
	weightRollupParent   = 1.5
	weightOtherParent    = 0.75
	weightExplorer       = 1.0
	weightHighTVL        = 1.0
	weightSomeTVL        = 0.5
	weightEIP1559        = 0.5
	weightActive         = 0.5
	manyRPCsAt           = 3
	highTVLAbove         = 1_000_000
	scoreScale           = 10.0
	featureEIP1559       = "EIP1559"
	statusActive         = "active"
	parentTypeL2         = "L2"
	parentChainEIP155Pfx = "eip155"
)

// RawScore returns the unnormalized sum of the scoring rules. A chain with no
// HTTP RPC endpoint scores 0 regardless of any other attribute.
func RawScore(c chainlist.ChainMetadata) float64 {
	rpcs := chainlist.HTTPRPCCount(c)
	if rpcs == 0 {
		return 0
	}

	score := weightHasRPC

	if c.IsTestnet {
		score += weightTestnet
	} else {
		score += weightMainnet
	}

	if rpcs >= manyRPCsAt {
		score += weightManyRPCs
	} else {
		score += weightSomeRPCs
	}

	if p := c.Parent; p != nil {
		if p.Type == parentTypeL2 || strings.HasPrefix(p.Chain, parentChainEIP155Pfx) {
			score += weightRollupParent
		} else {
			score += weightOtherParent
		}
	}

	if len(c.Explorers) > 0 {
		score += weightExplorer
	}

	if c.TVL != nil {
		switch tvl := *c.TVL; {
		case tvl > highTVLAbove:
			score += weightHighTVL
		case tvl > 0:
			score += weightSomeTVL
		}
	}

	if c.HasFeature(featureEIP1559) {
		score += weightEIP1559
	}

	if c.Status == statusActive {
		score += weightActive
	}

	return score
}

// Score returns the relevance of a chain in [0, 1].
func Score(c chainlist.ChainMetadata) float64 {
	return min(1, RawScore(c)/scoreScale)
}
