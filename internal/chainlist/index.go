package chainlist

import (
	"sort"
	"strconv"
	"strings"
)

// Index answers id and name lookups over one fetch of the feed.
type Index struct {
	chains []ChainMetadata
	byID   map[int64]int
}

// NewIndex indexes chains by id. When an id repeats, the first record wins.
func NewIndex(chains []ChainMetadata) *Index {
	idx := &Index{
		chains: chains,
		byID:   make(map[int64]int, len(chains)),
	}
	for i, c := range chains {
		if _, ok := idx.byID[c.ChainID]; !ok {
			idx.byID[c.ChainID] = i
		}
	}
	return idx
}

// Len returns the number of indexed records
func (idx *Index) Len() int {
	return len(idx.chains)
}

// Chains returns the records in feed order
func (idx *Index) Chains() []ChainMetadata {
	return idx.chains
}

// ByID returns the chain with the given id
func (idx *Index) ByID(id int64) (ChainMetadata, bool) {
	i, ok := idx.byID[id]
	if !ok {
		return ChainMetadata{}, false
	}
	return idx.chains[i], true
}

// Search matches a numeric query against chain ids and anything else
// against chain names, case-insensitively.
func (idx *Index) Search(query string) []ChainMetadata {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	if id, err := strconv.ParseInt(query, 10, 64); err == nil {
		if c, ok := idx.ByID(id); ok {
			return []ChainMetadata{c}
		}
		return nil
	}

	q := strings.ToLower(query)
	var matches []ChainMetadata
	for _, c := range idx.chains {
		if strings.Contains(strings.ToLower(c.Name), q) {
			matches = append(matches, c)
		}
	}
	return matches
}

// SupportedChainIDs returns the distinct chain ids in ascending order
func (idx *Index) SupportedChainIDs() []int64 {
	ids := make([]int64, 0, len(idx.byID))
	for id := range idx.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
