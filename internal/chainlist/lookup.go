package chainlist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LookupEntry is the per-chain record of the RPC lookup file consumed by the
// manifest generator.
type LookupEntry struct {
	ChainID        int64        `json:"chainId"`
	Name           string       `json:"name"`
	Chain          string       `json:"chain"`
	ShortName      string       `json:"shortName,omitempty"`
	NativeCurrency *Currency    `json:"nativeCurrency,omitempty"`
	InfoURL        string       `json:"infoURL,omitempty"`
	Explorers      []LookupLink `json:"explorers,omitempty"`
	RPC            []string     `json:"rpc"`
}

// LookupLink is a trimmed explorer entry
type LookupLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Lookup maps a stringified chain id to its entry.
type Lookup map[string]LookupEntry

// NewLookupEntry projects a feed record onto the lookup shape, keeping only
// HTTP RPC endpoints.
func NewLookupEntry(c ChainMetadata) LookupEntry {
	entry := LookupEntry{
		ChainID:        c.ChainID,
		Name:           c.Name,
		Chain:          c.Chain,
		ShortName:      c.ShortName,
		NativeCurrency: c.NativeCurrency,
		InfoURL:        c.InfoURL,
		RPC:            HTTPRPCs(c),
	}
	for _, e := range c.Explorers {
		entry.Explorers = append(entry.Explorers, LookupLink{Name: e.Name, URL: e.URL})
	}
	return entry
}

// BuildLookup collects entries for the requested ids. Ids the feed does not
// know are returned in missing, in request order.
func BuildLookup(idx *Index, ids []int64) (lookup Lookup, found []LookupEntry, missing []int64) {
	lookup = make(Lookup, len(ids))
	for _, id := range ids {
		key := strconv.FormatInt(id, 10)
		if _, dup := lookup[key]; dup {
			continue
		}
		c, ok := idx.ByID(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		entry := NewLookupEntry(c)
		lookup[key] = entry
		found = append(found, entry)
	}
	return lookup, found, missing
}

// WriteLookup writes the lookup file as indented JSON, replacing any
// previous content.
func WriteLookup(path string, lookup Lookup) error {
	data, err := json.MarshalIndent(lookup, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding lookup: %w", err)
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
