// Package chainlist fetches and decodes the public chain-list aggregator
// feed and answers lookups over it.
package chainlist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ChainMetadata is one chain record as published by the aggregator.
// Optional values are modelled with pointers. Everything else defaults to its
// zero value.
type ChainMetadata struct {
	ChainID        int64         `json:"chainId"`
	Name           string        `json:"name"`
	Chain          string        `json:"chain"`
	ShortName      string        `json:"shortName,omitempty"`
	RPC            []RPCEndpoint `json:"rpc"`
	IsTestnet      bool          `json:"isTestnet"`
	Parent         *Parent       `json:"parent,omitempty"`
	Explorers      []Explorer    `json:"explorers,omitempty"`
	TVL            *float64      `json:"tvl,omitempty"`
	Features       []Feature     `json:"features,omitempty"`
	Status         string        `json:"status,omitempty"`
	NativeCurrency *Currency     `json:"nativeCurrency,omitempty"`
	InfoURL        string        `json:"infoURL,omitempty"`
}

// Parent links a chain to the chain it settles on.
type Parent struct {
	Type    string   `json:"type,omitempty"`
	Chain   string   `json:"chain,omitempty"`
	Bridges []Bridge `json:"bridges,omitempty"`
}

// Bridge is a canonical bridge of a child chain
type Bridge struct {
	URL string `json:"url"`
}

// Explorer is a block explorer entry
type Explorer struct {
	Name     string `json:"name,omitempty"`
	URL      string `json:"url,omitempty"`
	Standard string `json:"standard,omitempty"`
}

// Feature is a named protocol feature such as EIP1559
type Feature struct {
	Name string `json:"name"`
}

// Currency describes the native gas token
type Currency struct {
	Name     string `json:"name,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals int    `json:"decimals,omitempty"`
}

// RPCEndpoint is an RPC entry. The feed publishes either a bare URL string
// or an object with a url field.
type RPCEndpoint struct {
	URL          string `json:"url"`
	Tracking     string `json:"tracking,omitempty"`
	IsOpenSource *bool  `json:"isOpenSource,omitempty"`
}

// UnmarshalJSON accepts both shapes. Anything else decodes to an empty
// endpoint so that a single bad entry does not reject the chain.
func (e *RPCEndpoint) UnmarshalJSON(data []byte) error {
	*e = RPCEndpoint{}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.URL = s
		return nil
	}

	var obj struct {
		URL          any   `json:"url"`
		Tracking     any   `json:"tracking"`
		IsOpenSource *bool `json:"isOpenSource"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	if u, ok := obj.URL.(string); ok {
		e.URL = u
	}
	if t, ok := obj.Tracking.(string); ok {
		e.Tracking = t
	}
	e.IsOpenSource = obj.IsOpenSource
	return nil
}

// HasFeature reports whether the chain advertises the named feature.
func (c ChainMetadata) HasFeature(name string) bool {
	for _, f := range c.Features {
		if f.Name == name {
			return true
		}
	}
	return false
}

// NativeSymbol returns the native currency symbol, or "".
func (c ChainMetadata) NativeSymbol() string {
	if c.NativeCurrency == nil {
		return ""
	}
	return c.NativeCurrency.Symbol
}

// IsHTTPURL reports whether u uses the http or https scheme.
func IsHTTPURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// HTTPRPCs returns the chain's RPC URLs that use http or https, in feed
// order. Empty and non-HTTP entries (wss, ipc) are dropped.
func HTTPRPCs(c ChainMetadata) []string {
	urls := make([]string, 0, len(c.RPC))
	for _, rpc := range c.RPC {
		if IsHTTPURL(rpc.URL) {
			urls = append(urls, rpc.URL)
		}
	}
	return urls
}

// HTTPRPCCount is len(HTTPRPCs(c)) without the allocation.
func HTTPRPCCount(c ChainMetadata) int {
	n := 0
	for _, rpc := range c.RPC {
		if IsHTTPURL(rpc.URL) {
			n++
		}
	}
	return n
}

// BestRPC picks an endpoint, preferring https over http and falling back to
// the first non-empty entry.
func BestRPC(c ChainMetadata) (string, bool) {
	for _, rpc := range c.RPC {
		if strings.HasPrefix(rpc.URL, "https://") {
			return rpc.URL, true
		}
	}
	for _, rpc := range c.RPC {
		if strings.HasPrefix(rpc.URL, "http://") {
			return rpc.URL, true
		}
	}
	for _, rpc := range c.RPC {
		if rpc.URL != "" {
			return rpc.URL, true
		}
	}
	return "", false
}

// DecodeResult is the outcome of decoding a feed payload.
type DecodeResult struct {
	Chains  []ChainMetadata
	Skipped []SkippedRecord
	// Dropped lists fields that were left at their zero value on records
	// that were otherwise kept.
	Dropped []DroppedField
}

// SkippedRecord describes a feed element that could not be decoded.
type SkippedRecord struct {
	Index int
	Err   error
}

// DroppedField describes a single malformed field of a kept record.
type DroppedField struct {
	Index   int
	ChainID int64
	Field   string
	Err     error
}

// UnmarshalJSON decodes a chain record field by field. A field whose value
// has the wrong shape is left at its zero value. Only a non-object record is
// an error.
func (c *ChainMetadata) UnmarshalJSON(data []byte) error {
	decoded, _, err := decodeChain(data)
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

var errEmptyRecord = errors.New("empty record")

func decodeChain(data []byte) (ChainMetadata, []DroppedField, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return ChainMetadata{}, nil, fmt.Errorf("chain record is not an object: %w", err)
	}
	if fields == nil {
		return ChainMetadata{}, nil, errEmptyRecord
	}

	var c ChainMetadata
	var dropped []DroppedField
	d := fieldDecoder{fields: fields, dropped: &dropped}
	decodeField(d, "chainId", &c.ChainID)
	decodeField(d, "name", &c.Name)
	decodeField(d, "chain", &c.Chain)
	decodeField(d, "shortName", &c.ShortName)
	decodeField(d, "rpc", &c.RPC)
	decodeField(d, "isTestnet", &c.IsTestnet)
	decodeField(d, "parent", &c.Parent)
	decodeField(d, "explorers", &c.Explorers)
	decodeField(d, "tvl", &c.TVL)
	decodeField(d, "features", &c.Features)
	decodeField(d, "status", &c.Status)
	decodeField(d, "nativeCurrency", &c.NativeCurrency)
	decodeField(d, "infoURL", &c.InfoURL)

	for i := range dropped {
		dropped[i].ChainID = c.ChainID
	}
	return c, dropped, nil
}

type fieldDecoder struct {
	fields  map[string]json.RawMessage
	dropped *[]DroppedField
}

// decodeField sets *dst only when the whole value decodes, so a partly
// valid value never leaks into the record.
func decodeField[T any](d fieldDecoder, name string, dst *T) {
	raw, ok := d.fields[name]
	if !ok {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		*d.dropped = append(*d.dropped, DroppedField{Field: name, Err: err})
		return
	}
	*dst = v
}

// Decode parses the aggregator payload, a JSON array of chain records.
// Elements that are not objects are reported in Skipped and left out.
// Malformed fields of kept records are reported in Dropped.
func Decode(r io.Reader) (*DecodeResult, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding chain list: %w", err)
	}

	result := &DecodeResult{Chains: make([]ChainMetadata, 0, len(raw))}
	for i, item := range raw {
		if len(bytes.TrimSpace(item)) == 0 {
			result.Skipped = append(result.Skipped, SkippedRecord{Index: i, Err: errEmptyRecord})
			continue
		}
		c, dropped, err := decodeChain(item)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedRecord{Index: i, Err: err})
			continue
		}
		for _, f := range dropped {
			f.Index = i
			result.Dropped = append(result.Dropped, f)
		}
		result.Chains = append(result.Chains, c)
	}
	return result, nil
}
