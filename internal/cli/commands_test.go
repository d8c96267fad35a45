package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/chainscout/internal/chainlist"
	"github.com/pendergraft/chainscout/internal/chains/evm"
	"github.com/pendergraft/chainscout/internal/manifest"
	"github.com/pendergraft/chainscout/internal/relevance"
	"github.com/pendergraft/chainscout/internal/scans/domain"
	"github.com/pendergraft/chainscout/internal/storage"
)

// Arbitrum scores 0.9, Goerli 0.35; Polygon has no RPC and scores 0.
const feedJSON = `[
  {
    "chainId": 42161,
    "name": "Arbitrum One",
    "chain": "ETH",
    "shortName": "arb1",
    "rpc": ["https://arb1.example", {"url": "wss://arb1.example/ws"}, {"url": "http://arb1-plain.example"}],
    "parent": {"type": "L2", "chain": "eip155-1"},
    "explorers": [{"name": "Arbiscan", "url": "https://arbiscan.io"}],
    "tvl": 2500000000,
    "features": [{"name": "EIP1559"}],
    "status": "active",
    "nativeCurrency": {"name": "Ether", "symbol": "ETH", "decimals": 18}
  },
  {"chainId": 5, "name": "Goerli", "chain": "ETH", "rpc": ["https://goerli.example"], "isTestnet": true},
  "not a chain record",
  {"chainId": 137, "name": "Polygon Mainnet", "chain": "Polygon", "rpc": []}
]`

const diamond = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// feedServer serves feedJSON and counts requests.
func feedServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, feedJSON)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("CHAINLIST_URL", srv.URL+"/rpcs.json")
	return srv
}

func TestScanCommand(t *testing.T) {
	dir := resetGlobals(t)
	feedServer(t, nil)

	t.Run("table", func(t *testing.T) {
		var out bytes.Buffer
		err := runScan(context.Background(), &out, io.Discard, scanOptions{format: FormatTable})
		require.NoError(t, err)

		got := out.String()
		assert.Contains(t, got, "Scanned 3 chains")
		assert.Contains(t, got, "(1 malformed records skipped)")
		assert.Contains(t, got, "1 chains at or above 80% relevance")
		assert.Contains(t, got, " 90%  Arbitrum One (42161)")
		assert.NotContains(t, got, "Goerli")
		assert.NotContains(t, got, "Recorded as scan")

		data, err := os.ReadFile(filepath.Join(dir, "relevance_findings.json"))
		require.NoError(t, err)
		var findings []relevance.Finding
		require.NoError(t, json.Unmarshal(data, &findings))
		require.Len(t, findings, 1)
		assert.Equal(t, 0.9, findings[0].Score)
		assert.Equal(t, 2, findings[0].RPCCount)
	})

	t.Run("threshold and top", func(t *testing.T) {
		threshold := 0.3
		var out bytes.Buffer
		err := runScan(context.Background(), &out, io.Discard, scanOptions{
			format:    FormatTable,
			threshold: &threshold,
			top:       1,
			output:    "out/findings.json",
		})
		require.NoError(t, err)
		assert.Contains(t, out.String(), "  ... and 1 more")
		assert.FileExists(t, filepath.Join(dir, "out", "findings.json"))
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runScan(context.Background(), &out, io.Discard, scanOptions{format: FormatJSON}))

		var report scanReport
		require.NoError(t, json.Unmarshal(out.Bytes(), &report))
		assert.Equal(t, 3, report.TotalChains)
		assert.Equal(t, 1, report.Skipped)
		assert.Equal(t, 1, report.Matched)
		assert.Equal(t, "relevance_findings.json", report.Output)
		assert.Empty(t, report.ID)
	})

	t.Run("invalid threshold", func(t *testing.T) {
		threshold := 1.5
		err := runScan(context.Background(), io.Discard, io.Discard, scanOptions{format: FormatJSON, threshold: &threshold})
		assert.ErrorIs(t, err, domain.ErrInvalidThreshold)
	})
}

func TestScanCommand_Record(t *testing.T) {
	dir := resetGlobals(t)
	feedServer(t, nil)
	dbPath := filepath.Join(dir, "data", "scout.db")
	t.Setenv("SQLITE_PATH", dbPath)

	var out bytes.Buffer
	require.NoError(t, runScan(context.Background(), &out, io.Discard, scanOptions{format: FormatJSON, record: true}))

	var report scanReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.NotEmpty(t, report.ID)

	store, err := storage.NewSQLiteStore(dbPath, discardLogger())
	require.NoError(t, err)
	defer store.Close()

	latest, err := store.GetLatestScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.ID, latest.ID)
	require.Len(t, latest.Findings, 1)
	assert.Equal(t, int64(42161), latest.Findings[0].ChainID)
}

func TestScanCommand_UpstreamFailure(t *testing.T) {
	resetGlobals(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	t.Setenv("CHAINLIST_URL", srv.URL)

	err := runScan(context.Background(), io.Discard, io.Discard, scanOptions{format: FormatJSON})
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "503")
	assert.NoFileExists(t, "relevance_findings.json")
}

func TestScanCommand_Watch(t *testing.T) {
	resetGlobals(t)
	var hits atomic.Int32
	feedServer(t, &hits)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := runScan(ctx, io.Discard, io.Discard, scanOptions{format: FormatJSON, watch: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, hits.Load(), int32(2))
}

func TestFetchRPCsCommand(t *testing.T) {
	dir := resetGlobals(t)
	feedServer(t, nil)

	var out bytes.Buffer
	require.NoError(t, runFetchRPCs(context.Background(), &out, io.Discard, []int64{42161, 999}, ""))

	got := out.String()
	assert.Contains(t, got, "⚠️  Chain 999 not found in the chain list")
	assert.Contains(t, got, "✅ Arbitrum One (chainId 42161): 2 HTTP RPC(s)")
	assert.Contains(t, got, "native: ETH (Ether)")
	assert.Contains(t, got, "explorers: https://arbiscan.io")
	assert.Contains(t, got, "Saved 1 chains to chainlist_rpcs.json")

	data, err := os.ReadFile(filepath.Join(dir, "chainlist_rpcs.json"))
	require.NoError(t, err)
	var lookup chainlist.Lookup
	require.NoError(t, json.Unmarshal(data, &lookup))
	require.Contains(t, lookup, "42161")
	assert.Equal(t, []string{"https://arb1.example", "http://arb1-plain.example"}, lookup["42161"].RPC)
	assert.NotContains(t, lookup, "999")

	// the manifest loader reads what fetch-rpcs writes
	records := manifest.LoadLookup(filepath.Join(dir, "chainlist_rpcs.json"), discardLogger())
	assert.Equal(t, "Arbitrum One", records["42161"].Name)
}

func TestPrintLookupEntry_ManyRPCs(t *testing.T) {
	entry := chainlist.LookupEntry{ChainID: 1, Name: "Ethereum", Chain: "ETH"}
	for i := 0; i < 8; i++ {
		entry.RPC = append(entry.RPC, "https://rpc.example/"+string(rune('a'+i)))
	}

	var out bytes.Buffer
	printLookupEntry(&out, entry)
	assert.Contains(t, out.String(), "    5. https://rpc.example/e")
	assert.NotContains(t, out.String(), "https://rpc.example/f")
	assert.Contains(t, out.String(), "    ... and 3 more")
	assert.Contains(t, out.String(), "shortName: -")
}

func TestManifestCommand(t *testing.T) {
	dir := resetGlobals(t)
	writeFile(t, "diamond_deployments.json", `[
  {"repoName": "treasure", "diamondAddress": "`+diamond+`", "address": "0x1", "chainId": 42161},
  {"address": "0x2", "chainId": 0},
  {"address": "0x3", "chainId": 137, "network": "polygon"}
]`)
	writeFile(t, "chainlist_rpcs.json", `{"42161": {"name": "Arbitrum One", "rpc": ["https://arb1.example"], "nativeCurrency": {"symbol": "ETH"}}}`)
	require.NoError(t, os.Mkdir("bridgeworld.lol", 0o755))

	var out bytes.Buffer
	require.NoError(t, runManifest(&out, io.Discard, manifestOptions{}))

	got := out.String()
	assert.Contains(t, got, "Manifest generated: "+filepath.Join("manifest", manifest.FileName))
	assert.Contains(t, got, "Manifest copied: "+filepath.Join("bridgeworld.lol", "manifest", manifest.FileName))
	assert.Contains(t, got, "  Chains: 2")
	assert.Contains(t, got, "  Deployments: 2")

	m, err := manifest.Read(filepath.Join(dir, "manifest", manifest.FileName))
	require.NoError(t, err)
	assert.Equal(t, []int64{42161, 137}, m.ChainIDs())
	assert.Equal(t, diamond, m.Deployments[0].Address)
	assert.Equal(t, "Chain 137", m.Chains[1].Name)

	primary, err := os.ReadFile(filepath.Join(dir, "manifest", manifest.FileName))
	require.NoError(t, err)
	mirror, err := os.ReadFile(filepath.Join(dir, "bridgeworld.lol", "manifest", manifest.FileName))
	require.NoError(t, err)
	assert.Equal(t, primary, mirror)
}

func TestManifestCommand_MissingInputs(t *testing.T) {
	resetGlobals(t)

	var out bytes.Buffer
	require.NoError(t, runManifest(&out, io.Discard, manifestOptions{outDir: "build", mirrorDir: "nowhere"}))
	assert.Contains(t, out.String(), "  Deployments: 0")
	assert.NotContains(t, out.String(), "Manifest copied")

	m, err := manifest.Read(filepath.Join("build", manifest.FileName))
	require.NoError(t, err)
	assert.Equal(t, manifest.FallbackChainIDs, m.ChainIDs())
}

// rpcNode answers eth_chainId, eth_blockNumber and eth_getCode.
func rpcNode(t *testing.T, chainID, code string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		results := map[string]string{"eth_chainId": chainID, "eth_blockNumber": "0x10", "eth_getCode": code}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": results[req.Method]})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeCommand(t *testing.T) {
	dir := resetGlobals(t)
	node := rpcNode(t, "0xa4b1", "0x6080604052")

	m := &manifest.Manifest{
		GeneratedAt: "2025-03-14T09:26:53.589Z",
		Chains: []manifest.Chain{
			{ChainID: 42161, Name: "Arbitrum One", RPCURLs: []string{"ftp://bad.example", node.URL}},
		},
		Deployments: []manifest.Deployment{
			{Address: diamond, RepoName: "treasure", ChainID: 42161, Network: "arbitrum"},
		},
	}
	_, err := (&manifest.Writer{OutputDir: "manifest"}).Write(m)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runProbe(context.Background(), &out, io.Discard, probeOptions{format: FormatTable, timeout: 5 * time.Second}))

	got := out.String()
	assert.Contains(t, got, "Arbitrum One")
	assert.Contains(t, got, "1/2")
	assert.Contains(t, got, "ftp://bad.example: error")
	assert.Contains(t, got, "✅ 5 bytes")
	assert.Contains(t, got, "Saved report to rpc_probe_results.json")

	data, err := os.ReadFile(filepath.Join(dir, "rpc_probe_results.json"))
	require.NoError(t, err)
	var report evm.Report
	require.NoError(t, json.Unmarshal(data, &report))
	require.Len(t, report.Chains, 1)
	assert.Equal(t, node.URL, report.Chains[0].BestRPC())
	require.Len(t, report.Contracts, 1)
	assert.True(t, report.Contracts[0].HasCode)
}

func TestProbeCommand_NoManifest(t *testing.T) {
	resetGlobals(t)

	err := runProbe(context.Background(), io.Discard, io.Discard, probeOptions{format: FormatTable})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "run 'chainscout manifest' first")
}

// fakeAPI mimics the chainscout-server endpoints the remote commands use.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	scan := map[string]any{
		"id": "scan-2", "source": "https://chainlist.org/rpcs.json", "threshold": 0.8,
		"totalChains": 3, "skipped": 1, "matched": 2, "durationMs": 42, "createdAt": "2025-03-14T09:26:53Z",
		"findings": []map[string]any{
			{"chainId": 42161, "name": "Arbitrum One", "chain": "ETH", "score": 0.9, "isTestnet": false, "rpcCount": 2},
			{"chainId": 10, "name": "OP Mainnet", "chain": "ETH", "score": 0.85, "isTestnet": false, "rpcCount": 4},
		},
	}
	notFound := func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "NOT_FOUND", "message": "Scan not found"}})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/scans", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data":       []map[string]any{scan, {"id": "scan-1", "threshold": 0.8, "totalChains": 3, "matched": 1, "durationMs": 40, "createdAt": "2025-03-13T09:00:00Z"}},
			"pagination": map[string]any{"limit": 2, "hasMore": true, "nextCursor": "1"},
		})
	})
	mux.HandleFunc("GET /api/v1/scans/latest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(scan)
	})
	mux.HandleFunc("GET /api/v1/scans/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "scan-2" {
			notFound(w)
			return
		}
		json.NewEncoder(w).Encode(scan)
	})
	mux.HandleFunc("POST /api/v1/scans", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "cs_key_remote" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "UNAUTHORIZED", "message": "API key required"}})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(scan)
	})
	mux.HandleFunc("GET /api/v1/manifest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"generatedAt": "2025-03-14T09:26:53.589Z",
			"chains":      []map[string]any{{"chainId": 42161, "name": "Arbitrum One", "rpcUrls": []string{"https://arb1.example"}, "nativeSymbol": "ETH"}},
			"deployments": []map[string]any{{"address": diamond, "repoName": "treasure", "chainId": 42161, "network": "arbitrum"}},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteCommands(t *testing.T) {
	resetGlobals(t)
	api := fakeAPI(t)
	server = api.URL

	t.Run("scans", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runRemoteScans(context.Background(), &out, 2, "", FormatTable))
		got := out.String()
		assert.Contains(t, got, "scan-2")
		assert.Contains(t, got, "scan-1")
		assert.Contains(t, got, "More scans: --cursor 1")
	})

	t.Run("latest", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runRemoteScan(context.Background(), &out, "", FormatTable, 1))
		got := out.String()
		assert.Contains(t, got, "Scan scan-2")
		assert.Contains(t, got, " 90%  Arbitrum One (42161)")
		assert.Contains(t, got, "  ... and 1 more")
	})

	t.Run("show missing", func(t *testing.T) {
		err := runRemoteScan(context.Background(), io.Discard, "scan-9", FormatJSON, 0)
		require.Error(t, err)
		assert.Equal(t, "scan scan-9 not found", err.Error())
	})

	t.Run("trigger needs a key", func(t *testing.T) {
		err := runRemoteTrigger(context.Background(), io.Discard, nil, FormatJSON)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "UNAUTHORIZED")

		apiKey = "cs_key_remote"
		defer func() { apiKey = "" }()

		var out bytes.Buffer
		require.NoError(t, runRemoteTrigger(context.Background(), &out, nil, FormatJSON))
		assert.Contains(t, out.String(), `"id": "scan-2"`)
	})

	t.Run("manifest yaml", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runRemoteManifest(context.Background(), &out, FormatYAML))
		got := out.String()
		assert.Contains(t, got, "generatedAt:")
		assert.Contains(t, got, "nativeSymbol: ETH")
	})

	t.Run("manifest table", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runRemoteManifest(context.Background(), &out, FormatTable))
		assert.Contains(t, out.String(), diamond)
	})
}

func TestChainsCommand(t *testing.T) {
	resetGlobals(t)
	feedServer(t, nil)
	ctx := context.Background()

	t.Run("search by name and id", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runChains(ctx, &out, io.Discard, []string{"arbitrum", "5", "42161"}, FormatTable, false))
		got := out.String()
		assert.Contains(t, got, "Arbitrum One")
		assert.Contains(t, got, "0.90")
		assert.Contains(t, got, "https://arb1.example")
		assert.Contains(t, got, "Goerli (testnet)")
		assert.Equal(t, 1, strings.Count(got, "Arbitrum One"), "duplicate matches are listed once")
	})

	t.Run("json rows", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runChains(ctx, &out, io.Discard, nil, FormatJSON, false))
		var rows []chainRow
		require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
		require.Len(t, rows, 3)
		assert.Equal(t, int64(42161), rows[0].ChainID)
		assert.Equal(t, "ETH", rows[0].Native)
		assert.Equal(t, 2, rows[0].RPCCount)
		assert.Equal(t, 0.35, rows[1].Score)
		assert.Empty(t, rows[2].BestRPC)
	})

	t.Run("ids", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runChains(ctx, &out, io.Discard, nil, FormatTable, true))
		assert.Equal(t, "5 137 42161\n", out.String())
	})

	t.Run("no match", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runChains(ctx, &out, io.Discard, []string{"solana"}, FormatTable, false))
		assert.Equal(t, "No chains match solana (searched 3)\n", out.String())
	})
}
