package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Klingon-tech/walletscan/config"
	"github.com/Klingon-tech/walletscan/internal/chainquery"
	"github.com/Klingon-tech/walletscan/internal/hits"
	klog "github.com/Klingon-tech/walletscan/internal/log"
	"github.com/Klingon-tech/walletscan/internal/search"
	"github.com/Klingon-tech/walletscan/internal/storage"
	"github.com/Klingon-tech/walletscan/internal/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	knownMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	knownAddress  = "0x9858effd232b4033e47d90003d41ec34ecaeda94"
)

// ── Test helpers ────────────────────────────────────────────────────────

type testEnv struct {
	server     *Server
	controller *search.Controller
	hits       *hits.Store
	url        string
}

// fakeEthNode answers the subset of Ethereum JSON-RPC the chain client uses.
// Every address holds one ether and has sent one transaction.
func fakeEthNode(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string      `json:"method"`
			ID     interface{} `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var result string
		switch req.Method {
		case "eth_blockNumber":
			result = "0x10"
		case "eth_getBalance":
			result = "0xde0b6b3a7640000"
		case "eth_getTransactionCount":
			result = "0x1"
		case "eth_call":
			result = "0x" + strings.Repeat("0", 64)
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]interface{}{"code": -32601, "message": "no such method"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWithConfig(t, config.RPCConfig{})
}

func setupTestEnvWithConfig(t *testing.T, rpcCfg config.RPCConfig) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	node := fakeEthNode(t)
	chain := chainquery.NewClient(chainquery.Config{Endpoint: node.URL, Timeout: 5 * time.Second})
	store := hits.NewStore(storage.NewMemory())
	reg := prometheus.NewRegistry()

	ctrl := search.NewController(search.ControllerConfig{
		Query:   chain,
		Sink:    store,
		Metrics: search.NewMetrics(reg),
	})
	t.Cleanup(ctrl.Close)

	srv := New("127.0.0.1:0", Deps{
		Controller: ctrl,
		Chain:      chain,
		Hits:       store,
		Gatherer:   reg,
		Metrics:    NewMetrics(reg),
		Endpoint:   node.URL,
	}, rpcCfg)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		server:     srv,
		controller: ctrl,
		hits:       store,
		url:        fmt.Sprintf("http://%s/", srv.Addr()),
	}
}

func rpcCall(t *testing.T, url, method string, params interface{}) Response {
	t.Helper()
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err, method)
	defer resp.Body.Close()

	var rpcResp Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	return rpcResp
}

// decodeResult re-encodes a generic result into target.
func decodeResult(t *testing.T, resp Response, target interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error")
	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target))
}

func expectCode(t *testing.T, resp Response, code int) {
	t.Helper()
	require.NotNil(t, resp.Error, "want code %d, got result %v", code, resp.Result)
	assert.Equal(t, code, resp.Error.Code, resp.Error.Message)
}

// lastWordBlank is knownMnemonic with its final word unknown.
func lastWordBlank() string {
	words := strings.Fields(knownMnemonic)
	words[len(words)-1] = search.Blank
	return strings.Join(words, " ")
}

// ── Transport ───────────────────────────────────────────────────────────

func TestRPC_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)
	expectCode(t, rpcCall(t, env.url, "nonexistent_method", nil), CodeMethodNotFound)
}

func TestRPC_InvalidParams(t *testing.T) {
	env := setupTestEnv(t)
	// wallet_validateMnemonic requires params.
	expectCode(t, rpcCall(t, env.url, "wallet_validateMnemonic", nil), CodeInvalidParams)
}

func TestRPC_InvalidJSON(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Post(env.url, "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	expectCode(t, rpcResp, CodeParseError)
}

func TestRPC_WrongVersion(t *testing.T) {
	env := setupTestEnv(t)

	body := []byte(`{"jsonrpc":"1.0","method":"search_list","id":1}`)
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	expectCode(t, rpcResp, CodeInvalidRequest)
}

func TestRPC_GetMethodNotAllowed(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(env.url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	expectCode(t, rpcResp, CodeInvalidRequest)
}

func TestRPC_BodyTooLarge(t *testing.T) {
	env := setupTestEnv(t)

	body := bytes.Repeat([]byte(" "), maxBodySize+10)
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	expectCode(t, rpcResp, CodeInvalidRequest)
}

// ── Wallet ──────────────────────────────────────────────────────────────

func TestRPC_GenerateMnemonic(t *testing.T) {
	env := setupTestEnv(t)

	for _, words := range []int{12, 24} {
		var res MnemonicResult
		decodeResult(t, rpcCall(t, env.url, "wallet_generateMnemonic", GenerateParam{Words: words}), &res)
		assert.Equal(t, words, res.Words)
		assert.Len(t, strings.Fields(res.Mnemonic), words)
		assert.True(t, wallet.ValidateMnemonic(res.Mnemonic), "%q does not validate", res.Mnemonic)
	}

	// Params are optional.
	var res MnemonicResult
	decodeResult(t, rpcCall(t, env.url, "wallet_generateMnemonic", nil), &res)
	assert.Equal(t, 12, res.Words, "default")

	expectCode(t, rpcCall(t, env.url, "wallet_generateMnemonic", GenerateParam{Words: 15}), CodeInvalidParams)
}

func TestRPC_GetWordlist(t *testing.T) {
	env := setupTestEnv(t)

	var res WordlistResult
	decodeResult(t, rpcCall(t, env.url, "wallet_getWordlist", nil), &res)
	assert.Equal(t, 2048, res.Size)
	require.Len(t, res.Words, 2048)
	assert.Equal(t, "abandon", res.Words[0])
	assert.Equal(t, "zoo", res.Words[2047])
}

func TestRPC_ValidateMnemonic(t *testing.T) {
	env := setupTestEnv(t)

	var res ValidateResult
	decodeResult(t, rpcCall(t, env.url, "wallet_validateMnemonic", MnemonicParam{Mnemonic: knownMnemonic}), &res)
	assert.True(t, res.Valid)
	assert.Equal(t, 12, res.Words)

	// Bad checksum: all words known, none reported.
	bad := strings.Repeat("abandon ", 12)
	res = ValidateResult{}
	decodeResult(t, rpcCall(t, env.url, "wallet_validateMnemonic", MnemonicParam{Mnemonic: bad}), &res)
	assert.False(t, res.Valid, "abandon x12 should fail the checksum")
	assert.Empty(t, res.Unknown)

	res = ValidateResult{}
	decodeResult(t, rpcCall(t, env.url, "wallet_validateMnemonic", MnemonicParam{Mnemonic: "abandon qwerty about"}), &res)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"qwerty"}, res.Unknown)
}

func TestRPC_DeriveAddresses(t *testing.T) {
	env := setupTestEnv(t)

	var res DeriveResult
	decodeResult(t, rpcCall(t, env.url, "wallet_deriveAddresses", DeriveParam{Mnemonic: knownMnemonic, Count: 3}), &res)
	assert.Equal(t, "m/44'/60'/0'/0/x", res.Path)
	require.Len(t, res.Records, 3)
	assert.Equal(t, knownAddress, res.Records[0].Address.String())
	assert.Equal(t, "m/44'/60'/0'/0/2", res.Records[2].Path)
	assert.Equal(t, uint32(2), res.Records[2].Index)
	assert.Len(t, res.Records[0].PrivateKey, 32)
}

func TestRPC_DeriveAddresses_DefaultCount(t *testing.T) {
	env := setupTestEnv(t)

	var res DeriveResult
	decodeResult(t, rpcCall(t, env.url, "wallet_deriveAddresses", DeriveParam{Mnemonic: knownMnemonic}), &res)
	assert.Len(t, res.Records, 5)
}

func TestRPC_DeriveAddresses_Errors(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name   string
		params DeriveParam
		code   int
	}{
		{"missing mnemonic", DeriveParam{}, CodeInvalidParams},
		{"bad checksum", DeriveParam{Mnemonic: strings.Repeat("abandon ", 12)}, CodeInvalidParams},
		{"bad path", DeriveParam{Mnemonic: knownMnemonic, Path: "m/44'/60'/0'/0"}, CodePathFormat},
		{"two markers", DeriveParam{Mnemonic: knownMnemonic, Path: "m/x/x"}, CodePathFormat},
		{"too many", DeriveParam{Mnemonic: knownMnemonic, Count: maxDeriveCount + 1}, CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectCode(t, rpcCall(t, env.url, "wallet_deriveAddresses", tt.params), tt.code)
		})
	}
}

func TestRPC_DeriveAddresses_Preset(t *testing.T) {
	env := setupTestEnv(t)

	var res DeriveResult
	decodeResult(t, rpcCall(t, env.url, "wallet_deriveAddresses",
		DeriveParam{Mnemonic: knownMnemonic, Path: "ethereum_ledger_live", Count: 2}), &res)
	assert.Equal(t, "m/44'/60'/x'/0/0", res.Path)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "m/44'/60'/1'/0/0", res.Records[1].Path)
}

func TestRPC_WalletScan(t *testing.T) {
	env := setupTestEnv(t)

	var res struct {
		Path    string `json:"path"`
		Funded  int    `json:"funded"`
		Wallets []struct {
			Address string            `json:"address"`
			Balance string            `json:"balance"`
			TxCount *uint64           `json:"txCount"`
			Tokens  map[string]string `json:"tokens"`
			Errors  []string          `json:"errors"`
		} `json:"wallets"`
	}
	decodeResult(t, rpcCall(t, env.url, "wallet_scan",
		DeriveParam{Mnemonic: knownMnemonic, Count: 2, Tokens: true}), &res)

	require.Len(t, res.Wallets, 2)
	assert.Equal(t, 2, res.Funded)
	w := res.Wallets[0]
	assert.Equal(t, knownAddress, w.Address)
	assert.Equal(t, "1", w.Balance)
	if assert.NotNil(t, w.TxCount) {
		assert.Equal(t, uint64(1), *w.TxCount)
	}
	assert.Empty(t, w.Tokens, "zero token balances are dropped")
	assert.Empty(t, w.Errors)
}

func TestRPC_WalletScan_UnknownToken(t *testing.T) {
	env := setupTestEnv(t)
	expectCode(t, rpcCall(t, env.url, "wallet_scan",
		DeriveParam{Mnemonic: knownMnemonic, Token: "NOPE"}), CodeInvalidParams)
}

func TestRPC_GetPresets(t *testing.T) {
	env := setupTestEnv(t)

	var presets []struct {
		Name     string `json:"name"`
		Template string `json:"template"`
	}
	decodeResult(t, rpcCall(t, env.url, "wallet_getPresets", nil), &presets)
	templates := make(map[string]string)
	for _, p := range presets {
		templates[p.Name] = p.Template
	}
	assert.Equal(t, "m/44'/60'/0'/0/x", templates["metamask"])
}

// ── Search ──────────────────────────────────────────────────────────────

func TestRPC_SearchStart_InvalidTemplate(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name string
		req  search.Request
		code int
	}{
		{"no blanks", search.Request{Template: knownMnemonic, Target: knownAddress}, CodeInvalidTemplate},
		{"wrong length", search.Request{Template: "abandon _ about", Target: knownAddress}, CodeInvalidTemplate},
		{"unknown word", search.Request{Template: strings.Replace(lastWordBlank(), "abandon", "qwerty", 1), Target: knownAddress}, CodeInvalidTemplate},
		{"bad path", search.Request{Template: lastWordBlank(), Target: knownAddress, Path: "m/44'/0"}, CodePathFormat},
		{"bad target", search.Request{Template: lastWordBlank(), Target: "0x1234"}, CodeInvalidParams},
		{"bad mode", search.Request{Template: lastWordBlank(), Mode: "lottery"}, CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectCode(t, rpcCall(t, env.url, "search_start", tt.req), tt.code)
		})
	}
}

func TestRPC_SearchStepAndStop(t *testing.T) {
	env := setupTestEnv(t)

	var p search.Progress
	decodeResult(t, rpcCall(t, env.url, "search_start", search.Request{
		Template: lastWordBlank(),
		Target:   "0x0000000000000000000000000000000000000001",
	}), &p)
	require.NotEmpty(t, p.ID, "session id")
	assert.Equal(t, search.StateRunning, p.State)
	assert.Equal(t, []int{11}, p.BlankIndices)
	assert.Equal(t, uint64(2048), p.TotalCombinations)

	var res search.StepResult
	decodeResult(t, rpcCall(t, env.url, "search_step", SessionParam{ID: p.ID}), &res)
	assert.Equal(t, uint64(1), res.Attempts)
	assert.False(t, res.Matched, "unreachable target matched")
	assert.True(t, wallet.ValidateMnemonic(res.Mnemonic), "candidate %q", res.Mnemonic)
	assert.Len(t, res.Records, 1)

	decodeResult(t, rpcCall(t, env.url, "search_stop", SessionParam{ID: p.ID}), &p)
	assert.Equal(t, search.StateStopped, p.State)

	// A stopped session keeps returning its last result.
	decodeResult(t, rpcCall(t, env.url, "search_step", SessionParam{ID: p.ID}), &res)
	assert.True(t, res.Stopped)
	assert.Equal(t, uint64(1), res.Attempts)

	var list []search.Progress
	decodeResult(t, rpcCall(t, env.url, "search_list", nil), &list)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)

	var removed bool
	decodeResult(t, rpcCall(t, env.url, "search_remove", SessionParam{ID: p.ID}), &removed)
	assert.True(t, removed)
	expectCode(t, rpcCall(t, env.url, "search_status", SessionParam{ID: p.ID}), CodeNotFound)
}

func TestRPC_SearchNotFound(t *testing.T) {
	env := setupTestEnv(t)

	for _, method := range []string{"search_step", "search_stop", "search_status", "search_remove"} {
		expectCode(t, rpcCall(t, env.url, method, SessionParam{ID: "missing"}), CodeNotFound)
	}
	expectCode(t, rpcCall(t, env.url, "search_step", SessionParam{}), CodeInvalidParams)
}

func TestRPC_SearchBackgroundMatch(t *testing.T) {
	env := setupTestEnv(t)

	var p search.Progress
	decodeResult(t, rpcCall(t, env.url, "search_start", search.Request{
		Template:    lastWordBlank(),
		Target:      "0x" + strings.ToUpper(knownAddress[2:]),
		MaxAttempts: 5000,
		Background:  true,
	}), &p)
	require.NotNil(t, rpcCall(t, env.url, "search_start", search.Request{}).Error, "empty request")

	deadline := time.Now().Add(30 * time.Second)
	for !p.State.Terminal() {
		require.True(t, time.Now().Before(deadline), "search did not finish: %+v", p)
		time.Sleep(20 * time.Millisecond)
		decodeResult(t, rpcCall(t, env.url, "search_status", SessionParam{ID: p.ID}), &p)
	}
	require.Equal(t, search.StateMatched, p.State)
	require.NotNil(t, p.Last)
	require.Equal(t, knownMnemonic, p.Last.Mnemonic)

	// Stop waits for the background goroutine, after which the hit is stored.
	decodeResult(t, rpcCall(t, env.url, "search_stop", SessionParam{ID: p.ID}), &p)

	var entries []struct {
		ID       string `json:"id"`
		Mnemonic string `json:"mnemonic"`
		Path     string `json:"path"`
	}
	decodeResult(t, rpcCall(t, env.url, "hits_list", nil), &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, knownMnemonic, entries[0].Mnemonic)

	var hit search.Hit
	decodeResult(t, rpcCall(t, env.url, "hits_get", HitParam{ID: entries[0].ID}), &hit)
	assert.Equal(t, p.ID, hit.SessionID)
	assert.Equal(t, search.ModeAddress, hit.Mode)

	var deleted bool
	decodeResult(t, rpcCall(t, env.url, "hits_delete", HitParam{ID: entries[0].ID}), &deleted)
	assert.True(t, deleted)
	expectCode(t, rpcCall(t, env.url, "hits_get", HitParam{ID: entries[0].ID}), CodeNotFound)
}

func TestRPC_SearchCheck(t *testing.T) {
	env := setupTestEnv(t)

	var res search.StepResult
	decodeResult(t, rpcCall(t, env.url, "search_check", search.Request{
		Template:      lastWordBlank(),
		Mode:          search.ModeBalance,
		CheckMultiple: true,
	}), &res)

	assert.Equal(t, uint64(1), res.Attempts)
	// Every address is funded on the fake node, so index 0 wins.
	require.True(t, res.Matched, "balance check should match")
	require.Len(t, res.Records, 1)
	assert.Equal(t, uint32(0), res.Records[0].Index)
	require.Len(t, res.Wallets, 1)
	assert.Equal(t, uint32(0), res.Wallets[0].Index)

	// Stateless checks never register a session.
	var list []search.Progress
	decodeResult(t, rpcCall(t, env.url, "search_list", nil), &list)
	assert.Empty(t, list)
}

// ── Hits / node ─────────────────────────────────────────────────────────

func TestRPC_HitsInvalidID(t *testing.T) {
	env := setupTestEnv(t)
	expectCode(t, rpcCall(t, env.url, "hits_get", HitParam{ID: "zz"}), CodeInvalidParams)
}

func TestRPC_HitsClear(t *testing.T) {
	env := setupTestEnv(t)
	for _, path := range []string{"m/44'/60'/0'/0/x", "m/44'/60'/0'/x"} {
		_, err := env.hits.Put(search.Hit{Mnemonic: knownMnemonic, Path: path})
		require.NoError(t, err)
	}

	var cleared bool
	decodeResult(t, rpcCall(t, env.url, "hits_clear", nil), &cleared)
	assert.True(t, cleared)
	var entries []json.RawMessage
	decodeResult(t, rpcCall(t, env.url, "hits_list", nil), &entries)
	assert.Empty(t, entries)
}

func TestRPC_HitsDisabled(t *testing.T) {
	ctrl := search.NewController(search.ControllerConfig{})
	t.Cleanup(ctrl.Close)
	srv := New("127.0.0.1:0", Deps{Controller: ctrl})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	url := fmt.Sprintf("http://%s/", srv.Addr())

	expectCode(t, rpcCall(t, url, "hits_list", nil), CodeNotFound)
	expectCode(t, rpcCall(t, url, "hits_clear", nil), CodeNotFound)
	expectCode(t, rpcCall(t, url, "wallet_scan", DeriveParam{Mnemonic: knownMnemonic}), CodeNotFound)

	var health HealthResult
	decodeResult(t, rpcCall(t, url, "node_health", nil), &health)
	assert.Equal(t, "ok", health.Status)
	assert.Nil(t, health.Hits)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", srv.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	// Without a gatherer /metrics falls through to the JSON-RPC handler.
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestRPC_NodeHealth(t *testing.T) {
	env := setupTestEnv(t)

	var health HealthResult
	decodeResult(t, rpcCall(t, env.url, "node_health", nil), &health)
	assert.Equal(t, "ok", health.Status, health.ChainError)
	assert.Equal(t, uint64(16), health.BlockNumber)
	if assert.NotNil(t, health.Hits) {
		assert.Zero(t, *health.Hits)
	}
}

func TestRPC_NodeHealth_Degraded(t *testing.T) {
	klog.Init("error", false, "")
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	ctrl := search.NewController(search.ControllerConfig{})
	t.Cleanup(ctrl.Close)
	chain := chainquery.NewClient(chainquery.Config{Endpoint: downURL, Timeout: time.Second})
	srv := New("127.0.0.1:0", Deps{Controller: ctrl, Chain: chain})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	var health HealthResult
	decodeResult(t, rpcCall(t, fmt.Sprintf("http://%s/", srv.Addr()), "node_health", nil), &health)
	assert.Equal(t, "degraded", health.Status)
	assert.NotEmpty(t, health.ChainError)
}

func TestRPC_Metrics(t *testing.T) {
	env := setupTestEnv(t)

	rpcCall(t, env.url, "search_check", search.Request{Template: lastWordBlank(), Target: knownAddress})

	resp, err := http.Get(env.url + "metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "walletscan_search_attempts_total 1")
	assert.Contains(t, string(body), `walletscan_rpc_calls_total{code="0",method="search_check"} 1`)
}

func TestRPC_CallMetrics_UnknownMethods(t *testing.T) {
	klog.Init("error", false, "")
	m := NewMetrics(nil)
	ctrl := search.NewController(search.ControllerConfig{})
	t.Cleanup(ctrl.Close)
	srv := New("127.0.0.1:0", Deps{Controller: ctrl, Metrics: m})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	url := fmt.Sprintf("http://%s/", srv.Addr())

	expectCode(t, rpcCall(t, url, "eth_sendTransaction", nil), CodeMethodNotFound)
	expectCode(t, rpcCall(t, url, "debug_anything", nil), CodeMethodNotFound)
	rpcCall(t, url, "search_list", nil)

	unknown := m.Calls.WithLabelValues("unknown", strconv.Itoa(CodeMethodNotFound))
	assert.Equal(t, float64(2), testutil.ToFloat64(unknown))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Calls.WithLabelValues("search_list", "0")))
}

// ── IP filter ───────────────────────────────────────────────────────────

func TestRPC_IPFilter_Allowed(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		AllowedIPs: []string{"127.0.0.1"},
	})

	assert.Nil(t, rpcCall(t, env.url, "search_list", nil).Error, "127.0.0.1 is allowed")
}

func TestRPC_IPFilter_Blocked(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		AllowedIPs: []string{"10.0.0.0/8"}, // Only allow 10.x.x.x.
	})

	// Request comes from 127.0.0.1 → should be blocked.
	req := Request{JSONRPC: "2.0", Method: "search_list", ID: 1}
	body, _ := json.Marshal(req)
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	metrics, err := http.Get(env.url + "metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusForbidden, metrics.StatusCode, "metrics")
}

func TestRPC_IPFilter_Empty_AllowsAll(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		AllowedIPs: nil, // Empty = allow all.
	})

	assert.Nil(t, rpcCall(t, env.url, "search_list", nil).Error, "empty AllowedIPs should allow all")
}

func TestParseAllowedIPs(t *testing.T) {
	nets := parseAllowedIPs([]string{"127.0.0.1", "10.0.0.0/8", "::1", "garbage"})
	require.Len(t, nets, 3)
	assert.Equal(t, 32, nets[0].Bits(), "single IPv4 address")
	assert.Equal(t, 128, nets[2].Bits(), "single IPv6 address")
	a := access{allowed: nets}
	for remote, want := range map[string]bool{
		"127.0.0.1:5000": true,
		"10.9.8.7:1":     true,
		"[::1]:80":       true,
		"192.168.1.1:80": false,
		"no-port":        false,
	} {
		assert.Equal(t, want, a.admits(remote), remote)
	}
}

// ── CORS ────────────────────────────────────────────────────────────────

func corsPost(t *testing.T, url, origin string) *http.Response {
	t.Helper()
	req := Request{JSONRPC: "2.0", Method: "search_list", ID: 1}
	body, _ := json.Marshal(req)
	httpReq, _ := http.NewRequest("POST", url, bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Origin", origin)

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestRPC_CORS_WildcardOrigin(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		CORSOrigins: []string{"*"},
	})

	resp := corsPost(t, env.url, "http://example.com")
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRPC_CORS_SpecificOrigin(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		CORSOrigins: []string{"http://myapp.com"},
	})

	resp := corsPost(t, env.url, "http://myapp.com")
	assert.Equal(t, "http://myapp.com", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = corsPost(t, env.url, "http://evil.com")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"), "non-matching origin")
}

func TestRPC_CORS_Preflight(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		CORSOrigins: []string{"*"},
	})

	httpReq, _ := http.NewRequest("OPTIONS", env.url, nil)
	httpReq.Header.Set("Origin", "http://example.com")

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestRPC_CORS_Disabled(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		CORSOrigins: nil, // Disabled.
	})

	resp := corsPost(t, env.url, "http://example.com")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
