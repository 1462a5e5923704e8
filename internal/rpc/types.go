package rpc

import (
	"github.com/Klingon-tech/walletscan/internal/chainquery"
	"github.com/Klingon-tech/walletscan/internal/wallet"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError      = -32700
	CodeInvalidRequest  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternalError   = -32603
	CodeNotFound        = -32000
	CodeInvalidTemplate = -32001
	CodePathFormat      = -32002
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// GenerateParam is used by wallet_generateMnemonic.
type GenerateParam struct {
	Words int `json:"words,omitempty"`
}

// MnemonicParam is used by wallet_validateMnemonic.
type MnemonicParam struct {
	Mnemonic string `json:"mnemonic"`
}

// DeriveParam is used by wallet_deriveAddresses and wallet_scan.
type DeriveParam struct {
	Mnemonic   string `json:"mnemonic"`
	Passphrase string `json:"passphrase,omitempty"`
	Path       string `json:"path,omitempty"` // template or preset name
	Start      uint32 `json:"start,omitempty"`
	Count      int    `json:"count,omitempty"`
	Tokens     bool   `json:"tokens,omitempty"` // wallet_scan only
	Token      string `json:"token,omitempty"`  // wallet_scan only, single symbol
}

// SessionParam is used by the search_* endpoints that address one session.
type SessionParam struct {
	ID string `json:"id"`
}

// HitParam is used by hits_get and hits_delete.
type HitParam struct {
	ID string `json:"id"`
}

// ── Result types ────────────────────────────────────────────────────────

// MnemonicResult is returned by wallet_generateMnemonic.
type MnemonicResult struct {
	Mnemonic string `json:"mnemonic"`
	Words    int    `json:"words"`
}

// WordlistResult is returned by wallet_getWordlist.
type WordlistResult struct {
	Size  int      `json:"size"`
	Words []string `json:"words"`
}

// ValidateResult is returned by wallet_validateMnemonic.
type ValidateResult struct {
	Valid   bool     `json:"valid"`
	Words   int      `json:"words"`
	Unknown []string `json:"unknown,omitempty"`
}

// DeriveResult is returned by wallet_deriveAddresses.
type DeriveResult struct {
	Path    string          `json:"path"`
	Records []wallet.Record `json:"records"`
}

// ScanResult is returned by wallet_scan.
type ScanResult struct {
	Path    string                  `json:"path"`
	Funded  int                     `json:"funded"`
	Wallets []chainquery.WalletInfo `json:"wallets"`
}

// HealthResult is returned by node_health.
type HealthResult struct {
	Status      string  `json:"status"`
	Endpoint    string  `json:"endpoint,omitempty"`
	BlockNumber uint64  `json:"blockNumber,omitempty"`
	ChainError  string  `json:"chainError,omitempty"`
	Sessions    int     `json:"sessions"`
	Hits        *int    `json:"hits,omitempty"`
	Uptime      float64 `json:"uptime"` // seconds
}
