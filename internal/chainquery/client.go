package chainquery

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Klingon-tech/walletscan/internal/rpcclient"
	"github.com/Klingon-tech/walletscan/pkg/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultTokenDecimals is assumed when a contract's decimals() call fails.
const DefaultTokenDecimals = 18

// tokenConcurrency bounds parallel eth_call requests per address.
const tokenConcurrency = 4

// ERC-20 function selectors.
var (
	selectorBalanceOf = []byte{0x70, 0xa0, 0x82, 0x31}
	selectorDecimals  = []byte{0x31, 0x3c, 0xe5, 0x67}
)

// Config configures a Client.
type Config struct {
	Endpoint    string
	Timeout     time.Duration
	RateLimit   int           // requests per second, 0 = unlimited
	OpenTimeout time.Duration // circuit breaker cool-down
	Tokens      []Token       // nil = DefaultTokens
}

// Client implements Query over Ethereum JSON-RPC.
type Client struct {
	rpc    *rpcclient.Client
	tokens []Token

	decMu    sync.Mutex
	decimals map[types.Address]int32
}

// NewClient builds a rate-limited, circuit-broken client for cfg.Endpoint.
func NewClient(cfg Config) *Client {
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	rpc := rpcclient.New(cfg.Endpoint,
		rpcclient.WithTimeout(cfg.Timeout),
		rpcclient.WithRateLimit(cfg.RateLimit),
		rpcclient.WithCircuitBreaker("chainquery", openTimeout),
	)
	return NewClientFromRPC(rpc, cfg.Tokens)
}

// NewClientFromRPC wraps an existing JSON-RPC client.
func NewClientFromRPC(rpc *rpcclient.Client, tokens []Token) *Client {
	if tokens == nil {
		tokens = DefaultTokens
	}
	return &Client{
		rpc:      rpc,
		tokens:   tokens,
		decimals: make(map[types.Address]int32),
	}
}

// Endpoint returns the JSON-RPC URL.
func (c *Client) Endpoint() string {
	return c.rpc.Endpoint()
}

// Tokens returns the tokens scanned by GetTokenBalances.
func (c *Client) Tokens() []Token {
	return c.tokens
}

// WithTokens returns a client on the same endpoint that scans tokens instead.
func (c *Client) WithTokens(tokens []Token) *Client {
	return NewClientFromRPC(c.rpc, tokens)
}

// BlockNumber returns the latest block height; used as a health check.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var height hexutil.Uint64
	if err := c.rpc.CallContext(ctx, "eth_blockNumber", []interface{}{}, &height); err != nil {
		return 0, fmt.Errorf("%w: eth_blockNumber: %w", ErrQuery, err)
	}
	return uint64(height), nil
}

// GetBalance returns the latest balance of addr in wei.
func (c *Client) GetBalance(ctx context.Context, addr types.Address) (*big.Int, error) {
	var bal hexutil.Big
	if err := c.rpc.CallContext(ctx, "eth_getBalance", []interface{}{addr.String(), "latest"}, &bal); err != nil {
		return nil, fmt.Errorf("%w: eth_getBalance %s: %w", ErrQuery, addr, err)
	}
	return bal.ToInt(), nil
}

// GetTransactionCount returns the nonce of addr.
func (c *Client) GetTransactionCount(ctx context.Context, addr types.Address) (uint64, error) {
	var n hexutil.Uint64
	if err := c.rpc.CallContext(ctx, "eth_getTransactionCount", []interface{}{addr.String(), "latest"}, &n); err != nil {
		return 0, fmt.Errorf("%w: eth_getTransactionCount %s: %w", ErrQuery, addr, err)
	}
	return uint64(n), nil
}

// GetTokenBalances looks up every configured token for addr in parallel.
// Failures are recorded per token and never abort the other lookups.
func (c *Client) GetTokenBalances(ctx context.Context, addr types.Address) map[string]TokenBalance {
	out := make(map[string]TokenBalance, len(c.tokens))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(tokenConcurrency)
	for _, tok := range c.tokens {
		g.Go(func() error {
			bal := c.tokenBalance(ctx, tok, addr)
			mu.Lock()
			out[tok.Symbol] = bal
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out
}

func (c *Client) tokenBalance(ctx context.Context, tok Token, holder types.Address) TokenBalance {
	data := make([]byte, 0, 4+32)
	data = append(data, selectorBalanceOf...)
	data = append(data, make([]byte, 12)...)
	data = append(data, holder[:]...)

	raw, err := c.call(ctx, tok.Address, data)
	if err != nil {
		return TokenBalance{Symbol: tok.Symbol, Err: fmt.Errorf("%w: %s balanceOf: %w", ErrQuery, tok.Symbol, err)}
	}
	amount := new(big.Int).SetBytes(raw)
	dec := c.tokenDecimals(ctx, tok.Address)
	return TokenBalance{Symbol: tok.Symbol, Amount: decimal.NewFromBigInt(amount, -dec)}
}

// tokenDecimals caches decimals() per contract. Contracts without a usable
// answer are cached at DefaultTokenDecimals.
func (c *Client) tokenDecimals(ctx context.Context, contract types.Address) int32 {
	c.decMu.Lock()
	dec, ok := c.decimals[contract]
	c.decMu.Unlock()
	if ok {
		return dec
	}

	dec = DefaultTokenDecimals
	raw, err := c.call(ctx, contract, selectorDecimals)
	if err != nil && ctx.Err() != nil {
		return dec
	}
	if v := new(big.Int).SetBytes(raw); err == nil && len(raw) > 0 && v.IsUint64() && v.Uint64() <= 77 {
		dec = int32(v.Uint64())
	}

	c.decMu.Lock()
	c.decimals[contract] = dec
	c.decMu.Unlock()
	return dec
}

func (c *Client) call(ctx context.Context, to types.Address, data []byte) ([]byte, error) {
	msg := map[string]string{
		"to":   to.String(),
		"data": hexutil.Encode(data),
	}
	var out hexutil.Bytes
	if err := c.rpc.CallContext(ctx, "eth_call", []interface{}{msg, "latest"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
