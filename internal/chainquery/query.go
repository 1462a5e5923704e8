// Package chainquery looks up balances, nonces and ERC-20 token balances
// for derived addresses over an Ethereum JSON-RPC endpoint.
package chainquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/Klingon-tech/walletscan/pkg/types"
	"github.com/shopspring/decimal"
)

// ErrQuery wraps every lookup failure. Callers record it and move on.
var ErrQuery = errors.New("chain query error")

// ErrorValue is the sentinel rendered in place of an amount that could not
// be fetched.
const ErrorValue = "Error"

// Query is the chain lookup capability used by scans and balance searches.
// Implementations must honor ctx and must not panic on network failure.
type Query interface {
	GetBalance(ctx context.Context, addr types.Address) (*big.Int, error)
	GetTransactionCount(ctx context.Context, addr types.Address) (uint64, error)
	GetTokenBalances(ctx context.Context, addr types.Address) map[string]TokenBalance
}

// Token is an ERC-20 contract to scan.
type Token struct {
	Symbol  string        `json:"symbol"`
	Address types.Address `json:"address"`
}

// TokenBalance is the outcome of one token lookup.
type TokenBalance struct {
	Symbol string
	Amount decimal.Decimal
	Err    error
}

// String returns the amount, or ErrorValue on failure.
func (b TokenBalance) String() string {
	if b.Err != nil {
		return ErrorValue
	}
	return b.Amount.String()
}

// MarshalJSON encodes the amount as a string, or "Error".
func (b TokenBalance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON decodes an amount string. ErrorValue decodes to a failed
// lookup wrapping ErrQuery.
func (b *TokenBalance) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == ErrorValue {
		b.Err = fmt.Errorf("%w: lookup failed", ErrQuery)
		return nil
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("token amount %q: %w", s, err)
	}
	b.Amount = amount
	return nil
}

// IsZero reports whether the lookup succeeded with a zero amount.
func (b TokenBalance) IsZero() bool {
	return b.Err == nil && b.Amount.IsZero()
}

// DefaultTokens are the mainnet ERC-20 contracts scanned when none are
// configured.
var DefaultTokens = []Token{
	mustToken("USDT", "0xdAC17F958D2ee523a2206206994597C13D831ec7"),
	mustToken("USDC", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
	mustToken("DAI", "0x6B175474E89094C44Da98b954EedeAC495271d0F"),
	mustToken("LINK", "0x514910771AF9Ca656af840dff83E8264EcF986CA"),
	mustToken("UNI", "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"),
	mustToken("WBTC", "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"),
	mustToken("AAVE", "0x7Fc66500c84A76Ad7e9c93437bFc5Ac33E2DDaE9"),
	mustToken("COMP", "0xc00e94Cb662C3520282E6f5717214004A7f26888"),
	mustToken("MKR", "0x9f8F72aA9304c8B593d555F12eF6589cC3A579A2"),
	mustToken("SNX", "0xC011a73ee8576Fb46F5E1c5751cA3B9Fe0af2a6F"),
}

func mustToken(symbol, addr string) Token {
	a, err := types.ParseAddress(addr)
	if err != nil {
		panic(err)
	}
	return Token{Symbol: symbol, Address: a}
}

// ParseTokens parses "SYM:0xaddr,SYM2:0xaddr" into a token list.
func ParseTokens(s string) ([]Token, error) {
	var out []Token
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, addr, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(sym) == "" {
			return nil, fmt.Errorf("token %q: want SYMBOL:0xaddress", part)
		}
		a, err := types.ParseAddress(strings.TrimSpace(addr))
		if err != nil {
			return nil, fmt.Errorf("token %q: %w", part, err)
		}
		out = append(out, Token{Symbol: strings.ToUpper(strings.TrimSpace(sym)), Address: a})
	}
	return out, nil
}

// FilterTokens keeps only the token with the given symbol (case-insensitive).
// An empty symbol returns tokens unchanged.
func FilterTokens(tokens []Token, symbol string) ([]Token, error) {
	if symbol == "" {
		return tokens, nil
	}
	for _, t := range tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return []Token{t}, nil
		}
	}
	return nil, fmt.Errorf("unknown token %q", symbol)
}

// FormatEther renders a wei amount in ether.
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, 18)
}

// FormatUnits renders raw token units with the given decimals.
func FormatUnits(raw *big.Int, decimals int32) string {
	if raw == nil {
		return "0"
	}
	return decimal.NewFromBigInt(raw, -decimals).String()
}
