package chainquery

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/Klingon-tech/walletscan/internal/wallet"
	"github.com/shopspring/decimal"
)

// WalletInfo is a derived wallet annotated with on-chain state.
// Balance holds the ether amount, or ErrorValue when the lookup failed.
// TxCount is nil when the nonce lookup failed.
type WalletInfo struct {
	wallet.Record
	Balance string                  `json:"balance"`
	Wei     *big.Int                `json:"-"`
	TxCount *uint64                 `json:"txCount"`
	Tokens  map[string]TokenBalance `json:"tokens,omitempty"`
	Errors  []string                `json:"errors,omitempty"`
}

// Funded reports whether the wallet holds ether or any token.
func (w *WalletInfo) Funded() bool {
	if w.Wei != nil && w.Wei.Sign() > 0 {
		return true
	}
	for _, t := range w.Tokens {
		if t.Err == nil && !t.Amount.IsZero() {
			return true
		}
	}
	return false
}

// UnmarshalJSON decodes a wallet and restores Wei from the ether balance.
func (w *WalletInfo) UnmarshalJSON(data []byte) error {
	type plain WalletInfo
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*w = WalletInfo(p)
	if eth, err := decimal.NewFromString(w.Balance); err == nil {
		w.Wei = eth.Shift(18).BigInt()
	}
	return nil
}

// Used reports whether the wallet has sent transactions or holds funds.
func (w *WalletInfo) Used() bool {
	return w.Funded() || (w.TxCount != nil && *w.TxCount > 0)
}

// Scanner annotates wallet records with balances, nonces and tokens.
type Scanner struct {
	q          Query
	scanTokens bool
}

// NewScanner returns a Scanner over q. With scanTokens set every record
// also gets an ERC-20 sweep.
func NewScanner(q Query, scanTokens bool) *Scanner {
	return &Scanner{q: q, scanTokens: scanTokens}
}

// Scan queries every record in order. Lookup failures are recorded on the
// corresponding WalletInfo and never stop the scan; only ctx cancellation
// does.
func (s *Scanner) Scan(ctx context.Context, records []wallet.Record) ([]WalletInfo, error) {
	out := make([]WalletInfo, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, s.ScanRecord(ctx, rec))
	}
	return out, nil
}

// ScanRecord queries a single record.
func (s *Scanner) ScanRecord(ctx context.Context, rec wallet.Record) WalletInfo {
	wei, err := s.q.GetBalance(ctx, rec.Address)
	return s.scan(ctx, rec, wei, err)
}

// ScanWithBalance is ScanRecord for a record whose ether balance wei is
// already known. The balance is not fetched again.
func (s *Scanner) ScanWithBalance(ctx context.Context, rec wallet.Record, wei *big.Int) WalletInfo {
	return s.scan(ctx, rec, wei, nil)
}

func (s *Scanner) scan(ctx context.Context, rec wallet.Record, wei *big.Int, balErr error) WalletInfo {
	info := WalletInfo{Record: rec, Balance: ErrorValue}
	if balErr != nil {
		info.Errors = append(info.Errors, balErr.Error())
	} else {
		info.Wei = wei
		info.Balance = FormatEther(wei)
	}

	if n, err := s.q.GetTransactionCount(ctx, rec.Address); err != nil {
		info.Errors = append(info.Errors, err.Error())
	} else {
		info.TxCount = &n
	}

	if s.scanTokens {
		for sym, bal := range s.q.GetTokenBalances(ctx, rec.Address) {
			if bal.Err != nil {
				info.Errors = append(info.Errors, bal.Err.Error())
				continue
			}
			if bal.Amount.IsZero() {
				continue
			}
			if info.Tokens == nil {
				info.Tokens = make(map[string]TokenBalance)
			}
			info.Tokens[sym] = bal
		}
	}
	return info
}
