package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Klingon-tech/walletscan/internal/chainquery"
	"github.com/Klingon-tech/walletscan/internal/hdpath"
	"github.com/Klingon-tech/walletscan/internal/search"
	"github.com/Klingon-tech/walletscan/internal/storage"
	"github.com/Klingon-tech/walletscan/internal/wallet"
	"github.com/Klingon-tech/walletscan/pkg/types"
)

// maxDeriveCount bounds wallet_deriveAddresses and wallet_scan.
const maxDeriveCount = 1000

// rpcError maps a package error to a JSON-RPC error.
func rpcError(err error) *Error {
	code := CodeInternalError
	switch {
	case errors.Is(err, search.ErrInvalidTemplate):
		code = CodeInvalidTemplate
	case errors.Is(err, hdpath.ErrPathFormat):
		code = CodePathFormat
	case errors.Is(err, search.ErrSessionNotFound), errors.Is(err, storage.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, search.ErrInvalidOptions), errors.Is(err, wallet.ErrInvalidMnemonic),
		errors.Is(err, hdpath.ErrIndexOutOfRange):
		code = CodeInvalidParams
	case errors.Is(err, search.ErrSessionBusy), errors.Is(err, search.ErrTooManySessions):
		code = CodeInvalidRequest
	}
	return &Error{Code: code, Message: err.Error()}
}

// ── Wallet endpoints ────────────────────────────────────────────────────

func (s *Server) handleWalletGenerateMnemonic(req *Request) (interface{}, *Error) {
	var params GenerateParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}
	if params.Words == 0 {
		params.Words = wallet.WordCount12
	}
	mnemonic, err := wallet.GenerateMnemonic(params.Words)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	return &MnemonicResult{Mnemonic: mnemonic, Words: params.Words}, nil
}

func (s *Server) handleWalletGetWordlist(_ *Request) (interface{}, *Error) {
	return &WordlistResult{Size: wallet.DictionarySize, Words: wallet.Wordlist()}, nil
}

func (s *Server) handleWalletValidateMnemonic(req *Request) (interface{}, *Error) {
	var params MnemonicParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	words := strings.Fields(wallet.NormalizeMnemonic(params.Mnemonic))
	res := &ValidateResult{Valid: wallet.ValidateWords(words), Words: len(words)}
	for _, w := range words {
		if !wallet.IsWord(w) {
			res.Unknown = append(res.Unknown, w)
		}
	}
	return res, nil
}

// deriveRecords validates params and derives the requested records.
func (s *Server) deriveRecords(params *DeriveParam) (*hdpath.Template, []wallet.Record, *Error) {
	if params.Mnemonic == "" {
		return nil, nil, &Error{Code: CodeInvalidParams, Message: "mnemonic is required"}
	}
	if params.Count == 0 {
		params.Count = s.deps.DefaultCount
	}
	if params.Count < 0 || params.Count > maxDeriveCount {
		return nil, nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("count must be 1..%d", maxDeriveCount)}
	}
	pathExpr := strings.TrimSpace(params.Path)
	if pathExpr == "" {
		pathExpr = s.deps.DefaultPath
	}
	if pathExpr == "" {
		pathExpr = hdpath.DefaultTemplate
	}
	tmpl, err := hdpath.ResolveTemplate(pathExpr)
	if err != nil {
		return nil, nil, rpcError(err)
	}
	d, err := wallet.DeriverFromMnemonic(params.Mnemonic, params.Passphrase, tmpl)
	if err != nil {
		return nil, nil, rpcError(err)
	}
	records, err := d.Records(wallet.Indices(params.Start, params.Count))
	if err != nil {
		return nil, nil, rpcError(err)
	}
	return tmpl, records, nil
}

func (s *Server) handleWalletDeriveAddresses(req *Request) (interface{}, *Error) {
	var params DeriveParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	tmpl, records, rpcErr := s.deriveRecords(&params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return &DeriveResult{Path: tmpl.String(), Records: records}, nil
}

func (s *Server) handleWalletScan(ctx context.Context, req *Request) (interface{}, *Error) {
	if s.deps.Chain == nil {
		return nil, &Error{Code: CodeNotFound, Message: "chain endpoint not configured"}
	}
	var params DeriveParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	tmpl, records, rpcErr := s.deriveRecords(&params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	client := s.deps.Chain
	scanTokens := params.Tokens
	if params.Token != "" {
		tokens, err := chainquery.FilterTokens(client.Tokens(), params.Token)
		if err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
		}
		client = client.WithTokens(tokens)
		scanTokens = true
	}

	wallets, err := chainquery.NewScanner(client, scanTokens).Scan(ctx, records)
	if err != nil {
		return nil, rpcError(err)
	}
	res := &ScanResult{Path: tmpl.String(), Wallets: wallets}
	for i := range wallets {
		if wallets[i].Funded() {
			res.Funded++
		}
	}
	return res, nil
}

func (s *Server) handleWalletGetPresets(_ *Request) (interface{}, *Error) {
	return hdpath.Presets(), nil
}

// ── Search endpoints ────────────────────────────────────────────────────

func (s *Server) handleSearchStart(req *Request) (interface{}, *Error) {
	var params search.Request
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	p, err := s.deps.Controller.Start(params)
	if err != nil {
		return nil, rpcError(err)
	}
	return p, nil
}

func sessionID(req *Request) (string, *Error) {
	var params SessionParam
	if err := parseParams(req, &params); err != nil {
		return "", err
	}
	if params.ID == "" {
		return "", &Error{Code: CodeInvalidParams, Message: "id is required"}
	}
	return params.ID, nil
}

func (s *Server) handleSearchStep(ctx context.Context, req *Request) (interface{}, *Error) {
	id, rpcErr := sessionID(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	res, err := s.deps.Controller.Step(ctx, id)
	if err != nil {
		return nil, rpcError(err)
	}
	return res, nil
}

func (s *Server) handleSearchCheck(ctx context.Context, req *Request) (interface{}, *Error) {
	var params search.Request
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	res, err := s.deps.Controller.Check(ctx, params)
	if err != nil {
		return nil, rpcError(err)
	}
	return res, nil
}

func (s *Server) handleSearchStop(req *Request) (interface{}, *Error) {
	id, rpcErr := sessionID(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	p, err := s.deps.Controller.Stop(id)
	if err != nil {
		return nil, rpcError(err)
	}
	return p, nil
}

func (s *Server) handleSearchStatus(req *Request) (interface{}, *Error) {
	id, rpcErr := sessionID(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	p, err := s.deps.Controller.Status(id)
	if err != nil {
		return nil, rpcError(err)
	}
	return p, nil
}

func (s *Server) handleSearchList(_ *Request) (interface{}, *Error) {
	return s.deps.Controller.List(), nil
}

func (s *Server) handleSearchRemove(req *Request) (interface{}, *Error) {
	id, rpcErr := sessionID(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.deps.Controller.Remove(id); err != nil {
		return nil, rpcError(err)
	}
	return true, nil
}

// ── Hit endpoints ───────────────────────────────────────────────────────

func (s *Server) hitID(req *Request) (types.Hash, *Error) {
	if s.deps.Hits == nil {
		return types.Hash{}, &Error{Code: CodeNotFound, Message: "hit store not enabled"}
	}
	var params HitParam
	if err := parseParams(req, &params); err != nil {
		return types.Hash{}, err
	}
	id, err := types.ParseHash(params.ID)
	if err != nil {
		return types.Hash{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid id: %v", err)}
	}
	return id, nil
}

func (s *Server) handleHitsList(_ *Request) (interface{}, *Error) {
	if s.deps.Hits == nil {
		return nil, &Error{Code: CodeNotFound, Message: "hit store not enabled"}
	}
	entries, err := s.deps.Hits.List()
	if err != nil {
		return nil, rpcError(err)
	}
	return entries, nil
}

func (s *Server) handleHitsGet(req *Request) (interface{}, *Error) {
	id, rpcErr := s.hitID(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	hit, err := s.deps.Hits.Get(id)
	if err != nil {
		return nil, rpcError(err)
	}
	return hit, nil
}

func (s *Server) handleHitsDelete(req *Request) (interface{}, *Error) {
	id, rpcErr := s.hitID(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.deps.Hits.Delete(id); err != nil {
		return nil, rpcError(err)
	}
	return true, nil
}

func (s *Server) handleHitsClear(_ *Request) (interface{}, *Error) {
	if s.deps.Hits == nil {
		return nil, &Error{Code: CodeNotFound, Message: "hit store not enabled"}
	}
	if err := s.deps.Hits.Clear(); err != nil {
		return nil, rpcError(err)
	}
	return true, nil
}

// ── Node endpoints ──────────────────────────────────────────────────────

func (s *Server) handleNodeHealth(ctx context.Context, _ *Request) (interface{}, *Error) {
	res := &HealthResult{
		Status:   "ok",
		Endpoint: s.deps.Endpoint,
		Sessions: len(s.deps.Controller.List()),
		Uptime:   time.Since(s.started).Seconds(),
	}
	if s.deps.Chain != nil {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		height, err := s.deps.Chain.BlockNumber(hctx)
		if err != nil {
			res.Status = "degraded"
			res.ChainError = err.Error()
		} else {
			res.BlockNumber = height
		}
	}
	if s.deps.Hits != nil {
		if entries, err := s.deps.Hits.List(); err == nil {
			n := len(entries)
			res.Hits = &n
		}
	}
	return res, nil
}
