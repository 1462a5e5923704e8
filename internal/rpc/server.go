// Package rpc implements the JSON-RPC 2.0 API server.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Klingon-tech/walletscan/config"
	"github.com/Klingon-tech/walletscan/internal/chainquery"
	"github.com/Klingon-tech/walletscan/internal/hits"
	klog "github.com/Klingon-tech/walletscan/internal/log"
	"github.com/Klingon-tech/walletscan/internal/search"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// Deps are the services the server exposes. Only Controller is required.
type Deps struct {
	Controller   *search.Controller
	Chain        *chainquery.Client  // nil disables wallet_scan
	Hits         *hits.Store         // nil disables hits_*
	Gatherer     prometheus.Gatherer // nil disables /metrics
	Metrics      *Metrics            // nil disables call metrics
	DefaultPath  string
	DefaultCount int
	Endpoint     string // shown by node_health, credentials redacted
}

// method handles one JSON-RPC method.
type method func(ctx context.Context, req *Request) (interface{}, *Error)

// noCtx adapts handlers that never block on the chain endpoint.
func noCtx(h func(*Request) (interface{}, *Error)) method {
	return func(_ context.Context, req *Request) (interface{}, *Error) { return h(req) }
}

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr    string
	deps    Deps
	started time.Time
	methods map[string]method
	access  access
	server  *http.Server
	logger  zerolog.Logger
	ln      net.Listener
}

// New creates a server for addr. The optional RPCConfig sets the IP
// allow-list and CORS origins; without one every client is allowed and no
// CORS headers are sent.
func New(addr string, deps Deps, rpcCfg ...config.RPCConfig) *Server {
	if deps.DefaultCount <= 0 {
		deps.DefaultCount = 5
	}
	s := &Server{
		addr:    addr,
		deps:    deps,
		started: time.Now(),
		logger:  klog.WithComponent("rpc"),
	}
	if len(rpcCfg) > 0 {
		s.access = newAccess(rpcCfg[0])
	}
	s.methods = map[string]method{
		"wallet_generateMnemonic": noCtx(s.handleWalletGenerateMnemonic),
		"wallet_getWordlist":      noCtx(s.handleWalletGetWordlist),
		"wallet_validateMnemonic": noCtx(s.handleWalletValidateMnemonic),
		"wallet_deriveAddresses":  noCtx(s.handleWalletDeriveAddresses),
		"wallet_scan":             s.handleWalletScan,
		"wallet_getPresets":       noCtx(s.handleWalletGetPresets),
		"search_start":            noCtx(s.handleSearchStart),
		"search_step":             s.handleSearchStep,
		"search_check":            s.handleSearchCheck,
		"search_stop":             noCtx(s.handleSearchStop),
		"search_status":           noCtx(s.handleSearchStatus),
		"search_list":             noCtx(s.handleSearchList),
		"search_remove":           noCtx(s.handleSearchRemove),
		"hits_list":               noCtx(s.handleHitsList),
		"hits_get":                noCtx(s.handleHitsGet),
		"hits_delete":             noCtx(s.handleHitsDelete),
		"hits_clear":              noCtx(s.handleHitsClear),
		"node_health":             s.handleNodeHealth,
	}

	mux := http.NewServeMux()
	mux.Handle("/", s.access.wrap(http.HandlerFunc(s.serveRPC), true))
	if deps.Gatherer != nil {
		mux.Handle("/metrics", s.access.wrap(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}), false))
	}
	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// wallet_scan and search_check wait on the chain endpoint.
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	s.logger.Info().Str("addr", s.Addr()).Int("methods", len(s.methods)).Msg("RPC server listening")
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down, waiting up to five seconds for calls in flight.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	req, rpcErr := decodeRequest(r)
	if rpcErr != nil {
		var id interface{}
		if req != nil {
			id = req.ID
		}
		writeResponse(w, Response{JSONRPC: "2.0", Error: rpcErr, ID: id})
		return
	}

	start := time.Now()
	result, rpcErr := s.call(r.Context(), req)
	took := time.Since(start)
	s.deps.Metrics.observe(req.Method, rpcErr, took)

	ev := s.logger.Debug()
	if rpcErr != nil {
		ev = ev.Int("code", rpcErr.Code)
	}
	ev.Str("method", req.Method).Dur("took", took).Msg("RPC call")

	resp := Response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	writeResponse(w, resp)
}

func (s *Server) call(ctx context.Context, req *Request) (interface{}, *Error) {
	h, ok := s.methods[req.Method]
	if !ok {
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
	return h(ctx, req)
}

// decodeRequest reads one JSON-RPC request. The returned request is
// non-nil with an error only when its id could be recovered.
func decodeRequest(r *http.Request) (*Request, *Error) {
	if r.Method != http.MethodPost {
		return nil, &Error{Code: CodeInvalidRequest, Message: "only POST method is allowed"}
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, &Error{Code: CodeParseError, Message: "failed to read request body"}
	}
	if len(body) > maxBodySize {
		return nil, &Error{Code: CodeInvalidRequest, Message: "request body too large"}
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &Error{Code: CodeParseError, Message: "invalid JSON"}
	}
	if req.JSONRPC != "2.0" {
		return &req, &Error{Code: CodeInvalidRequest, Message: `jsonrpc must be "2.0"`}
	}
	return &req, nil
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// parseParams decodes the request params into target.
func parseParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}
	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// parseOptionalParams is parseParams for methods whose params may be omitted.
func parseOptionalParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return nil
	}
	return parseParams(req, target)
}
