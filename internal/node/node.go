// Package node wires configuration, storage, the chain client, the search
// controller and the RPC server into a runnable daemon.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Klingon-tech/walletscan/config"
	"github.com/Klingon-tech/walletscan/internal/chainquery"
	"github.com/Klingon-tech/walletscan/internal/hits"
	klog "github.com/Klingon-tech/walletscan/internal/log"
	"github.com/Klingon-tech/walletscan/internal/rpc"
	"github.com/Klingon-tech/walletscan/internal/search"
	"github.com/Klingon-tech/walletscan/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// healthCheckTimeout bounds the startup eth_blockNumber ping.
const healthCheckTimeout = 10 * time.Second

// Node is a fully-initialized walletscan daemon.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Storage
	db   storage.DB
	hits *hits.Store

	// Services
	chain      *chainquery.Client // nil when no endpoint is configured
	controller *search.Controller
	registry   *prometheus.Registry

	// RPC
	rpcServer *rpc.Server

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, storage, chain client, controller, RPC) but does not bind the
// RPC listener. Call Start() for that.
func New(cfg *config.Config) (*Node, error) {
	cfg.DataDir = config.ExpandHome(cfg.DataDir)
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := config.ExpandHome(cfg.Log.File)
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "walletscan.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	logger.Info().
		Str("datadir", cfg.DataDir).
		Str("path", cfg.Wallet.Path).
		Str("storage", cfg.Storage.Backend).
		Msg("Starting walletscan daemon")

	// ── 2. Open storage ─────────────────────────────────────────────
	db, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	var hitOpts []hits.Option
	if cfg.Storage.Password != "" {
		hitOpts = append(hitOpts, hits.WithPassword(cfg.Storage.Password, hits.DefaultSealParams()))
	}
	hitStore := hits.NewStore(db, hitOpts...)

	// ── 3. Chain client ─────────────────────────────────────────────
	chain, err := newChainClient(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	if chain == nil {
		logger.Warn().Msg("No chain endpoint configured; balance search and wallet_scan are disabled")
	} else {
		logger.Info().
			Str("endpoint", cfg.Chain.Redacted()).
			Int("tokens", len(chain.Tokens())).
			Int("ratelimit", cfg.Chain.RateLimit).
			Msg("Chain endpoint configured")
	}

	// ── 4. Metrics ──────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// ── 5. Search controller ────────────────────────────────────────
	ctrlCfg := search.ControllerConfig{
		Sink:        hitStore,
		Metrics:     search.NewMetrics(registry),
		MaxSessions: cfg.Search.MaxSessions,
		DefaultPath: cfg.Wallet.Path,
		MaxAttempts: cfg.Search.MaxAttempts,
		YieldEvery:  cfg.Search.YieldEvery,
	}
	if chain != nil {
		ctrlCfg.Query = chain
	}
	controller := search.NewController(ctrlCfg)

	// ── 6. RPC server ───────────────────────────────────────────────
	var rpcServer *rpc.Server
	if cfg.RPC.Enabled {
		deps := rpc.Deps{
			Controller:   controller,
			Chain:        chain,
			Hits:         hitStore,
			DefaultPath:  cfg.Wallet.Path,
			DefaultCount: cfg.Wallet.Addresses,
			Endpoint:     cfg.Chain.Redacted(),
			Metrics:      rpc.NewMetrics(registry),
		}
		if cfg.RPC.Metrics {
			deps.Gatherer = registry
		}
		addr := net.JoinHostPort(cfg.RPC.Addr, strconv.Itoa(cfg.RPC.Port))
		rpcServer = rpc.New(addr, deps, cfg.RPC)
	} else {
		logger.Warn().Msg("RPC disabled by config")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		hits:       hitStore,
		chain:      chain,
		controller: controller,
		registry:   registry,
		rpcServer:  rpcServer,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// openStorage opens the configured hit store backend.
func openStorage(cfg *config.Config) (storage.DB, error) {
	path := ""
	if cfg.Storage.Backend != storage.BackendMemory {
		path = cfg.HitsDir()
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, fmt.Errorf("creating hits dir: %w", err)
		}
	}
	db, err := storage.Open(cfg.Storage.Backend, path)
	if err != nil {
		return nil, fmt.Errorf("open hit store at %s: %w", path, err)
	}
	klog.Storage.Info().Str("backend", cfg.Storage.Backend).Str("path", path).Msg("Hit store opened")
	return db, nil
}

// newChainClient returns nil, nil when no endpoint is configured.
func newChainClient(cfg *config.Config) (*chainquery.Client, error) {
	url := cfg.Chain.URL()
	if url == "" {
		return nil, nil
	}
	tokens, err := chainquery.ParseTokens(cfg.Chain.Tokens)
	if err != nil {
		return nil, fmt.Errorf("chain tokens: %w", err)
	}
	return chainquery.NewClient(chainquery.Config{
		Endpoint:  url,
		Timeout:   cfg.Chain.Timeout,
		RateLimit: cfg.Chain.RateLimit,
		Tokens:    tokens,
	}), nil
}

// Start pings the chain endpoint and starts the RPC server.
func (n *Node) Start() error {
	if n.chain != nil && n.cfg.Chain.HealthCheck {
		n.checkEndpoint()
	}

	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start rpc: %w", err)
		}
	}

	n.logger.Info().
		Str("rpc", n.RPCAddr()).
		Bool("metrics", n.cfg.RPC.Enabled && n.cfg.RPC.Metrics).
		Msg("Node started successfully")
	return nil
}

// checkEndpoint logs the chain head, or a warning if the endpoint is down.
// An unhealthy endpoint does not prevent startup.
func (n *Node) checkEndpoint() {
	ctx, cancel := context.WithTimeout(n.ctx, healthCheckTimeout)
	defer cancel()

	height, err := n.chain.BlockNumber(ctx)
	if err != nil {
		n.logger.Warn().Err(err).Str("endpoint", n.cfg.Chain.Redacted()).Msg("Chain endpoint health check failed")
		return
	}
	n.logger.Info().Uint64("block", height).Msg("Chain endpoint healthy")
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.cancel()

		if n.rpcServer != nil {
			if err := n.rpcServer.Stop(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				n.logger.Warn().Err(err).Msg("RPC shutdown")
			}
		}
		n.controller.Close()
		if n.db != nil {
			n.db.Close()
		}

		n.logger.Info().Msg("Goodbye!")
	})
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Controller returns the search controller.
func (n *Node) Controller() *search.Controller {
	return n.controller
}

// Hits returns the hit store.
func (n *Node) Hits() *hits.Store {
	return n.hits
}

// Chain returns the chain client, or nil when none is configured.
func (n *Node) Chain() *chainquery.Client {
	return n.chain
}
