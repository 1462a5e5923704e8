package config

import (
	"time"

	"github.com/Klingon-tech/walletscan/internal/hdpath"
	"github.com/spf13/viper"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       3000,
			AllowedIPs: []string{"127.0.0.1"},
			Metrics:    true,
		},
		Chain: ChainConfig{
			InfuraNetwork: "mainnet",
			Timeout:       10 * time.Second,
			RateLimit:     10,
			HealthCheck:   true,
		},
		Wallet: WalletConfig{
			Path:      hdpath.DefaultTemplate,
			Addresses: 5,
			Words:     12,
		},
		Search: SearchConfig{
			MaxSessions: 16,
			YieldEvery:  1000,
		},
		Storage: StorageConfig{
			Backend: "badger",
		},
	}
}

// setDefaults registers every key of cfg as a viper default. Keys must be
// known to viper for AutomaticEnv to resolve them on Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("datadir", cfg.DataDir)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.json", cfg.Log.JSON)

	v.SetDefault("rpc.enabled", cfg.RPC.Enabled)
	v.SetDefault("rpc.addr", cfg.RPC.Addr)
	v.SetDefault("rpc.port", cfg.RPC.Port)
	v.SetDefault("rpc.allowed", cfg.RPC.AllowedIPs)
	v.SetDefault("rpc.cors", cfg.RPC.CORSOrigins)
	v.SetDefault("rpc.metrics", cfg.RPC.Metrics)

	v.SetDefault("chain.endpoint", cfg.Chain.Endpoint)
	v.SetDefault("chain.infura_key", cfg.Chain.InfuraKey)
	v.SetDefault("chain.infura_network", cfg.Chain.InfuraNetwork)
	v.SetDefault("chain.timeout", cfg.Chain.Timeout)
	v.SetDefault("chain.ratelimit", cfg.Chain.RateLimit)
	v.SetDefault("chain.tokens", cfg.Chain.Tokens)
	v.SetDefault("chain.healthcheck", cfg.Chain.HealthCheck)

	v.SetDefault("wallet.path", cfg.Wallet.Path)
	v.SetDefault("wallet.addresses", cfg.Wallet.Addresses)
	v.SetDefault("wallet.words", cfg.Wallet.Words)

	v.SetDefault("search.max_sessions", cfg.Search.MaxSessions)
	v.SetDefault("search.max_attempts", cfg.Search.MaxAttempts)
	v.SetDefault("search.yield_every", cfg.Search.YieldEvery)

	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.password", cfg.Storage.Password)
}
