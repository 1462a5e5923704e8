package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"config":          "config",
	"datadir":         "datadir",
	"log-level":       "log.level",
	"log-file":        "log.file",
	"log-json":        "log.json",
	"rpc":             "rpc.enabled",
	"rpc-addr":        "rpc.addr",
	"rpc-port":        "rpc.port",
	"rpc-allowed":     "rpc.allowed",
	"rpc-cors":        "rpc.cors",
	"metrics":         "rpc.metrics",
	"endpoint":        "chain.endpoint",
	"infura-key":      "chain.infura_key",
	"infura-network":  "chain.infura_network",
	"chain-timeout":   "chain.timeout",
	"chain-ratelimit": "chain.ratelimit",
	"tokens":          "chain.tokens",
	"path":            "wallet.path",
	"addresses":       "wallet.addresses",
	"words":           "wallet.words",
	"max-sessions":    "search.max_sessions",
	"max-attempts":    "search.max_attempts",
	"storage":         "storage.backend",
	"hits-password":   "storage.password",
}

// RegisterGlobalFlags adds the flags shared by the daemon and the CLI.
func RegisterGlobalFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("config", "c", "", "Config file path")
	fs.String("datadir", d.DataDir, "Data directory path")
	fs.String("log-level", d.Log.Level, "Log level (trace, debug, info, warn, error)")
	fs.String("log-file", "", "Log file path")
	fs.Bool("log-json", false, "Output logs as JSON")

	fs.String("endpoint", "", "Ethereum JSON-RPC endpoint URL")
	fs.String("infura-key", "", "Infura project key (used when --endpoint is empty)")
	fs.String("infura-network", d.Chain.InfuraNetwork, "Infura network")
	fs.Duration("chain-timeout", d.Chain.Timeout, "JSON-RPC request timeout")
	fs.Int("chain-ratelimit", d.Chain.RateLimit, "JSON-RPC requests per second (0 = unlimited)")
	fs.String("tokens", "", "ERC-20 tokens as SYMBOL:0xaddress,... (default: built-in list)")

	fs.String("path", d.Wallet.Path, "Derivation path template or preset name")
	fs.Int("addresses", d.Wallet.Addresses, "Addresses to derive per wallet")
}

// RegisterDaemonFlags adds the daemon-only flags.
func RegisterDaemonFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.Bool("rpc", d.RPC.Enabled, "Enable RPC server")
	fs.String("rpc-addr", d.RPC.Addr, "RPC listen address")
	fs.Int("rpc-port", d.RPC.Port, "RPC listen port")
	fs.StringSlice("rpc-allowed", d.RPC.AllowedIPs, "Allowed client IPs or CIDRs")
	fs.StringSlice("rpc-cors", nil, "Allowed CORS origins")
	fs.Bool("metrics", d.RPC.Metrics, "Serve prometheus metrics on /metrics")
	fs.Int("max-sessions", d.Search.MaxSessions, "Maximum concurrent search sessions")
	fs.Uint64("max-attempts", 0, "Default attempt cap per search (0 = unbounded)")
	fs.String("storage", d.Storage.Backend, "Hit store backend (badger, memory)")
	fs.String("hits-password", "", "Seal stored hits with this password")
}

// bindFlags binds every known flag present in fs to its config key.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}
