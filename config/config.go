// Package config handles application configuration.
//
// Settings are layered, lowest precedence first: built-in defaults, the
// config file, environment variables, command-line flags.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

// ConfigFileName is the config file looked up in the data directory.
const ConfigFileName = "walletscan.conf"

// EnvPrefix prefixes every environment variable, e.g. WALLETSCAN_RPC_PORT.
const EnvPrefix = "WALLETSCAN"

// Config holds the daemon and CLI configuration.
type Config struct {
	DataDir string `mapstructure:"datadir"`

	Log     LogConfig     `mapstructure:"log"`
	RPC     RPCConfig     `mapstructure:"rpc"`
	Chain   ChainConfig   `mapstructure:"chain"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
	Search  SearchConfig  `mapstructure:"search"`
	Storage StorageConfig `mapstructure:"storage"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
	JSON  bool   `mapstructure:"json"`
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Addr        string   `mapstructure:"addr"`
	Port        int      `mapstructure:"port"`
	AllowedIPs  []string `mapstructure:"allowed"`
	CORSOrigins []string `mapstructure:"cors"` // "*" = all
	Metrics     bool     `mapstructure:"metrics"`
}

// ChainConfig selects the Ethereum JSON-RPC endpoint. Endpoint wins over
// the Infura key and network.
type ChainConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	InfuraKey     string        `mapstructure:"infura_key"`
	InfuraNetwork string        `mapstructure:"infura_network"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RateLimit     int           `mapstructure:"ratelimit"` // requests/s, 0 = unlimited
	Tokens        string        `mapstructure:"tokens"`    // SYM:0xaddr,...; empty = built-in list
	HealthCheck   bool          `mapstructure:"healthcheck"`
}

// WalletConfig holds derivation defaults.
type WalletConfig struct {
	Path      string `mapstructure:"path"`      // template or preset name
	Addresses int    `mapstructure:"addresses"` // addresses per scan
	Words     int    `mapstructure:"words"`     // generated mnemonic length
}

// SearchConfig bounds search sessions.
type SearchConfig struct {
	MaxSessions int    `mapstructure:"max_sessions"`
	MaxAttempts uint64 `mapstructure:"max_attempts"` // 0 = unbounded
	YieldEvery  uint64 `mapstructure:"yield_every"`
}

// StorageConfig selects the hit store backend.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`  // badger or memory
	Password string `mapstructure:"password"` // seals stored hits when set
}

// URL returns the JSON-RPC endpoint, or "" if none is configured.
func (c ChainConfig) URL() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	if c.InfuraKey == "" {
		return ""
	}
	network := c.InfuraNetwork
	if network == "" {
		network = "mainnet"
	}
	return fmt.Sprintf("https://%s.infura.io/v3/%s", network, c.InfuraKey)
}

// Redacted returns URL with an Infura key masked, for logging.
func (c ChainConfig) Redacted() string {
	url := c.URL()
	if c.Endpoint == "" && c.InfuraKey != "" {
		return strings.TrimSuffix(url, c.InfuraKey) + "***"
	}
	return url
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.walletscan
//	macOS:   ~/Library/Application Support/Walletscan
//	Windows: %LOCALAPPDATA%\Walletscan
func DefaultDataDir() string {
	return btcutil.AppDataDir("walletscan", false)
}

// HitsDir returns the hit store directory.
func (c *Config) HitsDir() string {
	return filepath.Join(c.DataDir, "hits")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, ConfigFileName)
}
