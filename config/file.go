package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// legacyKeys maps the plain environment names of earlier releases to
// config keys. They are honored in the environment and in the config file.
var legacyKeys = map[string]string{
	"INFURA_API_KEY":  "chain.infura_key",
	"INFURA_NETWORK":  "chain.infura_network",
	"NUM_ADDRESSES":   "wallet.addresses",
	"DERIVATION_PATH": "wallet.path",
	"PORT":            "rpc.port",
}

// Load resolves the configuration from defaults, the config file, the
// environment and fs (which may be nil). The config file is the --config
// flag if set, otherwise walletscan.conf in the data directory; a missing
// file is not an error.
func Load(fs *pflag.FlagSet) (*Config, error) {
	return LoadWith(viper.New(), fs)
}

// LoadWith is Load on a caller-supplied viper instance.
func LoadWith(v *viper.Viper, fs *pflag.FlagSet) (*Config, error) {
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for legacy, key := range legacyKeys {
		envName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	path := v.GetString("config")
	if path == "" {
		path = (&Config{DataDir: v.GetString("datadir")}).ConfigFile()
	}
	if err := readFile(v, path); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Wallet.Path = NormalizePath(cfg.Wallet.Path)
	cfg.DataDir = ExpandHome(cfg.DataDir)
	cfg.Log.File = ExpandHome(cfg.Log.File)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile merges a KEY=value config file into v. Legacy names found in the
// file become defaults for their key, so env and flags still override them.
func readFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config file: %w", err)
	}

	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	for legacy, key := range legacyKeys {
		name := strings.ToLower(legacy)
		if v.InConfig(name) && !v.InConfig(key) {
			v.SetDefault(key, v.Get(name))
		}
	}
	return nil
}

// NormalizePath turns a legacy prefix such as "m/44'/60'/0'/0/" into a
// template by appending the index marker.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasSuffix(path, "/") {
		return path + "x"
	}
	return path
}

// ExpandHome resolves "~" and "~/..." against the user's home directory.
// Other paths, including "~user", are returned unchanged.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// WriteDefaultConfig writes a commented default configuration file.
func WriteDefaultConfig(path string) error {
	d := Default()
	content := `# walletscan configuration
#
# One KEY=value per line, # for comments. Every key can also be set in the
# environment as WALLETSCAN_<KEY> with dots replaced by underscores, e.g.
# WALLETSCAN_RPC_PORT=3000.

# Data directory
# datadir = ` + d.DataDir + `

# ============================================================================
# Chain endpoint
# ============================================================================

# Full JSON-RPC URL; takes precedence over the Infura settings
# chain.endpoint = https://mainnet.infura.io/v3/<key>

# chain.infura_key =
chain.infura_network = ` + d.Chain.InfuraNetwork + `
chain.timeout = ` + d.Chain.Timeout.String() + `
chain.ratelimit = ` + fmt.Sprint(d.Chain.RateLimit) + `

# ERC-20 tokens to scan (SYMBOL:0xaddress, comma-separated; default: built-in list)
# chain.tokens =

# ============================================================================
# RPC Server
# ============================================================================

rpc.enabled = true
rpc.addr = ` + d.RPC.Addr + `
rpc.port = ` + fmt.Sprint(d.RPC.Port) + `
rpc.allowed = ` + strings.Join(d.RPC.AllowedIPs, ",") + `
# CORS allowed origins ("*" for all)
# rpc.cors = http://localhost:3000
rpc.metrics = true

# ============================================================================
# Wallet
# ============================================================================

# Derivation path template or preset name (see: walletscan-cli presets)
wallet.path = ` + d.Wallet.Path + `
wallet.addresses = ` + fmt.Sprint(d.Wallet.Addresses) + `
wallet.words = ` + fmt.Sprint(d.Wallet.Words) + `

# ============================================================================
# Search
# ============================================================================

search.max_sessions = ` + fmt.Sprint(d.Search.MaxSessions) + `
# 0 = unbounded
search.max_attempts = 0
search.yield_every = ` + fmt.Sprint(d.Search.YieldEvery) + `

# ============================================================================
# Storage
# ============================================================================

# badger or memory
storage.backend = ` + d.Storage.Backend + `
# Seal stored hits with a password
# storage.password =

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0600)
}
