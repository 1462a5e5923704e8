package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/Klingon-tech/walletscan/internal/chainquery"
	"github.com/Klingon-tech/walletscan/internal/hdpath"
	"github.com/Klingon-tech/walletscan/internal/log"
	"github.com/Klingon-tech/walletscan/internal/storage"
)

// Validate checks the config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if !log.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level %q is not one of trace, debug, info, warn, error", cfg.Log.Level)
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	for i, entry := range cfg.RPC.AllowedIPs {
		entry = strings.TrimSpace(entry)
		if net.ParseIP(entry) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return fmt.Errorf("rpc.allowed[%d] %q is not an IP or CIDR", i, entry)
		}
	}

	if cfg.Chain.Timeout <= 0 {
		return fmt.Errorf("chain.timeout must be positive")
	}
	if cfg.Chain.RateLimit < 0 {
		return fmt.Errorf("chain.ratelimit must not be negative")
	}
	if cfg.Chain.Tokens != "" {
		if _, err := chainquery.ParseTokens(cfg.Chain.Tokens); err != nil {
			return fmt.Errorf("chain.tokens: %w", err)
		}
	}

	if _, err := hdpath.ResolveTemplate(cfg.Wallet.Path); err != nil {
		return fmt.Errorf("wallet.path: %w", err)
	}
	if cfg.Wallet.Addresses < 1 || cfg.Wallet.Addresses > 1000 {
		return fmt.Errorf("wallet.addresses must be in range [1, 1000]")
	}
	if cfg.Wallet.Words != 12 && cfg.Wallet.Words != 24 {
		return fmt.Errorf("wallet.words must be 12 or 24")
	}

	if cfg.Search.MaxSessions < 1 {
		return fmt.Errorf("search.max_sessions must be at least 1")
	}

	switch cfg.Storage.Backend {
	case storage.BackendBadger, storage.BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be %q or %q", storage.BackendBadger, storage.BackendMemory)
	}
	return nil
}
