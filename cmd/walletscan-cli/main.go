// walletscan-cli generates, validates and derives BIP-39 wallets, scans
// them on an Ethereum endpoint and recovers mnemonics with unknown words.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Klingon-tech/walletscan/config"
	"github.com/Klingon-tech/walletscan/internal/chainquery"
	"github.com/Klingon-tech/walletscan/internal/hits"
	"github.com/Klingon-tech/walletscan/internal/log"
	"github.com/Klingon-tech/walletscan/internal/storage"
	"github.com/spf13/cobra"
)

var (
	jsonOutput bool

	rootCmd = &cobra.Command{
		Use:   "walletscan-cli",
		Short: "Derive, scan and recover BIP-39 Ethereum wallets",
		Long: `Derive, scan and recover BIP-39 Ethereum wallets.

Mnemonics may be passed as arguments or, when omitted, typed at a hidden
prompt. Unknown words in a search template are written as _.

SECURITY TIP: Add a space before the command to keep a mnemonic out of
your shell history, or omit it and use the prompt.`,
		SilenceUsage: true,
	}
)

var errNoEndpoint = errors.New("no chain endpoint: set --endpoint or --infura-key")

func init() {
	config.RegisterGlobalFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(generateCmd, validateCmd, wordlistCmd, presetsCmd, deriveCmd, scanCmd, searchCmd, hitsCmd)
}

// loadConfig resolves the config for cmd and initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	log.Debug().Str("datadir", cfg.DataDir).Str("path", cfg.Wallet.Path).Msg("Config loaded")
	return cfg, nil
}

// chainClient builds the chain client from cfg.
func chainClient(cfg *config.Config) (*chainquery.Client, error) {
	url := cfg.Chain.URL()
	if url == "" {
		return nil, errNoEndpoint
	}
	tokens, err := chainquery.ParseTokens(cfg.Chain.Tokens)
	if err != nil {
		return nil, fmt.Errorf("chain tokens: %w", err)
	}
	log.Chain.Debug().Str("endpoint", cfg.Chain.Redacted()).Msg("Using chain endpoint")
	return chainquery.NewClient(chainquery.Config{
		Endpoint:  url,
		Timeout:   cfg.Chain.Timeout,
		RateLimit: cfg.Chain.RateLimit,
		Tokens:    tokens,
	}), nil
}

// openHits opens the local hit store. The caller closes the returned DB.
func openHits(cfg *config.Config) (*hits.Store, storage.DB, error) {
	path := cfg.HitsDir()
	if cfg.Storage.Backend != storage.BackendMemory {
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, nil, fmt.Errorf("creating hits dir: %w", err)
		}
	}
	db, err := storage.Open(cfg.Storage.Backend, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open hit store at %s (is walletscand running? try --daemon): %w", path, err)
	}
	var opts []hits.Option
	if cfg.Storage.Password != "" {
		opts = append(opts, hits.WithPassword(cfg.Storage.Password, hits.DefaultSealParams()))
	}
	return hits.NewStore(db, opts...), db, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
