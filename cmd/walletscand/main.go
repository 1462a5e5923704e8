// Command walletscand serves mnemonic recovery searches, wallet scans and
// recorded hits over JSON-RPC.
//
//	walletscand [flags]       run the daemon until SIGINT or SIGTERM
//	walletscand init [flags]  write a commented default config file
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Klingon-tech/walletscan/config"
	"github.com/Klingon-tech/walletscan/internal/log"
	"github.com/Klingon-tech/walletscan/internal/node"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "walletscand",
		Short: "Serve mnemonic recovery searches and wallet scans over JSON-RPC",
		Long: `walletscand runs search sessions over partially known BIP-39 mnemonics and
scans derived Ethereum wallets, exposed as a JSON-RPC 2.0 API.

Flags win over WALLETSCAN_* environment variables, which win over
<datadir>/walletscan.conf.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	config.RegisterGlobalFlags(root.PersistentFlags())
	config.RegisterDaemonFlags(root.Flags())

	root.AddCommand(&cobra.Command{
		Use:          "init",
		Short:        "Write a default config file to the data directory",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			path := cfg.ConfigFile()
			if f, _ := cmd.Flags().GetString("config"); f != "" {
				path = f
			}
			if err := writeNewConfig(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})
	return root
}

// writeNewConfig refuses to replace an existing file.
func writeNewConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return config.WriteDefaultConfig(path)
}

// serve runs the node until ctx is done.
func serve(ctx context.Context, cfg *config.Config) error {
	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		n.Stop()
		return err
	}
	log.Info().Str("rpc", n.RPCAddr()).Msg("walletscand ready")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	n.Stop()
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("walletscand failed")
		os.Exit(1)
	}
}
