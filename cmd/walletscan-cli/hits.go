package main

import (
	"fmt"
	"os"

	"github.com/Klingon-tech/walletscan/config"
	"github.com/Klingon-tech/walletscan/internal/hits"
	"github.com/Klingon-tech/walletscan/internal/rpc"
	"github.com/Klingon-tech/walletscan/internal/rpcclient"
	"github.com/Klingon-tech/walletscan/internal/search"
	"github.com/Klingon-tech/walletscan/internal/storage"
	"github.com/Klingon-tech/walletscan/pkg/types"
	"github.com/spf13/cobra"
)

const hiddenMnemonic = "(hidden, use --show-mnemonic)"

// hideSecrets masks what would let a reader take the wallet.
func hideSecrets(h *search.Hit) {
	h.Mnemonic = hiddenMnemonic
	if h.Passphrase != "" {
		h.Passphrase = hiddenMnemonic
	}
}

var (
	hitsDaemon       string
	hitsShowMnemonic bool

	hitsCmd = &cobra.Command{
		Use:   "hits",
		Short: "Inspect recovered mnemonics",
		Long: `Inspect recovered mnemonics.

Hits are read from the local store in the data directory, or from a
running walletscand with --daemon.`,
	}

	hitsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored hits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := openHitSource(cmd)
			if err != nil {
				return err
			}
			defer src.Close()

			entries, err := src.List()
			if err != nil {
				return err
			}
			p := newPrinter(os.Stdout, jsonOutput)
			if !hitsShowMnemonic {
				for i := range entries {
					hideSecrets(&entries[i].Hit)
				}
			}
			if p.asJSON {
				return p.json(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(p.w, "No hits")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				addr := "-"
				if len(e.Records) > 0 {
					addr = e.Records[0].Address.Checksum()
				}
				rows = append(rows, []string{
					shortID(e.ID.String()),
					string(e.Mode),
					addr,
					e.Path,
					fmt.Sprint(e.Attempts),
					e.FoundAt.Format("2006-01-02 15:04:05"),
				})
			}
			p.table([]string{"ID", "MODE", "ADDRESS", "PATH", "ATTEMPTS", "FOUND"}, rows)
			return nil
		},
	}

	hitsShowCmd = &cobra.Command{
		Use:   "show <id>",
		Short: "Show one hit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseHash(args[0])
			if err != nil {
				return fmt.Errorf("hit id: %w", err)
			}
			src, err := openHitSource(cmd)
			if err != nil {
				return err
			}
			defer src.Close()

			hit, err := src.Get(id)
			if err != nil {
				return err
			}
			p := newPrinter(os.Stdout, jsonOutput)
			if !hitsShowMnemonic {
				hideSecrets(hit)
			}
			if p.asJSON {
				return p.json(hit)
			}
			p.kv("ID", id.String())
			p.kv("Mode", hit.Mode)
			p.kv("Path", hit.Path)
			p.kv("Attempts", hit.Attempts)
			p.kv("Found", hit.FoundAt.Format("2006-01-02 15:04:05 MST"))
			if hitsShowMnemonic {
				p.box(wrapWords(hit.Mnemonic, 4))
			} else {
				p.kv("Mnemonic", hit.Mnemonic)
			}
			if hit.Passphrase != "" {
				p.kv("Passphrase", hit.Passphrase)
			}
			if len(hit.Wallets) > 0 {
				printWallets(p, hit.Wallets)
				return nil
			}
			rows := make([][]string, 0, len(hit.Records))
			for _, r := range hit.Records {
				rows = append(rows, []string{fmt.Sprint(r.Index), r.Address.Checksum(), r.Path})
			}
			p.table([]string{"INDEX", "ADDRESS", "PATH"}, rows)
			return nil
		},
	}

	hitsDeleteCmd = &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one hit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseHash(args[0])
			if err != nil {
				return fmt.Errorf("hit id: %w", err)
			}
			src, err := openHitSource(cmd)
			if err != nil {
				return err
			}
			defer src.Close()

			if err := src.Delete(id); err != nil {
				return err
			}
			newPrinter(os.Stdout, jsonOutput).ok("Deleted " + id.String())
			return nil
		},
	}

	hitsClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored hit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := openHitSource(cmd)
			if err != nil {
				return err
			}
			defer src.Close()

			if err := src.Clear(); err != nil {
				return err
			}
			newPrinter(os.Stdout, jsonOutput).ok("Hit store cleared")
			return nil
		},
	}
)

func init() {
	pf := hitsCmd.PersistentFlags()
	pf.StringVar(&hitsDaemon, "daemon", "", "walletscand RPC URL, e.g. http://127.0.0.1:3000")
	pf.BoolVar(&hitsShowMnemonic, "show-mnemonic", false, "Print recovered mnemonics")
	pf.String("storage", storage.BackendBadger, "Hit store backend (badger, memory)")
	pf.String("hits-password", "", "Password of a sealed hit store")

	hitsCmd.AddCommand(hitsListCmd, hitsShowCmd, hitsDeleteCmd, hitsClearCmd)
}

// hitSource is the local hit store or a walletscand RPC endpoint.
type hitSource interface {
	List() ([]hits.Entry, error)
	Get(id types.Hash) (*search.Hit, error)
	Delete(id types.Hash) error
	Clear() error
	Close() error
}

func openHitSource(cmd *cobra.Command) (hitSource, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if hitsDaemon != "" {
		return &remoteHits{client: rpcclient.New(hitsDaemon, rpcclient.WithTimeout(cfg.Chain.Timeout))}, nil
	}
	return openLocalHits(cfg)
}

type localHits struct {
	*hits.Store
	db storage.DB
}

func openLocalHits(cfg *config.Config) (*localHits, error) {
	store, db, err := openHits(cfg)
	if err != nil {
		return nil, err
	}
	return &localHits{Store: store, db: db}, nil
}

func (l *localHits) Close() error { return l.db.Close() }

type remoteHits struct {
	client *rpcclient.Client
}

func (r *remoteHits) List() ([]hits.Entry, error) {
	var entries []hits.Entry
	if err := r.client.Call("hits_list", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *remoteHits) Get(id types.Hash) (*search.Hit, error) {
	var hit search.Hit
	if err := r.client.Call("hits_get", rpc.HitParam{ID: id.String()}, &hit); err != nil {
		return nil, err
	}
	return &hit, nil
}

func (r *remoteHits) Delete(id types.Hash) error {
	var ok bool
	return r.client.Call("hits_delete", rpc.HitParam{ID: id.String()}, &ok)
}

func (r *remoteHits) Clear() error {
	var ok bool
	return r.client.Call("hits_clear", nil, &ok)
}

func (r *remoteHits) Close() error { return nil }
