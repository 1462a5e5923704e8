package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Klingon-tech/walletscan/config"
	"github.com/Klingon-tech/walletscan/internal/hdpath"
	"github.com/Klingon-tech/walletscan/internal/log"
	"github.com/Klingon-tech/walletscan/internal/search"
	"github.com/Klingon-tech/walletscan/internal/storage"
	"github.com/spf13/cobra"
)

var errNoMatch = errors.New("no match")

var (
	searchTarget        string
	searchBalance       bool
	searchIndex         uint32
	searchCount         int
	searchCheckMultiple bool
	searchLength        int
	searchPassphrase    string
	searchScanTokens    bool
	searchSave          bool

	searchCmd = &cobra.Command{
		Use:   "search <word|_>...",
		Short: "Recover a mnemonic with unknown words",
		Long: `Recover a mnemonic with unknown words.

Known words are given in order and unknown ones as _ (or ''). Random
candidates are drawn for the unknown positions until one derives the
target address, or, with --balance, an address holding ether.`,
		Example: `  walletscan-cli search abandon _ abandon abandon abandon abandon abandon abandon abandon abandon abandon about \
      --target 0x9858EfFD232B4033E47d90003D41EC34EcaEda94
  walletscan-cli search $(cat partial.txt) --balance --check-multiple --endpoint http://localhost:8545`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSearch,
	}
)

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchTarget, "target", "", "Address to match")
	f.BoolVar(&searchBalance, "balance", false, "Match any address holding ether (needs an endpoint)")
	f.Uint32Var(&searchIndex, "index", 0, "First address index to derive per candidate")
	f.IntVar(&searchCount, "count", 1, "Addresses to derive per candidate")
	f.BoolVar(&searchCheckMultiple, "check-multiple", false, "Check indices 0..19 per candidate")
	f.IntVar(&searchLength, "length", 0, "Mnemonic length, 12 or 24 (default: number of words given)")
	f.Uint64("max-attempts", 0, "Stop after this many attempts (0 = unbounded)")
	f.StringVar(&searchPassphrase, "passphrase", "", "BIP-39 passphrase")
	f.BoolVar(&searchScanTokens, "scan-tokens", false, "Also look up token balances of a balance match")
	f.BoolVar(&searchSave, "save", false, "Store a match in the local hit store")
	f.String("storage", storage.BackendBadger, "Hit store backend (badger, memory)")
	f.String("hits-password", "", "Seal stored hits with this password")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if searchBalance == (searchTarget != "") {
		return errors.New("give exactly one of --target or --balance")
	}

	tmpl, err := search.NewTemplate(templateWords(args), searchLength)
	if err != nil {
		return err
	}
	path, err := hdpath.ResolveTemplate(cfg.Wallet.Path)
	if err != nil {
		return err
	}

	opts := search.Options{
		Mode:          search.ModeAddress,
		Target:        searchTarget,
		Index:         searchIndex,
		Count:         searchCount,
		CheckMultiple: searchCheckMultiple,
		MaxAttempts:   cfg.Search.MaxAttempts,
		Passphrase:    searchPassphrase,
		ScanTokens:    searchScanTokens,
		YieldEvery:    cfg.Search.YieldEvery,
	}
	if searchBalance {
		client, err := chainClient(cfg)
		if err != nil {
			return err
		}
		opts.Mode = search.ModeBalance
		opts.Query = client
	}

	s, err := search.Start(tmpl, path, opts)
	if err != nil {
		return err
	}
	total, capped := tmpl.Combinations()
	log.Search.Info().
		Str("template", tmpl.String()).
		Str("path", path.String()).
		Str("mode", string(opts.Mode)).
		Ints("blanks", tmpl.Blanks()).
		Uint64("combinations", total).
		Bool("capped", capped).
		Msg("Search started")
	if capped {
		log.Warn().Int("blanks", len(tmpl.Blanks())).Msg("Combination count exceeds 2^53-1 and is reported capped")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	res, err := s.Run(ctx, func(r *search.StepResult) {
		if r.State.Terminal() {
			return
		}
		log.Search.Info().
			Uint64("attempts", r.Attempts).
			Uint64("rejected", s.Rejected()).
			Str("rate", formatRate(r.Attempts, time.Since(started))).
			Msg("Searching")
	})
	if err != nil {
		return err
	}

	p := newPrinter(os.Stdout, jsonOutput)
	if p.asJSON {
		if err := p.json(res); err != nil {
			return err
		}
	} else {
		printSearchResult(p, res, time.Since(started))
	}

	if !res.Matched {
		return errNoMatch
	}
	if searchSave {
		return saveHit(cfg, s, res)
	}
	return nil
}

func printSearchResult(p *printer, res *search.StepResult, elapsed time.Duration) {
	p.kv("State", res.State)
	p.kv("Attempts", res.Attempts)
	p.kv("Rate", formatRate(res.Attempts, elapsed))
	for _, e := range res.Errors {
		p.fail(e)
	}
	if !res.Matched {
		switch {
		case res.Stopped:
			p.fail("Search stopped")
		case res.Exhausted:
			p.fail("Attempts exhausted without a match")
		}
		return
	}
	p.ok("Match found")
	p.box(wrapWords(res.Mnemonic, 4))
	if len(res.Wallets) > 0 {
		printWallets(p, res.Wallets)
		return
	}
	rows := make([][]string, 0, len(res.Records))
	for _, r := range res.Records {
		rows = append(rows, []string{fmt.Sprint(r.Index), r.Address.Checksum(), r.Path})
	}
	p.table([]string{"INDEX", "ADDRESS", "PATH"}, rows)
}

func saveHit(cfg *config.Config, s *search.Session, res *search.StepResult) error {
	store, db, err := openHits(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := store.Put(search.Hit{
		Mode:       s.Options().Mode,
		Mnemonic:   res.Mnemonic,
		Passphrase: s.Options().Passphrase,
		Path:       s.Path().String(),
		Attempts:   res.Attempts,
		Records:    res.Records,
		Wallets:    res.Wallets,
		FoundAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("saving hit: %w", err)
	}
	log.Storage.Info().Str("id", id.String()).Msg("Hit saved")
	return nil
}
