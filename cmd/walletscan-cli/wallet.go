package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Klingon-tech/walletscan/internal/chainquery"
	"github.com/Klingon-tech/walletscan/internal/hdpath"
	"github.com/Klingon-tech/walletscan/internal/log"
	"github.com/Klingon-tech/walletscan/internal/wallet"
	"github.com/spf13/cobra"
)

var errInvalidMnemonic = errors.New("mnemonic is not valid")

var (
	deriveStart      uint32
	derivePassphrase string
	deriveShowKeys   bool
	scanTokens       bool
	scanToken        string

	generateCmd = &cobra.Command{
		Use:     "generate",
		Short:   "Generate a new random mnemonic",
		Example: "  walletscan-cli generate --words 24",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			mnemonic, err := wallet.GenerateMnemonic(cfg.Wallet.Words)
			if err != nil {
				return err
			}
			p := newPrinter(os.Stdout, jsonOutput)
			if p.asJSON {
				return p.json(map[string]interface{}{"mnemonic": mnemonic, "words": cfg.Wallet.Words})
			}
			if !p.styled {
				fmt.Fprintln(p.w, mnemonic)
				return nil
			}
			p.title(fmt.Sprintf("New %d-word mnemonic", cfg.Wallet.Words))
			p.box(wrapWords(mnemonic, 4))
			return nil
		},
	}

	validateCmd = &cobra.Command{
		Use:   "validate [mnemonic...]",
		Short: "Check a mnemonic's words and checksum",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			mnemonic, err := readMnemonic(args)
			if err != nil {
				return err
			}
			words := strings.Fields(mnemonic)
			var unknown []string
			for i, w := range words {
				if !wallet.IsWord(w) {
					unknown = append(unknown, fmt.Sprintf("%s (#%d)", w, i+1))
				}
			}
			valid := wallet.ValidateWords(words)

			p := newPrinter(os.Stdout, jsonOutput)
			if p.asJSON {
				if err := p.json(map[string]interface{}{"valid": valid, "words": len(words), "unknown": unknown}); err != nil {
					return err
				}
			} else {
				p.kv("Words", len(words))
				if len(unknown) > 0 {
					p.kv("Unknown", strings.Join(unknown, ", "))
				}
				if valid {
					p.ok("Valid BIP-39 mnemonic")
				} else {
					p.fail("Invalid mnemonic")
				}
			}
			if !valid {
				return errInvalidMnemonic
			}
			return nil
		},
	}

	wordlistCmd = &cobra.Command{
		Use:   "wordlist [prefix]",
		Short: "Print the BIP-39 English wordlist",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			prefix := ""
			if len(args) > 0 {
				prefix = strings.ToLower(args[0])
			}
			var words []string
			for _, w := range wallet.Wordlist() {
				if strings.HasPrefix(w, prefix) {
					words = append(words, w)
				}
			}
			p := newPrinter(os.Stdout, jsonOutput)
			if p.asJSON {
				return p.json(words)
			}
			for _, w := range words {
				fmt.Fprintln(p.w, w)
			}
			return nil
		},
	}

	presetsCmd = &cobra.Command{
		Use:   "presets",
		Short: "List named derivation path presets",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			presets := hdpath.Presets()
			p := newPrinter(os.Stdout, jsonOutput)
			if p.asJSON {
				return p.json(presets)
			}
			rows := make([][]string, 0, len(presets))
			for _, pr := range presets {
				rows = append(rows, []string{pr.Name, pr.Template})
			}
			p.table([]string{"NAME", "TEMPLATE"}, rows)
			return nil
		},
	}

	deriveCmd = &cobra.Command{
		Use:   "derive [mnemonic...]",
		Short: "Derive addresses from a mnemonic without touching the network",
		Example: `  walletscan-cli derive --addresses 3
  walletscan-cli derive --path ethereum_ledger_live --show-keys`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			records, tmpl, err := deriveRecords(args, cfg.Wallet.Path, cfg.Wallet.Addresses)
			if err != nil {
				return err
			}
			views := recordViews(records, deriveShowKeys)
			p := newPrinter(os.Stdout, jsonOutput)
			if p.asJSON {
				return p.json(views)
			}
			p.kv("Path", tmpl.String())
			header := []string{"INDEX", "ADDRESS", "PATH"}
			if deriveShowKeys {
				header = append(header, "PRIVATE KEY")
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				row := []string{strconv.FormatUint(uint64(v.Index), 10), v.Address, v.Path}
				if deriveShowKeys {
					row = append(row, v.PrivateKey)
				}
				rows = append(rows, row)
			}
			p.table(header, rows)
			return nil
		},
	}

	scanCmd = &cobra.Command{
		Use:   "scan [mnemonic...]",
		Short: "Derive addresses and look up balances, nonces and tokens",
		Example: `  walletscan-cli scan --endpoint https://mainnet.infura.io/v3/<key>
  walletscan-cli scan --infura-key <key> --tokens --addresses 10
  walletscan-cli scan --token USDC`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := chainClient(cfg)
			if err != nil {
				return err
			}
			records, _, err := deriveRecords(args, cfg.Wallet.Path, cfg.Wallet.Addresses)
			if err != nil {
				return err
			}
			withTokens := scanTokens
			if scanToken != "" {
				tokens, err := chainquery.FilterTokens(client.Tokens(), scanToken)
				if err != nil {
					return err
				}
				client = client.WithTokens(tokens)
				withTokens = true
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			defer log.Benchmark("scan")()
			wallets, err := chainquery.NewScanner(client, withTokens).Scan(ctx, records)
			if err != nil {
				return err
			}

			p := newPrinter(os.Stdout, jsonOutput)
			if p.asJSON {
				return p.json(wallets)
			}
			printWallets(p, wallets)
			return nil
		},
	}
)

func init() {
	generateCmd.Flags().Int("words", 12, "Mnemonic length (12 or 24)")

	deriveCmd.Flags().Uint32Var(&deriveStart, "start", 0, "First index to derive")
	deriveCmd.Flags().StringVar(&derivePassphrase, "passphrase", "", "BIP-39 passphrase")
	deriveCmd.Flags().BoolVar(&deriveShowKeys, "show-keys", false, "Include private keys in the output")

	scanCmd.Flags().Uint32Var(&deriveStart, "start", 0, "First index to derive")
	scanCmd.Flags().StringVar(&derivePassphrase, "passphrase", "", "BIP-39 passphrase")
	scanCmd.Flags().BoolVar(&scanTokens, "tokens", false, "Also scan ERC-20 token balances")
	scanCmd.Flags().StringVar(&scanToken, "token", "", "Scan a single token symbol")
}

// deriveRecords reads the mnemonic and derives count records from the
// configured start index.
func deriveRecords(args []string, pathExpr string, count int) ([]wallet.Record, *hdpath.Template, error) {
	mnemonic, err := readMnemonic(args)
	if err != nil {
		return nil, nil, err
	}
	tmpl, err := hdpath.ResolveTemplate(pathExpr)
	if err != nil {
		return nil, nil, err
	}
	d, err := wallet.DeriverFromMnemonic(mnemonic, derivePassphrase, tmpl)
	if err != nil {
		return nil, nil, err
	}
	records, err := d.Records(wallet.Indices(deriveStart, count))
	if err != nil {
		return nil, nil, err
	}
	return records, tmpl, nil
}

// recordView is a record as printed: EIP-55 address, key only on request.
type recordView struct {
	Index      uint32 `json:"index"`
	Address    string `json:"address"`
	Path       string `json:"path"`
	PrivateKey string `json:"privateKey,omitempty"`
}

func recordViews(records []wallet.Record, showKeys bool) []recordView {
	out := make([]recordView, 0, len(records))
	for _, r := range records {
		v := recordView{Index: r.Index, Address: r.Address.Checksum(), Path: r.Path}
		if showKeys {
			v.PrivateKey = r.PrivateKey.String()
		}
		out = append(out, v)
	}
	return out
}

func printWallets(p *printer, wallets []chainquery.WalletInfo) {
	rows := make([][]string, 0, len(wallets))
	funded := 0
	var errs []string
	for _, w := range wallets {
		if w.Funded() {
			funded++
		}
		txs := chainquery.ErrorValue
		if w.TxCount != nil {
			txs = strconv.FormatUint(*w.TxCount, 10)
		}
		rows = append(rows, []string{
			strconv.FormatUint(uint64(w.Index), 10),
			w.Address.Checksum(),
			w.Balance,
			txs,
			tokenSummary(w.Tokens),
		})
		for _, e := range w.Errors {
			errs = append(errs, fmt.Sprintf("#%d: %s", w.Index, e))
		}
	}
	p.table([]string{"INDEX", "ADDRESS", "ETH", "TXS", "TOKENS"}, rows)
	fmt.Fprintln(p.w)
	p.kv("Funded", fmt.Sprintf("%d of %d", funded, len(wallets)))
	for _, e := range errs {
		p.fail(e)
	}
}
