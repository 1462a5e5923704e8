package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Klingon-tech/walletscan/internal/chainquery"
	"github.com/Klingon-tech/walletscan/internal/search"
	"github.com/Klingon-tech/walletscan/internal/wallet"
	"golang.org/x/term"
)

var errNoMnemonic = errors.New("no mnemonic given")

// readMnemonic returns the mnemonic from args, or prompts for it on the
// terminal without echo. Piped stdin is read as a single line.
func readMnemonic(args []string) (string, error) {
	if len(args) > 0 {
		return joinWords(args), nil
	}
	fd := int(os.Stdin.Fd()) //nolint: gosec
	if term.IsTerminal(fd) {
		_, _ = fmt.Fprint(os.Stderr, "Mnemonic (input hidden): ")
		b, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("could not read mnemonic: %w", err)
		}
		if m := joinWords([]string{string(b)}); m != "" {
			return m, nil
		}
		return "", errNoMnemonic
	}
	return readLine(os.Stdin)
}

// readLine reads the first line of r as a mnemonic.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("could not read mnemonic: %w", err)
	}
	m := joinWords([]string{line})
	if m == "" {
		return "", errNoMnemonic
	}
	return m, nil
}

// joinWords normalizes mnemonic words given as one or many arguments.
func joinWords(args []string) string {
	return wallet.NormalizeMnemonic(strings.Join(args, " "))
}

// templateWords splits template arguments into words. An empty argument,
// e.g. '' on the shell, is an unknown word.
func templateWords(args []string) []string {
	var out []string
	for _, a := range args {
		fields := strings.Fields(strings.ToLower(a))
		if len(fields) == 0 {
			out = append(out, search.Blank)
			continue
		}
		out = append(out, fields...)
	}
	return out
}

// formatRate renders attempts per second.
func formatRate(attempts uint64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0.0/s"
	}
	return fmt.Sprintf("%.1f/s", float64(attempts)/elapsed.Seconds())
}

// tokenSummary renders token balances as "SYM=amount" sorted by symbol.
func tokenSummary(tokens map[string]chainquery.TokenBalance) string {
	if len(tokens) == 0 {
		return "-"
	}
	syms := make([]string, 0, len(tokens))
	for sym := range tokens {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	parts := make([]string, 0, len(syms))
	for _, sym := range syms {
		parts = append(parts, sym+"="+tokens[sym].String())
	}
	return strings.Join(parts, " ")
}

// shortID abbreviates a hex id for tables.
func shortID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16]
}
