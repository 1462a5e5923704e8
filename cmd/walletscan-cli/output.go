package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

const maxWidth = 100

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

// printer renders command output. Styling is applied only when writing to
// a terminal; JSON mode bypasses both.
type printer struct {
	w      io.Writer
	styled bool
	asJSON bool
	width  int
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	p := &printer{w: w, asJSON: asJSON, width: maxWidth}
	if f, ok := w.(*os.File); ok && !asJSON && isatty.IsTerminal(f.Fd()) {
		p.styled = true
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols < maxWidth {
			p.width = cols
		}
	}
	return p
}

func (p *printer) style(s lipgloss.Style, str string) string {
	if !p.styled {
		return str
	}
	return s.Render(str)
}

func (p *printer) json(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) title(s string) {
	fmt.Fprintln(p.w, p.style(titleStyle, s))
}

func (p *printer) kv(key string, value interface{}) {
	fmt.Fprintf(p.w, "%s %v\n", p.style(keyStyle, key+":"), value)
}

func (p *printer) ok(s string) {
	fmt.Fprintln(p.w, p.style(okStyle, s))
}

func (p *printer) fail(s string) {
	fmt.Fprintln(p.w, p.style(errStyle, s))
}

// box prints s framed on a terminal, bare otherwise.
func (p *printer) box(s string) {
	if !p.styled {
		fmt.Fprintln(p.w, s)
		return
	}
	fmt.Fprintln(p.w, boxStyle.MaxWidth(p.width).Render(s))
}

// table prints rows under header with aligned columns.
func (p *printer) table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	cells := make([]string, len(header))
	for i, h := range header {
		cells[i] = p.style(headerStyle, h)
	}
	fmt.Fprintln(tw, strings.Join(cells, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// wrapWords breaks a mnemonic into lines of perLine numbered words.
func wrapWords(mnemonic string, perLine int) string {
	words := strings.Fields(mnemonic)
	var lines []string
	for start := 0; start < len(words); start += perLine {
		end := min(start+perLine, len(words))
		cells := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			cells = append(cells, fmt.Sprintf("%2d. %-8s", i+1, words[i]))
		}
		lines = append(lines, strings.TrimRight(strings.Join(cells, " "), " "))
	}
	return strings.Join(lines, "\n")
}
