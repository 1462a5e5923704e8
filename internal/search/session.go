package search

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/walletscan/internal/chainquery"
	"github.com/Klingon-tech/walletscan/internal/hdpath"
	"github.com/Klingon-tech/walletscan/internal/wallet"
	"github.com/Klingon-tech/walletscan/pkg/types"
)

// Mode selects the match predicate.
type Mode string

const (
	// ModeAddress matches when a derived address equals the target.
	ModeAddress Mode = "address"
	// ModeBalance matches when a derived address holds a non-zero balance.
	ModeBalance Mode = "balance"
)

const (
	// DefaultYieldEvery is the attempt batch after which Run yields.
	DefaultYieldEvery = 1000

	// MultipleIndexCount is the number of indices checked with
	// CheckMultiple, starting at 0.
	MultipleIndexCount = 20

	// stopCheckEvery is the rejection batch after which the sampling loop
	// looks at the stop flag and the context.
	stopCheckEvery = 256

	// maxRejectsPerStep bounds the draws of one Step for templates with
	// more than one blank. A Step reaching it exhausts the session.
	maxRejectsPerStep = 1 << 22
)

// ErrInvalidOptions is returned by Start for unusable options.
var ErrInvalidOptions = errors.New("invalid search options")

var (
	errSampleStopped = errors.New("stopped while sampling")
	errNoValidFill   = errors.New("no checksum-valid fill")
)

// Deriver turns a valid mnemonic into wallet records.
type Deriver interface {
	Derive(mnemonic, passphrase string, tmpl *hdpath.Template, indices []uint32) ([]wallet.Record, error)
}

// WalletDeriver derives records with the wallet package.
type WalletDeriver struct{}

// Derive implements Deriver.
func (WalletDeriver) Derive(mnemonic, passphrase string, tmpl *hdpath.Template, indices []uint32) ([]wallet.Record, error) {
	d, err := wallet.DeriverFromMnemonic(mnemonic, passphrase, tmpl)
	if err != nil {
		return nil, err
	}
	return d.Records(indices)
}

// Options configures a session.
type Options struct {
	Mode          Mode
	Target        string // 0x address, ModeAddress only
	Index         uint32 // first index to derive
	Count         int    // indices per candidate, default 1
	CheckMultiple bool   // derive indices 0..19 instead of Index/Count
	MaxAttempts   uint64 // 0 or above MaxSafeInteger means MaxSafeInteger
	Passphrase    string
	ScanTokens    bool   // sweep tokens for matched wallets in ModeBalance
	YieldEvery    uint64 // default DefaultYieldEvery
	Query         chainquery.Query
	Deriver       Deriver     // default WalletDeriver
	Source        rand.Source // default ChaCha8 seeded from crypto/rand
}

// Session is one search over a template. All methods are safe for
// concurrent use; attempts are serialized.
type Session struct {
	tmpl    *Template
	path    *hdpath.Template
	opts    Options
	target  types.Address
	indices []uint32
	scanner *chainquery.Scanner

	stepMu      sync.Mutex
	rng         *rand.Rand
	buf         []string
	fills       []int // valid words for a single blank
	rejectLimit uint64

	state    atomic.Int32
	attempts atomic.Uint64
	rejected atomic.Uint64
	stop     atomic.Bool
	started  time.Time

	mu       sync.Mutex
	last     *StepResult
	err      error
	finished time.Time
}

// Start validates opts and returns a running session.
func Start(tmpl *Template, path *hdpath.Template, opts Options) (*Session, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("%w: nil template", ErrInvalidTemplate)
	}
	if path == nil {
		path = hdpath.MustParseTemplate(hdpath.DefaultTemplate)
	}
	if opts.Mode == "" {
		opts.Mode = ModeAddress
	}
	if opts.Count <= 0 {
		opts.Count = 1
	}
	if opts.MaxAttempts == 0 || opts.MaxAttempts > MaxSafeInteger {
		opts.MaxAttempts = MaxSafeInteger
	}
	if opts.YieldEvery == 0 {
		opts.YieldEvery = DefaultYieldEvery
	}
	if opts.Deriver == nil {
		opts.Deriver = WalletDeriver{}
	}

	s := &Session{
		tmpl: tmpl,
		path: path,
		opts: opts,
		buf:  make([]string, tmpl.WordCount()),
	}

	switch blanks := len(tmpl.blanks); {
	case blanks == tmpl.WordCount():
	case blanks == 1:
		s.fills = tmpl.completions()
		if len(s.fills) == 0 {
			return nil, fmt.Errorf("%w: no word at position %d gives a valid checksum",
				ErrInvalidTemplate, tmpl.blanks[0]+1)
		}
	default:
		total, _ := tmpl.Combinations()
		s.rejectLimit = min(total, maxRejectsPerStep)
	}

	switch opts.Mode {
	case ModeAddress:
		target, err := types.ParseAddress(strings.TrimSpace(opts.Target))
		if err != nil {
			return nil, fmt.Errorf("%w: target: %w", ErrInvalidOptions, err)
		}
		s.target = target
	case ModeBalance:
		if opts.Query == nil {
			return nil, fmt.Errorf("%w: balance mode needs a chain query", ErrInvalidOptions)
		}
		s.scanner = chainquery.NewScanner(opts.Query, opts.ScanTokens)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidOptions, opts.Mode)
	}

	if opts.CheckMultiple {
		s.indices = wallet.Indices(0, MultipleIndexCount)
	} else {
		s.indices = wallet.Indices(opts.Index, opts.Count)
	}

	src := opts.Source
	if src == nil {
		var seed [32]byte
		if _, err := crand.Read(seed[:]); err != nil {
			return nil, fmt.Errorf("seed rng: %w", err)
		}
		src = rand.NewChaCha8(seed)
	}
	s.rng = rand.New(src)

	s.started = time.Now()
	s.state.Store(int32(StateRunning))
	return s, nil
}

// Template returns the word template.
func (s *Session) Template() *Template { return s.tmpl }

// Path returns the derivation path template.
func (s *Session) Path() *hdpath.Template { return s.path }

// Options returns the effective options.
func (s *Session) Options() Options { return s.opts }

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Attempts returns the number of counted attempts.
func (s *Session) Attempts() uint64 {
	return s.attempts.Load()
}

// Rejected returns the number of checksum-invalid candidates discarded.
func (s *Session) Rejected() uint64 {
	return s.rejected.Load()
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Last returns the most recent result, or nil before the first attempt.
func (s *Session) Last() *StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	return &cp
}

// Stop asks the session to stop. The next Step, or the sampling loop of a
// Step in progress, observes it. An attempt already deriving completes.
func (s *Session) Stop() {
	s.stop.Store(true)
}

func (s *Session) stopRequested(ctx context.Context) bool {
	return s.stop.Load() || ctx.Err() != nil
}

// Step makes one counted attempt. Terminal sessions return their terminal
// result without attempting. A derivation failure moves the session to
// StateFailed and is returned.
func (s *Session) Step(ctx context.Context) (*StepResult, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	if s.State().Terminal() {
		return s.Last(), s.Err()
	}
	if s.stopRequested(ctx) {
		return s.finish(StateStopped), nil
	}

	words, err := s.sample(ctx)
	switch {
	case errors.Is(err, errSampleStopped):
		return s.finish(StateStopped), nil
	case err != nil:
		return s.finish(StateExhausted, err.Error()), nil
	}
	out, err := s.judge(ctx, strings.Join(words, " "))
	if err != nil {
		return s.fail(out, err), err
	}

	n := s.attempts.Add(1)
	state := StateRunning
	switch {
	case out.matched:
		state = StateMatched
	case n >= s.opts.MaxAttempts:
		state = StateExhausted
	}
	res := out.result(n, state)
	s.record(res, state, nil)
	return res, nil
}

// Evaluate checks one explicit candidate without counting it. Candidates
// failing BIP-39 validation return ErrChecksumInvalid before any
// derivation.
func (s *Session) Evaluate(ctx context.Context, words []string) (*StepResult, error) {
	if !wallet.ValidateWords(words) {
		return nil, fmt.Errorf("%w: %d words", ErrChecksumInvalid, len(words))
	}
	out, err := s.judge(ctx, strings.Join(words, " "))
	if err != nil {
		return nil, err
	}
	state := StateRunning
	if out.matched {
		state = StateMatched
	}
	return out.result(s.attempts.Load(), state), nil
}

// Run steps until the session is terminal. Every YieldEvery attempts it
// yields the processor and reports progress. Cancelling ctx stops the
// session.
func (s *Session) Run(ctx context.Context, progress func(*StepResult)) (*StepResult, error) {
	for {
		res, err := s.Step(ctx)
		if err != nil || res.State.Terminal() {
			if progress != nil && res != nil {
				progress(res)
			}
			return res, err
		}
		if res.Attempts%s.opts.YieldEvery == 0 {
			runtime.Gosched()
			if progress != nil {
				progress(res)
			}
		}
	}
}

// sample returns a candidate that passes BIP-39 validation, uniformly
// among the valid fills of the template. A single blank draws from the
// fills found by Start; more blanks are rejection sampled, at most
// rejectLimit draws per call.
func (s *Session) sample(ctx context.Context) ([]string, error) {
	if len(s.tmpl.blanks) == s.tmpl.WordCount() {
		return s.randomMnemonic(), nil
	}
	if len(s.fills) > 0 {
		w := s.fills[s.rng.IntN(len(s.fills))]
		s.tmpl.fill(s.buf, func() int { return w })
		return append([]string(nil), s.buf...), nil
	}

	pick := func() int { return s.rng.IntN(wallet.DictionarySize) }
	for n := uint64(1); ; n++ {
		s.tmpl.fill(s.buf, pick)
		if wallet.ValidateWords(s.buf) {
			return append([]string(nil), s.buf...), nil
		}
		s.rejected.Add(1)
		if n >= s.rejectLimit {
			return nil, fmt.Errorf("%w in %d draws", errNoValidFill, n)
		}
		if n%stopCheckEvery == 0 && s.stopRequested(ctx) {
			return nil, errSampleStopped
		}
	}
}

// randomMnemonic samples a valid mnemonic directly from entropy. With every
// slot blank this is the same distribution as rejection sampling.
func (s *Session) randomMnemonic() []string {
	bits, _ := wallet.EntropyBits(s.tmpl.WordCount())
	entropy := make([]byte, bits/8)
	var chunk [8]byte
	for i := 0; i < len(entropy); i += len(chunk) {
		binary.LittleEndian.PutUint64(chunk[:], s.rng.Uint64())
		copy(entropy[i:], chunk[:])
	}
	mnemonic, err := wallet.MnemonicFromEntropy(entropy)
	if err != nil {
		panic(err) // entropy length follows the word count
	}
	return strings.Fields(mnemonic)
}

// judge derives the records of a valid mnemonic and applies the predicate.
func (s *Session) judge(ctx context.Context, mnemonic string) (*outcome, error) {
	out := &outcome{mnemonic: mnemonic}
	records, err := s.opts.Deriver.Derive(mnemonic, s.opts.Passphrase, s.path, s.indices)
	if err != nil {
		if !errors.Is(err, wallet.ErrDerivation) {
			err = fmt.Errorf("%w: %w", wallet.ErrDerivation, err)
		}
		return out, err
	}
	out.records = records

	switch s.opts.Mode {
	case ModeAddress:
		for _, rec := range records {
			if rec.Address == s.target {
				out.matched = true
				out.records = []wallet.Record{rec}
				break
			}
		}
	case ModeBalance:
		for _, rec := range records {
			bal, err := s.opts.Query.GetBalance(ctx, rec.Address)
			if err != nil {
				out.errors = append(out.errors, fmt.Sprintf("%s: %v", rec.Address, err))
				continue
			}
			if bal.Sign() > 0 {
				info := s.scanner.ScanWithBalance(ctx, rec, bal)
				out.matched = true
				out.records = []wallet.Record{rec}
				out.wallets = []chainquery.WalletInfo{info}
				out.errors = append(out.errors, info.Errors...)
				break
			}
		}
	}
	return out, nil
}

func (s *Session) finish(state State, notes ...string) *StepResult {
	s.mu.Lock()
	prev := s.last
	s.mu.Unlock()

	res := &StepResult{Records: []wallet.Record{}}
	if prev != nil {
		cp := *prev
		res = &cp
	}
	res.Attempts = s.attempts.Load()
	res.Matched = false
	res.Stopped = state == StateStopped
	res.Exhausted = state == StateExhausted
	res.State = state
	if len(notes) > 0 {
		res.Errors = append(append([]string(nil), res.Errors...), notes...)
	}
	s.record(res, state, nil)
	return res
}

func (s *Session) fail(out *outcome, err error) *StepResult {
	res := out.result(s.attempts.Load(), StateFailed)
	res.Errors = append(res.Errors, err.Error())
	s.record(res, StateFailed, err)
	return res
}

func (s *Session) record(res *StepResult, state State, err error) {
	s.mu.Lock()
	cp := *res
	s.last = &cp
	if err != nil {
		s.err = err
	}
	if state.Terminal() {
		s.finished = time.Now()
	}
	s.state.Store(int32(state))
	s.mu.Unlock()
}

// Progress is a point-in-time view of a session.
type Progress struct {
	ID                string      `json:"id,omitempty"`
	State             State       `json:"state"`
	Mode              Mode        `json:"mode"`
	Template          string      `json:"template"`
	Path              string      `json:"path"`
	Attempts          uint64      `json:"attempts"`
	Rejected          uint64      `json:"rejected"`
	MaxAttempts       uint64      `json:"maxAttempts"`
	Current           string      `json:"current,omitempty"`
	Elapsed           float64     `json:"elapsed"` // seconds
	Rate              float64     `json:"attemptsPerSecond"`
	BlankIndices      []int       `json:"blankIndices"`
	ValidFills        int         `json:"validFills,omitempty"` // single blank only
	TotalCombinations uint64      `json:"totalCombinations"`
	Capped            bool        `json:"capped"`
	Last              *StepResult `json:"last,omitempty"`
	Error             string      `json:"error,omitempty"`
}

// Progress snapshots the session.
func (s *Session) Progress() Progress {
	total, capped := s.tmpl.Combinations()
	p := Progress{
		State:             s.State(),
		Mode:              s.opts.Mode,
		Template:          s.tmpl.String(),
		Path:              s.path.String(),
		Attempts:          s.attempts.Load(),
		Rejected:          s.rejected.Load(),
		MaxAttempts:       s.opts.MaxAttempts,
		BlankIndices:      s.tmpl.Blanks(),
		ValidFills:        len(s.fills),
		TotalCombinations: total,
		Capped:            capped,
	}

	s.mu.Lock()
	end := s.finished
	if s.last != nil {
		cp := *s.last
		p.Last = &cp
		p.Current = cp.Mnemonic
	}
	if s.err != nil {
		p.Error = s.err.Error()
	}
	s.mu.Unlock()

	if end.IsZero() {
		end = time.Now()
	}
	elapsed := end.Sub(s.started).Seconds()
	p.Elapsed = elapsed
	if elapsed > 0 {
		p.Rate = float64(p.Attempts) / elapsed
	}
	return p
}
