package search

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Klingon-tech/walletscan/internal/chainquery"
	"github.com/Klingon-tech/walletscan/internal/hdpath"
	"github.com/Klingon-tech/walletscan/internal/wallet"
	"github.com/Klingon-tech/walletscan/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachable is an address no test mnemonic derives.
const unreachable = "0x0000000000000000000000000000000000000001"

func defaultPath() *hdpath.Template {
	return hdpath.MustParseTemplate(hdpath.DefaultTemplate)
}

func mustTemplate(t *testing.T, words []string) *Template {
	t.Helper()
	tmpl, err := NewTemplate(words, 0)
	require.NoError(t, err)
	return tmpl
}

func seeded() rand.Source {
	return rand.NewPCG(1, 2)
}

type countingDeriver struct {
	calls atomic.Int64
}

func (d *countingDeriver) Derive(mnemonic, passphrase string, tmpl *hdpath.Template, indices []uint32) ([]wallet.Record, error) {
	d.calls.Add(1)
	return WalletDeriver{}.Derive(mnemonic, passphrase, tmpl, indices)
}

type balanceQuery struct {
	mu     sync.Mutex
	funded types.Address
	fail   bool
	calls  int
}

func (q *balanceQuery) GetBalance(_ context.Context, addr types.Address) (*big.Int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.fail {
		return nil, fmt.Errorf("%w: endpoint down", chainquery.ErrQuery)
	}
	if addr == q.funded {
		return big.NewInt(1_000_000_000_000_000), nil
	}
	return new(big.Int), nil
}

func (q *balanceQuery) GetTransactionCount(context.Context, types.Address) (uint64, error) {
	return 1, nil
}

func (q *balanceQuery) GetTokenBalances(context.Context, types.Address) map[string]chainquery.TokenBalance {
	return nil
}

func TestStart_Validation(t *testing.T) {
	tmpl := mustTemplate(t, blankAt(knownMnemonic, 5))

	_, err := Start(tmpl, defaultPath(), Options{Mode: ModeAddress, Target: "0x1234"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = Start(tmpl, defaultPath(), Options{Mode: ModeBalance})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = Start(tmpl, defaultPath(), Options{Mode: "nonsense", Target: unreachable})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	s, err := Start(tmpl, nil, Options{Target: knownAddress})
	require.NoError(t, err)
	assert.Equal(t, StateRunning, s.State())
	assert.Equal(t, ModeAddress, s.Options().Mode)
	assert.Equal(t, uint64(MaxSafeInteger), s.Options().MaxAttempts)
	assert.Equal(t, hdpath.DefaultTemplate, s.Path().String())
}

func TestSession_AddressMatch(t *testing.T) {
	s, err := Start(mustTemplate(t, blankAt(knownMnemonic, 5)), defaultPath(), Options{
		Target:      knownAddress,
		MaxAttempts: 5000,
		Source:      seeded(),
	})
	require.NoError(t, err)

	res, err := s.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, StateMatched, res.State)
	assert.True(t, res.Matched)
	assert.False(t, res.Exhausted)
	assert.Equal(t, knownMnemonic, res.Mnemonic)
	require.Len(t, res.Records, 1)
	assert.Equal(t, strings.ToLower(knownAddress), res.Records[0].Address.String())
	assert.GreaterOrEqual(t, res.Attempts, uint64(1))
	assert.Zero(t, s.Rejected(), "a single blank draws from its valid fills")

	// terminal sessions replay their result
	again, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Attempts, again.Attempts)
	assert.True(t, again.Matched)
}

func TestSession_Exhausted(t *testing.T) {
	const limit = 5
	s, err := Start(mustTemplate(t, blankAt(knownMnemonic, 5)), defaultPath(), Options{
		Target:      unreachable,
		MaxAttempts: limit,
		Source:      seeded(),
	})
	require.NoError(t, err)

	for i := 1; i <= limit; i++ {
		res, err := s.Step(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(i), res.Attempts)
		assert.False(t, res.Matched)
		assert.Len(t, res.Records, 1)
		assert.True(t, wallet.ValidateMnemonic(res.Mnemonic))
		if i < limit {
			assert.Equal(t, StateRunning, res.State)
		} else {
			assert.Equal(t, StateExhausted, res.State)
			assert.True(t, res.Exhausted)
		}
	}

	res, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(limit), res.Attempts, "no attempts after exhaustion")
	assert.Equal(t, uint64(limit), s.Attempts())
}

// noFillAtFirst is a 24-word template whose first word has no checksum-valid
// completion.
const noFillAtFirst = "_ enough cool health sing now praise smoke favorite maple bring faint spike salon artefact parrot cushion donkey behind kangaroo win garlic ask boat"

// zeroSource always yields 0, so every draw picks "abandon".
type zeroSource struct{}

func (zeroSource) Uint64() uint64 { return 0 }

func TestTemplate_Completions(t *testing.T) {
	fills := mustTemplate(t, blankAt(knownMnemonic, 5)).completions()
	assert.Len(t, fills, 120)
	assert.Contains(t, fills, 0, "abandon completes the known mnemonic")
	for _, i := range fills {
		words := strings.Fields(knownMnemonic)
		words[5] = wallet.Word(i)
		assert.True(t, wallet.ValidateWords(words), words[5])
	}

	tmpl, err := ParseTemplate(noFillAtFirst, 24)
	require.NoError(t, err)
	assert.Empty(t, tmpl.completions())
	assert.Nil(t, mustTemplate(t, blankAt(knownMnemonic, 4, 5)).completions())
}

func TestStart_NoValidFill(t *testing.T) {
	tmpl, err := ParseTemplate(noFillAtFirst, 24)
	require.NoError(t, err)

	_, err = Start(tmpl, defaultPath(), Options{Target: unreachable, MaxAttempts: 1})
	assert.ErrorIs(t, err, ErrInvalidTemplate)
	assert.ErrorContains(t, err, "position 1")
}

func TestSession_ExhaustedWithoutValidFill(t *testing.T) {
	words := strings.Fields(noFillAtFirst)
	words[1] = Blank
	d := &countingDeriver{}
	s, err := Start(mustTemplate(t, words), defaultPath(), Options{
		Target:  unreachable,
		Deriver: d,
		Source:  zeroSource{},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<22), s.rejectLimit)
	s.rejectLimit = 300

	done := make(chan *StepResult, 1)
	go func() {
		res, err := s.Step(context.Background())
		assert.NoError(t, err)
		done <- res
	}()
	var res *StepResult
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Step did not return")
	}

	assert.Equal(t, StateExhausted, res.State)
	assert.True(t, res.Exhausted)
	assert.Zero(t, res.Attempts)
	assert.Equal(t, uint64(300), s.Rejected())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "no checksum-valid fill")
	assert.Zero(t, d.calls.Load())

	again, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, again.State)
	assert.Equal(t, uint64(300), s.Rejected())
}

func TestSession_StopBeforeStep(t *testing.T) {
	d := &countingDeriver{}
	s, err := Start(mustTemplate(t, blankAt(knownMnemonic, 5)), defaultPath(), Options{
		Target:  unreachable,
		Deriver: d,
	})
	require.NoError(t, err)

	s.Stop()
	res, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStopped, res.State)
	assert.True(t, res.Stopped)
	assert.Zero(t, res.Attempts)
	assert.Zero(t, d.calls.Load())
	assert.NotNil(t, res.Records)
}

func TestSession_StopWhileRunning(t *testing.T) {
	s, err := Start(mustTemplate(t, blankAt(knownMnemonic, 4, 5)), defaultPath(), Options{
		Target:     unreachable,
		YieldEvery: 1,
	})
	require.NoError(t, err)

	var progressed atomic.Int64
	done := make(chan *StepResult, 1)
	go func() {
		res, err := s.Run(context.Background(), func(*StepResult) { progressed.Add(1) })
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool { return s.Attempts() >= 2 }, 10*time.Second, 5*time.Millisecond)
	s.Stop()

	select {
	case res := <-done:
		assert.Equal(t, StateStopped, res.State)
		assert.True(t, res.Stopped)
		assert.Equal(t, s.Attempts(), res.Attempts)
	case <-time.After(10 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.Greater(t, progressed.Load(), int64(0))

	after := s.Attempts()
	_, _ = s.Step(context.Background())
	assert.Equal(t, after, s.Attempts())
}

func TestSession_ContextCancel(t *testing.T) {
	s, err := Start(mustTemplate(t, blankAt(knownMnemonic, 5)), defaultPath(), Options{Target: unreachable})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, res.State)
}

func TestSession_BalanceMatch(t *testing.T) {
	funded, err := types.ParseAddress(knownAddress)
	require.NoError(t, err)
	q := &balanceQuery{funded: funded}

	s, err := Start(mustTemplate(t, blankAt(knownMnemonic, 5)), defaultPath(), Options{
		Mode:        ModeBalance,
		Query:       q,
		ScanTokens:  true,
		MaxAttempts: 5000,
		Source:      seeded(),
	})
	require.NoError(t, err)

	res, err := s.Run(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.GreaterOrEqual(t, res.Attempts, uint64(1))
	require.Len(t, res.Records, 1)
	assert.Equal(t, funded, res.Records[0].Address)
	require.Len(t, res.Wallets, 1)
	assert.Equal(t, "0.001", res.Wallets[0].Balance)
	require.NotNil(t, res.Wallets[0].TxCount)
	assert.Equal(t, uint64(1), *res.Wallets[0].TxCount)
	assert.Equal(t, int(res.Attempts), q.calls, "the matched balance is not fetched twice")
}

func TestSession_BalanceQueryErrorsAreRecorded(t *testing.T) {
	q := &balanceQuery{fail: true}
	s, err := Start(mustTemplate(t, blankAt(knownMnemonic, 5)), defaultPath(), Options{
		Mode:          ModeBalance,
		Query:         q,
		CheckMultiple: true,
		MaxAttempts:   1,
		Source:        seeded(),
	})
	require.NoError(t, err)

	res, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, res.State)
	assert.False(t, res.Matched)
	assert.Len(t, res.Records, MultipleIndexCount)
	assert.Len(t, res.Errors, MultipleIndexCount)
	assert.Equal(t, MultipleIndexCount, q.calls)
}

func TestSession_CheckMultipleFirstIndexWins(t *testing.T) {
	rec, err := wallet.DeriverFromMnemonic(knownMnemonic, "", defaultPath())
	require.NoError(t, err)
	third, err := rec.Record(3)
	require.NoError(t, err)

	s, err := Start(mustTemplate(t, blankAt(knownMnemonic, 5)), defaultPath(), Options{
		Target:        third.Address.String(),
		CheckMultiple: true,
	})
	require.NoError(t, err)

	res, err := s.Evaluate(context.Background(), strings.Fields(knownMnemonic))
	require.NoError(t, err)
	assert.True(t, res.Matched)
	require.Len(t, res.Records, 1)
	assert.Equal(t, uint32(3), res.Records[0].Index)
	assert.Equal(t, "m/44'/60'/0'/0/3", res.Records[0].Path)
	assert.Zero(t, s.Attempts(), "Evaluate does not count")
}

func TestSession_EvaluateRejectsChecksum(t *testing.T) {
	d := &countingDeriver{}
	s, err := Start(mustTemplate(t, blankAt(knownMnemonic, 5)), defaultPath(), Options{
		Target:  knownAddress,
		Deriver: d,
	})
	require.NoError(t, err)

	corrupted := strings.Fields(knownMnemonic)
	corrupted[11] = "abandon"
	res, err := s.Evaluate(context.Background(), corrupted)
	assert.ErrorIs(t, err, ErrChecksumInvalid)
	assert.Nil(t, res)
	assert.Zero(t, d.calls.Load(), "no derivation for an invalid candidate")
}

func TestSession_DerivationFailure(t *testing.T) {
	s, err := Start(mustTemplate(t, blankAt(knownMnemonic, 5)), defaultPath(), Options{
		Target: unreachable,
		Index:  hdpath.HardenedStart,
		Source: seeded(),
	})
	require.NoError(t, err)

	res, err := s.Step(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, wallet.ErrDerivation)
	assert.ErrorIs(t, err, hdpath.ErrIndexOutOfRange)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, StateFailed, s.State())
	assert.NotEmpty(t, res.Errors)

	_, again := s.Step(context.Background())
	assert.True(t, errors.Is(again, wallet.ErrDerivation))
	assert.Zero(t, s.Attempts())
}

func TestSession_AllBlank(t *testing.T) {
	words := make([]string, 24)
	for i := range words {
		words[i] = Blank
	}
	s, err := Start(mustTemplate(t, words), defaultPath(), Options{
		Target:      unreachable,
		MaxAttempts: 3,
		Source:      seeded(),
	})
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		res, err := s.Step(context.Background())
		require.NoError(t, err)
		assert.True(t, wallet.ValidateMnemonic(res.Mnemonic))
		assert.Len(t, strings.Fields(res.Mnemonic), 24)
		seen[res.Mnemonic] = true
	}
	assert.Len(t, seen, 3)
	assert.Zero(t, s.Rejected())
	assert.Equal(t, StateExhausted, s.State())
}

func TestSession_Progress(t *testing.T) {
	s, err := Start(mustTemplate(t, blankAt(knownMnemonic, 5)), defaultPath(), Options{
		Target:      unreachable,
		MaxAttempts: 2,
		Source:      seeded(),
	})
	require.NoError(t, err)

	p := s.Progress()
	assert.Equal(t, StateRunning, p.State)
	assert.Equal(t, []int{5}, p.BlankIndices)
	assert.Equal(t, uint64(2048), p.TotalCombinations)
	assert.Equal(t, 120, p.ValidFills)
	assert.Nil(t, p.Last)

	_, err = s.Run(context.Background(), nil)
	require.NoError(t, err)

	p = s.Progress()
	assert.Equal(t, StateExhausted, p.State)
	assert.Equal(t, uint64(2), p.Attempts)
	require.NotNil(t, p.Last)
	assert.Equal(t, p.Last.Mnemonic, p.Current)
	assert.Greater(t, p.Elapsed, 0.0)
}
