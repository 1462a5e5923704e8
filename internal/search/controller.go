package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Klingon-tech/walletscan/internal/chainquery"
	"github.com/Klingon-tech/walletscan/internal/hdpath"
	"github.com/Klingon-tech/walletscan/internal/log"
	"github.com/Klingon-tech/walletscan/internal/wallet"
	"github.com/google/uuid"
)

// DefaultMaxSessions bounds the live sessions a Controller holds. Finished
// sessions stay readable until Remove or until a new session needs room.
const DefaultMaxSessions = 16

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session is running in the background")
	ErrTooManySessions = errors.New("too many sessions")
)

// Hit is a matched search result handed to a HitSink.
type Hit struct {
	SessionID  string                  `json:"sessionId,omitempty"`
	Mode       Mode                    `json:"mode"`
	Mnemonic   string                  `json:"mnemonic"`
	Passphrase string                  `json:"passphrase,omitempty"`
	Path       string                  `json:"path"`
	Attempts   uint64                  `json:"attempts"`
	Records    []wallet.Record         `json:"records"`
	Wallets    []chainquery.WalletInfo `json:"wallets,omitempty"`
	FoundAt    time.Time               `json:"foundAt"`
}

// HitSink receives matched results.
type HitSink interface {
	SaveHit(ctx context.Context, hit Hit) error
}

// ControllerConfig wires a Controller. Query is required for balance mode.
type ControllerConfig struct {
	Query       chainquery.Query
	Sink        HitSink
	Metrics     *Metrics
	MaxSessions int
	DefaultPath string
	MaxAttempts uint64 // used when a request sets none
	YieldEvery  uint64
}

// Request describes a search to start or a single stateless check.
type Request struct {
	Template      string   `json:"template,omitempty"`
	Words         []string `json:"words,omitempty"`
	WordCount     int      `json:"wordCount,omitempty"`
	Path          string   `json:"path,omitempty"` // template or preset name
	Mode          Mode     `json:"mode,omitempty"`
	Target        string   `json:"target,omitempty"`
	Index         uint32   `json:"index,omitempty"`
	Count         int      `json:"count,omitempty"`
	CheckMultiple bool     `json:"checkMultiple,omitempty"`
	MaxAttempts   uint64   `json:"maxAttempts,omitempty"`
	Passphrase    string   `json:"passphrase,omitempty"`
	ScanTokens    bool     `json:"scanTokens,omitempty"`
	Background    bool     `json:"background,omitempty"`
}

type entry struct {
	id      string
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}

	// guarded by Controller.mu
	attempts uint64
	rejected uint64
	state    State
	saved    bool
}

// Controller holds search sessions by id and reports their progress.
type Controller struct {
	cfg ControllerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewController returns a Controller using cfg.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.DefaultPath == "" {
		cfg.DefaultPath = hdpath.DefaultTemplate
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*entry),
	}
}

// NewSession builds a session for req without registering it.
func (c *Controller) NewSession(req Request) (*Session, error) {
	var (
		tmpl *Template
		err  error
	)
	if len(req.Words) > 0 {
		tmpl, err = NewTemplate(req.Words, req.WordCount)
	} else {
		tmpl, err = ParseTemplate(req.Template, req.WordCount)
	}
	if err != nil {
		return nil, err
	}

	pathExpr := strings.TrimSpace(req.Path)
	if pathExpr == "" {
		pathExpr = c.cfg.DefaultPath
	}
	path, err := hdpath.ResolveTemplate(pathExpr)
	if err != nil {
		return nil, err
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = c.cfg.MaxAttempts
	}
	return Start(tmpl, path, Options{
		Mode:          req.Mode,
		Target:        req.Target,
		Index:         req.Index,
		Count:         req.Count,
		CheckMultiple: req.CheckMultiple,
		MaxAttempts:   maxAttempts,
		Passphrase:    req.Passphrase,
		ScanTokens:    req.ScanTokens,
		YieldEvery:    c.cfg.YieldEvery,
		Query:         c.cfg.Query,
	})
}

// Start registers a new session. With req.Background set the session runs
// until terminal in its own goroutine.
func (c *Controller) Start(req Request) (*Progress, error) {
	s, err := c.NewSession(req)
	if err != nil {
		return nil, err
	}

	e := &entry{id: uuid.NewString(), session: s}
	var ctx context.Context
	if req.Background {
		ctx, e.cancel = context.WithCancel(c.ctx)
		e.done = make(chan struct{})
	}

	c.mu.Lock()
	if len(c.sessions) >= c.cfg.MaxSessions && !c.evictLocked() {
		c.mu.Unlock()
		if e.cancel != nil {
			e.cancel()
		}
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManySessions, c.cfg.MaxSessions)
	}
	c.sessions[e.id] = e
	c.cfg.Metrics.transition(StateIdle, StateRunning)
	e.state = StateRunning
	c.mu.Unlock()

	logger := log.WithSession(e.id)
	total, capped := s.Template().Combinations()
	logger.Info().
		Str("mode", string(s.Options().Mode)).
		Int("blanks", len(s.Template().Blanks())).
		Uint64("combinations", total).
		Bool("capped", capped).
		Str("path", s.Path().String()).
		Bool("background", req.Background).
		Msg("Search session started")

	if req.Background {
		c.wg.Add(1)
		go c.run(ctx, e)
	}

	p := c.progress(e)
	return &p, nil
}

// evictLocked forgets the oldest finished session. It reports false when
// every held session is still live.
func (c *Controller) evictLocked() bool {
	var oldest *entry
	for _, e := range c.sessions {
		if !e.finished() {
			continue
		}
		if oldest == nil || e.session.started.Before(oldest.session.started) {
			oldest = e
		}
	}
	if oldest == nil {
		return false
	}
	c.cfg.Metrics.transition(oldest.state, StateIdle)
	delete(c.sessions, oldest.id)
	log.Search.Debug().Str("session", oldest.id).Msg("Evicted finished search session")
	return true
}

// finished reports whether the session is terminal and its goroutine, if
// any, has returned.
func (e *entry) finished() bool {
	if !e.session.State().Terminal() {
		return false
	}
	if e.done == nil {
		return true
	}
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (c *Controller) run(ctx context.Context, e *entry) {
	defer c.wg.Done()
	defer close(e.done)
	defer e.cancel()

	res, err := e.session.Run(ctx, func(res *StepResult) {
		c.observe(ctx, e, res)
	})
	logger := log.WithSession(e.id)
	if err != nil {
		logger.Error().Err(err).Msg("Search session failed")
		return
	}
	logger.Info().
		Str("state", res.State.String()).
		Uint64("attempts", res.Attempts).
		Msg("Search session finished")
}

// observe updates metrics and forwards matches to the sink.
func (c *Controller) observe(ctx context.Context, e *entry, res *StepResult) {
	attempts, rejected := e.session.Attempts(), e.session.Rejected()
	state := e.session.State()

	c.mu.Lock()
	c.cfg.Metrics.observe(e.attempts, attempts, e.rejected, rejected)
	c.cfg.Metrics.transition(e.state, state)
	e.attempts, e.rejected, e.state = attempts, rejected, state
	save := res != nil && res.Matched && !e.saved
	if save {
		e.saved = true
	}
	c.mu.Unlock()

	if save {
		c.saveHit(ctx, e.id, e.session, res)
	}
}

func (c *Controller) saveHit(ctx context.Context, id string, s *Session, res *StepResult) {
	if c.cfg.Sink == nil {
		return
	}
	hit := Hit{
		SessionID:  id,
		Mode:       s.Options().Mode,
		Mnemonic:   res.Mnemonic,
		Passphrase: s.Options().Passphrase,
		Path:       s.Path().String(),
		Attempts:   res.Attempts,
		Records:    res.Records,
		Wallets:    res.Wallets,
		FoundAt:    time.Now().UTC(),
	}
	if err := c.cfg.Sink.SaveHit(context.WithoutCancel(ctx), hit); err != nil {
		log.Search.Error().Err(err).Str("session", id).Msg("Failed to store hit")
		return
	}
	log.Search.Info().Str("session", id).Int("records", len(hit.Records)).Msg("Hit stored")
}

func (c *Controller) lookup(id string) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// Step makes one attempt on a foreground session.
func (c *Controller) Step(ctx context.Context, id string) (*StepResult, error) {
	e, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	if e.done != nil {
		select {
		case <-e.done:
		default:
			return nil, fmt.Errorf("%w: %s", ErrSessionBusy, id)
		}
	}
	res, err := e.session.Step(ctx)
	c.observe(ctx, e, res)
	return res, err
}

// Check makes one attempt on a throwaway session. Nothing is held between
// calls; continuity is up to the caller.
func (c *Controller) Check(ctx context.Context, req Request) (*StepResult, error) {
	s, err := c.NewSession(req)
	if err != nil {
		return nil, err
	}
	res, err := s.Step(ctx)
	if err != nil {
		return res, err
	}
	c.cfg.Metrics.observe(0, s.Attempts(), 0, s.Rejected())
	if res.Matched {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.Matches.Inc()
		}
		c.saveHit(ctx, "", s, res)
	}
	return res, nil
}

// Stop asks a session to stop. Background sessions are awaited.
func (c *Controller) Stop(id string) (*Progress, error) {
	e, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	e.session.Stop()
	if e.done != nil {
		<-e.done
	} else if !e.session.State().Terminal() {
		// a foreground session only moves on its next step
		res, _ := e.session.Step(c.ctx)
		c.observe(c.ctx, e, res)
	}
	logger := log.WithSession(id)
	logger.Info().Uint64("attempts", e.session.Attempts()).Msg("Search session stopped")
	p := c.progress(e)
	return &p, nil
}

// Status returns the progress of a session.
func (c *Controller) Status(id string) (*Progress, error) {
	e, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	p := c.progress(e)
	return &p, nil
}

// List returns the progress of every held session, oldest first.
func (c *Controller) List() []Progress {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.sessions))
	for _, e := range c.sessions {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].session.started.Before(entries[j].session.started)
	})
	out := make([]Progress, 0, len(entries))
	for _, e := range entries {
		out = append(out, c.progress(e))
	}
	return out
}

// Remove stops a session and forgets it.
func (c *Controller) Remove(id string) error {
	if _, err := c.Stop(id); err != nil {
		return err
	}
	c.mu.Lock()
	if e, ok := c.sessions[id]; ok {
		c.cfg.Metrics.transition(e.state, StateIdle)
		delete(c.sessions, id)
	}
	c.mu.Unlock()
	return nil
}

// Close stops all background sessions and waits for them.
func (c *Controller) Close() {
	c.mu.Lock()
	for _, e := range c.sessions {
		e.session.Stop()
	}
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) progress(e *entry) Progress {
	p := e.session.Progress()
	p.ID = e.id
	return p
}
