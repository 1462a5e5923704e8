package search

import (
	"fmt"

	"github.com/Klingon-tech/walletscan/internal/chainquery"
	"github.com/Klingon-tech/walletscan/internal/wallet"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateMatched
	StateExhausted
	StateStopped
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StateRunning:   "running",
	StateMatched:   "matched",
	StateExhausted: "exhausted",
	StateStopped:   "stopped",
	StateFailed:    "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further attempts will be made.
func (s State) Terminal() bool {
	return s >= StateMatched
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// StepResult is the outcome of one search attempt. On a match Records holds
// the matching wallet; otherwise it holds every wallet derived for the
// candidate.
type StepResult struct {
	Mnemonic  string                  `json:"mnemonic"`
	Attempts  uint64                  `json:"attempts"`
	Matched   bool                    `json:"matched"`
	Records   []wallet.Record         `json:"records"`
	Stopped   bool                    `json:"stopped"`
	Exhausted bool                    `json:"exhausted"`
	Wallets   []chainquery.WalletInfo `json:"wallets,omitempty"`
	Errors    []string                `json:"errors,omitempty"`
	State     State                   `json:"state"`
}

// outcome is the evaluation of a single valid candidate.
type outcome struct {
	mnemonic string
	matched  bool
	records  []wallet.Record
	wallets  []chainquery.WalletInfo
	errors   []string
}

func (o *outcome) result(attempts uint64, state State) *StepResult {
	records := o.records
	if records == nil {
		records = []wallet.Record{}
	}
	return &StepResult{
		Mnemonic:  o.mnemonic,
		Attempts:  attempts,
		Matched:   state == StateMatched,
		Records:   records,
		Stopped:   state == StateStopped,
		Exhausted: state == StateExhausted,
		Wallets:   o.wallets,
		Errors:    o.errors,
		State:     state,
	}
}
