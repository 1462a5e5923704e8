package wallet

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Klingon-tech/walletscan/internal/hdpath"
	"github.com/Klingon-tech/walletscan/pkg/types"
)

// HexKey is a private key rendered as 0x-prefixed hex on the wire.
type HexKey []byte

// String returns the 0x-prefixed hex form.
func (h HexKey) String() string {
	return "0x" + hex.EncodeToString(h)
}

// MarshalJSON encodes the key as a 0x-prefixed hex string.
func (h HexKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a 0x-prefixed or bare hex string.
func (h *HexKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("invalid key hex: %w", err)
	}
	*h = b
	return nil
}

// Record is one derived wallet: the address and private key at a resolved
// path for a single (mnemonic, template, index) tuple.
type Record struct {
	Index      uint32        `json:"index"`
	Address    types.Address `json:"address"`
	Path       string        `json:"path"`
	PrivateKey HexKey        `json:"privateKey"`
}

// Deriver produces records for one seed and template. The node at the
// template prefix is derived once and reused for every index.
type Deriver struct {
	tmpl *hdpath.Template
	base *HDKey
}

// NewDeriver derives the master key and the template prefix node.
func NewDeriver(seed []byte, tmpl *hdpath.Template) (*Deriver, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	base, err := master.DerivePath(tmpl.Prefix()...)
	if err != nil {
		return nil, err
	}
	return &Deriver{tmpl: tmpl, base: base}, nil
}

// DeriverFromMnemonic validates the mnemonic, stretches it to a seed and
// returns a Deriver for tmpl.
func DeriverFromMnemonic(mnemonic, passphrase string, tmpl *hdpath.Template) (*Deriver, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return NewDeriver(seed, tmpl)
}

// Template returns the path template this deriver resolves.
func (d *Deriver) Template() *hdpath.Template {
	return d.tmpl
}

// Record derives the wallet at index.
func (d *Deriver) Record(index uint32) (*Record, error) {
	seg, err := d.tmpl.Segment(index)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivation, err)
	}
	key, err := d.base.DeriveChild(seg)
	if err != nil {
		return nil, err
	}
	key, err = key.DerivePath(d.tmpl.Suffix()...)
	if err != nil {
		return nil, err
	}
	return recordFromKey(index, key.Path(), key)
}

// Records derives wallets for each index in order.
func (d *Deriver) Records(indices []uint32) ([]Record, error) {
	out := make([]Record, 0, len(indices))
	for _, i := range indices {
		rec, err := d.Record(i)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// ToWalletRecord resolves tmpl at index and derives the wallet from seed.
func ToWalletRecord(seed []byte, tmpl *hdpath.Template, index uint32) (*Record, error) {
	d, err := NewDeriver(seed, tmpl)
	if err != nil {
		return nil, err
	}
	return d.Record(index)
}

func recordFromKey(index uint32, path hdpath.Path, key *HDKey) (*Record, error) {
	priv := key.PrivateKeyBytes()
	if priv == nil {
		return nil, fmt.Errorf("%w: key at %s has no private part", ErrDerivation, path)
	}
	addr, err := key.Address()
	if err != nil {
		return nil, err
	}
	return &Record{
		Index:      index,
		Address:    addr,
		Path:       path.String(),
		PrivateKey: append(HexKey(nil), priv...),
	}, nil
}

// Indices returns count consecutive indices starting at start.
func Indices(start uint32, count int) []uint32 {
	out := make([]uint32, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, start+uint32(i))
	}
	return out
}
