package hdpath

import "sort"

// DefaultTemplate is the BIP-44 Ethereum account layout used by most wallets.
const DefaultTemplate = "m/44'/60'/0'/0/x"

// Preset names a wallet's derivation layout.
type Preset struct {
	Name     string `json:"name"`
	Template string `json:"template"`
}

var presets = map[string]string{
	"ethereum":             DefaultTemplate,
	"ethereum_ledger":      "m/44'/60'/0'/x",
	"ethereum_ledger_live": "m/44'/60'/x'/0/0",
	"ethereum_trezor":      DefaultTemplate,
	"metamask":             DefaultTemplate,
	"coinbase":             DefaultTemplate,
	"trust_wallet":         DefaultTemplate,
	"exodus":               DefaultTemplate,
	"myetherwallet":        "m/44'/60'/0'/x",
	"brave_wallet":         DefaultTemplate,
	"phantom":              "m/44'/501'/0'/0/x",
	"solflare":             "m/44'/501'/0'/x",
	"sollet":               "m/44'/501'/x'/0/0",
	"binance":              "m/44'/714'/0'/0/x",
	"bitcoin":              "m/44'/0'/0'/0/x",
	"bitcoin_legacy":       "m/44'/0'/0'/x",
	"litecoin":             "m/44'/2'/0'/0/x",
	"dogecoin":             "m/44'/3'/0'/0/x",
	"ripple":               "m/44'/144'/0'/0/x",
	"cardano":              "m/1852'/1815'/0'/0/x",
	"polkadot":             "m/44'/354'/0'/0/x",
}

// Presets returns all known presets sorted by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for name, tmpl := range presets {
		out = append(out, Preset{Name: name, Template: tmpl})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupPreset returns the template for a named preset.
func LookupPreset(name string) (string, bool) {
	tmpl, ok := presets[name]
	return tmpl, ok
}

// ResolveTemplate accepts either a preset name or a template expression.
func ResolveTemplate(nameOrExpr string) (*Template, error) {
	if tmpl, ok := presets[nameOrExpr]; ok {
		return ParseTemplate(tmpl)
	}
	return ParseTemplate(nameOrExpr)
}
