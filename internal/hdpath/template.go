package hdpath

import (
	"fmt"
	"strings"
)

// Template is a derivation path with exactly one variable segment.
// The variable is either a whole plain segment ("x") or the index of a
// hardened segment ("x'").
type Template struct {
	prefix   Path
	suffix   Path
	hardened bool
}

// ParseTemplate parses a template such as "m/44'/60'/0'/0/x" or
// "m/44'/60'/x'/0/0".
func ParseTemplate(s string) (*Template, error) {
	elems, err := splitPath(s)
	if err != nil {
		return nil, err
	}

	t := &Template{}
	marker := -1
	for i, elem := range elems {
		body, hardened := splitHardened(elem)
		if body == Marker {
			if marker >= 0 {
				return nil, ErrMultipleMarkers
			}
			marker = i
			t.hardened = hardened
			continue
		}
		if strings.Contains(elem, Marker) {
			return nil, fmt.Errorf("%w: segment %d %q mixes the marker with other characters", ErrPathFormat, i, elem)
		}
		seg, err := parseSegment(i, elem)
		if err != nil {
			return nil, err
		}
		if marker < 0 {
			t.prefix = append(t.prefix, seg)
		} else {
			t.suffix = append(t.suffix, seg)
		}
	}
	if marker < 0 {
		return nil, ErrNoMarker
	}
	return t, nil
}

// MustParseTemplate is like ParseTemplate but panics on error.
// Intended for package-level presets.
func MustParseTemplate(s string) *Template {
	t, err := ParseTemplate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Resolve substitutes index for the marker.
func (t *Template) Resolve(index uint32) (Path, error) {
	seg, err := t.Segment(index)
	if err != nil {
		return nil, err
	}
	path := make(Path, 0, len(t.prefix)+1+len(t.suffix))
	path = append(path, t.prefix...)
	path = append(path, seg)
	path = append(path, t.suffix...)
	return path, nil
}

// Segment returns the binary value of the variable segment for index.
func (t *Template) Segment(index uint32) (uint32, error) {
	if index >= HardenedStart {
		return 0, fmt.Errorf("%w: %d must be below %d", ErrIndexOutOfRange, index, HardenedStart)
	}
	if t.hardened {
		return index + HardenedStart, nil
	}
	return index, nil
}

// Prefix returns the fixed segments before the marker.
func (t *Template) Prefix() Path {
	return append(Path(nil), t.prefix...)
}

// Suffix returns the fixed segments after the marker.
func (t *Template) Suffix() Path {
	return append(Path(nil), t.suffix...)
}

// Split returns the prefix, the marker segment form and the suffix.
func (t *Template) Split() (prefix Path, marker string, suffix Path) {
	marker = Marker
	if t.hardened {
		marker += "'"
	}
	return t.Prefix(), marker, t.Suffix()
}

// Hardened reports whether the variable segment is hardened.
func (t *Template) Hardened() bool {
	return t.hardened
}

// String returns the canonical template form, e.g. "m/44'/60'/0'/0/x".
func (t *Template) String() string {
	var sb strings.Builder
	sb.WriteString(t.prefix.String())
	sb.WriteByte('/')
	sb.WriteString(Marker)
	if t.hardened {
		sb.WriteByte('\'')
	}
	for _, seg := range t.suffix {
		sb.WriteByte('/')
		sb.WriteString(formatSegment(seg))
	}
	return sb.String()
}

// MarshalText encodes the template in canonical form.
func (t *Template) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a template expression.
func (t *Template) UnmarshalText(text []byte) error {
	parsed, err := ParseTemplate(string(text))
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}
