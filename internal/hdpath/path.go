// Package hdpath parses BIP-32 derivation paths and path templates with a
// single variable index marker.
package hdpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HardenedStart is the first hardened child index (2^31).
const HardenedStart uint32 = 0x80000000

// Marker is the placeholder segment value in a path template.
const Marker = "x"

var (
	// ErrPathFormat is returned for any malformed path or template expression.
	ErrPathFormat = errors.New("path format error")

	// ErrNoMarker is returned when a template has no variable segment.
	ErrNoMarker = fmt.Errorf("%w: template has no %q marker", ErrPathFormat, Marker)

	// ErrMultipleMarkers is returned when a template has more than one variable segment.
	ErrMultipleMarkers = fmt.Errorf("%w: template has more than one %q marker", ErrPathFormat, Marker)

	// ErrIndexOutOfRange is returned when a resolved index does not fit below
	// the hardened boundary.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Path is the binary form of a derivation path. Hardened segments carry
// HardenedStart in their value.
type Path []uint32

// String returns the canonical form, e.g. "m/44'/60'/0'/0/0".
func (p Path) String() string {
	var sb strings.Builder
	sb.WriteString("m")
	for _, seg := range p {
		sb.WriteByte('/')
		sb.WriteString(formatSegment(seg))
	}
	return sb.String()
}

// Equal reports whether two paths have the same segments.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// ParsePath parses a fixed derivation path. The leading "m" is optional and
// hardened segments may use ', h or H as suffix.
func ParsePath(s string) (Path, error) {
	elems, err := splitPath(s)
	if err != nil {
		return nil, err
	}
	path := make(Path, 0, len(elems))
	for i, elem := range elems {
		seg, err := parseSegment(i, elem)
		if err != nil {
			return nil, err
		}
		path = append(path, seg)
	}
	return path, nil
}

func splitPath(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty path", ErrPathFormat)
	}
	elems := strings.Split(s, "/")
	if strings.TrimSpace(elems[0]) == "m" || strings.TrimSpace(elems[0]) == "M" {
		elems = elems[1:]
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("%w: path %q has no segments", ErrPathFormat, s)
	}
	for i := range elems {
		elems[i] = strings.TrimSpace(elems[i])
		if elems[i] == "" {
			return nil, fmt.Errorf("%w: path %q has an empty segment at %d", ErrPathFormat, s, i)
		}
	}
	return elems, nil
}

// splitHardened strips one trailing hardening marker.
func splitHardened(elem string) (string, bool) {
	switch elem[len(elem)-1] {
	case '\'', 'h', 'H':
		return elem[:len(elem)-1], true
	}
	return elem, false
}

func parseSegment(pos int, elem string) (uint32, error) {
	body, hardened := splitHardened(elem)
	if body == "" {
		return 0, fmt.Errorf("%w: segment %d %q has no index", ErrPathFormat, pos, elem)
	}
	if strings.ContainsAny(body, "'hH") {
		return 0, fmt.Errorf("%w: segment %d %q has a misplaced hardening marker", ErrPathFormat, pos, elem)
	}
	for _, c := range body {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: segment %d %q is not numeric", ErrPathFormat, pos, elem)
		}
	}
	v, err := strconv.ParseUint(body, 10, 32)
	if err != nil || uint32(v) >= HardenedStart {
		return 0, fmt.Errorf("%w: segment %d %q must be in range [0, %d]", ErrPathFormat, pos, elem, HardenedStart-1)
	}
	if hardened {
		return uint32(v) + HardenedStart, nil
	}
	return uint32(v), nil
}

func formatSegment(seg uint32) string {
	if seg >= HardenedStart {
		return strconv.FormatUint(uint64(seg-HardenedStart), 10) + "'"
	}
	return strconv.FormatUint(uint64(seg), 10)
}
