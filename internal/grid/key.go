package grid

import (
	"fmt"
	"strconv"
	"strings"
)

// Key renders the canonical tile key, e.g. "1_2" or "n3_12". Negative
// components are prefixed with 'n' instead of a minus sign so the key
// stays alphanumeric-plus-underscore and safe to embed in identifiers.
// The encoding is injective over tile coordinates.
func (c Coord) Key() string {
	return encodeAxis(c.TX) + "_" + encodeAxis(c.TY)
}

// ParseKey is the inverse of Coord.Key.
func ParseKey(key string) (Coord, error) {
	parts := strings.Split(key, "_")
	if len(parts) != 2 {
		return Coord{}, fmt.Errorf("malformed tile key %q", key)
	}
	tx, err := decodeAxis(parts[0])
	if err != nil {
		return Coord{}, fmt.Errorf("malformed tile key %q: %w", key, err)
	}
	ty, err := decodeAxis(parts[1])
	if err != nil {
		return Coord{}, fmt.Errorf("malformed tile key %q: %w", key, err)
	}
	return Coord{TX: tx, TY: ty}, nil
}

func encodeAxis(v int64) string {
	if v < 0 {
		return "n" + strconv.FormatInt(-v, 10)
	}
	return strconv.FormatInt(v, 10)
}

func decodeAxis(s string) (int64, error) {
	body := s
	neg := strings.HasPrefix(s, "n")
	if neg {
		body = s[1:]
	}
	if body == "" || body[0] < '0' || body[0] > '9' {
		return 0, fmt.Errorf("axis %q: not canonical", s)
	}
	v, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("axis %q: %w", s, err)
	}
	if neg {
		v = -v
	}
	// one spelling per coordinate: reject "n0", leading zeros, signs
	if encodeAxis(v) != s {
		return 0, fmt.Errorf("axis %q: not canonical", s)
	}
	return v, nil
}
