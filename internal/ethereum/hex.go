package ethereum

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// stripHexPrefix drops a leading 0x/0X if present.
func stripHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// ParseHexUint64 parses a 0x-prefixed quantity into a uint64.
func ParseHexUint64(s string) (uint64, error) {
	h := stripHexPrefix(s)
	if h == "" {
		return 0, fmt.Errorf("empty hex quantity %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex quantity %q: %w", s, err)
	}
	return v, nil
}

// ParseHexInt64 parses a 0x-prefixed quantity into an int64.
func ParseHexInt64(s string) (int64, error) {
	v, err := ParseHexUint64(s)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// HexToDecimal converts a 0x-prefixed quantity of arbitrary width into a
// decimal string. Used for wei amounts that can exceed int64.
func HexToDecimal(s string) (string, error) {
	h := stripHexPrefix(s)
	if h == "" {
		return "0", nil
	}
	v, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return "", fmt.Errorf("parse hex quantity %q", s)
	}
	return v.String(), nil
}

// InputByteLen returns the decoded payload length in bytes of a
// 0x-prefixed hex input field.
func InputByteLen(input string) int {
	return len(stripHexPrefix(input)) / 2
}

// HasInput reports whether the input field carries any payload at all.
func HasInput(input string) bool {
	return input != "" && input != "0x" && len(input) > 2
}

// NormalizeAddress lowercases an address for case-insensitive comparison.
// Topic and receipt fields arrive in mixed checksum casing.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return a != "" && NormalizeAddress(a) == NormalizeAddress(b)
}
