package types

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// AddressSize is the length of an address in bytes.
const AddressSize = 20

// Address prefixes used in the human-readable form.
const (
	MainnetPrefix = "kgx:"
	TestnetPrefix = "tkgx:"
)

// activePrefix is used by String() and MarshalJSON().
// Set once at startup via SetAddressPrefix().
var activePrefix = MainnetPrefix

// SetAddressPrefix sets the active address prefix (call once at startup).
func SetAddressPrefix(prefix string) {
	switch prefix {
	case TestnetPrefix:
		activePrefix = TestnetPrefix
	default:
		activePrefix = MainnetPrefix
	}
}

// AddressPrefix returns the currently active address prefix.
func AddressPrefix() string {
	return activePrefix
}

// Address represents a 160-bit address (public key hash).
type Address [AddressSize]byte

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the prefixed hex address (e.g. "kgx:0a1b...").
func (a Address) String() string {
	return activePrefix + a.Hex()
}

// Hex returns the raw hex-encoded address without prefix.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address as a byte slice.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// Compare orders addresses lexicographically by their bytes.
func (a Address) Compare(other Address) int {
	return bytes.Compare(a[:], other[:])
}

// MarshalJSON encodes the address in its prefixed form.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a prefixed or raw hex string into an address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses a prefixed ("kgx:<hex>", "tkgx:<hex>") or raw 40-char hex address.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	hexStr := s
	switch {
	case strings.HasPrefix(s, MainnetPrefix):
		hexStr = s[len(MainnetPrefix):]
	case strings.HasPrefix(s, TestnetPrefix):
		hexStr = s[len(TestnetPrefix):]
	}
	return HexToAddress(strings.TrimPrefix(hexStr, "0x"))
}

// HexToAddress converts a raw hex string to an Address.
// Returns an error if the string is not exactly 40 hex characters.
func HexToAddress(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}
