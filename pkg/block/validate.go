package block

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrNilHeader      = errors.New("block has nil header")
	ErrBadVersion     = errors.New("unsupported block version")
	ErrZeroTimestamp  = errors.New("block timestamp is zero")
	ErrBadPayloadRoot = errors.New("payload root mismatch")
	ErrUnsigned       = errors.New("block is not signed")
	ErrSignerMismatch = errors.New("signing key does not belong to staker")
	ErrBadSignature   = errors.New("invalid validator signature")
)

// Block version constants.
const (
	CurrentVersion = 1 // The current block version produced by this software.
	MaxVersion     = 1 // Bump when a fork introduces a new block version.
)

// Validate checks block structure and internal consistency.
// This does NOT verify consensus rules (use the stake manager for that).
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}
	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}
	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}
	if root := PayloadRoot(b.Payload); root != b.Header.PayloadRoot {
		return fmt.Errorf("%w: header %s, computed %s", ErrBadPayloadRoot, b.Header.PayloadRoot, root)
	}
	return nil
}
