package consensus

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-pos/pkg/block"
)

// HeaderValidator checks a header against consensus rules.
type HeaderValidator interface {
	ValidateBlock(header, prev *block.Header, now uint64) error
}

// Validator validates full blocks: structure, producer signature, then
// the stake consensus rules.
type Validator struct {
	rules HeaderValidator
}

// NewValidator creates a block validator backed by rules.
func NewValidator(rules HeaderValidator) *Validator {
	return &Validator{rules: rules}
}

// ValidateBlock checks blk on top of prev at time now.
func (v *Validator) ValidateBlock(blk *block.Block, prev *block.Header, now uint64) error {
	// Structural validation.
	if err := blk.Validate(); err != nil {
		return fmt.Errorf("block structure: %w", err)
	}

	if err := blk.Header.VerifySignature(); err != nil {
		return fmt.Errorf("block signature: %w", err)
	}

	// Consensus-specific header verification.
	if err := v.rules.ValidateBlock(blk.Header, prev, now); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	return nil
}
