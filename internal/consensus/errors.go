package consensus

import "errors"

// Stake registry errors.
var (
	ErrBelowMinimum   = errors.New("stake below minimum amount")
	ErrAlreadyStaking = errors.New("address already has an active stake")
	ErrNotFound       = errors.New("no stake for address")
)

// Delegation errors.
var (
	ErrInvalidDelegation = errors.New("invalid delegation")
	ErrNoDelegation      = errors.New("no delegation for address")
)

// Block validation errors, in the order ValidateBlock checks them.
var (
	ErrNoPreviousBlock    = errors.New("no previous block")
	ErrNotProofOfStake    = errors.New("block is not proof-of-stake")
	ErrTimingOutOfRange   = errors.New("block time out of range")
	ErrDifficultyMismatch = errors.New("block difficulty does not match expected")
	ErrKernelMismatch     = errors.New("stake kernel does not verify")
)
