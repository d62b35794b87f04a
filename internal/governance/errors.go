package governance

import "errors"

// Governance errors.
var (
	ErrProposalNotFound  = errors.New("proposal not found")
	ErrInsufficientStake = errors.New("insufficient stake")
	ErrNotVotingPeriod   = errors.New("not in voting period")
	ErrAlreadyVoted      = errors.New("already voted")
	ErrNotPassed         = errors.New("proposal has not passed")
	ErrTooEarly          = errors.New("execution delay has not elapsed")
	ErrAlreadyExecuted   = errors.New("proposal already executed")
	ErrCancelled         = errors.New("proposal cancelled")
	ErrNotProposer       = errors.New("only the proposer may cancel")
	ErrUnknownParameter  = errors.New("unknown parameter")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrUnknownKind       = errors.New("unknown proposal kind")
)
