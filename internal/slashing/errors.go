package slashing

import "errors"

// Evidence errors.
var (
	ErrDisabled    = errors.New("slashing is disabled")
	ErrMalformed   = errors.New("malformed evidence")
	ErrDuplicate   = errors.New("evidence already recorded")
	ErrNotProven   = errors.New("evidence does not prove misbehavior")
	ErrUnknownKind = errors.New("unknown evidence kind")
)
