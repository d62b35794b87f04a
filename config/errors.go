package config

import "errors"

// Protocol parameter errors.
var (
	ErrUnknownParam = errors.New("unknown protocol parameter")
	ErrInvalidParam = errors.New("invalid protocol parameter value")
)
