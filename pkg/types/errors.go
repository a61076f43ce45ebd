package types

import "errors"

// Domain errors for type validation
var (
	ErrEmptyPath     = errors.New("file path is required")
	ErrInvalidSpan   = errors.New("span end must be >= start")
	ErrNegativeIndex = errors.New("chunk index must be >= 0")
	ErrEmptyContent  = errors.New("content cannot be empty")
	ErrInvalidID     = errors.New("invalid chunk id")
)
