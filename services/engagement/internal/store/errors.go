package store

import "errors"

// Sentinel errors. Callers match with errors.Is; messages carry detail.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)
