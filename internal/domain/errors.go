package domain

import "errors"

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrNotFound        = errors.New("resource not found")
	ErrOrphanedJob     = errors.New("job recorded but not enqueued")
	ErrAlreadyTerminal = errors.New("job already in a terminal state")
)
