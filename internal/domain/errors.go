package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrPersistence      = errors.New("conversation store unavailable")
	ErrPresenceLookup   = errors.New("presence lookup failed")
	ErrEnqueue          = errors.New("pending enqueue failed")
	ErrPublish          = errors.New("event publish failed")
	ErrDuplicateMessage = errors.New("message id already exists in conversation")
	ErrNotFound         = errors.New("not found")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
