// Package service holds the account, progress sync and local migration
// operations. Handlers translate the sentinel errors below into HTTP status
// codes; anything else a store returns is logged here and surfaced as
// ErrTransient.
package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("user not found")
	ErrAlreadyExists   = errors.New("user already exists")
	ErrBadCredentials  = errors.New("bad credentials")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrTransient       = errors.New("temporary failure")

	// Refinements of ErrInvalidInput.
	ErrPasswordTooLong = fmt.Errorf("%w: password longer than 72 bytes", ErrInvalidInput)
	ErrEmptyItemID     = fmt.Errorf("%w: empty item id", ErrInvalidInput)
)
