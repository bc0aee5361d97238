// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity is not in a state that permits the
// requested transition.
var ErrConflict = errors.New("conflict: invalid state for operation")

// ErrValidation indicates the request payload failed validation.
var ErrValidation = errors.New("validation failed")

// ErrHalted indicates the global kill switch is engaged.
var ErrHalted = errors.New("system halted")
