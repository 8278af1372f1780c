// Package common defines sentinel errors shared by the store backends and
// the service layer. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrorNotFound = errors.New("not found")
	ErrorExists   = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")
)
