// Package aierrors holds the generator sentinel errors in a leaf package so
// provider implementations can reference them without importing the parent
// ai package (which imports the providers for its factory).
package aierrors

import "errors"

var (
	// ErrGeneratorUnavailable means the provider could not be reached or
	// returned a server-side failure. Transient; callers may retry.
	ErrGeneratorUnavailable = errors.New("content generator unavailable")
	// ErrGeneratorTimeout means the generation call exceeded its deadline.
	ErrGeneratorTimeout = errors.New("content generation timeout")
	// ErrMalformedOutput means the model responded but the text could not be
	// parsed into a valid flash-card set. Eligible for a structured-repair
	// re-request, not a plain retry.
	ErrMalformedOutput = errors.New("generator returned malformed output")
)
