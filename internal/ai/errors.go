package ai

import "github.com/kiranshivaraju/studycoach/internal/ai/aierrors"

// The sentinel values live in the aierrors leaf package; they are re-exposed
// here so callers keep using ai.Err*. Same values, so errors.Is matches
// across both names.
var (
	// ErrGeneratorUnavailable means the provider could not be reached or
	// returned a server-side failure. Transient; callers may retry.
	ErrGeneratorUnavailable = aierrors.ErrGeneratorUnavailable
	// ErrGeneratorTimeout means the generation call exceeded its deadline.
	ErrGeneratorTimeout = aierrors.ErrGeneratorTimeout
	// ErrMalformedOutput means the model responded but the text could not be
	// parsed into a valid flash-card set. Eligible for a structured-repair
	// re-request, not a plain retry.
	ErrMalformedOutput = aierrors.ErrMalformedOutput
)
