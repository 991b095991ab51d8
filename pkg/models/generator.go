// Package models contains shared data models used across the StudyCoach codebase.
package models

import "context"

// ContentGenerator is the core interface all text-generation integrations
// implement. Never call a specific provider directly — always inject this
// interface. The generator is a black box with a timeout contract: callers
// bound it with a context deadline and classify the returned error.
type ContentGenerator interface {
	// Generate sends a prompt and returns the raw model text. Implementations
	// must honor ctx cancellation and return a wrapped sentinel from
	// internal/ai (timeout, unavailable) on transport failures.
	Generate(ctx context.Context, prompt string) (string, error)
	// Name returns the provider identifier (e.g., "openai", "gemini").
	Name() string
}
