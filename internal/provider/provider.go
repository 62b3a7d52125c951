// Package provider defines the capability contract shared by every model
// backend jarvisd can drive, plus the process supervision helpers used by
// adapters that front an external inference server.
package provider

import (
	"context"
	"errors"
)

// Failures surfaced at the adapter boundary. Adapters convert every
// lower-level fault into one of these (possibly wrapped); nothing panics
// across the boundary.
var (
	// ErrNotLoaded is returned by Generate when no successful Load preceded it.
	ErrNotLoaded = errors.New("model not loaded")

	// ErrModelNotFound means the requested model file/id was absent from every
	// searched location.
	ErrModelNotFound = errors.New("model not found")

	// ErrBinaryNotFound means no runnable executable could be located. Kept
	// distinct from ErrStartupTimeout so operators can tell "not installed"
	// from "installed but broken".
	ErrBinaryNotFound = errors.New("binary not found")

	// ErrStartupTimeout means a spawned server never answered its health
	// probe within the attempt budget.
	ErrStartupTimeout = errors.New("startup timeout")
)

// Adapter wraps one backend implementation of a capability (generation,
// transcription or synthesis) behind a uniform lifecycle.
//
// Load and Unload are not safe to call concurrently with themselves or with
// Generate on the same adapter; the registry serializes them per capability.
// Status is a pure read and is safe from any goroutine, including mid-Load.
type Adapter interface {
	// Name returns the provider identifier (e.g. "llama.cpp", "piper").
	Name() string

	// Load prepares the backend according to cfg. On success the adapter
	// reports StateRunning and the effective model name (which may differ
	// from the requested one). Load always tears down any previous instance
	// first, so at most one backend per adapter is ever running.
	Load(ctx context.Context, cfg Config) error

	// Generate runs one inference call. The meaning of input is
	// capability-specific: a prompt for generation, a WAV path for
	// transcription, raw text for synthesis. params is a call-scoped bag in
	// the same shape as Config. Calling Generate before a successful Load
	// returns ErrNotLoaded.
	Generate(ctx context.Context, input string, params Config) (string, error)

	// Unload releases all resources. Safe and idempotent even if Load was
	// never called or already failed.
	Unload()

	// Status returns a consistent snapshot of the adapter state.
	Status() Status
}
