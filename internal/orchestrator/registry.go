package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/normanking/jarvisd/internal/provider"
)

// Capability is a class of interchangeable providers.
type Capability string

const (
	CapGeneration    Capability = "generation"
	CapTranscription Capability = "transcription"
	CapSynthesis     Capability = "synthesis"
)

var (
	// ErrNoActiveProvider is returned when a capability has no registered
	// adapters at all.
	ErrNoActiveProvider = errors.New("no active provider")

	// ErrModuleDisabled is returned by pipeline entry points whose module is
	// switched off.
	ErrModuleDisabled = errors.New("module is disabled")
)

// capabilityState carries one capability's adapters and its exclusion scope.
// The RWMutex gives exactly the ordering the pipeline needs: Switch and
// LoadActive take the write lock, inference calls take the read lock, so a
// hot swap can never race an in-flight call on the same capability while
// unrelated capabilities proceed independently.
type capabilityState struct {
	mu       sync.RWMutex
	adapters map[string]provider.Adapter
	names    []string // registration order, for stable listings
	active   string
}

// Registry holds the named adapter instances per capability and tracks which
// one is active. Adapters are registered once at startup and owned by the
// registry for the process lifetime.
type Registry struct {
	caps map[Capability]*capabilityState
}

// NewRegistry creates an empty registry covering all capabilities.
func NewRegistry() *Registry {
	caps := make(map[Capability]*capabilityState)
	for _, c := range []Capability{CapGeneration, CapTranscription, CapSynthesis} {
		caps[c] = &capabilityState{adapters: make(map[string]provider.Adapter)}
	}
	return &Registry{caps: caps}
}

// Register adds a named adapter. The first registration for a capability
// becomes its active provider.
func (r *Registry) Register(cap Capability, name string, a provider.Adapter) {
	cs := r.caps[cap]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, exists := cs.adapters[name]; !exists {
		cs.names = append(cs.names, name)
	}
	cs.adapters[name] = a
	if cs.active == "" {
		cs.active = name
	}
}

// Switch changes the active provider for cap. Switching to the already
// active name is a no-op returning true (no unload/reload side effect);
// switching to an unknown name returns false leaving the active provider
// untouched. The outgoing adapter is unloaded; the incoming one is NOT
// loaded: new configuration usually arrives in the same request as the
// switch, so selection and initialization stay decoupled.
func (r *Registry) Switch(cap Capability, name string) bool {
	cs := r.caps[cap]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.active == name {
		return true
	}
	if _, ok := cs.adapters[name]; !ok {
		return false
	}
	if current, ok := cs.adapters[cs.active]; ok {
		current.Unload()
	}
	cs.active = name
	return true
}

// ActiveName returns the active provider's name for cap.
func (r *Registry) ActiveName(cap Capability) string {
	cs := r.caps[cap]
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.active
}

// Providers lists the registered provider names for cap in registration
// order.
func (r *Registry) Providers(cap Capability) []string {
	cs := r.caps[cap]
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]string, len(cs.names))
	copy(out, cs.names)
	return out
}

// LoadActive loads the active adapter with cfg, exclusively with switches
// and in-flight calls on the same capability.
func (r *Registry) LoadActive(ctx context.Context, cap Capability, cfg provider.Config) error {
	cs := r.caps[cap]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	a, ok := cs.adapters[cs.active]
	if !ok {
		return ErrNoActiveProvider
	}
	return a.Load(ctx, cfg)
}

// Call runs one inference call against the active adapter. It holds the
// capability's read lock for the whole call so the active pointer stays
// consistent: a concurrent Switch cannot start a call on provider A and have
// it answered by provider B.
func (r *Registry) Call(ctx context.Context, cap Capability, input string, params provider.Config) (string, error) {
	cs := r.caps[cap]
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	a, ok := cs.adapters[cs.active]
	if !ok {
		return "", ErrNoActiveProvider
	}
	return a.Generate(ctx, input, params)
}

// ActiveStatus returns the active provider's name and status snapshot.
func (r *Registry) ActiveStatus(cap Capability) (string, provider.Status) {
	cs := r.caps[cap]
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	a, ok := cs.adapters[cs.active]
	if !ok {
		return cs.active, provider.Status{}
	}
	return cs.active, a.Status()
}

// UnloadAll tears down every adapter. Called once at process shutdown.
func (r *Registry) UnloadAll() {
	for _, cs := range r.caps {
		cs.mu.Lock()
		for _, a := range cs.adapters {
			a.Unload()
		}
		cs.mu.Unlock()
	}
}
