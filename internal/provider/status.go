package provider

import "sync"

// State is the adapter lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateRunning
	StateError
)

// String renders the state the way the status API reports it.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoading:
		return "Loading"
	case StateRunning:
		return "Running"
	case StateError:
		return "Error"
	}
	return "Unknown"
}

// Status is a point-in-time snapshot of an adapter. Transitions are
// adapter-owned; everything else only reads this value.
type Status struct {
	State  State  `json:"-"`
	Reason string `json:"-"`      // failure detail, set only for StateError
	Model  string `json:"model"`  // human-readable active model name
	Port   int    `json:"port,omitempty"`
}

// Text renders the state plus failure reason, e.g. "Running" or
// "Error: startup timeout".
func (s Status) Text() string {
	if s.State == StateError && s.Reason != "" {
		return "Error: " + s.Reason
	}
	return s.State.String()
}

// StatusTracker is a mutex-guarded Status holder embedded by adapters so
// Status reads always observe a consistent snapshot, even mid-Load from
// another goroutine.
type StatusTracker struct {
	mu sync.RWMutex
	st Status
}

// SetState moves the tracker into state, clearing any previous failure
// reason.
func (t *StatusTracker) SetState(state State) {
	t.mu.Lock()
	t.st.State = state
	t.st.Reason = ""
	t.mu.Unlock()
}

// Fail moves the tracker into StateError with the given reason.
func (t *StatusTracker) Fail(err error) {
	t.mu.Lock()
	t.st.State = StateError
	if err != nil {
		t.st.Reason = err.Error()
	}
	t.mu.Unlock()
}

// SetModel records the effective model name in use.
func (t *StatusTracker) SetModel(name string) {
	t.mu.Lock()
	t.st.Model = name
	t.mu.Unlock()
}

// SetPort records the network port the backend is bound to.
func (t *StatusTracker) SetPort(port int) {
	t.mu.Lock()
	t.st.Port = port
	t.mu.Unlock()
}

// Status returns the current snapshot.
func (t *StatusTracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.st
}

// Running reports whether the tracker is in StateRunning.
func (t *StatusTracker) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.st.State == StateRunning
}
