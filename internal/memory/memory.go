// Package memory provides the short-term conversational history: a bounded,
// ordered window of turns shared by every generation call.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in the conversation. Immutable once created.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultCapacity is the number of turns retained in the sliding window.
const DefaultCapacity = 10

// Store is a turn-count-bounded FIFO. Appends are linearized under a mutex
// because conversational order is semantically meaningful.
type Store struct {
	mu       sync.Mutex
	turns    []Turn
	capacity int
}

// NewStore creates a store holding at most capacity turns; capacity <= 0
// falls back to DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		turns:    make([]Turn, 0, capacity),
		capacity: capacity,
	}
}

// Add appends a turn and evicts from the head when over capacity, so the
// window always holds the most recent turns in original order.
func (s *Store) Add(role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if len(s.turns) > s.capacity {
		s.turns = s.turns[len(s.turns)-s.capacity:]
	}
}

// Turns returns a copy of the current window.
func (s *Store) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of retained turns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// ContextString renders the window as alternating labeled lines for prompt
// assembly. Assistant turns are labeled with the persona name.
func (s *Store) ContextString(assistantName string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	for _, t := range s.turns {
		label := assistantName
		if t.Role == RoleUser {
			label = "User"
		}
		fmt.Fprintf(&sb, "%s: %s\n", label, t.Content)
	}
	return sb.String()
}

// Clear resets the window to empty.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = s.turns[:0]
}
