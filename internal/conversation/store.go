// Package conversation implements the process-wide conversation store: an
// in-memory, per-user ordered log of user and assistant turns.
//
// Conversations live for the lifetime of the process; persistence is
// intentionally out of scope. Sessions address conversations by user id
// only and never hold a direct reference.
package conversation

import (
	"sync"
	"time"
)

// Window sizes used by the callers. History queries default to the larger
// window; prompt assembly uses the smaller one.
const (
	// DefaultHistoryWindow is the turn count returned for history queries
	// when the client does not specify a limit.
	DefaultHistoryWindow = 20

	// DefaultPromptWindow is the turn count included in prompt assembly.
	DefaultPromptWindow = 10
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one user utterance or one assistant reply.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// conversationLog is the per-user turn log.
type conversationLog struct {
	turns     []Turn
	createdAt time.Time
	updatedAt time.Time
}

// Stats summarizes the store's contents.
type Stats struct {
	ConversationCount int `json:"conversationCount"`
	TotalTurns        int `json:"totalTurns"`
}

// Store is a process-wide mapping from user id to conversation log.
// All methods are safe for concurrent use; readers observe a consistent
// ordered view of a single conversation.
type Store struct {
	mu    sync.RWMutex
	byUID map[string]*conversationLog
	now   func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		byUID: make(map[string]*conversationLog),
		now:   time.Now,
	}
}

// Append adds a turn to the user's conversation, creating the conversation
// lazily on first use. The store is append-only; [Store.Clear] is the only
// deletion operation.
func (s *Store) Append(userID string, role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.byUID[userID]
	if !ok {
		c = &conversationLog{createdAt: now}
		s.byUID[userID] = c
	}
	c.turns = append(c.turns, Turn{Role: role, Content: content, Timestamp: now})
	c.updatedAt = now
}

// Window returns a copy of the last n turns for the user in arrival order.
// A non-positive n or an unknown user yields an empty slice.
func (s *Store) Window(userID string, n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byUID[userID]
	if !ok || n <= 0 {
		return nil
	}
	turns := c.turns
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Clear removes the user's conversation entirely.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUID, userID)
}

// Stats returns the number of conversations and the total turn count.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{ConversationCount: len(s.byUID)}
	for _, c := range s.byUID {
		st.TotalTurns += len(c.turns)
	}
	return st
}
