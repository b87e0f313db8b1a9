// Package conversation implements the per-session state store: the ordered
// message history, bounded reasoning and tool-call records, and the current
// todo list. All mutation goes through the State API; the struct is safe for
// concurrent use.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleUser is a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the agent.
	RoleAssistant Role = "assistant"
	// RoleSystem is an injected system message.
	RoleSystem Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one entry in the ordered conversation history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ReasoningStep records one step of agent reasoning. The list is bounded;
// old steps are evicted first.
type ReasoningStep struct {
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolCallRecord records one tool invocation by the agent. The list is
// bounded; old records are evicted first.
type ToolCallRecord struct {
	Tool      string    `json:"tool"`
	Input     string    `json:"input"`
	Timestamp time.Time `json:"timestamp"`
}

// Default bounds for the eviction lists.
const (
	DefaultMaxReasoningSteps = 200
	DefaultMaxToolCalls      = 500
)

// State holds all conversation state for one session.
//
// Thread safety: State has an internal mutex protecting all fields. Reads
// return copies so callers never alias internal slices.
type State struct {
	mu sync.Mutex

	messages  []Message
	reasoning []ReasoningStep
	toolCalls []ToolCallRecord
	todos     []TodoItem

	maxReasoning int
	maxToolCalls int
}

// NewState creates an empty conversation state with default bounds.
func NewState() *State {
	return &State{
		maxReasoning: DefaultMaxReasoningSteps,
		maxToolCalls: DefaultMaxToolCalls,
	}
}

// NewStateWithBounds creates an empty state with custom list bounds.
// Bounds below 1 fall back to the defaults.
func NewStateWithBounds(maxReasoning, maxToolCalls int) *State {
	if maxReasoning < 1 {
		maxReasoning = DefaultMaxReasoningSteps
	}
	if maxToolCalls < 1 {
		maxToolCalls = DefaultMaxToolCalls
	}
	return &State{
		maxReasoning: maxReasoning,
		maxToolCalls: maxToolCalls,
	}
}

// AppendMessage appends a message to the history and returns it with its
// generated id and timestamp filled in.
func (s *State) AppendMessage(role Role, content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return msg
}

// AppendReasoningStep appends a reasoning step, evicting the oldest entry
// when the list is at its bound.
func (s *State) AppendReasoningStep(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reasoning = append(s.reasoning, ReasoningStep{
		Summary:   summary,
		Timestamp: time.Now().UTC(),
	})
	if len(s.reasoning) > s.maxReasoning {
		s.reasoning = s.reasoning[len(s.reasoning)-s.maxReasoning:]
	}
}

// AppendToolCall appends a tool-call record, evicting the oldest entry when
// the list is at its bound.
func (s *State) AppendToolCall(tool, input string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.toolCalls = append(s.toolCalls, ToolCallRecord{
		Tool:      tool,
		Input:     input,
		Timestamp: time.Now().UTC(),
	})
	if len(s.toolCalls) > s.maxToolCalls {
		s.toolCalls = s.toolCalls[len(s.toolCalls)-s.maxToolCalls:]
	}
}

// SetTodos replaces the todo list.
func (s *State) SetTodos(todos []TodoItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.todos = make([]TodoItem, len(todos))
	copy(s.todos, todos)
}

// Messages returns a copy of the message history.
func (s *State) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ReasoningSteps returns a copy of the bounded reasoning list.
func (s *State) ReasoningSteps() []ReasoningStep {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ReasoningStep, len(s.reasoning))
	copy(out, s.reasoning)
	return out
}

// ToolCalls returns a copy of the bounded tool-call list.
func (s *State) ToolCalls() []ToolCallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ToolCallRecord, len(s.toolCalls))
	copy(out, s.toolCalls)
	return out
}

// Todos returns a copy of the todo list.
func (s *State) Todos() []TodoItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TodoItem, len(s.todos))
	copy(out, s.todos)
	return out
}

// Snapshot is a point-in-time copy of the persistable conversation state.
// Reasoning steps and tool calls are operational and are not persisted.
type Snapshot struct {
	Messages []Message
	Todos    []TodoItem
}

// Snapshot returns a consistent copy of messages and todos, taken under one
// lock acquisition so the two lists always correspond.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Messages: make([]Message, len(s.messages)),
		Todos:    make([]TodoItem, len(s.todos)),
	}
	copy(snap.Messages, s.messages)
	copy(snap.Todos, s.todos)
	return snap
}

// Restore replaces the message history and todo list with the snapshot's
// contents. Used when resuming a persisted session into a fresh state store.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]Message, len(snap.Messages))
	copy(s.messages, snap.Messages)
	s.todos = make([]TodoItem, len(snap.Todos))
	copy(s.todos, snap.Todos)
}

// Clear drops all state. Used when a session is closed without saving.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.reasoning = nil
	s.toolCalls = nil
	s.todos = nil
}
