package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// ConversationID identifies a conversation memory that callers may carry across runs
type ConversationID string

// MessageRole defines who authored a message
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one role-tagged turn exchanged with the oracle.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
}

// ConversationMemory is the ordered chat history of a run.
// It only grows; a run appends the task and the final answer.
type ConversationMemory []Message

// Append returns the memory with msg added at the end.
func (m ConversationMemory) Append(role MessageRole, content string) ConversationMemory {
	return append(m, Message{Role: role, Content: content, CreatedAt: time.Now().UTC()})
}

// Clone returns an independent copy so one run never aliases another run's memory.
func (m ConversationMemory) Clone() ConversationMemory {
	if m == nil {
		return nil
	}
	out := make(ConversationMemory, len(m))
	copy(out, m)
	return out
}

// Last returns the most recent message, or false when the memory is empty.
func (m ConversationMemory) Last() (Message, bool) {
	if len(m) == 0 {
		return Message{}, false
	}
	return m[len(m)-1], true
}

// ModelPrompt is what the oracle receives: a system instruction followed by chat turns.
type ModelPrompt struct {
	Messages []Message `json:"messages"`
}

// System returns the content of the leading system message, if any.
func (p ModelPrompt) System() string {
	if len(p.Messages) > 0 && p.Messages[0].Role == RoleSystem {
		return p.Messages[0].Content
	}
	return ""
}

// NewConversationID generates a compact random conversation ID (conv-<12 hex>)
func NewConversationID() ConversationID {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return ConversationID("conv-" + hex.EncodeToString(b))
}
