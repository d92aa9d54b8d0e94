package model

import (
	"strings"

	"github.com/google/uuid"
)

// Conversation is the ordered message history of one chat view. Insertion
// order is the only order; every mutation touches the trailing message only.
type Conversation struct {
	ID        uuid.UUID
	PersonaID string
	Messages  []Message
}

func NewConversation(id uuid.UUID, personaID string, history []Message) *Conversation {
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, history...)
	return &Conversation{
		ID:        id,
		PersonaID: personaID,
		Messages:  messages,
	}
}

// AppendUserMessage pushes a trimmed user message. Blank text is rejected and
// the conversation is left untouched.
func (c *Conversation) AppendUserMessage(text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	msg := Message{Role: RoleUser, Content: text}
	c.Messages = append(c.Messages, msg)
	return msg, nil
}

// AppendOrUpdateAssistantDelta extends the trailing assistant message with
// delta, or starts one when the trailing message belongs to someone else.
// It returns the trailing assistant content after the update.
func (c *Conversation) AppendOrUpdateAssistantDelta(delta string) string {
	if n := len(c.Messages); n > 0 && c.Messages[n-1].Role == RoleAssistant {
		c.Messages[n-1].Content += delta
		return c.Messages[n-1].Content
	}
	c.Messages = append(c.Messages, Message{Role: RoleAssistant, Content: delta})
	return delta
}

func (c *Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

func (c *Conversation) Len() int {
	return len(c.Messages)
}

// Snapshot returns a copy that is safe to hand to another goroutine.
func (c *Conversation) Snapshot() []Message {
	messages := make([]Message, len(c.Messages))
	copy(messages, c.Messages)
	return messages
}
