package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      = Role("user")
	RoleAssistant = Role("assistant")
	RoleSystem    = Role("system")
)

// ParseRole maps a wire role onto a conversation role. Only user and
// assistant may come from a client.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	default:
		return "", ErrInvalidRole
	}
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChatLogEntry struct {
	ConversationID uuid.UUID
	Role           Role
	Content        string
	CreatedAt      time.Time
}
