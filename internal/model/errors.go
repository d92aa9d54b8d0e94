package model

import "errors"

var (
	ErrPersonaNotFound    = errors.New("persona not found")
	ErrEmptyMessage       = errors.New("message is empty")
	ErrEmptyConversation  = errors.New("conversation is empty")
	ErrInvalidRole        = errors.New("invalid message role")
	ErrTurnInProgress     = errors.New("previous turn is still streaming")
	ErrConversationNotSet = errors.New("conversation is not selected")
)
