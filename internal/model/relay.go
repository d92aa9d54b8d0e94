package model

import (
	"encoding/json"
)

// RelayRequest is one user turn as sent to the relay.
type RelayRequest struct {
	Conversation []Message `json:"conversation"`
	PersonaID    string    `json:"personaId"`
}

// UnmarshalJSON also accepts the messages/replicaId field names used by the
// original browser client.
func (r *RelayRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Conversation []Message `json:"conversation"`
		Messages     []Message `json:"messages"`
		PersonaID    string    `json:"personaId"`
		ReplicaID    string    `json:"replicaId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Conversation = raw.Conversation
	if len(r.Conversation) == 0 {
		r.Conversation = raw.Messages
	}
	r.PersonaID = raw.PersonaID
	if r.PersonaID == "" {
		r.PersonaID = raw.ReplicaID
	}
	return nil
}

// Validate checks the constraints the dispatcher relies on.
func (r RelayRequest) Validate() error {
	if len(r.Conversation) == 0 {
		return ErrEmptyConversation
	}
	for _, msg := range r.Conversation {
		if _, err := ParseRole(string(msg.Role)); err != nil {
			return err
		}
	}
	return nil
}
