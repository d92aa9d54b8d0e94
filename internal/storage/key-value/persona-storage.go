package key_value

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/redis/go-redis/v9"
)

var (
	ErrPersonaIDRequired = errors.New("persona id is required")
)

type personaInternal struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	Knowledge   string `json:"knowledge,omitempty"`
	Model       string `json:"model,omitempty"`
}

type PersonaStorage struct {
	rdb *redis.Client
}

func NewPersonaStorage(rdb *redis.Client) *PersonaStorage {
	return &PersonaStorage{
		rdb: rdb,
	}
}

func (p *PersonaStorage) SavePersona(ctx context.Context, persona model.Persona) error {
	if persona.ID == "" {
		return ErrPersonaIDRequired
	}
	personaInt := personaInternal{
		ID:          persona.ID,
		Name:        persona.Name,
		Description: persona.Description,
		Instruction: persona.Instruction,
		Knowledge:   persona.KnowledgeText,
		Model:       persona.ModelID,
	}
	personaJSON, err := json.Marshal(personaInt)
	if err != nil {
		return fmt.Errorf("failed to marshal internal persona: %w", err)
	}
	personaKey := getPersonaKey(persona.ID)
	if err = p.rdb.Set(ctx, personaKey, personaJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to save persona %s: %w", personaKey, err)
	}
	return nil
}

func (p *PersonaStorage) GetPersona(ctx context.Context, personaID string) (model.Persona, error) {
	personaKey := getPersonaKey(personaID)
	personaRaw, err := p.rdb.Get(ctx, personaKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Persona{}, model.ErrPersonaNotFound
		}
		return model.Persona{}, fmt.Errorf("failed to get persona %s: %w", personaID, err)
	}
	var personaInt personaInternal
	if err = json.Unmarshal([]byte(personaRaw), &personaInt); err != nil {
		return model.Persona{}, fmt.Errorf("failed to unmarshal persona %s: %w", personaID, err)
	}
	return model.Persona{
		ID:            personaID,
		Name:          personaInt.Name,
		Description:   personaInt.Description,
		Instruction:   personaInt.Instruction,
		KnowledgeText: personaInt.Knowledge,
		ModelID:       personaInt.Model,
	}, nil
}

func getPersonaKey(id string) string {
	return fmt.Sprintf("persona_%s", id)
}
