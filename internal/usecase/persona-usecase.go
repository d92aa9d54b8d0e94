package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/iamvkosarev/replica-relay/config"
	"github.com/iamvkosarev/replica-relay/internal/model"
)

const DefaultUpstreamModel = "google/gemini-3-flash-preview"

var defaultModels = map[string]string{
	"google/gemini-3-flash-preview": "google/gemini-3-flash-preview",
	"google/gemini-2.5-flash":       "google/gemini-2.5-flash",
	"google/gemini-2.5-pro":         "google/gemini-2.5-pro",
	"openai/gpt-5":                  "openai/gpt-5",
	"openai/gpt-5-mini":             "openai/gpt-5-mini",
}

type PersonaStorage interface {
	GetPersona(ctx context.Context, personaID string) (model.Persona, error)
}

type PersonaUsecaseDeps struct {
	PersonaStorage PersonaStorage
}

type PersonaUsecase struct {
	PersonaUsecaseDeps
	models       map[string]string
	defaultModel string
}

func NewPersonaUsecase(deps PersonaUsecaseDeps, cfg config.Gateway) *PersonaUsecase {
	models := make(map[string]string, len(defaultModels)+len(cfg.Models))
	for id, name := range defaultModels {
		models[id] = name
	}
	for id, name := range cfg.Models {
		models[id] = name
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = DefaultUpstreamModel
	}
	return &PersonaUsecase{
		PersonaUsecaseDeps: deps,
		models:             models,
		defaultModel:       defaultModel,
	}
}

func (p *PersonaUsecase) GetPersona(ctx context.Context, personaID string) (model.Persona, error) {
	if strings.TrimSpace(personaID) == "" {
		return model.Persona{}, model.ErrPersonaNotFound
	}
	persona, err := p.PersonaStorage.GetPersona(ctx, personaID)
	if err != nil {
		return model.Persona{}, fmt.Errorf("failed to get persona %s: %w", personaID, err)
	}
	return persona, nil
}

// UpstreamModel maps a persona model id onto the gateway model name.
// Unknown and empty ids select the default model.
func (p *PersonaUsecase) UpstreamModel(modelID string) string {
	if name, ok := p.models[modelID]; ok {
		return name
	}
	return p.defaultModel
}

func (p *PersonaUsecase) DefaultModel() string {
	return p.defaultModel
}

// BuildSystemPrompt concatenates the identity line, description,
// instruction block and knowledge block, in that order, skipping blanks.
func BuildSystemPrompt(persona model.Persona) string {
	var sb strings.Builder
	sb.WriteString(`You are "` + persona.Name + `".`)
	if description := strings.TrimSpace(persona.Description); description != "" {
		sb.WriteString(" ")
		sb.WriteString(description)
	}
	if instruction := strings.TrimSpace(persona.Instruction); instruction != "" {
		sb.WriteString("\n\nInstructions: ")
		sb.WriteString(instruction)
	}
	if knowledge := strings.TrimSpace(persona.KnowledgeText); knowledge != "" {
		sb.WriteString("\n\nKnowledge base:\n")
		sb.WriteString(knowledge)
	}
	return sb.String()
}
