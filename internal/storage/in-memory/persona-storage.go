package in_memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/iamvkosarev/replica-relay/internal/model"
	"gopkg.in/yaml.v3"
)

var (
	ErrPersonaIDRequired = errors.New("persona id is required")
)

type PersonaStorage struct {
	mu       sync.RWMutex
	personas map[string]model.Persona
}

func NewPersonaStorage(personas ...model.Persona) *PersonaStorage {
	storage := &PersonaStorage{
		personas: make(map[string]model.Persona, len(personas)),
	}
	for _, persona := range personas {
		storage.personas[persona.ID] = persona
	}
	return storage
}

type personasFile struct {
	Personas []model.Persona `yaml:"personas"`
}

// LoadPersonasFile reads a YAML document with a top-level "personas" list.
func LoadPersonasFile(path string) ([]model.Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read personas file %s: %w", path, err)
	}
	var file personasFile
	if err = yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse personas file %s: %w", path, err)
	}
	for i, persona := range file.Personas {
		if persona.ID == "" {
			return nil, fmt.Errorf("persona #%d in %s: %w", i+1, path, ErrPersonaIDRequired)
		}
	}
	return file.Personas, nil
}

func (p *PersonaStorage) SavePersona(_ context.Context, persona model.Persona) error {
	if persona.ID == "" {
		return ErrPersonaIDRequired
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.personas[persona.ID] = persona
	return nil
}

func (p *PersonaStorage) GetPersona(_ context.Context, personaID string) (model.Persona, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	persona, ok := p.personas[personaID]
	if !ok {
		return model.Persona{}, model.ErrPersonaNotFound
	}
	return persona, nil
}
