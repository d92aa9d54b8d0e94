package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PersonaStorage struct {
	conn *pgxpool.Pool
}

func NewPersonaStorage(conn *pgxpool.Pool) *PersonaStorage {
	return &PersonaStorage{
		conn: conn,
	}
}

func (p *PersonaStorage) SavePersona(ctx context.Context, persona model.Persona) error {
	query := `INSERT INTO replicas (id, name, description, instruction, knowledge, model)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			instruction = EXCLUDED.instruction,
			knowledge = EXCLUDED.knowledge,
			model = EXCLUDED.model`

	_, err := p.conn.Exec(
		ctx, query,
		persona.ID, persona.Name, persona.Description, persona.Instruction, persona.KnowledgeText, persona.ModelID,
	)
	if err != nil {
		return fmt.Errorf("failed to save persona %s: %w", persona.ID, err)
	}
	return nil
}

func (p *PersonaStorage) GetPersona(ctx context.Context, personaID string) (model.Persona, error) {
	query := `SELECT id, name, description, instruction, knowledge, model FROM replicas WHERE id = $1`

	var persona model.Persona
	err := p.conn.QueryRow(ctx, query, personaID).Scan(
		&persona.ID, &persona.Name, &persona.Description, &persona.Instruction, &persona.KnowledgeText, &persona.ModelID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Persona{}, model.ErrPersonaNotFound
		}
		return model.Persona{}, fmt.Errorf("failed to get persona %s: %w", personaID, err)
	}
	return persona, nil
}
