package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iamvkosarev/replica-relay/config"
	"github.com/iamvkosarev/replica-relay/internal/server"
	"github.com/iamvkosarev/replica-relay/internal/usecase"
	openai_tools "github.com/iamvkosarev/replica-relay/pkg/openai-tools"
)

// Run starts the relay HTTP service and blocks until ctx is done.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := NewLogger(cfg.Log)

	res := newResources(cfg, logger)
	defer res.Close()

	personaStorage, err := res.personaStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to create persona storage: %w", err)
	}

	if cfg.Gateway.APIKey == "" {
		logger.Warn("gateway api key is not set, every chat request will fail")
	}
	openAIUsecase := usecase.NewOpenAIUsecase(cfg.Gateway, nil, logger)

	personaUsecase := usecase.NewPersonaUsecase(
		usecase.PersonaUsecaseDeps{
			PersonaStorage: personaStorage,
		},
		cfg.Gateway,
	)

	relayUsecase := usecase.NewRelayUsecase(
		usecase.RelayUsecaseDeps{
			Persona:    personaUsecase,
			Gateway:    openAIUsecase,
			CountToken: openai_tools.CountToken,
		},
		cfg.Gateway, cfg.Assistant, logger,
	)

	logger.Info(
		"relay configured",
		slog.String("personas", cfg.Storage.Personas),
		slog.String("default_model", personaUsecase.DefaultModel()),
		slog.Bool("assistant", cfg.Assistant.Enabled),
	)
	return server.NewServer(cfg.HTTP, cfg.Assistant, relayUsecase, logger).Run(ctx)
}
