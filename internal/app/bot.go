package app

import (
	"context"
	"fmt"
	"log/slog"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamvkosarev/replica-relay/config"
	"github.com/iamvkosarev/replica-relay/internal/client"
	"github.com/iamvkosarev/replica-relay/internal/usecase"
)

// RunBot starts the Telegram front-end, a client of a running relay.
func RunBot(ctx context.Context, cfg *config.Config) error {
	logger := NewLogger(cfg.Log)

	bot, err := api.NewBotAPI(cfg.Telegram.TelegramAPIToken)
	if err != nil {
		return fmt.Errorf("failed to create new bot: %w", err)
	}
	logger.Info("authorized on telegram", slog.String("account", bot.Self.UserName))

	res := newResources(cfg, logger)
	defer res.Close()

	chatLog, err := res.chatLogStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to create chat log storage: %w", err)
	}

	chatUsecase := usecase.NewChatUsecase(
		usecase.ChatUsecaseDeps{
			Relay:   client.NewRelayClient(cfg.Client, nil),
			ChatLog: chatLog,
		}, cfg.Client, logger,
	)

	telegramUsecase, err := usecase.NewTelegramUsecase(
		cfg.Telegram, usecase.TelegramUsecaseDeps{
			Chat: chatUsecase,
			Bot:  bot,
		}, logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create telegram usecase: %w", err)
	}

	return telegramUsecase.Run(ctx)
}
