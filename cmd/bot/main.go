package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iamvkosarev/replica-relay/config"
	"github.com/iamvkosarev/replica-relay/internal/app"
	"github.com/joho/godotenv"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = app.RunBot(ctx, cfg); err != nil {
		slog.Error("bot stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
