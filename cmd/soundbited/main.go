package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"soundbite/internal/config"
	"soundbite/internal/daemon"
	"soundbite/internal/logging"
	"soundbite/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		return
	}

	d, err := daemon.New(cfg, st, logger)
	if err != nil {
		logger.Error("create daemon", slog.Any("error", err))
		_ = st.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", slog.Any("error", err))
		return
	}

	<-ctx.Done()
	logger.Info("soundbited shutting down")
}
