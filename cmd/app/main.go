package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"quote_keeper/internal/app"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	flag.Parse()

	os.Exit(run(*configPath))
}

func run(configPath string) int {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap(configPath)
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := bootstrap.Close(); err != nil {
			slog.Error("Failed to close storage", slog.Any("error", err))
		}
	}()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Engine, feed and admin server until a signal or a fatal error
	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("Quote keeper stopped with errors", slog.Any("error", err))
		return 1
	}

	slog.Info("Shut down gracefully")
	return 0
}
