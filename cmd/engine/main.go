package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"defi-agent-engine/internal/app"
	"defi-agent-engine/internal/config"
	"defi-agent-engine/internal/logging"

	"go.uber.org/zap"
)

// set via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	log.Info("engine starting",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.Int("agents", len(cfg.Agents)))

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize engine", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && err != context.Canceled {
		log.Error("engine terminated", zap.Error(err))
		os.Exit(1)
	}
}
