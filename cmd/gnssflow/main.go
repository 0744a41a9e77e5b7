package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/gnssflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gnssflow:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("GNSSFLOW_CONFIG"), "path to a YAML config file")
	flag.Parse()

	conf, err := gnssflow.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := gnssflow.NewSlogServiceLogger(gnssflow.NewSlog(os.Stdout, conf.LogLevel, conf.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hooks := gnssflow.LoggingHooks(logger)
	svc, err := gnssflow.NewService(conf, logger, ctx, gnssflow.ServiceDependencies{Hooks: &hooks})
	if err != nil {
		logger.Error("Startup failed", err, nil)
		return err
	}

	logger.Info("Consuming", gnssflow.LogFields{"queues": conf.Queues})
	if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Ingestion stopped", err, nil)
		return err
	}
	logger.Info("Shutdown complete", nil)
	return nil
}
