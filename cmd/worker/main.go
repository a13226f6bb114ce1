package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"call-insights-go/internal/app"
	"call-insights-go/internal/config"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().WithError(err).Fatal("failed to load config")
	}
	log := logger.NewWith(cfg.Environment, cfg.LogLevel, os.Stdout)
	log.WithField("service", "call-insights-worker").Info("starting service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.Open(ctx, cfg, log, true, false)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise components")
	}
	defer c.Close()

	w := worker.New(c.Queue, c.Processor, worker.Config{
		Concurrency: cfg.Worker.Concurrency,
		BatchSize:   cfg.Worker.BatchSize,
		Block:       cfg.Worker.Block,
	}, log)
	if err := w.Start(ctx); err != nil {
		log.WithError(err).Error("worker exited")
	}
}
