package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/app"
	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Init(os.Stdout)
	logging.SetLevel(cfg.LogLevel)

	proc, err := app.NewProcessor(cfg)
	if err != nil {
		slog.Error("failed to build processor", "error", err)
		os.Exit(1)
	}

	run(proc, cfg)
}

func run(proc *app.Processor, cfg *config.Config) {
	slog.Info("starting SIP event processor",
		"service_id", cfg.ServiceID,
		"sip_port", cfg.SIP.Port,
		"http_port", cfg.HTTPPort,
		"num_workers", cfg.NumWorkers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := proc.Start(ctx); err != nil {
		slog.Error("failed to start processor", "error", err)
		cancel()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)
	cancel()

	proc.Stop()
	time.Sleep(200 * time.Millisecond)
}
