package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/user/logfan/internal/api"
	"github.com/user/logfan/internal/config"
	"github.com/user/logfan/internal/consumer"
	"github.com/user/logfan/pkg/broker"
	"github.com/user/logfan/pkg/diag"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the persisted config snapshot")
	flag.Parse()

	logger := diag.New("logfan")

	fallback, err := config.FromEnv()
	if err != nil {
		logger.Error("environment config invalid", "error", err)
		os.Exit(1)
	}
	manager, err := config.NewManager(*configPath, fallback, diag.New("config"))
	if err != nil {
		logger.Error("config manager failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	cons := consumer.New(manager, diag.New("consumer"))
	g.Go(func() error { return cons.Run(ctx) })

	if cfg := manager.Get(); cfg.API.Enabled {
		publisher := broker.NewPublisher(cfg.RabbitMQ.URL())
		defer publisher.Close()

		addr := cfg.API.Addr()
		srv := api.New(addr, manager, publisher, diag.New("api"))
		g.Go(func() error { return srv.Run(ctx) })
	}

	logger.Info("logfan started", "config", *configPath)
	if err := g.Wait(); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
