package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PCounter/config"
	"PCounter/logger"

	"go.uber.org/zap"
)

func main() {
	var (
		configFile string
		envPath    string
	)
	flag.StringVar(&configFile, "config", "", "config file (default ./config.yaml or ./config/config.yaml)")
	flag.StringVar(&envPath, "env", "config/", "directory holding .env / .env.local")
	flag.Parse()

	cfg, err := config.Load(configFile, envPath)
	if err != nil {
		logger.Error("load config failed", zap.Error(err))
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		logger.Error("init logger failed", zap.Error(err))
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		logger.Error("start counter worker failed", zap.Error(err))
		os.Exit(1)
	}
	app.run(ctx)

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	app.close(shutdownCtx)
}
