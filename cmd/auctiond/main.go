// Package main — точка входа движка аукционов.
// Загружает конфигурацию, собирает приложение и работает до
// SIGINT/SIGTERM, затем корректно завершается.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/draft-auction/internal/app"
	"serotonyl.ru/draft-auction/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	setupLogging()

	log.Info("=== draft auction engine starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.AppEnv == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise application")
	}
	if err := application.Run(ctx); err != nil {
		log.WithError(err).Fatal("failed to start application")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Info("=== draft auction engine ready ===")

	sig := <-quit
	log.Infof("received %s, shutting down", sig)

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("unclean shutdown")
	}
	cancel()

	log.Info("=== draft auction engine stopped ===")
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
