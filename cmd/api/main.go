package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/classmate-app/classmate/internal/app"
	"github.com/classmate-app/classmate/internal/config"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(log.WithContext(context.Background()))
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cfg := config.LoadConfig()
	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer application.Close()

	go func() {
		if err := application.Queue.Consume(ctx, cfg.Workers, application.Pipeline.Handle); err != nil {
			log.Error().Err(err).Msg("work queue consumer stopped")
			cancel()
		}
	}()

	if application.Poller != nil {
		go application.Poller.Run(ctx)
	}

	go func() {
		if err := application.Server.Start(); err != nil {
			log.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	log.Info().Str("port", cfg.Port).Int("workers", cfg.Workers).Msg("classmate is running")
	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := application.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}
