package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mediarecon/internal/bootstrap"
	"mediarecon/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Build(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}
	defer svc.Close()

	if cfg.RunsSweep() {
		svc.Migrator.Start(ctx)
		logger.Info().Dur("interval", cfg.SweepInterval).Msg("storage sweep started")
	}

	var server *infra.HTTPServer
	if cfg.ServesAPI() {
		server = infra.NewHTTPServer(cfg, svc.Router())
		go func() {
			logger.Info().Msgf("API listening on %s", server.Addr())
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("http server failed")
				stop()
			}
		}()
	}

	<-ctx.Done()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown server")
		}
	}
	svc.Migrator.Stop()
	<-svc.Migrator.Done()
	logger.Info().Msg("server stopped")
}
