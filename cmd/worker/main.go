package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mediarecon/internal/bootstrap"
	"mediarecon/internal/infra"
)

func main() {
	var once bool
	flag.BoolVar(&once, "once", false, "run a single storage sweep and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	cfg.ProcessMode = infra.ProcessModeWorker
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Build(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build services")
	}
	defer svc.Close()

	if once {
		res, err := svc.Migrator.TriggerSweep(ctx)
		event := logger.Info()
		if err != nil {
			event = logger.Error().Err(err)
		}
		event.
			Int("scanned", res.Scanned).
			Int("migrated", res.Migrated).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Bool("aborted", res.Aborted).
			Msg("worker: sweep finished")
		if err != nil {
			svc.Close()
			os.Exit(1)
		}
		return
	}

	svc.Migrator.Start(ctx)
	logger.Info().Dur("interval", cfg.SweepInterval).Msg("worker: started")

	<-ctx.Done()
	svc.Migrator.Stop()
	<-svc.Migrator.Done()
	logger.Info().Msg("worker: stopped")
}
