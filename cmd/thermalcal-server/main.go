package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"thermalcal/internal/config"
	"thermalcal/internal/logging"
	"thermalcal/internal/observability"
	"thermalcal/internal/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args, os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.NewFromEnv()

	tracingCfg, err := observability.TracingConfigFromEnv(os.Getenv)
	if err != nil {
		return err
	}
	tracing, err := observability.StartTracing(ctx, tracingCfg, nil, log)
	if err != nil {
		return fmt.Errorf("initialising tracing: %w", err)
	}
	defer tracing.Shutdown(context.Background())

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	table, err := cfg.CoefficientTable()
	if err != nil {
		return err
	}
	log.Info(ctx, "coefficient table loaded",
		logging.String("source", tableSource(cfg)),
		logging.Int("entries", table.Len()),
	)

	srv := server.New(server.OptionsFromConfig(cfg, table, log, metrics))
	return srv.ListenAndServe(ctx, cfg.Addr, cfg.ReadTimeout, cfg.WriteTimeout)
}

func tableSource(cfg config.Config) string {
	if cfg.TablePath == "" {
		return "built-in"
	}
	return cfg.TablePath
}
