package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeusync/ballphys/internal/config"
	"github.com/zeusync/ballphys/internal/core/observability/diag"
	"github.com/zeusync/ballphys/internal/core/observability/log"
	"github.com/zeusync/ballphys/internal/injector"
)

func main() {
	configPath := flag.String("config", "", "YAML or JSON config file; defaults are used when empty")
	listen := flag.String("listen", "", "serve the frame stream on this address, overriding the config")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error loading config:", err)
			os.Exit(2)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Stream.Enabled = true
		cfg.Stream.Address = *listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "Error running simulation:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	app, cleanup, err := injector.InitializeApp(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if app.Stream != nil {
		if err := app.Stream.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := app.Stream.Stop(shutdownCtx); err != nil {
				app.Logger.Warn("frame stream shutdown", log.Error(err))
			}
		}()
	}

	frame := cfg.FrameDuration()
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	app.Logger.Info("simulation started",
		log.String("offload", string(cfg.Offload.Mode)),
		log.Bool("physics", cfg.Physics.Enabled),
		log.Int("balls", cfg.Loop.Balls),
		log.Duration("frame", frame))

	err = app.Sim.Run(ctx, ticker.C, frame.Seconds(), int(cfg.Loop.Frames))

	app.Logger.Info("simulation stopped",
		log.Uint64("frames", app.Sim.Frames()),
		log.Int("bricks_left", len(app.Sim.Bricks())),
		log.Uint64("runtime_disabled", app.Diag.Count(diag.KindRuntimeDisabled)),
		log.Uint64("probe_failures", app.Diag.Count(diag.KindProbe)))

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
