package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/torosent/crankqueue/internal/client"
	"github.com/torosent/crankqueue/internal/config"
	"github.com/torosent/crankqueue/internal/logging"
	"github.com/torosent/crankqueue/internal/threshold"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := config.NewLoader().LoadClient(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	thresholds, err := threshold.ParseAll(cfg.Thresholds)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Verbose)
	if err != nil {
		return err
	}
	defer logging.Sync(log)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if cfg.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.Duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	api := client.New(cfg.URI, cfg.Timeout)
	runner := &client.Runner{
		API:    api,
		Config: *cfg,
		Out:    stdout,
		Log:    log,
	}

	var dash *client.Dashboard
	if cfg.Dashboard {
		dash, err = client.NewDashboard(client.DashboardConfig{
			URI:         cfg.URI,
			Count:       cfg.Count,
			Every:       cfg.Every,
			Max:         cfg.Max,
			Produce:     cfg.Produce,
			StatusEvery: cfg.StatusEvery,
		}, cancel)
		if err != nil {
			return err
		}
		dash.Start()
		// Log lines would tear the terminal UI.
		runner.Log = zap.NewNop().Sugar()
		runner.Out = io.Discard
		runner.Status = dash
	}

	err = runner.Run(runCtx)
	if dash != nil {
		dash.Stop()
	}
	if err != nil {
		return err
	}

	// The run context is finished by now; the final check gets its own.
	checkCtx := context.Background()
	if cfg.Timeout > 0 {
		var checkCancel context.CancelFunc
		checkCtx, checkCancel = context.WithTimeout(checkCtx, cfg.Timeout)
		defer checkCancel()
	}
	return client.CheckThresholds(checkCtx, api, thresholds, stdout)
}
