package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/crankqueue/internal/config"
	"github.com/torosent/crankqueue/internal/dispatch"
	"github.com/torosent/crankqueue/internal/logging"
	"github.com/torosent/crankqueue/internal/metrics"
	"github.com/torosent/crankqueue/internal/payload"
	"github.com/torosent/crankqueue/internal/server"
	"github.com/torosent/crankqueue/internal/sink"
	"github.com/torosent/crankqueue/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

// sinkFactories is replaced in tests.
var sinkFactories = sink.DefaultFactories

// newLogger is replaced in tests.
var newLogger = logging.New

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// engineRef lets the Prometheus gauges be registered before the engine that
// feeds them exists.
type engineRef struct {
	engine atomic.Pointer[dispatch.Engine]
}

func (r *engineRef) Snapshot() dispatch.Snapshot {
	if e := r.engine.Load(); e != nil {
		return e.Snapshot()
	}
	return dispatch.Snapshot{}
}

// run loads configuration, sets up every sink and serves the control API
// until ctx ends. ready, when non-nil, receives the server once it is
// listening.
func run(ctx context.Context, args []string, stdout io.Writer, ready chan<- *server.Server) error {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.PrintConfig {
		return config.WriteYAML(stdout, cfg)
	}

	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer logging.Sync(log)

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warnw("tracing shutdown error", "error", err)
		}
	}()

	// A sink that cannot be set up stops the process before the engine or the
	// listener start.
	sinks, err := sink.Build(ctx, cfg, sinkFactories(), log)
	if err != nil {
		log.Errorw("sink setup failed", "error", err)
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Warnw("sink close error", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ref := &engineRef{}
	prom, err := metrics.NewPrometheus(reg, ref)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	collector := metrics.NewCollector()

	targets := sinks.Sinks()
	if provider.Enabled() {
		for i, s := range targets {
			targets[i] = dispatch.WithTracing(s, provider.Tracer())
		}
	}

	engine, err := dispatch.New(dispatch.Options{
		Concurrency:   cfg.Concurrency,
		RatePerSecond: cfg.Rate,
		SendTimeout:   cfg.SendTimeout,
		Sinks:         targets,
		Observers:     []dispatch.Observer{collector, prom},
		Logger:        log.With("component", "dispatch"),
	})
	if err != nil {
		return err
	}
	ref.engine.Store(engine)

	srv, err := server.New(server.Options{
		Addr:      cfg.Addr(),
		Engine:    engine,
		Generator: payload.New(0),
		Collector: collector,
		Gatherer:  reg,
		Logger:    log.With("component", "server"),
	})
	if err != nil {
		return err
	}

	return serve(ctx, log, engine, srv, ready)
}

func serve(ctx context.Context, log *zap.SugaredLogger, engine *dispatch.Engine, srv *server.Server, ready chan<- *server.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	serverErrCh := srv.Start()
	if ready != nil {
		ready <- srv
	}

	g.Go(func() error {
		return engine.Run(gctx)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-serverErrCh:
			if err != nil {
				return err
			}
			return nil
		}
	})

	err := g.Wait()

	log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warnw("http server shutdown error", "error", shutdownErr)
	}
	log.Infow("shutdown complete", "abandoned_inflight", engine.Snapshot().Inflight)
	return err
}
