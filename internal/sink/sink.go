// Package sink builds the delivery targets the dispatch engine sends to.
//
// Each configured kind is constructed once at startup. Construction performs
// the kind's setup step (topic creation, table creation, endpoint probe or
// test dial); any failure there is a *SetupError and the process must not
// start dispatching.
package sink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/torosent/crankqueue/internal/config"
	"github.com/torosent/crankqueue/internal/dispatch"
)

// Sink is a dispatch target that owns resources released by Close.
type Sink interface {
	dispatch.Sink
	Close() error
}

// Factory constructs one sink kind from the full configuration.
type Factory func(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (Sink, error)

// SetupError reports a sink that could not be initialized.
type SetupError struct {
	Sink string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %s sink: %v", e.Sink, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Set is the group of sinks built for one process.
type Set struct {
	sinks []Sink
	log   *zap.SugaredLogger
}

// Sinks returns the built sinks in configuration order.
func (s *Set) Sinks() []dispatch.Sink {
	out := make([]dispatch.Sink, len(s.sinks))
	for i, sk := range s.sinks {
		out[i] = sk
	}
	return out
}

// Close closes every sink in reverse construction order.
func (s *Set) Close() error {
	var errs []error
	for i := len(s.sinks) - 1; i >= 0; i-- {
		if err := s.sinks[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.sinks[i].Name(), err))
		}
	}
	s.sinks = nil
	return errors.Join(errs...)
}

// Build constructs every sink named by cfg using factories. When one fails the
// sinks built so far are closed and a *SetupError is returned.
func Build(ctx context.Context, cfg *config.Config, factories map[config.SinkKind]Factory, log *zap.SugaredLogger) (*Set, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	set := &Set{log: log}
	for _, kind := range cfg.SinkKinds() {
		factory, ok := factories[kind]
		if !ok {
			_ = set.Close()
			return nil, &SetupError{Sink: string(kind), Err: errors.New("unsupported sink kind")}
		}
		log.Infow("setting up sink", "sink", kind)
		sk, err := factory(ctx, cfg, log.With("sink", string(kind)))
		if err != nil {
			if closeErr := set.Close(); closeErr != nil {
				log.Warnw("failed to close sinks after setup failure", "error", closeErr)
			}
			return nil, &SetupError{Sink: string(kind), Err: err}
		}
		set.sinks = append(set.sinks, sk)
	}
	if len(set.sinks) == 0 {
		return nil, &SetupError{Sink: "none", Err: dispatch.ErrNoSinks}
	}
	return set, nil
}
