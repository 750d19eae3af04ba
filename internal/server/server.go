// Package server exposes the dispatch engine over HTTP: enqueueing synthetic
// batches, reading status and serving Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/torosent/crankqueue/internal/dispatch"
	"github.com/torosent/crankqueue/internal/errlog"
	"github.com/torosent/crankqueue/internal/metrics"
	"github.com/torosent/crankqueue/internal/payload"
)

const (
	// lastErrors is how many recent errors /status reports.
	lastErrors = 10
	// maxBatch caps a single enqueue request. Payloads are generated in the
	// handler at roughly 1.7 KB each, so one full batch holds about 170 MB.
	maxBatch = 100_000
)

// Options configure a Server.
type Options struct {
	Addr      string
	Engine    *dispatch.Engine
	Generator *payload.Generator
	Collector *metrics.Collector  // optional per-sink statistics
	Gatherer  prometheus.Gatherer // optional; /metrics is not routed when nil
	Logger    *zap.SugaredLogger
	Now       func() time.Time
}

// Server is the HTTP control surface.
type Server struct {
	engine    *dispatch.Engine
	generator *payload.Generator
	collector *metrics.Collector
	log       *zap.SugaredLogger
	now       func() time.Time
	started   time.Time

	// cursor tracks which errors POST /messages has already returned. It is
	// shared by every caller.
	cursor *errlog.Cursor

	router     *httprouter.Router
	httpServer *http.Server
}

func New(opt Options) (*Server, error) {
	if opt.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if opt.Generator == nil {
		opt.Generator = payload.New(0)
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop().Sugar()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}

	s := &Server{
		engine:    opt.Engine,
		generator: opt.Generator,
		collector: opt.Collector,
		log:       opt.Logger,
		now:       opt.Now,
		started:   opt.Now(),
		cursor:    opt.Engine.Errors().NewCursor(),
	}
	s.router = s.routes(opt.Gatherer)
	s.httpServer = &http.Server{
		Addr:              opt.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(gatherer prometheus.Gatherer) *httprouter.Router {
	r := httprouter.New()
	r.POST("/messages", s.handleMessages)
	r.GET("/status", s.handleStatus)
	r.GET("/", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		http.Redirect(w, req, "/status", http.StatusFound)
	})
	r.GET("/health", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck // best-effort health response
	})
	if gatherer != nil {
		r.Handler(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}
	r.PanicHandler = func(w http.ResponseWriter, req *http.Request, v interface{}) {
		s.log.Errorw("handler panic", "path", req.URL.Path, "panic", v)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
	return r
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving. This is non-blocking; the returned channel receives
// an error if the listener fails and is closed when serving stops.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting requests and waits for active ones to finish or
// for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
