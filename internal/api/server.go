// Package api exposes the agent controller over HTTP: state, run control,
// calibration, model checks, a websocket event stream and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/agent"
	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/config"
	"github.com/xkilldash9x/resolve-agent/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// Agent is the part of *agent.Controller the API drives.
type Agent interface {
	Snapshot() agent.Status
	Start(ctx context.Context, opts agent.RunOptions) (*agent.Task, error)
	Stop()
	Pause() error
	Resume() error
	Rollback(ctx context.Context) error
	TestConnection(ctx context.Context) (string, error)
	ListModels(ctx context.Context) ([]string, error)
	Profile() *calibration.Profile
	Calibrate(fn func() (*calibration.Profile, error)) error
	Bus() *agent.EventBus
}

var _ Agent = (*agent.Controller)(nil)

// Server is the control API.
type Server struct {
	logger          *zap.Logger
	agent           Agent
	metrics         *metrics.Collector
	cfg             config.ServerConfig
	calibrationPath string
	router          chi.Router

	// streams is cancelled on shutdown; hijacked websocket connections are
	// not tracked by http.Server.
	streams      context.Context
	closeStreams context.CancelFunc
	wg           sync.WaitGroup
}

// NewServer builds the router. collector may be nil, in which case requests
// are not recorded and /metrics is not mounted.
func NewServer(logger *zap.Logger, ag Agent, collector *metrics.Collector, cfg config.ServerConfig, calibrationPath string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	streams, closeStreams := context.WithCancel(context.Background())
	s := &Server{
		logger:          logger.Named("api"),
		agent:           ag,
		metrics:         collector,
		cfg:             cfg,
		calibrationPath: calibrationPath,
		streams:         streams,
		closeStreams:    closeStreams,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))
	r.Use(cors(s.cfg.AllowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/run", s.handleRun)
		r.Post("/stop", s.handleStop)
		r.Post("/pause", s.handlePause)
		r.Post("/resume", s.handleResume)
		r.Post("/rollback", s.handleRollback)
		r.Get("/models", s.handleModels)
		r.Post("/ping", s.handlePing)

		r.Route("/calibration", func(r chi.Router) {
			r.Get("/", s.handleCalibration)
			r.Put("/roi", s.handleSetROI)
			r.Post("/reload", s.handleReloadCalibration)
		})

		r.Get("/events", s.handleEvents)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}
	srv.RegisterOnShutdown(s.closeStreams)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control API listening.", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.closeStreams()
		s.wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down control API.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-errCh
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}
