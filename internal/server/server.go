// Package server is the huddle store server: a websocket front for a
// store.Store that pushes changes to watching clients, plus a small HTTP API
// for rooms.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/store"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg      *config.Config
	store    store.Store
	hub      *Hub
	janitor  *Janitor
	metrics  *Metrics
	registry *prometheus.Registry
	engine   *gin.Engine
	log      *slog.Logger
	done     chan struct{}
}

func New(cfg *config.Config, s store.Store, logger *slog.Logger) *Server {
	logger = logging.Component(logger, "server")
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := NewMetrics(reg)

	srv := &Server{
		cfg:      cfg,
		store:    s,
		hub:      NewHub(s, m, logger),
		janitor:  NewJanitor(s, cfg.AbandonAfter, m, logger),
		metrics:  m,
		registry: reg,
		log:      logger,
		done:     make(chan struct{}),
	}
	srv.engine = srv.routes()
	return srv
}

func (s *Server) Handler() http.Handler { return s.engine }

// Start runs the hub and the janitor until ctx ends. It returns a channel
// that yields the hub's exit error.
func (s *Server) Start(ctx context.Context) (<-chan error, error) {
	if err := s.janitor.Start(ctx, JanitorSchedule); err != nil {
		return nil, err
	}
	errc := make(chan error, 1)
	go func() {
		err := s.hub.Run(ctx)
		close(s.done)
		s.janitor.Stop()
		errc <- err
	}()
	return errc, nil
}

// ListenAndServe serves HTTP on the configured address until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hubErr, err := s.Start(ctx)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("starting huddle server", "addr", s.cfg.ListenAddr, "store", s.cfg.StoreBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case err := <-hubErr:
			if err != nil {
				return err
			}
		case <-gctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
