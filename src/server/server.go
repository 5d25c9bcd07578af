package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/collab/config"
	"github.com/orchestra-mcp/collab/src/hub"
	"github.com/orchestra-mcp/collab/src/metrics"
	"github.com/orchestra-mcp/collab/src/permissions"
	"github.com/orchestra-mcp/collab/src/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const shutdownTimeout = 10 * time.Second

// Server owns the hub, its admin surface and the listener.
type Server struct {
	cfg      *config.CollabConfig
	hub      *hub.Hub
	service  *service.Service
	store    *permissions.RedisStore
	app      *fiber.App
	srv      *fasthttp.Server
	upgrader websocket.FastHTTPUpgrader
	metrics  fasthttp.RequestHandler
	logger   zerolog.Logger
}

// New wires a server from configuration. Metrics are registered on reg
// and exposed at /metrics.
func New(cfg *config.CollabConfig, reg *prometheus.Registry, logger zerolog.Logger) *Server {
	h := hub.New(logger, hub.Settings{
		SendBuffer:   cfg.SendBufferSize,
		PingInterval: cfg.PingPeriod(),
		AuthTimeout:  cfg.AuthDeadline(),
	})
	h.SetRecorder(metrics.New(reg))

	s := &Server{
		cfg:     cfg,
		hub:     h,
		service: service.New(h, logger),
		app:     fiber.New(fiber.Config{AppName: "collabd"}),
		metrics: fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		logger:  logger.With().Str("component", "server").Logger(),
	}
	s.upgrader = websocket.FastHTTPUpgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	s.registerRoutes()
	s.srv = &fasthttp.Server{
		Handler: s.Handler(),
		Name:    "collabd",
	}
	return s
}

// Service exposes the read-only collaboration API.
func (s *Server) Service() *service.Service { return s.service }

// Handler routes /ws and /metrics directly and everything else to fiber.
func (s *Server) Handler() fasthttp.RequestHandler {
	appHandler := s.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/ws":
			s.handleUpgrade(ctx)
		case "/metrics":
			s.metrics(ctx)
		default:
			appHandler(ctx)
		}
	}
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve activates the hub and serves ln until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.activate(ctx); err != nil {
		ln.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("collaboration server listening")

	select {
	case err := <-errCh:
		s.deactivate()
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("collaboration server shutting down")
	s.deactivate()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// activate connects the permission store when join authorization is
// enabled and starts the hub event loop. An unreachable store is fatal
// because joins would otherwise all be denied.
func (s *Server) activate(ctx context.Context) error {
	if s.cfg.AuthorizeJoins {
		store := permissions.NewRedisStore(s.cfg.Redis, s.logger)
		if err := store.Start(ctx); err != nil {
			store.Close()
			return err
		}
		s.store = store
		s.hub.SetAuthorizer(store)
		s.logger.Info().Str("redis_addr", s.cfg.Redis.Addr).Msg("join authorization enabled")
	}
	go s.hub.Run()
	return nil
}

// deactivate stops the hub, which closes every client, and releases the store.
func (s *Server) deactivate() {
	s.hub.Stop()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error().Err(err).Msg("permission store close error")
		}
		s.store = nil
	}
}
