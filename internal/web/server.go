package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/gamelaunch/gamelaunch/internal/config"
)

type Server struct {
	handler     *Handler
	broadcaster *Broadcaster
	server      *http.Server
	logger      *slog.Logger
	unsubscribe func()
}

// NewServer serves the host API on cfg.Web. Session events from host are
// pushed to WebSocket clients for as long as the server runs.
func NewServer(cfg *config.Config, host Host, reports ReportGenerator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	broadcaster := NewBroadcaster(logger)
	handler := NewHandler(host, reports, broadcaster, logger)
	mux := http.NewServeMux()
	handler.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// Script execution holds the request open until the script exits.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		handler:     handler,
		broadcaster: broadcaster,
		server:      httpServer,
		logger:      logger.With("component", "web"),
		unsubscribe: host.Subscribe(broadcaster.SessionEnded),
	}
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.server.Addr)
	}
	return s.Serve(ln)
}

// Serve serves on ln. It returns nil after a clean Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("web server listening", "addr", "http://"+ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve http")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	s.unsubscribe()
	s.broadcaster.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) GetAddress() string {
	return s.server.Addr
}
