// Package server exposes the chat endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/comigor/chatproxy/internal/agent"
	"github.com/comigor/chatproxy/internal/config"
	"github.com/comigor/chatproxy/internal/logger"
	"github.com/comigor/chatproxy/internal/metrics"
	"github.com/comigor/chatproxy/internal/session"
)

// SessionHeader carries the session identifier in both directions.
const SessionHeader = "X-Session-Id"

// Processor runs one chat turn.
type Processor interface {
	Process(ctx context.Context, sessionID, message string) (agent.Turn, error)
}

// Purger deletes the durable history of a session.
type Purger interface {
	Delete(ctx context.Context, sessionID string) error
}

// Server wires the chat handlers to the session registry and the message log.
type Server struct {
	cfg           config.Config
	agent         Processor
	sessions      *session.Registry
	store         Purger
	recentPrompts int
	http          *http.Server
}

// New creates a server. The router is built immediately so Handler can be
// used without Start.
func New(cfg config.Config, a Processor, sessions *session.Registry, store Purger) *Server {
	recent := cfg.Session.RecentPrompts
	if recent <= 0 {
		recent = 5
	}
	s := &Server{
		cfg:           cfg,
		agent:         a,
		sessions:      sessions,
		store:         store,
		recentPrompts: recent,
	}
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger, corsMiddleware(s.cfg.Server.CORSOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	metrics.MustRegister()
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/chat", s.handleChat)
	r.Get("/load-all", s.handleLoadAll)
	r.Get("/recent-chats", s.handleRecentChats)
	r.Post("/clear", s.handleClear)

	r.Handle("/mcp", newMCPHandler(s))

	if dir := s.cfg.Web.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(dir)))
			logger.L.Info("serving static files", "dir", dir)
		}
	}

	return r
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	logger.L.Info("starting server", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
