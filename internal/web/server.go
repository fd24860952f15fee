package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pagewatch/internal/config"
	"pagewatch/internal/database"
)

type Server struct {
	config  *config.Config
	handler *Handler
	server  *http.Server
	log     *zap.Logger
}

func NewServer(cfg *config.Config, repo *database.Repository, status StatusFunc, ingest *Ingest, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	handler := NewHandler(cfg, repo, status, ingest)
	mux := http.NewServeMux()
	handler.SetupRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		config:  cfg,
		handler: handler,
		server:  httpServer,
		log:     log,
	}
}

func (s *Server) Start() error {
	s.log.Info("starting web server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")
	return s.server.Shutdown(ctx)
}

func (s *Server) GetAddress() string {
	return s.server.Addr
}
