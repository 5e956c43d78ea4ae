package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rx3lixir/rill/internal/presence"
	"github.com/rx3lixir/rill/internal/upload"
	"github.com/rx3lixir/rill/internal/ws"
)

// Server is the thin HTTP front: the websocket endpoint plus a couple
// of read-only ops routes. There is no CRUD surface here.
type Server struct {
	wsHandler   *ws.Handler
	tracker     *presence.Tracker
	reassembler *upload.Reassembler
	log         *log.Logger
	httpServer  *http.Server
}

func New(
	addr string,
	wsHandler *ws.Handler,
	tracker *presence.Tracker,
	reassembler *upload.Reassembler,
	logger *log.Logger,
) *Server {
	s := &Server{
		wsHandler:   wsHandler,
		tracker:     tracker,
		reassembler: reassembler,
		log:         logger,
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.log.Info("HTTP server started", "address", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
