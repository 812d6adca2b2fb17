// Package server hosts the RPC ingress (C4) behind the ambient HTTP
// middleware chain (panic recovery, request logging, CORS, security
// headers).
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kgbnotify/kgb/internal/logger"
	"github.com/kgbnotify/kgb/internal/middleware"
)

// Server wraps the RPC handler with the ambient middleware chain.
type Server struct {
	httpServer *http.Server
	middleware *middleware.Middleware
	log        *logger.Logger
}

// New builds a Server that will serve rpcHandler at "/" once Start is called.
func New(addr string, rpcHandler http.Handler, log *logger.Logger) *Server {
	mw := middleware.New(log)

	mux := http.NewServeMux()
	mux.Handle("/", rpcHandler)

	chain := mw.Recovery(mux)
	chain = mw.Logging(chain)
	chain = mw.Security(chain)
	chain = mw.CORS(chain)
	chain = mw.ContentType(chain)

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: chain},
		middleware: mw,
		log:        log,
	}
}

// Start begins serving in the background; it does not block.
func (s *Server) Start() {
	s.log.Infof("RPC ingress listening on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server error", err)
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	s.log.Info("HTTP server shutdown complete")
	return nil
}
