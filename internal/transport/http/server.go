// Package http provides the HTTP transport layer for pollq.
//
// All operations take their inputs as URL query variables and respond with
// the standard envelope:
//
//	GET /createQueue?queue_name=a
//	GET /writeMessage?queue_name=a&message_value=hello
//	GET /pollQueue?queue_name=a
//	GET /deleteMessage?message_id=01...
//	GET /purgeQueue
//	GET /health
//	GET /metrics
//	GET /events/ws?queue=a
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/pratyushm/pollq/internal/config"
	"github.com/pratyushm/pollq/internal/engine"
	"github.com/pratyushm/pollq/internal/event"
	"github.com/pratyushm/pollq/internal/metrics"
	transportws "github.com/pratyushm/pollq/internal/transport/websocket"
)

// Server wraps the stdlib HTTP server with pollq route wiring.
type Server struct {
	inner *http.Server
}

// New builds a Server from an Engine. reg and hub may be nil (metrics and the
// event stream are then left unmounted).
// The caller is responsible for calling ListenAndServe / Shutdown.
func New(eng *engine.Engine, cfg *config.Config, reg *metrics.Registry, hub *event.Hub) *Server {
	h := &Handler{engine: eng}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)

	mux.HandleFunc("GET /createQueue", h.createQueue)
	mux.HandleFunc("GET /writeMessage", h.writeMessage)
	mux.HandleFunc("GET /pollQueue", h.pollQueue)
	mux.HandleFunc("GET /deleteMessage", h.deleteMessage)
	mux.HandleFunc("GET /purgeQueue", h.purgeQueue)

	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}
	if hub != nil {
		mux.Handle("GET /events/ws", &transportws.Handler{Hub: hub})
	}

	var handler http.Handler = mux
	handler = chain(handler,
		CORSMiddleware,
		MaxBodyMiddleware,
		LoggingMiddleware,
		MetricsMiddleware(reg, mux),
		AuthMiddleware(cfg.Auth.APIKey, cfg.Auth.Enabled),
		RateLimitMiddleware(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	)

	return &Server{
		inner: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. ":8080").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
