// Package devserver is an in-memory claim service for local development and
// end-to-end tests. It serves the gateway procedures, pushes ownership
// changes over websocket (and optionally a broker), and exposes a few
// administrator endpoints that simulate what other agents and the message
// pipeline would do.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/gateway"
	"github.com/leapmux/claimsync/internal/logging"
	"github.com/leapmux/claimsync/internal/metrics"
)

// Config holds configuration for a dev server.
type Config struct {
	Addr string // TCP listen address

	// Compress sends pushes as zstd-compressed binary frames.
	Compress bool

	// Publisher, when set, also receives every push.
	Publisher Publisher
}

// Server is a dev server instance.
type Server struct {
	cfg        Config
	store      *Store
	hub        *Hub
	handler    http.Handler
	server     *http.Server
	shutdownCh chan struct{}
}

// New wires the store, the push hub and all HTTP endpoints. Call Serve to
// start listening, or mount Handler in a test server.
func New(cfg Config) *Server {
	shutdownCh := make(chan struct{})
	hub := NewHub(cfg.Compress, cfg.Publisher)
	store := NewStore(hub)

	mux := http.NewServeMux()

	path, h := gateway.NewHandler(store, store.ValidateToken, connect.WithInterceptors(
		gateway.NewShutdownInterceptor(shutdownCh),
		metrics.NewInterceptor(),
		gateway.NewTimeoutInterceptor(func() time.Duration { return gateway.DefaultTimeout }),
	))
	mux.Handle(path, h)
	mux.Handle("/events", hub.Handler(store.ValidateToken, shutdownCh))

	mux.HandleFunc("POST /admin/revoke", adminHandler(func(req adminRequest) error {
		return store.Revoke(req.Key, req.By)
	}))
	mux.HandleFunc("POST /admin/transfer", adminHandler(func(req adminRequest) error {
		return store.Transfer(req.Key, req.To, req.By)
	}))
	mux.HandleFunc("POST /admin/swap", adminHandler(func(req adminRequest) error {
		return store.Swap(req.Key, req.NewKey)
	}))
	mux.HandleFunc("POST /admin/message", adminHandler(func(req adminRequest) error {
		return store.Message(req.Key)
	}))

	mux.Handle("/metrics", promhttp.Handler())

	handler := h2c.NewHandler(logging.HTTPMiddleware(metrics.HTTPMiddleware(mux)), &http2.Server{
		MaxConcurrentStreams: 1000,
	})

	return &Server{
		cfg:        cfg,
		store:      store,
		hub:        hub,
		handler:    handler,
		shutdownCh: shutdownCh,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Store returns the server of record, for seeding agents and conversations.
func (s *Server) Store() *Store { return s.store }

// Hub returns the push hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("dev server shutting down...")

		close(s.shutdownCh)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)

		close(shutdownDone)
	}()

	slog.Info("dev server listening", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	<-shutdownDone
	return nil
}

// adminRequest is the JSON body of every admin endpoint; each endpoint
// reads the fields it needs.
type adminRequest struct {
	Key    claims.Key `json:"key"`
	NewKey claims.Key `json:"new_key,omitempty"`
	To     string     `json:"to,omitempty"`
	By     string     `json:"by,omitempty"`
}

func adminHandler(fn func(adminRequest) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req adminRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.By == "" {
			req.By = "admin"
		}
		if err := fn(req); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, claims.ErrNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
