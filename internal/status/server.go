// Package status exposes live counters of a running batch over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/batchquery/internal/batch"
)

// StatsSource reports the current counters. *batch.Coordinator satisfies it.
type StatsSource interface {
	Stats() batch.Summary
}

// RunInfo describes the run being served.
type RunInfo struct {
	RunID    string `json:"run_id"`
	Model    string `json:"model"`
	Flavor   string `json:"flavor"`
	Estimate bool   `json:"estimate"`
}

// Response is the body of GET /status.
type Response struct {
	RunInfo
	Stats     batch.Summary `json:"stats"`
	Remaining int           `json:"remaining"`
}

// NewRouter builds the HTTP routes.
func NewRouter(src StatsSource, info RunInfo) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		stats := src.Stats()
		writeJSON(w, http.StatusOK, Response{
			RunInfo:   info,
			Stats:     stats,
			Remaining: stats.Remaining(),
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("status: write response", zap.Error(err))
	}
}

// Server serves a handler until Shutdown.
type Server struct {
	srv  *http.Server
	addr string
	done chan error
}

// Listen binds addr and starts serving h in the background.
func Listen(addr string, h http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, eris.Wrapf(err, "status: listen %s", addr)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr: ln.Addr().String(),
		done: make(chan error, 1),
	}
	go func() {
		err := s.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("status server stopped", zap.Error(err))
			s.done <- err
		}
		close(s.done)
	}()

	zap.L().Info("status server listening", zap.String("addr", s.addr))
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return eris.Wrap(err, "status: shutdown")
	}
	if err, ok := <-s.done; ok && err != nil {
		return eris.Wrap(err, "status: serve")
	}
	return nil
}
