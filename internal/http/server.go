package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Server is the admin API HTTP server.
type Server struct {
	srv *http.Server
}

// NewServer assembles the mux, middleware and http.Server.
func NewServer(addr string, tasks *TasksHandler, rateLimitRPM int) *Server {
	mux := http.NewServeMux()
	tasks.Register(mux)
	mux.HandleFunc("GET /health", handleHealth)

	var handler http.Handler = mux
	handler = logRequests(handler)
	if rateLimitRPM > 0 {
		handler = NewRateLimiter(rateLimitRPM, rateLimitRPM/6+1).Middleware(handler)
	}

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	slog.Info("admin api listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
