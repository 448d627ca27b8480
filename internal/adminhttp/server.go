// Package adminhttp is the bridge's thin operational surface: liveness,
// status, and a manual force-relogin trigger. It carries no user-facing
// authentication; it is meant to be bound to localhost or an internal
// network only.
package adminhttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// linkStatus is the slice of BrokerLink the status endpoint reports on.
type linkStatus interface {
	VendorConnected() bool
	LocalConnected() bool
}

// reloginer is the slice of AuthEngine the force-relogin endpoint needs.
type reloginer interface {
	Login(ctx context.Context) error
}

// StatusProvider supplies everything /statusz reports, decoupled from
// AuthEngine's exact installation type so this package doesn't need to
// import internal/vendorapi.
type StatusProvider interface {
	Email() string
	InstallationCount() int
}

// Server is the admin HTTP surface.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// New builds the router. relogin triggers AuthEngine.Login; it is
// intentionally the only mutating endpoint this surface exposes.
func New(addr string, link linkStatus, status StatusProvider, relogin reloginer, log *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(panicRecovery(log))
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/statusz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"email":            status.Email(),
			"installations":    status.InstallationCount(),
			"vendor_connected": link.VendorConnected(),
			"local_connected":  link.LocalConnected(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})

	r.Post("/debug/force-relogin", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
		defer cancel()
		if err := relogin.Login(ctx); err != nil {
			log.Error("adminhttp: forced relogin failed", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("relogin ok"))
	})

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: r},
		log:        log,
	}
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// panicRecovery converts a handler panic into a logged 500 so one bad
// request never takes the admin surface down.
func panicRecovery(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("adminhttp: panic recovered",
						"error", err,
						"path", r.URL.Path,
						"method", r.Method,
						"stack", string(debug.Stack()),
					)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs every completed request with its status and
// duration, at a level matching the status class.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= 500 {
				level = slog.LevelError
			} else if ww.Status() >= 400 {
				level = slog.LevelWarn
			}
			log.Log(r.Context(), level, "http_request_completed",
				"status", ww.Status(),
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start),
				"req_id", reqID,
			)
		})
	}
}
