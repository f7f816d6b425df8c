package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/claimboard/claimboard/internal/board"
	"github.com/claimboard/claimboard/internal/claim"
	"github.com/claimboard/claimboard/internal/config"
	"github.com/claimboard/claimboard/internal/eventbus"
	"github.com/claimboard/claimboard/internal/task"
	"github.com/claimboard/claimboard/pkg/cerr"
	"github.com/claimboard/claimboard/pkg/clog"
)

type Server struct {
	server      *http.Server
	env         *config.Env
	tasks       task.Repository
	boards      board.Repository
	coordinator *claim.Coordinator
	validator   *claim.Validator
	bus         *eventbus.Bus
}

func NewServer(
	env *config.Env,
	tasks task.Repository,
	boards board.Repository,
	coordinator *claim.Coordinator,
	validator *claim.Validator,
	bus *eventbus.Bus,
) *Server {
	return &Server{
		env:         env,
		tasks:       tasks,
		boards:      boards,
		coordinator: coordinator,
		validator:   validator,
		bus:         bus,
	}
}

// ListenAndServe starts the HTTP server. The provided context is the base
// context for all incoming requests, so cancelling it (on shutdown signal)
// also unwinds open event streams.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.handler(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

func (s *Server) handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		// The event stream writes incrementally and cannot go through the
		// buffered JSON response middleware.
		r.With(clog.SlogChiMiddleware()).Get("/events", s.subscribeEvents)

		r.Group(func(r chi.Router) {
			r.Use(
				clog.SlogChiMiddleware(),
				cerr.NewJSONResponseChiMiddleware(),
			)
			r.NotFound(func(w http.ResponseWriter, r *http.Request) {
				cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
			})

			r.Get("/tasks", s.listTasks)
			r.Post("/tasks", s.createTask)
			r.Get("/tasks/next", s.nextTask)
			r.Get("/tasks/{id}", s.getTask)
			r.Post("/tasks/{id}/unclaim", s.unclaimTask)
			r.Post("/tasks/{id}/complete", s.completeTask)
			r.Post("/tasks/{id}/move", s.moveTask)
			r.Get("/tasks/{id}/validate", s.validateTask)
			r.Post("/claims", s.claimTask)
			r.Get("/boards/{id}", s.getBoard)
		})
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)

	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.apiKeyMiddleware(mux))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip API key check for the health endpoint.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.Header.Get("Authorization")
			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}
		}
		if apiKey != s.env.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
