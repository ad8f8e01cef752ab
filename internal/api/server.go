// Package api is the thin HTTP/WS boundary glue described in spec §6: it
// authenticates, routes, and translates requests into calls against the
// cache, fleet and workflow record, never holding any of their locks
// itself.
package api

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"forge-router/internal/cache"
	"forge-router/internal/fleet"
	"forge-router/internal/workflow"
)

// Server is the HTTP boundary: chi router plus references to the
// coordination engine's components.
type Server struct {
	record     *workflow.Record
	fleet      *fleet.Fleet
	cache      *cache.Cache
	dispatcher *workflow.Dispatcher
	audit      *Auditor
	logger     *slog.Logger
	username   string
	password   string

	router *chi.Mux
}

// New builds a Server and wires its routes.
func New(record *workflow.Record, f *fleet.Fleet, c *cache.Cache, dispatcher *workflow.Dispatcher, username, password string, logger *slog.Logger) *Server {
	s := &Server{
		record:     record,
		fleet:      f,
		cache:      c,
		dispatcher: dispatcher,
		audit:      NewAuditor(logger),
		logger:     logger,
		username:   username,
		password:   password,
		router:     chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(trailingSlashNormalizer)

	s.router.Get("/health_check", s.handleHealthCheck)

	s.router.Group(func(r chi.Router) {
		r.Use(s.basicAuth)
		r.Post("/cluster/nodes", s.handleAddNode)
		r.Post("/cluster/nodes/delete", s.handleRemoveNode)
		r.Get("/cluster/nodes", s.handleListNodes)
		r.Post("/download", s.handleCreateDownload)
		r.Get("/download/{file_id}", s.handleGetDownload)
		r.Post("/workflow", s.handleCreateWorkflow)
		r.Get("/workflow/{id}", s.handleGetWorkflow)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(previewCORS)
		r.Get("/preview/{id}", s.handleGetPreview)
	})
}

// trailingSlashNormalizer strips one trailing slash from every path
// except the root, so "/cluster/nodes/" and "/cluster/nodes" route
// identically.
func trailingSlashNormalizer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) > 1 && strings.HasSuffix(r.URL.Path, "/") {
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
		}
		next.ServeHTTP(w, r)
	})
}

// previewCORS allows any origin on the unauthenticated preview route; the
// authenticated admin routes get no CORS layer at all.
func previewCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// basicAuth enforces HTTP Basic credentials from configuration on every
// admin route.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		action := r.Method + " " + r.URL.Path

		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) != 1 {
			s.audit.Log(sourceIP, r.UserAgent(), action, http.StatusUnauthorized, "invalid credentials")
			w.Header().Set("WWW-Authenticate", `Basic realm="router"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		s.audit.Log(sourceIP, r.UserAgent(), action, http.StatusOK, "authorized")
		next.ServeHTTP(w, r)
	})
}
