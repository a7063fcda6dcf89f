package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/buenedata/plugin-update-server/internal/auth"
	"github.com/buenedata/plugin-update-server/internal/config"
	"github.com/buenedata/plugin-update-server/internal/publisher"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const (
	LogFieldRequestID   = "requestId"
	LogFieldHTTPRequest = "httpRequest"

	NonceHeader = "X-WP-Nonce"
)

// PackageMirror serves plugin packages from a bucket instead of GitHub.
type PackageMirror interface {
	Ensure(ctx context.Context, p *config.Plugin, version, sourceURL string) (string, error)
}

type Server struct {
	router         chi.Router
	log            *logrus.Logger
	publisher      *publisher.Publisher
	mirror         PackageMirror
	config         *config.ServerConfig
	checkSemaphore *semaphore.Weighted
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"service": "plugin update server",
		"stage":   s.config.Stage,
		"version": s.config.Version,
	})
}

// New wires the HTTP API. pkgMirror may be nil, in which case package requests are
// redirected to GitHub.
func New(log *logrus.Logger, pub *publisher.Publisher, pkgMirror PackageMirror, serverCfg *config.ServerConfig) *Server {
	router := chi.NewRouter()
	maxChecks := serverCfg.MaxManualChecks
	if maxChecks < 1 {
		maxChecks = 1
	}
	server := &Server{
		router:         router,
		log:            log,
		publisher:      pub,
		mirror:         pkgMirror,
		config:         serverCfg,
		checkSemaphore: semaphore.NewWeighted(maxChecks),
	}
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(server.logMiddleware)
	router.Use(server.recoverMiddleware)

	router.Use(middleware.Timeout(5 * time.Minute))

	router.NotFound(server.notFoundHandler)
	router.MethodNotAllowed(server.methodNotAllowedHandler)

	router.Get("/", server.indexHandler)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/plugins", server.listPlugins)
		r.Route("/plugins/{plugin}", func(r chi.Router) {
			r.Get("/update-check", server.updateCheck)
			r.Get("/info", server.pluginInfo)
			r.With(server.nonceMiddleware(auth.ActionCheckUpdates, auth.CapManageOptions)).Post("/check", server.checkNow)
			r.Get("/packages/{version}", server.downloadPackage)
			r.With(server.authMiddleware).Delete("/cache", server.invalidatePlugin)
		})

		r.Get("/updates", server.getUpdates)

		// admin routes
		r.With(server.authMiddleware).Group(func(r chi.Router) {
			r.Put("/updates", server.refreshUpdates)
			r.Post("/nonces", server.issueNonce)
		})
	})

	return server
}
