// Package server exposes desired state and the current plan over a read-only
// HTTP API. Plans are computed per request and never executed.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/tagstate/internal/auth"
	"github.com/danmuck/tagstate/internal/buildlog"
	"github.com/danmuck/tagstate/internal/observability"
	"github.com/danmuck/tagstate/internal/reconcile"
	"github.com/danmuck/tagstate/internal/registry"
)

// LoadFunc returns the current build log records.
type LoadFunc func() ([]buildlog.Record, error)

type Options struct {
	Addr        string
	Version     string
	CorsOrigins []string
	// Validator guards /v1/*. Nil leaves the API open.
	Validator auth.Validator
	// BuildLog is the path Load reads; it is attached to every request log.
	BuildLog   string
	Load       LoadFunc
	Reconciler *reconcile.Reconciler
}

type Server struct {
	Addr     string
	Version  string
	Appeared time.Time

	load       LoadFunc
	reconciler *reconcile.Reconciler
	validator  auth.Validator
	router     *gin.Engine
}

func New(opts Options) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	api := observability.APIContext{BuildLog: opts.BuildLog, Registry: "none"}
	if opts.Reconciler != nil && opts.Reconciler.Registry != nil {
		api.Registry = registry.Describe(opts.Reconciler.Registry)
	}
	r.Use(observability.RequestLogger(log.Logger, api))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:       opts.Addr,
		Version:    opts.Version,
		Appeared:   time.Now(),
		load:       opts.Load,
		reconciler: opts.Reconciler,
		validator:  opts.Validator,
		router:     r,
	}
	if s.Version == "" {
		s.Version = "dev"
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Msg("server_listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("server_shutdown")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
