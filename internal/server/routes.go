package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/tagstate/internal/auth"
	"github.com/danmuck/tagstate/internal/buildlog"
	"github.com/danmuck/tagstate/internal/observability"
	"github.com/danmuck/tagstate/internal/reconcile"
	"github.com/danmuck/tagstate/internal/registry"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": "tagstate",
			"version": s.Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		_, err := s.records()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready": false,
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.Appeared).String(),
			"service": "tagstate",
			"version": s.Version,
		})
	})

	v1 := s.router.Group("/v1")
	v1.Use(s.requireToken())

	v1.GET("/state", func(c *gin.Context) {
		records, err := s.records()
		if err != nil {
			_ = c.Error(err)
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		data, err := reconcile.MarshalState(reconcile.Desired(records))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", data)
	})

	v1.GET("/plan", func(c *gin.Context) {
		if s.reconciler == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no registry configured"})
			return
		}
		records, err := s.records()
		if err != nil {
			_ = c.Error(err)
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		r := *s.reconciler
		r.Scope = queryTags(c)
		res, err := r.Plan(c.Request.Context(), records)
		if err != nil {
			_ = c.Error(err)
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		observability.AnnotatePlan(c, len(res.Plan.Retags()), res.Plan.Noops(), r.Scope)
		c.JSON(http.StatusOK, gin.H{
			"plan":      res.Plan,
			"observed":  res.Observed,
			"unmanaged": res.Unmanaged,
			"retags":    len(res.Plan.Retags()),
			"noops":     res.Plan.Noops(),
		})
	})
}

func (s *Server) records() ([]buildlog.Record, error) {
	if s.load == nil {
		return nil, errors.New("no build log configured")
	}
	return s.load()
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.validator == nil {
			c.Next()
			return
		}
		if err := auth.CheckHeader(s.validator, c.GetHeader("Authorization")); err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="tagstate"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// queryTags accepts ?tag=a&tag=b and ?tag=a,b.
func queryTags(c *gin.Context) []string {
	out := make([]string, 0)
	for _, raw := range c.QueryArray("tag") {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				out = append(out, tag)
			}
		}
	}
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, buildlog.ErrMalformedLog):
		return http.StatusUnprocessableEntity
	case errors.Is(err, registry.ErrAuth), errors.Is(err, reconcile.ErrObserve):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
