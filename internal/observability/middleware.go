package observability

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// APIContext names the build log and registry the API plans against.
type APIContext struct {
	BuildLog string
	Registry string
}

const (
	keyPlanRetags = "tagstate.plan.retags"
	keyPlanNoops  = "tagstate.plan.noops"
	keyTagScope   = "tagstate.plan.scope"
)

// AnnotatePlan attaches plan counts to the request so the access log carries them.
func AnnotatePlan(c *gin.Context, retags, noops int, scope []string) {
	c.Set(keyPlanRetags, retags)
	c.Set(keyPlanNoops, noops)
	if len(scope) > 0 {
		c.Set(keyTagScope, strings.Join(scope, ","))
	}
}

// RequestLogger writes one api_request event per request. Plan endpoints add
// retag/noop counts via AnnotatePlan; handler errors recorded with c.Error
// are logged with the event.
func RequestLogger(logger zerolog.Logger, api APIContext) gin.HandlerFunc {
	logger = logger.With().
		Str("buildlog", api.BuildLog).
		Str("registry", api.Registry).
		Logger()

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case strings.HasPrefix(route, "/health") || route == "/metrics":
			event = logger.Debug()
		default:
			event = logger.Info()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start))
		if v, ok := c.Get(keyPlanRetags); ok {
			event = event.Interface("retags", v)
		}
		if v, ok := c.Get(keyPlanNoops); ok {
			event = event.Interface("noops", v)
		}
		if v, ok := c.Get(keyTagScope); ok {
			event = event.Interface("scope", v)
		}
		if last := c.Errors.Last(); last != nil {
			event = event.Err(last.Err)
		}
		event.Msg("api_request")
	}
}

func RequestMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
