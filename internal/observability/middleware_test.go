package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggedRouter(buf *bytes.Buffer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zerolog.New(buf).Level(zerolog.DebugLevel)
	r := gin.New()
	r.Use(RequestLogger(logger, APIContext{BuildLog: "/var/log/builds.json", Registry: "remote:ghcr.io/acme/app"}))
	return r
}

func lastEvent(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var event map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &event))
	return event
}

func TestRequestLoggerCarriesPlanContext(t *testing.T) {
	var buf bytes.Buffer
	r := newLoggedRouter(&buf)
	r.GET("/v1/plan", func(c *gin.Context) {
		AnnotatePlan(c, 2, 5, []string{"v1", "v2"})
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/plan?tag=v1,v2", nil))

	event := lastEvent(t, &buf)
	assert.Equal(t, "api_request", event["message"])
	assert.Equal(t, "info", event["level"])
	assert.Equal(t, "/var/log/builds.json", event["buildlog"])
	assert.Equal(t, "remote:ghcr.io/acme/app", event["registry"])
	assert.Equal(t, "/v1/plan", event["route"])
	assert.EqualValues(t, 2, event["retags"])
	assert.EqualValues(t, 5, event["noops"])
	assert.Equal(t, "v1,v2", event["scope"])
}

func TestRequestLoggerRecordsHandlerError(t *testing.T) {
	var buf bytes.Buffer
	r := newLoggedRouter(&buf)
	r.GET("/v1/state", func(c *gin.Context) {
		_ = c.Error(errors.New("buildlog: malformed log"))
		c.Status(http.StatusUnprocessableEntity)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/state", nil))

	event := lastEvent(t, &buf)
	assert.Equal(t, "warn", event["level"])
	assert.Equal(t, "buildlog: malformed log", event["error"])
	assert.NotContains(t, event, "retags")
}

func TestRequestLoggerQuietsHealthChecks(t *testing.T) {
	var buf bytes.Buffer
	r := newLoggedRouter(&buf)
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "debug", lastEvent(t, &buf)["level"])
}
