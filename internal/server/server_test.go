package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/tagstate/internal/auth"
	"github.com/danmuck/tagstate/internal/buildlog"
	"github.com/danmuck/tagstate/internal/reconcile"
	"github.com/danmuck/tagstate/internal/registry"
	"github.com/danmuck/tagstate/internal/registry/registrytest"
	"github.com/danmuck/tagstate/internal/testutil/testlog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func staticLog() LoadFunc {
	return func() ([]buildlog.Record, error) {
		return []buildlog.Record{
			{Index: 0, Digest: "sha:A", Tags: []string{"v1"}},
			{Index: 1, Digest: "sha:B", Tags: []string{"v1", "v2"}},
		}, nil
	}
}

func newTestServer(t *testing.T, mem *registrytest.Memory, validator auth.Validator) *Server {
	t.Helper()
	testlog.Start(t)
	return New(Options{
		Addr:       ":0",
		Version:    "test",
		Validator:  validator,
		Load:       staticLog(),
		Reconciler: &reconcile.Reconciler{Registry: mem, Concurrency: 2},
	})
}

func do(t *testing.T, s *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, registrytest.NewMemory(nil), nil)

	rr := do(t, s, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])

	rr = do(t, s, "/ready", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestReadyFailsWhenLogUnreadable(t *testing.T) {
	testlog.Start(t)
	s := New(Options{Load: func() ([]buildlog.Record, error) {
		return nil, fmt.Errorf("%w: not an array", buildlog.ErrMalformedLog)
	}})

	rr := do(t, s, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = do(t, s, "/v1/state", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, registrytest.NewMemory(nil), nil)
	do(t, s, "/health", "")

	rr := do(t, s, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "tagstate_http_requests_total")
}

func TestStateEndpoint(t *testing.T) {
	s := newTestServer(t, registrytest.NewMemory(nil), nil)

	rr := do(t, s, "/v1/state", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var state map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &state))
	assert.Equal(t, map[string]string{"v1": "sha:B", "v2": "sha:B"}, state)
}

type planBody struct {
	Plan      reconcile.Plan `json:"plan"`
	Unmanaged []string       `json:"unmanaged"`
	Retags    int            `json:"retags"`
	Noops     int            `json:"noops"`
}

func TestPlanEndpointDoesNotMutate(t *testing.T) {
	mem := registrytest.NewMemory(map[string]string{"v1": "sha:A", "v2": "sha:B", "old": "sha:Z"})
	s := newTestServer(t, mem, nil)

	rr := do(t, s, "/v1/plan", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body planBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))

	assert.Equal(t, 1, body.Retags)
	assert.Equal(t, 1, body.Noops)
	assert.Equal(t, []string{"old"}, body.Unmanaged)
	assert.Equal(t, "v1", body.Plan.Retags()[0].Tag)
	assert.Equal(t, "sha:A", mem.Tags()["v1"])
}

func TestPlanEndpointTagFilter(t *testing.T) {
	mem := registrytest.NewMemory(nil)
	s := newTestServer(t, mem, nil)

	rr := do(t, s, "/v1/plan?tag=v2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body planBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Plan.Actions, 1)
	assert.Equal(t, "v2", body.Plan.Actions[0].Tag)
}

func TestPlanEndpointRegistryAuthFailure(t *testing.T) {
	mem := registrytest.NewMemory(nil)
	mem.ResolveErr["v1"] = registry.ErrAuth
	s := newTestServer(t, mem, nil)

	rr := do(t, s, "/v1/plan", "")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestTokenRequiredOnV1(t *testing.T) {
	s := newTestServer(t, registrytest.NewMemory(nil), auth.StaticToken{Token: "s3cret"})

	assert.Equal(t, http.StatusUnauthorized, do(t, s, "/v1/state", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s, "/v1/plan", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(t, s, "/v1/state", "s3cret").Code)
	assert.Equal(t, http.StatusOK, do(t, s, "/health", "").Code)
}

func TestQueryTagsSplitsCommas(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/plan?tag=a,b&tag=c&tag=", nil)
	assert.Equal(t, []string{"a", "b", "c"}, queryTags(c))
}

func TestPlanRequestLogCarriesBuildLogAndRegistry(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	mem := registrytest.NewMemory(map[string]string{"v1": "sha:A", "v2": "sha:B"})
	s := New(Options{
		Addr:       ":0",
		BuildLog:   "/srv/builds/app.json",
		Load:       staticLog(),
		Reconciler: &reconcile.Reconciler{Registry: mem, Concurrency: 2},
	})

	rr := do(t, s, "/v1/plan?tag=v1,v2", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var event map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var e map[string]any
		require.NoError(t, json.Unmarshal(line, &e))
		if e["message"] == "api_request" {
			event = e
		}
	}
	require.NotNil(t, event, buf.String())
	assert.Equal(t, "/srv/builds/app.json", event["buildlog"])
	assert.Equal(t, "memory", event["registry"])
	assert.Equal(t, "/v1/plan", event["route"])
	assert.EqualValues(t, 1, event["retags"])
	assert.EqualValues(t, 1, event["noops"])
	assert.Equal(t, "v1,v2", event["scope"])
}
