package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"e-router/metrics"
	"e-router/registry"
)

func newServer(t *testing.T) (*Server, *registry.MemoryRegistry) {
	t.Helper()
	reg := registry.NewMemoryRegistry()
	reg.CreateFunction("sum")
	require.NoError(t, reg.RegisterEndpoint("sum", registry.Endpoint{ID: "127.0.0.1:7001"}))
	return New(":0", reg, zerolog.Nop()), reg
}

func do(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newServer(t)
	rec := do(s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestListAndGetFunctions(t *testing.T) {
	s, _ := newServer(t)

	rec := do(s, http.MethodGet, "/functions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"functions":[{"name":"sum","endpoints":[{"id":"127.0.0.1:7001"}]}]}`, rec.Body.String())

	rec = do(s, http.MethodGet, "/functions/sum", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"sum","endpoints":[{"id":"127.0.0.1:7001"}]}`, rec.Body.String())

	rec = do(s, http.MethodGet, "/functions/mul", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateFunctionAndRegister(t *testing.T) {
	s, reg := newServer(t)

	rec := do(s, http.MethodPost, "/functions/mul/endpoints", map[string]any{"id": "e1"})
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown function")
	assert.Equal(t, []string{"sum"}, reg.Functions())

	rec = do(s, http.MethodPost, "/functions/mul", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(s, http.MethodPost, "/functions/mul/endpoints", map[string]any{"id": "e1", "weight": 2})
	assert.Equal(t, http.StatusCreated, rec.Code)
	eps, _ := reg.Endpoints("mul")
	assert.Equal(t, []registry.Endpoint{{ID: "e1", Weight: 2}}, eps)

	// Creating again keeps the endpoints.
	rec = do(s, http.MethodPost, "/functions/mul", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"name":"mul","endpoints":[{"id":"e1","weight":2}]}`, rec.Body.String())
}

func TestRegisterEndpointBadRequest(t *testing.T) {
	s, _ := newServer(t)

	rec := do(s, http.MethodPost, "/functions/sum/endpoints", map[string]any{"weight": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/functions/sum/endpoints", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeregisterEndpoint(t *testing.T) {
	s, reg := newServer(t)

	rec := do(s, http.MethodDelete, "/functions/sum/endpoints/127.0.0.1:7001", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())
	eps, ok := reg.Endpoints("sum")
	assert.True(t, ok)
	assert.Empty(t, eps)

	rec = do(s, http.MethodDelete, "/functions/mul/endpoints/x", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics(t *testing.T) {
	s, _ := newServer(t)
	metrics.RecordNoEndpoint("admin-test")

	rec := do(s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `erouter_dispatcher_requests_total{function="admin-test",outcome="no_endpoint"}`)
}
