package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/testutils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testGateway struct {
	t       *testing.T
	handler http.Handler
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	tools := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad input"}`))
			return
		}
		_, _ = w.Write([]byte(`{"tool":"` + r.URL.Path + `"}`))
	}))
	t.Cleanup(tools.Close)

	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.AdminEmails = []string{"admin@example.com"}
	cfg.Tools.Upstream = tools.URL
	cfg.RateLimitTiers = []config.TierConfig{{Name: "guest", MaxRequests: 2, WindowSeconds: 60}}

	clock := testutils.NewClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	srv, err := New(Deps{Config: cfg, DB: testutils.NewDatabase(t), Now: clock.Now})
	require.NoError(t, err)

	return &testGateway{t: t, handler: srv.GetRouter()}
}

func (g *testGateway) do(method, path, token, forwardedFor string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(g.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}

	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	return rec
}

func (g *testGateway) login(email string) string {
	creds := map[string]string{"email": email, "password": "correct-horse"}
	rec := g.do(http.MethodPost, "/auth/register", "", email, creds)
	require.Equal(g.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = g.do(http.MethodPost, "/auth/login", "", email, creds)
	require.Equal(g.t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(g.t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Token
}

func TestHealthAndMetrics(t *testing.T) {
	g := newTestGateway(t)

	rec := g.do(http.MethodGet, "/health", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":true`)

	g.do(http.MethodGet, "/api/usage", "", "198.51.100.7", nil)

	rec = g.do(http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `admission_rate_limit_checks_total{outcome="allowed",tier="guest"} 1`)
}

func TestGuestRateLimit(t *testing.T) {
	g := newTestGateway(t)

	for i := 0; i < 2; i++ {
		rec := g.do(http.MethodGet, "/api/usage", "", "198.51.100.7, 10.0.0.1", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := g.do(http.MethodGet, "/api/usage", "", "198.51.100.7", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"code":"rate_limited"`)

	// Another caller has its own counter
	rec = g.do(http.MethodGet, "/api/usage", "", "203.0.113.9", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeteredToolsConsumeQuota(t *testing.T) {
	g := newTestGateway(t)
	token := g.login("member@example.com")

	rec := g.do(http.MethodPost, "/api/tools/broken", token, "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < 10; i++ {
		rec := g.do(http.MethodPost, "/api/tools/summarize", token, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"tool":"/summarize"}`, rec.Body.String())
	}

	rec = g.do(http.MethodPost, "/api/tools/summarize", token, "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"quota_exceeded"`)
	assert.Contains(t, rec.Body.String(), `"upgradeTo":"premium"`)

	rec = g.do(http.MethodGet, "/api/usage", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.EqualValues(t, 10, status["currentUsage"])
	assert.EqualValues(t, 0, status["remaining"])
	assert.Equal(t, "free", status["plan"])
}

func TestToolsRequireAccount(t *testing.T) {
	g := newTestGateway(t)

	rec := g.do(http.MethodPost, "/api/tools/summarize", "", "198.51.100.7", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	g := newTestGateway(t)

	rec := g.do(http.MethodGet, "/admin/tiers", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	member := g.login("member@example.com")
	rec = g.do(http.MethodGet, "/admin/tiers", member, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := g.login("admin@example.com")
	rec = g.do(http.MethodGet, "/admin/tiers", admin, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tier":"guest","max_requests":2`)

	rec = g.do(http.MethodGet, "/admin/breakers", admin, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var breakers []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &breakers))
	require.Len(t, breakers, 3)
	assert.Equal(t, "counter", breakers[0]["name"])
	assert.Equal(t, "quota", breakers[1]["name"])
	assert.Equal(t, "tools", breakers[2]["name"])

	rec = g.do(http.MethodDelete, "/admin/counters", admin, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
