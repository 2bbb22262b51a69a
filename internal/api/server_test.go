package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnel-metrics/internal/config"
	"github.com/funnel-metrics/internal/monitoring"
	"github.com/funnel-metrics/internal/types"
)

// mockDashboard is a DashboardAPI whose behavior is set per test
type mockDashboard struct {
	listFunc       func(ctx context.Context) (types.AllPlatformStatuses, error)
	connectFunc    func(ctx context.Context, platform types.Platform, cred types.Credential) (types.AllPlatformStatuses, error)
	syncFunc       func(ctx context.Context, platform types.Platform) (types.AllPlatformStatuses, error)
	syncAllFunc    func(ctx context.Context) (types.AllPlatformStatuses, error)
	disconnectFunc func(ctx context.Context, platform types.Platform) (types.AllPlatformStatuses, error)
	promptFunc     func(ctx context.Context) (string, error)
}

func (m *mockDashboard) ListStatuses(ctx context.Context) (types.AllPlatformStatuses, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx)
	}
	return emptyStatuses(), nil
}

func (m *mockDashboard) Connect(ctx context.Context, platform types.Platform, cred types.Credential) (types.AllPlatformStatuses, error) {
	if m.connectFunc != nil {
		return m.connectFunc(ctx, platform, cred)
	}
	return emptyStatuses(), nil
}

func (m *mockDashboard) Sync(ctx context.Context, platform types.Platform) (types.AllPlatformStatuses, error) {
	if m.syncFunc != nil {
		return m.syncFunc(ctx, platform)
	}
	return emptyStatuses(), nil
}

func (m *mockDashboard) SyncAll(ctx context.Context) (types.AllPlatformStatuses, error) {
	if m.syncAllFunc != nil {
		return m.syncAllFunc(ctx)
	}
	return emptyStatuses(), nil
}

func (m *mockDashboard) Disconnect(ctx context.Context, platform types.Platform) (types.AllPlatformStatuses, error) {
	if m.disconnectFunc != nil {
		return m.disconnectFunc(ctx, platform)
	}
	return emptyStatuses(), nil
}

func (m *mockDashboard) GetPromptContext(ctx context.Context) (string, error) {
	if m.promptFunc != nil {
		return m.promptFunc(ctx)
	}
	return "", nil
}

func emptyStatuses() types.AllPlatformStatuses {
	statuses := make(types.AllPlatformStatuses)
	for _, p := range types.AllPlatforms() {
		statuses[p] = types.ConnectionStatus{}
	}
	return statuses
}

func testServerConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Host:           "localhost",
		Port:           "8080",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		AllowedOrigins: []string{"*"},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	}
}

func createTestServer(dashboard DashboardAPI) *Server {
	if dashboard == nil {
		dashboard = &mockDashboard{}
	}
	return NewServer(testServerConfig(), dashboard, nil)
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// TestHealthEndpoint tests the health check endpoint
func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(nil)

	w := doRequest(server, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "funnel-metrics", body["service"])
}

func TestRequestIDMiddleware(t *testing.T) {
	server := createTestServer(nil)

	t.Run("generates an id", func(t *testing.T) {
		w := doRequest(server, http.MethodGet, "/health", nil)
		assert.Len(t, w.Header().Get(RequestIDHeader), 36)
	})

	t.Run("keeps the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	server := createTestServer(&mockDashboard{
		listFunc: func(ctx context.Context) (types.AllPlatformStatuses, error) {
			panic("boom")
		},
	})

	w := doRequest(server, http.MethodGet, "/api/platforms", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestCORSMiddleware(t *testing.T) {
	cfg := testServerConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	server := NewServer(cfg, &mockDashboard{}, nil)

	t.Run("allowed origin is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/platforms", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("other origin gets no allow header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/platforms", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard", func(t *testing.T) {
		w := doRequest(createTestServer(nil), http.MethodGet, "/api/platforms", nil)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCORSPreflight(t *testing.T) {
	preflight := func(s *Server, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/platforms/storefront/connect", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		return w
	}

	t.Run("wildcard", func(t *testing.T) {
		w := preflight(createTestServer(nil), "https://app.example.com")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})

	t.Run("listed origin", func(t *testing.T) {
		cfg := testServerConfig()
		cfg.AllowedOrigins = []string{"https://app.example.com"}
		w := preflight(NewServer(cfg, &mockDashboard{}, nil), "https://app.example.com")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
	})

	t.Run("delete route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/platforms/paid_ads", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
		w := httptest.NewRecorder()
		createTestServer(nil).Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("preflight is not rate limited", func(t *testing.T) {
		cfg := testServerConfig()
		cfg.RateLimitRPS = 0.001
		cfg.RateLimitBurst = 1
		server := NewServer(cfg, &mockDashboard{}, nil)
		for i := 0; i < 3; i++ {
			assert.Equal(t, http.StatusNoContent, preflight(server, "https://app.example.com").Code)
		}
	})
}

func TestCompressionMiddleware(t *testing.T) {
	server := createTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/platforms", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)

	var statuses map[string]types.ConnectionStatus
	require.NoError(t, json.Unmarshal(raw, &statuses))
	assert.Len(t, statuses, 4)
}

func TestCompressionMiddleware_NoContent(t *testing.T) {
	server := createTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/prompt-context", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Zero(t, w.Body.Len())
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 2
	server := NewServer(cfg, &mockDashboard{}, nil)

	for i := 0; i < 2; i++ {
		w := doRequest(server, http.MethodPost, "/api/platforms/sync", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	w := doRequest(server, http.MethodPost, "/api/platforms/sync", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ErrCodeRateLimitExceeded, resp.Error.Code)

	// Reads that never reach a vendor are not limited
	w = doRequest(server, http.MethodGet, "/api/platforms", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)

	a := rl.getLimiter("10.0.0.1")
	assert.Same(t, a, rl.getLimiter("10.0.0.1"))
	assert.NotSame(t, a, rl.getLimiter("10.0.0.2"))

	assert.True(t, a.Allow())
	assert.False(t, a.Allow())
	assert.True(t, rl.getLimiter("10.0.0.2").Allow())
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientKey(req))
}

func TestMetricsEndpoint(t *testing.T) {
	monitor := monitoring.NewPrometheusProvider()
	server := NewServer(testServerConfig(), &mockDashboard{}, monitor)

	doRequest(server, http.MethodGet, "/api/platforms", nil)

	w := doRequest(server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `funnel_http_requests_total{route="/api/platforms",status="2xx"} 1`)
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	server := createTestServer(nil)

	w := doRequest(server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
