package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/region-engine/internal/config"
	"github.com/sells-group/region-engine/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store:        config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "serve.db")},
		Registry:     config.RegistryConfig{TTLSecs: 3600, DefaultRegionCode: "GLOBAL", RetryAttempts: 1},
		Reachability: config.ReachabilityConfig{MaxOffsetHours: 6, WorkdayHours: 8, BatchConcurrency: 4},
		Scoring:      config.ScoringConfig{BatchConcurrency: 4},
		Server:       config.ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}},
		Log:          config.LogConfig{Level: "info", Format: "json"},
	}
}

func newTestServer(t *testing.T, sc config.ServerConfig) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	c := testConfig(t)
	c.Server = sc

	st, err := store.NewSQLite(c.Store.DatabaseURL)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	data, err := store.LoadSeed("../seeds/regions.yaml")
	require.NoError(t, err)
	require.NoError(t, st.ImportSeed(ctx, data))

	promReg := prometheus.NewRegistry()
	eng, err := newEngine(ctx, c, st, st, promReg)
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	srv := httptest.NewServer(newRouter(eng, promReg, c.Server))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestServe_Health(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{AllowedOrigins: []string{"*"}})

	resp, body := do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	reg, ok := body["registry"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, reg["loaded"])
	assert.EqualValues(t, 3, reg["regions"])
	breakers, ok := body["breakers"].([]any)
	require.True(t, ok)
	assert.Len(t, breakers, 4)
}

func TestServe_Context(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{AllowedOrigins: []string{"*"}})

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/context",
		`{"region_code":"UAE","vertical_id":"banking_employee","scores":{"q_score":70,"t_score":50,"l_score":60,"e_score":80},"follow_ups":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	audit, ok := body["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "UAE", audit["region_code"])
	assert.Equal(t, "explicit", audit["provenance"])
	assert.Equal(t, "Asia/Dubai", audit["timezone"])

	scores, ok := body["scores"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 97, scores["q_score"])

	followUps, ok := body["follow_ups"].([]any)
	require.True(t, ok)
	assert.Len(t, followUps, 2)
}

func TestServe_ContextRejectsBadBody(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{AllowedOrigins: []string{"*"}})

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/context", `{"region_code":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request body", body["error"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/context", `{"follow_ups":99}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_Regions(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{AllowedOrigins: []string{"*"}})

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/regions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	regions, ok := body["regions"].([]any)
	require.True(t, ok)
	assert.Len(t, regions, 3)
}

func TestServe_TenantBindingLifecycle(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{AllowedOrigins: []string{"*"}})
	base := srv.URL + "/v1/tenants/acme"

	resp, body := do(t, http.MethodPut, base+"/regions/US", `{"coverage_territories":["US-CA"],"custom_sales_cycle_multiplier":1.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1.5, body["sales_cycle_multiplier"])
	assert.Equal(t, []any{"US-CA"}, body["coverage_territories"])

	resp, _ = do(t, http.MethodPut, base+"/regions/UAE", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, http.MethodPost, base+"/default-region", `{"region_id":"UAE"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	binding, ok := body["binding"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, binding["is_default"])

	resp, body = do(t, http.MethodGet, base+"/regions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bindings, ok := body["bindings"].([]any)
	require.True(t, ok)
	assert.Len(t, bindings, 2)

	resp, _ = do(t, http.MethodDelete, base+"/regions/US", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = do(t, http.MethodGet, base+"/regions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bindings, ok = body["bindings"].([]any)
	require.True(t, ok)
	assert.Len(t, bindings, 1)
}

func TestServe_TenantErrors(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{AllowedOrigins: []string{"*"}})
	base := srv.URL + "/v1/tenants/acme"

	resp, _ := do(t, http.MethodPut, base+"/regions/ATLANTIS", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, base+"/regions/US", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := do(t, http.MethodPost, base+"/default-region", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "region_id is required", body["error"])
}

func TestServe_RateLimit(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{AllowedOrigins: []string{"*"}, RatePerSecond: 0.001, RateBurst: 1})

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/regions", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/regions", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate limit exceeded", body["error"])

	// Health sits outside the limited API group.
	resp, _ = do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServe_Metrics(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{AllowedOrigins: []string{"*"}})

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/regions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `region_http_requests_total{code="200",route="/v1/regions"} 1`)
	assert.Contains(t, buf.String(), `region_registry_refreshes_total{result="success"} 1`)
}
