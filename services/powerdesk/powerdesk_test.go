// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package powerdesk

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/pkg/logging"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		GinMode:          "test",
		EnableMetrics:    true,
		DBDriver:         "sqlite",
		DBDSN:            filepath.Join(t.TempDir(), "powerdesk.db"),
		CacheBackend:     CacheBackendBadger,
		DeepSeekUseMock:  true,
		MockChunkDelay:   -1,
		StreamTimeout:    2 * time.Second,
		ReplayChunkDelay: -1,
		ExternalFallback: true,
		JWTSecret:        "0123456789abcdef0123456789abcdef",
	}
}

func newTestService(t *testing.T, cfg Config, opts *extensions.ServiceOptions) *Service {
	t.Helper()
	svc, err := New(t.Context(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func serve(svc *Service, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)
	return w
}

// ============================================================================
// New
// ============================================================================

func TestNew_ServesSeededData(t *testing.T) {
	svc := newTestService(t, testConfig(t), nil)

	w := serve(svc, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(svc, http.MethodGet, "/api/service-types", "")
	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Success bool              `json:"success"`
		Data    []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Len(t, env.Data, 7)

	w = serve(svc, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestNew_LoginAndChat(t *testing.T) {
	svc := newTestService(t, testConfig(t), nil)

	w := serve(svc, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"password"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"token"`)

	w = serve(svc, http.MethodPost, "/api/chat", `{"prompt":"如何缴纳电费"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"success":true`)
}

func TestNew_RegistersExtraCollectors(t *testing.T) {
	cfg := testConfig(t)
	records := logging.NewMetricsExporter(ServiceName)
	records.WithLabelValues("warn").Add(3)
	cfg.Collectors = []prometheus.Collector{records}
	svc := newTestService(t, cfg, nil)

	w := serve(svc, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `powerdesk_log_records_total{level="warn"} 3`)
}

func TestNew_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableMetrics = false
	svc := newTestService(t, cfg, nil)

	w := serve(svc, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNew_RandomSecretWhenUnset(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWTSecret = ""
	svc := newTestService(t, cfg, nil)

	w := serve(svc, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"password"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNew_CallerOptionsOverride(t *testing.T) {
	audit := extensions.NewSlogAuditLogger(nil, 16)
	opts := extensions.DefaultOptions().WithAudit(audit)
	svc := newTestService(t, testConfig(t), &opts)

	w := serve(svc, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"password"}`)
	require.Equal(t, http.StatusOK, w.Code)

	events, err := audit.Query(t.Context(), extensions.AuditFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheBackend = "memcached"
	_, err := New(t.Context(), cfg, nil)
	assert.ErrorContains(t, err, "CACHE_BACKEND")

	cfg = testConfig(t)
	cfg.RetentionSchedule = "not a schedule"
	_, err = New(t.Context(), cfg, nil)
	assert.Error(t, err)
}

// ============================================================================
// Run
// ============================================================================

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Port = freePort(t)
	svc, err := New(t.Context(), cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// ============================================================================
// LoadConfig
// ============================================================================

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, CacheBackendRedis, cfg.CacheBackend)
	assert.Equal(t, "deepseek-chat", cfg.DeepSeekModel)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.StreamTimeout)
	assert.True(t, cfg.ExternalFallback)
	assert.Zero(t, cfg.HistoryRetention)
}

func TestLoadConfig_EnvFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9090\nCACHE_BACKEND=badger\n"), 0o600))
	t.Setenv("DEEPSEEK_MODEL", "deepseek-reasoner")
	t.Setenv("HISTORY_RETENTION", "720h")
	t.Cleanup(func() {
		_ = os.Unsetenv("PORT")
		_ = os.Unsetenv("CACHE_BACKEND")
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, CacheBackendBadger, cfg.CacheBackend)
	assert.Equal(t, "deepseek-reasoner", cfg.DeepSeekModel)
	assert.Equal(t, 720*time.Hour, cfg.HistoryRetention)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"driver", "DB_DRIVER", "postgres"},
		{"port", "PORT", "70000"},
		{"rate", "CHAT_RATE_LIMIT", "-1"},
		{"duration", "CACHE_TTL", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}
