// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/services/llm"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/auth"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/cache"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/handlers"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/middleware"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/observability"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/relay"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository/repotest"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/services"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	tokens *auth.TokenService
}

func newTestServer(t *testing.T, limiter *middleware.ClientRateLimiter) *testServer {
	t.Helper()
	db := repotest.NewSeededDB(t)

	rc, err := cache.NewBadgerCache(cache.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	client, err := llm.NewDeepSeekClient(llm.DeepSeekConfig{UseMock: true, MockChunkDelay: -1})
	require.NoError(t, err)

	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	opts := extensions.DefaultOptions().
		WithAuth(tokens).
		WithAuthz(auth.RoleAuthorizer{}).
		WithAudit(extensions.NewSlogAuditLogger(nil, 16))

	users := repository.NewUserRepository(db)
	kb := repository.NewKnowledgeRepository(db)
	types := repository.NewServiceTypeRepository(db)

	orch := services.NewChatOrchestrator(services.ChatDeps{
		Cache:        rc,
		Client:       client,
		Knowledge:    kb,
		ServiceTypes: types,
		History:      repository.NewChatRecordRepository(db),
		Users:        users,
		Metrics:      metrics,
	}, services.ChatConfig{ExternalFallback: true})
	rl := relay.New(rc, client, relay.Config{Timeout: 2 * time.Second, ReplayDelay: -1, KeepAliveInterval: -1}, metrics)
	t.Cleanup(rl.Wait)

	router := gin.New()
	SetupRoutes(router, Handlers{
		Chat:     handlers.NewChatHandler(orch, rl, opts, metrics),
		Auth:     handlers.NewAuthHandler(services.NewAuthService(users, tokens, opts.AuditLogger), tokens),
		Catalog:  handlers.NewCatalogHandler(kb, types),
		Monitor:  handlers.NewMonitorHandler(services.NewMonitorService(repository.NewElectricityRepository(db)), opts.AuditLogger),
		Users:    handlers.NewUserHandler(services.NewUserService(users, opts.AuditLogger), opts.AuthzProvider),
		Requests: handlers.NewRequestHandler(services.NewRequestService(repository.NewServiceRequestRepository(db), types)),
	}, Options{Extensions: opts, ChatLimiter: limiter, Gatherer: reg})

	return &testServer{router: router, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) token(t *testing.T, id uint, name, role string) string {
	t.Helper()
	access, _, err := s.tokens.IssuePair(auth.Subject{UserID: id, Username: name, Role: role})
	require.NoError(t, err)
	return access
}

// ============================================================================
// Route table
// ============================================================================

func TestSetupRoutes_RegistersEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/api/chat"},
		{"GET", "/api/chat/stream"},
		{"POST", "/api/chat/send"},
		{"GET", "/api/chat/history/:sessionId"},
		{"GET", "/api/chat/health"},
		{"POST", "/api/auth/login"},
		{"POST", "/api/auth/face-login"},
		{"POST", "/api/auth/face_login"},
		{"POST", "/api/auth/register-face/:idOrName"},
		{"GET", "/api/auth/check-face-registered/:idOrName"},
		{"GET", "/api/auth/checkFaceRegistered/:idOrName"},
		{"POST", "/api/auth/refresh"},
		{"GET", "/api/knowledge-base"},
		{"GET", "/api/knowledge-base/popular"},
		{"GET", "/api/knowledge-base/service-type/:id"},
		{"GET", "/api/service-types"},
		{"GET", "/api/services"},
		{"GET", "/api/services/monitor"},
		{"GET", "/api/services/:id"},
		{"GET", "/api/monitor/electricity"},
		{"GET", "/api/monitor/system-status"},
		{"POST", "/api/monitor/update-electricity"},
		{"GET", "/api/users"},
		{"GET", "/api/users/:id"},
		{"GET", "/api/users/username/:username"},
		{"PUT", "/api/users/:id"},
		{"DELETE", "/api/users/:id"},
		{"POST", "/api/service-requests"},
		{"GET", "/api/service-requests"},
	}

	registered := map[string]bool{}
	for _, r := range s.router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, e := range expected {
		assert.True(t, registered[e.method+" "+e.path], "route %s %s not registered", e.method, e.path)
	}
}

func TestSetupRoutes_MetricsCanBeDisabled(t *testing.T) {
	router := gin.New()
	assert.NotPanics(t, func() {
		SetupRoutes(router, Handlers{}, Options{DisableMetrics: true})
	})
	for _, r := range router.Routes() {
		assert.NotEqual(t, "/metrics", r.Path)
	}
}

// ============================================================================
// End to end
// ============================================================================

func TestRoutes_ServicesMonitorIsNotAnID(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, "GET", "/api/services/monitor", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), handlers.MsgMonitorOK)

	w = s.do(t, "GET", "/api/services/1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "故障报修")
}

func TestRoutes_UsersRequireToken(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, "GET", "/api/users", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "GET", "/api/users", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "GET", "/api/users", "", s.token(t, 1, "admin", repository.RoleAdmin))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"totalElements":1`)
}

func TestRoutes_ElectricityUpdateNeedsAdmin(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"data_type":"resident","period":"day","period_date":"2025-06-15","amount":2.5,"count":9}`

	w := s.do(t, "POST", "/api/monitor/update-electricity", body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "POST", "/api/monitor/update-electricity", body, s.token(t, 5, "bob", repository.RoleUser))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, "POST", "/api/monitor/update-electricity", body, s.token(t, 1, "admin", repository.RoleAdmin))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_LoginThenUseToken(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, "POST", "/api/auth/login", `{"username":"admin","password":"password"}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	var env struct {
		Data services.LoginResult `json:"data"`
	}
	require.NoError(t, decodeJSON(w, &env))
	require.NotEmpty(t, env.Data.Token)

	w = s.do(t, "GET", "/api/users/username/admin", "", env.Data.Token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_ChatThroughOrchestrator(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, "POST", "/api/chat", `{"prompt":"电费查询"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), handlers.MsgChatOK)

	w = s.do(t, "GET", "/api/chat/stream?prompt=", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "data: "+relay.InvalidPromptMessage)
}

func TestRoutes_ChatRateLimited(t *testing.T) {
	limiter := middleware.NewClientRateLimiter(middleware.RateLimitConfig{PerSecond: 0.001, Burst: 2})
	s := newTestServer(t, limiter)

	for i := 0; i < 2; i++ {
		w := s.do(t, "GET", "/api/chat/health", "", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := s.do(t, "GET", "/api/chat/health", "", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = s.do(t, "GET", "/api/knowledge-base", "", "")
	assert.Equal(t, http.StatusOK, w.Code, "only chat endpoints are limited")
}

func TestRoutes_Metrics(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, "POST", "/api/chat", `{"prompt":"电费查询"}`, "")

	w := s.do(t, "GET", "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "powerdesk_")
}

func decodeJSON(w *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(w.Body.Bytes(), v)
}
