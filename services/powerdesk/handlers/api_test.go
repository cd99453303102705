// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/auth"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository/repotest"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/services"
)

// =============================================================================
// Fixture
// =============================================================================

type apiFixture struct {
	db     *gorm.DB
	tokens *auth.TokenService
	audit  *extensions.SlogAuditLogger
	bobID  uint
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	db := repotest.NewSeededDB(t)
	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)

	bob := &repository.User{Username: "bob", Password: "x", RealName: "鲍勃", Role: repository.RoleUser, IsActive: true}
	require.NoError(t, repository.NewUserRepository(db).Create(context.Background(), bob))

	return &apiFixture{db: db, tokens: tokens, audit: extensions.NewSlogAuditLogger(nil, 64), bobID: bob.ID}
}

func (f *apiFixture) authRouter() *gin.Engine {
	users := repository.NewUserRepository(f.db)
	h := NewAuthHandler(services.NewAuthService(users, f.tokens, f.audit), f.tokens)
	r := gin.New()
	r.POST("/api/auth/login", h.HandleLogin)
	r.POST("/api/auth/face-login", h.HandleFaceLogin)
	r.POST("/api/auth/register-face/:idOrName", h.HandleRegisterFace)
	r.GET("/api/auth/check-face-registered/:idOrName", h.HandleCheckFaceRegistered)
	r.POST("/api/auth/refresh", h.HandleRefresh)
	return r
}

func (f *apiFixture) catalogRouter() *gin.Engine {
	h := NewCatalogHandler(repository.NewKnowledgeRepository(f.db), repository.NewServiceTypeRepository(f.db))
	r := gin.New()
	r.GET("/api/knowledge-base", h.HandleKnowledgeList)
	r.GET("/api/knowledge-base/popular", h.HandlePopular)
	r.GET("/api/knowledge-base/service-type/:id", h.HandleKnowledgeByType)
	r.GET("/api/service-types", h.HandleServiceTypes)
	r.GET("/api/services", h.HandleServices)
	r.GET("/api/services/:id", h.HandleService)
	return r
}

func (f *apiFixture) monitorRouter(caller *extensions.AuthInfo) *gin.Engine {
	h := NewMonitorHandler(services.NewMonitorService(repository.NewElectricityRepository(f.db)), f.audit)
	r := gin.New()
	r.Use(as(caller))
	r.GET("/api/monitor/electricity", h.HandleElectricity)
	r.GET("/api/services/monitor", h.HandleServicesMonitor)
	r.POST("/api/monitor/update-electricity", h.HandleUpdateElectricity)
	r.GET("/api/monitor/system-status", h.HandleSystemStatus)
	return r
}

func (f *apiFixture) userRouter(caller *extensions.AuthInfo) *gin.Engine {
	h := NewUserHandler(services.NewUserService(repository.NewUserRepository(f.db), f.audit), auth.RoleAuthorizer{})
	r := gin.New()
	r.Use(as(caller))
	r.GET("/api/users", h.HandleList)
	r.GET("/api/users/:id", h.HandleGet)
	r.GET("/api/users/username/:username", h.HandleGetByUsername)
	r.PUT("/api/users/:id", h.HandleUpdate)
	r.DELETE("/api/users/:id", h.HandleDelete)
	return r
}

func (f *apiFixture) requestRouter() *gin.Engine {
	h := NewRequestHandler(services.NewRequestService(
		repository.NewServiceRequestRepository(f.db), repository.NewServiceTypeRepository(f.db)))
	r := gin.New()
	r.POST("/api/service-requests", h.HandleCreate)
	r.GET("/api/service-requests", h.HandleList)
	r.GET("/health", HealthCheck)
	return r
}

// =============================================================================
// Auth
// =============================================================================

func TestAuthHandler_Login(t *testing.T) {
	f := newAPIFixture(t)
	r := f.authRouter()

	w := do(t, r, http.MethodPost, "/api/auth/login", map[string]any{
		"username": "admin",
		"password": repository.DefaultAdminPassword,
	})
	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.True(t, env.Success)
	assert.Equal(t, MsgLoginOK, env.Message)

	res := decodeData[services.LoginResult](t, env)
	assert.NotEmpty(t, res.Token)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "admin", res.User.Username)
	assert.Equal(t, repository.RoleAdmin, res.User.Role)

	info, err := f.tokens.Validate(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", info.Username)
}

func TestAuthHandler_LoginFailures(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]any
		status  int
		message string
	}{
		{"wrong password", map[string]any{"username": "admin", "password": "nope"}, http.StatusBadRequest, msgSystemError + services.ErrBadPassword.Error()},
		{"unknown user", map[string]any{"username": "ghost", "password": "x"}, http.StatusBadRequest, msgSystemError + services.ErrUserNotFound.Error()},
		{"blank username", map[string]any{"username": " ", "password": "x"}, http.StatusBadRequest, "用户名不能为空"},
		{"missing password", map[string]any{"username": "admin"}, http.StatusBadRequest, "密码不能为空"},
	}

	f := newAPIFixture(t)
	r := f.authRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/auth/login", tt.body)
			assert.Equal(t, tt.status, w.Code)
			env := decode(t, w)
			assert.False(t, env.Success)
			assert.Equal(t, tt.message, env.Message)
		})
	}
}

func TestAuthHandler_Face(t *testing.T) {
	f := newAPIFixture(t)
	r := f.authRouter()

	w := do(t, r, http.MethodPost, "/api/auth/face-login", map[string]any{"faceData": "base64-image"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MsgFaceLoginOK, decode(t, w).Message)

	w = do(t, r, http.MethodGet, "/api/auth/check-face-registered/bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeData[bool](t, decode(t, w)))

	w = do(t, r, http.MethodPost, "/api/auth/register-face/bob", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, services.ErrMissingFaceData.Error(), decode(t, w).Message)

	w = do(t, r, http.MethodPost, "/api/auth/register-face/bob", map[string]any{"faceData": "img"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MsgRegisterFaceOK, decode(t, w).Message)

	w = do(t, r, http.MethodGet, "/api/auth/check-face-registered/bob", nil)
	assert.True(t, decodeData[bool](t, decode(t, w)))
}

func TestAuthHandler_Refresh(t *testing.T) {
	f := newAPIFixture(t)
	r := f.authRouter()
	_, refresh, err := f.tokens.IssuePair(auth.Subject{UserID: 1, Username: "admin", Role: repository.RoleAdmin})
	require.NoError(t, err)

	w := do(t, r, http.MethodPost, "/api/auth/refresh", map[string]any{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, w.Code)
	pair := decodeData[map[string]string](t, decode(t, w))
	assert.NotEmpty(t, pair["token"])
	assert.NotEmpty(t, pair["refreshToken"])

	w = do(t, r, http.MethodPost, "/api/auth/refresh", map[string]any{"refreshToken": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, msgBadToken, decode(t, w).Message)
}

// =============================================================================
// Catalog
// =============================================================================

func TestCatalogHandler(t *testing.T) {
	f := newAPIFixture(t)
	r := f.catalogRouter()

	w := do(t, r, http.MethodGet, "/api/knowledge-base", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decodeData[[]repository.KnowledgeEntry](t, decode(t, w))
	require.Len(t, entries, 4)
	for _, e := range entries {
		require.NotNil(t, e.ServiceType, "service type is preloaded")
	}

	w = do(t, r, http.MethodGet, "/api/knowledge-base/popular", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MsgPopularOK, decode(t, w).Message)

	w = do(t, r, http.MethodGet, "/api/service-types", nil)
	require.Equal(t, http.StatusOK, w.Code)
	types := decodeData[[]repository.ServiceType](t, decode(t, w))
	require.Len(t, types, 7)
	assert.Equal(t, "故障报修", types[0].Name)

	w = do(t, r, http.MethodGet, "/api/knowledge-base/service-type/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	byType := decodeData[[]repository.KnowledgeEntry](t, decode(t, w))
	require.Len(t, byType, 1)
	assert.Equal(t, "家里突然停电怎么办？", byType[0].Question)

	w = do(t, r, http.MethodGet, "/api/services/7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "上门服务", decodeData[repository.ServiceType](t, decode(t, w)).Name)
}

func TestCatalogHandler_BadIDs(t *testing.T) {
	f := newAPIFixture(t)
	r := f.catalogRouter()

	w := do(t, r, http.MethodGet, "/api/services/999", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, services.ErrUnknownServiceType.Error(), decode(t, w).Message)

	for _, path := range []string{"/api/services/abc", "/api/services/0", "/api/knowledge-base/service-type/-1"} {
		w = do(t, r, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, msgBadID, decode(t, w).Message, path)
	}
}

// =============================================================================
// Monitor
// =============================================================================

func TestMonitorHandler_Summary(t *testing.T) {
	f := newAPIFixture(t)
	r := f.monitorRouter(nil)

	for path, msg := range map[string]string{
		"/api/monitor/electricity": MsgElectricityOK,
		"/api/services/monitor":    MsgMonitorOK,
	} {
		w := do(t, r, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, path)
		env := decode(t, w)
		assert.Equal(t, msg, env.Message)
		sum := decodeData[services.MonitorSummary](t, env)
		assert.NotEmpty(t, sum.Resident)
		assert.NotEmpty(t, sum.NonResident)
	}

	w := do(t, r, http.MethodGet, "/api/monitor/system-status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.0.0", decodeData[services.SystemStatus](t, decode(t, w)).Version)
}

func TestMonitorHandler_Update(t *testing.T) {
	f := newAPIFixture(t)
	r := f.monitorRouter(adminInfo)

	w := do(t, r, http.MethodPost, "/api/monitor/update-electricity", map[string]any{
		"data_type":   "resident",
		"period":      "month",
		"period_date": "2025-06-01",
		"amount":      12.5,
		"count":       300,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MsgUpdateElecOK, decode(t, w).Message)

	events, err := f.audit.Query(context.Background(), extensions.AuditFilter{EventTypes: []string{"electricity.update"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "admin", events[0].UserID)
}

func TestMonitorHandler_UpdateValidation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad data type", map[string]any{"data_type": "x", "period": "day", "period_date": "2025-06-01", "amount": 1, "count": 1}},
		{"bad period", map[string]any{"data_type": "resident", "period": "week", "period_date": "2025-06-01", "amount": 1, "count": 1}},
		{"bad date", map[string]any{"data_type": "resident", "period": "day", "period_date": "06/01/2025", "amount": 1, "count": 1}},
		{"negative amount", map[string]any{"data_type": "resident", "period": "day", "period_date": "2025-06-01", "amount": -1, "count": 1}},
		{"missing count", map[string]any{"data_type": "resident", "period": "day", "period_date": "2025-06-01", "amount": 1}},
	}

	f := newAPIFixture(t)
	r := f.monitorRouter(adminInfo)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/monitor/update-electricity", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, decode(t, w).Success)
		})
	}
}

// =============================================================================
// Users
// =============================================================================

func TestUserHandler_AdminFlow(t *testing.T) {
	f := newAPIFixture(t)
	r := f.userRouter(adminInfo)

	w := do(t, r, http.MethodGet, "/api/users?page=0&size=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeData[services.Page[repository.User]](t, decode(t, w))
	assert.EqualValues(t, 2, page.TotalElements)

	w = do(t, r, http.MethodGet, "/api/users/username/bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MsgUserFoundOK, decode(t, w).Message)
	assert.NotContains(t, w.Body.String(), "password")

	w = do(t, r, http.MethodPut, "/api/users/2", map[string]any{"email": "bob@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob@example.com", decodeData[repository.User](t, decode(t, w)).Email)

	w = do(t, r, http.MethodPut, "/api/users/2", map[string]any{"role": "ROOT"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "角色必须是以下之一: ADMIN USER", decode(t, w).Message)

	w = do(t, r, http.MethodDelete, "/api/users/2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/api/users/2", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, services.ErrUserNotFound.Error(), decode(t, w).Message)
}

func TestUserHandler_UserRole(t *testing.T) {
	f := newAPIFixture(t)
	require.EqualValues(t, 2, f.bobID)
	r := f.userRouter(bobInfo)

	tests := []struct {
		method string
		path   string
		body   any
		status int
	}{
		{http.MethodGet, "/api/users/2", nil, http.StatusOK},
		{http.MethodGet, "/api/users/username/bob", nil, http.StatusOK},
		{http.MethodGet, "/api/users/1", nil, http.StatusForbidden},
		{http.MethodGet, "/api/users", nil, http.StatusForbidden},
		{http.MethodPut, "/api/users/2", map[string]any{"role": "ADMIN"}, http.StatusForbidden},
		{http.MethodDelete, "/api/users/1", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusForbidden {
				assert.Equal(t, msgAccessDenied, decode(t, w).Message)
			}
		})
	}
}

// =============================================================================
// Service requests
// =============================================================================

func TestRequestHandler(t *testing.T) {
	f := newAPIFixture(t)
	r := f.requestRouter()

	typeID := uint(7)
	w := do(t, r, http.MethodPost, "/api/service-requests", map[string]any{
		"customerName":       "张三",
		"phone":              "13800000000",
		"address":            "幸福路1号",
		"serviceTypeId":      typeID,
		"problemDescription": "电表不走字",
	})
	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.Equal(t, MsgRequestCreated, env.Message)
	created := decodeData[repository.ServiceRequest](t, env)
	assert.Equal(t, repository.RequestStatusPending, created.Status)

	w = do(t, r, http.MethodPost, "/api/service-requests", map[string]any{
		"customerName":  "李四",
		"phone":         "13900000000",
		"serviceTypeId": 999,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, services.ErrUnknownServiceType.Error(), decode(t, w).Message)

	w = do(t, r, http.MethodPost, "/api/service-requests", map[string]any{"phone": "139"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "客户姓名不能为空", decode(t, w).Message)

	w = do(t, r, http.MethodGet, "/api/service-requests", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, msgNeedFilter, decode(t, w).Message)

	w = do(t, r, http.MethodGet, "/api/service-requests?phone=13800000000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeData[[]repository.ServiceRequest](t, decode(t, w))
	require.Len(t, list, 1)
	assert.Equal(t, "张三", list[0].CustomerName)
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t)
	w := do(t, f.requestRouter(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
