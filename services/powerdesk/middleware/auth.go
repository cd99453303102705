// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides the gin middleware in front of the PowerDesk
// handlers: bearer authentication, role checks and per-client rate limits.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Authorize (optional) ─► Handler (retrieves via GetAuthInfo)
//
// Failures are answered with the standard response envelope so clients see
// the same shape as every other endpoint.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/datatypes"
)

// =============================================================================
// Context Keys
// =============================================================================

const authInfoKey = "powerdesk_auth_info"

const (
	msgUnauthorized = "未登录或登录已过期"
	msgAuthFailed   = "认证失败"
	msgForbidden    = "没有权限执行该操作"
)

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated user in the gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the authenticated user, or nil when the request did
// not pass through AuthMiddleware.
//
// # Thread Safety
//
// Safe to call concurrently (gin context is request-scoped).
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware authenticates requests with provider.
//
// # Description
//
// Extracts the bearer token from the Authorization header and validates it.
// A missing or malformed header yields an empty token, which the provider
// decides on. On success the AuthInfo is stored for downstream handlers.
//
// # Inputs
//
//   - provider: AuthProvider to validate tokens. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: aborts with 401 on any validation error.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	if provider == nil {
		panic("AuthMiddleware: provider must not be nil")
	}
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			msg := msgAuthFailed
			if errors.Is(err, extensions.ErrUnauthorized) {
				msg = msgUnauthorized
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.Failure(msg))
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// Authorize checks the authenticated user against authz for a fixed action
// on resourceType. Must run after AuthMiddleware. The resource ID is taken
// from the "id" path parameter when present.
func Authorize(authz extensions.AuthzProvider, action, resourceType string) gin.HandlerFunc {
	if authz == nil {
		panic("Authorize: authz must not be nil")
	}
	return func(c *gin.Context) {
		err := authz.Authorize(c.Request.Context(), extensions.AuthzRequest{
			User:         GetAuthInfo(c),
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.Param("id"),
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, datatypes.Failure(msgForbidden))
			return
		}
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken returns the token from "Authorization: Bearer <token>",
// or "" when the header is missing or uses another scheme. The scheme match
// is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
