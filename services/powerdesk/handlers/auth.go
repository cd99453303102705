// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/datatypes"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/services"
)

const (
	MsgLoginOK        = "登录成功"
	MsgFaceLoginOK    = "面容登录成功"
	MsgRegisterFaceOK = "面容注册成功"
	MsgQueryOK        = "查询成功"
	MsgRefreshOK      = "刷新令牌成功"
	msgBadToken       = "令牌无效或已过期"
)

// Authenticator is the login surface of the auth service.
type Authenticator interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	FaceLogin(ctx context.Context, faceData string) (*services.LoginResult, error)
	RegisterFace(ctx context.Context, idOrName, faceData string) error
	CheckFaceRegistered(ctx context.Context, idOrName string) (bool, error)
}

// TokenRefresher exchanges a refresh token for a new pair.
type TokenRefresher interface {
	Refresh(raw string) (access, refresh string, err error)
}

// AuthHandler serves /api/auth.
type AuthHandler struct {
	auth   Authenticator
	tokens TokenRefresher
}

// NewAuthHandler panics on a nil authenticator. tokens may be nil, which
// disables the refresh endpoint.
func NewAuthHandler(a Authenticator, tokens TokenRefresher) *AuthHandler {
	if a == nil {
		panic("NewAuthHandler: authenticator must not be nil")
	}
	return &AuthHandler{auth: a, tokens: tokens}
}

// authFailures are business errors whose text is shown to the user.
var authFailures = []error{
	services.ErrUserNotFound,
	services.ErrBadPassword,
	services.ErrUserDisabled,
	services.ErrFaceNotRegistered,
	services.ErrFaceNoMatch,
	services.ErrMissingFaceData,
}

// authError answers 400 "系统错误：<msg>" for business failures and a
// sanitized 500 otherwise.
func authError(c *gin.Context, op string, err error) {
	for _, known := range authFailures {
		if errors.Is(err, known) {
			fail(c, http.StatusBadRequest, msgSystemError+known.Error())
			return
		}
	}
	internalError(c, op, err)
}

// HandleLogin serves POST /api/auth/login.
func (h *AuthHandler) HandleLogin(c *gin.Context) {
	var req datatypes.LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.auth.Login(c.Request.Context(), services.LoginRequest{
		Username:   req.Username,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		authError(c, "auth.login", err)
		return
	}
	ok(c, MsgLoginOK, res)
}

// HandleFaceLogin serves POST /api/auth/face-login and /api/auth/face_login.
func (h *AuthHandler) HandleFaceLogin(c *gin.Context) {
	var req datatypes.FaceLoginRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.auth.FaceLogin(c.Request.Context(), req.FaceData)
	if err != nil {
		authError(c, "auth.face_login", err)
		return
	}
	ok(c, MsgFaceLoginOK, res)
}

// HandleRegisterFace serves POST /api/auth/register-face/:idOrName.
func (h *AuthHandler) HandleRegisterFace(c *gin.Context) {
	var req datatypes.RegisterFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FaceData == "" {
		fail(c, http.StatusBadRequest, services.ErrMissingFaceData.Error())
		return
	}
	if err := h.auth.RegisterFace(c.Request.Context(), c.Param("idOrName"), req.FaceData); err != nil {
		authError(c, "auth.register_face", err)
		return
	}
	ok(c, MsgRegisterFaceOK, true)
}

// HandleCheckFaceRegistered serves GET /api/auth/check-face-registered/:idOrName.
func (h *AuthHandler) HandleCheckFaceRegistered(c *gin.Context) {
	registered, err := h.auth.CheckFaceRegistered(c.Request.Context(), c.Param("idOrName"))
	if err != nil {
		internalError(c, "auth.check_face", err)
		return
	}
	ok(c, MsgQueryOK, registered)
}

// HandleRefresh serves POST /api/auth/refresh.
func (h *AuthHandler) HandleRefresh(c *gin.Context) {
	if h.tokens == nil {
		fail(c, http.StatusNotFound, "not found")
		return
	}
	var req datatypes.RefreshRequest
	if !bindJSON(c, &req) {
		return
	}
	access, refresh, err := h.tokens.Refresh(req.RefreshToken)
	if err != nil {
		if errors.Is(err, extensions.ErrUnauthorized) {
			fail(c, http.StatusUnauthorized, msgBadToken)
			return
		}
		internalError(c, "auth.refresh", err)
		return
	}
	ok(c, MsgRefreshOK, gin.H{"token": access, "refreshToken": refresh})
}
