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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/auth"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/datatypes"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/middleware"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/services"
)

const (
	MsgUserListOK   = "获取用户列表成功"
	MsgUserOK       = "获取用户成功"
	MsgUserUpdated  = "更新用户成功"
	MsgUserDeleted  = "删除用户成功"
	MsgUserFoundOK  = "查询用户成功"
	msgAccessDenied = "没有权限执行该操作"
)

// UserAdmin is the user administration service.
type UserAdmin interface {
	List(ctx context.Context, page, size int) (*services.Page[repository.User], error)
	Get(ctx context.Context, id uint) (*repository.User, error)
	GetByUsername(ctx context.Context, username string) (*repository.User, error)
	Update(ctx context.Context, actor string, id uint, upd services.UserUpdate) (*repository.User, error)
	Delete(ctx context.Context, actor string, id uint) error
}

// UserHandler serves /api/users. Routes are expected behind
// middleware.AuthMiddleware; each action is checked with the AuthzProvider.
type UserHandler struct {
	users UserAdmin
	authz extensions.AuthzProvider
}

// NewUserHandler panics on nil users. A nil authz allows everything.
func NewUserHandler(users UserAdmin, authz extensions.AuthzProvider) *UserHandler {
	if users == nil {
		panic("NewUserHandler: users must not be nil")
	}
	if authz == nil {
		authz = &extensions.NopAuthzProvider{}
	}
	return &UserHandler{users: users, authz: authz}
}

// authorize answers 403 and returns false when the caller may not act.
func (h *UserHandler) authorize(c *gin.Context, action, resourceID string) bool {
	err := h.authz.Authorize(c.Request.Context(), extensions.AuthzRequest{
		User:         middleware.GetAuthInfo(c),
		Action:       action,
		ResourceType: auth.ResourceUser,
		ResourceID:   resourceID,
	})
	if err != nil {
		fail(c, http.StatusForbidden, msgAccessDenied)
		return false
	}
	return true
}

func actorName(c *gin.Context) string {
	if info := middleware.GetAuthInfo(c); info != nil {
		return info.Username
	}
	return ""
}

func userError(c *gin.Context, op string, err error) {
	if errors.Is(err, services.ErrUserNotFound) {
		fail(c, http.StatusBadRequest, services.ErrUserNotFound.Error())
		return
	}
	internalError(c, op, err)
}

// HandleList serves GET /api/users?page=&size=. page is zero-based.
func (h *UserHandler) HandleList(c *gin.Context) {
	if !h.authorize(c, "read", "") {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(services.DefaultPageSize)))

	res, err := h.users.List(c.Request.Context(), page, size)
	if err != nil {
		internalError(c, "users.list", err)
		return
	}
	ok(c, MsgUserListOK, res)
}

// HandleGet serves GET /api/users/:id.
func (h *UserHandler) HandleGet(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid || !h.authorize(c, "read", c.Param("id")) {
		return
	}
	u, err := h.users.Get(c.Request.Context(), id)
	if err != nil {
		userError(c, "users.get", err)
		return
	}
	ok(c, MsgUserOK, u)
}

// HandleGetByUsername serves GET /api/users/username/:username.
func (h *UserHandler) HandleGetByUsername(c *gin.Context) {
	name := c.Param("username")
	if !h.authorize(c, "read", name) {
		return
	}
	u, err := h.users.GetByUsername(c.Request.Context(), name)
	if err != nil {
		userError(c, "users.get_by_username", err)
		return
	}
	ok(c, MsgUserFoundOK, u)
}

// HandleUpdate serves PUT /api/users/:id with a partial body.
func (h *UserHandler) HandleUpdate(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid || !h.authorize(c, "update", c.Param("id")) {
		return
	}
	var req datatypes.UserUpdateRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.users.Update(c.Request.Context(), actorName(c), id, services.UserUpdate{
		RealName: req.RealName,
		Phone:    req.Phone,
		Email:    req.Email,
		Role:     req.Role,
	})
	if err != nil {
		userError(c, "users.update", err)
		return
	}
	ok(c, MsgUserUpdated, u)
}

// HandleDelete serves DELETE /api/users/:id.
func (h *UserHandler) HandleDelete(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid || !h.authorize(c, "delete", c.Param("id")) {
		return
	}
	if err := h.users.Delete(c.Request.Context(), actorName(c), id); err != nil {
		userError(c, "users.delete", err)
		return
	}
	ok(c, MsgUserDeleted, nil)
}
