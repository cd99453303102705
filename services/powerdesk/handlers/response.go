// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the PowerDesk HTTP endpoints on gin.
//
// Every JSON endpoint answers with a datatypes.Envelope. Client errors use
// 400 with a user-facing message; internal failures use 500 with a generic
// message while the cause is logged.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/PowerDesk/services/powerdesk/datatypes"
)

// Client-facing messages shared by several handlers.
const (
	msgBadBody     = "请求格式不正确"
	msgBadID       = "ID格式不正确"
	msgInternal    = "服务器内部错误，请稍后重试"
	msgBlocked     = "消息包含不允许的内容"
	msgSystemError = "系统错误："
)

func ok(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, datatypes.Success(message, data))
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, datatypes.Failure(message))
}

// internalError logs err and answers 500 without leaking it.
func internalError(c *gin.Context, op string, err error) {
	slog.Error("Request failed", "op", op, "path", c.FullPath(), "error", err)
	fail(c, http.StatusInternalServerError, sanitizeErrorForClient(err))
}

// bindJSON decodes and validates the body into dst. It answers 400 and
// returns false on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		slog.Debug("Rejected request body", "path", c.FullPath(), "error", err)
		fail(c, http.StatusBadRequest, msgBadBody)
		return false
	}
	if err := datatypes.Validate(dst); err != nil {
		var verr *datatypes.ValidationError
		if errors.As(err, &verr) {
			fail(c, http.StatusBadRequest, verr.Error())
		} else {
			fail(c, http.StatusBadRequest, msgBadBody)
		}
		return false
	}
	return true
}

// pathID parses the named path parameter as a positive id.
func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 0)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, msgBadID)
		return 0, false
	}
	return uint(id), true
}

// sanitizeErrorForClient replaces internal error detail with a generic
// message. The detail is logged at debug level only.
func sanitizeErrorForClient(err error) string {
	if err != nil {
		slog.Debug("Sanitizing error for client", "original_error", err.Error())
	}
	return msgInternal
}
