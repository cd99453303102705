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

	"github.com/AleutianAI/PowerDesk/services/powerdesk/datatypes"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/services"
)

const (
	MsgRequestCreated = "服务申请提交成功"
	MsgRequestListOK  = "获取服务申请列表成功"
	msgNeedFilter     = "请提供联系电话或状态"
)

// RequestDesk files and lists service requests.
type RequestDesk interface {
	Create(ctx context.Context, in services.NewServiceRequest) (*repository.ServiceRequest, error)
	List(ctx context.Context, f repository.RequestFilter) ([]repository.ServiceRequest, error)
}

// RequestHandler serves /api/service-requests.
type RequestHandler struct {
	desk RequestDesk
}

func NewRequestHandler(desk RequestDesk) *RequestHandler {
	if desk == nil {
		panic("NewRequestHandler: desk must not be nil")
	}
	return &RequestHandler{desk: desk}
}

// HandleCreate serves POST /api/service-requests.
func (h *RequestHandler) HandleCreate(c *gin.Context) {
	var req datatypes.ServiceRequestBody
	if !bindJSON(c, &req) {
		return
	}
	created, err := h.desk.Create(c.Request.Context(), services.NewServiceRequest{
		UserID:             req.UserID,
		CustomerName:       req.CustomerName,
		Phone:              req.Phone,
		Address:            req.Address,
		ServiceTypeID:      req.ServiceTypeID,
		ProblemDescription: req.ProblemDescription,
	})
	if errors.Is(err, services.ErrUnknownServiceType) {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		internalError(c, "requests.create", err)
		return
	}
	ok(c, MsgRequestCreated, created)
}

// HandleList serves GET /api/service-requests?phone=&status=. At least one
// filter is required so the endpoint never dumps every ticket.
func (h *RequestHandler) HandleList(c *gin.Context) {
	f := repository.RequestFilter{Phone: c.Query("phone"), Status: c.Query("status")}
	if f.Phone == "" && f.Status == "" {
		fail(c, http.StatusBadRequest, msgNeedFilter)
		return
	}
	list, err := h.desk.List(c.Request.Context(), f)
	if err != nil {
		internalError(c, "requests.list", err)
		return
	}
	ok(c, MsgRequestListOK, list)
}

// HealthCheck serves GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
