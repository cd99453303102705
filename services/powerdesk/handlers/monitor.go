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
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/datatypes"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/middleware"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/services"
)

const (
	MsgElectricityOK  = "获取电费数据成功"
	MsgMonitorOK      = "获取监控数据成功"
	MsgUpdateElecOK   = "更新电费数据成功"
	MsgSystemStatusOK = "获取系统状态成功"
)

// Monitor is the dashboard service.
type Monitor interface {
	Summary(ctx context.Context) (*services.MonitorSummary, error)
	UpdateElectricity(ctx context.Context, u services.ElectricityUpdate) (*repository.ElectricityData, error)
	Status() services.SystemStatus
}

// MonitorHandler serves the electricity dashboard.
type MonitorHandler struct {
	monitor Monitor
	audit   extensions.AuditLogger
}

// NewMonitorHandler panics on a nil monitor. audit may be nil.
func NewMonitorHandler(m Monitor, audit extensions.AuditLogger) *MonitorHandler {
	if m == nil {
		panic("NewMonitorHandler: monitor must not be nil")
	}
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &MonitorHandler{monitor: m, audit: audit}
}

// HandleElectricity serves GET /api/monitor/electricity.
func (h *MonitorHandler) HandleElectricity(c *gin.Context) {
	h.summary(c, MsgElectricityOK)
}

// HandleServicesMonitor serves GET /api/services/monitor.
func (h *MonitorHandler) HandleServicesMonitor(c *gin.Context) {
	h.summary(c, MsgMonitorOK)
}

func (h *MonitorHandler) summary(c *gin.Context, msg string) {
	sum, err := h.monitor.Summary(c.Request.Context())
	if err != nil {
		internalError(c, "monitor.summary", err)
		return
	}
	ok(c, msg, sum)
}

// HandleUpdateElectricity serves POST /api/monitor/update-electricity.
// The body uses snake_case keys.
func (h *MonitorHandler) HandleUpdateElectricity(c *gin.Context) {
	var req datatypes.ElectricityUpdateRequest
	if !bindJSON(c, &req) {
		return
	}
	date, err := req.Date()
	if err != nil {
		fail(c, http.StatusBadRequest, msgBadBody)
		return
	}

	row, err := h.monitor.UpdateElectricity(c.Request.Context(), services.ElectricityUpdate{
		DataType:   req.DataType,
		Period:     req.Period,
		PeriodDate: date,
		Amount:     *req.Amount,
		Count:      *req.Count,
	})
	if err != nil {
		internalError(c, "monitor.update", err)
		return
	}

	actor := ""
	if info := middleware.GetAuthInfo(c); info != nil {
		actor = info.Username
	}
	_ = h.audit.Log(c.Request.Context(), extensions.AuditEvent{
		EventType:    "electricity.update",
		Timestamp:    time.Now().UTC(),
		UserID:       actor,
		Action:       "update",
		ResourceType: "electricity",
		ResourceID:   strconv.FormatUint(uint64(row.ID), 10),
		Outcome:      "success",
		Metadata: map[string]any{
			"data_type":   row.DataType,
			"period":      row.Period,
			"period_date": req.PeriodDate,
		},
	})
	ok(c, MsgUpdateElecOK, nil)
}

// HandleSystemStatus serves GET /api/monitor/system-status.
func (h *MonitorHandler) HandleSystemStatus(c *gin.Context) {
	ok(c, MsgSystemStatusOK, h.monitor.Status())
}
