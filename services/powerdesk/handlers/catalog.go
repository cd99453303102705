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

	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/services"
)

const (
	MsgKnowledgeListOK   = "获取知识库列表成功"
	MsgPopularOK         = "获取热门问题列表成功"
	MsgKnowledgeByTypeOK = "根据服务类型获取知识库成功"
	MsgServiceTypesOK    = "获取服务类型列表成功"
	MsgServicesOK        = "获取服务列表成功"
	MsgServiceOK         = "获取服务成功"
)

// KnowledgeReader lists knowledge-base entries.
type KnowledgeReader interface {
	FindAll(ctx context.Context) ([]repository.KnowledgeEntry, error)
	FindPopular(ctx context.Context) ([]repository.KnowledgeEntry, error)
	FindByServiceType(ctx context.Context, serviceTypeID uint) ([]repository.KnowledgeEntry, error)
}

// ServiceTypeReader lists service types.
type ServiceTypeReader interface {
	FindActive(ctx context.Context) ([]repository.ServiceType, error)
	FindByID(ctx context.Context, id uint) (*repository.ServiceType, error)
}

// CatalogHandler serves the read-only knowledge base and service types.
type CatalogHandler struct {
	kb    KnowledgeReader
	types ServiceTypeReader
}

func NewCatalogHandler(kb KnowledgeReader, types ServiceTypeReader) *CatalogHandler {
	if kb == nil || types == nil {
		panic("NewCatalogHandler: readers must not be nil")
	}
	return &CatalogHandler{kb: kb, types: types}
}

// HandleKnowledgeList serves GET /api/knowledge-base.
func (h *CatalogHandler) HandleKnowledgeList(c *gin.Context) {
	entries, err := h.kb.FindAll(c.Request.Context())
	if err != nil {
		internalError(c, "kb.list", err)
		return
	}
	ok(c, MsgKnowledgeListOK, entries)
}

// HandlePopular serves GET /api/knowledge-base/popular.
func (h *CatalogHandler) HandlePopular(c *gin.Context) {
	entries, err := h.kb.FindPopular(c.Request.Context())
	if err != nil {
		internalError(c, "kb.popular", err)
		return
	}
	ok(c, MsgPopularOK, entries)
}

// HandleKnowledgeByType serves GET /api/knowledge-base/service-type/:id.
func (h *CatalogHandler) HandleKnowledgeByType(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	entries, err := h.kb.FindByServiceType(c.Request.Context(), id)
	if err != nil {
		internalError(c, "kb.by_type", err)
		return
	}
	ok(c, MsgKnowledgeByTypeOK, entries)
}

// HandleServiceTypes serves GET /api/service-types.
func (h *CatalogHandler) HandleServiceTypes(c *gin.Context) {
	h.listTypes(c, MsgServiceTypesOK)
}

// HandleServices serves GET /api/services.
func (h *CatalogHandler) HandleServices(c *gin.Context) {
	h.listTypes(c, MsgServicesOK)
}

func (h *CatalogHandler) listTypes(c *gin.Context, msg string) {
	types, err := h.types.FindActive(c.Request.Context())
	if err != nil {
		internalError(c, "service_types.list", err)
		return
	}
	ok(c, msg, types)
}

// HandleService serves GET /api/services/:id.
func (h *CatalogHandler) HandleService(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	st, err := h.types.FindByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		fail(c, http.StatusBadRequest, services.ErrUnknownServiceType.Error())
		return
	}
	if err != nil {
		internalError(c, "service_types.get", err)
		return
	}
	ok(c, MsgServiceOK, st)
}
