// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/auth"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/handlers"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/middleware"
)

// Handlers groups the endpoint handlers mounted by SetupRoutes.
type Handlers struct {
	Chat     *handlers.ChatHandler
	Auth     *handlers.AuthHandler
	Catalog  *handlers.CatalogHandler
	Monitor  *handlers.MonitorHandler
	Users    *handlers.UserHandler
	Requests *handlers.RequestHandler
}

// Options configures the cross-cutting parts of the router.
type Options struct {
	// Extensions supplies AuthProvider and AuthzProvider for protected routes.
	Extensions extensions.ServiceOptions

	// ChatLimiter throttles /api/chat*. Nil disables limiting.
	ChatLimiter *middleware.ClientRateLimiter

	// Gatherer backs /metrics. Nil uses prometheus.DefaultGatherer; the
	// endpoint is omitted when DisableMetrics is set.
	Gatherer       prometheus.Gatherer
	DisableMetrics bool
}

// SetupRoutes registers every PowerDesk endpoint on router.
func SetupRoutes(router *gin.Engine, h Handlers, opts Options) {
	ext := opts.Extensions.WithDefaults()
	requireAuth := middleware.AuthMiddleware(ext.AuthProvider)

	router.GET("/health", handlers.HealthCheck)
	if !opts.DisableMetrics {
		gatherer := opts.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")

	chat := api.Group("/chat")
	if opts.ChatLimiter != nil {
		chat.Use(opts.ChatLimiter.Middleware())
	}
	{
		chat.POST("", h.Chat.HandleChat)
		chat.GET("/stream", h.Chat.HandleStream)
		chat.POST("/send", h.Chat.HandleSend)
		chat.GET("/history/:sessionId", h.Chat.HandleHistory)
		chat.GET("/health", h.Chat.HandleHealth)
	}

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", h.Auth.HandleLogin)
		authGroup.POST("/face-login", h.Auth.HandleFaceLogin)
		authGroup.POST("/face_login", h.Auth.HandleFaceLogin)
		authGroup.POST("/register-face/:idOrName", h.Auth.HandleRegisterFace)
		authGroup.GET("/check-face-registered/:idOrName", h.Auth.HandleCheckFaceRegistered)
		authGroup.GET("/checkFaceRegistered/:idOrName", h.Auth.HandleCheckFaceRegistered)
		authGroup.POST("/refresh", h.Auth.HandleRefresh)
	}

	kb := api.Group("/knowledge-base")
	{
		kb.GET("", h.Catalog.HandleKnowledgeList)
		kb.GET("/popular", h.Catalog.HandlePopular)
		kb.GET("/service-type/:id", h.Catalog.HandleKnowledgeByType)
	}

	api.GET("/service-types", h.Catalog.HandleServiceTypes)
	svc := api.Group("/services")
	{
		svc.GET("", h.Catalog.HandleServices)
		svc.GET("/monitor", h.Monitor.HandleServicesMonitor)
		svc.GET("/:id", h.Catalog.HandleService)
	}

	monitor := api.Group("/monitor")
	{
		monitor.GET("/electricity", h.Monitor.HandleElectricity)
		monitor.GET("/system-status", h.Monitor.HandleSystemStatus)
		monitor.POST("/update-electricity",
			requireAuth,
			middleware.Authorize(ext.AuthzProvider, "update", auth.ResourceElectricity),
			h.Monitor.HandleUpdateElectricity)
	}

	users := api.Group("/users", requireAuth)
	{
		users.GET("", h.Users.HandleList)
		users.GET("/username/:username", h.Users.HandleGetByUsername)
		users.GET("/:id", h.Users.HandleGet)
		users.PUT("/:id", h.Users.HandleUpdate)
		users.DELETE("/:id", h.Users.HandleDelete)
	}

	requests := api.Group("/service-requests")
	{
		requests.POST("", h.Requests.HandleCreate)
		requests.GET("", h.Requests.HandleList)
	}
}
