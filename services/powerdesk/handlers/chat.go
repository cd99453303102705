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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/datatypes"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/observability"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/relay"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/services"
)

// =============================================================================
// Messages
// =============================================================================

const (
	MsgChatOK        = "AI对话成功"
	MsgChatCached    = "AI对话成功（缓存）"
	MsgEmptyPrompt   = "提问内容不能为空"
	MsgSendOK        = "消息处理成功"
	MsgHistoryOK     = "获取聊天记录成功"
	MsgChatHealthy   = "聊天服务运行正常"
	msgStreamTooLong = "提问内容超出长度限制"
)

// =============================================================================
// Dependencies
// =============================================================================

// ChatAnswerer answers synchronous chat turns and reads history.
type ChatAnswerer interface {
	Answer(ctx context.Context, req services.ChatRequest) (*services.ChatAnswer, error)
	History(ctx context.Context, sessionID string) ([]repository.ChatRecord, error)
}

// StreamServer runs one streaming session to completion.
type StreamServer interface {
	Serve(ctx context.Context, prompt string, em relay.Emitter) relay.Result
}

// =============================================================================
// Handler
// =============================================================================

// ChatHandler serves the /api/chat endpoints.
//
// # Thread Safety
//
// Safe for concurrent use.
type ChatHandler struct {
	answerer ChatAnswerer
	streams  StreamServer
	filter   extensions.MessageFilter
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

// NewChatHandler creates a ChatHandler.
//
// # Inputs
//
//   - answerer: Synchronous chat pipeline. Must not be nil.
//   - streams: Streaming relay. Must not be nil.
//   - opts: MessageFilter screens streaming prompts; other fields unused.
//   - metrics: May be nil.
//
// # Limitations
//
//   - Panics on nil answerer or streams.
func NewChatHandler(answerer ChatAnswerer, streams StreamServer, opts extensions.ServiceOptions, metrics *observability.Metrics) *ChatHandler {
	if answerer == nil {
		panic("NewChatHandler: answerer must not be nil")
	}
	if streams == nil {
		panic("NewChatHandler: streams must not be nil")
	}
	opts = opts.WithDefaults()
	return &ChatHandler{
		answerer: answerer,
		streams:  streams,
		filter:   opts.MessageFilter,
		metrics:  metrics,
		tracer:   otel.Tracer("powerdesk.handlers.chat"),
	}
}

// HandleChat serves POST /api/chat.
//
// Request body: {"prompt": "..."}. On success data is the answer text and
// the message tells whether it came from the cache.
func (h *ChatHandler) HandleChat(c *gin.Context) {
	success := false
	defer func() { h.metrics.RecordRequest(observability.EndpointChat, success) }()

	var req datatypes.PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil || datatypes.Validate(&req) != nil {
		h.metrics.RecordError(observability.EndpointChat, observability.ErrorCodeValidation)
		fail(c, http.StatusBadRequest, MsgEmptyPrompt)
		return
	}

	ans, ok := h.answer(c, observability.EndpointChat, services.ChatRequest{Message: req.Prompt})
	if !ok {
		return
	}
	success = true
	msg := MsgChatOK
	if ans.FromCache {
		msg = MsgChatCached
	}
	c.JSON(http.StatusOK, datatypes.Success(msg, ans.Response))
}

// HandleSend serves POST /api/chat/send.
func (h *ChatHandler) HandleSend(c *gin.Context) {
	success := false
	defer func() { h.metrics.RecordRequest(observability.EndpointChatSend, success) }()

	var req datatypes.SendMessageRequest
	if !bindJSON(c, &req) {
		h.metrics.RecordError(observability.EndpointChatSend, observability.ErrorCodeValidation)
		return
	}

	ans, ok := h.answer(c, observability.EndpointChatSend, services.ChatRequest{
		Message:   req.Message,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	})
	if !ok {
		return
	}
	success = true
	c.JSON(http.StatusOK, datatypes.Success(MsgSendOK, ans))
}

func (h *ChatHandler) answer(c *gin.Context, endpoint observability.Endpoint, req services.ChatRequest) (*services.ChatAnswer, bool) {
	ans, err := h.answerer.Answer(c.Request.Context(), req)
	switch {
	case err == nil:
		return ans, true
	case errors.Is(err, services.ErrEmptyPrompt):
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		fail(c, http.StatusBadRequest, MsgEmptyPrompt)
	case errors.Is(err, extensions.ErrMessageBlocked):
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		fail(c, http.StatusBadRequest, msgBlocked)
	default:
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		internalError(c, "chat.answer", err)
	}
	return nil, false
}

// HandleHistory serves GET /api/chat/history/:sessionId.
func (h *ChatHandler) HandleHistory(c *gin.Context) {
	records, err := h.answerer.History(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		internalError(c, "chat.history", err)
		return
	}
	ok(c, MsgHistoryOK, records)
}

// HandleHealth serves GET /api/chat/health.
func (h *ChatHandler) HandleHealth(c *gin.Context) {
	ok(c, MsgChatHealthy, nil)
}

// HandleStream serves GET /api/chat/stream?prompt=.
//
// # Description
//
// Switches the response to Server-Sent Events and hands the connection to
// the relay, which replays a cached answer or forwards a live one. Every
// chunk is one `data:` message. The response ends when the relay reaches a
// terminal state.
//
// HTTP status before streaming starts:
//   - 400: Prompt too long or rejected by the message filter.
//   - 500: ResponseWriter cannot flush.
//
// An empty prompt is not an HTTP error: the relay sends one notice and
// closes the stream.
func (h *ChatHandler) HandleStream(c *gin.Context) {
	endpoint := observability.EndpointChatStream
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleStream")
	defer span.End()

	prompt := strings.TrimSpace(c.Query("prompt"))
	if len(prompt) > datatypes.MaxPromptBytes {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		h.metrics.RecordRequest(endpoint, false)
		fail(c, http.StatusBadRequest, msgStreamTooLong)
		return
	}

	if prompt != "" {
		res, err := h.filter.FilterInput(ctx, prompt)
		if err != nil {
			span.RecordError(err)
			h.metrics.RecordRequest(endpoint, false)
			internalError(c, "chat.stream.filter", err)
			return
		}
		if res.WasBlocked {
			span.SetStatus(codes.Error, "prompt blocked")
			h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
			h.metrics.RecordRequest(endpoint, false)
			fail(c, http.StatusBadRequest, msgBlocked)
			return
		}
		prompt = res.Filtered
	}

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		h.metrics.RecordRequest(endpoint, false)
		slog.Error("Failed to create SSE writer", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.Failure("Streaming not supported"))
		return
	}
	c.Status(http.StatusOK)

	start := time.Now()
	res := h.streams.Serve(ctx, prompt, writer)
	if err := writer.Close(); err != nil {
		slog.Warn("Failed to reset stream write deadline", "error", err)
	}
	success := res.State == relay.StateCompleted
	h.metrics.RecordRequest(endpoint, success)

	span.SetAttributes(
		attribute.String("stream.final_state", res.State.String()),
		attribute.String("stream.source", res.Source),
		attribute.Int("stream.chunks", res.Chunks),
	)
	slog.Info("Chat stream closed",
		"state", res.State.String(),
		"source", res.Source,
		"chunks", res.Chunks,
		"cached", res.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
