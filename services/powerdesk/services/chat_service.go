// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services holds the business logic behind the PowerDesk handlers.
//
// Services take their stores as small interfaces so handlers and tests can
// wire the gorm repositories, the response cache and the chat client
// independently. Every method accepts a context for cancellation and
// tracing.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/services/llm"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/cache"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/observability"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
)

var chatTracer = otel.Tracer("powerdesk.services.chat")

// ErrEmptyPrompt is returned when the message is empty after trimming.
var ErrEmptyPrompt = errors.New("prompt is empty")

// SessionPrefix starts every generated chat session id.
const SessionPrefix = "SESS_"

// Answer sources, as reported in ChatAnswer.Source and in metrics.
const (
	SourceCache         = "cache"
	SourceKnowledge     = "knowledge"
	SourceRule          = "rule"
	SourceExternal      = "external"
	SourceClarification = "clarification"
)

// =============================================================================
// Store contracts
// =============================================================================

// KnowledgeStore is the subset of the knowledge-base repository the chat
// path needs.
type KnowledgeStore interface {
	FindByKeyword(ctx context.Context, text string) ([]repository.KnowledgeEntry, error)
	IncrementHitCount(ctx context.Context, id uint) error
}

// ServiceTypeLookup resolves service-type labels to rows.
type ServiceTypeLookup interface {
	FindByName(ctx context.Context, name string) (*repository.ServiceType, error)
}

// ChatHistoryStore persists and reads chat history.
type ChatHistoryStore interface {
	Save(ctx context.Context, rec *repository.ChatRecord) error
	FindBySession(ctx context.Context, sessionID string) ([]repository.ChatRecord, error)
}

// UserLookup finds users by primary key.
type UserLookup interface {
	FindByID(ctx context.Context, id uint) (*repository.User, error)
}

// =============================================================================
// Types
// =============================================================================

// ChatRequest is one synchronous chat turn.
type ChatRequest struct {
	Message   string
	SessionID string
	UserID    *uint
}

// ChatAnswer is the reply to a ChatRequest.
type ChatAnswer struct {
	Response     string `json:"response"`
	ServiceType  string `json:"serviceType,omitempty"`
	NeedMoreInfo bool   `json:"needMoreInfo"`
	SessionID    string `json:"sessionId"`
	FromCache    bool   `json:"fromCache"`
	Source       string `json:"-"`
}

// ChatConfig tunes the orchestrator.
type ChatConfig struct {
	// ExternalFallback sends prompts no rule matched to the chat client.
	// When false they get ClarificationAnswer.
	ExternalFallback bool

	// CacheTTL applies to externally generated answers. Default: 1h.
	CacheTTL time.Duration

	// Rules overrides DefaultRules. Order matters.
	Rules []Rule
}

// ChatDeps are the collaborators of a ChatOrchestrator. Filter and Metrics
// are optional.
type ChatDeps struct {
	Cache        cache.ResponseCache
	Client       llm.ChatClient
	Knowledge    KnowledgeStore
	ServiceTypes ServiceTypeLookup
	History      ChatHistoryStore
	Users        UserLookup
	Filter       extensions.MessageFilter
	Metrics      *observability.Metrics
}

// =============================================================================
// ChatOrchestrator
// =============================================================================

// ChatOrchestrator answers synchronous chat requests.
//
// # Description
//
// Sources are tried strictly in order and the first one that yields an
// answer wins:
//
//  1. Response cache.
//  2. Knowledge base keyword search (first match; its hit count is bumped).
//  3. Keyword rules.
//  4. External chat client, when ExternalFallback is on. Its answer is cached.
//  5. ClarificationAnswer.
//
// A chat history record is written for every answered request; a failed
// write is logged and does not affect the reply.
//
// # Thread Safety
//
// Safe for concurrent use.
type ChatOrchestrator struct {
	deps  ChatDeps
	cfg   ChatConfig
	rules []Rule
	now   func() time.Time
}

// NewChatOrchestrator creates an orchestrator. Cache, Client, Knowledge
// and History are required.
func NewChatOrchestrator(deps ChatDeps, cfg ChatConfig) *ChatOrchestrator {
	if deps.Cache == nil || deps.Client == nil || deps.Knowledge == nil || deps.History == nil {
		panic("services.NewChatOrchestrator: cache, client, knowledge and history are required")
	}
	if deps.Filter == nil {
		deps.Filter = &extensions.NopMessageFilter{}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &ChatOrchestrator{deps: deps, cfg: cfg, rules: rules, now: time.Now}
}

// Answer resolves one chat turn.
//
// # Inputs
//
//   - ctx: Request context.
//   - req: The message plus optional session and user ids. A missing
//     session id gets a fresh one.
//
// # Outputs
//
//   - *ChatAnswer: The reply. Never nil when err is nil.
//   - error: ErrEmptyPrompt, or extensions.ErrMessageBlocked from the
//     message filter.
func (o *ChatOrchestrator) Answer(ctx context.Context, req ChatRequest) (*ChatAnswer, error) {
	ctx, span := chatTracer.Start(ctx, "ChatOrchestrator.Answer")
	defer span.End()

	start := o.now()
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrEmptyPrompt
	}

	filtered, err := o.deps.Filter.FilterInput(ctx, text)
	if err != nil {
		span.SetStatus(codes.Error, "input blocked")
		return nil, err
	}
	if filtered.WasBlocked {
		return nil, fmt.Errorf("%w: %s", extensions.ErrMessageBlocked, filtered.BlockReason)
	}
	text = filtered.Filtered

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	ans, serviceTypeID := o.resolve(ctx, text)
	ans.SessionID = sessionID

	out, err := o.deps.Filter.FilterOutput(ctx, ans.Response)
	if err != nil {
		return nil, err
	}
	ans.Response = out.Filtered

	o.persist(ctx, sessionID, o.lookupUser(ctx, req.UserID), text, ans.Response, serviceTypeID, start)
	o.deps.Metrics.RecordAnswer(ans.Source)

	span.SetAttributes(
		attribute.String("chat.source", ans.Source),
		attribute.String("chat.session_id", sessionID),
	)
	return ans, nil
}

// History returns the records of a session in creation order.
func (o *ChatOrchestrator) History(ctx context.Context, sessionID string) ([]repository.ChatRecord, error) {
	return o.deps.History.FindBySession(ctx, sessionID)
}

// resolve walks the answer sources. It never fails; store errors degrade
// to the next source.
func (o *ChatOrchestrator) resolve(ctx context.Context, text string) (*ChatAnswer, *uint) {
	key := cache.KeyFor(text)

	if cached, ok := o.fromCache(ctx, key); ok {
		return &ChatAnswer{Response: cached, FromCache: true, Source: SourceCache}, nil
	}

	entries, err := o.deps.Knowledge.FindByKeyword(ctx, text)
	if err != nil {
		slog.Warn("knowledge base lookup failed", "error", err)
		o.deps.Metrics.RecordError(observability.EndpointChatSend, observability.ErrorCodePersistence)
	}
	if len(entries) > 0 {
		kb := entries[0]
		if err := o.deps.Knowledge.IncrementHitCount(ctx, kb.ID); err != nil {
			slog.Warn("failed to bump knowledge hit count", "id", kb.ID, "error", err)
		}
		ans := &ChatAnswer{Response: kb.Answer, Source: SourceKnowledge}
		if kb.ServiceType != nil {
			ans.ServiceType = kb.ServiceType.Name
		}
		return ans, kb.ServiceTypeID
	}

	if rule, ok := MatchRule(o.rules, text); ok {
		ans := &ChatAnswer{
			Response:     rule.Response,
			ServiceType:  rule.ServiceType,
			NeedMoreInfo: rule.NeedMoreInfo,
			Source:       SourceRule,
		}
		return ans, o.serviceTypeID(ctx, rule.ServiceType)
	}

	if o.cfg.ExternalFallback {
		if answer, ok := o.external(ctx, key, text); ok {
			return &ChatAnswer{Response: answer, Source: SourceExternal}, nil
		}
	}

	return &ChatAnswer{Response: ClarificationAnswer, Source: SourceClarification}, nil
}

func (o *ChatOrchestrator) fromCache(ctx context.Context, key string) (string, bool) {
	hit, err := o.deps.Cache.Has(ctx, key)
	if err != nil {
		slog.Warn("cache lookup failed, treating as miss", "error", err)
		o.deps.Metrics.RecordError(observability.EndpointChatSend, observability.ErrorCodeCache)
		return "", false
	}
	if !hit {
		return "", false
	}
	value, ok, err := o.deps.Cache.Get(ctx, key)
	if err != nil {
		slog.Warn("cache read failed, treating as miss", "error", err)
		o.deps.Metrics.RecordError(observability.EndpointChatSend, observability.ErrorCodeCache)
		return "", false
	}
	return value, ok
}

// external asks the chat client and caches the extracted answer text.
func (o *ChatOrchestrator) external(ctx context.Context, key, text string) (string, bool) {
	body, err := o.deps.Client.Complete(ctx, llm.UserPrompt(text))
	if err != nil {
		slog.Warn("external chat call failed", "error", err)
		o.deps.Metrics.RecordError(observability.EndpointChatSend, observability.ErrorCodeUpstream)
		return "", false
	}
	answer := llm.CompletionText(body)
	if strings.TrimSpace(answer) == "" {
		return "", false
	}
	if err := o.deps.Cache.Set(ctx, key, answer, o.cfg.CacheTTL); err != nil {
		slog.Warn("failed to cache external answer", "error", err)
		o.deps.Metrics.RecordError(observability.EndpointChatSend, observability.ErrorCodeCache)
	}
	return answer, true
}

func (o *ChatOrchestrator) serviceTypeID(ctx context.Context, name string) *uint {
	if name == "" || o.deps.ServiceTypes == nil {
		return nil
	}
	st, err := o.deps.ServiceTypes.FindByName(ctx, name)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Warn("service type lookup failed", "name", name, "error", err)
		}
		return nil
	}
	return &st.ID
}

// lookupUser keeps the id only if the user exists.
func (o *ChatOrchestrator) lookupUser(ctx context.Context, id *uint) *uint {
	if id == nil || o.deps.Users == nil {
		return nil
	}
	u, err := o.deps.Users.FindByID(ctx, *id)
	if err != nil {
		return nil
	}
	return &u.ID
}

func (o *ChatOrchestrator) persist(ctx context.Context, sessionID string, userID *uint, message, response string, serviceTypeID *uint, start time.Time) {
	rec := &repository.ChatRecord{
		SessionID:     sessionID,
		UserID:        userID,
		UserMessage:   message,
		BotResponse:   response,
		ServiceTypeID: serviceTypeID,
		ResponseTime:  o.now().Sub(start).Milliseconds(),
	}
	if err := o.deps.History.Save(ctx, rec); err != nil {
		slog.Error("failed to persist chat record", "session_id", sessionID, "error", err)
		o.deps.Metrics.RecordError(observability.EndpointChatSend, observability.ErrorCodePersistence)
	}
}

// NewSessionID returns SessionPrefix followed by eight hex characters.
func NewSessionID() string {
	return SessionPrefix + uuid.NewString()[:8]
}
