// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package relay delivers one chat answer to one streaming client.
//
// A session resolves its source once: a cached answer is replayed in small
// windows, otherwise the external chat client is streamed and its deltas
// are forwarded and accumulated. A clean live answer is written back to the
// cache, even when the client left before it finished. Every session ends
// exactly once, through completion, timeout, upstream error or client
// failure.
//
// # Goroutines
//
// Serve runs on the caller's goroutine and only waits, keeps the
// connection alive and enforces the deadline. Source resolution and
// delivery run on a worker goroutine. In live mode a third goroutine owns
// the upstream call and hands lines to the worker over a channel. All of
// them are tracked; Wait blocks until they have exited.
package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/PowerDesk/services/llm"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/cache"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/observability"
)

var tracer = otel.Tracer("powerdesk.relay")

// Messages sent to the client by the relay itself.
const (
	InvalidPromptMessage = "请输入有效的问题！"
	TimeoutMessage       = "连接超时，请稍后重试！"
)

// Default tuning.
const (
	DefaultTimeout           = 5 * time.Minute
	DefaultReplayChunkRunes  = 10
	DefaultReplayDelay       = 50 * time.Millisecond
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultEmitGrace         = 500 * time.Millisecond

	lineBuffer = 16
)

// Source labels used in results and metrics.
const (
	SourceNone  = "none"
	SourceCache = "cache"
	SourceLive  = "live"
)

// =============================================================================
// State
// =============================================================================

// State is the lifecycle position of a session.
type State int

const (
	StateIdle State = iota
	StateAwaitingSource
	StateReplayingCache
	StateStreamingLive
	StateCompleted
	StateTimedOut
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSource:
		return "awaiting_source"
	case StateReplayingCache:
		return "replaying_cache"
	case StateStreamingLive:
		return "streaming_live"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateTimedOut || s == StateErrored
}

// =============================================================================
// Contracts
// =============================================================================

// Emitter is the client side of a session.
//
// Implementations need not be safe for concurrent use; the relay
// serializes every call. No call starts after Serve returns. A call that
// is still blocked when the session ends gets Config.EmitGrace to return
// before Serve gives up on it, so implementations writing to a network
// connection should bound each write.
type Emitter interface {
	// Send delivers one text chunk. An error means the client is gone.
	Send(text string) error

	// KeepAlive writes a no-op frame so proxies keep the connection open.
	KeepAlive() error
}

// Config tunes a Relay. Zero values take the defaults; a negative
// ReplayDelay or KeepAliveInterval disables it.
type Config struct {
	Timeout           time.Duration
	ReplayChunkRunes  int
	ReplayDelay       time.Duration
	KeepAliveInterval time.Duration
	CacheTTL          time.Duration

	// EmitGrace bounds how long a finished session waits for an emitter
	// call in flight, including the one delivering the timeout notice.
	EmitGrace time.Duration
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ReplayChunkRunes <= 0 {
		cfg.ReplayChunkRunes = DefaultReplayChunkRunes
	}
	if cfg.ReplayDelay == 0 {
		cfg.ReplayDelay = DefaultReplayDelay
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.EmitGrace <= 0 {
		cfg.EmitGrace = DefaultEmitGrace
	}
	return cfg
}

// Result summarizes a finished session.
type Result struct {
	State    State
	Source   string
	Chunks   int
	Answer   string
	Cached   bool
	Duration time.Duration
}

// =============================================================================
// Relay
// =============================================================================

// Relay serves streaming sessions.
//
// # Thread Safety
//
// Safe for concurrent use; each Serve call owns its own session.
type Relay struct {
	cache   cache.ResponseCache
	client  llm.ChatClient
	cfg     Config
	metrics *observability.Metrics
	wg      sync.WaitGroup
}

// New creates a Relay. metrics may be nil.
func New(c cache.ResponseCache, client llm.ChatClient, cfg Config, metrics *observability.Metrics) *Relay {
	if c == nil {
		panic("relay.New: cache must not be nil")
	}
	if client == nil {
		panic("relay.New: client must not be nil")
	}
	return &Relay{
		cache:   c,
		client:  client,
		cfg:     applyConfigDefaults(cfg),
		metrics: metrics,
	}
}

// Wait blocks until every worker goroutine started by Serve has exited.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// Serve runs one session for prompt and returns once it has ended.
//
// # Description
//
// An empty or whitespace-only prompt gets InvalidPromptMessage and ends
// at once. Otherwise the session is resolved on a worker goroutine while
// Serve watches for completion, the absolute deadline, ctx cancellation
// (client gone) and the keep-alive tick. The deadline ends the session
// even while an emitter call is blocked.
//
// # Inputs
//
//   - ctx: The request context. Cancellation ends the session as errored.
//   - prompt: The user's question, untrimmed.
//   - em: Where chunks go. No call starts after Serve returns.
//
// # Outputs
//
//   - Result: Final state, source and what was delivered.
//
// # Limitations
//
//   - After a client failure the live upstream call keeps running until
//     it ends or the deadline passes, so that a complete answer still
//     reaches the cache. Wait covers these goroutines.
//   - Result.Cached only reflects caching done before Serve returned.
func (r *Relay) Serve(ctx context.Context, prompt string, em Emitter) Result {
	ctx, span := tracer.Start(ctx, "relay.Serve")
	defer span.End()

	started := time.Now()
	r.metrics.StreamStarted(observability.EndpointChatStream)
	defer r.metrics.StreamEnded(observability.EndpointChatStream)

	trimmed := strings.TrimSpace(prompt)
	s := &session{
		prompt: trimmed,
		key:    cache.KeyFor(trimmed),
		em:     em,
		emit:   make(chan struct{}, 1),
		cancel: func() {},
		done:   make(chan struct{}),
		source: SourceNone,
		state:  StateIdle,
	}

	if trimmed == "" {
		s.sendOrFail(InvalidPromptMessage)
		s.finish(StateCompleted)
		return r.end(span, s, started, "")
	}

	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
	s.cancel = cancel

	s.setState(StateAwaitingSource)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.work(workCtx, s)
	}()

	deadline := time.NewTimer(r.cfg.Timeout)
	defer deadline.Stop()

	var tick <-chan time.Time
	if r.cfg.KeepAliveInterval > 0 {
		ticker := time.NewTicker(r.cfg.KeepAliveInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.done:
			return r.end(span, s, started, "")

		case <-deadline.C:
			if s.finish(StateTimedOut) {
				slog.Warn("stream session timed out", "prompt_len", utf8.RuneCountInString(trimmed), "timeout", r.cfg.Timeout)
				r.metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeTimeout)
				return r.end(span, s, started, TimeoutMessage)
			}
			return r.end(span, s, started, "")

		case <-ctx.Done():
			if s.finish(StateErrored) {
				r.metrics.RecordClientDisconnect(observability.EndpointChatStream)
			}
			return r.end(span, s, started, "")

		case <-tick:
			if s.keepAlive() {
				r.metrics.RecordKeepAlive(observability.EndpointChatStream)
			}
		}
	}
}

// work resolves the source and delivers it. It runs on its own goroutine
// and ends the session unless Serve already has.
func (r *Relay) work(ctx context.Context, s *session) {
	hit, err := r.cache.Has(ctx, s.key)
	if err != nil {
		slog.Warn("cache lookup failed, streaming live", "error", err)
		r.metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeCache)
	}
	if hit {
		value, ok, err := r.cache.Get(ctx, s.key)
		switch {
		case err != nil:
			slog.Warn("cache read failed, streaming live", "error", err)
			r.metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeCache)
		case ok:
			r.replay(ctx, s, value)
			return
		}
	}
	r.streamLive(ctx, s)
}

// replay sends a cached answer in windows with a pacing delay between
// them. It never writes to the cache.
func (r *Relay) replay(ctx context.Context, s *session, value string) {
	if !s.enter(StateReplayingCache, SourceCache) {
		return
	}
	for i, piece := range llm.SplitRunes(value, r.cfg.ReplayChunkRunes) {
		if i > 0 && !sleep(ctx, r.cfg.ReplayDelay) {
			return
		}
		if !s.sendOrFail(piece) {
			return
		}
	}
	s.finish(StateCompleted)
}

// streamLive runs the upstream call on its own goroutine and consumes its
// lines here. The channel is the only thing the two goroutines share.
//
// Deltas are accumulated whether or not the client is still there. The
// answer is cached only when the upstream ended without error before the
// deadline.
func (r *Relay) streamLive(ctx context.Context, s *session) {
	if !s.enter(StateStreamingLive, SourceLive) {
		return
	}

	lines := make(chan string, lineBuffer)
	var upstreamErr error
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(lines)
		upstreamErr = r.client.Stream(ctx, llm.UserPrompt(s.prompt), lines)
	}()

	var answer strings.Builder
	failed := false
	for line := range lines {
		if failed {
			continue
		}
		switch Classify(line) {
		case LineError:
			failed = true
			r.metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeUpstream)
			s.sendOrFail(line)
			s.finish(StateErrored)
			s.cancel()

		case LineData:
			delta, ok := ExtractDelta(line)
			if !ok {
				r.metrics.RecordMalformedLine()
				continue
			}
			if delta == "" {
				continue
			}
			answer.WriteString(delta)
			s.sendOrFail(delta)
		}
	}

	if upstreamErr != nil {
		slog.Debug("upstream stream ended early", "error", upstreamErr)
	}
	clean := !failed && upstreamErr == nil && ctx.Err() == nil
	if clean && answer.Len() > 0 {
		if err := r.cache.Set(ctx, s.key, answer.String(), r.cfg.CacheTTL); err != nil {
			slog.Warn("failed to cache streamed answer", "error", err)
			r.metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeCache)
		} else {
			s.markCached()
		}
	}
	s.setAnswer(answer.String())
	s.finish(StateCompleted)
}

// end seals the emitter, sending notice first when it is not empty, and
// reports the session.
func (r *Relay) end(span trace.Span, s *session, started time.Time, notice string) Result {
	if !s.seal(r.cfg.EmitGrace, notice) {
		slog.Warn("stream emitter still busy after session end", "grace", r.cfg.EmitGrace)
	}

	res := s.result()
	res.Duration = time.Since(started)

	r.metrics.RecordSession(res.Source, res.State.String())
	r.metrics.RecordStreamDuration(observability.EndpointChatStream, res.Duration.Seconds(), res.State.String())
	span.SetAttributes(
		attribute.String("relay.source", res.Source),
		attribute.String("relay.state", res.State.String()),
		attribute.Int("relay.chunks", res.Chunks),
		attribute.Bool("relay.cached", res.Cached),
	)
	return res
}

// sleep waits d or until ctx ends. A non-positive d returns at once.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// =============================================================================
// session
// =============================================================================

// session is the per-connection state.
//
// mu guards the fields below it and is never held across an emitter call.
// emit is a one-slot semaphore that serializes emitter calls; seal takes
// it for good. once guards the single transition to a terminal state.
type session struct {
	prompt string
	key    string
	em     Emitter
	emit   chan struct{}

	mu       sync.Mutex
	state    State
	source   string
	chunks   int
	answer   string
	cached   bool
	finished bool

	once   sync.Once
	done   chan struct{}
	cancel context.CancelFunc
}

// acquire takes the emitter for a delivery. False once the session ended.
func (s *session) acquire() bool {
	select {
	case s.emit <- struct{}{}:
		if s.isFinished() {
			<-s.emit
			return false
		}
		return true
	case <-s.done:
		return false
	}
}

func (s *session) release() {
	<-s.emit
}

// seal takes the emitter permanently, waiting at most grace for a call in
// flight, then sends notice if one is given. False if the emitter stayed
// busy.
func (s *session) seal(grace time.Duration, notice string) bool {
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case s.emit <- struct{}{}:
	case <-t.C:
		return false
	}
	if notice != "" && s.em.Send(notice) == nil {
		s.mu.Lock()
		s.chunks++
		s.mu.Unlock()
	}
	return true
}

func (s *session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.state = st
	}
}

// enter moves to a delivery state; false if the session already ended.
func (s *session) enter(st State, source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.state = st
	s.source = source
	return true
}

// sendOrFail delivers text. A failed send ends the session as errored.
func (s *session) sendOrFail(text string) bool {
	if !s.acquire() {
		return false
	}
	defer s.release()
	if err := s.em.Send(text); err != nil {
		slog.Info("stream client went away", "error", err)
		s.finish(StateErrored)
		return false
	}
	s.mu.Lock()
	s.chunks++
	s.mu.Unlock()
	return true
}

// keepAlive writes a keep-alive frame; false if nothing was written. It
// never waits: a busy emitter means data is already flowing.
func (s *session) keepAlive() bool {
	select {
	case s.emit <- struct{}{}:
	default:
		return false
	}
	defer s.release()
	if s.isFinished() {
		return false
	}
	if err := s.em.KeepAlive(); err != nil {
		s.finish(StateErrored)
		return false
	}
	return true
}

// finish is the only path to a terminal state and releases Serve. A
// timeout also cancels the worker context; a client failure leaves the
// upstream running. Later calls are no-ops.
func (s *session) finish(st State) bool {
	fired := false
	s.once.Do(func() {
		s.mu.Lock()
		s.finished = true
		s.state = st
		s.mu.Unlock()
		if st == StateTimedOut {
			s.cancel()
		}
		close(s.done)
		fired = true
	})
	return fired
}

func (s *session) isFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *session) markCached() {
	s.mu.Lock()
	s.cached = true
	s.mu.Unlock()
}

func (s *session) setAnswer(a string) {
	s.mu.Lock()
	s.answer = a
	s.mu.Unlock()
}

func (s *session) result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Result{
		State:  s.state,
		Source: s.source,
		Chunks: s.chunks,
		Answer: s.answer,
		Cached: s.cached,
	}
}
