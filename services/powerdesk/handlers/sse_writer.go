// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/PowerDesk/services/powerdesk/relay"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes text chunks as Server-Sent Events.
//
// # Description
//
// Each chunk becomes one SSE message:
//
//	data: {text}
//
// A chunk containing newlines is split into several data lines of the same
// message so clients reassemble it unchanged.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write.
type SSEWriter interface {
	relay.Emitter

	// Send writes one data message and flushes it.
	Send(text string) error

	// KeepAlive writes an SSE comment (": ping") that clients ignore but
	// that resets idle timers on proxies and load balancers.
	KeepAlive() error

	// Close waits for a write in flight and clears the write deadline so
	// the connection can serve its next request. The writer must not be
	// used afterwards.
	Close() error
}

// DefaultSSEWriteTimeout bounds each event write. A client that stops
// reading fails the write instead of holding the stream open.
const DefaultSSEWriteTimeout = 10 * time.Second

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter for an http.ResponseWriter.
//
// # Thread Safety
//
// Thread-safe via mutex.
//
// # Limitations
//
//   - Cannot be reused across requests.
type sseWriter struct {
	writer       http.ResponseWriter
	flusher      http.Flusher
	rc           *http.ResponseController
	writeTimeout time.Duration
	mu           sync.Mutex
}

// NewSSEWriter wraps w, which must implement http.Flusher. Each write is
// bounded by DefaultSSEWriteTimeout when w supports write deadlines.
//
// # Examples
//
//	SetSSEHeaders(w)
//	writer, err := NewSSEWriter(w)
//	if err != nil {
//	    http.Error(w, "Streaming not supported", http.StatusInternalServerError)
//	    return
//	}
//	_ = writer.Send("您好")
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{
		writer:       w,
		flusher:      flusher,
		rc:           http.NewResponseController(w),
		writeTimeout: DefaultSSEWriteTimeout,
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *sseWriter) Send(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if err := w.armDeadline(); err != nil {
		return err
	}
	if _, err := w.writer.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) KeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.armDeadline(); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.setDeadline(time.Time{})
}

// armDeadline bounds the next write. Caller holds mu.
func (w *sseWriter) armDeadline() error {
	return w.setDeadline(time.Now().Add(w.writeTimeout))
}

// setDeadline ignores writers without deadline support, such as test
// recorders.
func (w *sseWriter) setDeadline(t time.Time) error {
	err := w.rc.SetWriteDeadline(t)
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures the response for Server-Sent Events:
// text/event-stream, no caching, keep-alive and no nginx buffering.
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
