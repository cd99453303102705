// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AuditEvent is one security-relevant event.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "auth.login",
//	    UserID:       "42",
//	    Action:       "login",
//	    ResourceType: "session",
//	    Outcome:      "failure",
//	    Metadata:     map[string]any{"reason": "密码错误"},
//	}
type AuditEvent struct {
	// EventType is "category.action", e.g. "auth.login" or "user.delete".
	EventType string

	// Timestamp defaults to time.Now().UTC() when zero.
	Timestamp time.Time

	// UserID is who acted; "anonymous" before authentication.
	UserID string

	Action       string
	ResourceType string
	ResourceID   string

	// Outcome: "success", "failure", "blocked" or "error".
	Outcome string

	Metadata map[string]any
}

// AuditFilter selects events in Query. Zero fields do not filter.
type AuditFilter struct {
	EventTypes   []string
	UserID       string
	StartTime    time.Time
	EndTime      time.Time
	ResourceType string
	Outcome      string
	Limit        int
}

// AuditLogger records and queries security events.
//
// Log should return quickly; it is called on request paths.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error

	// Query returns matching events newest first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error { return nil }

func (l *NopAuditLogger) Query(_ context.Context, _ AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

func (l *NopAuditLogger) Flush(_ context.Context) error { return nil }

// =============================================================================
// SlogAuditLogger
// =============================================================================

// SlogAuditLogger writes each event as an "audit" log record and keeps the
// most recent events in memory for Query.
//
// # Limitations
//
//   - History is lost on restart and capped at the configured capacity.
//
// # Thread Safety
//
// Safe for concurrent use.
type SlogAuditLogger struct {
	logger   *slog.Logger
	mu       sync.Mutex
	ring     []AuditEvent
	next     int
	full     bool
	capacity int
}

// NewSlogAuditLogger keeps up to capacity events. A nil logger uses
// slog.Default(); capacity <= 0 defaults to 1000.
func NewSlogAuditLogger(logger *slog.Logger, capacity int) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = 1000
	}
	return &SlogAuditLogger{
		logger:   logger,
		ring:     make([]AuditEvent, capacity),
		capacity: capacity,
	}
}

func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.UserID == "" {
		event.UserID = "anonymous"
	}

	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("event_type", event.EventType),
		slog.String("user_id", event.UserID),
		slog.String("action", event.Action),
		slog.String("resource_type", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
		slog.String("outcome", event.Outcome),
		slog.Any("metadata", event.Metadata),
	)

	l.mu.Lock()
	l.ring[l.next] = event
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
	return nil
}

func (l *SlogAuditLogger) Query(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = l.capacity
	}
	out := make([]AuditEvent, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.next - 1 - i + l.capacity) % l.capacity
		ev := l.ring[idx]
		if !filter.matches(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (l *SlogAuditLogger) Flush(_ context.Context) error { return nil }

func (f AuditFilter) matches(ev AuditEvent) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == ev.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.UserID != "" && f.UserID != ev.UserID {
		return false
	}
	if f.ResourceType != "" && f.ResourceType != ev.ResourceType {
		return false
	}
	if f.Outcome != "" && f.Outcome != ev.Outcome {
		return false
	}
	if !f.StartTime.IsZero() && ev.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !ev.Timestamp.Before(f.EndTime) {
		return false
	}
	return true
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
