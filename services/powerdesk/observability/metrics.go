// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics and OpenTelemetry
// tracing setup for the PowerDesk service.
//
// # Metrics
//
// All metrics live under the "powerdesk" namespace:
//
//	powerdesk_chat_requests_total{endpoint, status}
//	powerdesk_chat_answers_total{source}
//	powerdesk_chat_errors_total{endpoint, error_code}
//	powerdesk_stream_duration_seconds{endpoint, outcome}
//	powerdesk_stream_active{endpoint}
//	powerdesk_stream_sessions_total{source, final_state}
//	powerdesk_stream_malformed_lines_total
//	powerdesk_stream_keepalives_total{endpoint}
//	powerdesk_stream_client_disconnects_total{endpoint}
//	powerdesk_cache_operations_total{op, outcome}
//
// # Thread Safety
//
// Every method is safe for concurrent use and safe on a nil *Metrics, so
// components can be built without metrics in tests.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "powerdesk"

// Metrics holds every Prometheus collector the service exports.
type Metrics struct {
	RequestsTotal          *prometheus.CounterVec
	AnswersTotal           *prometheus.CounterVec
	ErrorsTotal            *prometheus.CounterVec
	StreamDurationSeconds  *prometheus.HistogramVec
	ActiveStreams          *prometheus.GaugeVec
	SessionsTotal          *prometheus.CounterVec
	MalformedLinesTotal    prometheus.Counter
	KeepAlivesTotal        *prometheus.CounterVec
	ClientDisconnectsTotal *prometheus.CounterVec
	CacheOperationsTotal   *prometheus.CounterVec
}

// NewMetrics creates collectors registered with reg. Tests pass a fresh
// prometheus.NewRegistry() for isolation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "chat",
				Name:      "requests_total",
				Help:      "Chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		AnswersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "chat",
				Name:      "answers_total",
				Help:      "Answers served by source (cache, knowledge, rule, external)",
			},
			[]string{"source"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "chat",
				Name:      "errors_total",
				Help:      "Chat errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "duration_seconds",
				Help:      "Stream session duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "outcome"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "active",
				Help:      "Currently open stream sessions",
			},
			[]string{"endpoint"},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "sessions_total",
				Help:      "Finished stream sessions by source and final state",
			},
			[]string{"source", "final_state"},
		),
		MalformedLinesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "malformed_lines_total",
				Help:      "Upstream data lines dropped because their JSON did not parse",
			},
		),
		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "keepalives_total",
				Help:      "Keepalive comments written to stream clients",
			},
			[]string{"endpoint"},
		),
		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "client_disconnects_total",
				Help:      "Stream clients that went away before completion",
			},
			[]string{"endpoint"},
		),
		CacheOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "cache",
				Name:      "operations_total",
				Help:      "Response cache operations by op and outcome",
			},
			[]string{"op", "outcome"},
		),
	}
}

// =============================================================================
// Label values
// =============================================================================

// ErrorCode classifies chat failures for metrics.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeUpstream         ErrorCode = "upstream"
	ErrorCodeTimeout          ErrorCode = "timeout"
	ErrorCodePersistence      ErrorCode = "persistence"
	ErrorCodeCache            ErrorCode = "cache"
	ErrorCodeInternal         ErrorCode = "internal"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// Endpoint names the chat surface a metric belongs to.
type Endpoint string

const (
	EndpointChat       Endpoint = "chat"
	EndpointChatSend   Endpoint = "chat_send"
	EndpointChatStream Endpoint = "chat_stream"
)

// =============================================================================
// Recording helpers
// =============================================================================

func (m *Metrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordAnswer counts an answer by where it came from.
func (m *Metrics) RecordAnswer(source string) {
	if m == nil {
		return
	}
	m.AnswersTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

func (m *Metrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

func (m *Metrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

func (m *Metrics) RecordStreamDuration(endpoint Endpoint, seconds float64, outcome string) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), outcome).Observe(seconds)
}

// RecordSession counts a finished relay session.
func (m *Metrics) RecordSession(source, finalState string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(source, finalState).Inc()
}

func (m *Metrics) RecordMalformedLine() {
	if m == nil {
		return
	}
	m.MalformedLinesTotal.Inc()
}

func (m *Metrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

func (m *Metrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// ObserveCache implements cache.Observer.
func (m *Metrics) ObserveCache(op, outcome string) {
	if m == nil {
		return
	}
	m.CacheOperationsTotal.WithLabelValues(op, outcome).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
