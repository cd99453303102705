// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsExporter counts log records by level as
// {namespace}_log_records_total. It is a prometheus.Collector; register it
// where /metrics is served.
//
//	counter := logging.NewMetricsExporter("powerdesk")
//	logger := logging.New(logging.Config{Exporter: counter})
//	registry.MustRegister(counter)
type MetricsExporter struct {
	*prometheus.CounterVec
}

// NewMetricsExporter creates an unregistered counter.
func NewMetricsExporter(namespace string) *MetricsExporter {
	return &MetricsExporter{
		CounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_records_total",
			Help:      "Log records written, by level",
		}, []string{"level"}),
	}
}

func (e *MetricsExporter) Export(_ context.Context, entry LogEntry) error {
	e.WithLabelValues(strings.ToLower(entry.Level.String())).Inc()
	return nil
}

func (e *MetricsExporter) Flush(context.Context) error { return nil }
func (e *MetricsExporter) Close() error                { return nil }

var (
	_ LogExporter          = (*MetricsExporter)(nil)
	_ prometheus.Collector = (*MetricsExporter)(nil)
)
