// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the rules agent.
//
// # Description
//
// Metrics cover the session lifecycle and each stage of a turn:
//   - Turn counters by outcome (answered, no_context, ...)
//   - Active and total sessions
//   - Retrieval and completion latency histograms
//   - Size of the history sent to the completion provider
//
// All recording methods are safe on a nil *Metrics, so components can be
// built without metrics in tests.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for rules agent metrics
const agentSubsystem = "rules_agent"

// Retrieval result label values.
const (
	RetrievalFound       = "found"
	RetrievalEmpty       = "empty"
	RetrievalUnavailable = "unavailable"
	RetrievalInvalid     = "invalid"
)

// Metrics holds all Prometheus metrics for the rules agent.
type Metrics struct {
	// TurnsTotal counts finished turns.
	// Labels: outcome (answered, no_context, retrieval_unavailable,
	// invalid_input, completion_failed)
	TurnsTotal *prometheus.CounterVec

	// SessionsTotal counts accepted connections.
	SessionsTotal prometheus.Counter

	// ActiveSessions tracks currently open sessions.
	ActiveSessions prometheus.Gauge

	// RetrievalDurationSeconds measures retrieval latency.
	// Labels: result (RetrievalFound, RetrievalEmpty, RetrievalUnavailable,
	// RetrievalInvalid)
	RetrievalDurationSeconds *prometheus.HistogramVec

	// CompletionDurationSeconds measures completion latency.
	// Labels: status (success, error)
	CompletionDurationSeconds *prometheus.HistogramVec

	// HistoryMessages observes the number of messages sent per completion.
	HistoryMessages prometheus.Histogram

	// SessionPanicsTotal counts sessions terminated by a recovered panic.
	SessionPanicsTotal prometheus.Counter
}

// NewMetrics creates and registers the metrics on reg.
// Pass prometheus.NewRegistry() in tests for isolation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "turns_total",
				Help:      "Total number of finished turns by outcome",
			},
			[]string{"outcome"},
		),

		SessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "sessions_total",
				Help:      "Total number of accepted sessions",
			},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "active_sessions",
				Help:      "Number of currently open sessions",
			},
		),

		RetrievalDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "retrieval_duration_seconds",
				Help:      "Retrieval latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"result"},
		),

		CompletionDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "completion_duration_seconds",
				Help:      "Completion latency in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),

		HistoryMessages: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "history_messages",
				Help:      "Number of messages sent with each completion call",
				Buckets:   prometheus.ExponentialBuckets(3, 2, 8),
			},
		),

		SessionPanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "session_panics_total",
				Help:      "Total sessions terminated by a recovered panic",
			},
		),
	}
}

// RecordTurn counts one finished turn.
func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// SessionOpened records a newly accepted session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.ActiveSessions.Inc()
}

// SessionClosed records a session ending.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// RecordRetrieval observes one retrieval call.
func (m *Metrics) RecordRetrieval(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalDurationSeconds.WithLabelValues(result).Observe(d.Seconds())
}

// RecordCompletion observes one completion call and the history size sent.
func (m *Metrics) RecordCompletion(success bool, historyLen int, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.CompletionDurationSeconds.WithLabelValues(status).Observe(d.Seconds())
	m.HistoryMessages.Observe(float64(historyLen))
}

// RecordPanic counts a recovered session panic.
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.SessionPanicsTotal.Inc()
}
