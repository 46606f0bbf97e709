// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics holds the daemon's prometheus collectors. There is no
// network listener; the registry is written to a node-exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session outcomes used as the "outcome" label.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Trigger actions used as the "action" label.
const (
	ActionHandled  = "handled"
	ActionIgnored  = "ignored"
	ActionLimited  = "rate_limited"
	ActionDeferred = "deferred"
)

// Collector owns a private registry and the daemon's collectors. A nil
// *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry
	textfile string

	sessions        *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	triggers        *prometheus.CounterVec
	reloads         prometheus.Counter
	childExits      *prometheus.CounterVec
}

// New creates a collector. When textfile is non-empty Flush writes the
// registry there.
func New(textfile string) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		textfile: textfile,

		// sessions counts prompt sessions by terminal state
		sessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedpass_sessions_total",
				Help: "Total prompt sessions by outcome",
			},
			[]string{"outcome", "reason"},
		),

		sessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "feedpass_session_duration_seconds",
				Help:    "Wall time from spawn to completion or failure",
				Buckets: prometheus.DefBuckets,
			},
		),

		// triggers counts received triggers and what the daemon did with them
		triggers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedpass_triggers_total",
				Help: "Total triggers by kind and action",
			},
			[]string{"kind", "action"},
		),

		reloads: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "feedpass_reloads_total",
				Help: "Total reload attempts",
			},
		),

		childExits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedpass_child_exits_total",
				Help: "Total reaped children by exit class",
			},
			[]string{"class"},
		),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordSession records one finished session. reason is the failure kind,
// or empty on success.
func (c *Collector) RecordSession(reason string, duration time.Duration) {
	if c == nil {
		return
	}
	outcome := OutcomeCompleted
	if reason != "" {
		outcome = OutcomeFailed
	}
	c.sessions.WithLabelValues(outcome, reason).Inc()
	c.sessionDuration.Observe(duration.Seconds())
}

// RecordChildExit classifies a reaped child exit code.
func (c *Collector) RecordChildExit(code int) {
	if c == nil {
		return
	}
	class := "zero"
	if code != 0 {
		class = "nonzero"
	}
	c.childExits.WithLabelValues(class).Inc()
}

// RecordTrigger records a trigger and the action taken.
func (c *Collector) RecordTrigger(kind, action string) {
	if c == nil {
		return
	}
	c.triggers.WithLabelValues(kind, action).Inc()
}

// RecordReload increments the reload counter.
func (c *Collector) RecordReload() {
	if c == nil {
		return
	}
	c.reloads.Inc()
}

// Flush writes the registry to the textfile, if configured. The write is
// atomic, so a concurrent scrape never sees a partial file.
func (c *Collector) Flush() error {
	if c == nil || c.textfile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.textfile), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(c.textfile, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
