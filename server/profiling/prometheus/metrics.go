/*
 * Copyright 2024 The Canopy Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package prometheus provides a Prometheus metrics exporter.
package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/canopyhq/canopy/internal/version"
)

const (
	namespace      = "canopy"
	eventTypeLabel = "event_type"
	msgTypeLabel   = "message_type"
)

// Metrics manages the metric information that Canopy is trying to
// measure.
type Metrics struct {
	registry *prometheus.Registry

	serverVersion *prometheus.GaugeVec

	openRoomsTotal         prometheus.Gauge
	roomParticipantsTotal  prometheus.Gauge
	appliedDiffsTotal      prometheus.Counter
	externalPatchesTotal   *prometheus.CounterVec
	structuralEventsTotal  *prometheus.CounterVec
	broadcastsTotal        *prometheus.CounterVec
	documentFlushesTotal   prometheus.Counter
	documentFlushErrsTotal prometheus.Counter
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	metrics := &Metrics{
		registry: reg,
		serverVersion: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "version",
			Help:      "Which version is running. 1 for 'server_version' label with current version.",
		}, []string{"server_version"}),
		openRoomsTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "open_rooms_total",
			Help:      "The current number of open document rooms.",
		}),
		roomParticipantsTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "room_participants_total",
			Help:      "The current number of editing sessions across all rooms.",
		}),
		appliedDiffsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "applied_diffs_total",
			Help:      "The total count of editing diffs applied to document rooms.",
		}),
		externalPatchesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "external_patches_total",
			Help:      "The total count of structural patches applied to live rooms.",
		}, []string{eventTypeLabel}),
		structuralEventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spaces",
			Name:      "structural_events_total",
			Help:      "The total count of structural page-tree messages handled.",
		}, []string{msgTypeLabel}),
		broadcastsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spaces",
			Name:      "broadcasts_total",
			Help:      "The total count of space-wide broadcast events published.",
		}, []string{eventTypeLabel}),
		documentFlushesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "flushes_total",
			Help:      "The total count of document room flushes to the page store.",
		}),
		documentFlushErrsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "flush_errors_total",
			Help:      "The total count of failed document room flushes.",
		}),
	}
	metrics.serverVersion.With(prometheus.Labels{
		"server_version": version.Version,
	}).Set(1)

	return metrics, nil
}

// ObserveOpenRooms sets the current number of open document rooms.
func (m *Metrics) ObserveOpenRooms(count int) {
	m.openRoomsTotal.Set(float64(count))
}

// ObserveRoomParticipants sets the current number of editing sessions.
func (m *Metrics) ObserveRoomParticipants(count int) {
	m.roomParticipantsTotal.Set(float64(count))
}

// AddAppliedDiffs adds the count of applied editing diffs.
func (m *Metrics) AddAppliedDiffs(count int) {
	m.appliedDiffsTotal.Add(float64(count))
}

// AddExternalPatches adds the count of structural patches applied to
// live rooms for the given event type.
func (m *Metrics) AddExternalPatches(eventType string, count int) {
	m.externalPatchesTotal.With(prometheus.Labels{
		eventTypeLabel: eventType,
	}).Add(float64(count))
}

// AddStructuralEvents adds the count of handled structural messages of
// the given type.
func (m *Metrics) AddStructuralEvents(msgType string, count int) {
	m.structuralEventsTotal.With(prometheus.Labels{
		msgTypeLabel: msgType,
	}).Add(float64(count))
}

// AddBroadcasts adds the count of published broadcast events of the
// given type.
func (m *Metrics) AddBroadcasts(eventType string, count int) {
	m.broadcastsTotal.With(prometheus.Labels{
		eventTypeLabel: eventType,
	}).Add(float64(count))
}

// AddDocumentFlushes adds the count of document flushes.
func (m *Metrics) AddDocumentFlushes(count int) {
	m.documentFlushesTotal.Add(float64(count))
}

// AddDocumentFlushErrors adds the count of failed document flushes.
func (m *Metrics) AddDocumentFlushErrors(count int) {
	m.documentFlushErrsTotal.Add(float64(count))
}

// Registry returns the registry of this metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
