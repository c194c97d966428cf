/*
 * Copyright 2025 Insidr Technologies, Inc.
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

// Package metrics exposes prometheus instrumentation for the hub.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// HubMetrics counts hub activity. A nil *HubMetrics is valid and records
// nothing, so components can run without a registry in tests.
type HubMetrics struct {
	EventsIngested    prometheus.Counter
	EventsDropped     prometheus.Counter
	BroadcastsSent    prometheus.Counter
	SubscribersPruned prometheus.Counter

	ConnectedDevices     prometheus.Gauge
	ConnectedSubscribers prometheus.Gauge
}

// NewHubMetrics builds the hub collectors and registers them on reg.
func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	m := &HubMetrics{
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debughub_events_ingested_total",
			Help: "Events accepted from authenticated devices.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debughub_events_dropped_total",
			Help: "Frames discarded before handshake or as malformed JSON.",
		}),
		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debughub_broadcasts_total",
			Help: "Broadcast passes over the subscriber set.",
		}),
		SubscribersPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debughub_subscribers_pruned_total",
			Help: "Subscribers removed after a failed delivery.",
		}),
		ConnectedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "debughub_connected_devices",
			Help: "Devices with a live, authenticated connection.",
		}),
		ConnectedSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "debughub_connected_subscribers",
			Help: "Live subscriber connections.",
		}),
	}

	reg.MustRegister(
		m.EventsIngested,
		m.EventsDropped,
		m.BroadcastsSent,
		m.SubscribersPruned,
		m.ConnectedDevices,
		m.ConnectedSubscribers,
	)

	return m
}

func (m *HubMetrics) IncEventsIngested() {
	if m != nil {
		m.EventsIngested.Inc()
	}
}

func (m *HubMetrics) IncEventsDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

func (m *HubMetrics) IncBroadcasts() {
	if m != nil {
		m.BroadcastsSent.Inc()
	}
}

func (m *HubMetrics) AddSubscribersPruned(n int) {
	if m != nil && n > 0 {
		m.SubscribersPruned.Add(float64(n))
	}
}

func (m *HubMetrics) SetConnectedDevices(n int) {
	if m != nil {
		m.ConnectedDevices.Set(float64(n))
	}
}

func (m *HubMetrics) SetConnectedSubscribers(n int) {
	if m != nil {
		m.ConnectedSubscribers.Set(float64(n))
	}
}
