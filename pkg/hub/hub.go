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

// Package hub runs the two websocket channels of the debughub: ingestion of
// device events and fan-out to subscribers.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/insidr/debughub/pkg/logger"
	"github.com/insidr/debughub/pkg/metrics"
	"github.com/insidr/debughub/pkg/registry"
	"github.com/rs/zerolog"
)

// Hub connects the websocket transport to the registry: device connections
// feed events in, subscriber connections receive broadcasts and issue
// replay/command requests.
type Hub struct {
	registry *registry.Registry
	metrics  *metrics.HubMetrics
	log      zerolog.Logger
	upgrader websocket.Upgrader

	// Serializes broadcast passes so every subscriber observes messages in
	// the order Broadcast was invoked.
	broadcastMu sync.Mutex
}

// New creates a Hub over the given registry. metrics may be nil.
func New(reg *registry.Registry, m *metrics.HubMetrics, log logger.Logger) *Hub {
	return &Hub{
		registry: reg,
		metrics:  m,
		log:      log.WithComponent("hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Devices are not browsers and the subscriber UI is served
			// from arbitrary hosts during debugging, so any origin may
			// connect. Authentication beyond declared identity is out of
			// scope.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// DeviceHandler returns the HTTP handler for the device-facing websocket
// listener.
func (h *Hub) DeviceHandler() http.Handler {
	return http.HandlerFunc(h.handleDevice)
}

// SubscriberHandler returns the HTTP handler for the subscriber-facing
// websocket listener.
func (h *Hub) SubscriberHandler() http.Handler {
	return http.HandlerFunc(h.handleSubscriber)
}

// Broadcast delivers one message to every current subscriber. Delivery is
// attempted independently per member: a failed send marks that subscriber
// for removal but never aborts the pass or surfaces to the caller. Failed
// members are pruned and closed after the pass.
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal broadcast message")
		return
	}

	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	var failed []registry.ConnHandle

	for _, sub := range h.registry.Subscribers() {
		if err := sub.Send(json.RawMessage(data)); err != nil {
			failed = append(failed, sub)
		}
	}

	for _, sub := range failed {
		h.registry.RemoveSubscriber(sub)

		if closer, ok := sub.(interface{ Close() }); ok {
			closer.Close()
		}
	}

	if len(failed) > 0 {
		h.log.Info().Int("pruned", len(failed)).Msg("Removed unreachable subscribers after broadcast")
	}

	h.metrics.IncBroadcasts()
	h.metrics.AddSubscribersPruned(len(failed))
	h.metrics.SetConnectedSubscribers(h.registry.SubscriberCount())
}
