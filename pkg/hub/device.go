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

package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/insidr/debughub/pkg/models"
)

// handleDevice runs the ingestion pipeline for one device connection. The
// connection starts unauthenticated; a valid _auth frame binds a device
// identity, and only then are events attributed and stored.
func (h *Hub) handleDevice(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade device connection")
		return
	}

	h.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Device connected")

	wc := newWSConn(conn, h.log)
	go wc.writePump()

	h.readDevice(wc)
}

func (h *Hub) readDevice(wc *wsConn) {
	var deviceID string

	defer func() {
		wc.Close()

		if deviceID == "" {
			h.log.Info().Msg("Unauthenticated device disconnected")
			return
		}

		h.log.Info().Str("device_id", deviceID).Msg("Device disconnected")

		// Only announce the disconnect if this connection still owned the
		// mapping; a displaced connection's teardown must not evict or
		// un-announce its successor.
		if h.registry.ReleaseDevice(deviceID, wc) {
			h.metrics.SetConnectedDevices(h.registry.DeviceCount())
			h.Broadcast(models.EventEnvelope{
				"type":    models.TypeDeviceDisconnected,
				"payload": map[string]interface{}{"deviceId": deviceID},
			})
		}
	}()

	wc.conn.SetReadLimit(maxMessageSize)
	_ = wc.conn.SetReadDeadline(time.Now().Add(pongWait))
	wc.conn.SetPongHandler(func(string) error {
		return wc.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := wc.conn.ReadMessage()
		if err != nil {
			// Normal close and transport failure end the pipeline the
			// same way; reconnection is the device's responsibility.
			h.log.Debug().Err(err).Str("device_id", deviceID).Msg("Device read ended")
			return
		}

		var event models.EventEnvelope
		if err := json.Unmarshal(raw, &event); err != nil {
			h.log.Warn().Err(err).Str("device_id", deviceID).Msg("Invalid JSON from device")
			h.metrics.IncEventsDropped()

			continue
		}

		// "null" is valid JSON but leaves the map nil; stamping an identity
		// onto it would panic. Treat it like any other malformed frame.
		if event == nil {
			h.log.Warn().Str("device_id", deviceID).Msg("Non-object frame from device")
			h.metrics.IncEventsDropped()

			continue
		}

		if event.Type() == models.TypeAuth {
			deviceID = h.authenticate(wc, event, deviceID)
			continue
		}

		if deviceID == "" {
			// No identity to attribute the event to yet; dropping it is
			// intentional, not an error.
			h.metrics.IncEventsDropped()
			continue
		}

		event.SetDeviceID(deviceID)
		h.registry.AppendEvent(deviceID, event)
		h.registry.TouchDevice(deviceID)
		h.metrics.IncEventsIngested()

		h.Broadcast(event)
	}
}

// authenticate processes an _auth frame. On success it registers the device
// and announces it; on a malformed payload the connection keeps its previous
// identity (none, for a first handshake) and waits for another attempt.
func (h *Hub) authenticate(wc *wsConn, event models.EventEnvelope, currentID string) string {
	payload := event.Payload()

	id, ua, url, ok := authFields(payload)
	if !ok {
		h.log.Warn().Str("device_id", currentID).Msg("Handshake rejected: missing required fields")
		return currentID
	}

	info := h.registry.RegisterDevice(id, wc, ua, url)
	h.metrics.SetConnectedDevices(h.registry.DeviceCount())

	h.log.Info().Str("device_id", id).Str("user_agent", ua).Msg("Device authenticated")

	h.Broadcast(models.EventEnvelope{
		"type":    models.TypeDeviceConnected,
		"payload": info,
	})

	return id
}

func authFields(payload map[string]interface{}) (id, userAgent, url string, ok bool) {
	if payload == nil {
		return "", "", "", false
	}

	id, idOK := payload["deviceId"].(string)
	userAgent, uaOK := payload["userAgent"].(string)
	url, urlOK := payload["url"].(string)

	if !idOK || id == "" || !uaOK || !urlOK {
		return "", "", "", false
	}

	return id, userAgent, url, true
}
