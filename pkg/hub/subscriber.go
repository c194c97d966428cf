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

	"github.com/google/uuid"
	"github.com/insidr/debughub/pkg/models"
	"github.com/rs/zerolog"
)

// handleSubscriber runs the command pipeline for one observer connection:
// membership in the broadcast set, history replay, and command forwarding.
func (h *Hub) handleSubscriber(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade subscriber connection")
		return
	}

	subscriberID := uuid.NewString()
	log := h.log.With().Str("subscriber_id", subscriberID).Str("remote_addr", r.RemoteAddr).Logger()
	log.Info().Msg("Subscriber connected")

	wc := newWSConn(conn, log)
	go wc.writePump()

	h.registry.AddSubscriber(wc)
	h.metrics.SetConnectedSubscribers(h.registry.SubscriberCount())

	defer func() {
		h.registry.RemoveSubscriber(wc)
		wc.Close()
		h.metrics.SetConnectedSubscribers(h.registry.SubscriberCount())
		log.Info().Msg("Subscriber disconnected")
	}()

	// The current device list goes out immediately so the observer can
	// render before any broadcast arrives.
	if err := wc.Send(map[string]interface{}{
		"type":    models.TypeDevicesList,
		"payload": h.registry.ListDeviceInfos(),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to send device list")
		return
	}

	wc.conn.SetReadLimit(maxMessageSize)
	_ = wc.conn.SetReadDeadline(time.Now().Add(pongWait))
	wc.conn.SetPongHandler(func(string) error {
		return wc.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := wc.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("Subscriber read ended")
			return
		}

		var frame models.EventEnvelope
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Warn().Err(err).Msg("Invalid JSON from subscriber")
			continue
		}

		switch frame.Type() {
		case models.TypeRequestEvents:
			h.replyEvents(wc, frame.StringField("deviceId"))
		case models.TypeSendCommand:
			h.forwardCommand(log, frame)
		default:
			log.Debug().Str("type", frame.Type()).Msg("Ignoring unknown subscriber message")
		}
	}
}

// replyEvents sends the requested device's buffered history directly to the
// requesting subscriber. Unknown devices get an empty list; the replay
// protocol has no not-found signal.
func (h *Hub) replyEvents(wc *wsConn, deviceID string) {
	err := wc.Send(map[string]interface{}{
		"type": models.TypeDeviceEvents,
		"payload": map[string]interface{}{
			"deviceId": deviceID,
			"events":   h.registry.GetEvents(deviceID),
		},
	})
	if err != nil {
		h.log.Debug().Err(err).Str("device_id", deviceID).Msg("Failed to send event replay")
	}
}

// forwardCommand pushes a command frame to the targeted device. When the
// device is offline the command is dropped silently; the subscriber protocol
// defines no error reply for this case.
func (h *Hub) forwardCommand(log zerolog.Logger, frame models.EventEnvelope) {
	deviceID := frame.StringField("deviceId")

	payload := frame["payload"]
	if payload == nil {
		payload = map[string]interface{}{}
	}

	delivered := h.registry.SendToDevice(deviceID, map[string]interface{}{
		"type":    models.TypeCommand,
		"command": frame.StringField("command"),
		"payload": payload,
	})

	if !delivered {
		log.Debug().Str("device_id", deviceID).Msg("Command target offline, dropped")
	}
}
