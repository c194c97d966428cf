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

package models

// Message types exchanged on the device and subscriber channels. Producers
// may use any event type they like; only these have meaning to the hub.
const (
	// TypeAuth is the device handshake control message. It is consumed by
	// the ingestion pipeline and never stored as history.
	TypeAuth = "_auth"

	// TypeCommand is the hub-to-device command frame.
	TypeCommand = "command"

	// Subscriber-facing control messages.
	TypeDevicesList        = "devices.list"
	TypeDeviceConnected    = "device.connected"
	TypeDeviceDisconnected = "device.disconnected"
	TypeDeviceEvents       = "device.events"

	// Subscriber-to-hub commands.
	TypeRequestEvents = "device.request_events"
	TypeSendCommand   = "device.send_command"
)

// EventEnvelope is a single event as received from a device. Producers attach
// arbitrary fields, so the envelope is an open JSON document; the hub only
// interprets "type", "deviceId" and "payload". Unknown keys round-trip
// through storage and broadcast untouched.
type EventEnvelope map[string]interface{}

// Type returns the event type, or the empty string when absent or not a
// string.
func (e EventEnvelope) Type() string {
	t, _ := e["type"].(string)
	return t
}

// DeviceID returns the device identity stamped onto the envelope.
func (e EventEnvelope) DeviceID() string {
	id, _ := e["deviceId"].(string)
	return id
}

// SetDeviceID stamps the authenticated device identity onto the envelope,
// overwriting anything the producer put on the wire.
func (e EventEnvelope) SetDeviceID(id string) {
	e["deviceId"] = id
}

// Payload returns the payload field as a map when it is one. Handshake
// processing is the only consumer; regular events pass through opaque.
func (e EventEnvelope) Payload() map[string]interface{} {
	p, _ := e["payload"].(map[string]interface{})
	return p
}

// StringField returns a top-level string field from the envelope.
func (e EventEnvelope) StringField(key string) string {
	v, _ := e[key].(string)
	return v
}
