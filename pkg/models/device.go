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

// Package models contains the shared data types for the debughub service.
package models

import "time"

// DeviceInfo describes a device with a live, handshaken connection.
// ConnectedAt is set once per handshake; LastSeen is updated on every
// ingested event.
type DeviceInfo struct {
	DeviceID    string    `json:"deviceId"`
	UserAgent   string    `json:"userAgent"`
	URL         string    `json:"url"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

// DeviceSnapshot is the read-only view served by the query API: the device's
// info plus the full contents of its event buffer.
type DeviceSnapshot struct {
	Info   DeviceInfo      `json:"info"`
	Events []EventEnvelope `json:"events"`
}
