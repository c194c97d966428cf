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

// Package registry is the single authority for live connection state: which
// device identity maps to which connection, the per-device metadata and event
// history, and the current subscriber set.
package registry

import (
	"sync"
	"time"

	"github.com/insidr/debughub/pkg/logger"
	"github.com/insidr/debughub/pkg/models"
	"github.com/rs/zerolog"
)

// ConnHandle is the registry's view of a live connection. The transport owns
// the connection lifecycle; the registry only pushes onto it.
type ConnHandle interface {
	// Send queues v for delivery as one JSON frame. It must not block on a
	// slow peer; a full queue or closed connection returns an error.
	Send(v interface{}) error
}

// Registry tracks device connections, device metadata, per-device event
// buffers, and subscriber connections.
//
// All maps live behind one mutex. Operations are O(1) or O(n) in the
// subscriber count, so finer-grained locking buys nothing here.
type Registry struct {
	mu          sync.RWMutex
	devices     map[string]ConnHandle
	infos       map[string]*models.DeviceInfo
	buffers     map[string]*ringBuffer
	subscribers map[ConnHandle]struct{}

	bufferSize int
	log        zerolog.Logger
}

// New creates a Registry whose per-device buffers hold up to bufferSize
// events.
func New(bufferSize int, log logger.Logger) *Registry {
	return &Registry{
		devices:     make(map[string]ConnHandle),
		infos:       make(map[string]*models.DeviceInfo),
		buffers:     make(map[string]*ringBuffer),
		subscribers: make(map[ConnHandle]struct{}),
		bufferSize:  bufferSize,
		log:         log.WithComponent("registry"),
	}
}

// RegisterDevice binds id to conn, displacing any prior mapping for the same
// identity (last handshake wins). DeviceInfo is created fresh with both
// timestamps set to now. The returned copy is what the caller announces to
// subscribers.
func (r *Registry) RegisterDevice(id string, conn ConnHandle, userAgent, url string) models.DeviceInfo {
	now := time.Now().UTC()

	info := &models.DeviceInfo{
		DeviceID:    id,
		UserAgent:   userAgent,
		URL:         url,
		ConnectedAt: now,
		LastSeen:    now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, displaced := r.devices[id]; displaced {
		r.log.Info().Str("device_id", id).Msg("Device re-registered, displacing previous connection")
	}

	r.devices[id] = conn
	r.infos[id] = info

	return *info
}

// UnregisterDevice removes the connection mapping and DeviceInfo for id. The
// event buffer is untouched so history survives disconnects. No-op when id
// is unknown.
func (r *Registry) UnregisterDevice(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.devices, id)
	delete(r.infos, id)
}

// ReleaseDevice unregisters id only if the mapping still points at conn, and
// reports whether it did. A connection that was displaced by a newer
// handshake must not evict its successor during its own teardown.
func (r *Registry) ReleaseDevice(id string, conn ConnHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.devices[id]
	if !ok || current != conn {
		return false
	}

	delete(r.devices, id)
	delete(r.infos, id)

	return true
}

// TouchDevice updates the device's last-seen timestamp. Silent no-op for
// unknown ids; ingestion only calls this for handshaken devices.
func (r *Registry) TouchDevice(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.infos[id]; ok {
		info.LastSeen = time.Now().UTC()
	}
}

// AppendEvent stores an event in the device's buffer, creating the buffer
// lazily on first use.
func (r *Registry) AppendEvent(id string, event models.EventEnvelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buffer, ok := r.buffers[id]
	if !ok {
		buffer = newRingBuffer(r.bufferSize)
		r.buffers[id] = buffer
	}

	buffer.Append(event)
}

// AddSubscriber adds a subscriber connection to the broadcast set.
func (r *Registry) AddSubscriber(conn ConnHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribers[conn] = struct{}{}
}

// RemoveSubscriber drops a subscriber from the broadcast set. No-op when
// absent.
func (r *Registry) RemoveSubscriber(conn ConnHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subscribers, conn)
}

// Subscribers returns a snapshot of the current subscriber set. Broadcast
// iterates the snapshot so a send failure can prune members without holding
// the registry lock.
func (r *Registry) Subscribers() []ConnHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnHandle, 0, len(r.subscribers))
	for conn := range r.subscribers {
		out = append(out, conn)
	}

	return out
}

// DeviceCount returns the number of currently connected devices.
func (r *Registry) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.devices)
}

// SubscriberCount returns the current size of the subscriber set.
func (r *Registry) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subscribers)
}

// ListDeviceInfos returns a snapshot of all known device infos.
func (r *Registry) ListDeviceInfos() []models.DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.DeviceInfo, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, *info)
	}

	return out
}

// GetEvents returns the full buffered history for id, oldest first. Unknown
// devices yield an empty slice, never an error: the replay protocol does not
// distinguish "unknown" from "no events yet".
func (r *Registry) GetEvents(id string) []models.EventEnvelope {
	r.mu.RLock()
	defer r.mu.RUnlock()

	buffer, ok := r.buffers[id]
	if !ok {
		return []models.EventEnvelope{}
	}

	return buffer.Snapshot()
}

// SendToDevice pushes one message to the device's connection. It reports
// whether the device was connected and the send was attempted; the caller
// decides whether false is an error. Send failures are the transport's
// problem and surface as that connection's disconnect.
func (r *Registry) SendToDevice(id string, message interface{}) bool {
	r.mu.RLock()
	conn, ok := r.devices[id]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	if err := conn.Send(message); err != nil {
		r.log.Debug().Err(err).Str("device_id", id).Msg("Send to device failed")
	}

	return true
}

// Snapshot returns the query-surface view for one device: its info plus the
// full event history. The second return is false when the device is not
// currently connected; its buffered history may still exist and remains
// reachable through GetEvents.
func (r *Registry) Snapshot(id string) (models.DeviceSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.infos[id]
	if !ok {
		return models.DeviceSnapshot{}, false
	}

	snapshot := models.DeviceSnapshot{
		Info:   *info,
		Events: []models.EventEnvelope{},
	}

	if buffer, ok := r.buffers[id]; ok {
		snapshot.Events = buffer.Snapshot()
	}

	return snapshot, true
}
