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

package registry

import "github.com/insidr/debughub/pkg/models"

// ringBuffer holds the most recent events for one device. Insertion order is
// replay order; once capacity is exceeded the oldest event is dropped.
//
// Not safe for concurrent use on its own: the Registry mutex guards every
// buffer.
type ringBuffer struct {
	events   []models.EventEnvelope
	capacity int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		events:   make([]models.EventEnvelope, 0, capacity),
		capacity: capacity,
	}
}

func (b *ringBuffer) Append(event models.EventEnvelope) {
	b.events = append(b.events, event)

	if len(b.events) > b.capacity {
		b.events = b.events[1:]
	}
}

// Snapshot returns a copy of the buffer contents, oldest first. The envelopes
// themselves are shared; they are immutable once stored.
func (b *ringBuffer) Snapshot() []models.EventEnvelope {
	out := make([]models.EventEnvelope, len(b.events))
	copy(out, b.events)

	return out
}

func (b *ringBuffer) Len() int {
	return len(b.events)
}
