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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from a peer.
	maxMessageSize = 512 * 1024

	// Per-connection send queue. A peer that falls this far behind is
	// treated as dead rather than allowed to back-pressure the hub.
	sendQueueSize = 256
)

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("send queue full")
)

// wsConn wraps a websocket connection with a buffered outbound queue drained
// by a single writer goroutine. gorilla/websocket permits only one concurrent
// writer, and queueing keeps Send non-blocking for broadcast.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

func newWSConn(conn *websocket.Conn, log zerolog.Logger) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		log:  log,
	}
}

// Send marshals v and queues it for delivery. It never blocks: a full queue
// or closed connection returns an error, which broadcast treats as a dead
// subscriber.
func (c *wsConn) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	return c.enqueue(data)
}

func (c *wsConn) enqueue(data []byte) (err error) {
	// Close can race the closed-flag check; recover instead of ordering
	// every enqueue against it.
	defer func() {
		if recover() != nil {
			err = errConnClosed
		}
	}()

	if c.closed.Load() {
		return errConnClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return errQueueFull
	}
}

// Close shuts the send queue exactly once. The write pump sees the closed
// channel, writes a close frame, and tears down the underlying connection.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with periodic pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.log.Debug().Err(err).Msg("Closing websocket connection")
		}
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
