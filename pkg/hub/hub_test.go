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
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insidr/debughub/pkg/logger"
	"github.com/insidr/debughub/pkg/models"
	"github.com/insidr/debughub/pkg/registry"
)

const (
	testReadTimeout = 2 * time.Second
	waitTick        = 5 * time.Millisecond
	waitTimeout     = 2 * time.Second
)

type testEnv struct {
	reg           *registry.Registry
	hub           *Hub
	deviceServer  *httptest.Server
	subscriberSrv *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := registry.New(1000, logger.NewTestLogger())
	h := New(reg, nil, logger.NewTestLogger())

	deviceServer := httptest.NewServer(h.DeviceHandler())
	subscriberSrv := httptest.NewServer(h.SubscriberHandler())

	t.Cleanup(func() {
		deviceServer.Close()
		subscriberSrv.Close()
	})

	return &testEnv{
		reg:           reg,
		hub:           h,
		deviceServer:  deviceServer,
		subscriberSrv: subscriberSrv,
	}
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t.Cleanup(func() { conn.Close() })

	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()

	require.NoError(t, conn.WriteJSON(v))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testReadTimeout)))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &frame))

	return frame
}

func authFrame(deviceID string) map[string]interface{} {
	return map[string]interface{}{
		"type": models.TypeAuth,
		"payload": map[string]interface{}{
			"deviceId":  deviceID,
			"userAgent": "test-agent/1.0",
			"url":       "https://example.com/app",
		},
	}
}

func waitForDevices(t *testing.T, env *testEnv, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return env.reg.DeviceCount() == n
	}, waitTimeout, waitTick)
}

func payloadOf(t *testing.T, frame map[string]interface{}) map[string]interface{} {
	t.Helper()

	payload, ok := frame["payload"].(map[string]interface{})
	require.True(t, ok, "frame %v has no object payload", frame)

	return payload
}

func TestDeviceHandshakeAnnouncedToSubscribers(t *testing.T) {
	env := newTestEnv(t)

	sub := dialWS(t, env.subscriberSrv)

	list := readFrame(t, sub)
	assert.Equal(t, models.TypeDevicesList, list["type"])
	assert.Empty(t, list["payload"], "no devices known yet")

	device := dialWS(t, env.deviceServer)
	sendJSON(t, device, authFrame("dev1"))

	connected := readFrame(t, sub)
	require.Equal(t, models.TypeDeviceConnected, connected["type"])

	payload := payloadOf(t, connected)
	assert.Equal(t, "dev1", payload["deviceId"])
	assert.Equal(t, "test-agent/1.0", payload["userAgent"])
}

func TestDevicesListIncludesHandshakenDevices(t *testing.T) {
	env := newTestEnv(t)

	device := dialWS(t, env.deviceServer)
	sendJSON(t, device, authFrame("dev1"))
	waitForDevices(t, env, 1)

	sub := dialWS(t, env.subscriberSrv)

	list := readFrame(t, sub)
	require.Equal(t, models.TypeDevicesList, list["type"])

	devices, ok := list["payload"].([]interface{})
	require.True(t, ok)
	require.Len(t, devices, 1)
	assert.Equal(t, "dev1", devices[0].(map[string]interface{})["deviceId"])
}

func TestLiveEventFlowStampsDeviceID(t *testing.T) {
	env := newTestEnv(t)

	device := dialWS(t, env.deviceServer)
	sendJSON(t, device, authFrame("dev1"))
	waitForDevices(t, env, 1)

	sub := dialWS(t, env.subscriberSrv)
	readFrame(t, sub) // devices.list

	sendJSON(t, device, map[string]interface{}{
		"type":     "console.log",
		"deviceId": "spoofed",
		"payload":  map[string]interface{}{"msg": "hello"},
		"custom":   "kept",
	})

	event := readFrame(t, sub)
	assert.Equal(t, "console.log", event["type"])
	assert.Equal(t, "dev1", event["deviceId"], "server-side identity wins over the wire value")
	assert.Equal(t, "kept", event["custom"], "producer fields pass through verbatim")
}

func TestEventReplayInOrderAndAuthNeverStored(t *testing.T) {
	env := newTestEnv(t)

	device := dialWS(t, env.deviceServer)
	sendJSON(t, device, authFrame("dev1"))

	for i := 0; i < 3; i++ {
		sendJSON(t, device, map[string]interface{}{"type": "log", "seq": i})
	}

	require.Eventually(t, func() bool {
		return len(env.reg.GetEvents("dev1")) == 3
	}, waitTimeout, waitTick)

	sub := dialWS(t, env.subscriberSrv)
	readFrame(t, sub) // devices.list

	sendJSON(t, sub, map[string]interface{}{
		"type":     models.TypeRequestEvents,
		"deviceId": "dev1",
	})

	reply := readFrame(t, sub)
	require.Equal(t, models.TypeDeviceEvents, reply["type"])

	payload := payloadOf(t, reply)
	assert.Equal(t, "dev1", payload["deviceId"])

	events, ok := payload["events"].([]interface{})
	require.True(t, ok)
	require.Len(t, events, 3)

	for i, raw := range events {
		event := raw.(map[string]interface{})
		assert.Equal(t, float64(i), event["seq"], "replay preserves send order")
		assert.NotEqual(t, models.TypeAuth, event["type"], "handshake frames are never history")
	}
}

func TestReplayUnknownDeviceReturnsEmptyList(t *testing.T) {
	env := newTestEnv(t)

	sub := dialWS(t, env.subscriberSrv)
	readFrame(t, sub) // devices.list

	sendJSON(t, sub, map[string]interface{}{
		"type":     models.TypeRequestEvents,
		"deviceId": "ghost",
	})

	reply := readFrame(t, sub)
	require.Equal(t, models.TypeDeviceEvents, reply["type"])

	payload := payloadOf(t, reply)
	events, ok := payload["events"].([]interface{})
	require.True(t, ok, "unknown device yields an empty list, not null or an error")
	assert.Empty(t, events)
}

func TestEventsBeforeHandshakeAreDropped(t *testing.T) {
	env := newTestEnv(t)

	device := dialWS(t, env.deviceServer)
	sendJSON(t, device, map[string]interface{}{"type": "log", "msg": "too early"})
	sendJSON(t, device, authFrame("dev1"))
	waitForDevices(t, env, 1)

	assert.Empty(t, env.reg.GetEvents("dev1"))
}

func TestMalformedFramesNeverTerminateConnections(t *testing.T) {
	env := newTestEnv(t)

	device := dialWS(t, env.deviceServer)
	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte("{not json")))

	// Incomplete handshake: recoverable, connection stays in Connecting.
	sendJSON(t, device, map[string]interface{}{
		"type":    models.TypeAuth,
		"payload": map[string]interface{}{"userAgent": "x", "url": "y"},
	})

	sendJSON(t, device, authFrame("dev1"))
	waitForDevices(t, env, 1)
}

func TestNullFrameAfterHandshakeIsSkipped(t *testing.T) {
	env := newTestEnv(t)

	device := dialWS(t, env.deviceServer)
	sendJSON(t, device, authFrame("dev1"))
	waitForDevices(t, env, 1)

	// Valid JSON that decodes to no object at all. The pipeline must drop
	// it and keep reading.
	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte("null")))

	sendJSON(t, device, map[string]interface{}{"type": "log", "seq": 0})

	require.Eventually(t, func() bool {
		return len(env.reg.GetEvents("dev1")) == 1
	}, waitTimeout, waitTick)

	assert.Equal(t, 1, env.reg.DeviceCount(), "connection survives the non-object frame")
}

func TestCommandForwardedToDevice(t *testing.T) {
	env := newTestEnv(t)

	device := dialWS(t, env.deviceServer)
	sendJSON(t, device, authFrame("dev1"))
	waitForDevices(t, env, 1)

	sub := dialWS(t, env.subscriberSrv)
	readFrame(t, sub) // devices.list

	sendJSON(t, sub, map[string]interface{}{
		"type":     models.TypeSendCommand,
		"deviceId": "dev1",
		"command":  "reload",
		"payload":  map[string]interface{}{"hard": true},
	})

	command := readFrame(t, device)
	assert.Equal(t, models.TypeCommand, command["type"])
	assert.Equal(t, "reload", command["command"])
	assert.Equal(t, true, payloadOf(t, command)["hard"])
}

func TestCommandToOfflineDeviceIsSilentlyDropped(t *testing.T) {
	env := newTestEnv(t)

	sub := dialWS(t, env.subscriberSrv)
	readFrame(t, sub) // devices.list

	sendJSON(t, sub, map[string]interface{}{
		"type":     models.TypeSendCommand,
		"deviceId": "ghost",
		"command":  "reload",
	})

	// No error reply is defined; the pipeline must keep serving.
	sendJSON(t, sub, map[string]interface{}{
		"type":     models.TypeRequestEvents,
		"deviceId": "ghost",
	})

	reply := readFrame(t, sub)
	assert.Equal(t, models.TypeDeviceEvents, reply["type"])
}

func TestDisconnectAnnouncedAndHistoryKept(t *testing.T) {
	env := newTestEnv(t)

	device := dialWS(t, env.deviceServer)
	sendJSON(t, device, authFrame("dev1"))
	sendJSON(t, device, map[string]interface{}{"type": "log", "seq": 0})

	require.Eventually(t, func() bool {
		return len(env.reg.GetEvents("dev1")) == 1
	}, waitTimeout, waitTick)

	sub := dialWS(t, env.subscriberSrv)
	readFrame(t, sub) // devices.list

	require.NoError(t, device.Close())

	disconnected := readFrame(t, sub)
	require.Equal(t, models.TypeDeviceDisconnected, disconnected["type"])
	assert.Equal(t, "dev1", payloadOf(t, disconnected)["deviceId"])

	waitForDevices(t, env, 0)
	assert.Len(t, env.reg.GetEvents("dev1"), 1, "history survives disconnect")

	// A reconnect under the same identity reuses the existing buffer.
	replacement := dialWS(t, env.deviceServer)
	sendJSON(t, replacement, authFrame("dev1"))
	sendJSON(t, replacement, map[string]interface{}{"type": "log", "seq": 1})

	require.Eventually(t, func() bool {
		return len(env.reg.GetEvents("dev1")) == 2
	}, waitTimeout, waitTick)
}

func TestSubscriberDisconnectLeavesBroadcastSet(t *testing.T) {
	env := newTestEnv(t)

	sub := dialWS(t, env.subscriberSrv)
	readFrame(t, sub) // devices.list

	require.Eventually(t, func() bool {
		return env.reg.SubscriberCount() == 1
	}, waitTimeout, waitTick)

	require.NoError(t, sub.Close())

	require.Eventually(t, func() bool {
		return env.reg.SubscriberCount() == 0
	}, waitTimeout, waitTick)
}

// brokenConn always fails to send, standing in for a subscriber whose
// connection died between broadcasts.
type brokenConn struct{}

func (*brokenConn) Send(interface{}) error { return errors.New("broken pipe") }

type recordingConn struct {
	mu     sync.Mutex
	frames []json.RawMessage
}

func (r *recordingConn) Send(v interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	r.frames = append(r.frames, data)

	return nil
}

func (r *recordingConn) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.frames)
}

func TestBroadcastToleratesDeadMember(t *testing.T) {
	env := newTestEnv(t)

	healthy := &recordingConn{}
	dead := &brokenConn{}

	env.reg.AddSubscriber(healthy)
	env.reg.AddSubscriber(dead)

	env.hub.Broadcast(map[string]interface{}{"type": "log"})

	assert.Equal(t, 1, healthy.count(), "healthy member still receives the message")
	assert.Equal(t, 1, env.reg.SubscriberCount(), "dead member pruned after the pass")

	// The pruned member stays gone on the next pass.
	env.hub.Broadcast(map[string]interface{}{"type": "log"})
	assert.Equal(t, 2, healthy.count())
}

func TestConcurrentHandshakesSameIdentity(t *testing.T) {
	env := newTestEnv(t)

	conns := make([]*websocket.Conn, 4)
	for i := range conns {
		conns[i] = dialWS(t, env.deviceServer)
	}

	var wg sync.WaitGroup

	for _, conn := range conns {
		wg.Add(1)

		go func(c *websocket.Conn) {
			defer wg.Done()

			_ = c.WriteJSON(authFrame("dev1"))
		}(conn)
	}

	wg.Wait()
	waitForDevices(t, env, 1)
}
