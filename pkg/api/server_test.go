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

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insidr/debughub/pkg/models"
)

type fakeQuerier struct {
	devices   []models.DeviceInfo
	snapshots map[string]models.DeviceSnapshot
}

func (f *fakeQuerier) ListDeviceInfos() []models.DeviceInfo {
	return f.devices
}

func (f *fakeQuerier) Snapshot(id string) (models.DeviceSnapshot, bool) {
	snapshot, ok := f.snapshots[id]
	return snapshot, ok
}

func newTestServer(q DeviceQuerier) *APIServer {
	return NewAPIServer(models.CORSConfig{}, WithQuerier(q))
}

func doRequest(t *testing.T, server *APIServer, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	return rec
}

func TestGetDevices(t *testing.T) {
	now := time.Now().UTC()
	querier := &fakeQuerier{
		devices: []models.DeviceInfo{
			{DeviceID: "dev1", UserAgent: "agent-a", URL: "https://a.example", ConnectedAt: now, LastSeen: now},
			{DeviceID: "dev2", UserAgent: "agent-b", URL: "https://b.example", ConnectedAt: now, LastSeen: now},
		},
	}

	rec := doRequest(t, newTestServer(querier), http.MethodGet, "/api/devices")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var devices []models.DeviceInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&devices))
	require.Len(t, devices, 2)
	assert.Equal(t, "dev1", devices[0].DeviceID)
	assert.Equal(t, "agent-b", devices[1].UserAgent)
}

func TestGetDevicesEmpty(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeQuerier{devices: []models.DeviceInfo{}}), http.MethodGet, "/api/devices")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetDeviceWithEvents(t *testing.T) {
	querier := &fakeQuerier{
		snapshots: map[string]models.DeviceSnapshot{
			"dev1": {
				Info: models.DeviceInfo{DeviceID: "dev1", UserAgent: "agent-a"},
				Events: []models.EventEnvelope{
					{"type": "console.log", "deviceId": "dev1"},
				},
			},
		},
	}

	rec := doRequest(t, newTestServer(querier), http.MethodGet, "/api/devices/dev1")

	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot models.DeviceSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snapshot))
	assert.Equal(t, "dev1", snapshot.Info.DeviceID)
	require.Len(t, snapshot.Events, 1)
	assert.Equal(t, "console.log", snapshot.Events[0].Type())
}

func TestGetDeviceNotFound(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeQuerier{}), http.MethodGet, "/api/devices/ghost")

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error": "device not found"}`, rec.Body.String())
}

func TestGetDeviceSingularAlias(t *testing.T) {
	querier := &fakeQuerier{
		snapshots: map[string]models.DeviceSnapshot{
			"dev1": {Info: models.DeviceInfo{DeviceID: "dev1"}, Events: []models.EventEnvelope{}},
		},
	}

	rec := doRequest(t, newTestServer(querier), http.MethodGet, "/api/device/dev1")

	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot models.DeviceSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snapshot))
	assert.Equal(t, "dev1", snapshot.Info.DeviceID)
}

func TestCORSHeadersOnPreflight(t *testing.T) {
	server := NewAPIServer(models.CORSConfig{AllowedOrigins: []string{"https://ui.example"}}, WithQuerier(&fakeQuerier{}))

	req := httptest.NewRequest(http.MethodOptions, "/api/devices", nil)
	req.Header.Set("Origin", "https://ui.example")

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, "https://ui.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
