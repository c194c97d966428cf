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

// Package api provides the read-only HTTP query surface for debughub.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	srHttp "github.com/insidr/debughub/pkg/http"
	"github.com/insidr/debughub/pkg/logger"
	"github.com/insidr/debughub/pkg/models"
	"github.com/rs/zerolog"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// DeviceQuerier is the read-only registry view the API serves from.
type DeviceQuerier interface {
	ListDeviceInfos() []models.DeviceInfo
	Snapshot(id string) (models.DeviceSnapshot, bool)
}

// APIServer serves the device query endpoints and /metrics.
type APIServer struct {
	router         *mux.Router
	querier        DeviceQuerier
	metricsHandler http.Handler
	corsConfig     models.CORSConfig
	logger         zerolog.Logger
	srv            *http.Server
}

// NewAPIServer creates a new API server instance with the given configuration.
func NewAPIServer(corsConfig models.CORSConfig, options ...func(server *APIServer)) *APIServer {
	s := &APIServer{
		router:     mux.NewRouter(),
		corsConfig: corsConfig,
		logger:     zerolog.Nop(),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithQuerier sets the registry view the API serves from.
func WithQuerier(q DeviceQuerier) func(*APIServer) {
	return func(server *APIServer) {
		server.querier = q
	}
}

// WithMetricsHandler mounts a prometheus handler at /metrics.
func WithMetricsHandler(h http.Handler) func(*APIServer) {
	return func(server *APIServer) {
		server.metricsHandler = h
	}
}

// WithLogger sets the server's logger.
func WithLogger(log logger.Logger) func(*APIServer) {
	return func(server *APIServer) {
		server.logger = log.WithComponent("api")
	}
}

func (s *APIServer) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return srHttp.CommonMiddleware(next, s.corsConfig)
	})

	s.router.HandleFunc("/api/devices", s.getDevices).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/devices/{id}", s.getDevice).Methods(http.MethodGet, http.MethodOptions)

	// Alias kept for clients of the original singular route.
	s.router.HandleFunc("/api/device/{id}", s.getDevice).Methods(http.MethodGet, http.MethodOptions)

	if s.metricsHandler != nil {
		s.router.Handle("/metrics", s.metricsHandler).Methods(http.MethodGet)
	}
}

// getDevices returns every known device's info.
func (s *APIServer) getDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSONResponse(w, s.querier.ListDeviceInfos())
}

// getDevice returns one device's info plus its buffered events, or 404 when
// the device is not currently connected.
func (s *APIServer) getDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snapshot, ok := s.querier.Snapshot(id)
	if !ok {
		s.writeError(w, "device not found", http.StatusNotFound)
		return
	}

	s.writeJSONResponse(w, snapshot)
}

func (s *APIServer) writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Error encoding response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		s.logger.Error().Err(err).Msg("Error encoding error response")
	}
}

// ServeHTTP lets the server be mounted directly in tests.
func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start starts the API server on the specified address.
func (s *APIServer) Start(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the API server.
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}

	return s.srv.Shutdown(ctx)
}
