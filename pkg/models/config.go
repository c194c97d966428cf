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

import (
	"fmt"

	"github.com/insidr/debughub/pkg/logger"
)

const (
	defaultHost            = "0.0.0.0"
	defaultDevicePort      = 9229
	defaultHTTPPort        = 9231
	defaultEventBufferSize = 1000
)

// CORSConfig configures cross-origin access for the subscriber channel and
// the query API.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// Config is the top-level debughub configuration.
type Config struct {
	// Host is the bind address shared by all three listeners.
	Host string `json:"host"`

	// DevicePort is the websocket port devices connect to.
	DevicePort int `json:"device_port"`

	// SubscriberPort is the websocket port observers connect to.
	// Zero means DevicePort+1, matching the original deployment convention.
	SubscriberPort int `json:"subscriber_port"`

	// HTTPPort serves the read-only query API and /metrics.
	HTTPPort int `json:"http_port"`

	// EventBufferSize caps the per-device event history.
	EventBufferSize int `json:"event_buffer_size"`

	CORS    CORSConfig     `json:"cors"`
	Logging *logger.Config `json:"logging,omitempty"`
}

// Validate fills defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Host == "" {
		c.Host = defaultHost
	}

	if c.DevicePort == 0 {
		c.DevicePort = defaultDevicePort
	}

	if c.DevicePort < 0 || c.DevicePort > 65535 {
		return fmt.Errorf("device_port %d out of range", c.DevicePort)
	}

	if c.SubscriberPort == 0 {
		c.SubscriberPort = c.DevicePort + 1
	}

	if c.HTTPPort == 0 {
		c.HTTPPort = defaultHTTPPort
	}

	if c.SubscriberPort == c.DevicePort || c.HTTPPort == c.DevicePort || c.HTTPPort == c.SubscriberPort {
		return fmt.Errorf("listener ports must be distinct: device=%d subscriber=%d http=%d",
			c.DevicePort, c.SubscriberPort, c.HTTPPort)
	}

	if c.EventBufferSize == 0 {
		c.EventBufferSize = defaultEventBufferSize
	}

	if c.EventBufferSize < 0 {
		return fmt.Errorf("event_buffer_size must be positive, got %d", c.EventBufferSize)
	}

	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}

	return nil
}
