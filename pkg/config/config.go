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

// Package config loads the debughub configuration from a JSON file with
// environment overrides.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/insidr/debughub/pkg/models"
)

// FileConfigLoader loads configuration from a local JSON file.
type FileConfigLoader struct{}

// Load implements ConfigLoader by reading and unmarshaling a JSON file.
func (*FileConfigLoader) Load(_ context.Context, path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	err = json.Unmarshal(data, dst)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	return nil
}

// LoadConfig reads the config file at path (optional), applies DEBUGHUB_*
// environment overrides, and validates the result. An empty path yields a
// config built purely from defaults and the environment.
func LoadConfig(ctx context.Context, path string) (models.Config, error) {
	var cfg models.Config

	if path != "" {
		loader := &FileConfigLoader{}
		if err := loader.Load(ctx, path, &cfg); err != nil {
			return models.Config{}, err
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return models.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *models.Config) {
	if host := os.Getenv("DEBUGHUB_HOST"); host != "" {
		cfg.Host = host
	}

	overrideInt("DEBUGHUB_DEVICE_PORT", &cfg.DevicePort)
	overrideInt("DEBUGHUB_SUBSCRIBER_PORT", &cfg.SubscriberPort)
	overrideInt("DEBUGHUB_HTTP_PORT", &cfg.HTTPPort)
	overrideInt("DEBUGHUB_EVENT_BUFFER_SIZE", &cfg.EventBufferSize)
}

func overrideInt(key string, dst *int) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}

	if v, err := strconv.Atoi(raw); err == nil {
		*dst = v
	}
}
