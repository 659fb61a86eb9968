/*
 * Copyright 2026 Habitat Labs.
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

// Package config loads service configuration from JSON files with
// environment variable overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/habitatlabs/fleet/pkg/logger"
)

var (
	errLoadConfigFailed = errors.New("failed to load configuration")
	errInvalidConfigPtr = errors.New("config must be a non-nil pointer")
	errValidationFailed = errors.New("configuration validation failed")
)

// Validator is implemented by config structs that can check themselves.
type Validator interface {
	Validate() error
}

// ConfigLoader loads configuration from a source into dst.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Config holds the configuration loading dependencies.
type Config struct {
	loader ConfigLoader
	logger logger.Logger
}

// NewConfig initializes a Config with a file loader. A nil logger gets a
// stderr warn-level logger so config loading can report problems before
// the service logger exists.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = bootstrapLogger()
	}

	return &Config{
		loader: &FileConfigLoader{logger: log},
		logger: log,
	}
}

// LoadAndValidate loads configuration from the file at path, applies
// FLEET_* environment overrides, then validates the result if it
// implements Validator.
func (c *Config) LoadAndValidate(ctx context.Context, path string, dst interface{}) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errInvalidConfigPtr
	}

	if err := c.loader.Load(ctx, path, dst); err != nil {
		return fmt.Errorf("%w: %w", errLoadConfigFailed, err)
	}

	if err := applyEnvOverrides(dst, envPrefix); err != nil {
		return fmt.Errorf("%w: %w", errLoadConfigFailed, err)
	}

	if err := ValidateConfig(dst); err != nil {
		return fmt.Errorf("%w: %w", errValidationFailed, err)
	}

	return nil
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

func bootstrapLogger() logger.Logger {
	log, err := logger.New(&logger.Config{Level: "warn", Output: "stderr"})
	if err != nil {
		// DefaultConfig cannot fail to parse.
		log, _ = logger.New(nil)
	}

	return log
}
