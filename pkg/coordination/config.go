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

package coordination

import (
	"context"
	"errors"
	"fmt"

	"github.com/habitatlabs/fleet/pkg/buffer"
	"github.com/habitatlabs/fleet/pkg/bus"
	"github.com/habitatlabs/fleet/pkg/discovery"
	"github.com/habitatlabs/fleet/pkg/export"
	"github.com/habitatlabs/fleet/pkg/health"
	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/registry"
)

var (
	errNatsURLRequired   = errors.New("nats_url is required")
	errHeartbeatRequired = errors.New("health.heartbeat_interval and health.heartbeat_timeout must be positive")
	errTimeoutTooShort   = errors.New("health.heartbeat_timeout must exceed health.heartbeat_interval")
	errSinkRequired      = errors.New("sink.dsn is required when export intervals are set")
)

// Config is the controller process configuration.
type Config struct {
	NatsURL   string                `json:"nats_url"`
	Discovery discovery.Config      `json:"discovery"`
	Health    health.Config         `json:"health"`
	Buffer    buffer.Config         `json:"buffer"`
	Export    export.Config         `json:"export"`
	Sink      export.PostgresConfig `json:"sink"`
	Logging   *logger.Config        `json:"logging,omitempty"`
}

// Validate implements config.Validator. Misconfiguration is fatal at
// startup; after this everything degrades gracefully.
func (c *Config) Validate() error {
	if c.NatsURL == "" {
		return errNatsURLRequired
	}

	if c.Health.HeartbeatInterval <= 0 || c.Health.HeartbeatTimeout <= 0 {
		return errHeartbeatRequired
	}

	if c.Health.HeartbeatTimeout <= c.Health.HeartbeatInterval {
		return errTimeoutTooShort
	}

	exporting := c.Export.ExportInterval > 0 || c.Export.HealthExportInterval > 0
	if exporting && c.Sink.DSN == "" {
		return errSinkRequired
	}

	return nil
}

// NewFromConfig builds a fully wired coordinator: NATS bus, registry,
// discovery adapter, health monitor, telemetry buffer, and, when export
// intervals are configured, a Postgres sink with its scheduler.
func NewFromConfig(ctx context.Context, cfg *Config, log logger.Logger) (*Coordinator, error) {
	natsBus, err := bus.NewNatsBus(cfg.NatsURL, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect message bus: %w", err)
	}

	reg := registry.New(log)
	monitor := health.NewMonitor(cfg.Health, nil, log)
	buf := buffer.New(cfg.Buffer, log)

	var exporter *export.Scheduler

	if cfg.Export.ExportInterval > 0 || cfg.Export.HealthExportInterval > 0 {
		sink, err := export.NewPostgresSink(ctx, cfg.Sink, log)
		if err != nil {
			_ = natsBus.Close(ctx)
			return nil, fmt.Errorf("failed to create export sink: %w", err)
		}

		exporter = export.NewScheduler(cfg.Export, sink, buf, monitor, reg, nil, log)
	}

	return New(Deps{
		Bus:             natsBus,
		Registry:        reg,
		Health:          monitor,
		Buffer:          buf,
		Exporter:        exporter,
		Discovery:       discovery.NewAdapter(reg, log),
		DiscoveryConfig: cfg.Discovery,
		Logger:          log,
	}), nil
}
