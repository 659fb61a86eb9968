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

// Package agent is the module-side runtime: it advertises the module over
// mDNS, answers commands addressed to it (or broadcast), and publishes
// periodic heartbeats. Device-specific behavior plugs in as command
// handlers.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/habitatlabs/fleet/pkg/bus"
	"github.com/habitatlabs/fleet/pkg/discovery"
	"github.com/habitatlabs/fleet/pkg/health"
	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/models"
)

// CommandHandler executes one device command and returns an optional
// result for the acknowledgment.
type CommandHandler func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// Config describes one module instance.
type Config struct {
	ModuleID          string                 `json:"module_id"`
	Name              string                 `json:"name"`
	Type              models.ModuleType      `json:"type"`
	Port              int                    `json:"port"`
	NatsURL           string                 `json:"nats_url"`
	HeartbeatInterval models.Duration        `json:"heartbeat_interval"`
	DiskPath          string                 `json:"disk_path,omitempty"`
	Properties        map[string]string      `json:"properties,omitempty"`
	Settings          map[string]interface{} `json:"settings,omitempty"`
	Logging           *logger.Config         `json:"logging,omitempty"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.ModuleID == "" {
		return fmt.Errorf("module_id is required")
	}

	if c.NatsURL == "" {
		return fmt.Errorf("nats_url is required")
	}

	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}

	return nil
}

// NewFromConfig builds a fully wired agent: NATS bus, mDNS advertisement,
// and a live host metrics collector.
func NewFromConfig(cfg Config, log logger.Logger) (*Agent, error) {
	natsBus, err := bus.NewNatsBus(cfg.NatsURL, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect message bus: %w", err)
	}

	disc := discovery.NewAdapter(nil, log)
	collector := NewHostCollector(cfg.DiskPath, log)

	return New(cfg, natsBus, disc, collector, nil, log), nil
}

// Agent runs one module endpoint.
type Agent struct {
	config    Config
	bus       bus.Bus
	discovery *discovery.Adapter
	collector MetricsCollector
	clock     health.Clock
	logger    logger.Logger

	handlerMu sync.RWMutex
	handlers  map[string]CommandHandler

	settingsMu sync.RWMutex
	settings   map[string]interface{}

	unsubscribes []bus.Unsubscribe
	stopOnce     sync.Once
	stop         chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
	started      bool
	mu           sync.Mutex
}

// New builds an agent. Discovery may be nil for transports where the
// controller address is known out of band; a nil clock defaults to the
// real one.
func New(config Config, b bus.Bus, disc *discovery.Adapter, collector MetricsCollector, clk health.Clock, log logger.Logger) *Agent {
	if clk == nil {
		clk = health.RealClock{}
	}

	settings := make(map[string]interface{}, len(config.Settings))
	for k, v := range config.Settings {
		settings[k] = v
	}

	return &Agent{
		config:    config,
		bus:       b,
		discovery: disc,
		collector: collector,
		clock:     clk,
		logger:    log.WithComponent("agent"),
		handlers:  make(map[string]CommandHandler),
		settings:  settings,
		stop:      make(chan struct{}),
		shutdown:  make(chan struct{}),
	}
}

// RegisterHandler installs a handler for one command name. Handlers for
// the built-in config and shutdown commands are ignored; those are owned
// by the runtime.
func (a *Agent) RegisterHandler(command string, fn CommandHandler) {
	switch command {
	case models.CommandGetConfig, models.CommandSetConfig, models.CommandShutdown:
		a.logger.Warn().Str("command", command).Msg("Refusing to override built-in command handler")
		return
	}

	a.handlerMu.Lock()
	defer a.handlerMu.Unlock()

	a.handlers[command] = fn
}

// Start advertises the module, subscribes to its command topics, and
// launches the heartbeat loop.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	if a.discovery != nil {
		props := map[string]string{
			"id":   a.config.ModuleID,
			"type": string(a.config.Type),
		}
		for k, v := range a.config.Properties {
			props[k] = v
		}

		err := a.discovery.Advertise(discovery.ServiceModule, discovery.Config{
			Instance:   a.config.Name,
			Port:       a.config.Port,
			Properties: props,
		})
		if err != nil {
			return err
		}
	}

	for _, topic := range []string{
		bus.CommandTopic(a.config.ModuleID),
		bus.CommandTopic(models.BroadcastTarget),
	} {
		unsub, err := a.bus.Subscribe(topic, a.handleCommand)
		if err != nil {
			return err
		}

		a.unsubscribes = append(a.unsubscribes, unsub)
	}

	a.wg.Add(1)

	go a.heartbeatLoop(ctx)

	a.started = true
	a.logger.Info().
		Str("module_id", a.config.ModuleID).
		Str("type", string(a.config.Type)).
		Msg("Agent started")

	return nil
}

// Stop withdraws the advertisement and tears the agent down.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}

	a.stopOnce.Do(func() { close(a.stop) })
	a.wg.Wait()

	if a.discovery != nil {
		a.discovery.Stop()
	}

	for _, unsub := range a.unsubscribes {
		unsub()
	}

	a.unsubscribes = nil

	err := a.bus.Close(ctx)

	a.started = false
	a.logger.Info().Str("module_id", a.config.ModuleID).Msg("Agent stopped")

	return err
}

// Done is closed when a shutdown command has been received. The embedding
// process should then call Stop and exit.
func (a *Agent) Done() <-chan struct{} {
	return a.shutdown
}

// PublishData publishes one telemetry payload on the module's data topic.
func (a *Agent) PublishData(payload map[string]interface{}) {
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = epochSeconds(a.clock.Now())
	}

	a.bus.Publish(bus.DataTopic(a.config.ModuleID), payload)
}

// PublishSyncSamples reports clock-sync measurements to the controller.
func (a *Agent) PublishSyncSamples(samples []models.SyncSample) {
	encoded := make([]interface{}, 0, len(samples))

	for _, s := range samples {
		encoded = append(encoded, map[string]interface{}{
			"timestamp": epochSeconds(s.Timestamp),
			"offset":    s.Offset,
			"freq":      s.Freq,
			"source":    s.Source,
		})
	}

	a.publishStatus(map[string]interface{}{
		"type":    "clock_sync",
		"samples": encoded,
	})
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	defer a.wg.Done()

	// First heartbeat goes out immediately so the controller marks the
	// module online without waiting a full interval.
	a.publishHeartbeat(ctx, "heartbeat")

	ticker := a.clock.Ticker(a.config.HeartbeatInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			a.publishHeartbeat(ctx, "heartbeat")
		}
	}
}

func (a *Agent) publishHeartbeat(ctx context.Context, msgType string) {
	metrics := a.collector.Collect(ctx)

	payload := map[string]interface{}{
		"type":                   msgType,
		models.MetricCPUUsage:    metrics.CPUUsage,
		models.MetricCPUTemp:     metrics.CPUTemp,
		models.MetricMemoryUsage: metrics.MemoryUsage,
		models.MetricDiskSpace:   metrics.DiskSpace,
		models.MetricUptime:      metrics.Uptime,
	}

	if metrics.ClockOffset != nil {
		payload[models.MetricClockOffset] = *metrics.ClockOffset
	}

	if metrics.ClockFreq != nil {
		payload[models.MetricClockFreq] = *metrics.ClockFreq
	}

	a.publishStatus(payload)
}

func (a *Agent) handleCommand(topic string, payload map[string]interface{}) {
	commandID, _ := payload["id"].(string)
	name, _ := payload["command"].(string)

	if name == "" {
		a.logger.Warn().Str("topic", topic).Msg("Command message without a command name")
		return
	}

	params, _ := payload["params"].(map[string]interface{})

	a.logger.Info().Str("command", name).Str("command_id", commandID).Msg("Command received")

	result, err := a.dispatch(name, params)

	ack := map[string]interface{}{
		"type":       "ack",
		"command_id": commandID,
		"command":    name,
	}

	if err != nil {
		ack["error"] = err.Error()
	} else if len(result) > 0 {
		ack["result"] = result
	}

	a.publishStatus(ack)
}

func (a *Agent) dispatch(name string, params map[string]interface{}) (map[string]interface{}, error) {
	switch name {
	case models.CommandGetConfig:
		a.publishConfig()
		return nil, nil

	case models.CommandSetConfig:
		return nil, a.applySettings(params)

	case models.CommandShutdown:
		a.shutdownOnce.Do(func() { close(a.shutdown) })
		return nil, nil

	case models.CommandGetStatus:
		a.publishHeartbeat(context.Background(), "status")
		return nil, nil
	}

	a.handlerMu.RLock()
	handler, ok := a.handlers[name]
	a.handlerMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}

	return handler(context.Background(), params)
}

func (a *Agent) applySettings(params map[string]interface{}) error {
	raw, ok := params["config"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("set_config requires a config object")
	}

	a.settingsMu.Lock()
	for k, v := range raw {
		a.settings[k] = v
	}
	a.settingsMu.Unlock()

	a.publishConfig()

	return nil
}

func (a *Agent) publishConfig() {
	a.settingsMu.RLock()
	cfg := make(map[string]interface{}, len(a.settings))
	for k, v := range a.settings {
		cfg[k] = v
	}
	a.settingsMu.RUnlock()

	a.publishStatus(map[string]interface{}{
		"type":   "config",
		"config": cfg,
	})
}

func (a *Agent) publishStatus(payload map[string]interface{}) {
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = epochSeconds(a.clock.Now())
	}

	a.bus.Publish(bus.StatusTopic(a.config.ModuleID), payload)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
