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

// Package coordination is the facade the web and experiment-control
// layers are built against. It routes inbound bus traffic to the health
// monitor and telemetry buffer, dispatches commands, and exposes
// registry, health, and buffer state. It performs no business logic of
// its own.
package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/habitatlabs/fleet/pkg/buffer"
	"github.com/habitatlabs/fleet/pkg/bus"
	"github.com/habitatlabs/fleet/pkg/discovery"
	"github.com/habitatlabs/fleet/pkg/export"
	"github.com/habitatlabs/fleet/pkg/health"
	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/models"
	"github.com/habitatlabs/fleet/pkg/registry"
)

// Status payload types recognized on the status channel.
const (
	statusTypeHeartbeat = "heartbeat"
	statusTypeStatus    = "status"
	statusTypeClockSync = "clock_sync"
	statusTypeAck       = "ack"
	statusTypeConfig    = "config"
)

// Deps are the owned components the coordinator mediates between.
// Exporter and Discovery may be nil for deployments (and tests) that run
// without them.
type Deps struct {
	Bus             bus.Bus
	Registry        *registry.Registry
	Health          *health.Monitor
	Buffer          *buffer.Buffer
	Exporter        *export.Scheduler
	Discovery       *discovery.Adapter
	DiscoveryConfig discovery.Config
	Logger          logger.Logger
}

// Coordinator wires the fleet coordination subsystem together.
type Coordinator struct {
	bus          bus.Bus
	registry     *registry.Registry
	health       *health.Monitor
	buffer       *buffer.Buffer
	exporter     *export.Scheduler
	discovery    *discovery.Adapter
	discoveryCfg discovery.Config
	logger       logger.Logger

	callbackMu   sync.RWMutex
	onDiscovered []discovery.ModuleFunc
	onLost       []discovery.ModuleFunc

	configMu      sync.RWMutex
	moduleConfigs map[string]map[string]interface{}

	unsubscribes []bus.Unsubscribe
	started      bool
	mu           sync.Mutex
}

// New builds a coordinator around the given components.
func New(deps Deps) *Coordinator {
	c := &Coordinator{
		bus:           deps.Bus,
		registry:      deps.Registry,
		health:        deps.Health,
		buffer:        deps.Buffer,
		exporter:      deps.Exporter,
		discovery:     deps.Discovery,
		discoveryCfg:  deps.DiscoveryConfig,
		logger:        deps.Logger.WithComponent("coordination"),
		moduleConfigs: make(map[string]map[string]interface{}),
	}

	// Liveness transitions flow from the health monitor into the
	// registry's liveness dimension. User callbacks ride the same edge.
	c.health.OnStatusChange(func(moduleID string, state models.LivenessState) {
		c.registry.SetLiveness(moduleID, state)
	})

	if c.discovery != nil {
		c.discovery.OnModuleDiscovered = c.moduleDiscovered
		c.discovery.OnModuleLost = c.moduleLost
	}

	return c
}

// Start advertises the controller, begins browsing for modules, attaches
// the bus subscriptions, and launches the health sweep and export loops.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	if c.discovery != nil {
		if err := c.discovery.Advertise(discovery.ServiceController, c.discoveryCfg); err != nil {
			return err
		}

		if err := c.discovery.Browse(ctx, discovery.ServiceModule); err != nil {
			return err
		}
	}

	unsubStatus, err := c.bus.Subscribe(bus.TopicStatusPrefix, c.handleStatus)
	if err != nil {
		return err
	}

	c.unsubscribes = append(c.unsubscribes, unsubStatus)

	unsubData, err := c.bus.Subscribe(bus.TopicDataPrefix, c.handleData)
	if err != nil {
		return err
	}

	c.unsubscribes = append(c.unsubscribes, unsubData)

	c.health.Start()

	if c.exporter != nil {
		c.exporter.Start()
	}

	c.started = true
	c.logger.Info().Msg("Coordinator started")

	return nil
}

// Stop winds the subsystem down: export loops first so buffered data gets
// a final flush, then the health sweep, discovery, and finally the bus
// with a short linger for in-flight sends.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}

	if c.exporter != nil {
		c.exporter.Stop()
	}

	c.health.Stop()

	if c.discovery != nil {
		c.discovery.Stop()
	}

	for _, unsub := range c.unsubscribes {
		unsub()
	}

	c.unsubscribes = nil

	err := c.bus.Close(ctx)

	c.started = false
	c.logger.Info().Msg("Coordinator stopped")

	return err
}

// SendCommand publishes a command to one module or, with the broadcast
// target, to all of them. Fire-and-forget: there is no delivery
// confirmation to wait for.
func (c *Coordinator) SendCommand(target, name string, params map[string]interface{}) {
	payload := map[string]interface{}{
		"id":      uuid.New().String(),
		"command": name,
	}

	if len(params) > 0 {
		payload["params"] = params
	}

	c.bus.Publish(bus.CommandTopic(target), payload)

	c.logger.Info().Str("target", target).Str("command", name).Msg("Command sent")
}

// ListModules returns all known modules.
func (c *Coordinator) ListModules() []models.Module {
	return c.registry.List()
}

// DiscoveredModules returns modules currently advertised on the network.
func (c *Coordinator) DiscoveredModules() []models.Module {
	return c.registry.Discovered()
}

// ModuleHealth returns the health snapshot of one module, or nil if it
// has never sent a heartbeat.
func (c *Coordinator) ModuleHealth(moduleID string) *models.HealthRecord {
	return c.health.Latest(moduleID)
}

// AllModuleHealth returns the health snapshot of every tracked module.
func (c *Coordinator) AllModuleHealth() map[string]models.HealthRecord {
	return c.health.All()
}

// HealthSummary aggregates fleet liveness and metric averages.
func (c *Coordinator) HealthSummary() models.HealthSummary {
	return c.health.Summary()
}

// ModuleStats summarizes one metric over the trailing window.
func (c *Coordinator) ModuleStats(moduleID, metric string, window time.Duration) models.MetricStats {
	return c.health.Stats(moduleID, metric, window)
}

// SyncHistory returns a module's clock-sync history.
func (c *Coordinator) SyncHistory(moduleID string) []models.SyncSample {
	return c.buffer.SyncHistory(moduleID)
}

// ModuleConfigs returns the last reported config of every online module.
func (c *Coordinator) ModuleConfigs() map[string]map[string]interface{} {
	online := make(map[string]struct{})
	for _, id := range c.health.OnlineModules() {
		online[id] = struct{}{}
	}

	c.configMu.RLock()
	defer c.configMu.RUnlock()

	out := make(map[string]map[string]interface{})

	for id, cfg := range c.moduleConfigs {
		if _, ok := online[id]; ok {
			out[id] = cfg
		}
	}

	return out
}

// SetModuleConfig pushes a config change to one module. The module
// replies with a config report, which refreshes ModuleConfigs.
func (c *Coordinator) SetModuleConfig(moduleID string, config map[string]interface{}) {
	c.SendCommand(moduleID, models.CommandSetConfig, map[string]interface{}{"config": config})
}

// RemoveModule soft-removes a module: registry record marked lost and
// offline, health tracking dropped, and a shutdown command sent on the
// way out.
func (c *Coordinator) RemoveModule(moduleID string) {
	c.registry.Remove(moduleID)
	c.health.Remove(moduleID)
	c.SendCommand(moduleID, models.CommandShutdown, nil)
}

// OnStatusChange registers a callback for module liveness transitions.
func (c *Coordinator) OnStatusChange(fn health.StatusChangeFunc) {
	c.health.OnStatusChange(fn)
}

// OnModuleDiscovered registers a callback for discovery events.
func (c *Coordinator) OnModuleDiscovered(fn discovery.ModuleFunc) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()

	c.onDiscovered = append(c.onDiscovered, fn)
}

// OnModuleLost registers a callback for advertisement removals.
func (c *Coordinator) OnModuleLost(fn discovery.ModuleFunc) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()

	c.onLost = append(c.onLost, fn)
}

func (c *Coordinator) moduleDiscovered(module models.Module) {
	// Ask the module for its config so the facade can serve it without
	// a round trip later.
	c.SendCommand(module.ID, models.CommandGetConfig, nil)

	c.callbackMu.RLock()
	callbacks := c.onDiscovered
	c.callbackMu.RUnlock()

	for _, fn := range callbacks {
		fn(module)
	}
}

func (c *Coordinator) moduleLost(module models.Module) {
	c.callbackMu.RLock()
	callbacks := c.onLost
	c.callbackMu.RUnlock()

	for _, fn := range callbacks {
		fn(module)
	}
}
