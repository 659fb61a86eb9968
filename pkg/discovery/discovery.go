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

// Package discovery advertises the local role over mDNS and browses for
// the complementary role, feeding presence transitions into the registry.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/models"
	"github.com/habitatlabs/fleet/pkg/registry"
)

// Service-type strings on the wire.
const (
	ServiceController = "_controller._tcp"
	ServiceModule     = "_module._tcp"
	Domain            = "local."
)

// ModuleFunc observes a presence transition for one module.
type ModuleFunc func(module models.Module)

// Config describes the local advertisement.
type Config struct {
	Instance   string            `json:"instance"`
	Port       int               `json:"port"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Adapter owns the mDNS server and browser for one process.
type Adapter struct {
	registry *registry.Registry
	logger   logger.Logger

	// OnModuleDiscovered and OnModuleLost must be set before Browse.
	OnModuleDiscovered ModuleFunc
	OnModuleLost       ModuleFunc

	mu     sync.Mutex
	server *zeroconf.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdapter creates a discovery adapter feeding the given registry.
// Advertise-only callers (module agents) may pass a nil registry as long
// as they never Browse.
func NewAdapter(reg *registry.Registry, log logger.Logger) *Adapter {
	return &Adapter{
		registry: reg,
		logger:   log.WithComponent("discovery"),
	}
}

// Advertise registers one service record for the local role. Properties
// are flattened into TXT key=value pairs; `id` and `type` are required by
// the complementary browser.
func (a *Adapter) Advertise(service string, cfg Config) error {
	txt := make([]string, 0, len(cfg.Properties))
	for k, v := range cfg.Properties {
		txt = append(txt, k+"="+v)
	}

	server, err := zeroconf.Register(cfg.Instance, service, Domain, cfg.Port, txt, nil)
	if err != nil {
		return fmt.Errorf("failed to register %s advertisement: %w", service, err)
	}

	a.mu.Lock()
	a.server = server
	a.mu.Unlock()

	a.logger.Info().
		Str("instance", cfg.Instance).
		Str("service", service).
		Int("port", cfg.Port).
		Msg("Service advertised")

	return nil
}

// Browse watches for advertisements of the given service type until the
// adapter is stopped. Entries arrive on the discovery library's own
// goroutine; each one is resolved and applied to the registry there.
func (a *Adapter) Browse(ctx context.Context, service string) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}

	browseCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	entries := make(chan *zeroconf.ServiceEntry, 16)

	if err := resolver.Browse(browseCtx, service, Domain, entries); err != nil {
		cancel()
		return fmt.Errorf("failed to browse %s: %w", service, err)
	}

	a.wg.Add(1)

	go func() {
		defer a.wg.Done()

		for entry := range entries {
			a.handleEntry(entry)
		}
	}()

	a.logger.Info().Str("service", service).Msg("Browsing for advertisements")

	return nil
}

func (a *Adapter) handleEntry(entry *zeroconf.ServiceEntry) {
	// A goodbye packet announces the record with zero TTL.
	if entry.TTL == 0 {
		a.handleRemoval(entry.Instance)
		return
	}

	props := parseTxt(entry.Text)

	id := props["id"]
	if id == "" {
		// Identity is hardware-derived and mandatory; an advertisement
		// without it cannot be tracked.
		a.logger.Warn().Str("instance", entry.Instance).Msg("Advertisement missing id property, skipping")
		return
	}

	if len(entry.AddrIPv4) == 0 {
		a.logger.Warn().Str("instance", entry.Instance).Msg("Advertisement resolved no address, skipping")
		return
	}

	moduleType := models.ModuleType(props["type"])
	if moduleType == "" {
		moduleType = models.ModuleTypeUnknown
	}

	module, created := a.registry.Upsert(registry.ModuleInfo{
		ID:         id,
		Name:       entry.Instance,
		Type:       moduleType,
		Addr:       entry.AddrIPv4[0].String(),
		Port:       entry.Port,
		Properties: props,
	})

	a.logger.Info().
		Str("module_id", id).
		Str("addr", module.Addr).
		Bool("new", created).
		Msg("Module advertisement resolved")

	if a.OnModuleDiscovered != nil {
		a.OnModuleDiscovered(*module)
	}
}

func (a *Adapter) handleRemoval(instance string) {
	module := a.registry.MarkLostByName(instance)
	if module == nil {
		a.logger.Warn().Str("instance", instance).Msg("Removal for unknown advertisement")
		return
	}

	if a.OnModuleLost != nil {
		a.OnModuleLost(*module)
	}
}

// Stop cancels browsing and withdraws the local advertisement.
func (a *Adapter) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	server := a.server
	a.cancel = nil
	a.server = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	a.wg.Wait()

	if server != nil {
		server.Shutdown()
	}

	a.logger.Info().Msg("Discovery stopped")
}

func parseTxt(text []string) map[string]string {
	props := make(map[string]string, len(text))

	for _, kv := range text {
		if idx := strings.Index(kv, "="); idx > 0 {
			props[kv[:idx]] = kv[idx+1:]
		}
	}

	return props
}
