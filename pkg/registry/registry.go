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

// Package registry owns the set of known modules. Presence comes from the
// discovery adapter, liveness from the health monitor; nothing else
// mutates module state, and modules are soft-removed rather than deleted
// while the process runs.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/models"
)

// ModuleInfo is the resolved identity of one advertisement, as handed to
// Upsert by the discovery adapter.
type ModuleInfo struct {
	ID         string
	Name       string
	Type       models.ModuleType
	Addr       string
	Port       int
	Properties map[string]string
}

// Registry is the single owner of module records. All access goes through
// its synchronized methods.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*models.Module
	logger  logger.Logger

	events *eventFanout
	now    func() time.Time
}

// New creates an empty registry.
func New(log logger.Logger) *Registry {
	return &Registry{
		modules: make(map[string]*models.Module),
		logger:  log.WithComponent("registry"),
		events:  newEventFanout(),
		now:     time.Now,
	}
}

// Upsert records a discovery event. Modules are deduplicated by id, not
// by advertised instance name: a module that restarts re-advertises with
// a new name but keeps its hardware-derived id. Returns the stored module
// and whether it was newly created.
func (r *Registry) Upsert(info ModuleInfo) (*models.Module, bool) {
	r.mu.Lock()

	now := r.now()
	m, ok := r.modules[info.ID]

	if !ok {
		m = &models.Module{
			ID:        info.ID,
			Liveness:  models.LivenessUnknown,
			FirstSeen: now,
		}
		r.modules[info.ID] = m
	}

	m.Name = info.Name
	m.Type = info.Type
	m.Addr = info.Addr
	m.Port = info.Port
	m.Properties = info.Properties
	m.Presence = models.PresenceDiscovered
	m.LastSeen = now

	snapshot := *m
	r.mu.Unlock()

	if !ok {
		r.logger.Info().Str("module_id", info.ID).Str("type", string(info.Type)).Msg("Module registered")
	}

	r.events.emit(Event{Type: EventDiscovered, Module: snapshot})

	return &snapshot, !ok
}

// MarkLostByName handles an advertisement removal, which identifies the
// module by its advertised instance name. Returns the affected module, or
// nil when the name is unknown.
func (r *Registry) MarkLostByName(name string) *models.Module {
	r.mu.Lock()

	var snapshot *models.Module

	for _, m := range r.modules {
		if m.Name == name && m.Presence == models.PresenceDiscovered {
			m.Presence = models.PresenceLost
			s := *m
			snapshot = &s

			break
		}
	}

	r.mu.Unlock()

	if snapshot != nil {
		r.logger.Info().Str("module_id", snapshot.ID).Msg("Module advertisement removed")
		r.events.emit(Event{Type: EventLost, Module: *snapshot})
	}

	return snapshot
}

// Get returns a copy of the module, or nil if unknown.
func (r *Registry) Get(id string) *models.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[id]
	if !ok {
		return nil
	}

	snapshot := *m

	return &snapshot
}

// ModuleType returns the module's type, or ModuleTypeUnknown for ids the
// registry has never seen. Used by the export scheduler for enrichment.
func (r *Registry) ModuleType(id string) models.ModuleType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.modules[id]; ok && m.Type != "" {
		return m.Type
	}

	return models.ModuleTypeUnknown
}

// List returns copies of all known modules, ordered by id.
func (r *Registry) List() []models.Module {
	r.mu.RLock()

	out := make([]models.Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, *m)
	}

	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Discovered returns modules whose presence is currently discovered.
func (r *Registry) Discovered() []models.Module {
	all := r.List()

	out := all[:0]
	for _, m := range all {
		if m.Presence == models.PresenceDiscovered {
			out = append(out, m)
		}
	}

	return out
}

// SetLiveness updates the liveness dimension. Only the health monitor
// calls this. Returns false for unknown ids.
func (r *Registry) SetLiveness(id string, state models.LivenessState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.modules[id]
	if !ok {
		return false
	}

	m.Liveness = state

	return true
}

// Remove soft-deletes a module: presence lost, liveness offline, record
// retained. Returns false for unknown ids.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()

	m, ok := r.modules[id]
	if !ok {
		r.mu.Unlock()
		return false
	}

	m.Presence = models.PresenceLost
	m.Liveness = models.LivenessOffline
	snapshot := *m
	r.mu.Unlock()

	r.logger.Info().Str("module_id", id).Msg("Module removed")
	r.events.emit(Event{Type: EventRemoved, Module: snapshot})

	return true
}
