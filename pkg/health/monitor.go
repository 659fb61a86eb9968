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

// Package health ingests module heartbeats, derives online/offline
// liveness from heartbeat recency, and keeps a bounded metrics history
// per module.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/models"
)

const defaultHistorySize = 360

// Config holds the health monitor knobs. HeartbeatInterval is the sweep
// period on the controller side; HeartbeatTimeout is the staleness
// threshold after which a silent module is demoted to offline.
type Config struct {
	HeartbeatInterval models.Duration `json:"heartbeat_interval"`
	HeartbeatTimeout  models.Duration `json:"heartbeat_timeout"`
	HistorySize       int             `json:"history_size,omitempty"`
}

// StatusChangeFunc observes liveness edge transitions.
type StatusChangeFunc func(moduleID string, state models.LivenessState)

type moduleHealth struct {
	lastHeartbeat time.Time
	state         models.LivenessState
	latest        models.HealthRecord
	history       *recordRing
}

// Monitor is the single owner of liveness state and health history.
type Monitor struct {
	mu      sync.RWMutex
	config  Config
	modules map[string]*moduleHealth
	logger  logger.Logger
	clock   Clock

	callbackMu sync.RWMutex
	callbacks  []StatusChangeFunc

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

// NewMonitor creates a health monitor. A nil clock defaults to RealClock.
func NewMonitor(config Config, clk Clock, log logger.Logger) *Monitor {
	if clk == nil {
		clk = RealClock{}
	}

	if config.HistorySize <= 0 {
		config.HistorySize = defaultHistorySize
	}

	return &Monitor{
		config:  config,
		modules: make(map[string]*moduleHealth),
		logger:  log.WithComponent("health"),
		clock:   clk,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// OnStatusChange registers a callback for liveness edges. Callbacks run
// on the goroutine that triggered the transition and must not block.
func (m *Monitor) OnStatusChange(fn StatusChangeFunc) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()

	m.callbacks = append(m.callbacks, fn)
}

// RecordHeartbeat upserts the module's health snapshot, marks it online,
// and appends to its bounded history. A zero ts uses the current time.
func (m *Monitor) RecordHeartbeat(moduleID string, metrics models.HealthMetrics, ts time.Time) {
	if ts.IsZero() {
		ts = m.clock.Now()
	}

	m.mu.Lock()

	mh, ok := m.modules[moduleID]
	if !ok {
		mh = &moduleHealth{
			state:   models.LivenessUnknown,
			history: newRecordRing(m.config.HistorySize),
		}
		m.modules[moduleID] = mh
	}

	prev := mh.state
	mh.lastHeartbeat = ts
	mh.state = models.LivenessOnline
	mh.latest = models.HealthRecord{
		ModuleID:  moduleID,
		Timestamp: ts,
		Status:    models.LivenessOnline,
		Metrics:   metrics,
	}
	mh.history.push(mh.latest)

	m.mu.Unlock()

	if prev != models.LivenessOnline {
		if prev == models.LivenessOffline {
			m.logger.Info().Str("module_id", moduleID).Msg("Module is back online")
		}

		m.notify(moduleID, models.LivenessOnline)
	}
}

// IsOnline reports whether the module is currently online. Modules with
// no recorded heartbeat are never online.
func (m *Monitor) IsOnline(moduleID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mh, ok := m.modules[moduleID]

	return ok && mh.state == models.LivenessOnline
}

// OnlineModules returns ids of modules currently online, sorted.
func (m *Monitor) OnlineModules() []string {
	return m.modulesInState(models.LivenessOnline)
}

// OfflineModules returns ids of modules currently offline, sorted.
func (m *Monitor) OfflineModules() []string {
	return m.modulesInState(models.LivenessOffline)
}

func (m *Monitor) modulesInState(state models.LivenessState) []string {
	m.mu.RLock()

	out := make([]string, 0, len(m.modules))
	for id, mh := range m.modules {
		if mh.state == state {
			out = append(out, id)
		}
	}

	m.mu.RUnlock()

	sort.Strings(out)

	return out
}

// Latest returns the module's current health snapshot, or nil when no
// heartbeat has ever been recorded.
func (m *Monitor) Latest(moduleID string) *models.HealthRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mh, ok := m.modules[moduleID]
	if !ok {
		return nil
	}

	rec := mh.latest

	return &rec
}

// All returns the current health snapshot of every tracked module.
func (m *Monitor) All() map[string]models.HealthRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]models.HealthRecord, len(m.modules))
	for id, mh := range m.modules {
		out[id] = mh.latest
	}

	return out
}

// ExportRecords flattens the current health snapshot of every tracked
// module into the shape handed to the export sink.
func (m *Monitor) ExportRecords() []models.HealthExportRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.HealthExportRecord, 0, len(m.modules))

	for id, mh := range m.modules {
		if mh.latest.Timestamp.IsZero() {
			continue
		}

		out = append(out, models.HealthExportRecord{
			ModuleID:    id,
			Timestamp:   mh.latest.Timestamp,
			Status:      string(mh.state),
			CPUTemp:     mh.latest.Metrics.CPUTemp,
			CPUUsage:    mh.latest.Metrics.CPUUsage,
			MemoryUsage: mh.latest.Metrics.MemoryUsage,
			DiskSpace:   mh.latest.Metrics.DiskSpace,
			Uptime:      mh.latest.Metrics.Uptime,
		})
	}

	return out
}

// History returns up to limit most recent records for the module, oldest
// first. limit <= 0 returns the full retained history.
func (m *Monitor) History(moduleID string, limit int) []models.HealthRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mh, ok := m.modules[moduleID]
	if !ok {
		return nil
	}

	records := mh.history.records()
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	return records
}

// Remove drops all health tracking for a module.
func (m *Monitor) Remove(moduleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.modules, moduleID)
}

// Start launches the background sweep that demotes silent modules.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		m.logger.Warn().Msg("Health monitoring is already running")

		return
	}

	m.started = true
	m.mu.Unlock()

	go m.sweepLoop()

	m.logger.Info().
		Dur("interval", m.config.HeartbeatInterval.Std()).
		Dur("timeout", m.config.HeartbeatTimeout.Std()).
		Msg("Started health monitoring")
}

// Stop terminates the sweep loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()

	if started {
		<-m.done
	}

	m.logger.Info().Msg("Stopped health monitoring")
}

func (m *Monitor) sweepLoop() {
	defer close(m.done)

	ticker := m.clock.Ticker(m.config.HeartbeatInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.Chan():
			m.Sweep()
		}
	}
}

// Sweep demotes every module whose last heartbeat is older than the
// timeout. Exported so tests and callers can force a pass.
func (m *Monitor) Sweep() {
	now := m.clock.Now()
	timeout := m.config.HeartbeatTimeout.Std()

	var demoted []string

	m.mu.Lock()

	for id, mh := range m.modules {
		if mh.state != models.LivenessOnline {
			// Already offline (or never seen): demotion is a no-op.
			continue
		}

		if now.Sub(mh.lastHeartbeat) > timeout {
			mh.state = models.LivenessOffline
			mh.latest.Status = models.LivenessOffline
			demoted = append(demoted, id)
		}
	}

	m.mu.Unlock()

	for _, id := range demoted {
		m.logger.Warn().
			Str("module_id", id).
			Dur("timeout", timeout).
			Msg("No heartbeat within timeout, marking module offline")
		m.notify(id, models.LivenessOffline)
	}
}

func (m *Monitor) notify(moduleID string, state models.LivenessState) {
	m.callbackMu.RLock()
	callbacks := m.callbacks
	m.callbackMu.RUnlock()

	for _, fn := range callbacks {
		fn(moduleID, state)
	}
}
