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

package export

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/habitatlabs/fleet/pkg/health"
	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/models"
)

const stopFlushTimeout = 5 * time.Second

// DataSource supplies buffered telemetry snapshots. Implemented by the
// telemetry buffer.
type DataSource interface {
	Snapshot() map[string][]models.DataRecord
	RemoveRecords(moduleID string, recordIDs []string)
}

// HealthSource supplies current health snapshots. Implemented by the
// health monitor.
type HealthSource interface {
	ExportRecords() []models.HealthExportRecord
}

// TypeResolver resolves a module id to its type for record enrichment.
// Implemented by the registry.
type TypeResolver interface {
	ModuleType(moduleID string) models.ModuleType
}

// Config holds the export intervals.
type Config struct {
	ExportInterval       models.Duration `json:"export_interval"`
	HealthExportInterval models.Duration `json:"health_export_interval"`
}

// Scheduler runs two independent periodic loops: one draining telemetry,
// one draining health snapshots. A failed export for one module is logged
// and skipped; its records stay buffered and are retried on the next
// tick. There is no cross-module atomicity.
type Scheduler struct {
	config   Config
	sink     Sink
	data     DataSource
	healthSr HealthSource
	types    TypeResolver
	logger   logger.Logger
	clock    health.Clock

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewScheduler wires the scheduler. A nil clock defaults to the real one.
func NewScheduler(
	config Config,
	sink Sink,
	data DataSource,
	healthSource HealthSource,
	types TypeResolver,
	clk health.Clock,
	log logger.Logger,
) *Scheduler {
	if clk == nil {
		clk = health.RealClock{}
	}

	return &Scheduler{
		config:   config,
		sink:     sink,
		data:     data,
		healthSr: healthSource,
		types:    types,
		logger:   log.WithComponent("export"),
		clock:    clk,
		stop:     make(chan struct{}),
	}
}

// Start launches both export loops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}

	s.started = true
	s.mu.Unlock()

	s.wg.Add(2)

	go s.loop(s.config.ExportInterval.Std(), s.ExportDataOnce)
	go s.loop(s.config.HealthExportInterval.Std(), s.ExportHealthOnce)

	s.logger.Info().
		Dur("data_interval", s.config.ExportInterval.Std()).
		Dur("health_interval", s.config.HealthExportInterval.Std()).
		Msg("Started periodic export")
}

// Stop terminates both loops, waits for them, then flushes whatever is
// still buffered so a clean shutdown does not strand telemetry.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), stopFlushTimeout)
	defer cancel()

	s.ExportDataOnce(ctx)
	s.ExportHealthOnce(ctx)

	s.logger.Info().Msg("Stopped periodic export")
}

func (s *Scheduler) loop(interval time.Duration, tick func(context.Context)) {
	defer s.wg.Done()

	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.Chan():
			tick(context.Background())
		}
	}
}

// ExportDataOnce snapshots the buffer and hands each module's records to
// the sink. On success exactly the snapshotted records are cleared;
// records appended during the export call survive.
func (s *Scheduler) ExportDataOnce(ctx context.Context) {
	snapshot := s.data.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	// Stable order keeps a persistently failing module from shadowing
	// the others differently on every tick.
	moduleIDs := make([]string, 0, len(snapshot))
	for id := range snapshot {
		moduleIDs = append(moduleIDs, id)
	}

	sort.Strings(moduleIDs)

	for _, moduleID := range moduleIDs {
		records := snapshot[moduleID]
		moduleType := s.types.ModuleType(moduleID)

		batch := make([]models.DataExportRecord, 0, len(records))
		recordIDs := make([]string, 0, len(records))

		for _, rec := range records {
			batch = append(batch, models.DataExportRecord{
				RecordID:   rec.RecordID,
				ModuleID:   rec.ModuleID,
				ModuleType: moduleType,
				Timestamp:  rec.Timestamp,
				Data:       rec.Payload,
			})
			recordIDs = append(recordIDs, rec.RecordID)
		}

		if err := s.sink.ExportData(ctx, batch); err != nil {
			s.logger.Error().Err(err).
				Str("module_id", moduleID).
				Int("records", len(batch)).
				Msg("Data export failed, will retry next tick")

			continue
		}

		s.data.RemoveRecords(moduleID, recordIDs)

		s.logger.Debug().
			Str("module_id", moduleID).
			Int("records", len(batch)).
			Msg("Exported module data")
	}
}

// ExportHealthOnce hands the current health snapshots to the sink.
func (s *Scheduler) ExportHealthOnce(ctx context.Context) {
	records := s.healthSr.ExportRecords()
	if len(records) == 0 {
		return
	}

	if err := s.sink.ExportHealth(ctx, records); err != nil {
		s.logger.Error().Err(err).Int("records", len(records)).Msg("Health export failed")
		return
	}

	s.logger.Debug().Int("records", len(records)).Msg("Exported health records")
}
