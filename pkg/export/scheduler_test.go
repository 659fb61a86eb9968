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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitatlabs/fleet/pkg/buffer"
	"github.com/habitatlabs/fleet/pkg/health"
	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/models"
	"github.com/habitatlabs/fleet/pkg/registry"
)

var errSinkDown = errors.New("sink unavailable")

// mockSink records batches and can be told to fail for chosen modules.
type mockSink struct {
	mu          sync.Mutex
	dataBatches [][]models.DataExportRecord
	health      [][]models.HealthExportRecord
	failModules map[string]bool
	failHealth  bool
}

func newMockSink() *mockSink {
	return &mockSink{failModules: make(map[string]bool)}
}

func (s *mockSink) ExportData(_ context.Context, records []models.DataExportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(records) > 0 && s.failModules[records[0].ModuleID] {
		return errSinkDown
	}

	s.dataBatches = append(s.dataBatches, records)

	return nil
}

func (s *mockSink) ExportHealth(_ context.Context, records []models.HealthExportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failHealth {
		return errSinkDown
	}

	s.health = append(s.health, records)

	return nil
}

func (s *mockSink) exportedModules() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.dataBatches))
	for _, batch := range s.dataBatches {
		if len(batch) > 0 {
			out = append(out, batch[0].ModuleID)
		}
	}

	return out
}

type fixture struct {
	sink      *mockSink
	buf       *buffer.Buffer
	monitor   *health.Monitor
	reg       *registry.Registry
	scheduler *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.NewTestLogger()
	sink := newMockSink()
	buf := buffer.New(buffer.Config{MaxBufferSize: 100}, log)
	monitor := health.NewMonitor(health.Config{
		HeartbeatInterval: models.Duration(time.Second),
		HeartbeatTimeout:  models.Duration(3 * time.Second),
	}, nil, log)
	reg := registry.New(log)

	cfg := Config{
		ExportInterval:       models.Duration(time.Minute),
		HealthExportInterval: models.Duration(time.Minute),
	}

	return &fixture{
		sink:      sink,
		buf:       buf,
		monitor:   monitor,
		reg:       reg,
		scheduler: NewScheduler(cfg, sink, buf, monitor, reg, nil, log),
	}
}

func TestExportDrainsBufferOnSuccess(t *testing.T) {
	f := newFixture(t)

	f.reg.Upsert(registry.ModuleInfo{ID: "cam1", Name: "cam", Type: models.ModuleTypeCamera})

	for i := 0; i < 3; i++ {
		require.True(t, f.buf.Add("cam1", map[string]interface{}{"frame": i}, time.Time{}))
	}

	f.scheduler.ExportDataOnce(context.Background())

	assert.Zero(t, f.buf.Size("cam1"), "exported records must leave the buffer")

	require.Len(t, f.sink.dataBatches, 1)
	batch := f.sink.dataBatches[0]
	require.Len(t, batch, 3)
	assert.Equal(t, "cam1", batch[0].ModuleID)
	assert.Equal(t, models.ModuleTypeCamera, batch[0].ModuleType, "records are enriched with the registry type")
	assert.NotEmpty(t, batch[0].RecordID)
}

func TestExportFailureKeepsRecordsBuffered(t *testing.T) {
	f := newFixture(t)

	f.sink.failModules["cam1"] = true
	require.True(t, f.buf.Add("cam1", map[string]interface{}{"frame": 0}, time.Time{}))

	f.scheduler.ExportDataOnce(context.Background())

	assert.Equal(t, 1, f.buf.Size("cam1"), "failed export must retain records for retry")

	// Sink recovers; the same record goes out on the next tick.
	f.sink.failModules["cam1"] = false
	f.scheduler.ExportDataOnce(context.Background())

	assert.Zero(t, f.buf.Size("cam1"))
	require.Len(t, f.sink.dataBatches, 1)
}

func TestExportFailureIsolatedPerModule(t *testing.T) {
	f := newFixture(t)

	f.sink.failModules["cam1"] = true
	require.True(t, f.buf.Add("cam1", map[string]interface{}{}, time.Time{}))
	require.True(t, f.buf.Add("mic1", map[string]interface{}{}, time.Time{}))

	f.scheduler.ExportDataOnce(context.Background())

	// mic1 exports even though cam1's batch failed.
	assert.Equal(t, []string{"mic1"}, f.sink.exportedModules())
	assert.Equal(t, 1, f.buf.Size("cam1"))
	assert.Zero(t, f.buf.Size("mic1"))
}

func TestExportClearsOnlySnapshottedRecords(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.buf.Add("cam1", map[string]interface{}{"frame": 0}, time.Time{}))

	// A record arriving mid-export must survive the post-export clear.
	blocking := &blockingSink{inner: f.sink, entered: make(chan struct{}), release: make(chan struct{})}
	f.scheduler.sink = blocking

	done := make(chan struct{})

	go func() {
		defer close(done)
		f.scheduler.ExportDataOnce(context.Background())
	}()

	<-blocking.entered
	require.True(t, f.buf.Add("cam1", map[string]interface{}{"frame": 1}, time.Time{}))
	close(blocking.release)
	<-done

	assert.Equal(t, 1, f.buf.Size("cam1"))
}

type blockingSink struct {
	inner   Sink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) ExportData(ctx context.Context, records []models.DataExportRecord) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release

	return s.inner.ExportData(ctx, records)
}

func (s *blockingSink) ExportHealth(ctx context.Context, records []models.HealthExportRecord) error {
	return s.inner.ExportHealth(ctx, records)
}

func TestExportEmptyBufferIsNoop(t *testing.T) {
	f := newFixture(t)

	f.scheduler.ExportDataOnce(context.Background())

	assert.Empty(t, f.sink.dataBatches)
}

func TestHealthExport(t *testing.T) {
	f := newFixture(t)

	f.monitor.RecordHeartbeat("cam1", models.HealthMetrics{CPUUsage: 42}, time.Now())

	f.scheduler.ExportHealthOnce(context.Background())

	require.Len(t, f.sink.health, 1)
	require.Len(t, f.sink.health[0], 1)
	assert.Equal(t, "cam1", f.sink.health[0][0].ModuleID)
	assert.InEpsilon(t, 42.0, f.sink.health[0][0].CPUUsage, 0.001)
}

func TestHealthExportFailureDoesNotPanic(t *testing.T) {
	f := newFixture(t)

	f.sink.failHealth = true
	f.monitor.RecordHeartbeat("cam1", models.HealthMetrics{}, time.Now())

	f.scheduler.ExportHealthOnce(context.Background())

	assert.Empty(t, f.sink.health)
}

func TestStopFlushesBufferedRecords(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.buf.Add("cam1", map[string]interface{}{"frame": 0}, time.Time{}))

	f.scheduler.Start()
	f.scheduler.Stop()

	assert.Zero(t, f.buf.TotalSize(), "Stop must flush remaining telemetry")
	require.Len(t, f.sink.dataBatches, 1)
}
