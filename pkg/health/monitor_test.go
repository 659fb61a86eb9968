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

package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func (c *fakeClock) Ticker(_ time.Duration) Ticker {
	return &fakeTicker{ch: make(chan time.Time)}
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {}

func newTestMonitor(t *testing.T) (*Monitor, *fakeClock) {
	t.Helper()

	clk := newFakeClock()
	monitor := NewMonitor(Config{
		HeartbeatInterval: models.Duration(2 * time.Second),
		HeartbeatTimeout:  models.Duration(6 * time.Second),
	}, clk, logger.NewTestLogger())

	return monitor, clk
}

func TestRecordHeartbeatMarksOnline(t *testing.T) {
	monitor, clk := newTestMonitor(t)

	assert.False(t, monitor.IsOnline("cam1"), "module with no heartbeat must not be online")

	monitor.RecordHeartbeat("cam1", models.HealthMetrics{CPUUsage: 25}, clk.Now())

	assert.True(t, monitor.IsOnline("cam1"))

	latest := monitor.Latest("cam1")
	require.NotNil(t, latest)
	assert.Equal(t, models.LivenessOnline, latest.Status)
	assert.InEpsilon(t, 25.0, latest.Metrics.CPUUsage, 0.001)
}

func TestUnknownModuleNeverOnline(t *testing.T) {
	monitor, _ := newTestMonitor(t)

	assert.False(t, monitor.IsOnline("ghost"))
	assert.Nil(t, monitor.Latest("ghost"))
	assert.Empty(t, monitor.OnlineModules())
	assert.Empty(t, monitor.OfflineModules())
}

func TestSweepDemotesSilentModule(t *testing.T) {
	monitor, clk := newTestMonitor(t)

	monitor.RecordHeartbeat("cam1", models.HealthMetrics{}, clk.Now())
	monitor.RecordHeartbeat("mic1", models.HealthMetrics{}, clk.Now())

	// cam1 goes silent; mic1 keeps heartbeating.
	clk.Advance(4 * time.Second)
	monitor.RecordHeartbeat("mic1", models.HealthMetrics{}, clk.Now())

	clk.Advance(4 * time.Second)
	monitor.Sweep()

	assert.False(t, monitor.IsOnline("cam1"))
	assert.True(t, monitor.IsOnline("mic1"))
	assert.Equal(t, []string{"cam1"}, monitor.OfflineModules())
	assert.Equal(t, []string{"mic1"}, monitor.OnlineModules())

	latest := monitor.Latest("cam1")
	require.NotNil(t, latest)
	assert.Equal(t, models.LivenessOffline, latest.Status)
}

func TestHeartbeatAtTimeoutBoundaryStaysOnline(t *testing.T) {
	monitor, clk := newTestMonitor(t)

	monitor.RecordHeartbeat("cam1", models.HealthMetrics{}, clk.Now())

	// Exactly at the timeout, not beyond it.
	clk.Advance(6 * time.Second)
	monitor.Sweep()

	assert.True(t, monitor.IsOnline("cam1"))
}

func TestStatusChangeEdgesOnly(t *testing.T) {
	monitor, clk := newTestMonitor(t)

	var (
		mu          sync.Mutex
		transitions []models.LivenessState
	)

	monitor.OnStatusChange(func(_ string, state models.LivenessState) {
		mu.Lock()
		defer mu.Unlock()

		transitions = append(transitions, state)
	})

	monitor.RecordHeartbeat("cam1", models.HealthMetrics{}, clk.Now())
	monitor.RecordHeartbeat("cam1", models.HealthMetrics{}, clk.Now())
	monitor.RecordHeartbeat("cam1", models.HealthMetrics{}, clk.Now())

	clk.Advance(10 * time.Second)
	monitor.Sweep()
	monitor.Sweep()

	monitor.RecordHeartbeat("cam1", models.HealthMetrics{}, clk.Now())

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []models.LivenessState{
		models.LivenessOnline,
		models.LivenessOffline,
		models.LivenessOnline,
	}, transitions, "callbacks must fire on edges only, not on every heartbeat or sweep")
}

func TestRecoveryAfterOffline(t *testing.T) {
	monitor, clk := newTestMonitor(t)

	monitor.RecordHeartbeat("cam1", models.HealthMetrics{}, clk.Now())

	clk.Advance(10 * time.Second)
	monitor.Sweep()
	require.False(t, monitor.IsOnline("cam1"))

	monitor.RecordHeartbeat("cam1", models.HealthMetrics{}, clk.Now())

	assert.True(t, monitor.IsOnline("cam1"))
	assert.Empty(t, monitor.OfflineModules())
}

func TestHistoryBounded(t *testing.T) {
	clk := newFakeClock()
	monitor := NewMonitor(Config{
		HeartbeatInterval: models.Duration(time.Second),
		HeartbeatTimeout:  models.Duration(3 * time.Second),
		HistorySize:       5,
	}, clk, logger.NewTestLogger())

	for i := 0; i < 8; i++ {
		monitor.RecordHeartbeat("cam1", models.HealthMetrics{CPUUsage: float64(i)}, clk.Now())
		clk.Advance(time.Second)
	}

	history := monitor.History("cam1", 0)
	require.Len(t, history, 5)

	// Oldest first, with the three earliest samples evicted.
	assert.InEpsilon(t, 3.0, history[0].Metrics.CPUUsage, 0.001)
	assert.InEpsilon(t, 7.0, history[4].Metrics.CPUUsage, 0.001)

	limited := monitor.History("cam1", 2)
	require.Len(t, limited, 2)
	assert.InEpsilon(t, 6.0, limited[0].Metrics.CPUUsage, 0.001)
}

func TestStatsSingleSample(t *testing.T) {
	monitor, clk := newTestMonitor(t)

	monitor.RecordHeartbeat("cam1", models.HealthMetrics{CPUUsage: 10}, clk.Now())

	stats := monitor.Stats("cam1", models.MetricCPUUsage, time.Minute)

	assert.Equal(t, 1, stats.SampleCount)
	assert.InEpsilon(t, 10.0, stats.Min, 0.001)
	assert.InEpsilon(t, 10.0, stats.Max, 0.001)
	assert.InEpsilon(t, 10.0, stats.Avg, 0.001)
	assert.InEpsilon(t, 10.0, stats.Latest, 0.001)
}

func TestStatsWindowAndAggregation(t *testing.T) {
	monitor, clk := newTestMonitor(t)

	// One stale sample outside the window, three inside.
	monitor.RecordHeartbeat("cam1", models.HealthMetrics{CPUUsage: 90}, clk.Now())
	clk.Advance(2 * time.Minute)

	for _, usage := range []float64{10, 30, 20} {
		monitor.RecordHeartbeat("cam1", models.HealthMetrics{CPUUsage: usage}, clk.Now())
		clk.Advance(time.Second)
	}

	stats := monitor.Stats("cam1", models.MetricCPUUsage, time.Minute)

	assert.Equal(t, 3, stats.SampleCount)
	assert.InEpsilon(t, 10.0, stats.Min, 0.001)
	assert.InEpsilon(t, 30.0, stats.Max, 0.001)
	assert.InEpsilon(t, 20.0, stats.Avg, 0.001)
	assert.InEpsilon(t, 20.0, stats.Latest, 0.001)
}

func TestStatsEmptyWindow(t *testing.T) {
	monitor, _ := newTestMonitor(t)

	stats := monitor.Stats("cam1", models.MetricCPUUsage, time.Minute)

	assert.Equal(t, 0, stats.SampleCount)
	assert.Zero(t, stats.Avg)
}

func TestStatsOptionalClockMetric(t *testing.T) {
	monitor, clk := newTestMonitor(t)

	offset := 0.002
	monitor.RecordHeartbeat("cam1", models.HealthMetrics{ClockOffset: &offset}, clk.Now())
	monitor.RecordHeartbeat("cam1", models.HealthMetrics{}, clk.Now())

	stats := monitor.Stats("cam1", models.MetricClockOffset, time.Minute)

	// The heartbeat without the optional metric contributes no sample.
	assert.Equal(t, 1, stats.SampleCount)
	assert.InEpsilon(t, 0.002, stats.Latest, 0.001)
}

func TestSummary(t *testing.T) {
	monitor, clk := newTestMonitor(t)

	monitor.RecordHeartbeat("cam1", models.HealthMetrics{CPUUsage: 10}, clk.Now())
	monitor.RecordHeartbeat("cam2", models.HealthMetrics{CPUUsage: 30}, clk.Now())
	monitor.RecordHeartbeat("mic1", models.HealthMetrics{CPUUsage: 99}, clk.Now())

	clk.Advance(3 * time.Second)
	monitor.RecordHeartbeat("cam1", models.HealthMetrics{CPUUsage: 10}, clk.Now())
	monitor.RecordHeartbeat("cam2", models.HealthMetrics{CPUUsage: 30}, clk.Now())

	clk.Advance(4 * time.Second)
	monitor.Sweep()

	summary := monitor.Summary()

	assert.Equal(t, 3, summary.TotalModules)
	assert.Equal(t, 2, summary.OnlineModules)
	assert.Equal(t, 1, summary.OfflineModules)
	assert.Equal(t, []string{"cam1", "cam2"}, summary.OnlineIDs)
	assert.Equal(t, []string{"mic1"}, summary.OfflineIDs)

	// Averages cover online modules only.
	assert.InEpsilon(t, 20.0, summary.MetricAverages[models.MetricCPUUsage], 0.001)
}

func TestRemoveDropsTracking(t *testing.T) {
	monitor, clk := newTestMonitor(t)

	monitor.RecordHeartbeat("cam1", models.HealthMetrics{}, clk.Now())
	monitor.Remove("cam1")

	assert.False(t, monitor.IsOnline("cam1"))
	assert.Nil(t, monitor.Latest("cam1"))
	assert.Nil(t, monitor.History("cam1", 0))
}

func TestExportRecordsFlattensSnapshots(t *testing.T) {
	monitor, clk := newTestMonitor(t)

	monitor.RecordHeartbeat("cam1", models.HealthMetrics{CPUUsage: 12, Uptime: 3600}, clk.Now())

	records := monitor.ExportRecords()
	require.Len(t, records, 1)

	assert.Equal(t, "cam1", records[0].ModuleID)
	assert.Equal(t, string(models.LivenessOnline), records[0].Status)
	assert.InEpsilon(t, 12.0, records[0].CPUUsage, 0.001)
	assert.InEpsilon(t, 3600.0, records[0].Uptime, 0.001)
}

func TestStopWithoutStart(t *testing.T) {
	monitor, _ := newTestMonitor(t)

	// Must not hang waiting for a loop that never ran.
	monitor.Stop()
}
