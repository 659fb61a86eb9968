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

package models

import "time"

// Metric names accepted by the health monitor's windowed stats queries.
const (
	MetricCPUUsage    = "cpu_usage"
	MetricCPUTemp     = "cpu_temp"
	MetricMemoryUsage = "memory_usage"
	MetricDiskSpace   = "disk_space"
	MetricUptime      = "uptime"
	MetricClockOffset = "clock_offset"
	MetricClockFreq   = "clock_freq"
)

// HealthMetrics is the fixed set of numeric metrics carried by a
// heartbeat. ClockOffset/ClockFreq are optional and only present on
// modules that participate in clock synchronization.
type HealthMetrics struct {
	CPUUsage    float64  `json:"cpu_usage"`
	CPUTemp     float64  `json:"cpu_temp"`
	MemoryUsage float64  `json:"memory_usage"`
	DiskSpace   float64  `json:"disk_space"`
	Uptime      float64  `json:"uptime"`
	ClockOffset *float64 `json:"clock_offset,omitempty"`
	ClockFreq   *float64 `json:"clock_freq,omitempty"`
}

// Metric returns the named metric value and whether it was present.
func (m *HealthMetrics) Metric(name string) (float64, bool) {
	switch name {
	case MetricCPUUsage:
		return m.CPUUsage, true
	case MetricCPUTemp:
		return m.CPUTemp, true
	case MetricMemoryUsage:
		return m.MemoryUsage, true
	case MetricDiskSpace:
		return m.DiskSpace, true
	case MetricUptime:
		return m.Uptime, true
	case MetricClockOffset:
		if m.ClockOffset != nil {
			return *m.ClockOffset, true
		}
	case MetricClockFreq:
		if m.ClockFreq != nil {
			return *m.ClockFreq, true
		}
	}

	return 0, false
}

// HealthRecord is one captured health sample for a module. The latest
// record doubles as the module's current health snapshot.
type HealthRecord struct {
	ModuleID  string        `json:"module_id"`
	Timestamp time.Time     `json:"timestamp"`
	Status    LivenessState `json:"status"`
	Metrics   HealthMetrics `json:"metrics"`
}

// HealthExportRecord is the flattened shape handed to the export sink.
type HealthExportRecord struct {
	ModuleID    string    `json:"module_id"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	CPUTemp     float64   `json:"cpu_temp"`
	CPUUsage    float64   `json:"cpu_usage"`
	MemoryUsage float64   `json:"memory_usage"`
	DiskSpace   float64   `json:"disk_space"`
	Uptime      float64   `json:"uptime"`
}

// MetricStats summarizes one metric over a query window.
type MetricStats struct {
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Avg         float64 `json:"avg"`
	Latest      float64 `json:"latest"`
	SampleCount int     `json:"sample_count"`
}

// HealthSummary aggregates liveness counts and per-metric averages across
// online modules only.
type HealthSummary struct {
	TotalModules   int                `json:"total_modules"`
	OnlineModules  int                `json:"online_modules"`
	OfflineModules int                `json:"offline_modules"`
	OnlineIDs      []string           `json:"online_module_ids"`
	OfflineIDs     []string           `json:"offline_module_ids"`
	MetricAverages map[string]float64 `json:"metric_averages"`
}
