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
	"sort"
	"time"

	"github.com/habitatlabs/fleet/pkg/models"
)

// Stats summarizes one metric over the trailing window. A module or
// metric with no samples in the window yields a zero-value result with
// SampleCount 0; that is not an error.
func (m *Monitor) Stats(moduleID, metric string, window time.Duration) models.MetricStats {
	cutoff := m.clock.Now().Add(-window)

	m.mu.RLock()
	mh, ok := m.modules[moduleID]

	var records []models.HealthRecord
	if ok {
		records = mh.history.records()
	}
	m.mu.RUnlock()

	var stats models.MetricStats

	for _, rec := range records {
		if rec.Timestamp.Before(cutoff) {
			continue
		}

		value, ok := rec.Metrics.Metric(metric)
		if !ok {
			continue
		}

		if stats.SampleCount == 0 {
			stats.Min = value
			stats.Max = value
		} else {
			if value < stats.Min {
				stats.Min = value
			}

			if value > stats.Max {
				stats.Max = value
			}
		}

		stats.Avg += value
		stats.Latest = value
		stats.SampleCount++
	}

	if stats.SampleCount > 0 {
		stats.Avg /= float64(stats.SampleCount)
	}

	return stats
}

// Summary aggregates liveness counts and per-metric averages. Averages
// cover online modules only.
func (m *Monitor) Summary() models.HealthSummary {
	m.mu.RLock()

	summary := models.HealthSummary{
		TotalModules:   len(m.modules),
		OnlineIDs:      []string{},
		OfflineIDs:     []string{},
		MetricAverages: make(map[string]float64),
	}

	var online []models.HealthMetrics

	for id, mh := range m.modules {
		switch mh.state {
		case models.LivenessOnline:
			summary.OnlineIDs = append(summary.OnlineIDs, id)
			online = append(online, mh.latest.Metrics)
		case models.LivenessOffline:
			summary.OfflineIDs = append(summary.OfflineIDs, id)
		}
	}

	m.mu.RUnlock()

	sort.Strings(summary.OnlineIDs)
	sort.Strings(summary.OfflineIDs)

	summary.OnlineModules = len(summary.OnlineIDs)
	summary.OfflineModules = len(summary.OfflineIDs)

	if len(online) == 0 {
		return summary
	}

	for _, name := range []string{
		models.MetricCPUUsage,
		models.MetricCPUTemp,
		models.MetricMemoryUsage,
		models.MetricDiskSpace,
		models.MetricUptime,
	} {
		var total float64

		for _, metrics := range online {
			value, _ := metrics.Metric(name)
			total += value
		}

		summary.MetricAverages[name] = total / float64(len(online))
	}

	return summary
}
