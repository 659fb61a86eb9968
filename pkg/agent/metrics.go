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

package agent

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/models"
)

// MetricsCollector samples the local host for one heartbeat.
type MetricsCollector interface {
	Collect(ctx context.Context) models.HealthMetrics
}

// HostCollector reads live host metrics. Individual probe failures are
// logged at debug and leave that field zero; a heartbeat with partial
// metrics still proves liveness.
type HostCollector struct {
	diskPath string
	logger   logger.Logger
}

// NewHostCollector builds a collector reporting disk usage for the given
// mount point; empty defaults to the root filesystem.
func NewHostCollector(diskPath string, log logger.Logger) *HostCollector {
	if diskPath == "" {
		diskPath = "/"
	}

	return &HostCollector{
		diskPath: diskPath,
		logger:   log.WithComponent("metrics"),
	}
}

// Collect samples CPU, memory, disk, uptime, and CPU temperature.
func (h *HostCollector) Collect(ctx context.Context) models.HealthMetrics {
	var metrics models.HealthMetrics

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		h.logger.Debug().Err(err).Msg("CPU usage probe failed")
	} else if len(percents) > 0 {
		metrics.CPUUsage = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		h.logger.Debug().Err(err).Msg("Memory probe failed")
	} else {
		metrics.MemoryUsage = vm.UsedPercent
	}

	if usage, err := disk.UsageWithContext(ctx, h.diskPath); err != nil {
		h.logger.Debug().Err(err).Str("path", h.diskPath).Msg("Disk probe failed")
	} else {
		metrics.DiskSpace = usage.UsedPercent
	}

	if uptime, err := host.UptimeWithContext(ctx); err != nil {
		h.logger.Debug().Err(err).Msg("Uptime probe failed")
	} else {
		metrics.Uptime = float64(uptime)
	}

	metrics.CPUTemp = h.cpuTemperature(ctx)

	return metrics
}

// cpuTemperature picks the first CPU-ish sensor; boards differ wildly in
// what they expose, so this is best effort.
func (h *HostCollector) cpuTemperature(ctx context.Context) float64 {
	sensors, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil || len(sensors) == 0 {
		return 0
	}

	for _, sensor := range sensors {
		key := strings.ToLower(sensor.SensorKey)
		if strings.Contains(key, "cpu") || strings.Contains(key, "core") || strings.Contains(key, "soc") {
			return sensor.Temperature
		}
	}

	return sensors[0].Temperature
}
