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

package coordination

import (
	"time"

	"github.com/habitatlabs/fleet/pkg/bus"
	"github.com/habitatlabs/fleet/pkg/models"
)

// handleStatus routes one status message by its payload type. Unknown
// types are logged and dropped, never treated as an error: modules may be
// newer than the controller.
func (c *Coordinator) handleStatus(topic string, payload map[string]interface{}) {
	moduleID := bus.ModuleID(topic)
	if moduleID == "" {
		c.logger.Warn().Str("topic", topic).Msg("Status message without module id")
		return
	}

	msgType, _ := payload["type"].(string)

	switch msgType {
	case statusTypeHeartbeat, statusTypeStatus:
		c.health.RecordHeartbeat(moduleID, decodeMetrics(payload), timestampField(payload))

	case statusTypeClockSync:
		samples := decodeSyncSamples(payload)
		if len(samples) > 0 {
			c.buffer.AddSyncSamples(moduleID, samples)
		}

	case statusTypeConfig:
		if cfg, ok := payload["config"].(map[string]interface{}); ok {
			c.configMu.Lock()
			c.moduleConfigs[moduleID] = cfg
			c.configMu.Unlock()
		}

	case statusTypeAck:
		commandID, _ := payload["command_id"].(string)
		c.logger.Debug().
			Str("module_id", moduleID).
			Str("command_id", commandID).
			Msg("Command acknowledged")

	default:
		c.logger.Debug().
			Str("module_id", moduleID).
			Str("type", msgType).
			Msg("Unhandled status message type")
	}
}

// handleData buffers one telemetry message. A refused append (buffer at
// capacity under the reject-new policy) is already logged by the buffer.
func (c *Coordinator) handleData(topic string, payload map[string]interface{}) {
	moduleID := bus.ModuleID(topic)
	if moduleID == "" {
		c.logger.Warn().Str("topic", topic).Msg("Data message without module id")
		return
	}

	c.buffer.Add(moduleID, payload, timestampField(payload))
}

// decodeMetrics lifts the flat numeric fields of a heartbeat payload into
// a typed snapshot. Missing fields stay zero; the two clock metrics are
// optional and only set when present.
func decodeMetrics(payload map[string]interface{}) models.HealthMetrics {
	metrics := models.HealthMetrics{
		CPUUsage:    floatField(payload, models.MetricCPUUsage),
		CPUTemp:     floatField(payload, models.MetricCPUTemp),
		MemoryUsage: floatField(payload, models.MetricMemoryUsage),
		DiskSpace:   floatField(payload, models.MetricDiskSpace),
		Uptime:      floatField(payload, models.MetricUptime),
	}

	if v, ok := payload[models.MetricClockOffset].(float64); ok {
		metrics.ClockOffset = &v
	}

	if v, ok := payload[models.MetricClockFreq].(float64); ok {
		metrics.ClockFreq = &v
	}

	return metrics
}

func decodeSyncSamples(payload map[string]interface{}) []models.SyncSample {
	raw, ok := payload["samples"].([]interface{})
	if !ok {
		return nil
	}

	samples := make([]models.SyncSample, 0, len(raw))

	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		source, _ := entry["source"].(string)

		samples = append(samples, models.SyncSample{
			Timestamp: timestampField(entry),
			Offset:    floatField(entry, "offset"),
			Freq:      floatField(entry, "freq"),
			Source:    source,
		})
	}

	return samples
}

// timestampField reads the conventional `timestamp` field, fractional
// seconds since the Unix epoch. A missing or malformed field yields the
// zero time, which downstream consumers replace with receipt time.
func timestampField(payload map[string]interface{}) time.Time {
	seconds, ok := payload["timestamp"].(float64)
	if !ok || seconds <= 0 {
		return time.Time{}
	}

	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))

	return time.Unix(sec, nsec).UTC()
}

func floatField(payload map[string]interface{}, key string) float64 {
	v, _ := payload[key].(float64)
	return v
}
