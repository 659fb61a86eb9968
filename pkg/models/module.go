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

// Package models defines the shared data model for the fleet
// coordination subsystem.
package models

import "time"

// PresenceState tracks whether a module is currently advertised on the
// network. It is set by the discovery adapter only and is independent of
// liveness.
type PresenceState string

const (
	PresenceDiscovered PresenceState = "discovered"
	PresenceLost       PresenceState = "lost"
)

// LivenessState tracks whether a module is sending heartbeats. It is set
// by the health monitor only. A module that has never sent a heartbeat
// stays LivenessUnknown.
type LivenessState string

const (
	LivenessUnknown LivenessState = "unknown"
	LivenessOnline  LivenessState = "online"
	LivenessOffline LivenessState = "offline"
)

// ModuleType identifies the kind of peripheral a module drives.
type ModuleType string

const (
	ModuleTypeCamera     ModuleType = "camera"
	ModuleTypeMicrophone ModuleType = "microphone"
	ModuleTypeActuator   ModuleType = "actuator"
	ModuleTypeDigitalIO  ModuleType = "digital_io"
	ModuleTypeUnknown    ModuleType = "unknown"
)

// Module is a managed peripheral device in the fleet. Instances are owned
// by the registry: created on first discovery, mutated on later discovery
// and heartbeat events, and soft-removed (marked lost) rather than
// deleted while the process runs.
type Module struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       ModuleType        `json:"type"`
	Addr       string            `json:"addr"`
	Port       int               `json:"port"`
	Properties map[string]string `json:"properties,omitempty"`
	Presence   PresenceState     `json:"presence"`
	Liveness   LivenessState     `json:"liveness"`
	FirstSeen  time.Time         `json:"first_seen"`
	LastSeen   time.Time         `json:"last_seen"`
}

// DataRecord is one buffered telemetry item for a module. Timestamp is
// the capture time reported by the module, not the arrival time. RecordID
// is generated on ingest so the export sink can dedupe a batch that was
// applied but whose confirmation was lost.
type DataRecord struct {
	RecordID  string                 `json:"record_id"`
	ModuleID  string                 `json:"module_id"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"data"`
}

// DataExportRecord is the shape handed to the export sink for telemetry.
type DataExportRecord struct {
	RecordID   string                 `json:"record_id"`
	ModuleID   string                 `json:"module_id"`
	ModuleType ModuleType             `json:"module_type"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data"`
}

// ExportBatch is a module-keyed snapshot of buffered records taken
// atomically at flush time. Source entries are cleared only after the
// sink confirms success for that module.
type ExportBatch struct {
	Data   map[string][]DataRecord
	Health []HealthRecord
}
