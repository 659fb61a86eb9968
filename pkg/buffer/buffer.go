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

// Package buffer holds telemetry received from modules until the export
// scheduler drains it. Each module has a bounded ordered queue; records
// leave the buffer only through a successful export or an explicit clear.
package buffer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/models"
)

// OverflowPolicy selects what happens when a module's queue is at
// capacity.
type OverflowPolicy string

const (
	// OverflowRejectNew refuses new records while the queue is full.
	OverflowRejectNew OverflowPolicy = "reject-new"
	// OverflowDropOldest evicts the oldest record to admit the new one.
	OverflowDropOldest OverflowPolicy = "drop-oldest"
)

const defaultMaxBufferSize = 500

// Config holds the buffer knobs.
type Config struct {
	MaxBufferSize  int            `json:"max_buffer_size"`
	OverflowPolicy OverflowPolicy `json:"overflow_policy,omitempty"`
}

// Buffer is the single owner of buffered telemetry.
type Buffer struct {
	mu      sync.Mutex
	maxSize int
	policy  OverflowPolicy
	queues  map[string][]models.DataRecord
	clocks  map[string][]models.SyncSample
	logger  logger.Logger
	now     func() time.Time
	newID   func() string
}

// New creates a buffer. Zero or negative max size falls back to the
// default; an empty policy means reject-new.
func New(config Config, log logger.Logger) *Buffer {
	if config.MaxBufferSize <= 0 {
		config.MaxBufferSize = defaultMaxBufferSize
	}

	if config.OverflowPolicy == "" {
		config.OverflowPolicy = OverflowRejectNew
	}

	return &Buffer{
		maxSize: config.MaxBufferSize,
		policy:  config.OverflowPolicy,
		queues:  make(map[string][]models.DataRecord),
		clocks:  make(map[string][]models.SyncSample),
		logger:  log.WithComponent("buffer"),
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Add appends a timestamped record to the module's queue and reports
// whether the queue was within capacity. Under reject-new a full queue
// refuses the record; under drop-oldest the oldest record is evicted and
// the add still signals over-capacity with a false return.
func (b *Buffer) Add(moduleID string, payload map[string]interface{}, ts time.Time) bool {
	if ts.IsZero() {
		ts = b.now()
	}

	record := models.DataRecord{
		RecordID:  b.newID(),
		ModuleID:  moduleID,
		Timestamp: ts,
		Payload:   payload,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	queue := b.queues[moduleID]

	if len(queue) < b.maxSize {
		b.queues[moduleID] = append(queue, record)
		return true
	}

	switch b.policy {
	case OverflowDropOldest:
		b.queues[moduleID] = append(queue[1:], record)
		b.logger.Warn().Str("module_id", moduleID).Msg("Buffer full, dropped oldest record")
	default:
		b.logger.Warn().Str("module_id", moduleID).Msg("Buffer full, rejecting record")
	}

	return false
}

// Size returns the queue length for one module.
func (b *Buffer) Size(moduleID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.queues[moduleID])
}

// TotalSize returns the entry count across all modules.
func (b *Buffer) TotalSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, queue := range b.queues {
		total += len(queue)
	}

	return total
}

// IsFull reports whether the module's queue is at capacity.
func (b *Buffer) IsFull(moduleID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.queues[moduleID]) >= b.maxSize
}

// Clear empties one module's queue. Clearing an absent or empty queue is
// a no-op.
func (b *Buffer) Clear(moduleID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.queues, moduleID)
}

// ClearAll empties every queue.
func (b *Buffer) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.queues = make(map[string][]models.DataRecord)
}

// Snapshot returns a deep copy of all queues, taken atomically. The
// export scheduler works from this copy so records arriving during an
// in-flight export are never lost.
func (b *Buffer) Snapshot() map[string][]models.DataRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string][]models.DataRecord, len(b.queues))

	for id, queue := range b.queues {
		if len(queue) == 0 {
			continue
		}

		cp := make([]models.DataRecord, len(queue))
		copy(cp, queue)
		out[id] = cp
	}

	return out
}

// RemoveRecords deletes exactly the records with the given ids from one
// module's queue, leaving anything appended since the snapshot intact.
func (b *Buffer) RemoveRecords(moduleID string, recordIDs []string) {
	if len(recordIDs) == 0 {
		return
	}

	exported := make(map[string]struct{}, len(recordIDs))
	for _, id := range recordIDs {
		exported[id] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	queue := b.queues[moduleID]
	kept := queue[:0]

	for _, record := range queue {
		if _, ok := exported[record.RecordID]; !ok {
			kept = append(kept, record)
		}
	}

	if len(kept) == 0 {
		delete(b.queues, moduleID)
		return
	}

	b.queues[moduleID] = kept
}
