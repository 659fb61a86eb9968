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

package buffer

import "github.com/habitatlabs/fleet/pkg/models"

// maxSyncSamples bounds the per-module clock-sync history.
const maxSyncSamples = 720

// AddSyncSamples appends clock-synchronization samples reported on the
// status channel, dropping the oldest past the retention bound.
func (b *Buffer) AddSyncSamples(moduleID string, samples []models.SyncSample) {
	if len(samples) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	history := append(b.clocks[moduleID], samples...)
	if overflow := len(history) - maxSyncSamples; overflow > 0 {
		history = history[overflow:]
	}

	b.clocks[moduleID] = history
}

// SyncHistory returns a copy of one module's clock-sync history, oldest
// first.
func (b *Buffer) SyncHistory(moduleID string) []models.SyncSample {
	b.mu.Lock()
	defer b.mu.Unlock()

	history := b.clocks[moduleID]
	if len(history) == 0 {
		return nil
	}

	cp := make([]models.SyncSample, len(history))
	copy(cp, history)

	return cp
}

// AllSyncHistory returns a copy of every module's clock-sync history.
func (b *Buffer) AllSyncHistory() map[string][]models.SyncSample {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string][]models.SyncSample, len(b.clocks))

	for id, history := range b.clocks {
		cp := make([]models.SyncSample, len(history))
		copy(cp, history)
		out[id] = cp
	}

	return out
}

// ClearSyncHistory drops one module's clock-sync history, or all of it
// when moduleID is empty.
func (b *Buffer) ClearSyncHistory(moduleID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if moduleID == "" {
		b.clocks = make(map[string][]models.SyncSample)
		return
	}

	delete(b.clocks, moduleID)
}
