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

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/models"
)

func payload(n int) map[string]interface{} {
	return map[string]interface{}{"frame": n}
}

func TestAddPreservesArrivalOrder(t *testing.T) {
	buf := New(Config{MaxBufferSize: 10}, logger.NewTestLogger())

	for i := 0; i < 3; i++ {
		require.True(t, buf.Add("cam1", payload(i), time.Time{}))
	}

	snapshot := buf.Snapshot()
	require.Len(t, snapshot["cam1"], 3)

	for i, rec := range snapshot["cam1"] {
		assert.Equal(t, payload(i), rec.Payload)
		assert.Equal(t, "cam1", rec.ModuleID)
		assert.NotEmpty(t, rec.RecordID)
	}
}

func TestQueuesAreIndependent(t *testing.T) {
	buf := New(Config{MaxBufferSize: 2}, logger.NewTestLogger())

	require.True(t, buf.Add("cam1", payload(0), time.Time{}))
	require.True(t, buf.Add("cam1", payload(1), time.Time{}))
	require.True(t, buf.IsFull("cam1"))

	// A full cam1 queue must not affect mic1.
	assert.True(t, buf.Add("mic1", payload(0), time.Time{}))
	assert.Equal(t, 2, buf.Size("cam1"))
	assert.Equal(t, 1, buf.Size("mic1"))
	assert.Equal(t, 3, buf.TotalSize())
}

func TestRejectNewPolicy(t *testing.T) {
	buf := New(Config{MaxBufferSize: 2, OverflowPolicy: OverflowRejectNew}, logger.NewTestLogger())

	require.True(t, buf.Add("mic2", payload(0), time.Time{}))
	require.True(t, buf.Add("mic2", payload(1), time.Time{}))
	assert.False(t, buf.Add("mic2", payload(2), time.Time{}))

	snapshot := buf.Snapshot()
	require.Len(t, snapshot["mic2"], 2)

	// The earliest records survive; the overflowing one was refused.
	assert.Equal(t, payload(0), snapshot["mic2"][0].Payload)
	assert.Equal(t, payload(1), snapshot["mic2"][1].Payload)
}

func TestDropOldestPolicy(t *testing.T) {
	buf := New(Config{MaxBufferSize: 2, OverflowPolicy: OverflowDropOldest}, logger.NewTestLogger())

	require.True(t, buf.Add("mic2", payload(0), time.Time{}))
	require.True(t, buf.Add("mic2", payload(1), time.Time{}))
	assert.False(t, buf.Add("mic2", payload(2), time.Time{}))

	snapshot := buf.Snapshot()
	require.Len(t, snapshot["mic2"], 2)

	// The oldest record was evicted to admit the newest.
	assert.Equal(t, payload(1), snapshot["mic2"][0].Payload)
	assert.Equal(t, payload(2), snapshot["mic2"][1].Payload)
}

func TestClearIsIdempotent(t *testing.T) {
	buf := New(Config{MaxBufferSize: 10}, logger.NewTestLogger())

	require.True(t, buf.Add("cam1", payload(0), time.Time{}))

	buf.Clear("cam1")
	assert.Zero(t, buf.Size("cam1"))

	// Clearing an already-empty or never-seen queue is a no-op.
	buf.Clear("cam1")
	buf.Clear("ghost")
	assert.Zero(t, buf.TotalSize())
}

func TestClearAll(t *testing.T) {
	buf := New(Config{MaxBufferSize: 10}, logger.NewTestLogger())

	require.True(t, buf.Add("cam1", payload(0), time.Time{}))
	require.True(t, buf.Add("mic1", payload(0), time.Time{}))

	buf.ClearAll()

	assert.Zero(t, buf.TotalSize())
	assert.Empty(t, buf.Snapshot())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	buf := New(Config{MaxBufferSize: 10}, logger.NewTestLogger())

	require.True(t, buf.Add("cam1", payload(0), time.Time{}))

	snapshot := buf.Snapshot()
	require.True(t, buf.Add("cam1", payload(1), time.Time{}))

	// The snapshot must not see records added after it was taken.
	assert.Len(t, snapshot["cam1"], 1)
	assert.Equal(t, 2, buf.Size("cam1"))
}

func TestRemoveRecordsKeepsInFlightAdds(t *testing.T) {
	buf := New(Config{MaxBufferSize: 10}, logger.NewTestLogger())

	for i := 0; i < 3; i++ {
		require.True(t, buf.Add("cam1", payload(i), time.Time{}))
	}

	snapshot := buf.Snapshot()

	// A record arrives while the snapshot is being exported.
	require.True(t, buf.Add("cam1", payload(99), time.Time{}))

	recordIDs := make([]string, 0, len(snapshot["cam1"]))
	for _, rec := range snapshot["cam1"] {
		recordIDs = append(recordIDs, rec.RecordID)
	}

	buf.RemoveRecords("cam1", recordIDs)

	remaining := buf.Snapshot()
	require.Len(t, remaining["cam1"], 1)
	assert.Equal(t, payload(99), remaining["cam1"][0].Payload)
}

func TestRemoveRecordsUnknownIDs(t *testing.T) {
	buf := New(Config{MaxBufferSize: 10}, logger.NewTestLogger())

	require.True(t, buf.Add("cam1", payload(0), time.Time{}))

	buf.RemoveRecords("cam1", []string{"not-a-real-id"})
	assert.Equal(t, 1, buf.Size("cam1"))

	buf.RemoveRecords("ghost", []string{"whatever"})
	assert.Equal(t, 1, buf.TotalSize())
}

func TestDefaultCapacity(t *testing.T) {
	buf := New(Config{}, logger.NewTestLogger())

	for i := 0; i < defaultMaxBufferSize; i++ {
		require.True(t, buf.Add("cam1", payload(i), time.Time{}), fmt.Sprintf("add %d", i))
	}

	assert.True(t, buf.IsFull("cam1"))
	assert.False(t, buf.Add("cam1", payload(0), time.Time{}))
}

func TestSyncHistoryBounded(t *testing.T) {
	buf := New(Config{}, logger.NewTestLogger())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < maxSyncSamples+10; i++ {
		buf.AddSyncSamples("cam1", []models.SyncSample{{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Offset:    float64(i),
			Source:    "ptp",
		}})
	}

	history := buf.SyncHistory("cam1")
	require.Len(t, history, maxSyncSamples)

	// Oldest samples were trimmed.
	assert.InEpsilon(t, 10.0, history[0].Offset, 0.001)
}

func TestClearSyncHistory(t *testing.T) {
	buf := New(Config{}, logger.NewTestLogger())

	sample := []models.SyncSample{{Timestamp: time.Now(), Offset: 1, Source: "ptp"}}
	buf.AddSyncSamples("cam1", sample)
	buf.AddSyncSamples("mic1", sample)

	buf.ClearSyncHistory("cam1")
	assert.Empty(t, buf.SyncHistory("cam1"))
	assert.Len(t, buf.SyncHistory("mic1"), 1)

	buf.ClearSyncHistory("")
	assert.Empty(t, buf.SyncHistory("mic1"))
}
