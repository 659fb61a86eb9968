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

package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/models"
)

func camInfo() ModuleInfo {
	return ModuleInfo{
		ID:   "a1b2c3",
		Name: "camera-module-1",
		Type: models.ModuleTypeCamera,
		Addr: "192.168.1.20",
		Port: 5000,
	}
}

func TestUpsertCreatesModule(t *testing.T) {
	reg := New(logger.NewTestLogger())

	module, created := reg.Upsert(camInfo())

	require.True(t, created)
	assert.Equal(t, "a1b2c3", module.ID)
	assert.Equal(t, models.PresenceDiscovered, module.Presence)
	assert.Equal(t, models.LivenessUnknown, module.Liveness, "discovery must not imply liveness")
	assert.False(t, module.FirstSeen.IsZero())
	assert.Equal(t, module.FirstSeen, module.LastSeen)
}

func TestUpsertDedupesByID(t *testing.T) {
	reg := New(logger.NewTestLogger())

	first, created := reg.Upsert(camInfo())
	require.True(t, created)

	// The module restarted: same hardware id, new instance name and
	// address lease.
	readvertised := camInfo()
	readvertised.Name = "camera-module-1 (2)"
	readvertised.Addr = "192.168.1.45"

	second, created := reg.Upsert(readvertised)

	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "camera-module-1 (2)", second.Name)
	assert.Equal(t, "192.168.1.45", second.Addr)
	assert.Equal(t, first.FirstSeen, second.FirstSeen)
	assert.Len(t, reg.List(), 1)
}

func TestUpsertRefreshesLostModule(t *testing.T) {
	reg := New(logger.NewTestLogger())

	reg.Upsert(camInfo())
	require.NotNil(t, reg.MarkLostByName("camera-module-1"))

	module, created := reg.Upsert(camInfo())

	assert.False(t, created)
	assert.Equal(t, models.PresenceDiscovered, module.Presence)
}

func TestMarkLostByName(t *testing.T) {
	reg := New(logger.NewTestLogger())

	reg.Upsert(camInfo())

	module := reg.MarkLostByName("camera-module-1")
	require.NotNil(t, module)
	assert.Equal(t, models.PresenceLost, module.Presence)

	// The record survives as lost; it is not deleted.
	stored := reg.Get("a1b2c3")
	require.NotNil(t, stored)
	assert.Equal(t, models.PresenceLost, stored.Presence)
	assert.Empty(t, reg.Discovered())
}

func TestMarkLostUnknownName(t *testing.T) {
	reg := New(logger.NewTestLogger())

	assert.Nil(t, reg.MarkLostByName("never-seen"))
}

func TestListOrderedByID(t *testing.T) {
	reg := New(logger.NewTestLogger())

	for _, id := range []string{"c3", "a1", "b2"} {
		info := camInfo()
		info.ID = id
		info.Name = "module-" + id
		reg.Upsert(info)
	}

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "a1", list[0].ID)
	assert.Equal(t, "b2", list[1].ID)
	assert.Equal(t, "c3", list[2].ID)
}

func TestSetLiveness(t *testing.T) {
	reg := New(logger.NewTestLogger())

	reg.Upsert(camInfo())

	require.True(t, reg.SetLiveness("a1b2c3", models.LivenessOnline))
	assert.Equal(t, models.LivenessOnline, reg.Get("a1b2c3").Liveness)

	assert.False(t, reg.SetLiveness("ghost", models.LivenessOnline))
}

func TestModuleType(t *testing.T) {
	reg := New(logger.NewTestLogger())

	reg.Upsert(camInfo())

	assert.Equal(t, models.ModuleTypeCamera, reg.ModuleType("a1b2c3"))
	assert.Equal(t, models.ModuleTypeUnknown, reg.ModuleType("ghost"))
}

func TestRemoveIsSoft(t *testing.T) {
	reg := New(logger.NewTestLogger())

	reg.Upsert(camInfo())
	reg.SetLiveness("a1b2c3", models.LivenessOnline)

	require.True(t, reg.Remove("a1b2c3"))

	stored := reg.Get("a1b2c3")
	require.NotNil(t, stored, "removal must retain the record")
	assert.Equal(t, models.PresenceLost, stored.Presence)
	assert.Equal(t, models.LivenessOffline, stored.Liveness)

	assert.False(t, reg.Remove("ghost"))
}

func TestGetReturnsCopy(t *testing.T) {
	reg := New(logger.NewTestLogger())

	reg.Upsert(camInfo())

	snapshot := reg.Get("a1b2c3")
	snapshot.Name = "mutated"

	assert.Equal(t, "camera-module-1", reg.Get("a1b2c3").Name)
}

func TestSubscribeReceivesLifecycleEvents(t *testing.T) {
	reg := New(logger.NewTestLogger())

	events, cancel := reg.Subscribe()
	defer cancel()

	reg.Upsert(camInfo())
	reg.MarkLostByName("camera-module-1")
	reg.Upsert(camInfo())
	reg.Remove("a1b2c3")

	expected := []EventType{EventDiscovered, EventLost, EventDiscovered, EventRemoved}

	for _, want := range expected {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev.Type)
			assert.Equal(t, "a1b2c3", ev.Module.ID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	reg := New(logger.NewTestLogger())

	events, cancel := reg.Subscribe()
	cancel()

	// Emitting after cancel must not reach the detached subscriber.
	reg.Upsert(camInfo())

	select {
	case ev := <-events:
		t.Fatalf("unexpected event after cancel: %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}
