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
	"sync"

	"github.com/habitatlabs/fleet/pkg/models"
)

// EventType classifies a module lifecycle event.
type EventType string

const (
	EventDiscovered EventType = "discovered"
	EventLost       EventType = "lost"
	EventRemoved    EventType = "removed"
)

// Event carries a module state snapshot taken at emission time.
type Event struct {
	Type   EventType
	Module models.Module
}

const eventQueueDepth = 64

// eventFanout delivers lifecycle events to any number of subscribers.
// Delivery is best-effort: a subscriber that stops draining loses events
// rather than blocking registry mutations.
type eventFanout struct {
	mu   sync.Mutex
	subs []chan Event
}

func newEventFanout() *eventFanout {
	return &eventFanout{}
}

func (f *eventFanout) emit(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of lifecycle events and a cancel func.
func (r *Registry) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventQueueDepth)

	r.events.mu.Lock()
	r.events.subs = append(r.events.subs, ch)
	r.events.mu.Unlock()

	cancel := func() {
		r.events.mu.Lock()
		defer r.events.mu.Unlock()

		for i, c := range r.events.subs {
			if c == ch {
				r.events.subs = append(r.events.subs[:i], r.events.subs[i+1:]...)
				break
			}
		}
	}

	return ch, cancel
}
