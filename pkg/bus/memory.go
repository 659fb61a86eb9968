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

package bus

import (
	"context"
	"strings"
	"sync"
)

const memoryQueueDepth = 256

// MemoryBus is an in-process Bus with the same at-most-once semantics as
// NatsBus: a publish with no matching subscriber is a silent no-op, and a
// subscriber whose queue is full drops the message rather than blocking
// the publisher.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []*memorySubscription
	closed bool
}

type memorySubscription struct {
	prefix string
	queue  chan memoryMessage
	done   chan struct{}
	once   sync.Once
}

type memoryMessage struct {
	topic   string
	payload map[string]interface{}
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Publish delivers payload to every subscription whose prefix matches.
// It never blocks on a slow subscriber.
func (b *MemoryBus) Publish(topic string, payload map[string]interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !strings.HasPrefix(topic, sub.prefix) {
			continue
		}

		select {
		case sub.queue <- memoryMessage{topic: topic, payload: payload}:
		default:
			// Queue full: drop, matching the transport contract.
		}
	}
}

// Subscribe registers a handler for all topics starting with topicPrefix.
func (b *MemoryBus) Subscribe(topicPrefix string, handler Handler) (Unsubscribe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errBusClosed
	}

	sub := &memorySubscription{
		prefix: topicPrefix,
		queue:  make(chan memoryMessage, memoryQueueDepth),
		done:   make(chan struct{}),
	}
	b.subs = append(b.subs, sub)

	go func() {
		defer close(sub.done)

		for msg := range sub.queue {
			handler(msg.topic, msg.payload)
		}
	}()

	return func() { b.remove(sub) }, nil
}

func (b *MemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	sub.once.Do(func() {
		close(sub.queue)
		<-sub.done
	})
}

// Close drains and stops every subscription.
func (b *MemoryBus) Close(_ context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() {
			close(sub.queue)
			<-sub.done
		})
	}

	return nil
}
