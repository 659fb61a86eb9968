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

// Package bus provides the topic-routed publish/subscribe transport
// between the controller and modules.
//
// Delivery is at-most-once: Publish never waits for a subscriber and
// messages in flight during a subscriber's absence are lost. Callers must
// not assume delivery.
package bus

import (
	"context"
	"strings"
)

// Topic namespaces. Commands flow controller to modules, status and data
// flow modules to controller.
const (
	TopicCommandPrefix = "cmd/"
	TopicStatusPrefix  = "status/"
	TopicDataPrefix    = "data/"
)

// Handler receives one decoded message. Handlers for a given subscription
// are invoked sequentially, in arrival order, on a dedicated goroutine.
type Handler func(topic string, payload map[string]interface{})

// Unsubscribe stops delivery for one subscription. Safe to call more than
// once.
type Unsubscribe func()

// Bus is the fire-and-forget pub/sub contract. Publish surfaces no error
// to the caller: the bus never promised delivery, so a failed or
// unobserved publish is a no-op from the caller's perspective.
type Bus interface {
	Publish(topic string, payload map[string]interface{})
	Subscribe(topicPrefix string, handler Handler) (Unsubscribe, error)
	Close(ctx context.Context) error
}

// CommandTopic returns the command topic for a module id (or the
// broadcast token).
func CommandTopic(target string) string {
	return TopicCommandPrefix + target
}

// StatusTopic returns the status topic for a module id.
func StatusTopic(moduleID string) string {
	return TopicStatusPrefix + moduleID
}

// DataTopic returns the data topic for a module id.
func DataTopic(moduleID string) string {
	return TopicDataPrefix + moduleID
}

// ModuleID extracts the module id portion of a namespaced topic, e.g.
// "status/cam1" yields "cam1". Returns "" when the topic has no id part.
func ModuleID(topic string) string {
	idx := strings.Index(topic, "/")
	if idx < 0 || idx+1 >= len(topic) {
		return ""
	}

	return topic[idx+1:]
}
