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
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/habitatlabs/fleet/pkg/logger"
)

const (
	// receivePoll keeps subscription loops responsive to shutdown. It is
	// not a domain timeout: an in-flight receive completes or times out
	// naturally, it is never cancelled mid-call.
	receivePoll = 250 * time.Millisecond

	// closeLinger gives in-flight publishes a chance to drain before the
	// connection is torn down.
	closeLinger = time.Second
)

var errBusClosed = errors.New("bus is closed")

// NatsBus is a Bus backed by core NATS. Core (non-JetStream) semantics
// match the transport contract exactly: no acknowledgement, no
// redelivery, silent no-op when nobody is subscribed.
type NatsBus struct {
	nc     *nats.Conn
	logger logger.Logger

	mu     sync.Mutex
	subs   []*natsSubscription
	closed bool
}

type natsSubscription struct {
	subs []*nats.Subscription
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewNatsBus connects to the NATS server at url.
func NewNatsBus(url string, log logger.Logger) (*NatsBus, error) {
	nc, err := nats.Connect(url,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	return &NatsBus{nc: nc, logger: log.WithComponent("bus")}, nil
}

// Publish sends payload on topic. Transport and encoding failures are
// logged and swallowed per the at-most-once contract.
func (b *NatsBus) Publish(topic string, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error().Err(err).Str("topic", topic).Msg("Failed to encode message")
		return
	}

	if err := b.nc.Publish(subjectForTopic(topic), data); err != nil {
		b.logger.Warn().Err(err).Str("topic", topic).Msg("Publish failed")
	}
}

// Subscribe delivers every message whose topic starts with topicPrefix,
// in arrival order, on a dedicated goroutine.
func (b *NatsBus) Subscribe(topicPrefix string, handler Handler) (Unsubscribe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errBusClosed
	}

	ns := &natsSubscription{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	for _, subject := range subjectsForPrefix(topicPrefix) {
		sub, err := b.nc.SubscribeSync(subject)
		if err != nil {
			for _, s := range ns.subs {
				_ = s.Unsubscribe()
			}

			return nil, err
		}

		ns.subs = append(ns.subs, sub)
	}

	b.subs = append(b.subs, ns)

	go b.deliver(ns, handler)

	return func() { b.cancel(ns) }, nil
}

// deliver polls the subscription until its stop flag is set. On an empty
// queue NextMsg times out and the loop retries, which is what keeps the
// loop observable for shutdown.
func (b *NatsBus) deliver(ns *natsSubscription, handler Handler) {
	defer close(ns.done)

	poll := receivePoll / time.Duration(len(ns.subs))

	for {
		select {
		case <-ns.stop:
			return
		default:
		}

		for _, sub := range ns.subs {
			msg, err := sub.NextMsg(poll)
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) {
					continue
				}

				// Subscription closed or connection gone.
				return
			}

			var payload map[string]interface{}
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping undecodable message")
				continue
			}

			handler(topicForSubject(msg.Subject), payload)
		}
	}
}

func (b *NatsBus) cancel(ns *natsSubscription) {
	ns.once.Do(func() {
		close(ns.stop)
		<-ns.done

		for _, sub := range ns.subs {
			_ = sub.Unsubscribe()
		}
	})
}

// Close stops all delivery loops, flushes pending publishes with a short
// linger, then closes the connection.
func (b *NatsBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, ns := range subs {
		b.cancel(ns)
	}

	linger := closeLinger
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < linger {
			linger = remaining
		}
	}

	if err := b.nc.FlushTimeout(linger); err != nil {
		b.logger.Warn().Err(err).Msg("Flush on close timed out")
	}

	b.nc.Close()

	return nil
}

// Topics use '/' namespacing on the wire facade; NATS subjects use '.'
// tokens so that prefix subscriptions can use the '>' wildcard.
func subjectForTopic(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

func topicForSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

// subjectsForPrefix expands a topic prefix into NATS subjects. A
// namespace prefix such as "status/" becomes the wildcard "status.>";
// an exact topic such as "cmd/cam1" must match both the topic itself and
// anything nested under it.
func subjectsForPrefix(topicPrefix string) []string {
	trimmed := strings.TrimSuffix(topicPrefix, "/")
	if trimmed == "" {
		return []string{">"}
	}

	base := subjectForTopic(trimmed)
	if strings.HasSuffix(topicPrefix, "/") {
		return []string{base + ".>"}
	}

	return []string{base, base + ".>"}
}
