/*
 * Copyright 2024 The Canopy Authors. All rights reserved.
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

package pubsub

import (
	"sync"
	gotime "time"

	"github.com/rs/xid"

	"github.com/canopyhq/canopy/api/types/events"
)

const (
	// publishTimeout is the timeout for publishing an event to a single
	// subscriber.
	publishTimeout = 100 * gotime.Millisecond

	// eventBufferSize is the size of a subscription's event channel.
	eventBufferSize = 16
)

// Subscription represents a subscription of one connection to the
// broadcast scope of a space.
type Subscription struct {
	id         string
	subscriber string
	mu         sync.Mutex
	closed     bool
	events     chan events.SpaceEvent
}

// NewSubscription creates a new instance of Subscription.
func NewSubscription(subscriber string) *Subscription {
	return &Subscription{
		id:         xid.New().String(),
		subscriber: subscriber,
		events:     make(chan events.SpaceEvent, eventBufferSize),
	}
}

// ID returns the id of this subscription.
func (s *Subscription) ID() string {
	return s.id
}

// Events returns the event channel of this subscription.
func (s *Subscription) Events() <-chan events.SpaceEvent {
	return s.events
}

// Subscriber returns the user id of this subscription's connection.
func (s *Subscription) Subscriber() string {
	return s.subscriber
}

// Close closes all resources of this Subscription.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// Publish publishes the given event to this subscriber. It reports false
// when the subscription is closed or the subscriber is too slow to keep
// up.
func (s *Subscription) Publish(event events.SpaceEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.events <- event:
		return true
	case <-gotime.After(publishTimeout):
		return false
	}
}
