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

// Package pubsub provides the in-memory broadcaster that fans space
// events out to every connection subscribed to a space.
package pubsub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/canopyhq/canopy/api/types/events"
	"github.com/canopyhq/canopy/server/logging"
)

// spaceSubs holds the subscriptions of a single space.
type spaceSubs struct {
	internalMap map[string]*Subscription
}

func newSpaceSubs() *spaceSubs {
	return &spaceSubs{
		internalMap: make(map[string]*Subscription),
	}
}

func (s *spaceSubs) add(sub *Subscription) {
	s.internalMap[sub.ID()] = sub
}

func (s *spaceSubs) remove(id string) {
	delete(s.internalMap, id)
}

func (s *spaceSubs) len() int {
	return len(s.internalMap)
}

// PubSub is the in-memory broadcaster for a single server process.
type PubSub struct {
	mu          sync.RWMutex
	subsBySpace map[string]*spaceSubs
}

// New creates an instance of PubSub.
func New() *PubSub {
	return &PubSub{
		subsBySpace: make(map[string]*spaceSubs),
	}
}

// Subscribe subscribes the given user's connection to the space.
func (m *PubSub) Subscribe(
	ctx context.Context,
	subscriber string,
	spaceID string,
) *Subscription {
	if logging.Enabled(zap.DebugLevel) {
		logging.From(ctx).Debugf("Subscribe(%s,%s) Start", spaceID, subscriber)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.subsBySpace[spaceID]
	if !ok {
		subs = newSpaceSubs()
		m.subsBySpace[spaceID] = subs
	}

	sub := NewSubscription(subscriber)
	subs.add(sub)

	if logging.Enabled(zap.DebugLevel) {
		logging.From(ctx).Debugf("Subscribe(%s,%s) End", spaceID, subscriber)
	}
	return sub
}

// Unsubscribe unsubscribes the given subscription from the space.
func (m *PubSub) Unsubscribe(
	ctx context.Context,
	spaceID string,
	sub *Subscription,
) {
	sub.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	if subs, ok := m.subsBySpace[spaceID]; ok {
		subs.remove(sub.ID())
		if subs.len() == 0 {
			delete(m.subsBySpace, spaceID)
		}
	}

	if logging.Enabled(zap.DebugLevel) {
		logging.From(ctx).Debugf("Unsubscribe(%s,%s) End", spaceID, sub.Subscriber())
	}
}

// Publish delivers the given event to every connection subscribed to the
// space. It is invoked exactly once per structural operation, after the
// authoritative store write succeeded.
func (m *PubSub) Publish(
	ctx context.Context,
	spaceID string,
	event events.SpaceEvent,
) {
	m.mu.RLock()
	subs, ok := m.subsBySpace[spaceID]
	if !ok {
		m.mu.RUnlock()
		return
	}

	targets := make([]*Subscription, 0, subs.len())
	for _, sub := range subs.internalMap {
		targets = append(targets, sub)
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		if ok := sub.Publish(event); !ok {
			logging.From(ctx).Warnf(
				"Publish(%s,%s) to %s timeout or closed",
				spaceID,
				event.Type,
				sub.Subscriber(),
			)
		}
	}
}

// SubscribersOf returns the number of connections subscribed to the
// space. It backs the broadcaster metrics.
func (m *PubSub) SubscribersOf(spaceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs, ok := m.subsBySpace[spaceID]
	if !ok {
		return 0
	}
	return subs.len()
}
