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

package pubsub_test

import (
	"context"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/canopyhq/canopy/api/types/events"
	"github.com/canopyhq/canopy/server/backend/pubsub"
)

func TestPubSub(t *testing.T) {
	t.Run("publish subscribe test", func(t *testing.T) {
		pubSub := pubsub.New()
		event := events.SpaceEvent{
			Type:      events.PagesDeleted,
			Pages:     []events.PageMeta{{ID: "page-1", SpaceID: "space-1"}},
			Publisher: "user-b",
		}

		ctx := context.Background()
		subA := pubSub.Subscribe(ctx, "user-a", "space-1")
		defer pubSub.Unsubscribe(ctx, "space-1", subA)

		var wg gosync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := <-subA.Events()
			assert.Equal(t, event, e)
		}()

		pubSub.Publish(ctx, "space-1", event)
		wg.Wait()
	})

	t.Run("broadcast scope is the space test", func(t *testing.T) {
		pubSub := pubsub.New()
		ctx := context.Background()

		subA := pubSub.Subscribe(ctx, "user-a", "space-1")
		subB := pubSub.Subscribe(ctx, "user-b", "space-1")
		subOther := pubSub.Subscribe(ctx, "user-c", "space-2")
		defer func() {
			pubSub.Unsubscribe(ctx, "space-1", subA)
			pubSub.Unsubscribe(ctx, "space-1", subB)
			pubSub.Unsubscribe(ctx, "space-2", subOther)
		}()

		event := events.SpaceEvent{Type: events.PagesMetaUpdated, Publisher: "user-a"}
		pubSub.Publish(ctx, "space-1", event)

		// the publisher's own connection receives broadcasts too
		assert.Equal(t, event, <-subA.Events())
		assert.Equal(t, event, <-subB.Events())
		assert.Empty(t, subOther.Events())
	})

	t.Run("unsubscribe stops delivery test", func(t *testing.T) {
		pubSub := pubsub.New()
		ctx := context.Background()

		sub := pubSub.Subscribe(ctx, "user-a", "space-1")
		assert.Equal(t, 1, pubSub.SubscribersOf("space-1"))

		pubSub.Unsubscribe(ctx, "space-1", sub)
		assert.Equal(t, 0, pubSub.SubscribersOf("space-1"))

		// publishing to an empty space is a no-op
		pubSub.Publish(ctx, "space-1", events.SpaceEvent{Type: events.PagesDeleted})

		_, open := <-sub.Events()
		assert.False(t, open)
	})
}
