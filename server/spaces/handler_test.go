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

package spaces

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/canopyhq/canopy/api/types"
	"github.com/canopyhq/canopy/api/types/events"
	"github.com/canopyhq/canopy/pkg/pagetree"
	"github.com/canopyhq/canopy/server/backend/database"
	"github.com/canopyhq/canopy/server/backend/database/memory"
	"github.com/canopyhq/canopy/server/backend/pubsub"
	"github.com/canopyhq/canopy/server/documents"
	"github.com/canopyhq/canopy/server/permission"
)

type fakeConn struct {
	id   string
	sent []events.SpaceEvent
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Emit(event events.SpaceEvent) error {
	c.sent = append(c.sent, event)
	return nil
}

type docConn struct {
	id   string
	sent []*types.DocServerMessage
}

func (c *docConn) ID() string { return c.id }

func (c *docConn) Emit(msg *types.DocServerMessage) error {
	c.sent = append(c.sent, msg)
	return nil
}

func (c *docConn) diffs() []types.DiffPayload {
	var out []types.DiffPayload
	for _, msg := range c.sent {
		if msg.Type != types.DocMessageDiff {
			continue
		}
		if diff, ok := msg.Payload.(types.DiffPayload); ok {
			out = append(out, diff)
		}
	}
	return out
}

type fixture struct {
	db          database.Database
	registry    *documents.Registry
	broadcaster *pubsub.PubSub
	sub         *pubsub.Subscription
	conn        *fakeConn
	handler     *Handler
}

func newFixture(t *testing.T, userID string) *fixture {
	db, err := memory.New()
	assert.NoError(t, err)

	registry := documents.NewRegistry()
	broadcaster := pubsub.New()
	sub := broadcaster.Subscribe(context.Background(), "observer", "space-1")

	conn := &fakeConn{id: "space-conn-" + userID}
	handler := NewHandler(conn, userID, "space-1", db, registry, broadcaster, permission.AllowAll())

	return &fixture{
		db:          db,
		registry:    registry,
		broadcaster: broadcaster,
		sub:         sub,
		conn:        conn,
		handler:     handler,
	}
}

func (f *fixture) events() []events.SpaceEvent {
	var out []events.SpaceEvent
	for {
		select {
		case event := <-f.sub.Events():
			out = append(out, event)
		default:
			return out
		}
	}
}

func (f *fixture) send(t *testing.T, msgType string, payload any) {
	raw, err := json.Marshal(payload)
	assert.NoError(t, err)
	assert.NoError(t, f.handler.HandleMessage(context.Background(), &types.ClientMessage{
		Type:    msgType,
		Payload: raw,
	}))
}

// join opens an editing session of the given user on the page so that
// its room exists with a live participant.
func (f *fixture) join(t *testing.T, sessionID, userID, pageID string) *docConn {
	conn := &docConn{id: sessionID}
	h := documents.NewHandler(conn, userID, "User "+userID, f.registry, f.db, permission.AllowAll())

	raw, err := json.Marshal(types.SubscribeDocPayload{PageID: pageID})
	assert.NoError(t, err)
	assert.NoError(t, h.HandleMessage(context.Background(), &types.DocClientMessage{
		Type:    types.DocMessageSubscribe,
		C:       1,
		S:       1,
		Payload: raw,
	}))
	return conn
}

func paragraph(text string) *pagetree.Node {
	return &pagetree.Node{
		Type: pagetree.TypeParagraph,
		Content: []*pagetree.Node{
			{Type: pagetree.TypeText, Text: text},
		},
	}
}

func docOf(children ...*pagetree.Node) *pagetree.Node {
	doc := pagetree.NewDocument()
	doc.Content = children
	return doc
}

// outline flattens a document's top-level children into readable tokens
// for order assertions.
func outline(doc *pagetree.Node) []string {
	out := make([]string, 0, len(doc.Content))
	for _, child := range doc.Content {
		if child.IsReference() {
			out = append(out, "ref:"+child.ReferenceID())
		} else {
			out = append(out, child.PlainText())
		}
	}
	return out
}

func createPage(
	t *testing.T,
	db database.Database,
	id, parentID, title string,
	content *pagetree.Node,
) *database.PageInfo {
	info, err := db.CreatePageInfo(context.Background(), &database.PageInfo{
		ID:       id,
		SpaceID:  "space-1",
		ParentID: parentID,
		Type:     "page",
		Path:     "path-" + id,
		Title:    title,
		Content:  content,
	})
	assert.NoError(t, err)
	return info
}

// createParentWithChild persists the two-paragraph parent used by the
// move and delete tests, with child's reference node between them.
func createParentWithChild(t *testing.T, db database.Database, parentID, childID string) {
	createPage(t, db, parentID, "", "Parent "+parentID, docOf(
		paragraph("1"),
		pagetree.NewReference(childID, "path-"+childID, "page", false),
		paragraph("2"),
	))
	createPage(t, db, childID, parentID, "Child "+childID, docOf(paragraph("child body")))
}

func TestPageDeleted(t *testing.T) {
	t.Run("delete with active room skips the initiator's emit test", func(t *testing.T) {
		f := newFixture(t, "user-del")
		createParentWithChild(t, f.db, "parent-1", "child-a")

		initiator := f.join(t, "sess-del", "user-del", "parent-1")
		other := f.join(t, "sess-other", "user-2", "parent-1")

		f.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "child-a"})

		room, ok := f.registry.Room("parent-1")
		assert.True(t, ok)
		assert.Equal(t, []string{"1", "2"}, outline(room.Doc()))

		child, err := f.db.FindPageInfo(context.Background(), "child-a")
		assert.NoError(t, err)
		assert.True(t, child.IsDeleted())

		assert.Empty(t, initiator.diffs())
		assert.Len(t, other.diffs(), 1)
		assert.Equal(t, types.MessagePageDeleted, other.diffs()[0].Event)

		broadcasts := f.events()
		assert.Len(t, broadcasts, 1)
		assert.Equal(t, events.PagesDeleted, broadcasts[0].Type)
		assert.Equal(t, "child-a", broadcasts[0].Pages[0].ID)
		assert.NotNil(t, broadcasts[0].Pages[0].DeletedAt)
	})

	t.Run("delete without room patches the persisted content test", func(t *testing.T) {
		f := newFixture(t, "user-del")
		createParentWithChild(t, f.db, "parent-1", "child-a")

		f.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "child-a"})

		parent, err := f.db.FindPageInfo(context.Background(), "parent-1")
		assert.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, outline(parent.Content))

		child, err := f.db.FindPageInfo(context.Background(), "child-a")
		assert.NoError(t, err)
		assert.True(t, child.IsDeleted())

		broadcasts := f.events()
		assert.Len(t, broadcasts, 1)
		assert.Equal(t, events.PagesDeleted, broadcasts[0].Type)
	})

	t.Run("delete cascades through nested descendants only test", func(t *testing.T) {
		f := newFixture(t, "user-del")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		createPage(t, f.db, "grandchild", "child-a", "Grandchild", nil)
		createPage(t, f.db, "sibling", "parent-1", "Sibling", nil)
		// linked references never set the parent pointer, so a page that
		// is merely linked from the subtree stays untouched
		createPage(t, f.db, "linked-target", "", "Linked", nil)

		f.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "child-a"})

		for _, id := range []string{"child-a", "grandchild"} {
			info, err := f.db.FindPageInfo(context.Background(), id)
			assert.NoError(t, err)
			assert.True(t, info.IsDeleted(), id)
		}
		for _, id := range []string{"sibling", "linked-target", "parent-1"} {
			info, err := f.db.FindPageInfo(context.Background(), id)
			assert.NoError(t, err)
			assert.False(t, info.IsDeleted(), id)
		}

		broadcasts := f.events()
		assert.Len(t, broadcasts, 1)
		assert.Len(t, broadcasts[0].Pages, 2)
	})

	t.Run("missing page surfaces the error to the initiator only test", func(t *testing.T) {
		f := newFixture(t, "user-del")

		f.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "nope"})

		assert.Len(t, f.conn.sent, 1)
		assert.Equal(t, events.Error, f.conn.sent[0].Type)
		assert.Empty(t, f.events())
	})

	t.Run("room path and store path converge test", func(t *testing.T) {
		live := newFixture(t, "user-del")
		createParentWithChild(t, live.db, "parent-1", "child-a")
		live.join(t, "sess-view", "user-2", "parent-1")
		live.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "child-a"})

		cold := newFixture(t, "user-del")
		createParentWithChild(t, cold.db, "parent-1", "child-a")
		cold.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "child-a"})

		liveParent, err := live.db.FindPageInfo(context.Background(), "parent-1")
		assert.NoError(t, err)
		coldParent, err := cold.db.FindPageInfo(context.Background(), "parent-1")
		assert.NoError(t, err)
		assert.Equal(t, outline(coldParent.Content), outline(liveParent.Content))
	})
}

// flagsResolver grants per-page flags; unlisted pages get none.
type flagsResolver map[string]permission.Flags

func (r flagsResolver) ComputePagePermissions(
	_ context.Context,
	pageID string,
	_ string,
) (permission.Flags, error) {
	return r[pageID], nil
}

func TestDeletePermissions(t *testing.T) {
	t.Run("edit permission alone allows delete test", func(t *testing.T) {
		f := newFixture(t, "user-del")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		f.handler.resolver = flagsResolver{
			"child-a": {EditContent: true},
		}

		f.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "child-a"})

		child, err := f.db.FindPageInfo(context.Background(), "child-a")
		assert.NoError(t, err)
		assert.True(t, child.IsDeleted())
		assert.Len(t, f.events(), 1)
	})

	t.Run("page without grants falls back to the parent test", func(t *testing.T) {
		f := newFixture(t, "user-del")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		f.handler.resolver = flagsResolver{
			"parent-1": {Delete: true},
		}

		f.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "child-a"})

		child, err := f.db.FindPageInfo(context.Background(), "child-a")
		assert.NoError(t, err)
		assert.True(t, child.IsDeleted())
		assert.Len(t, f.events(), 1)
	})

	t.Run("no grants on page or parent rejects delete test", func(t *testing.T) {
		f := newFixture(t, "user-del")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		f.handler.resolver = flagsResolver{}

		f.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "child-a"})

		child, err := f.db.FindPageInfo(context.Background(), "child-a")
		assert.NoError(t, err)
		assert.False(t, child.IsDeleted())
		assert.Len(t, f.conn.sent, 1)
		assert.Equal(t, events.Error, f.conn.sent[0].Type)
		assert.Empty(t, f.events())
	})

	t.Run("restore honors the parent fallback test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createParentWithChild(t, f.db, "parent-1", "child-a")

		f.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "child-a"})
		f.events()

		f.handler.resolver = flagsResolver{
			"parent-1": {EditContent: true},
		}
		f.send(t, types.MessagePageRestored, types.PageRestoredPayload{ID: "child-a"})

		child, err := f.db.FindPageInfo(context.Background(), "child-a")
		assert.NoError(t, err)
		assert.False(t, child.IsDeleted())
		assert.Len(t, f.events(), 1)
	})
}

func TestPageRestored(t *testing.T) {
	t.Run("restore clears the cascade and re-inserts at the end test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		createPage(t, f.db, "grandchild", "child-a", "Grandchild", nil)

		f.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "child-a"})
		f.send(t, types.MessagePageRestored, types.PageRestoredPayload{ID: "child-a"})

		for _, id := range []string{"child-a", "grandchild"} {
			info, err := f.db.FindPageInfo(context.Background(), id)
			assert.NoError(t, err)
			assert.False(t, info.IsDeleted(), id)
		}

		// the original position is not recoverable
		parent, err := f.db.FindPageInfo(context.Background(), "parent-1")
		assert.NoError(t, err)
		assert.Equal(t, []string{"1", "2", "ref:child-a"}, outline(parent.Content))

		broadcasts := f.events()
		assert.Len(t, broadcasts, 2)
		assert.Equal(t, events.PagesRestored, broadcasts[1].Type)
		assert.Nil(t, broadcasts[1].Pages[0].DeletedAt)
	})

	t.Run("restore revives independently archived descendants test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		createPage(t, f.db, "grandchild", "child-a", "Grandchild", nil)

		// grandchild was archived on its own, before the cascade
		f.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "grandchild"})
		f.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "child-a"})
		f.send(t, types.MessagePageRestored, types.PageRestoredPayload{ID: "child-a"})

		// restoring child-a also restores its archived descendants
		info, err := f.db.FindPageInfo(context.Background(), "grandchild")
		assert.NoError(t, err)
		assert.False(t, info.IsDeleted())
	})
}

func TestPageDuplicated(t *testing.T) {
	t.Run("duplicate lands immediately after its origin test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		createPage(t, f.db, "dup-1", "parent-1", "Child child-a (copy)", nil)

		f.join(t, "sess-view", "user-2", "parent-1")
		f.send(t, types.MessagePageDuplicated, types.PageDuplicatedPayload{PageID: "dup-1"})

		room, ok := f.registry.Room("parent-1")
		assert.True(t, ok)
		assert.Equal(t, []string{"1", "ref:child-a", "ref:dup-1", "2"}, outline(room.Doc()))

		broadcasts := f.events()
		assert.Len(t, broadcasts, 1)
		assert.Equal(t, events.PagesCreated, broadcasts[0].Type)
		assert.Equal(t, "dup-1", broadcasts[0].Pages[0].ID)
	})

	t.Run("unknown origin falls back to the end test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		createPage(t, f.db, "dup-1", "parent-1", "Renamed duplicate", nil)

		f.send(t, types.MessagePageDuplicated, types.PageDuplicatedPayload{PageID: "dup-1"})

		parent, err := f.db.FindPageInfo(context.Background(), "parent-1")
		assert.NoError(t, err)
		assert.Equal(t, []string{"1", "ref:child-a", "2", "ref:dup-1"}, outline(parent.Content))
	})
}

func TestPageCreated(t *testing.T) {
	t.Run("create persists the row and patches the parent test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createPage(t, f.db, "parent-1", "", "Parent", docOf(paragraph("1")))

		parentID := "parent-1"
		f.send(t, types.MessagePageCreated, types.PageCreatedPayload{
			ID:       "new-1",
			ParentID: &parentID,
			Path:     "path-new-1",
			Type:     "page",
			Title:    "New Page",
			SpaceID:  "space-1",
		})

		info, err := f.db.FindPageInfo(context.Background(), "new-1")
		assert.NoError(t, err)
		assert.Equal(t, "parent-1", info.ParentID)
		assert.Equal(t, "user-1", info.CreatedBy)

		parent, err := f.db.FindPageInfo(context.Background(), "parent-1")
		assert.NoError(t, err)
		assert.Equal(t, []string{"1", "ref:new-1"}, outline(parent.Content))

		broadcasts := f.events()
		assert.Len(t, broadcasts, 1)
		assert.Equal(t, events.PagesCreated, broadcasts[0].Type)
	})

	t.Run("create at root level skips the content edit test", func(t *testing.T) {
		f := newFixture(t, "user-1")

		f.send(t, types.MessagePageCreated, types.PageCreatedPayload{
			ID:      "root-1",
			Path:    "path-root-1",
			Type:    "page",
			SpaceID: "space-1",
		})

		info, err := f.db.FindPageInfo(context.Background(), "root-1")
		assert.NoError(t, err)
		assert.Equal(t, "", info.ParentID)
		assert.Len(t, f.events(), 1)
	})

	t.Run("create into an empty parent document still inserts test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createPage(t, f.db, "parent-1", "", "Parent", nil)

		parentID := "parent-1"
		f.send(t, types.MessagePageCreated, types.PageCreatedPayload{
			ID:       "new-1",
			ParentID: &parentID,
			Path:     "path-new-1",
			Type:     "page",
			SpaceID:  "space-1",
		})

		parent, err := f.db.FindPageInfo(context.Background(), "parent-1")
		assert.NoError(t, err)
		assert.Equal(t, []string{"ref:new-1"}, outline(parent.Content))
	})
}

func TestPageReordered(t *testing.T) {
	t.Run("sidebar move between two viewed parents test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		createPage(t, f.db, "parent-2", "", "Parent 2", docOf(paragraph("p2")))

		src := f.join(t, "sess-src", "user-2", "parent-1")
		dst := f.join(t, "sess-dst", "user-3", "parent-2")

		newParentID := "parent-2"
		f.send(t, types.MessagePageReorderedSidebarToSidebar, types.PageReorderedSidebarToSidebarPayload{
			PageID:      "child-a",
			NewParentID: &newParentID,
		})

		srcRoom, ok := f.registry.Room("parent-1")
		assert.True(t, ok)
		assert.Equal(t, []string{"1", "2"}, outline(srcRoom.Doc()))

		dstRoom, ok := f.registry.Room("parent-2")
		assert.True(t, ok)
		assert.Equal(t, []string{"p2", "ref:child-a"}, outline(dstRoom.Doc()))

		child, err := f.db.FindPageInfo(context.Background(), "child-a")
		assert.NoError(t, err)
		assert.Equal(t, "parent-2", child.ParentID)

		assert.Len(t, src.diffs(), 1)
		assert.Len(t, dst.diffs(), 1)

		broadcasts := f.events()
		assert.Len(t, broadcasts, 1)
		assert.Equal(t, events.PagesMetaUpdated, broadcasts[0].Type)
	})

	t.Run("move to root removes the node without inserting test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createParentWithChild(t, f.db, "parent-1", "child-a")

		f.send(t, types.MessagePageReorderedSidebarToSidebar, types.PageReorderedSidebarToSidebarPayload{
			PageID: "child-a",
		})

		child, err := f.db.FindPageInfo(context.Background(), "child-a")
		assert.NoError(t, err)
		assert.Equal(t, "", child.ParentID)

		parent, err := f.db.FindPageInfo(context.Background(), "parent-1")
		assert.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, outline(parent.Content))
	})

	t.Run("sidebar to editor honors the drop position test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		createPage(t, f.db, "parent-2", "", "Parent 2", docOf(paragraph("x"), paragraph("y")))

		dropPos := 1
		f.send(t, types.MessagePageReorderedSidebarToEditor, types.PageReorderedSidebarToEditorPayload{
			PageID:      "child-a",
			NewParentID: "parent-2",
			DropPos:     &dropPos,
		})

		parent2, err := f.db.FindPageInfo(context.Background(), "parent-2")
		assert.NoError(t, err)
		assert.Equal(t, []string{"x", "ref:child-a", "y"}, outline(parent2.Content))
	})

	t.Run("moving a page into its own subtree is rejected test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		createPage(t, f.db, "grandchild", "child-a", "Grandchild", nil)

		newParentID := "grandchild"
		f.send(t, types.MessagePageReorderedSidebarToSidebar, types.PageReorderedSidebarToSidebarPayload{
			PageID:      "child-a",
			NewParentID: &newParentID,
		})

		child, err := f.db.FindPageInfo(context.Background(), "child-a")
		assert.NoError(t, err)
		assert.Equal(t, "parent-1", child.ParentID)
		assert.Len(t, f.conn.sent, 1)
		assert.Equal(t, events.Error, f.conn.sent[0].Type)
		assert.Empty(t, f.events())
	})

	t.Run("editor move of a linked node keeps page ownership test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createPage(t, f.db, "target", "", "Target", nil)
		createPage(t, f.db, "parent-1", "", "Parent 1", docOf(
			paragraph("1"),
			pagetree.NewReference("target", "path-target", "page", true),
		))
		createPage(t, f.db, "parent-2", "", "Parent 2", docOf(paragraph("2")))

		payload := types.PageReorderedEditorToEditorPayload{
			PageID:          "target",
			NewParentID:     "parent-2",
			CurrentParentID: "parent-1",
			DragNodePos:     1,
		}
		payload.DraggedNode.Type = pagetree.TypeLinkedPage
		payload.DraggedNode.Attrs.ID = "target"
		f.send(t, types.MessagePageReorderedEditorToEditor, payload)

		parent1, err := f.db.FindPageInfo(context.Background(), "parent-1")
		assert.NoError(t, err)
		assert.Equal(t, []string{"1"}, outline(parent1.Content))

		parent2, err := f.db.FindPageInfo(context.Background(), "parent-2")
		assert.NoError(t, err)
		assert.Equal(t, []string{"2", "ref:target"}, outline(parent2.Content))
		assert.True(t, parent2.Content.Content[1].IsLinked())

		// ownership is unchanged for a linked move
		target, err := f.db.FindPageInfo(context.Background(), "target")
		assert.NoError(t, err)
		assert.Equal(t, "", target.ParentID)
		assert.Empty(t, f.events())
	})

	t.Run("editor move of a nested node updates ownership test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		createPage(t, f.db, "parent-2", "", "Parent 2", docOf(paragraph("2")))

		payload := types.PageReorderedEditorToEditorPayload{
			PageID:          "child-a",
			NewParentID:     "parent-2",
			CurrentParentID: "parent-1",
			DragNodePos:     1,
		}
		payload.DraggedNode.Type = pagetree.TypePage
		payload.DraggedNode.Attrs.ID = "child-a"
		f.send(t, types.MessagePageReorderedEditorToEditor, payload)

		child, err := f.db.FindPageInfo(context.Background(), "child-a")
		assert.NoError(t, err)
		assert.Equal(t, "parent-2", child.ParentID)

		broadcasts := f.events()
		assert.Len(t, broadcasts, 1)
		assert.Equal(t, events.PagesMetaUpdated, broadcasts[0].Type)
	})

	t.Run("linked move removes the dragged ordinal not the nested node test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createPage(t, f.db, "parent-src", "", "Source", docOf(
			pagetree.NewReference("child-a", "path-child-a", "page", false),
			pagetree.NewReference("child-a", "path-child-a", "page", true),
		))
		createPage(t, f.db, "child-a", "parent-src", "Child child-a", nil)
		createPage(t, f.db, "parent-dst", "", "Target", docOf(paragraph("x")))

		payload := types.PageReorderedEditorToEditorPayload{
			PageID:          "child-a",
			NewParentID:     "parent-dst",
			CurrentParentID: "parent-src",
			DragNodePos:     1,
		}
		payload.DraggedNode.Type = pagetree.TypeLinkedPage
		payload.DraggedNode.Attrs.ID = "child-a"
		f.send(t, types.MessagePageReorderedEditorToEditor, payload)

		src, err := f.db.FindPageInfo(context.Background(), "parent-src")
		assert.NoError(t, err)
		assert.Equal(t, []string{"ref:child-a"}, outline(src.Content))
		assert.False(t, src.Content.Content[0].IsLinked())

		child, err := f.db.FindPageInfo(context.Background(), "child-a")
		assert.NoError(t, err)
		assert.Equal(t, "parent-src", child.ParentID)

		dst, err := f.db.FindPageInfo(context.Background(), "parent-dst")
		assert.NoError(t, err)
		assert.Equal(t, []string{"x", "ref:child-a"}, outline(dst.Content))
		assert.True(t, dst.Content.Content[1].IsLinked())

		assert.Empty(t, f.events())
	})

	t.Run("stale drag ordinal falls back to the id search test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		createPage(t, f.db, "parent-2", "", "Parent 2", docOf(paragraph("2")))

		payload := types.PageReorderedEditorToEditorPayload{
			PageID:          "child-a",
			NewParentID:     "parent-2",
			CurrentParentID: "parent-1",
			DragNodePos:     7,
		}
		payload.DraggedNode.Type = pagetree.TypePage
		payload.DraggedNode.Attrs.ID = "child-a"
		f.send(t, types.MessagePageReorderedEditorToEditor, payload)

		src, err := f.db.FindPageInfo(context.Background(), "parent-1")
		assert.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, outline(src.Content))
	})

	t.Run("linked copy joins a document already referencing the page test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createPage(t, f.db, "parent-src", "", "Source", docOf(
			pagetree.NewReference("child-a", "path-child-a", "page", true),
		))
		createPage(t, f.db, "child-a", "", "Child child-a", nil)
		createPage(t, f.db, "parent-dst", "", "Target", docOf(
			pagetree.NewReference("child-a", "path-child-a", "page", false),
		))

		payload := types.PageReorderedEditorToEditorPayload{
			PageID:          "child-a",
			NewParentID:     "parent-dst",
			CurrentParentID: "parent-src",
			DragNodePos:     0,
		}
		payload.DraggedNode.Type = pagetree.TypeLinkedPage
		payload.DraggedNode.Attrs.ID = "child-a"
		f.send(t, types.MessagePageReorderedEditorToEditor, payload)

		dst, err := f.db.FindPageInfo(context.Background(), "parent-dst")
		assert.NoError(t, err)
		assert.Equal(t, []string{"ref:child-a", "ref:child-a"}, outline(dst.Content))
		assert.True(t, dst.Content.Content[1].IsLinked())
	})
}

func TestRoomVersionAdvances(t *testing.T) {
	t.Run("structural patches bump the room version test", func(t *testing.T) {
		f := newFixture(t, "user-1")
		createParentWithChild(t, f.db, "parent-1", "child-a")
		createPage(t, f.db, "dup-1", "parent-1", "Child child-a (copy)", nil)

		f.join(t, "sess-view", "user-2", "parent-1")
		room, ok := f.registry.Room("parent-1")
		assert.True(t, ok)
		before := room.Version()

		f.send(t, types.MessagePageDuplicated, types.PageDuplicatedPayload{PageID: "dup-1"})
		assert.Equal(t, before+1, room.Version())

		f.send(t, types.MessagePageDeleted, types.PageDeletedPayload{ID: "child-a"})
		assert.Equal(t, before+2, room.Version())
	})
}
