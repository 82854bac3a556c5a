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

// Package spaces provides the page-tree protocol handler. It receives
// structural client messages, mutates the correct content
// representation, updates the authoritative parent pointer and drives
// the space broadcaster.
package spaces

import (
	"context"
	"strings"
	"time"

	"github.com/canopyhq/canopy/api/types"
	"github.com/canopyhq/canopy/api/types/events"
	"github.com/canopyhq/canopy/pkg/errors"
	"github.com/canopyhq/canopy/pkg/pagetree"
	"github.com/canopyhq/canopy/server/backend/database"
	"github.com/canopyhq/canopy/server/backend/pubsub"
	"github.com/canopyhq/canopy/server/documents"
	"github.com/canopyhq/canopy/server/logging"
	"github.com/canopyhq/canopy/server/permission"
	"github.com/canopyhq/canopy/server/profiling/prometheus"
)

// ErrPageCycle is returned when a move would place a page inside its
// own subtree.
var ErrPageCycle = errors.FailedPrecond("page cannot be moved inside its own subtree").WithCode("ErrPageCycle")

// duplicateTitleSuffix is the title convention duplicates are created
// with; it anchors the duplicate's reference node next to its origin.
const duplicateTitleSuffix = " (copy)"

// Connection is the emit capability of one space-subscribed connection.
// Errors are surfaced in band to the initiating connection only.
type Connection interface {
	ID() string
	Emit(event events.SpaceEvent) error
}

// contentMutation computes the steps of a structural content edit
// against the current state of a document tree. It reports false when
// there is nothing to do.
type contentMutation func(doc *pagetree.Node) ([]pagetree.Step, bool)

// Handler processes the structural page-tree messages of one
// connection. It holds no tree state of its own; userID and spaceID are
// bound per connection. All methods must be invoked from the dispatch
// loop.
type Handler struct {
	conn        Connection
	db          database.Database
	registry    *documents.Registry
	broadcaster *pubsub.PubSub
	resolver    permission.Resolver

	userID  string
	spaceID string

	metrics *prometheus.Metrics
	logger  logging.Logger
}

// NewHandler creates a Handler bound to the given connection, user and
// space.
func NewHandler(
	conn Connection,
	userID string,
	spaceID string,
	db database.Database,
	registry *documents.Registry,
	broadcaster *pubsub.PubSub,
	resolver permission.Resolver,
) *Handler {
	return &Handler{
		conn:        conn,
		db:          db,
		registry:    registry,
		broadcaster: broadcaster,
		resolver:    resolver,
		userID:      userID,
		spaceID:     spaceID,
		logger:      logging.New("spaces"),
	}
}

// SetMetrics attaches a metrics exporter to this handler.
func (h *Handler) SetMetrics(metrics *prometheus.Metrics) {
	h.metrics = metrics
}

// HandleMessage processes one structural message from the client.
// Failures are reported in band to the initiating connection; no
// broadcast is sent for a failed operation.
func (h *Handler) HandleMessage(ctx context.Context, msg *types.ClientMessage) error {
	if h.metrics != nil {
		h.metrics.AddStructuralEvents(msg.Type, 1)
	}

	var err error

	switch msg.Type {
	case types.MessagePageCreated:
		payload := types.PageCreatedPayload{}
		if err = types.UnmarshalPayload(msg.Payload, &payload); err == nil {
			err = h.pageCreated(ctx, payload)
		}
	case types.MessagePageDeleted:
		payload := types.PageDeletedPayload{}
		if err = types.UnmarshalPayload(msg.Payload, &payload); err == nil {
			err = h.pageDeleted(ctx, payload)
		}
	case types.MessagePageRestored:
		payload := types.PageRestoredPayload{}
		if err = types.UnmarshalPayload(msg.Payload, &payload); err == nil {
			err = h.pageRestored(ctx, payload)
		}
	case types.MessagePageDuplicated:
		payload := types.PageDuplicatedPayload{}
		if err = types.UnmarshalPayload(msg.Payload, &payload); err == nil {
			err = h.pageDuplicated(ctx, payload)
		}
	case types.MessagePageReorderedSidebarToSidebar:
		payload := types.PageReorderedSidebarToSidebarPayload{}
		if err = types.UnmarshalPayload(msg.Payload, &payload); err == nil {
			err = h.pageReorderedSidebarToSidebar(ctx, payload)
		}
	case types.MessagePageReorderedSidebarToEditor:
		payload := types.PageReorderedSidebarToEditorPayload{}
		if err = types.UnmarshalPayload(msg.Payload, &payload); err == nil {
			err = h.pageReorderedSidebarToEditor(ctx, payload)
		}
	case types.MessagePageReorderedEditorToEditor:
		payload := types.PageReorderedEditorToEditorPayload{}
		if err = types.UnmarshalPayload(msg.Payload, &payload); err == nil {
			err = h.pageReorderedEditorToEditor(ctx, payload)
		}
	default:
		h.logger.Debugf("unhandled space message type: %s", msg.Type)
		return nil
	}

	if err != nil {
		h.logger.Errorf("handle %s; userId: %s: %v", msg.Type, h.userID, err)
		h.sendError(errorMessageOf(msg.Type))
	}
	return nil
}

// pageCreated persists the new page row and places its reference node
// at the end of the parent's content.
func (h *Handler) pageCreated(ctx context.Context, payload types.PageCreatedPayload) error {
	parentID := ""
	if payload.ParentID != nil {
		parentID = *payload.ParentID
	}

	hasContent := len(payload.ContentText) > 0
	info, err := h.db.CreatePageInfo(ctx, &database.PageInfo{
		ID:          payload.ID,
		SpaceID:     h.spaceID,
		ParentID:    parentID,
		Type:        payload.Type,
		Path:        payload.Path,
		Title:       payload.Title,
		BoardID:     payload.BoardID,
		Content:     payload.Content,
		ContentText: payload.ContentText,
		HasContent:  hasContent,
		CreatedBy:   h.userID,
		UpdatedBy:   h.userID,
	})
	if err != nil {
		return err
	}

	if parentID != "" {
		ref := pagetree.NewReference(payload.ID, payload.Path, payload.Type, false)
		if err := h.patchContent(
			ctx,
			parentID,
			types.MessagePageCreated,
			insertMutation(ref, pagetree.AtEnd()),
		); err != nil {
			h.logger.Warnf("patch content of %s: %v", parentID, err)
		}
	}

	h.broadcast(ctx, events.SpaceEvent{
		Type:  events.PagesCreated,
		Pages: []events.PageMeta{info.Meta()},
	})
	return nil
}

// pageDeleted archives the page and every descendant reachable through
// the authoritative parent pointer, then removes the page's reference
// node from its parent's content.
func (h *Handler) pageDeleted(ctx context.Context, payload types.PageDeletedPayload) error {
	page, err := h.db.FindPageInfo(ctx, payload.ID)
	if err != nil {
		return err
	}

	ok, err := h.canDeletePage(ctx, page)
	if err != nil {
		return err
	}
	if !ok {
		return errors.PermissionDenied("no delete permission on page " + page.ID)
	}

	descendants, err := h.collectDescendants(ctx, page.ID, false)
	if err != nil {
		return err
	}

	pages := append([]*database.PageInfo{page}, descendants...)
	ids := make([]string, 0, len(pages))
	for _, p := range pages {
		ids = append(ids, p.ID)
	}

	now := time.Now()
	if err := h.db.UpdatePageInfos(ctx, ids, &database.UpdatePageFields{
		DeletedAt: &now,
		UpdatedBy: &h.userID,
	}); err != nil {
		return err
	}

	if page.ParentID != "" {
		if err := h.patchContent(
			ctx,
			page.ParentID,
			types.MessagePageDeleted,
			removeMutation(page.ID),
		); err != nil {
			h.logger.Warnf("patch content of %s: %v", page.ParentID, err)
		}
	}

	metas := make([]events.PageMeta, 0, len(pages))
	for _, p := range pages {
		meta := p.Meta()
		meta.DeletedAt = &now
		metas = append(metas, meta)
	}
	h.broadcast(ctx, events.SpaceEvent{Type: events.PagesDeleted, Pages: metas})
	return nil
}

// pageRestored clears the archive flag on the page and its archived
// descendants, then re-inserts the reference node at the end of the
// parent's content. The original position is not recoverable.
func (h *Handler) pageRestored(ctx context.Context, payload types.PageRestoredPayload) error {
	page, err := h.db.FindPageInfo(ctx, payload.ID)
	if err != nil {
		return err
	}

	ok, err := h.canDeletePage(ctx, page)
	if err != nil {
		return err
	}
	if !ok {
		return errors.PermissionDenied("no delete permission on page " + page.ID)
	}

	descendants, err := h.collectDescendants(ctx, page.ID, true)
	if err != nil {
		return err
	}

	pages := append([]*database.PageInfo{page}, descendants...)
	ids := make([]string, 0, len(pages))
	for _, p := range pages {
		ids = append(ids, p.ID)
	}

	if err := h.db.UpdatePageInfos(ctx, ids, &database.UpdatePageFields{
		ClearDeletedAt: true,
		UpdatedBy:      &h.userID,
	}); err != nil {
		return err
	}

	if page.ParentID != "" {
		ref := pagetree.NewReference(page.ID, page.Path, page.Type, false)
		if err := h.patchContent(
			ctx,
			page.ParentID,
			types.MessagePageRestored,
			insertMutation(ref, pagetree.AtEnd()),
		); err != nil {
			h.logger.Warnf("patch content of %s: %v", page.ParentID, err)
		}
	}

	metas := make([]events.PageMeta, 0, len(pages))
	for _, p := range pages {
		meta := p.Meta()
		meta.DeletedAt = nil
		metas = append(metas, meta)
	}
	h.broadcast(ctx, events.SpaceEvent{Type: events.PagesRestored, Pages: metas})
	return nil
}

// pageDuplicated places the already-persisted duplicate's reference
// node immediately after the original's when the original can be
// determined, else at the end of the parent's content.
func (h *Handler) pageDuplicated(ctx context.Context, payload types.PageDuplicatedPayload) error {
	page, err := h.db.FindPageInfo(ctx, payload.PageID)
	if err != nil {
		return err
	}

	if page.ParentID != "" {
		anchor := pagetree.AtEnd()
		if originID, err := h.findDuplicateOrigin(ctx, page); err != nil {
			h.logger.Warnf("find origin of %s: %v", page.ID, err)
		} else if originID != "" {
			anchor = pagetree.After(originID)
		}

		ref := pagetree.NewReference(page.ID, page.Path, page.Type, false)
		if err := h.patchContent(
			ctx,
			page.ParentID,
			types.MessagePageDuplicated,
			insertMutation(ref, anchor),
		); err != nil {
			h.logger.Warnf("patch content of %s: %v", page.ParentID, err)
		}
	}

	h.broadcast(ctx, events.SpaceEvent{
		Type:  events.PagesCreated,
		Pages: []events.PageMeta{page.Meta()},
	})
	return nil
}

// findDuplicateOrigin resolves the sibling the duplicate was copied
// from through the duplicate title convention. An empty id means the
// origin could not be determined.
func (h *Handler) findDuplicateOrigin(
	ctx context.Context,
	page *database.PageInfo,
) (string, error) {
	originTitle := strings.TrimSuffix(page.Title, duplicateTitleSuffix)
	if originTitle == page.Title {
		return "", nil
	}

	siblings, err := h.db.FindPageInfosByParent(ctx, page.ParentID)
	if err != nil {
		return "", err
	}
	for _, sibling := range siblings {
		if sibling.ID != page.ID && !sibling.IsDeleted() && sibling.Title == originTitle {
			return sibling.ID, nil
		}
	}
	return "", nil
}

// pageReorderedSidebarToSidebar moves a page between parents from the
// tree-navigation UI. The reference node is removed from the old
// parent's content and appended to the new parent's.
func (h *Handler) pageReorderedSidebarToSidebar(
	ctx context.Context,
	payload types.PageReorderedSidebarToSidebarPayload,
) error {
	newParentID := ""
	if payload.NewParentID != nil {
		newParentID = *payload.NewParentID
	}
	return h.movePage(ctx, types.MessagePageReorderedSidebarToSidebar, payload.PageID, newParentID, pagetree.AtEnd())
}

// pageReorderedSidebarToEditor moves a page onto a specific spot inside
// an open editor. A missing drop position appends at the end.
func (h *Handler) pageReorderedSidebarToEditor(
	ctx context.Context,
	payload types.PageReorderedSidebarToEditorPayload,
) error {
	anchor := pagetree.AtEnd()
	if payload.DropPos != nil {
		anchor = pagetree.AtIndex(*payload.DropPos)
	}
	return h.movePage(ctx, types.MessagePageReorderedSidebarToEditor, payload.PageID, payload.NewParentID, anchor)
}

// movePage is the shared nested-move path: the parent pointer update is
// the durability boundary, content patches on both sides are best
// effort.
func (h *Handler) movePage(
	ctx context.Context,
	event string,
	pageID string,
	newParentID string,
	at pagetree.Anchor,
) error {
	page, err := h.db.FindPageInfo(ctx, pageID)
	if err != nil {
		return err
	}

	perms, err := h.resolver.ComputePagePermissions(ctx, page.ID, h.userID)
	if err != nil {
		return err
	}
	if !perms.EditContent {
		return errors.PermissionDenied("no edit permission on page " + page.ID)
	}

	if page.ParentID == newParentID {
		return nil
	}
	if err := h.ensureNoCycle(ctx, page.ID, newParentID); err != nil {
		return err
	}

	updated, err := h.db.UpdatePageInfo(ctx, page.ID, &database.UpdatePageFields{
		ParentID:  &newParentID,
		UpdatedBy: &h.userID,
	})
	if err != nil {
		return err
	}

	// root level has no content tree, skip the corresponding edit
	if page.ParentID != "" {
		if err := h.patchContent(ctx, page.ParentID, event, removeMutation(page.ID)); err != nil {
			h.logger.Warnf("patch content of %s: %v", page.ParentID, err)
		}
	}
	if newParentID != "" {
		ref := pagetree.NewReference(page.ID, page.Path, page.Type, false)
		if err := h.patchContent(ctx, newParentID, event, insertMutation(ref, at)); err != nil {
			h.logger.Warnf("patch content of %s: %v", newParentID, err)
		}
	}

	h.broadcast(ctx, events.SpaceEvent{
		Type:  events.PagesMetaUpdated,
		Pages: []events.PageMeta{updated.Meta()},
	})
	return nil
}

// pageReorderedEditorToEditor moves a reference node between two live
// document bodies, preserving its nested-vs-linked kind. Only a nested
// move changes page ownership.
func (h *Handler) pageReorderedEditorToEditor(
	ctx context.Context,
	payload types.PageReorderedEditorToEditorPayload,
) error {
	page, err := h.db.FindPageInfo(ctx, payload.PageID)
	if err != nil {
		return err
	}

	perms, err := h.resolver.ComputePagePermissions(ctx, page.ID, h.userID)
	if err != nil {
		return err
	}
	if !perms.EditContent {
		return errors.PermissionDenied("no edit permission on page " + page.ID)
	}

	linked := payload.DraggedNode.Type == pagetree.TypeLinkedPage

	var updated *database.PageInfo
	if !linked {
		if err := h.ensureNoCycle(ctx, page.ID, payload.NewParentID); err != nil {
			return err
		}
		updated, err = h.db.UpdatePageInfo(ctx, page.ID, &database.UpdatePageFields{
			ParentID:  &payload.NewParentID,
			UpdatedBy: &h.userID,
		})
		if err != nil {
			return err
		}
	}

	event := types.MessagePageReorderedEditorToEditor
	if err := h.patchContent(
		ctx,
		payload.CurrentParentID,
		event,
		removeMutationAt(page.ID, payload.DragNodePos),
	); err != nil {
		h.logger.Warnf("patch content of %s: %v", payload.CurrentParentID, err)
	}

	ref := pagetree.NewReference(page.ID, page.Path, page.Type, linked)
	if err := h.patchContent(ctx, payload.NewParentID, event, insertMutation(ref, pagetree.AtEnd())); err != nil {
		h.logger.Warnf("patch content of %s: %v", payload.NewParentID, err)
	}

	if updated != nil {
		h.broadcast(ctx, events.SpaceEvent{
			Type:  events.PagesMetaUpdated,
			Pages: []events.PageMeta{updated.Meta()},
		})
	}
	return nil
}

// patchContent applies a structural content edit to the given document.
// When the document has a live room the edit goes through a
// participant's external-patch path so the room's version advances and
// its editors are notified; otherwise the persisted content is patched
// directly. A room torn down between the check and the patch redirects
// to the store path.
func (h *Handler) patchContent(
	ctx context.Context,
	pageID string,
	event string,
	mutate contentMutation,
) error {
	if room, ok := h.registry.Room(pageID); ok && len(room.Participants()) > 0 {
		steps, ok := mutate(room.Doc())
		if !ok {
			return nil
		}

		applier := room.ParticipantByUser(h.userID)
		skipSelf := applier != nil
		if applier == nil {
			applier = room.Participants()[0]
		}

		err := applier.ReceiveExternalPatch(ctx, steps, event, skipSelf)
		if err == nil {
			return nil
		}
		if !errors.Is(err, documents.ErrRoomClosed) {
			return err
		}
	}

	info, err := h.db.FindPageInfo(ctx, pageID)
	if err != nil {
		return err
	}

	steps, ok := mutate(info.Content)
	if !ok {
		return nil
	}
	updatedDoc, err := pagetree.ApplySteps(info.Content, steps)
	if err != nil {
		return err
	}

	text := updatedDoc.PlainText()
	hasContent := len(text) > 0
	_, err = h.db.UpdatePageInfo(ctx, pageID, &database.UpdatePageFields{
		Content:     updatedDoc,
		ContentText: &text,
		HasContent:  &hasContent,
		UpdatedBy:   &h.userID,
	})
	return err
}

// canDeletePage reports whether the user may archive or restore the
// page. Editing rights count as delete rights here, and a page without
// grants of its own falls back to the parent page's permissions.
func (h *Handler) canDeletePage(ctx context.Context, page *database.PageInfo) (bool, error) {
	perms, err := h.resolver.ComputePagePermissions(ctx, page.ID, h.userID)
	if err != nil {
		return false, err
	}
	if perms.EditContent || perms.Delete {
		return true, nil
	}
	if page.ParentID == "" {
		return false, nil
	}

	perms, err = h.resolver.ComputePagePermissions(ctx, page.ParentID, h.userID)
	if err != nil {
		return false, err
	}
	return perms.EditContent || perms.Delete, nil
}

// collectDescendants returns every page reachable from the given page
// through the authoritative parent pointer, breadth first. archivedOnly
// restricts the walk to currently archived pages.
func (h *Handler) collectDescendants(
	ctx context.Context,
	pageID string,
	archivedOnly bool,
) ([]*database.PageInfo, error) {
	var out []*database.PageInfo

	queue := []string{pageID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		children, err := h.db.FindPageInfosByParent(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if archivedOnly && !child.IsDeleted() {
				continue
			}
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}

	return out, nil
}

// ensureNoCycle rejects a move that would place the page inside its own
// subtree by walking the parent chain up from the new parent.
func (h *Handler) ensureNoCycle(ctx context.Context, pageID, newParentID string) error {
	cur := newParentID
	for cur != "" {
		if cur == pageID {
			return ErrPageCycle
		}
		parent, err := h.db.FindPageInfo(ctx, cur)
		if err != nil {
			return err
		}
		cur = parent.ParentID
	}
	return nil
}

func (h *Handler) broadcast(ctx context.Context, event events.SpaceEvent) {
	event.Publisher = h.userID
	h.broadcaster.Publish(ctx, h.spaceID, event)
	if h.metrics != nil {
		h.metrics.AddBroadcasts(string(event.Type), 1)
	}
}

func (h *Handler) sendError(message string) {
	if err := h.conn.Emit(events.SpaceEvent{Type: events.Error, Message: message}); err != nil {
		h.logger.Errorf("emit error: %v", err)
	}
}

func errorMessageOf(msgType string) string {
	switch msgType {
	case types.MessagePageCreated:
		return "There was an error creating the page. Please try again later."
	case types.MessagePageDeleted:
		return "There was an error deleting the page. Please try again later."
	case types.MessagePageRestored:
		return "There was an error restoring the page. Please try again later."
	case types.MessagePageDuplicated:
		return "There was an error duplicating the page. Please try again later."
	default:
		return "There was an error moving the page. Please try again later."
	}
}

// insertMutation inserts the reference node at the anchor. A nested
// reference is unique per document and is not inserted twice; linked
// references may repeat.
func insertMutation(ref *pagetree.Node, at pagetree.Anchor) contentMutation {
	return func(doc *pagetree.Node) ([]pagetree.Step, bool) {
		if !ref.IsLinked() && pagetree.FindPageReference(doc, ref.ReferenceID()) != nil {
			return nil, false
		}
		_, step := pagetree.InsertReference(doc, ref, at)
		return []pagetree.Step{step}, true
	}
}

// removeMutation excises the reference node of the given page. A
// missing node means there is nothing to do; hierarchy correctness
// outranks node placement.
func removeMutation(pageID string) contentMutation {
	return func(doc *pagetree.Node) ([]pagetree.Step, bool) {
		_, step, found := pagetree.RemoveReference(doc, pageID)
		if !found {
			return nil, false
		}
		return []pagetree.Step{step}, true
	}
}

// removeMutationAt excises the reference node at the client-supplied
// ordinal when it still points at the dragged page, falling back to an
// id search when the ordinal is stale. Linked references are not
// unique, so the ordinal is what picks the dragged one.
func removeMutationAt(pageID string, index int) contentMutation {
	return func(doc *pagetree.Node) ([]pagetree.Step, bool) {
		if pagetree.ReferenceAt(doc, index, pageID) {
			return []pagetree.Step{pagetree.RemoveStepAt(index)}, true
		}
		return removeMutation(pageID)(doc)
	}
}
