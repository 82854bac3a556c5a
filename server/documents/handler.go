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

package documents

import (
	"context"
	"encoding/json"
	gotime "time"

	"github.com/canopyhq/canopy/api/types"
	"github.com/canopyhq/canopy/pkg/errors"
	"github.com/canopyhq/canopy/pkg/pagetree"
	"github.com/canopyhq/canopy/server/backend/database"
	"github.com/canopyhq/canopy/server/logging"
	"github.com/canopyhq/canopy/server/permission"
	"github.com/canopyhq/canopy/server/profiling/prometheus"
)

var (
	// ErrRoomClosed is returned when a structural patch targets a room
	// that was concurrently torn down. Callers redirect the patch to the
	// persisted-store path.
	ErrRoomClosed = errors.FailedPrecond("document room closed").WithCode("ErrRoomClosed")
)

// defaultSaveInterval is how many applied mutations may accumulate
// before the room is flushed to the page store.
const defaultSaveInterval = 1

// lastMessageCount is how many sent frames are kept for resending.
const lastMessageCount = 10

// Connection is the emit capability of one participant connection.
type Connection interface {
	// ID identifies the session; one user may hold several.
	ID() string

	// Emit delivers a frame to this connection only.
	Emit(msg *types.DocServerMessage) error
}

// Handler is one participant's editing session bound to a document
// room. It applies incremental diffs to the room's tree and accepts
// out-of-band structural patches from the space protocol. All methods
// must be invoked from the dispatch loop.
type Handler struct {
	conn     Connection
	registry *Registry
	db       database.Database
	resolver permission.Resolver

	userID      string
	userName    string
	documentID  string
	permissions permission.Flags

	saveInterval int64

	serverSeq int
	clientSeq int
	lastSent  []*types.DocServerMessage

	metrics *prometheus.Metrics
	logger  logging.Logger
}

// NewHandler creates a Handler for the given connection and sends the
// welcome frame.
func NewHandler(
	conn Connection,
	userID string,
	userName string,
	registry *Registry,
	db database.Database,
	resolver permission.Resolver,
) *Handler {
	h := &Handler{
		conn:         conn,
		registry:     registry,
		db:           db,
		resolver:     resolver,
		userID:       userID,
		userName:     userName,
		saveInterval: defaultSaveInterval,
		logger:       logging.New("documents"),
	}

	h.sendMessage(&types.DocServerMessage{Type: types.DocMessageWelcome})
	return h
}

// SetMetrics attaches a metrics exporter to this session.
func (h *Handler) SetMetrics(metrics *prometheus.Metrics) {
	h.metrics = metrics
}

// SetSaveInterval overrides the flush boundary of this session.
func (h *Handler) SetSaveInterval(interval int64) {
	if interval > 0 {
		h.saveInterval = interval
	}
}

// UserID returns the id of the user bound to this session.
func (h *Handler) UserID() string {
	return h.userID
}

// SessionID returns the id of the underlying connection.
func (h *Handler) SessionID() string {
	return h.conn.ID()
}

// DocumentID returns the id of the document this session edits.
func (h *Handler) DocumentID() string {
	return h.documentID
}

// HandleMessage processes one frame from the client. Out-of-order
// frames are resolved through the sequence counters before any payload
// is applied.
func (h *Handler) HandleMessage(ctx context.Context, msg *types.DocClientMessage) error {
	if msg.Type == types.DocMessageRequestResend {
		resend := types.RequestResendPayload{}
		if err := json.Unmarshal(msg.Payload, &resend); err != nil {
			h.sendError("Received invalid message")
			return nil
		}
		h.resendMessages(ctx, resend.From)
		return nil
	}

	switch {
	case msg.C < h.clientSeq+1:
		// already received at least once, ignore
		return nil
	case msg.C > h.clientSeq+1:
		h.sendMessage(&types.DocServerMessage{
			Type:    types.DocMessageRequestResend,
			Payload: types.RequestResendPayload{From: h.clientSeq},
		})
		return nil
	case msg.S < h.serverSeq:
		// the client missed frames from the server; resend them and
		// reject the client's concurrent diff
		h.clientSeq++
		h.resendMessages(ctx, msg.S)
		h.rejectMessage(msg)
		return nil
	}

	h.clientSeq++
	return h.handleMessage(ctx, msg)
}

func (h *Handler) handleMessage(ctx context.Context, msg *types.DocClientMessage) error {
	if msg.Type == types.DocMessageSubscribe {
		subscribe := types.SubscribeDocPayload{}
		if err := types.UnmarshalPayload(msg.Payload, &subscribe); err != nil {
			h.sendError("Received invalid message")
			return nil
		}
		return h.subscribe(ctx, subscribe.PageID, subscribe.Connection)
	}

	if h.documentID == "" {
		h.logger.Warnf("ignore %s message, session has no document; userId: %s", msg.Type, h.userID)
		return nil
	}

	if _, ok := h.registry.Room(h.documentID); !ok {
		h.logger.Debugf("ignore %s message from closed document %s", msg.Type, h.documentID)
		return nil
	}

	switch msg.Type {
	case types.DocMessageGetDocument:
		h.sendDocument(ctx, nil)
	case types.DocMessageCheckVersion:
		check := types.CheckVersionPayload{}
		if err := json.Unmarshal(msg.Payload, &check); err != nil {
			h.sendError("Received invalid message")
			return nil
		}
		h.checkVersion(ctx, check.Version)
	case types.DocMessageDiff:
		if !h.permissions.EditContent {
			return nil
		}
		diff := types.DiffPayload{}
		if err := json.Unmarshal(msg.Payload, &diff); err != nil {
			h.sendError("Received invalid message")
			return nil
		}
		return h.handleDiff(ctx, diff)
	default:
		h.logger.Debugf("unhandled document message type: %s", msg.Type)
	}

	return nil
}

// subscribe joins this session to the document's room, creating the
// room from the persisted row when it is the first participant.
func (h *Handler) subscribe(ctx context.Context, pageID string, connection int) error {
	perms, err := h.resolver.ComputePagePermissions(ctx, pageID, h.userID)
	if err != nil {
		h.logger.Errorf("compute permissions of %s: %v", pageID, err)
		h.sendError("There was an error loading the page. Please try again later.")
		return nil
	}

	if !perms.EditContent {
		h.sendError("You do not have permission to edit this page")
		return nil
	}

	h.documentID = pageID
	h.permissions = perms

	room, ok := h.registry.Room(pageID)
	if ok && len(room.participants) > 0 {
		h.logger.Debugf("join existing document room %s; userId: %s", pageID, h.userID)
	} else {
		h.logger.Debugf("open new document room %s; userId: %s", pageID, h.userID)
		info, err := h.db.FindPageInfo(ctx, pageID)
		if err != nil {
			h.logger.Errorf("find page of %s: %v", pageID, err)
			h.sendError("There was an error loading the page. Please try again later.")
			return nil
		}
		room = h.registry.GetOrCreate(info)
	}
	room.participants[h.conn.ID()] = h

	h.sendMessage(&types.DocServerMessage{Type: types.DocMessageSubscribed})
	if connection < 1 {
		h.sendDocument(ctx, nil)
	}
	h.sendParticipantList(room)
	return nil
}

// handleDiff applies one incremental edit from the client against the
// room's current version.
func (h *Handler) handleDiff(ctx context.Context, diff types.DiffPayload) error {
	room, ok := h.registry.Room(h.documentID)
	if !ok {
		return ErrRoomClosed
	}

	clientVersion, roomVersion := diff.Version, room.version
	switch {
	case clientVersion == roomVersion:
		updated, err := pagetree.ApplySteps(room.doc, diff.Steps)
		if err != nil {
			h.logger.Warnf("unapplicable diff on %s: %v", room.id, err)
			patchError := &types.DocServerMessage{Type: types.DocMessagePatchError}
			h.sendMessage(patchError)
			// reset collaboration to avoid data loss for the others
			h.resetCollaboration(ctx, room)
			return nil
		}

		room.applyDiff(updated, diff)
		if h.metrics != nil {
			h.metrics.AddAppliedDiffs(1)
		}
		h.maybeSave(ctx, room)
		h.confirmDiff(diff.RequestID)
		h.sendUpdates(room, types.DocMessageDiff, diff)
		return nil

	case clientVersion < roomVersion:
		if clientVersion+int64(len(room.diffs)) >= roomVersion {
			h.logger.Debugf("client of %s is behind, resend diffs", room.id)
			missing := room.diffs[len(room.diffs)-int(roomVersion-clientVersion):]
			for _, m := range missing {
				m.ServerFix = true
				h.sendMessage(&types.DocServerMessage{Type: types.DocMessageDiff, Payload: m})
			}
		} else {
			h.logger.Debugf("client of %s is too far behind, resend document", room.id)
			h.unfixable(ctx)
		}
		return nil

	default:
		h.logger.Debugf("ignore diff with version higher than room %s", room.id)
		return nil
	}
}

// ReceiveExternalPatch rewrites this session's room tree out of band
// when a structural event touches the document it represents. The room
// reference is re-fetched here; when the room was torn down in the
// meantime, ErrRoomClosed tells the caller to use the persisted-store
// path instead. skipSelf suppresses the emit to this session's own
// connection when it belongs to the user who initiated the structural
// operation.
func (h *Handler) ReceiveExternalPatch(
	ctx context.Context,
	steps []pagetree.Step,
	event string,
	skipSelf bool,
) error {
	room, ok := h.registry.Room(h.documentID)
	if !ok {
		return ErrRoomClosed
	}

	updated, err := pagetree.ApplySteps(room.doc, steps)
	if err != nil {
		return err
	}

	diff := types.DiffPayload{
		Version:   room.version,
		Steps:     steps,
		Event:     event,
		ServerFix: true,
	}
	room.applyDiff(updated, diff)
	if h.metrics != nil {
		h.metrics.AddExternalPatches(event, 1)
	}
	h.maybeSave(ctx, room)

	h.sendUpdates(room, types.DocMessageDiff, diff)
	if !skipSelf {
		h.sendMessage(&types.DocServerMessage{Type: types.DocMessageDiff, Payload: diff})
	}
	return nil
}

// checkVersion compares the client's document version with the room's
// and resends whatever the client is missing.
func (h *Handler) checkVersion(ctx context.Context, clientVersion int64) {
	room, ok := h.registry.Room(h.documentID)
	if !ok {
		return
	}

	roomVersion := room.version
	switch {
	case clientVersion == roomVersion:
		h.sendMessage(&types.DocServerMessage{
			Type:    types.DocMessageConfirmVersion,
			Payload: types.ConfirmVersionPayload{Version: clientVersion},
		})
	case clientVersion+int64(len(room.diffs)) >= roomVersion:
		missing := room.diffs[len(room.diffs)-int(roomVersion-clientVersion):]
		h.sendDocument(ctx, missing)
	default:
		h.unfixable(ctx)
	}
}

// unfixable resends the full document when incremental recovery is not
// possible.
func (h *Handler) unfixable(ctx context.Context) {
	h.sendDocument(ctx, nil)
}

// resendMessages resends the frames the client reports missing.
func (h *Handler) resendMessages(ctx context.Context, from int) {
	toSend := h.serverSeq - from
	if toSend <= 0 {
		h.logger.Debugf("nothing to resend to %s from %d", h.conn.ID(), from)
		return
	}
	if toSend > len(h.lastSent) {
		h.logger.Debugf("too many messages to resend to %s, send full document", h.conn.ID())
		h.unfixable(ctx)
		return
	}

	for _, msg := range h.lastSent[len(h.lastSent)-toSend:] {
		if err := h.conn.Emit(msg); err != nil {
			h.logger.Errorf("resend message: %v", err)
		}
	}
}

// sendDocument pushes the full document to this connection, optionally
// with catch-up diffs. The live room is authoritative when present.
func (h *Handler) sendDocument(ctx context.Context, missing []types.DiffPayload) {
	payload := types.DocDataPayload{Time: gotime.Now().UnixMilli()}
	payload.DocInfo.SessionID = h.conn.ID()

	if room, ok := h.registry.Room(h.documentID); ok {
		payload.Doc.Content = room.doc
		payload.Doc.Version = room.version
		payload.DocInfo.ID = room.id
		payload.DocInfo.Version = room.version
		payload.DocInfo.Updated = gotime.Now()
	} else {
		info, err := h.db.FindPageInfo(ctx, h.documentID)
		if err != nil {
			h.logger.Errorf("find page of %s: %v", h.documentID, err)
			h.sendError("There was an error loading the page. Please try again later.")
			return
		}
		content := info.Content
		if content == nil {
			content = pagetree.NewDocument()
		}
		payload.Doc.Content = content
		payload.Doc.Version = info.Version
		payload.DocInfo.ID = info.ID
		payload.DocInfo.Version = info.Version
		payload.DocInfo.Updated = info.UpdatedAt
	}
	payload.Messages = missing

	h.sendMessage(&types.DocServerMessage{Type: types.DocMessageDocData, Payload: payload})
}

// OnDisconnect removes this session from its room. The room persists
// for the other participants; the last leave discards it.
func (h *Handler) OnDisconnect() {
	if h.documentID == "" {
		return
	}

	room, ok := h.registry.Room(h.documentID)
	if !ok {
		return
	}

	h.registry.RemoveParticipant(h.documentID, h.conn.ID())
	if len(room.participants) > 0 {
		h.sendParticipantList(room)
	}
}

// maybeSave flushes the room on a save boundary. A failed flush keeps
// the in-memory room intact; the next boundary retries and no diff is
// dropped.
func (h *Handler) maybeSave(ctx context.Context, room *Room) {
	if room.version%h.saveInterval != 0 {
		return
	}
	if err := h.saveDocument(ctx, room); err != nil {
		h.logger.Errorf("save document of %s: %v", room.id, err)
	}
}

// saveDocument persists the room's content up to its current version.
func (h *Handler) saveDocument(ctx context.Context, room *Room) error {
	if room.version == room.lastSavedVersion {
		return nil
	}

	text := room.doc.PlainText()
	hasContent := len(text) > 0
	version := room.version
	userID := h.userID

	if _, err := h.db.UpdatePageInfo(ctx, room.id, &database.UpdatePageFields{
		Content:     room.doc,
		ContentText: &text,
		HasContent:  &hasContent,
		Version:     &version,
		UpdatedBy:   &userID,
	}); err != nil {
		if h.metrics != nil {
			h.metrics.AddDocumentFlushErrors(1)
		}
		return err
	}

	if h.metrics != nil {
		h.metrics.AddDocumentFlushes(1)
	}
	room.lastSavedVersion = room.version
	room.hasContent = hasContent
	return nil
}

// resetCollaboration pushes the full document to every other
// participant after an unapplicable diff.
func (h *Handler) resetCollaboration(ctx context.Context, room *Room) {
	for _, p := range room.participants {
		if p.conn.ID() == h.conn.ID() {
			continue
		}
		p.unfixable(ctx)
		p.sendMessage(&types.DocServerMessage{Type: types.DocMessagePatchError})
	}
}

// sendUpdates delivers a frame to every participant of the room except
// this session.
func (h *Handler) sendUpdates(room *Room, msgType string, payload any) {
	for _, p := range room.participants {
		if p.conn.ID() == h.conn.ID() {
			continue
		}
		p.sendMessage(&types.DocServerMessage{Type: msgType, Payload: payload})
	}
}

// sendParticipantList pushes the room's participant list to the other
// participants.
func (h *Handler) sendParticipantList(room *Room) {
	participants := make([]types.Participant, 0, len(room.participants))
	for _, p := range room.participants {
		participants = append(participants, types.Participant{
			ID:        p.userID,
			Name:      p.userName,
			SessionID: p.conn.ID(),
		})
	}

	h.sendUpdates(room, types.DocMessageConnections, types.ConnectionsPayload{
		Participants: participants,
	})
}

func (h *Handler) confirmDiff(requestID int) {
	h.sendMessage(&types.DocServerMessage{
		Type:    types.DocMessageConfirmDiff,
		Payload: types.ConfirmDiffPayload{RequestID: requestID},
	})
}

func (h *Handler) rejectMessage(msg *types.DocClientMessage) {
	if msg.Type != types.DocMessageDiff {
		return
	}

	diff := types.DiffPayload{}
	if err := json.Unmarshal(msg.Payload, &diff); err != nil {
		return
	}
	h.sendMessage(&types.DocServerMessage{
		Type:    types.DocMessageRejectDiff,
		Payload: types.RejectDiffPayload{RequestID: diff.RequestID},
	})
}

// sendMessage wraps the given frame with the connection's sequence
// counters and emits it.
func (h *Handler) sendMessage(msg *types.DocServerMessage) {
	h.serverSeq++
	msg.C = h.clientSeq
	msg.S = h.serverSeq

	h.lastSent = append(h.lastSent, msg)
	if len(h.lastSent) > lastMessageCount {
		h.lastSent = h.lastSent[len(h.lastSent)-lastMessageCount:]
	}

	if err := h.conn.Emit(msg); err != nil {
		h.logger.Errorf("emit message: %v", err)
	}
}

func (h *Handler) sendError(message string) {
	h.sendMessage(&types.DocServerMessage{
		Type:    types.DocMessageError,
		Payload: types.ErrorPayload{Message: message},
	})
}
