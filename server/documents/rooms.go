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

// Package documents provides the document room registry and the
// per-participant event handler of the live editing channel. All state
// in this package is owned by the backend's dispatch loop; none of it
// is locked.
package documents

import (
	"github.com/canopyhq/canopy/api/types"
	"github.com/canopyhq/canopy/pkg/pagetree"
	"github.com/canopyhq/canopy/server/backend/database"
)

// historySize bounds the diff log kept per room for client catch-up.
const historySize = 1000

// Room is the transient, in-memory state of one currently-edited
// document, shared by all of its participants.
type Room struct {
	id      string
	spaceID string

	// version increases by one for every applied mutation, whether a
	// live editing diff or an external structural patch.
	version          int64
	lastSavedVersion int64

	doc          *pagetree.Node
	diffs        []types.DiffPayload
	hasContent   bool
	galleryImage string

	participants map[string]*Handler
}

func newRoom(info *database.PageInfo) *Room {
	doc := info.Content
	if doc == nil {
		doc = pagetree.NewDocument()
	}

	return &Room{
		id:               info.ID,
		spaceID:          info.SpaceID,
		version:          info.Version,
		lastSavedVersion: info.Version,
		doc:              doc,
		hasContent:       info.HasContent,
		galleryImage:     info.GalleryImage,
		participants:     make(map[string]*Handler),
	}
}

// ID returns the id of the document this room represents.
func (r *Room) ID() string {
	return r.id
}

// Version returns the room's current version.
func (r *Room) Version() int64 {
	return r.version
}

// Doc returns the room's live content tree. The tree is exclusively
// owned by the room; it is replaced, never mutated, by the pure
// mutator functions.
func (r *Room) Doc() *pagetree.Node {
	return r.doc
}

// Participants returns the room's current participants.
func (r *Room) Participants() []*Handler {
	participants := make([]*Handler, 0, len(r.participants))
	for _, p := range r.participants {
		participants = append(participants, p)
	}
	return participants
}

// ParticipantByUser returns a participant bound to the given user, or
// nil if the user has no session in this room.
func (r *Room) ParticipantByUser(userID string) *Handler {
	for _, p := range r.participants {
		if p.userID == userID {
			return p
		}
	}
	return nil
}

// applyDiff replaces the room's tree, bumps the version and appends the
// diff to the catch-up log.
func (r *Room) applyDiff(doc *pagetree.Node, diff types.DiffPayload) {
	r.doc = doc
	r.version++
	r.diffs = append(r.diffs, diff)
	if len(r.diffs) > historySize {
		r.diffs = r.diffs[len(r.diffs)-historySize:]
	}
}

// Registry is the process-wide table mapping an open document's id to
// its room. It performs no locking; all access happens on the dispatch
// loop.
type Registry struct {
	rooms map[string]*Room
}

// NewRegistry creates a new Registry. Handlers receive the registry by
// reference so multiple registries can coexist in tests.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
	}
}

// Room returns the live room of the given document, if any.
func (r *Registry) Room(pageID string) (*Room, bool) {
	room, ok := r.rooms[pageID]
	return room, ok
}

// GetOrCreate returns the room of the given page, creating it from the
// persisted row when no participant had it open.
func (r *Registry) GetOrCreate(info *database.PageInfo) *Room {
	if room, ok := r.rooms[info.ID]; ok {
		return room
	}

	room := newRoom(info)
	r.rooms[info.ID] = room
	return room
}

// RemoveParticipant removes the given session from its room, discarding
// the room once its participant set becomes empty. Room state is
// discarded, not persisted again beyond what was already flushed.
func (r *Registry) RemoveParticipant(pageID, sessionID string) {
	room, ok := r.rooms[pageID]
	if !ok {
		return
	}

	delete(room.participants, sessionID)
	if len(room.participants) == 0 {
		delete(r.rooms, pageID)
	}
}

// Len returns the number of live rooms. It backs the room gauge.
func (r *Registry) Len() int {
	return len(r.rooms)
}

// ParticipantCount returns the number of editing sessions across all
// rooms. It backs the participant gauge.
func (r *Registry) ParticipantCount() int {
	count := 0
	for _, room := range r.rooms {
		count += len(room.participants)
	}
	return count
}
