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

// Package events provides the space-scoped broadcast events emitted
// after structural page-tree operations.
package events

import (
	"time"
)

// SpaceEventType is the type of a space-scoped broadcast event.
type SpaceEventType string

const (
	// PagesCreated is published after a new page row was persisted.
	PagesCreated SpaceEventType = "pages_created"

	// PagesDeleted is published with the archived page ids after a delete
	// cascade.
	PagesDeleted SpaceEventType = "pages_deleted"

	// PagesRestored is published with the restored page ids after a
	// restore cascade.
	PagesRestored SpaceEventType = "pages_restored"

	// PagesMetaUpdated is published when page metadata, such as the
	// parent pointer, changed without a content edit.
	PagesMetaUpdated SpaceEventType = "pages_meta_updated"

	// Error is emitted to a single connection when its operation failed.
	Error SpaceEventType = "error"

	// Welcome is emitted to a connection right after it connects.
	Welcome SpaceEventType = "welcome"

	// Subscribed is emitted to a connection after a successful space
	// subscribe.
	Subscribed SpaceEventType = "subscribed"
)

// PageMeta is the content-free page projection carried by broadcast
// events. ParentID is nil for root-level pages.
type PageMeta struct {
	ID        string     `json:"id"`
	SpaceID   string     `json:"spaceId"`
	ParentID  *string    `json:"parentId"`
	Path      string     `json:"path,omitempty"`
	Type      string     `json:"type,omitempty"`
	Title     string     `json:"title,omitempty"`
	DeletedAt *time.Time `json:"deletedAt"`
}

// SpaceEvent is one space-scoped broadcast message.
type SpaceEvent struct {
	Type SpaceEventType `json:"type"`

	// Pages carries page projections for page lifecycle events.
	Pages []PageMeta `json:"payload,omitempty"`

	// Message carries the error text for Error events.
	Message string `json:"message,omitempty"`

	// Publisher is the id of the user whose operation produced this
	// event. It is not serialized; the broadcaster uses it for logging.
	Publisher string `json:"-"`
}
