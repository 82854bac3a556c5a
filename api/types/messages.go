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

// Package types provides the wire types shared between the server and
// its clients: the client message envelope, per-operation payloads and
// the broadcast event shapes.
package types

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/canopyhq/canopy/pkg/pagetree"
)

// Structural client message types handled by the space protocol.
const (
	MessageSubscribe = "subscribe"

	MessagePageCreated    = "page_created"
	MessagePageDeleted    = "page_deleted"
	MessagePageRestored   = "page_restored"
	MessagePageDuplicated = "page_duplicated"

	MessagePageReorderedSidebarToSidebar = "page_reordered_sidebar_to_sidebar"
	MessagePageReorderedSidebarToEditor  = "page_reordered_sidebar_to_editor"
	MessagePageReorderedEditorToEditor   = "page_reordered_editor_to_editor"
)

// ClientMessage is the versionless wire envelope representing one
// structural or editing intent from a connection.
type ClientMessage struct {
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload subscribes a connection to a space's broadcast scope.
type SubscribePayload struct {
	SpaceID   string `json:"spaceId" validate:"required"`
	AuthToken string `json:"authToken" validate:"required"`
}

// PageCreatedPayload carries the attributes of a page created by a
// connection.
type PageCreatedPayload struct {
	ID          string         `json:"id" validate:"required"`
	ParentID    *string        `json:"parentId"`
	Path        string         `json:"path" validate:"required"`
	Type        string         `json:"type" validate:"required"`
	Title       string         `json:"title"`
	Content     *pagetree.Node `json:"content,omitempty"`
	ContentText string         `json:"contentText"`
	SpaceID     string         `json:"spaceId" validate:"required"`
	BoardID     string         `json:"boardId,omitempty"`
}

// PageDeletedPayload identifies the page to archive.
type PageDeletedPayload struct {
	ID string `json:"id" validate:"required"`
}

// PageRestoredPayload identifies the page to restore from its archived
// state.
type PageRestoredPayload struct {
	ID string `json:"id" validate:"required"`
}

// PageDuplicatedPayload identifies an already-persisted duplicate page
// whose reference node must be placed next to the original's.
type PageDuplicatedPayload struct {
	PageID string `json:"pageId" validate:"required"`
}

// PageReorderedSidebarToSidebarPayload moves a page between parents from
// the tree-navigation UI. A nil NewParentID moves the page to the root.
type PageReorderedSidebarToSidebarPayload struct {
	PageID      string  `json:"pageId" validate:"required"`
	NewParentID *string `json:"newParentId"`
}

// PageReorderedSidebarToEditorPayload moves a page onto a specific spot
// inside an open editor. A nil DropPos appends at the end of the new
// parent's content.
type PageReorderedSidebarToEditorPayload struct {
	PageID      string `json:"pageId" validate:"required"`
	NewParentID string `json:"newParentId" validate:"required"`
	DropPos     *int   `json:"dropPos"`
}

// DraggedNode describes the reference node being dragged between two
// open editors, preserving its nested-vs-linked kind.
type DraggedNode struct {
	Type  string `json:"type" validate:"required,oneof=page linkedPage"`
	Attrs struct {
		ID string `json:"id" validate:"required"`
	} `json:"attrs"`
}

// PageReorderedEditorToEditorPayload moves a reference node between two
// live document bodies.
type PageReorderedEditorToEditorPayload struct {
	PageID          string      `json:"pageId" validate:"required"`
	NewParentID     string      `json:"newParentId" validate:"required"`
	CurrentParentID string      `json:"currentParentId" validate:"required"`
	DraggedNode     DraggedNode `json:"draggedNode"`
	DragNodePos     int         `json:"dragNodePos"`
}

// defaultValidator is the validator instance used for all payloads.
var defaultValidator = validator.New()

// Validate validates the given payload against its struct tags.
func Validate(payload any) error {
	return defaultValidator.Struct(payload)
}

// UnmarshalPayload decodes the raw payload of a client message into the
// given struct and validates it.
func UnmarshalPayload(raw json.RawMessage, payload any) error {
	if err := json.Unmarshal(raw, payload); err != nil {
		return err
	}
	return Validate(payload)
}
