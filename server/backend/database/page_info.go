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

package database

import (
	"time"

	"github.com/canopyhq/canopy/api/types/events"
	"github.com/canopyhq/canopy/pkg/pagetree"
)

// PageInfo is a page row in the persisted store: one node of a space's
// content tree. ParentID is the single source of truth for the
// hierarchy; the reference node embedded in a parent's content is a
// denormalized rendering aid.
type PageInfo struct {
	ID           string         `bson:"_id" json:"id"`
	SpaceID      string         `bson:"space_id" json:"spaceId"`
	ParentID     string         `bson:"parent_id,omitempty" json:"parentId,omitempty"`
	Type         string         `bson:"type" json:"type"`
	Path         string         `bson:"path" json:"path"`
	Title        string         `bson:"title" json:"title"`
	BoardID      string         `bson:"board_id,omitempty" json:"boardId,omitempty"`
	Content      *pagetree.Node `bson:"content,omitempty" json:"content,omitempty"`
	ContentText  string         `bson:"content_text" json:"contentText"`
	HasContent   bool           `bson:"has_content" json:"hasContent"`
	GalleryImage string         `bson:"gallery_image,omitempty" json:"galleryImage,omitempty"`
	Version      int64          `bson:"version" json:"version"`
	CreatedBy    string         `bson:"created_by" json:"createdBy"`
	UpdatedBy    string         `bson:"updated_by" json:"updatedBy"`
	CreatedAt    time.Time      `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time      `bson:"updated_at" json:"updatedAt"`
	DeletedAt    *time.Time     `bson:"deleted_at,omitempty" json:"deletedAt,omitempty"`
}

// DeepCopy returns a deep copy of this PageInfo.
func (i *PageInfo) DeepCopy() *PageInfo {
	if i == nil {
		return nil
	}

	copied := *i
	copied.Content = i.Content.Clone()
	if i.DeletedAt != nil {
		deletedAt := *i.DeletedAt
		copied.DeletedAt = &deletedAt
	}
	return &copied
}

// IsDeleted returns true if this page is archived.
func (i *PageInfo) IsDeleted() bool {
	return i.DeletedAt != nil
}

// Meta returns the content-free projection of this page carried by
// broadcast events.
func (i *PageInfo) Meta() events.PageMeta {
	meta := events.PageMeta{
		ID:        i.ID,
		SpaceID:   i.SpaceID,
		Path:      i.Path,
		Type:      i.Type,
		Title:     i.Title,
		DeletedAt: i.DeletedAt,
	}
	if i.ParentID != "" {
		parentID := i.ParentID
		meta.ParentID = &parentID
	}
	return meta
}

// UpdatePageFields is a partial update of a page row. Nil fields are
// left untouched.
type UpdatePageFields struct {
	ParentID    *string
	Title       *string
	Content     *pagetree.Node
	ContentText *string
	HasContent  *bool
	Version     *int64
	UpdatedBy   *string

	// DeletedAt archives the page at the given time; ClearDeletedAt
	// restores it. Setting both is invalid.
	DeletedAt      *time.Time
	ClearDeletedAt bool
}

// ApplyTo applies this partial update to the given page row in place and
// stamps UpdatedAt.
func (f *UpdatePageFields) ApplyTo(info *PageInfo, now time.Time) {
	if f.ParentID != nil {
		info.ParentID = *f.ParentID
	}
	if f.Title != nil {
		info.Title = *f.Title
	}
	if f.Content != nil {
		info.Content = f.Content
	}
	if f.ContentText != nil {
		info.ContentText = *f.ContentText
	}
	if f.HasContent != nil {
		info.HasContent = *f.HasContent
	}
	if f.Version != nil {
		info.Version = *f.Version
	}
	if f.UpdatedBy != nil {
		info.UpdatedBy = *f.UpdatedBy
	}
	if f.DeletedAt != nil {
		deletedAt := *f.DeletedAt
		info.DeletedAt = &deletedAt
	}
	if f.ClearDeletedAt {
		info.DeletedAt = nil
	}
	info.UpdatedAt = now
}
