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

// Package database provides the persisted page store interface for the
// Canopy backend.
package database

import (
	"context"

	"github.com/canopyhq/canopy/pkg/errors"
)

var (
	// ErrPageNotFound is returned when the page could not be found.
	ErrPageNotFound = errors.NotFound("page not found").WithCode("ErrPageNotFound")

	// ErrPageAlreadyExists is returned when a page with the same id
	// already exists.
	ErrPageAlreadyExists = errors.FailedPrecond("page already exists").WithCode("ErrPageAlreadyExists")
)

// Database reads and saves the persisted pages of all spaces. Reads
// after a write through the same instance are strongly consistent.
type Database interface {
	// Close closes all resources of this database.
	Close() error

	// CreatePageInfo persists a new page row and returns it.
	CreatePageInfo(ctx context.Context, info *PageInfo) (*PageInfo, error)

	// FindPageInfo returns the page with the given id.
	FindPageInfo(ctx context.Context, id string) (*PageInfo, error)

	// UpdatePageInfo applies the given partial update to the page with
	// the given id and returns the updated row.
	UpdatePageInfo(ctx context.Context, id string, fields *UpdatePageFields) (*PageInfo, error)

	// UpdatePageInfos applies the given partial update to every page in
	// ids.
	UpdatePageInfos(ctx context.Context, ids []string, fields *UpdatePageFields) error

	// FindPageInfosByParent returns the pages whose authoritative parent
	// pointer designates the given page.
	FindPageInfosByParent(ctx context.Context, parentID string) ([]*PageInfo, error)

	// FindPageInfosBySpace returns all pages of the given space. It backs
	// reconciliation sweeps over the authoritative hierarchy.
	FindPageInfosBySpace(ctx context.Context, spaceID string) ([]*PageInfo, error)
}
