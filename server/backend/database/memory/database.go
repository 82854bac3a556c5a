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

// Package memory implements the database interface using an in-memory
// database.
package memory

import (
	"context"
	"fmt"
	gotime "time"

	"github.com/hashicorp/go-memdb"

	"github.com/canopyhq/canopy/server/backend/database"
)

// DB is an in-memory database for testing or single-process deployments.
type DB struct {
	db *memdb.MemDB
}

// New returns a new in-memory database.
func New() (*DB, error) {
	memDB, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}

	return &DB{
		db: memDB,
	}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return nil
}

// CreatePageInfo persists a new page row and returns it.
func (d *DB) CreatePageInfo(
	_ context.Context,
	info *database.PageInfo,
) (*database.PageInfo, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tblPages, "id", info.ID)
	if err != nil {
		return nil, fmt.Errorf("find page of %s: %w", info.ID, err)
	}
	if existing != nil {
		return nil, database.ErrPageAlreadyExists
	}

	now := gotime.Now()
	copied := info.DeepCopy()
	copied.CreatedAt = now
	copied.UpdatedAt = now

	if err := txn.Insert(tblPages, copied); err != nil {
		return nil, fmt.Errorf("insert page of %s: %w", info.ID, err)
	}
	txn.Commit()

	return copied.DeepCopy(), nil
}

// FindPageInfo returns the page with the given id.
func (d *DB) FindPageInfo(
	_ context.Context,
	id string,
) (*database.PageInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblPages, "id", id)
	if err != nil {
		return nil, fmt.Errorf("find page of %s: %w", id, err)
	}
	if raw == nil {
		return nil, database.ErrPageNotFound
	}

	return raw.(*database.PageInfo).DeepCopy(), nil
}

// UpdatePageInfo applies the given partial update to the page with the
// given id and returns the updated row.
func (d *DB) UpdatePageInfo(
	_ context.Context,
	id string,
	fields *database.UpdatePageFields,
) (*database.PageInfo, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	info, err := d.updatePageInfo(txn, id, fields, gotime.Now())
	if err != nil {
		return nil, err
	}
	txn.Commit()

	return info.DeepCopy(), nil
}

// UpdatePageInfos applies the given partial update to every page in ids
// within a single transaction.
func (d *DB) UpdatePageInfos(
	_ context.Context,
	ids []string,
	fields *database.UpdatePageFields,
) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	now := gotime.Now()
	for _, id := range ids {
		if _, err := d.updatePageInfo(txn, id, fields, now); err != nil {
			return err
		}
	}
	txn.Commit()

	return nil
}

func (d *DB) updatePageInfo(
	txn *memdb.Txn,
	id string,
	fields *database.UpdatePageFields,
	now gotime.Time,
) (*database.PageInfo, error) {
	raw, err := txn.First(tblPages, "id", id)
	if err != nil {
		return nil, fmt.Errorf("find page of %s: %w", id, err)
	}
	if raw == nil {
		return nil, database.ErrPageNotFound
	}

	info := raw.(*database.PageInfo).DeepCopy()
	fields.ApplyTo(info, now)

	if err := txn.Insert(tblPages, info); err != nil {
		return nil, fmt.Errorf("update page of %s: %w", id, err)
	}

	return info, nil
}

// FindPageInfosByParent returns the pages whose parent pointer
// designates the given page.
func (d *DB) FindPageInfosByParent(
	_ context.Context,
	parentID string,
) ([]*database.PageInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblPages, "parent_id", parentID)
	if err != nil {
		return nil, fmt.Errorf("find pages of parent %s: %w", parentID, err)
	}

	var infos []*database.PageInfo
	for raw := it.Next(); raw != nil; raw = it.Next() {
		infos = append(infos, raw.(*database.PageInfo).DeepCopy())
	}

	return infos, nil
}

// FindPageInfosBySpace returns all pages of the given space.
func (d *DB) FindPageInfosBySpace(
	_ context.Context,
	spaceID string,
) ([]*database.PageInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblPages, "space_id", spaceID)
	if err != nil {
		return nil, fmt.Errorf("find pages of space %s: %w", spaceID, err)
	}

	var infos []*database.PageInfo
	for raw := it.Next(); raw != nil; raw = it.Next() {
		infos = append(infos, raw.(*database.PageInfo).DeepCopy())
	}

	return infos, nil
}
