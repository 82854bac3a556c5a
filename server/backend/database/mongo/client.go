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

// Package mongo implements the database interface using MongoDB.
package mongo

import (
	"context"
	"fmt"
	gotime "time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/canopyhq/canopy/server/backend/database"
	"github.com/canopyhq/canopy/server/logging"
)

const (
	// ColPages is the name of the pages collection.
	ColPages = "pages"

	// pageCacheSize bounds the per-client page row cache.
	pageCacheSize = 1000
)

// Client is a client that connects to MongoDB and reads or saves page
// rows.
type Client struct {
	config *Config
	client *mongo.Client

	pageCache *lru.Cache[string, *database.PageInfo]
}

// Dial creates an instance of Client and dials the given MongoDB.
func Dial(conf *Config) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), conf.ParseConnectionTimeout())
	defer cancel()

	client, err := mongo.Connect(
		options.Client().ApplyURI(conf.ConnectionURI),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	ctxPing, cancelPing := context.WithTimeout(ctx, conf.ParsePingTimeout())
	defer cancelPing()

	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	if err := ensureIndexes(ctx, client.Database(conf.CanopyDatabase)); err != nil {
		return nil, err
	}

	pageCache, err := lru.New[string, *database.PageInfo](pageCacheSize)
	if err != nil {
		return nil, fmt.Errorf("initialize page cache: %w", err)
	}

	logging.DefaultLogger().Infof(
		"MongoDB connected, URI: %s, DB: %s",
		conf.ConnectionURI,
		conf.CanopyDatabase,
	)

	return &Client{
		config:    conf,
		client:    client,
		pageCache: pageCache,
	}, nil
}

// Close all resources of this client.
func (c *Client) Close() error {
	if err := c.client.Disconnect(context.Background()); err != nil {
		return fmt.Errorf("close mongo client: %w", err)
	}

	c.pageCache.Purge()
	return nil
}

// CreatePageInfo persists a new page row and returns it.
func (c *Client) CreatePageInfo(
	ctx context.Context,
	info *database.PageInfo,
) (*database.PageInfo, error) {
	now := gotime.Now()
	copied := info.DeepCopy()
	copied.CreatedAt = now
	copied.UpdatedAt = now

	if _, err := c.collection(ColPages).InsertOne(ctx, copied); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, database.ErrPageAlreadyExists
		}
		return nil, fmt.Errorf("insert page of %s: %w", info.ID, err)
	}

	c.pageCache.Add(copied.ID, copied.DeepCopy())
	return copied, nil
}

// FindPageInfo returns the page with the given id.
func (c *Client) FindPageInfo(
	ctx context.Context,
	id string,
) (*database.PageInfo, error) {
	if cached, ok := c.pageCache.Get(id); ok {
		return cached.DeepCopy(), nil
	}

	result := c.collection(ColPages).FindOne(ctx, bson.M{"_id": id})

	info := &database.PageInfo{}
	if err := result.Decode(info); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, database.ErrPageNotFound
		}
		return nil, fmt.Errorf("find page of %s: %w", id, err)
	}

	c.pageCache.Add(id, info.DeepCopy())
	return info, nil
}

// UpdatePageInfo applies the given partial update to the page with the
// given id and returns the updated row.
func (c *Client) UpdatePageInfo(
	ctx context.Context,
	id string,
	fields *database.UpdatePageFields,
) (*database.PageInfo, error) {
	c.pageCache.Remove(id)

	result := c.collection(ColPages).FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		buildUpdate(fields),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	info := &database.PageInfo{}
	if err := result.Decode(info); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, database.ErrPageNotFound
		}
		return nil, fmt.Errorf("update page of %s: %w", id, err)
	}

	c.pageCache.Add(id, info.DeepCopy())
	return info, nil
}

// UpdatePageInfos applies the given partial update to every page in ids.
func (c *Client) UpdatePageInfos(
	ctx context.Context,
	ids []string,
	fields *database.UpdatePageFields,
) error {
	for _, id := range ids {
		c.pageCache.Remove(id)
	}

	if _, err := c.collection(ColPages).UpdateMany(
		ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		buildUpdate(fields),
	); err != nil {
		return fmt.Errorf("update pages: %w", err)
	}

	return nil
}

// FindPageInfosByParent returns the pages whose parent pointer
// designates the given page.
func (c *Client) FindPageInfosByParent(
	ctx context.Context,
	parentID string,
) ([]*database.PageInfo, error) {
	return c.findPageInfos(ctx, bson.M{"parent_id": parentID})
}

// FindPageInfosBySpace returns all pages of the given space.
func (c *Client) FindPageInfosBySpace(
	ctx context.Context,
	spaceID string,
) ([]*database.PageInfo, error) {
	return c.findPageInfos(ctx, bson.M{"space_id": spaceID})
}

func (c *Client) findPageInfos(
	ctx context.Context,
	filter bson.M,
) ([]*database.PageInfo, error) {
	cursor, err := c.collection(ColPages).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find pages: %w", err)
	}

	var infos []*database.PageInfo
	if err := cursor.All(ctx, &infos); err != nil {
		return nil, fmt.Errorf("decode pages: %w", err)
	}

	return infos, nil
}

func (c *Client) collection(
	name string,
	opts ...options.Lister[options.CollectionOptions],
) *mongo.Collection {
	return c.client.
		Database(c.config.CanopyDatabase).
		Collection(name, opts...)
}

// buildUpdate translates a partial update into a mongo update document.
func buildUpdate(fields *database.UpdatePageFields) bson.M {
	set := bson.M{"updated_at": gotime.Now()}
	unset := bson.M{}

	if fields.ParentID != nil {
		if *fields.ParentID == "" {
			unset["parent_id"] = ""
		} else {
			set["parent_id"] = *fields.ParentID
		}
	}
	if fields.Title != nil {
		set["title"] = *fields.Title
	}
	if fields.Content != nil {
		set["content"] = fields.Content
	}
	if fields.ContentText != nil {
		set["content_text"] = *fields.ContentText
	}
	if fields.HasContent != nil {
		set["has_content"] = *fields.HasContent
	}
	if fields.Version != nil {
		set["version"] = *fields.Version
	}
	if fields.UpdatedBy != nil {
		set["updated_by"] = *fields.UpdatedBy
	}
	if fields.DeletedAt != nil {
		set["deleted_at"] = *fields.DeletedAt
	}
	if fields.ClearDeletedAt {
		unset["deleted_at"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}
