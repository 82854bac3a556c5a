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

// Package backend provides the backend implementation of Canopy. This
// package is responsible for managing the page store, the document room
// registry and the other resources required to run the server.
package backend

import (
	"fmt"
	"os"

	"github.com/canopyhq/canopy/server/backend/database"
	memdb "github.com/canopyhq/canopy/server/backend/database/memory"
	"github.com/canopyhq/canopy/server/backend/database/mongo"
	"github.com/canopyhq/canopy/server/backend/dispatch"
	"github.com/canopyhq/canopy/server/backend/pubsub"
	"github.com/canopyhq/canopy/server/documents"
	"github.com/canopyhq/canopy/server/logging"
	"github.com/canopyhq/canopy/server/permission"
	"github.com/canopyhq/canopy/server/profiling/prometheus"
)

// Backend manages Canopy's backend such as the page store and the
// document room registry.
type Backend struct {
	Config *Config

	// DB is the page store instance.
	DB database.Database

	// PubSub is used to broadcast space events to subscribed
	// connections.
	PubSub *pubsub.PubSub

	// Dispatcher is the event loop all protocol handlers run on.
	Dispatcher *dispatch.Dispatcher

	// Registry is the document room registry. It is owned by the
	// dispatch loop.
	Registry *documents.Registry

	// Resolver supplies permission flags per participant per page.
	Resolver permission.Resolver

	// Metrics is used to expose metrics.
	Metrics *prometheus.Metrics
}

// New creates a new instance of Backend. A nil mongoConf selects the
// in-memory page store.
func New(
	conf *Config,
	mongoConf *mongo.Config,
	metrics *prometheus.Metrics,
) (*Backend, error) {
	hostname := conf.Hostname
	if hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("os.Hostname: %w", err)
		}
		conf.Hostname = hostname
	}

	var db database.Database
	var err error
	if mongoConf != nil {
		db, err = mongo.Dial(mongoConf)
		if err != nil {
			return nil, err
		}
	} else {
		db, err = memdb.New()
		if err != nil {
			return nil, err
		}
	}

	dbInfo := "memory"
	if mongoConf != nil {
		dbInfo = mongoConf.ConnectionURI
	}
	logging.DefaultLogger().Infof(
		"backend created: db: %s",
		dbInfo,
	)

	return &Backend{
		Config:     conf,
		DB:         db,
		PubSub:     pubsub.New(),
		Dispatcher: dispatch.New(),
		Registry:   documents.NewRegistry(),
		Resolver:   permission.AllowAll(),
		Metrics:    metrics,
	}, nil
}

// Shutdown closes all resources of this backend.
func (b *Backend) Shutdown() error {
	b.Dispatcher.Close()

	if err := b.DB.Close(); err != nil {
		return err
	}

	logging.DefaultLogger().Infof("backend stopped")
	return nil
}
