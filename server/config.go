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

package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/canopyhq/canopy/server/backend"
	"github.com/canopyhq/canopy/server/backend/database/mongo"
	"github.com/canopyhq/canopy/server/profiling"
	"github.com/canopyhq/canopy/server/rpc"
)

// Below are the default values of the Canopy config.
const (
	DefaultRPCPort         = 8080
	DefaultProfilingPort   = 8081
	DefaultRPCPingInterval = 30 * time.Second
	DefaultMaxMessageBytes = 4 * 1024 * 1024

	DefaultMongoConnectionURI     = "mongodb://localhost:27017"
	DefaultMongoConnectionTimeout = 5 * time.Second
	DefaultMongoPingTimeout       = 5 * time.Second
	DefaultMongoCanopyDatabase    = "canopy"

	DefaultSecretKey            = "canopy-secret"
	DefaultDocumentSaveInterval = 1

	DefaultHostname = ""
)

// Config is the configuration for creating a Canopy instance.
type Config struct {
	RPC       *rpc.Config       `yaml:"RPC"`
	Profiling *profiling.Config `yaml:"Profiling"`
	Backend   *backend.Config   `yaml:"Backend"`
	Mongo     *mongo.Config     `yaml:"Mongo"`
}

// NewConfig returns a Config struct that contains reasonable defaults
// for most of the configurations.
func NewConfig() *Config {
	return newConfig(DefaultRPCPort, DefaultProfilingPort)
}

// NewConfigFromFile returns a Config struct for the given conf file.
func NewConfigFromFile(path string) (*Config, error) {
	conf := &Config{}
	bytes, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err = yaml.Unmarshal(bytes, conf); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	conf.ensureDefaultValue()
	return conf, nil
}

// RPCAddr returns the RPC address.
func (c *Config) RPCAddr() string {
	return fmt.Sprintf("localhost:%d", c.RPC.Port)
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	if err := c.RPC.Validate(); err != nil {
		return err
	}

	if err := c.Profiling.Validate(); err != nil {
		return err
	}

	if err := c.Backend.Validate(); err != nil {
		return err
	}

	if c.Mongo != nil {
		if err := c.Mongo.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// ensureDefaultValue sets the value of the option to which the default
// value should be applied when the user does not input it.
func (c *Config) ensureDefaultValue() {
	if c.RPC == nil {
		c.RPC = &rpc.Config{}
	}
	if c.RPC.Port == 0 {
		c.RPC.Port = DefaultRPCPort
	}
	if c.RPC.PingInterval == "" {
		c.RPC.PingInterval = DefaultRPCPingInterval.String()
	}
	if c.RPC.MaxMessageBytes == 0 {
		c.RPC.MaxMessageBytes = DefaultMaxMessageBytes
	}

	if c.Profiling == nil {
		c.Profiling = &profiling.Config{}
	}
	if c.Profiling.Port == 0 {
		c.Profiling.Port = DefaultProfilingPort
	}

	if c.Backend == nil {
		c.Backend = &backend.Config{}
	}
	if c.Backend.SecretKey == "" {
		c.Backend.SecretKey = DefaultSecretKey
	}
	if c.Backend.DocumentSaveInterval == 0 {
		c.Backend.DocumentSaveInterval = DefaultDocumentSaveInterval
	}

	if c.Mongo != nil {
		if c.Mongo.ConnectionURI == "" {
			c.Mongo.ConnectionURI = DefaultMongoConnectionURI
		}
		if c.Mongo.ConnectionTimeout == "" {
			c.Mongo.ConnectionTimeout = DefaultMongoConnectionTimeout.String()
		}
		if c.Mongo.PingTimeout == "" {
			c.Mongo.PingTimeout = DefaultMongoPingTimeout.String()
		}
		if c.Mongo.CanopyDatabase == "" {
			c.Mongo.CanopyDatabase = DefaultMongoCanopyDatabase
		}
	}
}

func newConfig(port int, profilingPort int) *Config {
	return &Config{
		RPC: &rpc.Config{
			Port:            port,
			PingInterval:    DefaultRPCPingInterval.String(),
			MaxMessageBytes: DefaultMaxMessageBytes,
		},
		Profiling: &profiling.Config{
			Port: profilingPort,
		},
		Backend: &backend.Config{
			SecretKey:            DefaultSecretKey,
			DocumentSaveInterval: DefaultDocumentSaveInterval,
			Hostname:             DefaultHostname,
		},
	}
}
