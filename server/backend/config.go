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

package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSaveInterval occurs when the document save interval in
	// the config is invalid.
	ErrInvalidSaveInterval = errors.New("invalid document save interval")
)

// Config is the configuration for creating a Backend instance.
type Config struct {
	// SecretKey is the secret key for verifying authentication tokens.
	SecretKey string `yaml:"SecretKey"`

	// DocumentSaveInterval is how many applied mutations may accumulate
	// in a document room before it is flushed to the page store.
	// Default is 1.
	DocumentSaveInterval int64 `yaml:"DocumentSaveInterval"`

	// Hostname is the canopy server hostname. It is used by metrics.
	Hostname string `yaml:"Hostname"`
}

// Validate validates this config.
func (c *Config) Validate() error {
	if c.DocumentSaveInterval < 1 {
		return fmt.Errorf(
			"must be 1 or higher, given %d: %w",
			c.DocumentSaveInterval,
			ErrInvalidSaveInterval,
		)
	}

	return nil
}
