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

// Package permission provides the contract of the external permission
// resolver consumed by the protocol handlers. Computing permissions is
// out of this subsystem's scope; only the boolean results gate
// operations.
package permission

import (
	"context"
)

// Flags are the per-participant, per-page permission results consulted
// by the protocol handlers.
type Flags struct {
	EditContent bool `json:"edit_content"`
	Delete      bool `json:"delete"`
}

// Resolver supplies permission flags per participant per page.
type Resolver interface {
	ComputePagePermissions(ctx context.Context, pageID, userID string) (Flags, error)
}

type allowAll struct{}

// AllowAll returns a Resolver granting every permission to everyone. It
// is the default when no external resolver is wired.
func AllowAll() Resolver {
	return allowAll{}
}

func (allowAll) ComputePagePermissions(
	_ context.Context,
	_ string,
	_ string,
) (Flags, error) {
	return Flags{EditContent: true, Delete: true}, nil
}
