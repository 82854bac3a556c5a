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

package types

import (
	"encoding/json"
	"time"

	"github.com/canopyhq/canopy/pkg/pagetree"
)

// Message types of the document editing channel.
const (
	DocMessageWelcome        = "welcome"
	DocMessageSubscribe      = "subscribe"
	DocMessageSubscribed     = "subscribed"
	DocMessageGetDocument    = "get_document"
	DocMessageDocData        = "doc_data"
	DocMessageDiff           = "diff"
	DocMessageConfirmDiff    = "confirm_diff"
	DocMessageRejectDiff     = "reject_diff"
	DocMessageCheckVersion   = "check_version"
	DocMessageConfirmVersion = "confirm_version"
	DocMessageRequestResend  = "request_resend"
	DocMessagePatchError     = "patch_error"
	DocMessageConnections    = "connections"
	DocMessageError          = "error"
)

// DocClientMessage is the wire envelope of the document editing channel.
// C and S are the per-connection sequence counters used to detect lost
// or duplicated frames.
type DocClientMessage struct {
	Type    string          `json:"type" validate:"required"`
	C       int             `json:"c,omitempty"`
	S       int             `json:"s,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DocServerMessage is a server-to-client frame of the document editing
// channel.
type DocServerMessage struct {
	Type    string `json:"type"`
	C       int    `json:"c,omitempty"`
	S       int    `json:"s,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// SubscribeDocPayload subscribes a connection to a document room.
type SubscribeDocPayload struct {
	PageID string `json:"roomId" validate:"required"`
	// Connection counts reconnects of the same session; on the first
	// connection the server pushes the full document.
	Connection int `json:"connection"`
}

// DiffPayload is one incremental edit against a specific document
// version.
type DiffPayload struct {
	Version   int64           `json:"v"`
	Steps     []pagetree.Step `json:"ds"`
	RequestID int             `json:"rid"`
	ServerFix bool            `json:"server_fix,omitempty"`
	// Event names the structural operation that produced this diff when
	// it did not originate from typing, e.g. "page_deleted".
	Event string `json:"event,omitempty"`
}

// CheckVersionPayload asks the server to compare the client's document
// version with its own.
type CheckVersionPayload struct {
	Version int64 `json:"v"`
}

// ConfirmDiffPayload acknowledges an applied diff.
type ConfirmDiffPayload struct {
	RequestID int `json:"rid"`
}

// RejectDiffPayload rejects an out-of-order diff.
type RejectDiffPayload struct {
	RequestID int `json:"rid"`
}

// ConfirmVersionPayload confirms the client is up to date.
type ConfirmVersionPayload struct {
	Version int64 `json:"v"`
}

// RequestResendPayload asks the peer to resend messages from the given
// sequence number.
type RequestResendPayload struct {
	From int `json:"from"`
}

// DocDataPayload carries the full document to a (re)subscribing client.
type DocDataPayload struct {
	Doc struct {
		Content *pagetree.Node `json:"content"`
		Version int64          `json:"v"`
	} `json:"doc"`
	DocInfo struct {
		ID        string    `json:"id"`
		SessionID string    `json:"session_id"`
		Updated   time.Time `json:"updated"`
		Version   int64     `json:"version"`
	} `json:"doc_info"`
	Messages []DiffPayload `json:"m,omitempty"`
	Time     int64         `json:"time"`
}

// Participant is one editing session attached to a document room.
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SessionID string `json:"session_id"`
}

// ConnectionsPayload carries the room's current participant list.
type ConnectionsPayload struct {
	Participants []Participant `json:"participant_list"`
}

// ErrorPayload carries an in-band error to the initiating connection.
type ErrorPayload struct {
	Message string `json:"message"`
}
