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

// Package pagetree provides the document content tree model and the pure
// mutation functions used to keep reference nodes in sync with the
// authoritative page hierarchy.
package pagetree

import (
	"strings"
)

const (
	// TypeDoc is the type of the root node of a document.
	TypeDoc = "doc"

	// TypeParagraph is the type of a plain text block node.
	TypeParagraph = "paragraph"

	// TypeText is the type of an inline text node.
	TypeText = "text"

	// TypePage is the type of a nested reference node. Deleting or
	// restoring the parent's view of this child also archives or restores
	// the child and its descendants.
	TypePage = "page"

	// TypeLinkedPage is the type of a linked reference node. It is a pure
	// pointer and never triggers lifecycle changes on the referenced page.
	TypeLinkedPage = "linkedPage"
)

// Node is a node in a document content tree. It mirrors the persisted
// JSON shape of a document body: a root node of type "doc" whose content
// holds block nodes, some of which are reference nodes pointing at child
// pages.
type Node struct {
	Type    string         `json:"type" bson:"type"`
	Text    string         `json:"text,omitempty" bson:"text,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty" bson:"attrs,omitempty"`
	Content []*Node        `json:"content,omitempty" bson:"content,omitempty"`
}

// NewDocument returns a well-formed empty document tree.
func NewDocument() *Node {
	return &Node{Type: TypeDoc, Content: []*Node{}}
}

// NewReference returns a reference node pointing at the given page.
// linked selects a linked (pointer-only) node instead of a nested one.
func NewReference(pageID, path, pageType string, linked bool) *Node {
	nodeType := TypePage
	if linked {
		nodeType = TypeLinkedPage
	}

	return &Node{
		Type: nodeType,
		Attrs: map[string]any{
			"id":    pageID,
			"path":  path,
			"type":  pageType,
			"track": []any{},
		},
	}
}

// IsReference returns true if this node is a reference node, nested or
// linked.
func (n *Node) IsReference() bool {
	return n != nil && (n.Type == TypePage || n.Type == TypeLinkedPage)
}

// IsLinked returns true if this node is a linked reference node.
func (n *Node) IsLinked() bool {
	return n != nil && n.Type == TypeLinkedPage
}

// ReferenceID returns the id of the page this reference node points at,
// or an empty string if this is not a reference node.
func (n *Node) ReferenceID() string {
	if !n.IsReference() {
		return ""
	}

	id, _ := n.Attrs["id"].(string)
	return id
}

// Clone returns a deep copy of this node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}

	clone := &Node{
		Type: n.Type,
		Text: n.Text,
	}

	if n.Attrs != nil {
		clone.Attrs = make(map[string]any, len(n.Attrs))
		for k, v := range n.Attrs {
			clone.Attrs[k] = v
		}
	}

	if n.Content != nil {
		clone.Content = make([]*Node, len(n.Content))
		for i, child := range n.Content {
			clone.Content[i] = child.Clone()
		}
	}

	return clone
}

// PlainText returns the concatenated text of this tree. It is the
// projection persisted alongside the content for search and previews.
func (n *Node) PlainText() string {
	if n == nil {
		return ""
	}

	var sb strings.Builder
	n.appendText(&sb)
	return sb.String()
}

func (n *Node) appendText(sb *strings.Builder) {
	if n.Type == TypeText {
		sb.WriteString(n.Text)
	}

	for _, child := range n.Content {
		child.appendText(sb)
	}
}
