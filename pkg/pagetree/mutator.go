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

package pagetree

import (
	"github.com/canopyhq/canopy/pkg/errors"
)

// ErrInvalidStep is returned when a step addresses a range outside the
// document's top-level child list.
var ErrInvalidStep = errors.InvalidArgument("step out of range").WithCode("ErrInvalidStep")

// StepTypeReplace replaces the range [From, To) of the document's
// top-level child list with the contents of Slice.
const StepTypeReplace = "replace"

// Step is one incremental edit to a document tree. Positions are
// ordinals within the document's top-level child list; sibling order is
// preserved exactly.
type Step struct {
	Type  string  `json:"stepType" bson:"stepType"`
	From  int     `json:"from" bson:"from"`
	To    int     `json:"to" bson:"to"`
	Slice []*Node `json:"slice,omitempty" bson:"slice,omitempty"`
}

// Position locates a reference node inside a document.
type Position struct {
	// Node is the reference node itself.
	Node *Node

	// Index is the ordinal of the matched top-level child. When the
	// reference sits inside a wrapping container, Index addresses the
	// container.
	Index int
}

// Anchor selects where a reference node is inserted.
type Anchor struct {
	afterID string
	index   int
	atEnd   bool
}

// AtEnd anchors an insertion at the end of the document.
func AtEnd() Anchor {
	return Anchor{atEnd: true}
}

// AtIndex anchors an insertion at the given ordinal of the top-level
// child list. Out-of-range ordinals are clamped.
func AtIndex(index int) Anchor {
	return Anchor{index: index}
}

// After anchors an insertion immediately after the reference node of the
// given page. If that node is not found, the insertion falls back to the
// end of the document.
func After(pageID string) Anchor {
	return Anchor{afterID: pageID}
}

// FindReference returns the position of the reference node for the given
// page, or nil if the document does not contain one. A top-level
// container whose entire content is the matching reference also counts
// as a match; its ordinal is reported so that removal collapses the
// emptied container with it.
func FindReference(doc *Node, pageID string) *Position {
	if doc == nil {
		return nil
	}

	for i, child := range doc.Content {
		if ref := matchReference(child, pageID); ref != nil {
			return &Position{Node: ref, Index: i}
		}
	}

	return nil
}

// FindPageReference is like FindReference but only matches the nested
// reference node owning the page; linked references are skipped.
func FindPageReference(doc *Node, pageID string) *Position {
	if doc == nil {
		return nil
	}

	for i, child := range doc.Content {
		if ref := matchReference(child, pageID); ref != nil && !ref.IsLinked() {
			return &Position{Node: ref, Index: i}
		}
	}

	return nil
}

// ReferenceAt reports whether the top-level child at the ordinal is a
// reference node for the given page, descending single-child wrappers
// the same way FindReference does.
func ReferenceAt(doc *Node, index int, pageID string) bool {
	if doc == nil || index < 0 || index >= len(doc.Content) {
		return false
	}
	return matchReference(doc.Content[index], pageID) != nil
}

func matchReference(node *Node, pageID string) *Node {
	if node.IsReference() {
		if node.ReferenceID() == pageID {
			return node
		}
		return nil
	}

	if node.Type != TypeText && len(node.Content) == 1 {
		return matchReference(node.Content[0], pageID)
	}

	return nil
}

// InsertReference returns a new document with the reference node
// inserted at the anchor, along with the step that produced it. The
// input document is never mutated; a nil or empty input still yields a
// well-formed tree.
func InsertReference(doc *Node, ref *Node, at Anchor) (*Node, Step) {
	if doc == nil {
		doc = NewDocument()
	}

	index := len(doc.Content)
	switch {
	case at.atEnd:
	case at.afterID != "":
		if pos := FindReference(doc, at.afterID); pos != nil {
			index = pos.Index + 1
		}
	default:
		index = clamp(at.index, 0, len(doc.Content))
	}

	step := Step{Type: StepTypeReplace, From: index, To: index, Slice: []*Node{ref}}
	updated, _ := ApplySteps(doc, []Step{step})
	return updated, step
}

// RemoveReference returns a new document with the reference node for the
// given page excised, along with the step that produced it. A container
// emptied by the removal collapses with it. The bool result reports
// whether the node was found; when it is false the document is returned
// unchanged.
func RemoveReference(doc *Node, pageID string) (*Node, Step, bool) {
	pos := FindReference(doc, pageID)
	if pos == nil {
		return doc, Step{}, false
	}

	step := RemoveStepAt(pos.Index)
	updated, _ := ApplySteps(doc, []Step{step})
	return updated, step, true
}

// RemoveStepAt returns the removal step for an explicit ordinal, used
// when the client supplies the dragged node's position directly.
func RemoveStepAt(index int) Step {
	return Step{Type: StepTypeReplace, From: index, To: index + 1}
}

// ApplySteps returns a new document with the given steps applied in
// order. The input document is never mutated; callers may keep it for
// rollback or diffing.
func ApplySteps(doc *Node, steps []Step) (*Node, error) {
	if doc == nil {
		doc = NewDocument()
	}

	content := make([]*Node, len(doc.Content))
	copy(content, doc.Content)

	for _, step := range steps {
		if step.Type != StepTypeReplace {
			return nil, errors.InvalidArgument("unknown step type: " + step.Type).WithCode("ErrInvalidStep")
		}
		if step.From < 0 || step.To < step.From || step.To > len(content) {
			return nil, ErrInvalidStep
		}

		next := make([]*Node, 0, len(content)-(step.To-step.From)+len(step.Slice))
		next = append(next, content[:step.From]...)
		next = append(next, step.Slice...)
		next = append(next, content[step.To:]...)
		content = next
	}

	return &Node{
		Type:    doc.Type,
		Text:    doc.Text,
		Attrs:   doc.Attrs,
		Content: content,
	}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
