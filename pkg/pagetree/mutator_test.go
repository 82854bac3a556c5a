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

package pagetree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/canopyhq/canopy/pkg/pagetree"
)

func paragraph(text string) *pagetree.Node {
	return &pagetree.Node{
		Type:    pagetree.TypeParagraph,
		Content: []*pagetree.Node{{Type: pagetree.TypeText, Text: text}},
	}
}

func docOf(children ...*pagetree.Node) *pagetree.Node {
	return &pagetree.Node{Type: pagetree.TypeDoc, Content: children}
}

func referenceIDs(doc *pagetree.Node) []string {
	var ids []string
	for _, child := range doc.Content {
		if child.IsReference() {
			ids = append(ids, child.ReferenceID())
		}
	}
	return ids
}

func TestFindReference(t *testing.T) {
	t.Run("find reference among siblings test", func(t *testing.T) {
		doc := docOf(
			paragraph("1"),
			pagetree.NewReference("child-a", "child-a-path", "page", false),
			paragraph("2"),
		)

		pos := pagetree.FindReference(doc, "child-a")
		assert.NotNil(t, pos)
		assert.Equal(t, 1, pos.Index)
		assert.Equal(t, "child-a", pos.Node.ReferenceID())

		assert.Nil(t, pagetree.FindReference(doc, "child-b"))
	})

	t.Run("find reference wrapped in container test", func(t *testing.T) {
		doc := docOf(
			paragraph("1"),
			&pagetree.Node{
				Type:    "columnBlock",
				Content: []*pagetree.Node{pagetree.NewReference("child-a", "p", "page", false)},
			},
		)

		pos := pagetree.FindReference(doc, "child-a")
		assert.NotNil(t, pos)
		assert.Equal(t, 1, pos.Index)
		assert.Equal(t, "child-a", pos.Node.ReferenceID())
	})

	t.Run("nil document test", func(t *testing.T) {
		assert.Nil(t, pagetree.FindReference(nil, "child-a"))
	})
}

func TestFindPageReference(t *testing.T) {
	t.Run("skips linked references test", func(t *testing.T) {
		doc := docOf(
			pagetree.NewReference("child-a", "p", "page", true),
			paragraph("1"),
			pagetree.NewReference("child-a", "p", "page", false),
		)

		pos := pagetree.FindPageReference(doc, "child-a")
		assert.NotNil(t, pos)
		assert.Equal(t, 2, pos.Index)
		assert.False(t, pos.Node.IsLinked())
	})

	t.Run("only linked references present test", func(t *testing.T) {
		doc := docOf(pagetree.NewReference("child-a", "p", "page", true))
		assert.Nil(t, pagetree.FindPageReference(doc, "child-a"))
		assert.NotNil(t, pagetree.FindReference(doc, "child-a"))
	})
}

func TestReferenceAt(t *testing.T) {
	t.Run("ordinal points at the reference test", func(t *testing.T) {
		doc := docOf(
			paragraph("1"),
			pagetree.NewReference("child-a", "p", "page", false),
			&pagetree.Node{
				Type:    "columnBlock",
				Content: []*pagetree.Node{pagetree.NewReference("child-b", "p", "page", true)},
			},
		)

		assert.True(t, pagetree.ReferenceAt(doc, 1, "child-a"))
		assert.True(t, pagetree.ReferenceAt(doc, 2, "child-b"))
		assert.False(t, pagetree.ReferenceAt(doc, 0, "child-a"))
		assert.False(t, pagetree.ReferenceAt(doc, 1, "child-b"))
	})

	t.Run("out of range ordinals test", func(t *testing.T) {
		doc := docOf(pagetree.NewReference("child-a", "p", "page", false))
		assert.False(t, pagetree.ReferenceAt(doc, -1, "child-a"))
		assert.False(t, pagetree.ReferenceAt(doc, 1, "child-a"))
		assert.False(t, pagetree.ReferenceAt(nil, 0, "child-a"))
	})
}

func TestInsertReference(t *testing.T) {
	t.Run("insert at end test", func(t *testing.T) {
		doc := docOf(paragraph("1"), paragraph("2"))
		ref := pagetree.NewReference("child-a", "p", "page", false)

		updated, step := pagetree.InsertReference(doc, ref, pagetree.AtEnd())
		assert.Equal(t, 2, step.From)
		assert.Len(t, updated.Content, 3)
		assert.Equal(t, []string{"child-a"}, referenceIDs(updated))

		// input is not mutated
		assert.Len(t, doc.Content, 2)
	})

	t.Run("insert after sibling reference test", func(t *testing.T) {
		doc := docOf(
			paragraph("1"),
			pagetree.NewReference("child-a", "p", "page", false),
			paragraph("2"),
		)
		ref := pagetree.NewReference("child-b", "p2", "page", false)

		updated, step := pagetree.InsertReference(doc, ref, pagetree.After("child-a"))
		assert.Equal(t, 2, step.From)
		assert.Equal(t, "child-b", updated.Content[2].ReferenceID())
		assert.Len(t, updated.Content, 4)
	})

	t.Run("insert after missing sibling falls back to end test", func(t *testing.T) {
		doc := docOf(paragraph("1"))
		ref := pagetree.NewReference("child-b", "p2", "page", false)

		updated, step := pagetree.InsertReference(doc, ref, pagetree.After("no-such-page"))
		assert.Equal(t, 1, step.From)
		assert.Equal(t, "child-b", updated.Content[1].ReferenceID())
	})

	t.Run("insert at ordinal test", func(t *testing.T) {
		doc := docOf(paragraph("1"), paragraph("2"))
		ref := pagetree.NewReference("child-a", "p", "page", false)

		updated, _ := pagetree.InsertReference(doc, ref, pagetree.AtIndex(1))
		assert.Equal(t, "child-a", updated.Content[1].ReferenceID())

		// out-of-range ordinals are clamped
		updated, _ = pagetree.InsertReference(doc, ref, pagetree.AtIndex(99))
		assert.Equal(t, "child-a", updated.Content[2].ReferenceID())
	})

	t.Run("insert into empty document test", func(t *testing.T) {
		ref := pagetree.NewReference("child-a", "p", "page", false)

		updated, _ := pagetree.InsertReference(nil, ref, pagetree.AtEnd())
		assert.Equal(t, pagetree.TypeDoc, updated.Type)
		assert.Len(t, updated.Content, 1)
		assert.Equal(t, "child-a", updated.Content[0].ReferenceID())
	})
}

func TestRemoveReference(t *testing.T) {
	t.Run("remove reference test", func(t *testing.T) {
		doc := docOf(
			paragraph("1"),
			pagetree.NewReference("child-a", "p", "page", false),
			paragraph("2"),
		)

		updated, step, found := pagetree.RemoveReference(doc, "child-a")
		assert.True(t, found)
		assert.Equal(t, 1, step.From)
		assert.Equal(t, 2, step.To)
		assert.Len(t, updated.Content, 2)
		assert.Nil(t, pagetree.FindReference(updated, "child-a"))

		// input is not mutated
		assert.NotNil(t, pagetree.FindReference(doc, "child-a"))
	})

	t.Run("remove collapses emptied container test", func(t *testing.T) {
		doc := docOf(
			paragraph("1"),
			&pagetree.Node{
				Type:    "columnBlock",
				Content: []*pagetree.Node{pagetree.NewReference("child-a", "p", "page", false)},
			},
		)

		updated, _, found := pagetree.RemoveReference(doc, "child-a")
		assert.True(t, found)
		assert.Len(t, updated.Content, 1)
		assert.Equal(t, pagetree.TypeParagraph, updated.Content[0].Type)
	})

	t.Run("remove missing reference test", func(t *testing.T) {
		doc := docOf(paragraph("1"))

		updated, _, found := pagetree.RemoveReference(doc, "child-a")
		assert.False(t, found)
		assert.Equal(t, doc, updated)
	})
}

func TestApplySteps(t *testing.T) {
	t.Run("steps apply in order test", func(t *testing.T) {
		doc := docOf(paragraph("1"), paragraph("2"))

		updated, err := pagetree.ApplySteps(doc, []pagetree.Step{
			{Type: pagetree.StepTypeReplace, From: 1, To: 1, Slice: []*pagetree.Node{
				pagetree.NewReference("child-a", "p", "page", false),
			}},
			{Type: pagetree.StepTypeReplace, From: 0, To: 1},
		})
		assert.NoError(t, err)
		assert.Len(t, updated.Content, 2)
		assert.Equal(t, "child-a", updated.Content[0].ReferenceID())
	})

	t.Run("out of range step test", func(t *testing.T) {
		doc := docOf(paragraph("1"))

		_, err := pagetree.ApplySteps(doc, []pagetree.Step{
			{Type: pagetree.StepTypeReplace, From: 0, To: 5},
		})
		assert.ErrorIs(t, err, pagetree.ErrInvalidStep)
	})
}

func TestPlainText(t *testing.T) {
	doc := docOf(
		paragraph("hello "),
		pagetree.NewReference("child-a", "p", "page", false),
		paragraph("world"),
	)
	assert.Equal(t, "hello world", doc.PlainText())
	assert.Equal(t, "", (*pagetree.Node)(nil).PlainText())
}
