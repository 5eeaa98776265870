// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package blink

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadSchemaBasicGroupAndFields(t *testing.T) {
	doc := `
groups:
  - name: Payload
    id: 1
    fields:
      - name: bool1
        id: 1
        required: true
        type:
          kind: boolean
      - name: note
        id: 2
        type:
          kind: string
          maxSize: 64
`
	schema, err := LoadSchema(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	g, ok := schema.GroupByName("Payload")
	if !ok {
		t.Fatal("Payload group not found")
	}
	if g.ID == nil || *g.ID != 1 {
		t.Fatalf("group id = %v, want 1", g.ID)
	}
	if len(g.Fields) != 2 {
		t.Fatalf("len(Fields) = %d, want 2", len(g.Fields))
	}
	if g.Fields[0].Type.Kind != KindBoolean {
		t.Errorf("Fields[0].Type.Kind = %v, want KindBoolean", g.Fields[0].Type.Kind)
	}
	if !g.Fields[0].Required {
		t.Error("Fields[0].Required = false, want true")
	}
	if g.Fields[1].Type.Kind != KindString || g.Fields[1].Type.MaxSize != 64 {
		t.Errorf("Fields[1].Type = %+v, want KindString maxSize 64", g.Fields[1].Type)
	}
}

func TestLoadSchemaInheritanceAndDynamicReference(t *testing.T) {
	doc := `
groups:
  - name: Event
    id: 1
  - name: Click
    id: 2
    super: Event
    fields:
      - name: x
        type:
          kind: int
          bits: 32
          signed: true
  - name: Envelope
    id: 3
    fields:
      - name: payload
        type:
          kind: dynamicReference
          group: Event
`
	schema, err := LoadSchema(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	chain, err := schema.InheritanceChain("Click")
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 || chain[0].Name != "Event" || chain[1].Name != "Click" {
		t.Fatalf("unexpected chain: %+v", chain)
	}
	env, ok := schema.GroupByName("Envelope")
	if !ok {
		t.Fatal("Envelope not found")
	}
	ft := env.Fields[0].Type
	if ft.Kind != KindDynamicReference || ft.GroupName != "Event" {
		t.Errorf("payload type = %+v, want dynamicReference to Event", ft)
	}
}

func TestLoadSchemaSequenceOfEnum(t *testing.T) {
	doc := `
groups:
  - name: Holder
    id: 1
    fields:
      - name: colors
        type:
          kind: sequence
          component:
            kind: enum
            symbols:
              - name: RED
                value: 0
              - name: GREEN
                value: 1
`
	schema, err := LoadSchema(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	g, _ := schema.GroupByName("Holder")
	ft := g.Fields[0].Type
	if ft.Kind != KindSequence {
		t.Fatalf("Kind = %v, want KindSequence", ft.Kind)
	}
	if ft.Component == nil || ft.Component.Kind != KindEnum {
		t.Fatalf("Component = %+v, want KindEnum", ft.Component)
	}
	if len(ft.Component.EnumSymbols) != 2 || ft.Component.EnumSymbols[1].Name != "GREEN" {
		t.Errorf("EnumSymbols = %+v", ft.Component.EnumSymbols)
	}
}

func TestLoadSchemaUnknownTypeKind(t *testing.T) {
	doc := `
groups:
  - name: Bad
    fields:
      - name: x
        type:
          kind: nonsense
`
	_, err := LoadSchema(strings.NewReader(doc))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("got %v, want ErrUnsupportedType", err)
	}
}

func TestLoadSchemaSequenceMissingComponent(t *testing.T) {
	doc := `
groups:
  - name: Bad
    fields:
      - name: x
        type:
          kind: sequence
`
	_, err := LoadSchema(strings.NewReader(doc))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("got %v, want ErrUnsupportedType", err)
	}
}

func TestLoadSchemaMalformedYAML(t *testing.T) {
	_, err := LoadSchema(strings.NewReader("groups: [this is not: valid"))
	if err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLoadSchemaPropagatesDuplicateGroupID(t *testing.T) {
	doc := `
groups:
  - name: A
    id: 1
  - name: B
    id: 1
`
	_, err := LoadSchema(strings.NewReader(doc))
	if !errors.Is(err, ErrDuplicateGroupID) {
		t.Fatalf("got %v, want ErrDuplicateGroupID", err)
	}
}
