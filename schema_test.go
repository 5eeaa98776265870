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
	"testing"
)

func id(v uint64) *uint64 { return &v }

func TestNewSchemaDuplicateGroupID(t *testing.T) {
	_, err := NewSchema([]GroupDef{
		{Name: "A", ID: id(1)},
		{Name: "B", ID: id(1)},
	})
	if !errors.Is(err, ErrDuplicateGroupID) {
		t.Fatalf("got %v, want ErrDuplicateGroupID", err)
	}
}

func TestNewSchemaDuplicateFieldID(t *testing.T) {
	_, err := NewSchema([]GroupDef{
		{Name: "A", Fields: []FieldDef{
			{Name: "x", ID: id(1)},
			{Name: "y", ID: id(1)},
		}},
	})
	if !errors.Is(err, ErrDuplicateFieldID) {
		t.Fatalf("got %v, want ErrDuplicateFieldID", err)
	}
}

func TestNewSchemaUnresolvedSuperGroup(t *testing.T) {
	_, err := NewSchema([]GroupDef{
		{Name: "Child", SuperGroup: "Missing"},
	})
	if !errors.Is(err, ErrUnresolvedReference) {
		t.Fatalf("got %v, want ErrUnresolvedReference", err)
	}
}

func TestNewSchemaInheritanceCycle(t *testing.T) {
	_, err := NewSchema([]GroupDef{
		{Name: "A", SuperGroup: "B"},
		{Name: "B", SuperGroup: "A"},
	})
	if !errors.Is(err, ErrInheritanceCycle) {
		t.Fatalf("got %v, want ErrInheritanceCycle", err)
	}
}

func TestInheritanceChainOrder(t *testing.T) {
	schema, err := NewSchema([]GroupDef{
		{Name: "Base", Fields: []FieldDef{{Name: "a"}}},
		{Name: "Mid", SuperGroup: "Base", Fields: []FieldDef{{Name: "b"}}},
		{Name: "Leaf", SuperGroup: "Mid", Fields: []FieldDef{{Name: "c"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	chain, err := schema.InheritanceChain("Leaf")
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 3 {
		t.Fatalf("len(chain) = %d, want 3", len(chain))
	}
	names := []string{chain[0].Name, chain[1].Name, chain[2].Name}
	want := []string{"Base", "Mid", "Leaf"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("chain[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestDynamicSubgroupsBreadthFirst(t *testing.T) {
	schema, err := NewSchema([]GroupDef{
		{Name: "Root", ID: id(1)},
		{Name: "ChildA", ID: id(2), SuperGroup: "Root"},
		{Name: "ChildB", ID: id(3), SuperGroup: "Root"},
		{Name: "GrandChild", ID: id(4), SuperGroup: "ChildA"},
	})
	if err != nil {
		t.Fatal(err)
	}
	subs, err := schema.DynamicSubgroups("Root")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 4 {
		t.Fatalf("len(subs) = %d, want 4", len(subs))
	}
	if subs[0].Name != "Root" {
		t.Fatalf("subs[0] = %q, want Root", subs[0].Name)
	}
	want := []string{"Root", "ChildA", "ChildB", "GrandChild"}
	for i := range want {
		if subs[i].Name != want[i] {
			t.Errorf("subs[%d] = %q, want %q", i, subs[i].Name, want[i])
		}
	}
}

func TestGroupByNameAndID(t *testing.T) {
	schema, err := NewSchema([]GroupDef{
		{Name: "Payload", ID: id(1)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := schema.GroupByName("Payload"); !ok {
		t.Error("GroupByName(Payload) not found")
	}
	if _, ok := schema.GroupByID(1); !ok {
		t.Error("GroupByID(1) not found")
	}
	if _, ok := schema.GroupByName("Missing"); ok {
		t.Error("GroupByName(Missing) unexpectedly found")
	}
}
