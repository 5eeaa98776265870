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
	"bufio"
	"bytes"
	"io"
	"testing"
)

// Bool2 is optional, so it is a pointer: nil means null, matching the
// same pointer-for-optional convention group references and sequences
// already use (compile.go's deref/setNull helpers).
type testPayload struct {
	Bool1 bool
	Bool2 *bool
}

func (testPayload) BlinkGroupName() string { return "Payload" }

type testEvent struct {
	Bool1 bool
}

func (testEvent) BlinkGroupName() string { return "Event" }

type testEnvelope struct {
	Payload any
}

func buildPayloadCodec(t *testing.T) *Codec {
	t.Helper()
	schema, err := NewSchema([]GroupDef{
		{Name: "Payload", ID: id(1), Fields: []FieldDef{
			{Name: "bool1", ID: id(1), Type: TypeDef{Kind: KindBoolean}, Required: true},
			{Name: "bool2", ID: id(2), Type: TypeDef{Kind: KindBoolean}},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	binding := NewBinding()
	if err := binding.Register("Payload", testPayload{}); err != nil {
		t.Fatal(err)
	}
	table, err := NewCodecTable(schema, binding)
	if err != nil {
		t.Fatal(err)
	}
	return NewCodec(table, nil)
}

// TestEncodeConcreteScenario reproduces the worked example of a
// Payload{bool1: false, bool2: null} message: the fields encode to
// [0x00, 0xC0] after the framing preamble and group id.
func TestEncodeConcreteScenario(t *testing.T) {
	codec := buildPayloadCodec(t)
	var buf bytes.Buffer
	if err := codec.Encode(&buf, &testPayload{Bool1: false, Bool2: nil}); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	// preamble(4) + group id (1 byte, value 1) + fields
	wantTail := []byte{0x00, 0xC0}
	got := raw[len(raw)-2:]
	if !bytes.Equal(got, wantTail) {
		t.Fatalf("field bytes = % x, want % x", got, wantTail)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := buildPayloadCodec(t)
	truth := true
	cases := []testPayload{
		{Bool1: false, Bool2: nil},
		{Bool1: true, Bool2: &truth},
	}
	for _, want := range cases {
		var buf bytes.Buffer
		if err := codec.Encode(&buf, &want); err != nil {
			t.Fatal(err)
		}
		got, err := codec.Decode(bufio.NewReader(&buf))
		if err != nil {
			t.Fatal(err)
		}
		p, ok := got.(*testPayload)
		if !ok {
			t.Fatalf("got %T, want *testPayload", got)
		}
		if p.Bool1 != want.Bool1 {
			t.Errorf("Bool1 = %v, want %v", p.Bool1, want.Bool1)
		}
		if (p.Bool2 == nil) != (want.Bool2 == nil) {
			t.Fatalf("Bool2 nilness mismatch: got %v want %v", p.Bool2, want.Bool2)
		}
		if p.Bool2 != nil && *p.Bool2 != *want.Bool2 {
			t.Errorf("Bool2 = %v, want %v", *p.Bool2, *want.Bool2)
		}
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	codec := buildPayloadCodec(t)
	var buf bytes.Buffer
	if err := codec.Encode(&buf, &testPayload{Bool1: true}); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-1]
	if _, err := codec.Decode(bufio.NewReader(bytes.NewReader(truncated))); err != ErrTruncated {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}

func TestDecodeEOFCleanly(t *testing.T) {
	codec := buildPayloadCodec(t)
	_, err := codec.Decode(bufio.NewReader(bytes.NewReader(nil)))
	if err != io.EOF {
		t.Fatalf("got %v on empty input, want io.EOF", err)
	}
}

func TestDecodeSkipsTrailingUnknownBytes(t *testing.T) {
	codec := buildPayloadCodec(t)
	var buf bytes.Buffer
	if err := codec.Encode(&buf, &testPayload{Bool1: true}); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()

	// splice a forward-compatible unknown trailing field into the frame
	// body by widening the preamble's declared size and appending a byte
	// after the known fields but inside the frame.
	size := int(raw[1]) | int(raw[2])<<8 | int(raw[3])<<16
	patched := append([]byte(nil), raw[:4]...)
	patched[1] = byte(size + 1)
	patched = append(patched, raw[4:]...)
	patched = append(patched, 0xFF)

	got, err := codec.Decode(bufio.NewReader(bytes.NewReader(patched)))
	if err != nil {
		t.Fatal(err)
	}
	p := got.(*testPayload)
	if !p.Bool1 {
		t.Fatal("Bool1 should still decode true despite a trailing unknown byte")
	}
}

func TestDynamicReferenceRoundTrip(t *testing.T) {
	schema, err := NewSchema([]GroupDef{
		{Name: "Event", ID: id(1), Fields: []FieldDef{
			{Name: "bool1", Type: TypeDef{Kind: KindBoolean}, Required: true},
		}},
		{Name: "Envelope", ID: id(2), Fields: []FieldDef{
			{Name: "payload", Type: TypeDef{Kind: KindDynamicReference}},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	binding := NewBinding()
	if err := binding.Register("Event", testEvent{}); err != nil {
		t.Fatal(err)
	}
	if err := binding.Register("Envelope", testEnvelope{}); err != nil {
		t.Fatal(err)
	}
	table, err := NewCodecTable(schema, binding)
	if err != nil {
		t.Fatal(err)
	}
	codec := NewCodec(table, nil)

	var buf bytes.Buffer
	env := &testEnvelope{Payload: testEvent{Bool1: true}}
	if err := codec.Encode(&buf, env); err != nil {
		t.Fatal(err)
	}
	got, err := codec.Decode(bufio.NewReader(&buf))
	if err != nil {
		t.Fatal(err)
	}
	out, ok := got.(*testEnvelope)
	if !ok {
		t.Fatalf("got %T, want *testEnvelope", got)
	}
	ev, ok := out.Payload.(*testEvent)
	if !ok {
		t.Fatalf("Payload = %T, want *testEvent", out.Payload)
	}
	if !ev.Bool1 {
		t.Errorf("Bool1 = false, want true")
	}
}
