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
	"bytes"
	"testing"
)

func TestAppendUvarintConcreteScenarios(t *testing.T) {
	cases := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x02}},
		{16384, []byte{0xC2, 0x00, 0x40}},
		{1 << 32, []byte{0xC5, 0x00, 0x00, 0x00, 0x00, 0x01}},
	}
	for _, c := range cases {
		got := appendUvarint(nil, c.v)
		if !bytes.Equal(got, c.want) {
			t.Errorf("appendUvarint(%d) = % x, want % x", c.v, got, c.want)
		}
		if n := uvarintSize(c.v); n != len(c.want) {
			t.Errorf("uvarintSize(%d) = %d, want %d", c.v, n, len(c.want))
		}
	}
}

func TestUvarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 127, 128, 0x3FFF, 0x4000, 1 << 20, 1 << 32, 1<<64 - 1}
	for _, v := range values {
		enc := appendUvarint(nil, v)
		got, rest, isNull, err := readUvarint(enc)
		if err != nil {
			t.Fatalf("readUvarint(%d): %v", v, err)
		}
		if isNull {
			t.Fatalf("readUvarint(%d): unexpected null", v)
		}
		if got != v {
			t.Fatalf("readUvarint round trip: got %d, want %d", got, v)
		}
		if len(rest) != 0 {
			t.Fatalf("readUvarint left %d trailing bytes", len(rest))
		}
	}
}

func TestVarintRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 63, -64, 64, -65, 8191, -8192, 8192, -8193, 1 << 40, -(1 << 40)}
	for _, v := range values {
		enc := appendVarint(nil, v)
		got, rest, isNull, err := readVarint(enc)
		if err != nil {
			t.Fatalf("readVarint(%d): %v", v, err)
		}
		if isNull {
			t.Fatalf("readVarint(%d): unexpected null", v)
		}
		if got != v {
			t.Fatalf("readVarint round trip: got %d, want %d", got, v)
		}
		if len(rest) != 0 {
			t.Fatalf("readVarint left %d trailing bytes", len(rest))
		}
	}
}

func TestReadUvarintNull(t *testing.T) {
	v, rest, isNull, err := readUvarint([]byte{nullByte, 0xAA})
	if err != nil {
		t.Fatal(err)
	}
	if !isNull || v != 0 {
		t.Fatalf("expected null, got v=%d isNull=%v", v, isNull)
	}
	if !bytes.Equal(rest, []byte{0xAA}) {
		t.Fatalf("unexpected remainder % x", rest)
	}
}

func TestReadUvarintNonCanonicalWiderFormAccepted(t *testing.T) {
	// 0 encoded in the two-byte form instead of the canonical one-byte form.
	wide := []byte{0x80, 0x00}
	v, rest, isNull, err := readUvarint(wide)
	if err != nil {
		t.Fatal(err)
	}
	if isNull || v != 0 {
		t.Fatalf("got v=%d isNull=%v, want 0", v, isNull)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected remainder % x", rest)
	}
}

func TestReadUvarintTruncated(t *testing.T) {
	cases := [][]byte{
		{},
		{0x80},             // two-byte form missing second byte
		{0xC3, 0x01, 0x02}, // length-prefixed form declares 3 bytes, has 2
	}
	for _, buf := range cases {
		if _, _, _, err := readUvarint(buf); err != ErrTruncated {
			t.Errorf("readUvarint(% x): got %v, want ErrTruncated", buf, err)
		}
	}
}

func TestVlcHeaderLen(t *testing.T) {
	cases := []struct {
		buf  []byte
		want int
	}{
		{[]byte{0x7F}, 1},
		{[]byte{0x80, 0x02}, 2},
		{[]byte{0xC2, 0x00, 0x40}, 3},
		{[]byte{nullByte}, 1},
	}
	for _, c := range cases {
		n, err := vlcHeaderLen(c.buf)
		if err != nil {
			t.Fatalf("vlcHeaderLen(% x): %v", c.buf, err)
		}
		if n != c.want {
			t.Errorf("vlcHeaderLen(% x) = %d, want %d", c.buf, n, c.want)
		}
	}
}
