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

// This file implements the Blink variable-length coding (VLC) described in
// spec.md §4.A: a self-delimiting little-endian integer representation
// with three frames (one-byte, two-byte, length-prefixed) plus a single
// reserved byte, 0xC0, denoting null.
//
// The frame shapes mirror ion/writer.go's reserved-slot uvarint scheme
// (UnsafeWriteUVarint, Uvsize) even though the bit layout is Blink's own.

// nullByte is the wire representation of a null value for any nullable
// primitive.
const nullByte byte = 0xC0

// appendNull appends the null marker byte.
func appendNull(dst []byte) []byte {
	return append(dst, nullByte)
}

// unsignedByteLen returns the minimum number of little-endian bytes
// needed to hold v, used for the length-prefixed VLC form.
func unsignedByteLen(v uint64) int {
	for n := 1; n < 8; n++ {
		if v>>(uint(n)*8) == 0 {
			return n
		}
	}
	return 8
}

// signedByteLen returns the minimum number of little-endian two's
// complement bytes needed to hold v.
func signedByteLen(v int64) int {
	for n := 1; n < 8; n++ {
		shifted := v >> (uint(n)*8 - 1)
		if shifted == 0 || shifted == -1 {
			return n
		}
	}
	return 8
}

// appendUvarint appends the canonical (minimum-width) unsigned VLC
// encoding of v to dst.
func appendUvarint(dst []byte, v uint64) []byte {
	switch {
	case v <= 0x7F:
		return append(dst, byte(v))
	case v <= 0x3FFF:
		return append(dst, byte(v&0x3F)|0x80, byte(v>>6))
	default:
		n := unsignedByteLen(v)
		dst = append(dst, 0xC0|byte(n))
		for i := 0; i < n; i++ {
			dst = append(dst, byte(v))
			v >>= 8
		}
		return dst
	}
}

// uvarintSize returns the number of bytes appendUvarint would emit for v.
func uvarintSize(v uint64) int {
	switch {
	case v <= 0x7F:
		return 1
	case v <= 0x3FFF:
		return 2
	default:
		return 1 + unsignedByteLen(v)
	}
}

// appendVarint appends the canonical (minimum-width) signed VLC
// encoding of v to dst.
func appendVarint(dst []byte, v int64) []byte {
	switch {
	case v >= -64 && v <= 63:
		return append(dst, byte(v)&0x7F)
	case v >= -8192 && v <= 8191:
		uv := uint64(v) & 0x3FFF
		return append(dst, byte(uv&0x3F)|0x80, byte(uv>>6))
	default:
		n := signedByteLen(v)
		dst = append(dst, 0xC0|byte(n))
		uv := uint64(v)
		for i := 0; i < n; i++ {
			dst = append(dst, byte(uv))
			uv >>= 8
		}
		return dst
	}
}

// varintSize returns the number of bytes appendVarint would emit for v.
func varintSize(v int64) int {
	switch {
	case v >= -64 && v <= 63:
		return 1
	case v >= -8192 && v <= 8191:
		return 2
	default:
		return 1 + signedByteLen(v)
	}
}

// vlcHeaderLen returns the total encoded length (header + payload) of the
// VLC value starting at buf[0], without decoding its value. It is used to
// skip over or bound primitives whose content is not otherwise needed.
func vlcHeaderLen(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, ErrTruncated
	}
	b0 := buf[0]
	switch {
	case b0&0x80 == 0:
		return 1, nil
	case b0&0xC0 == 0x80:
		if len(buf) < 2 {
			return 0, ErrTruncated
		}
		return 2, nil
	default:
		n := int(b0 & 0x3F)
		total := 1 + n
		if len(buf) < total {
			return 0, ErrTruncated
		}
		return total, nil
	}
}

// readUvarint reads an unsigned VLC value from the front of buf, returning
// the value, the remaining bytes, whether the value was null, and any
// error. Decoders accept non-canonical (wider-than-necessary) encodings.
func readUvarint(buf []byte) (v uint64, rest []byte, isNull bool, err error) {
	if len(buf) == 0 {
		return 0, buf, false, ErrTruncated
	}
	b0 := buf[0]
	switch {
	case b0&0x80 == 0:
		return uint64(b0), buf[1:], false, nil
	case b0&0xC0 == 0x80:
		if len(buf) < 2 {
			return 0, buf, false, ErrTruncated
		}
		v = uint64(b0&0x3F) | uint64(buf[1])<<6
		return v, buf[2:], false, nil
	default:
		n := int(b0 & 0x3F)
		if n == 0 {
			return 0, buf[1:], true, nil
		}
		if n > 8 {
			return 0, buf, false, ErrInvalidVlcHeader
		}
		if len(buf) < 1+n {
			return 0, buf, false, ErrTruncated
		}
		for i := 0; i < n; i++ {
			v |= uint64(buf[1+i]) << (uint(i) * 8)
		}
		return v, buf[1+n:], false, nil
	}
}

// readVarint reads a signed VLC value from the front of buf.
func readVarint(buf []byte) (v int64, rest []byte, isNull bool, err error) {
	if len(buf) == 0 {
		return 0, buf, false, ErrTruncated
	}
	b0 := buf[0]
	switch {
	case b0&0x80 == 0:
		b := b0 & 0x7F
		if b&0x40 != 0 {
			v = int64(b) - 0x80
		} else {
			v = int64(b)
		}
		return v, buf[1:], false, nil
	case b0&0xC0 == 0x80:
		if len(buf) < 2 {
			return 0, buf, false, ErrTruncated
		}
		uv := uint64(b0&0x3F) | uint64(buf[1])<<6
		if uv&0x2000 != 0 {
			v = int64(uv) - 0x4000
		} else {
			v = int64(uv)
		}
		return v, buf[2:], false, nil
	default:
		n := int(b0 & 0x3F)
		if n == 0 {
			return 0, buf[1:], true, nil
		}
		if n > 8 {
			return 0, buf, false, ErrInvalidVlcHeader
		}
		if len(buf) < 1+n {
			return 0, buf, false, ErrTruncated
		}
		var uv uint64
		for i := 0; i < n; i++ {
			uv |= uint64(buf[1+i]) << (uint(i) * 8)
		}
		// sign-extend from the most significant bit of the last byte
		if n < 8 && buf[n]&0x80 != 0 {
			uv |= ^uint64(0) << (uint(n) * 8)
		}
		v = int64(uv)
		return v, buf[1+n:], false, nil
	}
}
