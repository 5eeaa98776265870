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
	"errors"
	"fmt"
	"io"
)

// ByteSource and ByteSink are spec.md §6's external stream contracts. Go's
// io.Reader and io.Writer already compose the single-byte and bulk read/
// write operations the spec describes, the way ion/reader.go's Peek
// takes a *bufio.Reader rather than inventing a parallel stream
// interface, so the core codec uses them directly instead of a bespoke
// pair of interfaces.
type ByteSource = io.Reader
type ByteSink = io.Writer

// preambleReserve is the width, in bytes, of the fixed preamble slot
// reserved before the size of a frame is known: one header byte plus
// three little-endian size bytes (24-bit size, up to 16MiB payloads),
// per spec.md §4.F's canonical choice. spec.md §9 calls this "a fixed
// 4-byte overhead per frame", traded for a single pass with no auxiliary
// allocation — so, unlike WriteSized's nested-group reservation, this
// slot is not shrunk back down when the payload is small.
const preambleReserve = 4

// Codec runs the framed codec frontend of spec.md §4.F over a compiled
// CodecTable. A Codec instance is single-message-at-a-time (spec.md §5):
// construct one per concurrent caller, or reuse one sequentially; the
// CodecTable and Schema it was built from are immutable and may be
// shared freely across Codec instances.
type Codec struct {
	table *CodecTable
	pool  *SegmentPool
}

// NewCodec creates a Codec over table. A nil pool is valid; buffers then
// grow with ordinary allocation instead of leasing pool segments.
func NewCodec(table *CodecTable, pool *SegmentPool) *Codec {
	return &Codec{table: table, pool: pool}
}

// Encode implements spec.md §4.E's encode dispatcher plus §4.F's framing:
// resolve obj's group, run its field instructions into an internal
// buffer prefixed by a preamble, then stream the result to sink.
func (c *Codec) Encode(sink ByteSink, obj any) error {
	gi, v, err := c.table.encodeDispatch(obj)
	if err != nil {
		return err
	}
	if gi.GroupID == nil {
		return fmt.Errorf("%w: group %q has no id and cannot be framed as a top-level message", ErrUnknownGroupType, gi.GroupName)
	}
	buf := NewBuffer(c.pool)
	defer buf.Reset()

	frameStart := len(buf.seg)
	buf.Grow(preambleReserve)
	buf.seg = buf.seg[:frameStart+preambleReserve]
	payloadStart := len(buf.seg)

	buf.seg = appendUvarint(buf.seg, *gi.GroupID)
	if err := encodeGroupFields(buf, gi, v); err != nil {
		return err
	}

	size := len(buf.seg) - payloadStart
	if err := patchPreamble(buf, frameStart, size); err != nil {
		return err
	}
	return buf.CopyTo(sink, frameStart, len(buf.seg))
}

// patchPreamble back-patches the reserved preamble slot at frameStart
// with size, widening it (and shifting the payload right) only if size
// overruns the 24-bit field the reservation normally provides, per
// spec.md §4.F step 4's "MAY instead restart with a wider reservation
// and memmove" allowance.
func patchPreamble(buf *Buffer, frameStart, size int) error {
	const max24 = 1<<24 - 1
	if size <= max24 {
		buf.seg[frameStart] = 0xC3
		buf.seg[frameStart+1] = byte(size)
		buf.seg[frameStart+2] = byte(size >> 8)
		buf.seg[frameStart+3] = byte(size >> 16)
		return nil
	}
	n := unsignedByteLen(uint64(size))
	if n < 3 {
		n = 3
	}
	needWidth := 1 + n
	delta := needWidth - preambleReserve
	if delta < 0 {
		return ErrFrameTooLarge
	}
	oldLen := len(buf.seg)
	buf.Grow(delta)
	buf.seg = buf.seg[:oldLen+delta]
	copy(buf.seg[frameStart+needWidth:], buf.seg[frameStart+preambleReserve:oldLen])
	buf.seg[frameStart] = 0xC0 | byte(n)
	v := uint64(size)
	for i := 0; i < n; i++ {
		buf.seg[frameStart+1+i] = byte(v)
		v >>= 8
	}
	return nil
}

// Decode implements spec.md §4.F's decoding protocol: read the preamble,
// dispatch on group id, run field instructions against a bounded view of
// the frame, and skip any trailing unknown bytes. It returns io.EOF when
// the source is cleanly at its end (a size of 0, or EOF before any byte
// of a new frame is read).
func (c *Codec) Decode(r *bufio.Reader) (any, error) {
	size, isNull, err := readUvarintFromReader(r)
	if err != nil {
		return nil, err
	}
	if isNull || size == 0 {
		return nil, io.EOF
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	groupID, rest, _, err := readUvarint(body)
	if err != nil {
		return nil, err
	}
	gi, inst, err := c.table.decodeDispatch(groupID)
	if err != nil {
		return nil, err
	}
	// trailing bytes within body are forward-compatible unknown fields
	// and are silently skipped (spec.md §4.F step 4); decodeGroupFields
	// simply stops once it has run every known field instruction.
	if _, err := decodeGroupFields(rest, gi, inst.Elem()); err != nil {
		if errors.Is(err, ErrTruncated) {
			return nil, fmt.Errorf("%w", ErrFrameOverrun)
		}
		return nil, err
	}
	return inst.Interface(), nil
}

// readUvarintFromReader reads an unsigned VLC directly from a
// *bufio.Reader, one byte at a time, the way ion/reader.go's Peek reads
// a bounded prefix off a *bufio.Reader before the full object size is
// known. A clean io.EOF on the very first byte is returned unwrapped so
// callers can treat it as end-of-stream rather than a decode fault.
func readUvarintFromReader(r *bufio.Reader) (v uint64, isNull bool, err error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, false, err
	}
	switch {
	case b0&0x80 == 0:
		return uint64(b0), false, nil
	case b0&0xC0 == 0x80:
		b1, err := r.ReadByte()
		if err != nil {
			return 0, false, ErrTruncated
		}
		return uint64(b0&0x3F) | uint64(b1)<<6, false, nil
	default:
		n := int(b0 & 0x3F)
		if n == 0 {
			return 0, true, nil
		}
		if n > 8 {
			return 0, false, ErrInvalidVlcHeader
		}
		for i := 0; i < n; i++ {
			c, err := r.ReadByte()
			if err != nil {
				return 0, false, ErrTruncated
			}
			v |= uint64(c) << (uint(i) * 8)
		}
		return v, false, nil
	}
}
