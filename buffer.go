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
	"io"

	"golang.org/x/exp/slices"
)

// Buffer is the internal growable byte buffer of spec.md §4.B: a
// contiguous region backed by a pool-leased segment, with random-access
// overwrite and rewindable-position backpatching for the framed codec
// frontend's size prefix. It follows the same reserved-slot discipline
// as ion/writer.go's Buffer.term, but keeps no explicit stack of nested
// segments: the preamble slot and each WriteSized reservation are
// tracked by their callers, and nested WriteSized calls nest through the
// call stack.
type Buffer struct {
	pool *SegmentPool
	seg  []byte
}

// NewBuffer creates a Buffer that leases its backing storage from pool.
// A nil pool is valid; the buffer then grows with ordinary allocation.
func NewBuffer(pool *SegmentPool) *Buffer {
	b := &Buffer{pool: pool}
	if pool != nil {
		b.seg = pool.Acquire()
	}
	return b
}

// Len returns the number of bytes written so far (the write cursor).
func (b *Buffer) Len() int { return len(b.seg) }

// Bytes returns the buffer's current contents. The returned slice is only
// valid until the next Write* call or Reset.
func (b *Buffer) Bytes() []byte { return b.seg }

// WriteByte appends a single byte, implementing io.ByteWriter.
func (b *Buffer) WriteByte(c byte) error {
	b.seg = append(b.seg, c)
	return nil
}

// Write appends p, implementing io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.seg = append(b.seg, p...)
	return len(p), nil
}

// WriteString appends s without an intermediate []byte conversion.
func (b *Buffer) WriteString(s string) (int, error) {
	b.seg = append(b.seg, s...)
	return len(s), nil
}

// Grow ensures the buffer has room for at least n more bytes without
// reallocating, mirroring slices.Grow's amortized-doubling behavior.
func (b *Buffer) Grow(n int) {
	b.seg = slices.Grow(b.seg, n)
}

// Reserve appends n zero bytes and returns the offset at which they
// start, a "rewindable position" per spec.md §4.B that the caller later
// overwrites with PatchAt once the true value (typically a size prefix)
// is known.
func (b *Buffer) Reserve(n int) int {
	start := len(b.seg)
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.seg = append(b.seg, 0)
	}
	return start
}

// PatchAt overwrites the len(data) bytes at pos with data. len(data) must not
// exceed the number of bytes reserved at pos; it is the caller's
// responsibility to reserve wide enough (spec.md §4.F step 4).
func (b *Buffer) PatchAt(pos int, data []byte) {
	copy(b.seg[pos:], data)
}

// At returns a read-only view of the n bytes starting at pos, for the
// rare case a caller needs to inspect already-written content (e.g. to
// decide whether a size fits its reserved width).
func (b *Buffer) At(pos, n int) []byte {
	return b.seg[pos : pos+n]
}

// CopyTo streams the closed sub-range [start, end) to sink without
// exposing the buffer's backing array to the caller past the call,
// mirroring bytes.Buffer.WriteTo's single-Write handoff.
func (b *Buffer) CopyTo(sink io.Writer, start, end int) error {
	if start < 0 || end > len(b.seg) || start > end {
		panic("blink.Buffer.CopyTo: range out of bounds")
	}
	_, err := sink.Write(b.seg[start:end])
	return err
}

// WriteSized writes a canonically-minimal unsigned-VLC byte length
// followed by whatever write appends, backpatching the length once it is
// known. It optimistically reserves a single header byte (the common
// case for small nested groups) and shifts the written payload right only
// if the final size needs a wider VLC form, following ion/writer.go's
// Buffer.term/shift scheme. If write returns an error, the buffer is
// rolled back to its state before the reservation.
func (b *Buffer) WriteSized(write func() error) error {
	start := len(b.seg)
	b.seg = append(b.seg, 0)
	if err := write(); err != nil {
		b.seg = b.seg[:start]
		return err
	}
	size := len(b.seg) - (start + 1)
	b.fixSize(start, 1, size)
	return nil
}

// fixSize overwrites the reservedWidth-byte header at start with the
// canonical VLC encoding of size, growing and right-shifting the payload
// if the canonical encoding needs more bytes than were reserved.
func (b *Buffer) fixSize(start, reservedWidth, size int) {
	needWidth := uvarintSize(uint64(size))
	if needWidth != reservedWidth {
		delta := needWidth - reservedWidth
		oldLen := len(b.seg)
		b.Grow(delta)
		b.seg = b.seg[:oldLen+delta]
		copy(b.seg[start+needWidth:], b.seg[start+reservedWidth:oldLen])
	}
	var tmp [9]byte
	hdr := appendUvarint(tmp[:0], uint64(size))
	copy(b.seg[start:], hdr)
}

// Reset returns the leased segment to the pool (if any) and zeros the
// write cursor, ready for the next encode/decode call to reuse the
// buffer.
func (b *Buffer) Reset() {
	if b.pool != nil && b.seg != nil {
		b.pool.Release(b.seg)
	}
	if b.pool != nil {
		b.seg = b.pool.Acquire()
	} else {
		b.seg = b.seg[:0]
	}
}
