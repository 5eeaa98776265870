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

import "sync"

// defaultSegmentSize is the capacity of a freshly acquired pool segment.
const defaultSegmentSize = 4096

// SegmentPool is the pool contract from spec.md §6: acquire() -> segment,
// release(segment) -> (). The codec treats segments as opaque fixed-size
// byte arrays; SegmentPool is the one concrete implementation the core
// ships, built on sync.Pool.
type SegmentPool struct {
	pool    sync.Pool
	segSize int
}

// NewSegmentPool creates a pool that hands out segments of at least
// segSize bytes of capacity. A segSize <= 0 selects defaultSegmentSize.
func NewSegmentPool(segSize int) *SegmentPool {
	if segSize <= 0 {
		segSize = defaultSegmentSize
	}
	p := &SegmentPool{segSize: segSize}
	p.pool.New = func() any {
		return make([]byte, 0, p.segSize)
	}
	return p
}

// Acquire returns a zero-length segment with at least the pool's
// configured capacity.
func (p *SegmentPool) Acquire() []byte {
	return p.pool.Get().([]byte)[:0]
}

// Release returns a segment to the pool. The segment must not be used
// again by the caller after Release.
func (p *SegmentPool) Release(seg []byte) {
	p.pool.Put(seg[:0])
}
