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

import "github.com/dchest/siphash"

// nameIndex buckets group names by a siphash digest, the way
// ion/zion/hash.go buckets interned symbols for fast membership tests.
// For the schema sizes Blink messages describe (tens to low hundreds of
// groups) a plain map would do just as well, but the bucketed form keeps
// groups_by_name O(1) with small, cache-friendly buckets.
type nameIndex struct {
	seed    uint64
	buckets [][]int32
	mask    uint64
}

const nameIndexBucketBits = 6 // 64 buckets

func newNameIndex(names []string) *nameIndex {
	idx := &nameIndex{
		seed:    0x626c696e6b, // "blink" in hex, a fixed non-zero seed
		buckets: make([][]int32, 1<<nameIndexBucketBits),
		mask:    1<<nameIndexBucketBits - 1,
	}
	for i, name := range names {
		b := idx.bucket(name)
		idx.buckets[b] = append(idx.buckets[b], int32(i))
	}
	return idx
}

func (idx *nameIndex) bucket(name string) uint64 {
	return siphash.Hash(0, idx.seed, []byte(name)) & idx.mask
}

// lookup returns the index into names of the entry equal to name, or
// (-1, false) if absent. names must be the same slice newNameIndex was
// built from.
func (idx *nameIndex) lookup(name string, names []string) (int, bool) {
	for _, i := range idx.buckets[idx.bucket(name)] {
		if names[i] == name {
			return int(i), true
		}
	}
	return -1, false
}
