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
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/klauspost/compress/s2"
)

// ArchiveWriter batches already-framed Blink messages into size-bounded,
// compressed blocks, the at-rest convenience layer described in
// SPEC_FULL.md's supplemented component G. It is grounded on
// ion/chunker.go's block accumulation with an explicit Flush, and on
// compr/compression.go's Compressor wrapper shape, but the individual
// frames it batches are bit-identical to standalone Codec.Encode output.
//
// Each block is written as:
//
//	<uvarint compressed size> <16-byte block id> <s2-compressed bytes>
type ArchiveWriter struct {
	w         io.Writer
	codec     *Codec
	blockSize int
	buf       *Buffer
}

// NewArchiveWriter creates an ArchiveWriter that flushes to w once its
// accumulated (uncompressed) frames reach blockSize bytes, or when Flush
// is called explicitly.
func NewArchiveWriter(w io.Writer, codec *Codec, blockSize int) *ArchiveWriter {
	if blockSize <= 0 {
		blockSize = defaultSegmentSize * 4
	}
	return &ArchiveWriter{w: w, codec: codec, blockSize: blockSize, buf: NewBuffer(nil)}
}

// Put encodes obj as a framed message and appends it to the current
// block, flushing first if the block has already reached its target
// size.
func (a *ArchiveWriter) Put(obj any) error {
	if a.buf.Len() >= a.blockSize {
		if err := a.Flush(); err != nil {
			return err
		}
	}
	return a.codec.Encode(a.buf, obj)
}

// Flush compresses and writes out the current block, if non-empty. It
// is always safe to call, mirroring ion.Chunker.Flush's idempotence on
// an empty buffer.
func (a *ArchiveWriter) Flush() error {
	if a.buf.Len() == 0 {
		return nil
	}
	defer a.buf.Reset()

	id := uuid.New()
	compressed := s2.Encode(nil, a.buf.Bytes())

	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(compressed)))
	if _, err := a.w.Write(hdr[:n]); err != nil {
		return err
	}
	idBytes, err := id.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := a.w.Write(idBytes); err != nil {
		return err
	}
	_, err = a.w.Write(compressed)
	return err
}

// ArchiveReader reads blocks written by ArchiveWriter back into
// individual framed messages.
type ArchiveReader struct {
	r     *bufio.Reader
	codec *Codec
	block *bufio.Reader
}

// NewArchiveReader creates an ArchiveReader over r, decoding messages
// with codec.
func NewArchiveReader(r io.Reader, codec *Codec) *ArchiveReader {
	return &ArchiveReader{r: bufio.NewReader(r), codec: codec}
}

// Next returns the next decoded message, reading and decompressing a new
// block transparently when the current one is exhausted. It returns
// io.EOF once the underlying stream is exhausted between blocks.
func (a *ArchiveReader) Next() (any, error) {
	for {
		if a.block != nil {
			obj, err := a.codec.Decode(a.block)
			if err == io.EOF {
				a.block = nil
				continue
			}
			return obj, err
		}
		if err := a.nextBlock(); err != nil {
			return nil, err
		}
	}
}

func (a *ArchiveReader) nextBlock() error {
	n, err := binary.ReadUvarint(a.r)
	if err != nil {
		return err
	}
	var idBytes [16]byte
	if _, err := io.ReadFull(a.r, idBytes[:]); err != nil {
		return fmt.Errorf("blink: reading archive block id: %w", err)
	}
	compressed := make([]byte, n)
	if _, err := io.ReadFull(a.r, compressed); err != nil {
		return fmt.Errorf("blink: reading archive block: %w", err)
	}
	plain, err := s2.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("blink: decompressing archive block: %w", err)
	}
	a.block = bufio.NewReader(newByteSliceReader(plain))
	return nil
}

// byteSliceReader adapts a []byte to io.Reader without the extra
// allocation bytes.NewReader's Len/Size bookkeeping needs, since archive
// blocks are read start-to-end exactly once.
type byteSliceReader struct {
	b []byte
	i int
}

func newByteSliceReader(b []byte) *byteSliceReader { return &byteSliceReader{b: b} }

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
