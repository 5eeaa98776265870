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
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// DeriveSealKey stretches a shared secret into a key suitable for
// NewSealedSink/NewSealedSource, the way mapping_cache.go derives its
// cache key material with HKDF instead of using a raw passphrase
// directly.
func DeriveSealKey(secret []byte) io.Reader {
	return hkdf.New(sha512.New, secret, nil, []byte("blink-seal"))
}

func newAEAD(keysrc io.Reader) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(keysrc, key); err != nil {
		return nil, fmt.Errorf("blink: deriving seal key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

// SealedSink wraps an io.Writer so that every complete write (one
// Codec.Encode call's worth of framed bytes) is sealed as an
// independent AEAD box, the wire-level counterpart to
// elasticproxy/proxy_http/cryptbytes.go's aeadBox. Each box is written
// as:
//
//	<uvarint box size> <nonce, aead.NonceSize() bytes> <ciphertext+tag>
type SealedSink struct {
	w    io.Writer
	aead cipher.AEAD
}

// NewSealedSink creates a SealedSink over w using a key derived from
// keysrc (see DeriveSealKey).
func NewSealedSink(w io.Writer, keysrc io.Reader) (*SealedSink, error) {
	aead, err := newAEAD(keysrc)
	if err != nil {
		return nil, err
	}
	return &SealedSink{w: w, aead: aead}, nil
}

// Write seals p whole, as a single AEAD box, and writes the framed box
// to the underlying writer. It satisfies io.Writer so a SealedSink can
// be passed directly as Codec.Encode's sink: each Encode call performs
// exactly one Write of the complete frame.
func (s *SealedSink) Write(p []byte) (int, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return 0, err
	}
	sealed := s.aead.Seal(nil, nonce, p, nil)

	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(nonce)+len(sealed)))
	if _, err := s.w.Write(hdr[:n]); err != nil {
		return 0, err
	}
	if _, err := s.w.Write(nonce); err != nil {
		return 0, err
	}
	if _, err := s.w.Write(sealed); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SealedSource reads boxes written by SealedSink back into the
// plaintext frame they carried.
type SealedSource struct {
	r    *bufio.Reader
	aead cipher.AEAD
}

// NewSealedSource creates a SealedSource over r using a key derived
// from keysrc.
func NewSealedSource(r io.Reader, keysrc io.Reader) (*SealedSource, error) {
	aead, err := newAEAD(keysrc)
	if err != nil {
		return nil, err
	}
	return &SealedSource{r: bufio.NewReader(r), aead: aead}, nil
}

// Next reads and opens the next box, then runs codec.Decode over its
// plaintext frame. It returns io.EOF once the underlying stream is
// cleanly exhausted between boxes.
func (s *SealedSource) Next(codec *Codec) (any, error) {
	n, err := binary.ReadUvarint(s.r)
	if err != nil {
		return nil, err
	}
	nonceSize := s.aead.NonceSize()
	if int(n) < nonceSize {
		return nil, fmt.Errorf("blink: sealed box shorter than its nonce")
	}
	box := make([]byte, n)
	if _, err := io.ReadFull(s.r, box); err != nil {
		return nil, fmt.Errorf("blink: reading sealed box: %w", err)
	}
	nonce, ciphertext := box[:nonceSize], box[nonceSize:]
	plain, err := s.aead.Open(ciphertext[:0], nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("blink: opening sealed box: %w", err)
	}
	return codec.Decode(bufio.NewReader(newByteSliceReader(plain)))
}
