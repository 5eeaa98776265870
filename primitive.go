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
	"encoding/binary"
	"math"
	"math/big"
	"unicode/utf8"
)

// Decimal is Blink's fixed 64-bit-mantissa decimal: value = mantissa * 10^exponent.
type Decimal struct {
	Mantissa int64
	Exponent int8
}

// EncodeBool appends a nullable boolean, following ion/datum.go's ReadBool
// shape but with Blink's VLC framing.
func EncodeBool(dst []byte, v bool, null bool) []byte {
	if null {
		return appendNull(dst)
	}
	if v {
		return appendUvarint(dst, 1)
	}
	return appendUvarint(dst, 0)
}

// DecodeBool reads a nullable boolean.
func DecodeBool(buf []byte) (v bool, rest []byte, isNull bool, err error) {
	u, rest, isNull, err := readUvarint(buf)
	if err != nil || isNull {
		return false, rest, isNull, err
	}
	if u > 1 {
		return false, rest, false, ErrOverflow
	}
	return u == 1, rest, false, nil
}

// EncodeUint appends a nullable unsigned integer of bitWidth bits,
// mirroring DecodeUint's width check (spec.md §7 ValueOutOfRange).
func EncodeUint(dst []byte, v uint64, bitWidth int, null bool) ([]byte, error) {
	if null {
		return appendNull(dst), nil
	}
	if bitWidth < 64 && v>>uint(bitWidth) != 0 {
		return dst, ErrValueOutOfRange
	}
	return appendUvarint(dst, v), nil
}

// DecodeUint reads a nullable unsigned integer, failing with ErrOverflow
// if the decoded value does not fit in bitWidth bits.
func DecodeUint(buf []byte, bitWidth int) (v uint64, rest []byte, isNull bool, err error) {
	v, rest, isNull, err = readUvarint(buf)
	if err != nil || isNull {
		return 0, rest, isNull, err
	}
	if bitWidth < 64 && v>>uint(bitWidth) != 0 {
		return 0, rest, false, ErrOverflow
	}
	return v, rest, false, nil
}

// EncodeInt appends a nullable signed integer of bitWidth bits,
// mirroring DecodeInt's width check (spec.md §7 ValueOutOfRange).
func EncodeInt(dst []byte, v int64, bitWidth int, null bool) ([]byte, error) {
	if null {
		return appendNull(dst), nil
	}
	if bitWidth < 64 {
		lo := -(int64(1) << uint(bitWidth-1))
		hi := (int64(1) << uint(bitWidth-1)) - 1
		if v < lo || v > hi {
			return dst, ErrValueOutOfRange
		}
	}
	return appendVarint(dst, v), nil
}

// DecodeInt reads a nullable signed integer, failing with ErrOverflow if
// the decoded value does not fit in bitWidth bits (two's complement).
func DecodeInt(buf []byte, bitWidth int) (v int64, rest []byte, isNull bool, err error) {
	v, rest, isNull, err = readVarint(buf)
	if err != nil || isNull {
		return 0, rest, isNull, err
	}
	if bitWidth < 64 {
		lo := -(int64(1) << uint(bitWidth-1))
		hi := (int64(1) << uint(bitWidth-1)) - 1
		if v < lo || v > hi {
			return 0, rest, false, ErrOverflow
		}
	}
	return v, rest, false, nil
}

// EncodeFloat32 appends a nullable IEEE-754 big-endian float32, prefixed
// by its unsigned VLC byte length (4, or 0 for null).
func EncodeFloat32(dst []byte, v float32, null bool) []byte {
	if null {
		return appendUvarint(dst, 0)
	}
	dst = appendUvarint(dst, 4)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(v))
	return append(dst, b[:]...)
}

// DecodeFloat32 reads a nullable float32.
func DecodeFloat32(buf []byte) (v float32, rest []byte, isNull bool, err error) {
	n, rest, _, err := readUvarint(buf)
	if err != nil {
		return 0, rest, false, err
	}
	if n == 0 {
		return 0, rest, true, nil
	}
	if n != 4 {
		return 0, rest, false, ErrOverflow
	}
	if len(rest) < 4 {
		return 0, rest, false, ErrTruncated
	}
	v = math.Float32frombits(binary.BigEndian.Uint32(rest[:4]))
	return v, rest[4:], false, nil
}

// EncodeFloat64 appends a nullable IEEE-754 big-endian float64, prefixed
// by its unsigned VLC byte length (8, or 0 for null).
func EncodeFloat64(dst []byte, v float64, null bool) []byte {
	if null {
		return appendUvarint(dst, 0)
	}
	dst = appendUvarint(dst, 8)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return append(dst, b[:]...)
}

// DecodeFloat64 reads a nullable float64.
func DecodeFloat64(buf []byte) (v float64, rest []byte, isNull bool, err error) {
	n, rest, _, err := readUvarint(buf)
	if err != nil {
		return 0, rest, false, err
	}
	if n == 0 {
		return 0, rest, true, nil
	}
	if n != 8 {
		return 0, rest, false, ErrOverflow
	}
	if len(rest) < 8 {
		return 0, rest, false, ErrTruncated
	}
	v = math.Float64frombits(binary.BigEndian.Uint64(rest[:8]))
	return v, rest[8:], false, nil
}

// EncodeDecimal appends a nullable Decimal: signed VLC exponent, then
// signed VLC mantissa. Null is a single null byte in place of the
// exponent.
func EncodeDecimal(dst []byte, d Decimal, null bool) []byte {
	if null {
		return appendNull(dst)
	}
	dst = appendVarint(dst, int64(d.Exponent))
	dst = appendVarint(dst, d.Mantissa)
	return dst
}

// DecodeDecimal reads a nullable Decimal.
func DecodeDecimal(buf []byte) (d Decimal, rest []byte, isNull bool, err error) {
	exp, rest, isNull, err := readVarint(buf)
	if err != nil || isNull {
		return Decimal{}, rest, isNull, err
	}
	if exp < math.MinInt8 || exp > math.MaxInt8 {
		return Decimal{}, rest, false, ErrOverflow
	}
	mant, rest, _, err := readVarint(rest)
	if err != nil {
		return Decimal{}, rest, false, err
	}
	return Decimal{Mantissa: mant, Exponent: int8(exp)}, rest, false, nil
}

// EncodeBigInt appends a nullable arbitrary-width signed integer. Values
// representable by Go's int64 use the same wire representation as a
// 64-bit signed VLC; wider values use the length-prefixed form with as
// many bytes as their two's complement representation needs, so the
// declared length may exceed 8 bytes.
func EncodeBigInt(dst []byte, v *big.Int, null bool) []byte {
	if null || v == nil {
		return appendNull(dst)
	}
	if v.IsInt64() {
		return appendVarint(dst, v.Int64())
	}
	// arbitrary-width path: emit the minimal two's complement
	// little-endian byte string directly, bypassing the int64 fast path.
	bs := bigIntBytes(v)
	dst = append(dst, 0xC0|byte(len(bs)))
	return append(dst, bs...)
}

// DecodeBigInt reads a nullable arbitrary-width signed integer. Decoders
// MUST accept any declared length up to the remaining buffer, per
// spec.md §4.A.
func DecodeBigInt(buf []byte) (v *big.Int, rest []byte, isNull bool, err error) {
	if len(buf) == 0 {
		return nil, buf, false, ErrTruncated
	}
	b0 := buf[0]
	if b0&0xC0 != 0xC0 {
		// one- or two-byte form fits comfortably in int64
		iv, r, n, e := readVarint(buf)
		if e != nil || n {
			return nil, r, n, e
		}
		return big.NewInt(iv), r, false, nil
	}
	n := int(b0 & 0x3F)
	if n == 0 {
		return nil, buf[1:], true, nil
	}
	if len(buf) < 1+n {
		return nil, buf, false, ErrTruncated
	}
	v = bigIntFromBytes(buf[1 : 1+n])
	return v, buf[1+n:], false, nil
}

// bigIntBytes returns the minimal two's complement little-endian byte
// string for v.
func bigIntBytes(v *big.Int) []byte {
	if v.IsInt64() {
		n := signedByteLen(v.Int64())
		uv := uint64(v.Int64())
		out := make([]byte, n)
		for i := 0; i < n; i++ {
			out[i] = byte(uv)
			uv >>= 8
		}
		return out
	}
	// magnitude beyond int64: two's complement big-endian from math/big,
	// reversed to little-endian, with an extra sign byte if needed.
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	be := abs.Bytes()
	if neg {
		// two's complement: invert and add one, over len(be)+1 bytes
		// to guarantee room for the sign bit.
		size := len(be) + 1
		mag := make([]byte, size)
		copy(mag[size-len(be):], be)
		for i, b := range mag {
			mag[i] = ^b
		}
		carry := uint16(1)
		for i := size - 1; i >= 0; i-- {
			sum := uint16(mag[i]) + carry
			mag[i] = byte(sum)
			carry = sum >> 8
		}
		be = mag
		// the extra byte is redundant when the next one already carries
		// the sign bit
		if len(be) > 1 && be[0] == 0xFF && be[1]&0x80 != 0 {
			be = be[1:]
		}
	} else if len(be) == 0 || be[0]&0x80 != 0 {
		padded := make([]byte, len(be)+1)
		copy(padded[1:], be)
		be = padded
	}
	out := make([]byte, len(be))
	for i, b := range be {
		out[len(be)-1-i] = b
	}
	return out
}

// bigIntFromBytes decodes a little-endian two's complement byte string.
func bigIntFromBytes(b []byte) *big.Int {
	neg := len(b) > 0 && b[len(b)-1]&0x80 != 0
	be := make([]byte, len(b))
	for i, c := range b {
		be[len(b)-1-i] = c
	}
	if !neg {
		return new(big.Int).SetBytes(be)
	}
	// two's complement: invert, add one, negate
	mag := make([]byte, len(be))
	for i, c := range be {
		mag[i] = ^c
	}
	one := big.NewInt(1)
	res := new(big.Int).SetBytes(mag)
	res.Add(res, one)
	res.Neg(res)
	return res
}

// EncodeString appends a nullable UTF-8 string: unsigned VLC byte length,
// then raw UTF-8 bytes.
func EncodeString(dst []byte, s string, null bool) []byte {
	if null {
		return appendNull(dst)
	}
	dst = appendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

// DecodeString reads a nullable UTF-8 string.
func DecodeString(buf []byte) (s string, rest []byte, isNull bool, err error) {
	n, rest, isNull, err := readUvarint(buf)
	if err != nil || isNull {
		return "", rest, isNull, err
	}
	if uint64(len(rest)) < n {
		return "", rest, false, ErrTruncated
	}
	b := rest[:n]
	if !utf8.Valid(b) {
		return "", rest, false, ErrInvalidUTF8
	}
	return string(b), rest[n:], false, nil
}

// EncodeBinary appends a nullable byte string: unsigned VLC byte length,
// then raw bytes.
func EncodeBinary(dst []byte, b []byte, null bool) []byte {
	if null || b == nil {
		return appendNull(dst)
	}
	dst = appendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// DecodeBinary reads a nullable byte string. The returned slice is a copy
// and does not alias buf, matching the Non-goal that disallows zero-copy
// borrowed decoding (spec.md §1).
func DecodeBinary(buf []byte) (b []byte, rest []byte, isNull bool, err error) {
	n, rest, isNull, err := readUvarint(buf)
	if err != nil || isNull {
		return nil, rest, isNull, err
	}
	if uint64(len(rest)) < n {
		return nil, rest, false, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], false, nil
}

// EncodeTime appends a nullable timestamp as an unsigned VLC count of
// TimeUnit since the TypeDef's declared epoch (spec.md §4.A); the unit
// and epoch themselves are schema metadata, not wire content.
func EncodeTime(dst []byte, v uint64, null bool) []byte {
	if null {
		return appendNull(dst)
	}
	return appendUvarint(dst, v)
}

// DecodeTime reads a nullable timestamp.
func DecodeTime(buf []byte) (v uint64, rest []byte, isNull bool, err error) {
	return readUvarint(buf)
}

// EncodeEnum appends a nullable enum as the symbol's signed VLC i32 value.
func EncodeEnum(dst []byte, v int32, null bool) []byte {
	if null {
		return appendNull(dst)
	}
	return appendVarint(dst, int64(v))
}

// DecodeEnum reads a nullable enum value. It does not itself validate
// membership in the symbol table; enumCodec (compile.go) does, since only
// it knows the declared symbol set.
func DecodeEnum(buf []byte) (v int32, rest []byte, isNull bool, err error) {
	iv, rest, isNull, err := readVarint(buf)
	if err != nil || isNull {
		return 0, rest, isNull, err
	}
	if iv < math.MinInt32 || iv > math.MaxInt32 {
		return 0, rest, false, ErrOverflow
	}
	return int32(iv), rest, false, nil
}
