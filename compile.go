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
	"fmt"
	"math/big"
	"reflect"
)

// GroupInstructions is the compiled per-group codec table of spec.md §3:
// an ordered list of FieldInstructions flattened across the inheritance
// chain, ancestor fields first.
type GroupInstructions struct {
	GroupName string
	GroupID   *uint64
	HostType  reflect.Type
	Fields    []FieldInstruction
}

// FieldInstruction binds one schema field to a struct field accessor and
// the ValueCodec that reads/writes its wire representation.
type FieldInstruction struct {
	Name       string
	FieldIndex []int // reflect.Value.FieldByIndex path
	Required   bool
	Codec      ValueCodec
}

// ValueCodec is the tagged-variant encoder/decoder for one field's value,
// per spec.md §3. Each type shape in spec.md §4.D's table gets its own
// implementation; the set is closed (Go interfaces standing in for the
// sum type, since Go has no native tagged union), matching the exhaustive
// switch over TypeKind used to construct them below.
type ValueCodec interface {
	encode(dst *Buffer, v reflect.Value) error
	decode(buf []byte, v reflect.Value) ([]byte, error)
}

// Compiler turns a bound Schema plus a host-object Binding into one
// GroupInstructions per group, following ion/marshal.go's compileEncoder:
// reflect over struct fields once, cache the result, and break recursive
// reference cycles by pre-allocating stub instructions before filling
// them in.
type Compiler struct {
	schema  *Schema
	binding *Binding
}

// NewCompiler creates a Compiler for schema and binding.
func NewCompiler(schema *Schema, binding *Binding) *Compiler {
	return &Compiler{schema: schema, binding: binding}
}

// Compile compiles every group in the schema, returning a map keyed by
// group name. Groups may reference each other (directly or via a cycle
// of Reference/DynamicReference fields); a two-pass compilation — stub
// allocation, then field population — makes that safe.
func (c *Compiler) Compile() (map[string]*GroupInstructions, error) {
	out := make(map[string]*GroupInstructions, len(c.schema.groups))
	for _, g := range c.schema.groups {
		hostType, ok := c.binding.TypeForGroup(g.Name)
		if !ok {
			return nil, fmt.Errorf("%w: no host type registered for group %q", ErrUnresolvedReference, g.Name)
		}
		out[g.Name] = &GroupInstructions{
			GroupName: g.Name,
			GroupID:   g.ID,
			HostType:  hostType,
		}
	}
	for _, g := range c.schema.groups {
		chain, err := c.schema.InheritanceChain(g.Name)
		if err != nil {
			return nil, err
		}
		gi := out[g.Name]
		hostType := gi.HostType
		for _, ancestor := range chain {
			for _, f := range ancestor.Fields {
				fi, err := c.compileField(f, hostType, out)
				if err != nil {
					return nil, fmt.Errorf("group %q field %q: %w", g.Name, f.Name, err)
				}
				gi.Fields = append(gi.Fields, fi)
			}
		}
	}
	return out, nil
}

func (c *Compiler) compileField(f FieldDef, hostType reflect.Type, groups map[string]*GroupInstructions) (FieldInstruction, error) {
	sf, ok := hostType.FieldByName(exportedFieldName(f.Name))
	if !ok {
		return FieldInstruction{}, fmt.Errorf("%w: host type %s has no field for %q", ErrUnresolvedReference, hostType, f.Name)
	}
	codec, err := c.compileCodec(f.Type, f.Required, groups)
	if err != nil {
		return FieldInstruction{}, err
	}
	return FieldInstruction{
		Name:       f.Name,
		FieldIndex: sf.Index,
		Required:   f.Required,
		Codec:      codec,
	}, nil
}

// exportedFieldName capitalizes the schema field name's first letter so
// an unexported-looking schema name (e.g. "bool1") still binds to an
// exported Go struct field ("Bool1"), the way ion's "ion" struct tag
// otherwise lets a mismatched name opt in explicitly. Here fields bind
// purely by capitalized name; struct tags are not consulted.
func exportedFieldName(name string) string {
	if name == "" {
		return name
	}
	b := []byte(name)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// compileCodec implements spec.md §4.D's type-shape table.
func (c *Compiler) compileCodec(t TypeDef, required bool, groups map[string]*GroupInstructions) (ValueCodec, error) {
	switch t.Kind {
	case KindInt:
		return &intCodec{bits: t.IntBits, signed: t.IntSigned, required: required}, nil
	case KindFloat:
		return &floatCodec{bits: t.FloatBits, required: required}, nil
	case KindBoolean:
		return &boolCodec{required: required}, nil
	case KindString:
		return &stringCodec{maxSize: t.MaxSize, required: required}, nil
	case KindBinary:
		return &binaryCodec{maxSize: t.MaxSize, required: required}, nil
	case KindDecimal:
		return &decimalCodec{required: required}, nil
	case KindBigInt:
		return &bigIntCodec{required: required}, nil
	case KindBigDecimal:
		return &bigDecimalCodec{required: required}, nil
	case KindTime:
		return &timeCodec{required: required}, nil
	case KindEnum:
		return &enumCodec{symbols: t.EnumSymbols, required: required}, nil
	case KindReference:
		target, ok := groups[t.GroupName]
		if !ok {
			return nil, fmt.Errorf("%w: reference to unknown group %q", ErrUnresolvedReference, t.GroupName)
		}
		return &staticGroupCodec{target: target, required: required}, nil
	case KindDynamicReference:
		validSet, err := c.dynamicValidSet(t, groups)
		if err != nil {
			return nil, err
		}
		return &dynamicGroupCodec{validSet: validSet, required: required}, nil
	case KindSequence:
		if t.Component == nil {
			return nil, fmt.Errorf("%w: sequence with no component type", ErrUnsupportedType)
		}
		if t.Component.Kind == KindBinary {
			return nil, fmt.Errorf("%w: sequence of binary is explicitly unsupported", ErrUnsupportedType)
		}
		elem, err := c.compileCodec(*t.Component, true, groups)
		if err != nil {
			return nil, err
		}
		return &sequenceCodec{elem: elem, required: required}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type kind %v", ErrUnsupportedType, t.Kind)
	}
}

func (c *Compiler) dynamicValidSet(t TypeDef, groups map[string]*GroupInstructions) (map[uint64]*GroupInstructions, error) {
	root := t.GroupName
	if root == "" {
		// "any": every group in the schema that carries an ID is a
		// legal concrete type.
		out := make(map[uint64]*GroupInstructions)
		for _, g := range c.schema.groups {
			if g.ID == nil {
				continue
			}
			gi, ok := groups[g.Name]
			if !ok {
				continue
			}
			out[*g.ID] = gi
		}
		return out, nil
	}
	subs, err := c.schema.DynamicSubgroups(root)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]*GroupInstructions, len(subs))
	for _, g := range subs {
		if g.ID == nil {
			return nil, fmt.Errorf("%w: group %q", ErrDynamicTargetNoID, g.Name)
		}
		gi, ok := groups[g.Name]
		if !ok {
			return nil, fmt.Errorf("%w: group %q", ErrUnresolvedReference, g.Name)
		}
		out[*g.ID] = gi
	}
	return out, nil
}

// --- primitive ValueCodec implementations ---

// deref unwraps a pointer-typed host field for an optional primitive: it
// reports whether v was nil (meaning the field should encode as null),
// and if not, the value to actually encode. Optional primitive fields
// with no natural nil representation (bool, int, float, string, decimal,
// time, enum) use a pointer Go type to carry the null/absent state, the
// same convention the group-reference and sequence codecs already use.
func deref(v reflect.Value) (elem reflect.Value, isNilPtr bool) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, true
		}
		return v.Elem(), false
	}
	return v, false
}

// setNull zeroes a decoded-null field: nil for a pointer-typed optional
// field, the Go zero value otherwise.
func setNull(v reflect.Value) {
	v.Set(reflect.Zero(v.Type()))
}

type intCodec struct {
	bits     int
	signed   bool
	required bool
}

func (fc *intCodec) encode(dst *Buffer, v reflect.Value) error {
	elem, isNil := deref(v)
	if isNil {
		if fc.required {
			return fmt.Errorf("%w: required int field is nil", ErrMissingRequiredField)
		}
		dst.seg = appendNull(dst.seg)
		return nil
	}
	var err error
	if fc.signed {
		dst.seg, err = EncodeInt(dst.seg, elem.Int(), fc.bits, false)
	} else {
		dst.seg, err = EncodeUint(dst.seg, elem.Uint(), fc.bits, false)
	}
	return err
}

func (fc *intCodec) decode(buf []byte, v reflect.Value) ([]byte, error) {
	if fc.signed {
		val, rest, isNull, err := DecodeInt(buf, fc.bits)
		if err != nil {
			return rest, err
		}
		if isNull {
			if fc.required {
				return rest, ErrMissingRequiredField
			}
			setNull(v)
			return rest, nil
		}
		if v.Kind() == reflect.Ptr {
			p := reflect.New(v.Type().Elem())
			p.Elem().SetInt(val)
			v.Set(p)
		} else {
			v.SetInt(val)
		}
		return rest, nil
	}
	val, rest, isNull, err := DecodeUint(buf, fc.bits)
	if err != nil {
		return rest, err
	}
	if isNull {
		if fc.required {
			return rest, ErrMissingRequiredField
		}
		setNull(v)
		return rest, nil
	}
	if v.Kind() == reflect.Ptr {
		p := reflect.New(v.Type().Elem())
		p.Elem().SetUint(val)
		v.Set(p)
	} else {
		v.SetUint(val)
	}
	return rest, nil
}

type floatCodec struct {
	bits     int
	required bool
}

func (fc *floatCodec) encode(dst *Buffer, v reflect.Value) error {
	elem, isNil := deref(v)
	if isNil {
		if fc.required {
			return fmt.Errorf("%w: required float field is nil", ErrMissingRequiredField)
		}
		dst.seg = appendUvarint(dst.seg, 0)
		return nil
	}
	if fc.bits == 32 {
		dst.seg = EncodeFloat32(dst.seg, float32(elem.Float()), false)
	} else {
		dst.seg = EncodeFloat64(dst.seg, elem.Float(), false)
	}
	return nil
}

func (fc *floatCodec) decode(buf []byte, v reflect.Value) ([]byte, error) {
	if fc.bits == 32 {
		val, rest, isNull, err := DecodeFloat32(buf)
		if err != nil {
			return rest, err
		}
		if isNull {
			if fc.required {
				return rest, ErrMissingRequiredField
			}
			setNull(v)
			return rest, nil
		}
		if v.Kind() == reflect.Ptr {
			p := reflect.New(v.Type().Elem())
			p.Elem().SetFloat(float64(val))
			v.Set(p)
		} else {
			v.SetFloat(float64(val))
		}
		return rest, nil
	}
	val, rest, isNull, err := DecodeFloat64(buf)
	if err != nil {
		return rest, err
	}
	if isNull {
		if fc.required {
			return rest, ErrMissingRequiredField
		}
		setNull(v)
		return rest, nil
	}
	if v.Kind() == reflect.Ptr {
		p := reflect.New(v.Type().Elem())
		p.Elem().SetFloat(val)
		v.Set(p)
	} else {
		v.SetFloat(val)
	}
	return rest, nil
}

type boolCodec struct {
	required bool
}

func (fc *boolCodec) encode(dst *Buffer, v reflect.Value) error {
	elem, isNil := deref(v)
	if isNil {
		if fc.required {
			return fmt.Errorf("%w: required bool field is nil", ErrMissingRequiredField)
		}
		dst.seg = appendNull(dst.seg)
		return nil
	}
	dst.seg = EncodeBool(dst.seg, elem.Bool(), false)
	return nil
}

func (fc *boolCodec) decode(buf []byte, v reflect.Value) ([]byte, error) {
	val, rest, isNull, err := DecodeBool(buf)
	if err != nil {
		return rest, err
	}
	if isNull {
		if fc.required {
			return rest, ErrMissingRequiredField
		}
		setNull(v)
		return rest, nil
	}
	if v.Kind() == reflect.Ptr {
		p := reflect.New(v.Type().Elem())
		p.Elem().SetBool(val)
		v.Set(p)
	} else {
		v.SetBool(val)
	}
	return rest, nil
}

type stringCodec struct {
	maxSize  int
	required bool
}

func (fc *stringCodec) encode(dst *Buffer, v reflect.Value) error {
	elem, isNil := deref(v)
	if isNil {
		if fc.required {
			return fmt.Errorf("%w: required string field is nil", ErrMissingRequiredField)
		}
		dst.seg = appendNull(dst.seg)
		return nil
	}
	dst.seg = EncodeString(dst.seg, elem.String(), false)
	return nil
}

func (fc *stringCodec) decode(buf []byte, v reflect.Value) ([]byte, error) {
	val, rest, isNull, err := DecodeString(buf)
	if err != nil {
		return rest, err
	}
	if isNull {
		if fc.required {
			return rest, ErrMissingRequiredField
		}
		setNull(v)
		return rest, nil
	}
	if fc.maxSize > 0 && len(val) > fc.maxSize {
		return rest, ErrOverflow
	}
	if v.Kind() == reflect.Ptr {
		p := reflect.New(v.Type().Elem())
		p.Elem().SetString(val)
		v.Set(p)
	} else {
		v.SetString(val)
	}
	return rest, nil
}

type binaryCodec struct {
	maxSize  int
	required bool
}

func (fc *binaryCodec) encode(dst *Buffer, v reflect.Value) error {
	if v.IsNil() {
		if fc.required {
			return fmt.Errorf("%w: required binary field is nil", ErrMissingRequiredField)
		}
		dst.seg = appendNull(dst.seg)
		return nil
	}
	dst.seg = EncodeBinary(dst.seg, v.Bytes(), false)
	return nil
}

func (fc *binaryCodec) decode(buf []byte, v reflect.Value) ([]byte, error) {
	val, rest, isNull, err := DecodeBinary(buf)
	if err != nil {
		return rest, err
	}
	if isNull {
		if fc.required {
			return rest, ErrMissingRequiredField
		}
		return rest, nil
	}
	if fc.maxSize > 0 && len(val) > fc.maxSize {
		return rest, ErrOverflow
	}
	v.SetBytes(val)
	return rest, nil
}

type decimalCodec struct {
	required bool
}

func (fc *decimalCodec) encode(dst *Buffer, v reflect.Value) error {
	elem, isNil := deref(v)
	if isNil {
		if fc.required {
			return fmt.Errorf("%w: required decimal field is nil", ErrMissingRequiredField)
		}
		dst.seg = appendNull(dst.seg)
		return nil
	}
	d := elem.Interface().(Decimal)
	dst.seg = EncodeDecimal(dst.seg, d, false)
	return nil
}

func (fc *decimalCodec) decode(buf []byte, v reflect.Value) ([]byte, error) {
	d, rest, isNull, err := DecodeDecimal(buf)
	if err != nil {
		return rest, err
	}
	if isNull {
		if fc.required {
			return rest, ErrMissingRequiredField
		}
		setNull(v)
		return rest, nil
	}
	if v.Kind() == reflect.Ptr {
		p := reflect.New(v.Type().Elem())
		p.Elem().Set(reflect.ValueOf(d))
		v.Set(p)
	} else {
		v.Set(reflect.ValueOf(d))
	}
	return rest, nil
}

type bigIntCodec struct {
	required bool
}

func (fc *bigIntCodec) encode(dst *Buffer, v reflect.Value) error {
	bi := v.Interface().(*big.Int)
	dst.seg = EncodeBigInt(dst.seg, bi, bi == nil)
	return nil
}

func (fc *bigIntCodec) decode(buf []byte, v reflect.Value) ([]byte, error) {
	val, rest, isNull, err := DecodeBigInt(buf)
	if err != nil {
		return rest, err
	}
	if isNull {
		if fc.required {
			return rest, ErrMissingRequiredField
		}
		return rest, nil
	}
	v.Set(reflect.ValueOf(val))
	return rest, nil
}

// bigDecimalCodec pairs a signed VLC exponent with a BigInt mantissa, per
// spec.md §3's BigDecimal type.
type bigDecimalCodec struct {
	required bool
}

// BigDecimal is Blink's arbitrary-precision decimal: value = Mantissa * 10^Exponent.
type BigDecimal struct {
	Mantissa *big.Int
	Exponent int64
}

func (fc *bigDecimalCodec) encode(dst *Buffer, v reflect.Value) error {
	d := v.Interface().(BigDecimal)
	dst.seg = appendVarint(dst.seg, d.Exponent)
	dst.seg = EncodeBigInt(dst.seg, d.Mantissa, d.Mantissa == nil)
	return nil
}

func (fc *bigDecimalCodec) decode(buf []byte, v reflect.Value) ([]byte, error) {
	exp, rest, isNull, err := readVarint(buf)
	if err != nil {
		return rest, err
	}
	if isNull {
		if fc.required {
			return rest, ErrMissingRequiredField
		}
		return rest, nil
	}
	mant, rest, mantNull, err := DecodeBigInt(rest)
	if err != nil {
		return rest, err
	}
	if mantNull {
		return rest, ErrTruncated
	}
	v.Set(reflect.ValueOf(BigDecimal{Mantissa: mant, Exponent: exp}))
	return rest, nil
}

type timeCodec struct {
	required bool
}

func (fc *timeCodec) encode(dst *Buffer, v reflect.Value) error {
	elem, isNil := deref(v)
	if isNil {
		if fc.required {
			return fmt.Errorf("%w: required time field is nil", ErrMissingRequiredField)
		}
		dst.seg = appendNull(dst.seg)
		return nil
	}
	dst.seg = EncodeTime(dst.seg, elem.Uint(), false)
	return nil
}

func (fc *timeCodec) decode(buf []byte, v reflect.Value) ([]byte, error) {
	val, rest, isNull, err := DecodeTime(buf)
	if err != nil {
		return rest, err
	}
	if isNull {
		if fc.required {
			return rest, ErrMissingRequiredField
		}
		setNull(v)
		return rest, nil
	}
	if v.Kind() == reflect.Ptr {
		p := reflect.New(v.Type().Elem())
		p.Elem().SetUint(val)
		v.Set(p)
	} else {
		v.SetUint(val)
	}
	return rest, nil
}

// enumCodec encodes/decodes an enum as its symbol's i32 value. Decoding
// rejects any value not in the symbol table with ErrInvalidEnumValue;
// there is no lenient mode that accepts unknown values.
type enumCodec struct {
	symbols  []EnumSymbol
	required bool
}

func (fc *enumCodec) valueOf(name string) (int32, bool) {
	for _, s := range fc.symbols {
		if s.Name == name {
			return s.Value, true
		}
	}
	return 0, false
}

func (fc *enumCodec) nameOf(value int32) (string, bool) {
	for _, s := range fc.symbols {
		if s.Value == value {
			return s.Name, true
		}
	}
	return "", false
}

func (fc *enumCodec) encode(dst *Buffer, v reflect.Value) error {
	elem, isNil := deref(v)
	if isNil {
		if fc.required {
			return fmt.Errorf("%w: required enum field is nil", ErrMissingRequiredField)
		}
		dst.seg = appendNull(dst.seg)
		return nil
	}
	name := elem.String()
	val, ok := fc.valueOf(name)
	if !ok {
		return fmt.Errorf("%w: enum symbol %q", ErrInvalidEnumValue, name)
	}
	dst.seg = EncodeEnum(dst.seg, val, false)
	return nil
}

func (fc *enumCodec) decode(buf []byte, v reflect.Value) ([]byte, error) {
	val, rest, isNull, err := DecodeEnum(buf)
	if err != nil {
		return rest, err
	}
	if isNull {
		if fc.required {
			return rest, ErrMissingRequiredField
		}
		setNull(v)
		return rest, nil
	}
	name, ok := fc.nameOf(val)
	if !ok {
		return rest, fmt.Errorf("%w: value %d", ErrInvalidEnumValue, val)
	}
	if v.Kind() == reflect.Ptr {
		p := reflect.New(v.Type().Elem())
		p.Elem().SetString(name)
		v.Set(p)
	} else {
		v.SetString(name)
	}
	return rest, nil
}
