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
	"reflect"
)

// Binding is the schema binding contract of spec.md §6: group_type_of,
// factory, and (implicitly, via reflection) get/set. It maps Go struct
// types to schema group names and back, the statically-typed-language
// stand-in the design notes (spec.md §9) call for in place of the
// source's reflective class lookup — here keyed on reflect.Type rather
// than a class object, following ion/marshal.go's structEncoders
// sync.Map keyed the same way.
type Binding struct {
	typeToGroup map[reflect.Type]string
	groupToType map[string]reflect.Type
}

// NewBinding creates an empty Binding.
func NewBinding() *Binding {
	return &Binding{
		typeToGroup: make(map[reflect.Type]string),
		groupToType: make(map[string]reflect.Type),
	}
}

// Register associates groupName with the Go type of sample, which must
// be a struct value (not a pointer). Host objects are always passed to
// Encode/Decode as pointers to this struct type.
func (b *Binding) Register(groupName string, sample any) error {
	t := reflect.TypeOf(sample)
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("blink: Binding.Register(%q): sample must be a struct value", groupName)
	}
	b.typeToGroup[t] = groupName
	b.groupToType[groupName] = t
	return nil
}

// GroupNameOf implements group_type_of: it reports the group name bound
// to obj's type, where obj is a pointer to a registered struct.
func (b *Binding) GroupNameOf(obj any) (string, bool) {
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	name, ok := b.typeToGroup[v.Type()]
	return name, ok
}

// TypeForGroup returns the Go struct type registered for groupName.
func (b *Binding) TypeForGroup(groupName string) (reflect.Type, bool) {
	t, ok := b.groupToType[groupName]
	return t, ok
}

// NewInstance implements factory: it allocates a new, addressable value
// of the struct type registered for groupName and returns it as a
// reflect.Value of pointer kind.
func (b *Binding) NewInstance(groupName string) (reflect.Value, bool) {
	t, ok := b.groupToType[groupName]
	if !ok {
		return reflect.Value{}, false
	}
	return reflect.New(t), true
}

// CodecTable is the compiled, immutable result of binding a Schema: an
// EncodeDispatcher (host type -> instructions) and a DecodeDispatcher
// (group id -> instructions), per spec.md §3 and §4.E. Both maps and the
// GroupInstructions graph they point into are read-only after
// NewCodecTable returns and safe to share across goroutines (spec.md §5).
type CodecTable struct {
	binding   *Binding
	byName    map[string]*GroupInstructions
	byType    map[reflect.Type]*GroupInstructions
	byGroupID map[uint64]*GroupInstructions
}

// NewCodecTable compiles schema against binding and builds both dispatch
// surfaces described in spec.md §4.E.
func NewCodecTable(schema *Schema, binding *Binding) (*CodecTable, error) {
	compiled, err := NewCompiler(schema, binding).Compile()
	if err != nil {
		return nil, err
	}
	t := &CodecTable{
		binding:   binding,
		byName:    compiled,
		byType:    make(map[reflect.Type]*GroupInstructions, len(compiled)),
		byGroupID: make(map[uint64]*GroupInstructions),
	}
	for _, gi := range compiled {
		t.byType[gi.HostType] = gi
		if gi.GroupID != nil {
			t.byGroupID[*gi.GroupID] = gi
		}
	}
	return t, nil
}

// encodeDispatch implements spec.md §4.E's encode dispatcher: resolve
// obj's GroupInstructions by type identity.
func (t *CodecTable) encodeDispatch(obj any) (*GroupInstructions, reflect.Value, error) {
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, reflect.Value{}, fmt.Errorf("%w: nil object", ErrUnknownGroupType)
		}
		v = v.Elem()
	}
	gi, ok := t.byType[v.Type()]
	if !ok {
		return nil, reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownGroupType, v.Type())
	}
	return gi, v, nil
}

// decodeDispatch implements spec.md §4.E's decode dispatcher: resolve
// GroupInstructions by group id, then allocate a host object via the
// binding's factory.
func (t *CodecTable) decodeDispatch(groupID uint64) (*GroupInstructions, reflect.Value, error) {
	gi, ok := t.byGroupID[groupID]
	if !ok {
		return nil, reflect.Value{}, fmt.Errorf("%w: %d", ErrUnknownGroupID, groupID)
	}
	inst, ok := t.binding.NewInstance(gi.GroupName)
	if !ok {
		return nil, reflect.Value{}, fmt.Errorf("%w: no factory for group %q", ErrUnknownGroupType, gi.GroupName)
	}
	return gi, inst, nil
}

// encodeGroupFields runs every FieldInstruction of gi against obj,
// writing into dst. obj must be the addressable struct value (not a
// pointer) of type gi.HostType.
func encodeGroupFields(dst *Buffer, gi *GroupInstructions, obj reflect.Value) error {
	for _, fi := range gi.Fields {
		fv := obj.FieldByIndex(fi.FieldIndex)
		if err := fi.Codec.encode(dst, fv); err != nil {
			return fmt.Errorf("field %q: %w", fi.Name, err)
		}
	}
	return nil
}

// decodeGroupFields runs every FieldInstruction of gi against buf,
// populating obj (the addressable struct value of type gi.HostType) and
// returning the unconsumed remainder of buf.
func decodeGroupFields(buf []byte, gi *GroupInstructions, obj reflect.Value) ([]byte, error) {
	for _, fi := range gi.Fields {
		fv := obj.FieldByIndex(fi.FieldIndex)
		rest, err := fi.Codec.decode(buf, fv)
		if err != nil {
			return rest, fmt.Errorf("field %q: %w", fi.Name, err)
		}
		buf = rest
	}
	return buf, nil
}

// --- group-valued ValueCodec implementations (compile.go's KindReference
// and KindDynamicReference cases construct these) ---

// staticGroupCodec inlines a referenced group's fields with no id and no
// preamble, per spec.md §4.E. The struct field it binds to must be a
// pointer to the target group's host type, nil meaning absent.
type staticGroupCodec struct {
	target   *GroupInstructions
	required bool
}

func (sc *staticGroupCodec) encode(dst *Buffer, v reflect.Value) error {
	if v.Kind() == reflect.Ptr && v.IsNil() {
		if sc.required {
			return fmt.Errorf("%w: required static group reference is nil", ErrMissingRequiredField)
		}
		dst.seg = appendNull(dst.seg)
		return nil
	}
	elem := v
	if v.Kind() == reflect.Ptr {
		elem = v.Elem()
	}
	return dst.WriteSized(func() error {
		return encodeGroupFields(dst, sc.target, elem)
	})
}

func (sc *staticGroupCodec) decode(buf []byte, v reflect.Value) ([]byte, error) {
	if len(buf) > 0 && buf[0] == nullByte {
		if sc.required {
			return buf[1:], ErrMissingRequiredField
		}
		if v.Kind() == reflect.Ptr {
			v.Set(reflect.Zero(v.Type()))
		}
		return buf[1:], nil
	}
	size, rest, isNull, err := readUvarint(buf)
	if err != nil {
		return rest, err
	}
	if isNull {
		if sc.required {
			return rest, ErrMissingRequiredField
		}
		if v.Kind() == reflect.Ptr {
			v.Set(reflect.Zero(v.Type()))
		}
		return rest, nil
	}
	if uint64(len(rest)) < size {
		return rest, ErrTruncated
	}
	body, tail := rest[:size], rest[size:]
	var elem reflect.Value
	if v.Kind() == reflect.Ptr {
		inst := reflect.New(v.Type().Elem())
		v.Set(inst)
		elem = inst.Elem()
	} else {
		elem = v
	}
	leftover, err := decodeGroupFields(body, sc.target, elem)
	if err != nil {
		return tail, err
	}
	if len(leftover) > 0 {
		return tail, ErrFrameOverrun
	}
	return tail, nil
}

// dynamicGroupCodec emits a length-prefixed region containing the
// concrete subgroup's id followed by its fields, per spec.md §4.E. The
// struct field it binds to is either an interface-typed field whose value
// implements GroupValue, or a pointer to a concrete host type; decoding
// stores a pointer to the decoded group's host type in it.
type dynamicGroupCodec struct {
	validSet map[uint64]*GroupInstructions
	required bool
}

// GroupValue is implemented by generated (or hand-written) host types
// used as the concrete payload of a DynamicReference field, so the
// dynamic group codec can recover which schema group an arbitrary
// interface value was decoded from without a second type registry.
type GroupValue interface {
	BlinkGroupName() string
}

func (dc *dynamicGroupCodec) encode(dst *Buffer, v reflect.Value) error {
	if v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr {
		if v.IsNil() {
			if dc.required {
				return fmt.Errorf("%w: required dynamic group reference is nil", ErrMissingRequiredField)
			}
			dst.seg = appendNull(dst.seg)
			return nil
		}
	}
	gv, ok := v.Interface().(GroupValue)
	if !ok {
		return fmt.Errorf("%w: value does not implement GroupValue", ErrDynamicGroupTypeNotPermitted)
	}
	name := gv.BlinkGroupName()
	var target *GroupInstructions
	var id uint64
	found := false
	for gid, gi := range dc.validSet {
		if gi.GroupName == name {
			target, id, found = gi, gid, true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrDynamicGroupTypeNotPermitted, name)
	}
	elem := reflect.ValueOf(gv)
	for elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	return dst.WriteSized(func() error {
		dst.seg = appendUvarint(dst.seg, id)
		return encodeGroupFields(dst, target, elem)
	})
}

func (dc *dynamicGroupCodec) decode(buf []byte, v reflect.Value) ([]byte, error) {
	size, rest, isNull, err := readUvarint(buf)
	if err != nil {
		return rest, err
	}
	if isNull {
		if dc.required {
			return rest, ErrMissingRequiredField
		}
		v.Set(reflect.Zero(v.Type()))
		return rest, nil
	}
	if uint64(len(rest)) < size {
		return rest, ErrTruncated
	}
	body, tail := rest[:size], rest[size:]
	id, body, _, err := readUvarint(body)
	if err != nil {
		return tail, err
	}
	target, ok := dc.validSet[id]
	if !ok {
		return tail, fmt.Errorf("%w: id %d", ErrDynamicGroupTypeNotPermitted, id)
	}
	inst := reflect.New(target.HostType)
	leftover, err := decodeGroupFields(body, target, inst.Elem())
	if err != nil {
		return tail, err
	}
	if len(leftover) > 0 {
		return tail, ErrFrameOverrun
	}
	v.Set(inst)
	return tail, nil
}

// sequenceCodec handles Sequence<primitive> and Sequence<group-ref>, per
// spec.md §4.D: unsigned VLC count, then count elements written with
// elem. Sequence<Binary> is rejected earlier, at compile time
// (compile.go's compileCodec).
type sequenceCodec struct {
	elem     ValueCodec
	required bool
}

func (sc *sequenceCodec) encode(dst *Buffer, v reflect.Value) error {
	if (v.Kind() == reflect.Slice) && v.IsNil() {
		if sc.required {
			return fmt.Errorf("%w: required sequence is nil", ErrMissingRequiredField)
		}
		dst.seg = appendNull(dst.seg)
		return nil
	}
	n := v.Len()
	dst.seg = appendUvarint(dst.seg, uint64(n))
	for i := 0; i < n; i++ {
		if err := sc.elem.encode(dst, v.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func (sc *sequenceCodec) decode(buf []byte, v reflect.Value) ([]byte, error) {
	n, rest, isNull, err := readUvarint(buf)
	if err != nil {
		return rest, err
	}
	if isNull {
		if sc.required {
			return rest, ErrMissingRequiredField
		}
		v.Set(reflect.Zero(v.Type()))
		return rest, nil
	}
	out := reflect.MakeSlice(v.Type(), int(n), int(n))
	for i := 0; i < int(n); i++ {
		rest, err = sc.elem.decode(rest, out.Index(i))
		if err != nil {
			return rest, err
		}
	}
	v.Set(out)
	return rest, nil
}
