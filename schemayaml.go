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
	"io"

	"sigs.k8s.io/yaml"
)

// yamlSchema is the declarative, YAML-described stand-in for host-
// language class metadata (which spec.md §1 explicitly scopes out) —
// see db/sync.go for the teacher's own use of YAML-described resources.
// It is a plain data carrier; LoadSchema converts it into the Schema
// model of spec.md §4.C.
type yamlSchema struct {
	Groups []yamlGroup `json:"groups"`
}

type yamlGroup struct {
	Name        string            `json:"name"`
	ID          *uint64           `json:"id,omitempty"`
	Super       string            `json:"super,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Fields      []yamlField       `json:"fields"`
}

type yamlField struct {
	Name        string            `json:"name"`
	ID          *uint64           `json:"id,omitempty"`
	Required    bool              `json:"required,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Type        yamlType          `json:"type"`
}

type yamlType struct {
	Kind      string      `json:"kind"`
	Bits      int         `json:"bits,omitempty"`
	Signed    bool         `json:"signed,omitempty"`
	MaxSize   int         `json:"maxSize,omitempty"`
	TimeUnit  string      `json:"timeUnit,omitempty"`
	TimeEpoch string      `json:"timeEpoch,omitempty"`
	TimeZone  string      `json:"timeZone,omitempty"`
	Symbols   []yamlEnum  `json:"symbols,omitempty"`
	Component *yamlType   `json:"component,omitempty"`
	Group     string      `json:"group,omitempty"`
}

type yamlEnum struct {
	Name  string `json:"name"`
	Value int32  `json:"value"`
}

// LoadSchema parses a YAML schema document (see SPEC_FULL.md for the
// shape) and binds it into a Schema. It is a convenience frontend only;
// the Schema model itself (schema.go) has no YAML dependency.
func LoadSchema(r io.Reader) (*Schema, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var doc yamlSchema
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("blink: parsing schema document: %w", err)
	}
	groups := make([]GroupDef, 0, len(doc.Groups))
	for _, g := range doc.Groups {
		fields := make([]FieldDef, 0, len(g.Fields))
		for _, f := range g.Fields {
			t, err := convertType(f.Type)
			if err != nil {
				return nil, fmt.Errorf("blink: group %q field %q: %w", g.Name, f.Name, err)
			}
			fields = append(fields, FieldDef{
				Name:        f.Name,
				ID:          f.ID,
				Type:        t,
				Required:    f.Required,
				Annotations: f.Annotations,
			})
		}
		groups = append(groups, GroupDef{
			Name:        g.Name,
			ID:          g.ID,
			SuperGroup:  g.Super,
			Fields:      fields,
			Annotations: g.Annotations,
		})
	}
	return NewSchema(groups)
}

func convertType(t yamlType) (TypeDef, error) {
	switch t.Kind {
	case "int":
		bits := t.Bits
		if bits == 0 {
			bits = 64
		}
		return TypeDef{Kind: KindInt, IntBits: bits, IntSigned: t.Signed}, nil
	case "float":
		bits := t.Bits
		if bits == 0 {
			bits = 64
		}
		return TypeDef{Kind: KindFloat, FloatBits: bits}, nil
	case "decimal":
		return TypeDef{Kind: KindDecimal}, nil
	case "bigint":
		return TypeDef{Kind: KindBigInt}, nil
	case "bigdecimal":
		return TypeDef{Kind: KindBigDecimal}, nil
	case "boolean":
		return TypeDef{Kind: KindBoolean}, nil
	case "string":
		return TypeDef{Kind: KindString, MaxSize: t.MaxSize}, nil
	case "binary":
		return TypeDef{Kind: KindBinary, MaxSize: t.MaxSize}, nil
	case "time":
		return TypeDef{Kind: KindTime, TimeUnit: t.TimeUnit, TimeEpoch: t.TimeEpoch, TimeZone: t.TimeZone}, nil
	case "enum":
		symbols := make([]EnumSymbol, 0, len(t.Symbols))
		for _, s := range t.Symbols {
			symbols = append(symbols, EnumSymbol{Name: s.Name, Value: s.Value})
		}
		return TypeDef{Kind: KindEnum, EnumSymbols: symbols}, nil
	case "sequence":
		if t.Component == nil {
			return TypeDef{}, fmt.Errorf("%w: sequence missing component type", ErrUnsupportedType)
		}
		comp, err := convertType(*t.Component)
		if err != nil {
			return TypeDef{}, err
		}
		return TypeDef{Kind: KindSequence, Component: &comp}, nil
	case "reference":
		return TypeDef{Kind: KindReference, GroupName: t.Group}, nil
	case "dynamicReference":
		return TypeDef{Kind: KindDynamicReference, GroupName: t.Group}, nil
	default:
		return TypeDef{}, fmt.Errorf("%w: unknown type kind %q", ErrUnsupportedType, t.Kind)
	}
}
