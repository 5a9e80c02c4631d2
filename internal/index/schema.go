package index

import (
	"fmt"
	"strings"

	apperrors "github.com/Muntasir-Arin/es-in-action/pkg/errors"
)

// FieldType is the declared mapping type of a field. Text fields are analyzed
// (tokenized) before matching; every other type is matched exactly.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldKeyword FieldType = "keyword"
	FieldNumeric FieldType = "numeric"
	FieldDate    FieldType = "date"
	FieldBoolean FieldType = "boolean"
	FieldNested  FieldType = "nested"
)

// IDField is the pseudo-field addressing a document's identifier in sort
// specifications. It is always present and always unique.
const IDField = "_id"

// Schema declares the field-type mapping of an index. Subfields of nested
// fields are declared with dotted paths ("comments.author") whose parent
// must itself be declared nested.
type Schema struct {
	fields map[string]FieldType
}

// NewSchema validates the mapping and returns a Schema. Dotted paths must
// have a nested-typed parent at every level above the leaf.
func NewSchema(fields map[string]FieldType) (*Schema, error) {
	s := &Schema{fields: make(map[string]FieldType, len(fields))}
	for name, ft := range fields {
		switch ft {
		case FieldText, FieldKeyword, FieldNumeric, FieldDate, FieldBoolean, FieldNested:
		default:
			return nil, fmt.Errorf("field %q: unsupported type %q", name, ft)
		}
		s.fields[name] = ft
	}
	for name := range s.fields {
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			parent := name[:idx]
			if pt, ok := s.fields[parent]; !ok || pt != FieldNested {
				return nil, fmt.Errorf("field %q: parent %q must be declared nested", name, parent)
			}
		}
	}
	return s, nil
}

// Type returns the declared type of a field, if any. The _id pseudo-field
// reports as keyword.
func (s *Schema) Type(field string) (FieldType, bool) {
	if field == IDField {
		return FieldKeyword, true
	}
	ft, ok := s.fields[field]
	return ft, ok
}

// Analyzed reports whether the field's text is tokenized before matching.
func (s *Schema) Analyzed(field string) bool {
	return s.fields[field] == FieldText
}

// Children returns the subfield names declared directly under a nested field.
func (s *Schema) Children(parent string) []string {
	prefix := parent + "."
	var out []string
	for name := range s.fields {
		if strings.HasPrefix(name, prefix) && !strings.Contains(name[len(prefix):], ".") {
			out = append(out, name)
		}
	}
	return out
}

// Convert validates a decoded-JSON field map against the schema and produces
// typed Fields. Unknown fields fail with UnknownField; values of the wrong
// shape for their declared type fail with TypeMismatch.
func (s *Schema) Convert(raw map[string]any) (Fields, error) {
	fields := make(Fields, len(raw))
	for name, v := range raw {
		ft, ok := s.fields[name]
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrUnknownField, 400, "field %q is not mapped", name)
		}
		val, err := s.convertValue(name, ft, v)
		if err != nil {
			return nil, err
		}
		fields[name] = val
	}
	return fields, nil
}

func (s *Schema) convertValue(name string, ft FieldType, v any) (Value, error) {
	if v == nil {
		return Value{}, apperrors.Newf(apperrors.ErrInvalidInput, 400, "field %q is null", name)
	}
	switch ft {
	case FieldText, FieldKeyword:
		str, ok := v.(string)
		if !ok {
			return Value{}, mismatch(name, ft, v)
		}
		return String(str), nil
	case FieldNumeric:
		switch n := v.(type) {
		case float64:
			return Number(n), nil
		case int:
			return Number(float64(n)), nil
		case int64:
			return Number(float64(n)), nil
		}
		return Value{}, mismatch(name, ft, v)
	case FieldDate:
		str, ok := v.(string)
		if !ok {
			return Value{}, mismatch(name, ft, v)
		}
		val, err := ParseDate(str)
		if err != nil {
			return Value{}, apperrors.Newf(apperrors.ErrTypeMismatch, 400, "field %q: %v", name, err)
		}
		return val, nil
	case FieldBoolean:
		b, ok := v.(bool)
		if !ok {
			return Value{}, mismatch(name, ft, v)
		}
		return Boolean(b), nil
	case FieldNested:
		elems, ok := v.([]any)
		if !ok {
			return Value{}, mismatch(name, ft, v)
		}
		nested := make([]Fields, 0, len(elems))
		for i, elem := range elems {
			obj, ok := elem.(map[string]any)
			if !ok {
				return Value{}, apperrors.Newf(apperrors.ErrTypeMismatch, 400,
					"field %q[%d]: nested element must be an object", name, i)
			}
			sub := make(Fields, len(obj))
			for key, sv := range obj {
				path := name + "." + key
				sft, ok := s.fields[path]
				if !ok {
					return Value{}, apperrors.Newf(apperrors.ErrUnknownField, 400,
						"field %q is not mapped", path)
				}
				val, err := s.convertValue(path, sft, sv)
				if err != nil {
					return Value{}, err
				}
				sub[key] = val
			}
			nested = append(nested, sub)
		}
		return NestedValue(nested), nil
	default:
		return Value{}, mismatch(name, ft, v)
	}
}

func mismatch(name string, ft FieldType, v any) error {
	return apperrors.Newf(apperrors.ErrTypeMismatch, 400,
		"field %q: value %T is not assignable to %s", name, v, ft)
}
