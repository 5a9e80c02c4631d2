package index

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Muntasir-Arin/es-in-action/pkg/errors"
)

// Kind identifies the runtime type of a field value. Documents are
// schema-flexible maps, but every stored value carries an explicit Kind so
// type-mismatch failures stay detectable instead of degrading into untyped
// comparisons.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindDate
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	case KindNested:
		return "nested"
	default:
		return "unknown"
	}
}

// Value is a tagged variant over the supported field value types. For dates,
// Str retains the raw ISO-8601 form while Date holds the parsed instant.
type Value struct {
	Kind   Kind
	Str    string
	Num    float64
	Bool   bool
	Date   time.Time
	Nested []Fields
}

// Fields maps field names to typed values.
type Fields map[string]Value

func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func Boolean(b bool) Value   { return Value{Kind: KindBool, Bool: b} }

func DateValue(t time.Time, raw string) Value {
	return Value{Kind: KindDate, Date: t, Str: raw}
}

func NestedValue(elems []Fields) Value {
	return Value{Kind: KindNested, Nested: elems}
}

// dateLayouts are accepted ISO-8601 shapes, tried in order.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate parses an ISO-8601 date string into a Value.
func ParseDate(raw string) (Value, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return DateValue(t.UTC(), raw), nil
		}
	}
	return Value{}, fmt.Errorf("unparseable date %q", raw)
}

// Compare orders two values of the same kind: numeric for numbers,
// chronological for dates, lexicographic for strings, false<true for
// booleans. Comparing different kinds or nested values is a type mismatch.
func Compare(a, b Value) (int, error) {
	if a.Kind != b.Kind {
		return 0, apperrors.Newf(apperrors.ErrTypeMismatch, 400,
			"cannot compare %s with %s", a.Kind, b.Kind)
	}
	switch a.Kind {
	case KindNumber:
		switch {
		case a.Num < b.Num:
			return -1, nil
		case a.Num > b.Num:
			return 1, nil
		}
		return 0, nil
	case KindDate:
		switch {
		case a.Date.Before(b.Date):
			return -1, nil
		case a.Date.After(b.Date):
			return 1, nil
		}
		return 0, nil
	case KindString:
		return strings.Compare(a.Str, b.Str), nil
	case KindBool:
		switch {
		case !a.Bool && b.Bool:
			return -1, nil
		case a.Bool && !b.Bool:
			return 1, nil
		}
		return 0, nil
	default:
		return 0, apperrors.Newf(apperrors.ErrTypeMismatch, 400,
			"%s values are not comparable", a.Kind)
	}
}

// Equal reports exact, case-sensitive equality of two values. Unlike Compare
// it never fails: differing kinds are simply unequal.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindString:
		return a.Str == b.Str
	case KindNumber:
		return a.Num == b.Num
	case KindBool:
		return a.Bool == b.Bool
	case KindDate:
		return a.Date.Equal(b.Date)
	default:
		return false
	}
}

// Text returns the unanalyzed textual form of a value, used by prefix,
// wildcard, regexp and fuzzy matching and as an aggregation bucket key.
func (v Value) Text() string {
	switch v.Kind {
	case KindString, KindDate:
		return v.Str
	case KindNumber:
		if v.Num == float64(int64(v.Num)) {
			return fmt.Sprintf("%d", int64(v.Num))
		}
		return fmt.Sprintf("%g", v.Num)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
