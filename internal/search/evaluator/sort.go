package evaluator

import (
	"fmt"
	"strings"
	"time"

	"github.com/Muntasir-Arin/es-in-action/internal/index"
)

// compareDocs orders two documents under a sort spec, with the identifier as
// the implicit final tie-break. Missing values sort last regardless of
// direction.
func compareDocs(snap *index.Snapshot, aID, bID string, spec []SortField) int {
	for _, sf := range spec {
		av, aok := docSortValue(snap, aID, sf.Field)
		bv, bok := docSortValue(snap, bID, sf.Field)
		if cmp := comparePart(sf.Desc, av, aok, bv, bok); cmp != 0 {
			return cmp
		}
	}
	return strings.Compare(aID, bID)
}

func docSortValue(snap *index.Snapshot, id, field string) (index.Value, bool) {
	if field == index.IDField {
		return index.String(id), true
	}
	doc, ok := snap.Get(id)
	if !ok {
		return index.Value{}, false
	}
	v, ok := doc.Fields[field]
	if !ok || v.Kind == index.KindNested {
		return index.Value{}, false
	}
	return v, ok
}

func comparePart(desc bool, a index.Value, aok bool, b index.Value, bok bool) int {
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	}
	cmp, err := index.Compare(a, b)
	if err != nil {
		return 0
	}
	if desc {
		cmp = -cmp
	}
	return cmp
}

// KeyValues extracts a document's sort-key tuple in wire form: one entry per
// sort field (nil when the value is missing) plus the identifier as the
// final, always-unique key. Dates travel as epoch milliseconds so the tuple
// survives a JSON round trip without losing its ordering.
func KeyValues(snap *index.Snapshot, id string, spec []SortField) []any {
	key := make([]any, 0, len(spec)+1)
	for _, sf := range spec {
		v, ok := docSortValue(snap, id, sf.Field)
		if !ok {
			key = append(key, nil)
			continue
		}
		switch v.Kind {
		case index.KindString:
			key = append(key, v.Str)
		case index.KindNumber:
			key = append(key, v.Num)
		case index.KindBool:
			key = append(key, v.Bool)
		case index.KindDate:
			key = append(key, float64(v.Date.UnixMilli()))
		default:
			key = append(key, nil)
		}
	}
	return append(key, id)
}

// CompareToKey orders a document against a decoded cursor key tuple under
// the same sort spec the cursor was produced with.
func CompareToKey(snap *index.Snapshot, id string, key []any, spec []SortField) (int, error) {
	if len(key) != len(spec)+1 {
		return 0, fmt.Errorf("cursor has %d key parts, sort spec needs %d", len(key), len(spec)+1)
	}
	for i, sf := range spec {
		ft, _ := snap.Schema().Type(sf.Field)
		kv, kok, err := decodeKeyValue(ft, key[i])
		if err != nil {
			return 0, fmt.Errorf("cursor key %d: %w", i, err)
		}
		dv, dok := docSortValue(snap, id, sf.Field)
		if cmp := comparePart(sf.Desc, dv, dok, kv, kok); cmp != 0 {
			return cmp, nil
		}
	}
	cursorID, ok := key[len(spec)].(string)
	if !ok {
		return 0, fmt.Errorf("cursor is missing the identifier tie-break key")
	}
	return strings.Compare(id, cursorID), nil
}

func decodeKeyValue(ft index.FieldType, w any) (index.Value, bool, error) {
	if w == nil {
		return index.Value{}, false, nil
	}
	switch ft {
	case index.FieldText, index.FieldKeyword:
		if s, ok := w.(string); ok {
			return index.String(s), true, nil
		}
	case index.FieldNumeric:
		if n, ok := w.(float64); ok {
			return index.Number(n), true, nil
		}
	case index.FieldDate:
		if n, ok := w.(float64); ok {
			return index.DateValue(time.UnixMilli(int64(n)).UTC(), ""), true, nil
		}
	case index.FieldBoolean:
		if b, ok := w.(bool); ok {
			return index.Boolean(b), true, nil
		}
	}
	return index.Value{}, false, fmt.Errorf("value %v does not fit field type %s", w, ft)
}
