// Package aggregate computes grouped summaries over a match set: terms
// aggregations (top-N buckets by document count) and stats aggregations over
// numeric or date fields, with sub-aggregations recursing per bucket.
package aggregate

import (
	"sort"
	"strings"

	"github.com/Muntasir-Arin/es-in-action/internal/index"
	apperrors "github.com/Muntasir-Arin/es-in-action/pkg/errors"
)

// defaultSize bounds a terms aggregation when the caller gives no cap.
const defaultSize = 10

// Spec describes one aggregation. Exactly one of Terms or Stats must be set;
// Subs recurse on each terms bucket's document subset.
type Spec struct {
	Terms *TermsSpec       `json:"terms,omitempty"`
	Stats *StatsSpec       `json:"stats,omitempty"`
	Subs  map[string]*Spec `json:"aggs,omitempty"`
}

// TermsSpec partitions documents by a field's exact value.
type TermsSpec struct {
	Field string `json:"field"`
	Size  int    `json:"size,omitempty"`
}

// StatsSpec summarizes a numeric or date field. Dates are measured in epoch
// milliseconds.
type StatsSpec struct {
	Field string `json:"field"`
}

// Bucket is one partition: a key, its document count, and any
// sub-aggregation results over the partition.
type Bucket struct {
	Key   string             `json:"key"`
	Count int                `json:"count"`
	Subs  map[string]*Result `json:"aggs,omitempty"`
}

// StatsResult holds the summary of a stats aggregation.
type StatsResult struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
}

// Result is either a bucket list (terms) or a stats summary.
type Result struct {
	Buckets []Bucket     `json:"buckets,omitempty"`
	Stats   *StatsResult `json:"stats,omitempty"`
}

// Compute runs every named aggregation over the given document subset.
// maxBuckets caps the bucket count of any single terms aggregation
// regardless of the requested size.
func Compute(snap *index.Snapshot, ids []string, specs map[string]*Spec, maxBuckets int) (map[string]*Result, error) {
	results := make(map[string]*Result, len(specs))
	for name, spec := range specs {
		res, err := computeOne(snap, ids, spec, maxBuckets)
		if err != nil {
			return nil, err
		}
		results[name] = res
	}
	return results, nil
}

func computeOne(snap *index.Snapshot, ids []string, spec *Spec, maxBuckets int) (*Result, error) {
	switch {
	case spec == nil || (spec.Terms == nil && spec.Stats == nil):
		return nil, apperrors.New(apperrors.ErrInvalidInput, 400,
			"aggregation must specify terms or stats")
	case spec.Terms != nil && spec.Stats != nil:
		return nil, apperrors.New(apperrors.ErrInvalidInput, 400,
			"aggregation cannot combine terms and stats")
	case spec.Stats != nil:
		if len(spec.Subs) > 0 {
			return nil, apperrors.New(apperrors.ErrInvalidInput, 400,
				"stats aggregations do not support sub-aggregations")
		}
		return computeStats(snap, ids, spec.Stats)
	default:
		return computeTerms(snap, ids, spec, maxBuckets)
	}
}

func computeTerms(snap *index.Snapshot, ids []string, spec *Spec, maxBuckets int) (*Result, error) {
	if _, ok := snap.Schema().Type(spec.Terms.Field); !ok {
		return nil, apperrors.Newf(apperrors.ErrUnknownField, 400,
			"aggregation field %q is not mapped", spec.Terms.Field)
	}
	members := make(map[string][]string)
	for _, id := range ids {
		doc, ok := snap.Get(id)
		if !ok {
			continue
		}
		for key := range distinctKeys(doc, spec.Terms.Field) {
			members[key] = append(members[key], id)
		}
	}
	buckets := make([]Bucket, 0, len(members))
	for key, docIDs := range members {
		buckets = append(buckets, Bucket{Key: key, Count: len(docIDs)})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Key < buckets[j].Key
	})
	size := spec.Terms.Size
	if size <= 0 {
		size = defaultSize
	}
	if maxBuckets > 0 && size > maxBuckets {
		size = maxBuckets
	}
	if len(buckets) > size {
		buckets = buckets[:size]
	}
	for i := range buckets {
		if len(spec.Subs) == 0 {
			break
		}
		subs, err := Compute(snap, members[buckets[i].Key], spec.Subs, maxBuckets)
		if err != nil {
			return nil, err
		}
		buckets[i].Subs = subs
	}
	return &Result{Buckets: buckets}, nil
}

// distinctKeys returns the distinct bucket keys a document contributes to
// the field, resolving dotted paths through nested elements. A document
// counts once per bucket no matter how many elements share a value.
func distinctKeys(doc *index.Document, field string) map[string]bool {
	keys := make(map[string]bool)
	for _, v := range fieldValues(doc.Fields, field) {
		keys[v.Text()] = true
	}
	return keys
}

func fieldValues(fields index.Fields, field string) []index.Value {
	if v, ok := fields[field]; ok {
		if v.Kind == index.KindNested {
			return nil
		}
		return []index.Value{v}
	}
	idx := strings.IndexByte(field, '.')
	for idx > 0 {
		parent, rest := field[:idx], field[idx+1:]
		if v, ok := fields[parent]; ok && v.Kind == index.KindNested {
			var out []index.Value
			for _, elem := range v.Nested {
				out = append(out, fieldValues(elem, rest)...)
			}
			return out
		}
		next := strings.IndexByte(field[idx+1:], '.')
		if next < 0 {
			break
		}
		idx += 1 + next
	}
	return nil
}

func computeStats(snap *index.Snapshot, ids []string, spec *StatsSpec) (*Result, error) {
	ft, ok := snap.Schema().Type(spec.Field)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrUnknownField, 400,
			"aggregation field %q is not mapped", spec.Field)
	}
	if ft != index.FieldNumeric && ft != index.FieldDate {
		return nil, apperrors.Newf(apperrors.ErrTypeMismatch, 400,
			"stats aggregation on field %q requires numeric or date, got %s", spec.Field, ft)
	}
	stats := &StatsResult{}
	for _, id := range ids {
		doc, ok := snap.Get(id)
		if !ok {
			continue
		}
		for _, v := range fieldValues(doc.Fields, spec.Field) {
			var x float64
			switch v.Kind {
			case index.KindNumber:
				x = v.Num
			case index.KindDate:
				x = float64(v.Date.UnixMilli())
			default:
				continue
			}
			if stats.Count == 0 || x < stats.Min {
				stats.Min = x
			}
			if stats.Count == 0 || x > stats.Max {
				stats.Max = x
			}
			stats.Sum += x
			stats.Count++
		}
	}
	if stats.Count > 0 {
		stats.Avg = stats.Sum / float64(stats.Count)
	}
	return &Result{Stats: stats}, nil
}
