package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/Muntasir-Arin/es-in-action/internal/index"
	apperrors "github.com/Muntasir-Arin/es-in-action/pkg/errors"
)

func testSchema(t *testing.T) *index.Schema {
	t.Helper()
	schema, err := index.NewSchema(map[string]index.FieldType{
		"title":           index.FieldText,
		"status":          index.FieldKeyword,
		"views":           index.FieldNumeric,
		"@timestamp":      index.FieldDate,
		"active":          index.FieldBoolean,
		"comments":        index.FieldNested,
		"comments.author": index.FieldKeyword,
		"comments.stars":  index.FieldNumeric,
	})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return schema
}

func TestParseValid(t *testing.T) {
	schema := testSchema(t)
	cases := []struct {
		name string
		tree map[string]any
		want Kind
	}{
		{"match short form", map[string]any{"match": map[string]any{"title": "hello world"}}, KindMatch},
		{"match object form", map[string]any{"match": map[string]any{"title": map[string]any{"query": "hello", "boost": 2.0}}}, KindMatch},
		{"match_phrase", map[string]any{"match_phrase": map[string]any{"title": "exact words"}}, KindMatchPhrase},
		{"multi_match", map[string]any{"multi_match": map[string]any{"query": "x", "fields": []any{"title", "status"}}}, KindMultiMatch},
		{"term", map[string]any{"term": map[string]any{"status": "ERROR"}}, KindTerm},
		{"terms", map[string]any{"terms": map[string]any{"status": []any{"A", "B"}}}, KindTerms},
		{"range", map[string]any{"range": map[string]any{"views": map[string]any{"gte": 1.0, "lt": 10.0}}}, KindRange},
		{"exists", map[string]any{"exists": map[string]any{"field": "views"}}, KindExists},
		{"prefix", map[string]any{"prefix": map[string]any{"status": "ERR"}}, KindPrefix},
		{"wildcard", map[string]any{"wildcard": map[string]any{"status": "ERR*R?"}}, KindWildcard},
		{"regexp", map[string]any{"regexp": map[string]any{"status": "ERR.*"}}, KindRegexp},
		{"fuzzy", map[string]any{"fuzzy": map[string]any{"status": map[string]any{"value": "jon", "fuzziness": 1.0}}}, KindFuzzy},
		{"bool", map[string]any{"bool": map[string]any{"must": []any{map[string]any{"term": map[string]any{"status": "A"}}}}}, KindBool},
		{"nested", map[string]any{"nested": map[string]any{
			"path":  "comments",
			"query": map[string]any{"term": map[string]any{"comments.author": "kim"}},
		}}, KindNested},
		{"function_score", map[string]any{"function_score": map[string]any{
			"query": map[string]any{"term": map[string]any{"status": "A"}},
			"functions": []any{
				map[string]any{"weight": 3.0},
				map[string]any{"gauss": map[string]any{"@timestamp": map[string]any{
					"origin": "2024-06-01T00:00:00Z",
					"scale":  "240h",
					"decay":  0.4,
				}}},
			},
			"score_mode": "sum",
			"boost_mode": "replace",
		}}, KindFunctionScore},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node, err := Parse(tc.tree, schema)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if node.Kind != tc.want {
				t.Errorf("kind = %v, want %v", node.Kind, tc.want)
			}
			if node.Boost < 0 {
				t.Errorf("boost = %v, want non-negative", node.Boost)
			}
		})
	}
}

func TestParseDefaultsBoost(t *testing.T) {
	node, err := Parse(map[string]any{"term": map[string]any{"status": "A"}}, testSchema(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if node.Boost != 1.0 {
		t.Errorf("default boost = %v, want 1.0", node.Boost)
	}
}

func TestParseErrors(t *testing.T) {
	schema := testSchema(t)
	cases := []struct {
		name     string
		tree     map[string]any
		sentinel error
		pathPart string
	}{
		{
			"unknown operation",
			map[string]any{"knn": map[string]any{}},
			apperrors.ErrMalformedQuery, "query.knn",
		},
		{
			"unknown field",
			map[string]any{"term": map[string]any{"color": "red"}},
			apperrors.ErrUnknownField, "query.term",
		},
		{
			"range without bounds",
			map[string]any{"range": map[string]any{"views": map[string]any{}}},
			apperrors.ErrMalformedQuery, "query.range",
		},
		{
			"range bound of wrong type",
			map[string]any{"range": map[string]any{"views": map[string]any{"gte": "low"}}},
			apperrors.ErrMalformedQuery, "query.range",
		},
		{
			"range on boolean field",
			map[string]any{"range": map[string]any{"active": map[string]any{"gte": true}}},
			apperrors.ErrMalformedQuery, "query.range",
		},
		{
			"empty bool",
			map[string]any{"bool": map[string]any{}},
			apperrors.ErrMalformedQuery, "query.bool",
		},
		{
			"negative boost",
			map[string]any{"term": map[string]any{"status": "A", "boost": -1.0}},
			apperrors.ErrMalformedQuery, "query.term",
		},
		{
			"nested on flat field",
			map[string]any{"nested": map[string]any{
				"path":  "status",
				"query": map[string]any{"term": map[string]any{"status": "A"}},
			}},
			apperrors.ErrMalformedQuery, "query.nested",
		},
		{
			"match on numeric field",
			map[string]any{"match": map[string]any{"views": "3"}},
			apperrors.ErrMalformedQuery, "query.match",
		},
		{
			"invalid regexp",
			map[string]any{"regexp": map[string]any{"status": "("}},
			apperrors.ErrMalformedQuery, "query.regexp",
		},
		{
			"error path inside bool clause",
			map[string]any{"bool": map[string]any{"must": []any{
				map[string]any{"term": map[string]any{"status": "A"}},
				map[string]any{"range": map[string]any{"nope": map[string]any{"gte": 1.0}}},
			}}},
			apperrors.ErrUnknownField, "query.bool.must[1].range",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.tree, schema)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, tc.sentinel) {
				t.Errorf("error = %v, want sentinel %v", err, tc.sentinel)
			}
			if !strings.Contains(err.Error(), tc.pathPart) {
				t.Errorf("error %q does not name node path %q", err.Error(), tc.pathPart)
			}
		})
	}
}

func TestParseFuzzinessCap(t *testing.T) {
	node, err := Parse(map[string]any{"fuzzy": map[string]any{
		"status": map[string]any{"value": "jon", "fuzziness": 5.0},
	}}, testSchema(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if node.Fuzziness != 2 {
		t.Errorf("fuzziness = %d, want capped at 2", node.Fuzziness)
	}
}

func TestParseWithLimits(t *testing.T) {
	schema := testSchema(t)

	nested := map[string]any{"bool": map[string]any{"must": []any{
		map[string]any{"term": map[string]any{"status": "A"}},
		map[string]any{"bool": map[string]any{"should": []any{
			map[string]any{"term": map[string]any{"status": "B"}},
			map[string]any{"term": map[string]any{"status": "C"}},
		}}},
	}}}
	if _, err := ParseWithLimits(nested, schema, Limits{MaxBoolClauses: 4}); err != nil {
		t.Errorf("within clause limit: %v", err)
	}
	_, err := ParseWithLimits(nested, schema, Limits{MaxBoolClauses: 3})
	if !errors.Is(err, apperrors.ErrMalformedQuery) {
		t.Errorf("error = %v, want ErrMalformedQuery over the clause limit", err)
	}

	long := map[string]any{"regexp": map[string]any{"status": strings.Repeat("a", 20)}}
	if _, err := ParseWithLimits(long, schema, Limits{MaxRegexpLength: 10}); !errors.Is(err, apperrors.ErrMalformedQuery) {
		t.Errorf("error = %v, want ErrMalformedQuery over the pattern limit", err)
	}
	if _, err := ParseWithLimits(long, schema, Limits{}); err != nil {
		t.Errorf("unbounded limits rejected a long pattern: %v", err)
	}
}

func TestCompileWildcard(t *testing.T) {
	re, err := compileWildcard("he*o w?rld.")
	if err != nil {
		t.Fatalf("compileWildcard: %v", err)
	}
	if !re.MatchString("hello world.") {
		t.Error("expected pattern to match 'hello world.'")
	}
	if re.MatchString("hello worlds.") {
		t.Error("? must match exactly one character")
	}
	if re.MatchString("xhello world.") {
		t.Error("pattern must be anchored")
	}
}
