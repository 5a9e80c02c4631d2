package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/Muntasir-Arin/es-in-action/internal/index"
	"github.com/Muntasir-Arin/es-in-action/internal/query"
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

func testSnapshot(t *testing.T) *index.Snapshot {
	t.Helper()
	store := index.NewStore(testSchema(t))
	docs := []index.Operation{
		{Type: index.OpIndex, ID: "1", Fields: map[string]any{
			"title":      "disk ERROR on node three",
			"status":     "ERROR",
			"views":      float64(10),
			"@timestamp": "2024-01-15T00:00:00Z",
		}},
		{Type: index.OpIndex, ID: "2", Fields: map[string]any{
			"title":      "all systems nominal",
			"status":     "OK",
			"views":      float64(3),
			"@timestamp": "2024-02-01T00:00:00Z",
			"comments": []any{
				map[string]any{"author": "john", "stars": float64(5)},
				map[string]any{"author": "kim", "stars": float64(2)},
			},
		}},
		{Type: index.OpIndex, ID: "3", Fields: map[string]any{
			"title":      "error error everywhere",
			"status":     "ERROR",
			"views":      float64(7),
			"@timestamp": "2024-01-31T23:59:59Z",
			"active":     true,
		}},
		{Type: index.OpIndex, ID: "4", Fields: map[string]any{
			"title":  "jonathan wrote this",
			"status": "WARN",
		}},
	}
	for _, op := range docs {
		if res := store.Apply(op); res.Err != nil {
			t.Fatalf("seed %s: %v", op.ID, res.Err)
		}
	}
	return store.Snapshot()
}

func search(t *testing.T, snap *index.Snapshot, tree map[string]any, opts Options) MatchSet {
	t.Helper()
	var node *query.Node
	if tree != nil {
		var err error
		node, err = query.Parse(tree, snap.Schema())
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
	}
	matches, err := Evaluate(context.Background(), node, snap, opts)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return matches
}

func ids(matches MatchSet) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.ID
	}
	return out
}

func assertIDs(t *testing.T, matches MatchSet, want ...string) {
	t.Helper()
	got := ids(matches)
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

func TestMatchAll(t *testing.T) {
	snap := testSnapshot(t)
	matches := search(t, snap, nil, Options{})
	assertIDs(t, matches, "1", "2", "3", "4")
	for _, m := range matches {
		if m.Score != 1.0 {
			t.Errorf("match-all score for %s = %v, want 1", m.ID, m.Score)
		}
	}
}

func TestTermQuery(t *testing.T) {
	snap := testSnapshot(t)
	matches := search(t, snap, map[string]any{
		"term": map[string]any{"status": "ERROR"},
	}, Options{})
	assertIDs(t, matches, "1", "3")
	for _, m := range matches {
		if m.Score <= 0 {
			t.Errorf("term hit %s has score %v, want > 0", m.ID, m.Score)
		}
	}
}

func TestMatchScoresByOverlap(t *testing.T) {
	snap := testSnapshot(t)
	matches := search(t, snap, map[string]any{
		"match": map[string]any{"title": "error"},
	}, Options{})
	// doc 3 repeats the term twice so it must outrank doc 1.
	assertIDs(t, matches, "3", "1")
	if matches[0].Score <= matches[1].Score {
		t.Errorf("scores %v, %v: repeated term should rank higher",
			matches[0].Score, matches[1].Score)
	}
}

func TestMatchPhrase(t *testing.T) {
	snap := testSnapshot(t)
	matches := search(t, snap, map[string]any{
		"match_phrase": map[string]any{"title": "disk on node"},
	}, Options{})
	if len(matches) != 0 {
		t.Fatalf("non-contiguous phrase matched %v", ids(matches))
	}
	matches = search(t, snap, map[string]any{
		"match_phrase": map[string]any{"title": "error on node"},
	}, Options{})
	assertIDs(t, matches, "1")
}

func TestRangeDateUpperBoundExclusive(t *testing.T) {
	snap := testSnapshot(t)
	matches := search(t, snap, map[string]any{
		"range": map[string]any{"@timestamp": map[string]any{
			"gte": "2024-01-01",
			"lt":  "2024-02-01",
		}},
	}, Options{})
	// doc 2 sits exactly on the excluded upper bound.
	assertIDs(t, matches, "1", "3")
}

func TestRangeTypeMismatchAtEvalTime(t *testing.T) {
	// A query parsed under one schema can hit a snapshot whose documents
	// carry a different shape for the field. The evaluator must surface
	// the mismatch rather than silently skip.
	altSchema, err := index.NewSchema(map[string]index.FieldType{
		"status": index.FieldNumeric,
	})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	node, err := query.Parse(map[string]any{
		"range": map[string]any{"status": map[string]any{"gte": float64(1)}},
	}, altSchema)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, err = Evaluate(context.Background(), node, testSnapshot(t), Options{})
	if !errors.Is(err, apperrors.ErrTypeMismatch) {
		t.Errorf("error = %v, want ErrTypeMismatch", err)
	}
}

func TestFuzzyDistance(t *testing.T) {
	snap := testSnapshot(t)
	matches := search(t, snap, map[string]any{
		"fuzzy": map[string]any{"title": map[string]any{
			"value": "jon", "fuzziness": float64(1),
		}},
	}, Options{})
	// "jonathan" is far beyond one edit of "jon".
	for _, m := range matches {
		if m.ID == "4" {
			t.Fatal("fuzzy matched a token five edits away")
		}
	}
	matches = search(t, snap, map[string]any{
		"fuzzy": map[string]any{"comments.author": map[string]any{
			"value": "jon", "fuzziness": float64(1),
		}},
	}, Options{})
	if len(matches) != 0 {
		t.Fatalf("fuzzy outside nested scope matched %v", ids(matches))
	}
	matches = search(t, snap, map[string]any{
		"nested": map[string]any{
			"path": "comments",
			"query": map[string]any{
				"fuzzy": map[string]any{"comments.author": map[string]any{
					"value": "jon", "fuzziness": float64(1),
				}},
			},
		},
	}, Options{})
	assertIDs(t, matches, "2")
}

func TestBoolMustNotOnlyNarrows(t *testing.T) {
	snap := testSnapshot(t)
	with := search(t, snap, map[string]any{
		"bool": map[string]any{
			"must":     []any{map[string]any{"match": map[string]any{"title": "error"}}},
			"must_not": []any{map[string]any{"term": map[string]any{"status": "ERROR"}}},
		},
	}, Options{})
	without := search(t, snap, map[string]any{
		"bool": map[string]any{
			"must": []any{map[string]any{"match": map[string]any{"title": "error"}}},
		},
	}, Options{})
	if len(with) > len(without) {
		t.Errorf("dropping must_not shrank the result set: %d > %d", len(with), len(without))
	}
	inWithout := make(map[string]bool)
	for _, m := range without {
		inWithout[m.ID] = true
	}
	for _, m := range with {
		if !inWithout[m.ID] {
			t.Errorf("doc %s appears only with the must_not clause", m.ID)
		}
	}
}

func TestBoolShouldSemantics(t *testing.T) {
	snap := testSnapshot(t)
	// should alone: at least one clause must match.
	matches := search(t, snap, map[string]any{
		"bool": map[string]any{"should": []any{
			map[string]any{"term": map[string]any{"status": "WARN"}},
			map[string]any{"term": map[string]any{"status": "OK"}},
		}},
	}, Options{})
	assertIDs(t, matches, "2", "4")

	// should next to must: optional, score only.
	matches = search(t, snap, map[string]any{
		"bool": map[string]any{
			"must":   []any{map[string]any{"term": map[string]any{"status": "ERROR"}}},
			"should": []any{map[string]any{"range": map[string]any{"views": map[string]any{"gte": float64(8)}}}},
		},
	}, Options{})
	assertIDs(t, matches, "1", "3")
	if matches[0].Score <= matches[1].Score {
		t.Errorf("should clause did not boost doc 1: %v vs %v",
			matches[0].Score, matches[1].Score)
	}
}

func TestBoolFilterDoesNotScore(t *testing.T) {
	snap := testSnapshot(t)
	filtered := search(t, snap, map[string]any{
		"bool": map[string]any{
			"must":   []any{map[string]any{"term": map[string]any{"status": "ERROR"}}},
			"filter": []any{map[string]any{"match": map[string]any{"title": "error"}}},
		},
	}, Options{})
	bare := search(t, snap, map[string]any{
		"bool": map[string]any{
			"must": []any{map[string]any{"term": map[string]any{"status": "ERROR"}}},
		},
	}, Options{})
	assertIDs(t, filtered, "1", "3")
	for i := range filtered {
		if filtered[i].Score != bare[i].Score {
			t.Errorf("filter changed score of %s: %v vs %v",
				filtered[i].ID, filtered[i].Score, bare[i].Score)
		}
	}
}

func TestExists(t *testing.T) {
	snap := testSnapshot(t)
	matches := search(t, snap, map[string]any{
		"exists": map[string]any{"field": "active"},
	}, Options{})
	assertIDs(t, matches, "3")
	matches = search(t, snap, map[string]any{
		"exists": map[string]any{"field": "comments"},
	}, Options{})
	assertIDs(t, matches, "2")
}

func TestPrefixWildcardRegexp(t *testing.T) {
	snap := testSnapshot(t)
	cases := []struct {
		name string
		tree map[string]any
		want []string
	}{
		{"prefix", map[string]any{"prefix": map[string]any{"status": "ERR"}}, []string{"1", "3"}},
		{"wildcard", map[string]any{"wildcard": map[string]any{"status": "?RROR"}}, []string{"1", "3"}},
		{"wildcard star", map[string]any{"wildcard": map[string]any{"status": "W*"}}, []string{"4"}},
		{"regexp", map[string]any{"regexp": map[string]any{"status": "(OK|WARN)"}}, []string{"2", "4"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assertIDs(t, search(t, snap, tc.tree, Options{}), tc.want...)
		})
	}
}

func TestNestedScoreModes(t *testing.T) {
	snap := testSnapshot(t)
	tree := func(mode string) map[string]any {
		return map[string]any{"nested": map[string]any{
			"path": "comments",
			"query": map[string]any{
				"range": map[string]any{"comments.stars": map[string]any{"gte": float64(1), "boost": 2.0}},
			},
			"score_mode": mode,
		}}
	}
	// Both comment elements match, each scoring 2 from the boost.
	for mode, want := range map[string]float64{
		"avg": 2, "sum": 4, "max": 2, "min": 2, "none": 0,
	} {
		matches := search(t, snap, tree(mode), Options{})
		assertIDs(t, matches, "2")
		if matches[0].Score != want {
			t.Errorf("score_mode %s: score = %v, want %v", mode, matches[0].Score, want)
		}
	}
}

func TestNestedElementScoping(t *testing.T) {
	snap := testSnapshot(t)
	// No single comment element has both author john and stars 2.
	matches := search(t, snap, map[string]any{
		"nested": map[string]any{
			"path": "comments",
			"query": map[string]any{"bool": map[string]any{"must": []any{
				map[string]any{"term": map[string]any{"comments.author": "john"}},
				map[string]any{"term": map[string]any{"comments.stars": float64(2)}},
			}}},
		},
	}, Options{})
	if len(matches) != 0 {
		t.Errorf("cross-element nested match: %v", ids(matches))
	}
}

func TestFunctionScoreGauss(t *testing.T) {
	snap := testSnapshot(t)
	matches := search(t, snap, map[string]any{
		"function_score": map[string]any{
			"query": map[string]any{"term": map[string]any{"status": "ERROR"}},
			"functions": []any{
				map[string]any{"gauss": map[string]any{"@timestamp": map[string]any{
					"origin": "2024-01-31T23:59:59Z",
					"scale":  "168h",
					"decay":  0.5,
				}}},
			},
		},
	}, Options{})
	// doc 3 sits at the origin; doc 1 is 17 days out and must decay below it.
	assertIDs(t, matches, "3", "1")
	if matches[0].Score != 1.0 {
		t.Errorf("origin doc score = %v, want 1.0", matches[0].Score)
	}
	if matches[1].Score >= 0.5 {
		t.Errorf("doc beyond scale scored %v, want < decay 0.5", matches[1].Score)
	}
}

func TestFunctionScoreWeightModes(t *testing.T) {
	snap := testSnapshot(t)
	matches := search(t, snap, map[string]any{
		"function_score": map[string]any{
			"query":      map[string]any{"term": map[string]any{"status": "WARN"}},
			"functions":  []any{map[string]any{"weight": 3.0}, map[string]any{"weight": 2.0}},
			"score_mode": "sum",
			"boost_mode": "replace",
		},
	}, Options{})
	assertIDs(t, matches, "4")
	if matches[0].Score != 5.0 {
		t.Errorf("score = %v, want 5 (sum of weights, base replaced)", matches[0].Score)
	}
}

func TestSortSpec(t *testing.T) {
	snap := testSnapshot(t)
	matches := search(t, snap, nil, Options{Sort: []SortField{{Field: "views", Desc: true}}})
	// doc 4 has no views value and must sort last.
	assertIDs(t, matches, "1", "3", "2", "4")

	matches = search(t, snap, nil, Options{Sort: []SortField{{Field: "status"}}})
	// ERROR docs tie on status; the identifier breaks the tie.
	assertIDs(t, matches, "1", "3", "2", "4")
}

func TestDefaultOrderTieBreak(t *testing.T) {
	snap := testSnapshot(t)
	matches := search(t, snap, map[string]any{
		"term": map[string]any{"status": "ERROR"},
	}, Options{})
	// Equal scores fall back to ascending identifier.
	assertIDs(t, matches, "1", "3")
}

func TestHighlight(t *testing.T) {
	snap := testSnapshot(t)
	matches := search(t, snap, map[string]any{
		"match": map[string]any{"title": "error node"},
	}, Options{Highlight: []string{"title"}})
	var hit *Match
	for i := range matches {
		if matches[i].ID == "1" {
			hit = &matches[i]
		}
	}
	if hit == nil {
		t.Fatal("doc 1 not matched")
	}
	frags := hit.Highlights["title"]
	if len(frags) != 1 {
		t.Fatalf("fragments = %v, want one", frags)
	}
	want := "disk <em>ERROR</em> on <em>node</em> three"
	if frags[0] != want {
		t.Errorf("fragment = %q, want %q", frags[0], want)
	}
}

func TestEvaluateCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Evaluate(ctx, nil, testSnapshot(t), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestWithinEditDistance(t *testing.T) {
	cases := []struct {
		a, b string
		max  int
		want bool
	}{
		{"john", "jon", 1, true},
		{"jonathan", "jon", 2, false},
		{"kitten", "sitten", 1, true},
		{"recieve", "receive", 1, true}, // transposition counts as one edit
		{"abc", "abc", 0, true},
		{"abcd", "dcba", 2, false},
	}
	for _, tc := range cases {
		if got := withinEditDistance(tc.a, tc.b, tc.max); got != tc.want {
			t.Errorf("withinEditDistance(%q, %q, %d) = %v, want %v",
				tc.a, tc.b, tc.max, got, tc.want)
		}
	}
}
