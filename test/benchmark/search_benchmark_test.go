package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Muntasir-Arin/es-in-action/internal/engine"
	"github.com/Muntasir-Arin/es-in-action/internal/index"
	"github.com/Muntasir-Arin/es-in-action/internal/query"
	"github.com/Muntasir-Arin/es-in-action/internal/search/aggregate"
	"github.com/Muntasir-Arin/es-in-action/internal/search/evaluator"
	"github.com/Muntasir-Arin/es-in-action/pkg/config"
	"github.com/Muntasir-Arin/es-in-action/pkg/metrics"
)

// BenchmarkQueryParse measures DSL parsing latency for trees of varying
// complexity.
func BenchmarkQueryParse(b *testing.B) {
	schema := benchSchema(b)
	queries := []struct {
		name string
		tree map[string]any
	}{
		{"term", map[string]any{"term": map[string]any{"status": "ERROR"}}},
		{"match", map[string]any{"match": map[string]any{"title": "search ranking"}}},
		{"range", map[string]any{"range": map[string]any{"views": map[string]any{"gte": 10.0, "lt": 500.0}}}},
		{"bool", map[string]any{"bool": map[string]any{
			"must":     []any{map[string]any{"match": map[string]any{"title": "search"}}},
			"filter":   []any{map[string]any{"term": map[string]any{"status": "ERROR"}}},
			"must_not": []any{map[string]any{"range": map[string]any{"views": map[string]any{"lt": 5.0}}}},
		}}},
		{"function_score", map[string]any{"function_score": map[string]any{
			"query":     map[string]any{"match": map[string]any{"title": "search"}},
			"functions": []any{map[string]any{"weight": 2.0}},
		}}},
	}
	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				node, err := query.Parse(q.tree, schema)
				if err != nil {
					b.Fatal(err)
				}
				_ = node
			}
		})
	}
}

// BenchmarkEvaluate measures full-scan evaluation latency at various corpus
// sizes.
func BenchmarkEvaluate(b *testing.B) {
	sizes := []int{100, 1000, 10000}
	tree := map[string]any{"bool": map[string]any{
		"must":   []any{map[string]any{"match": map[string]any{"body": "query evaluation"}}},
		"filter": []any{map[string]any{"term": map[string]any{"status": "ERROR"}}},
	}}
	for _, numDocs := range sizes {
		b.Run(fmt.Sprintf("docs_%d", numDocs), func(b *testing.B) {
			store := index.NewStore(benchSchema(b))
			for i := 0; i < numDocs; i++ {
				store.Apply(index.Operation{
					Type:   index.OpIndex,
					ID:     fmt.Sprintf("doc-%d", i),
					Fields: benchFields(i),
				})
			}
			snap := store.Snapshot()
			node, err := query.Parse(tree, snap.Schema())
			if err != nil {
				b.Fatal(err)
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				matches, err := evaluator.Evaluate(context.Background(), node, snap, evaluator.Options{})
				if err != nil {
					b.Fatal(err)
				}
				_ = matches
			}
		})
	}
}

func benchEngine(b *testing.B, numDocs int, cacheEnabled bool) *engine.Engine {
	b.Helper()
	cfg, err := config.Load("")
	if err != nil {
		b.Fatal(err)
	}
	cfg.Cache.Enabled = cacheEnabled
	e := engine.New(cfg, benchSchema(b), metrics.New(prometheus.NewRegistry()))
	for i := 0; i < numDocs; i++ {
		e.Apply(index.Operation{
			Type:   index.OpIndex,
			ID:     fmt.Sprintf("doc-%d", i),
			Fields: benchFields(i),
		})
	}
	return e
}

// BenchmarkEngineSearch measures end-to-end search latency with and without
// the query-result cache.
func BenchmarkEngineSearch(b *testing.B) {
	req := &engine.SearchRequest{
		Query: map[string]any{"match": map[string]any{"body": "aggregation pagination"}},
		Aggs: map[string]*aggregate.Spec{
			"by_status": {Terms: &aggregate.TermsSpec{Field: "status"}},
		},
	}
	for _, cached := range []bool{false, true} {
		name := "uncached"
		if cached {
			name = "cached"
		}
		b.Run(name, func(b *testing.B) {
			e := benchEngine(b, 5000, cached)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				resp, err := e.Search(context.Background(), req)
				if err != nil {
					b.Fatal(err)
				}
				_ = resp
			}
		})
	}
}

// BenchmarkEngineSearchParallel measures concurrent search throughput.
func BenchmarkEngineSearchParallel(b *testing.B) {
	e := benchEngine(b, 5000, true)
	req := &engine.SearchRequest{
		Query: map[string]any{"term": map[string]any{"status": "ERROR"}},
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, err := e.Search(context.Background(), req)
			if err != nil {
				b.Fatal(err)
			}
			_ = resp
		}
	})
}

// BenchmarkScroll measures batch retrieval over a large frozen match set.
func BenchmarkScroll(b *testing.B) {
	e := benchEngine(b, 10000, false)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := e.Search(context.Background(), &engine.SearchRequest{
			Size:   500,
			Scroll: time.Minute,
		})
		if err != nil {
			b.Fatal(err)
		}
		for len(resp.Hits) > 0 {
			resp, err = e.Scroll(context.Background(), resp.ScrollID)
			if err != nil {
				b.Fatal(err)
			}
		}
		e.ReleaseScroll(resp.ScrollID)
	}
}
