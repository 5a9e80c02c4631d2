// Package engine wires the document store, query parser, evaluator,
// aggregation engine and pagination controller into the search core's
// public surface. A transport layer translates its wire format to and from
// the request and response types defined here.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Muntasir-Arin/es-in-action/internal/index"
	"github.com/Muntasir-Arin/es-in-action/internal/query"
	"github.com/Muntasir-Arin/es-in-action/internal/search/aggregate"
	"github.com/Muntasir-Arin/es-in-action/internal/search/cache"
	"github.com/Muntasir-Arin/es-in-action/internal/search/evaluator"
	"github.com/Muntasir-Arin/es-in-action/internal/search/paginate"
	"github.com/Muntasir-Arin/es-in-action/pkg/config"
	apperrors "github.com/Muntasir-Arin/es-in-action/pkg/errors"
	"github.com/Muntasir-Arin/es-in-action/pkg/logger"
	"github.com/Muntasir-Arin/es-in-action/pkg/metrics"
)

// SearchRequest is a fully-decoded search call. Exactly one pagination mode
// may be active: offset (From/Size), cursor (SearchAfter) or scroll
// (Scroll > 0).
type SearchRequest struct {
	Query       map[string]any             `json:"query,omitempty"`
	Sort        []evaluator.SortField      `json:"sort,omitempty"`
	From        int                        `json:"from,omitempty"`
	Size        int                        `json:"size,omitempty"`
	SearchAfter string                     `json:"search_after,omitempty"`
	Scroll      time.Duration              `json:"scroll,omitempty"`
	Aggs        map[string]*aggregate.Spec `json:"aggs,omitempty"`
	Highlight   []string                   `json:"highlight,omitempty"`
}

// SearchResponse is one page of results plus any aggregations computed over
// the full match set.
type SearchResponse struct {
	Total        int                          `json:"total"`
	Hits         evaluator.MatchSet           `json:"hits"`
	Aggregations map[string]*aggregate.Result `json:"aggregations,omitempty"`
	Cursor       string                       `json:"cursor,omitempty"`
	ScrollID     string                       `json:"scroll_id,omitempty"`
	Took         time.Duration                `json:"took"`
}

// Engine is the query-execution core for a single index.
type Engine struct {
	cfg         *config.Config
	store       *index.Store
	scrolls     *paginate.ScrollStore
	cache       *cache.Cache[*SearchResponse]
	metrics     *metrics.Metrics
	logger      *slog.Logger
	expiredSeen atomic.Int64
}

// New creates an engine over an empty store with the given schema.
func New(cfg *config.Config, schema *index.Schema, m *metrics.Metrics) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   index.NewStore(schema),
		scrolls: paginate.NewScrollStore(cfg.Scroll),
		cache:   cache.New[*SearchResponse](cfg.Cache),
		metrics: m,
		logger:  logger.WithComponent("engine"),
	}
}

// Store exposes the underlying document store.
func (e *Engine) Store() *index.Store {
	return e.store
}

// Apply executes a single mutation and records it.
func (e *Engine) Apply(op index.Operation) index.Result {
	res := e.store.Apply(op)
	e.metrics.MutationsTotal.WithLabelValues(string(op.Type), res.Status).Inc()
	e.metrics.DocsStored.Set(float64(e.store.Len()))
	return res
}

// ApplyBulk executes a batch of mutations with independent per-item
// outcomes, preserving input order in the result slice.
func (e *Engine) ApplyBulk(ops []index.Operation) []index.Result {
	results := e.store.ApplyBulk(ops)
	for i, res := range results {
		e.metrics.MutationsTotal.WithLabelValues(string(ops[i].Type), res.Status).Inc()
	}
	e.metrics.BulkBatchSize.Observe(float64(len(ops)))
	e.metrics.DocsStored.Set(float64(e.store.Len()))
	return results
}

// Search parses, evaluates, aggregates and paginates a query against the
// current committed state. A nil Query matches all documents.
func (e *Engine) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	if _, ok := logger.QueryID(ctx); !ok {
		ctx = logger.WithQueryID(ctx, uuid.NewString())
	}
	size, err := e.pageSize(req)
	if err != nil {
		return nil, err
	}
	if err := validatePagination(req); err != nil {
		return nil, err
	}

	snap := e.store.Snapshot()
	kind := rootKind(req.Query)

	if req.Scroll > 0 {
		resp, err := e.startScroll(ctx, req, snap, size)
		e.observe(ctx, kind, "bypass", resp, err, start)
		return resp, err
	}

	cacheStatus := "bypass"
	compute := func() (*SearchResponse, error) {
		return e.execute(ctx, req, snap, size)
	}
	var resp *SearchResponse
	if e.cfg.Cache.Enabled {
		var hit bool
		resp, hit, err = e.cache.GetOrCompute(e.cacheKey(snap, req), compute)
		if hit {
			cacheStatus = "hit"
			e.metrics.CacheHitsTotal.Inc()
		} else {
			cacheStatus = "miss"
			e.metrics.CacheMissesTotal.Inc()
		}
	} else {
		resp, err = compute()
	}
	e.observe(ctx, kind, cacheStatus, resp, err, start)
	return resp, err
}

// Scroll advances a live scroll context by one batch.
func (e *Engine) Scroll(ctx context.Context, scrollID string) (*SearchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := e.scrolls.Next(scrollID)
	e.syncScrollMetrics()
	if err != nil {
		return nil, err
	}
	return &SearchResponse{Total: page.Total, Hits: page.Hits, ScrollID: page.ScrollID}, nil
}

// ReleaseScroll destroys a scroll context, unpinning its snapshot.
func (e *Engine) ReleaseScroll(scrollID string) bool {
	released := e.scrolls.Release(scrollID)
	e.syncScrollMetrics()
	return released
}

func (e *Engine) execute(ctx context.Context, req *SearchRequest, snap *index.Snapshot, size int) (*SearchResponse, error) {
	matches, err := e.evaluate(ctx, req, snap)
	if err != nil {
		return nil, err
	}
	resp := &SearchResponse{Total: len(matches)}
	resp.Aggregations, err = e.aggregations(snap, matches, req.Aggs)
	if err != nil {
		return nil, err
	}
	var page paginate.Page
	switch {
	case req.SearchAfter != "":
		page, err = paginate.Cursor(snap, matches, req.SearchAfter, size, req.Sort)
		if err != nil {
			return nil, err
		}
	case len(req.Sort) > 0 && req.From == 0:
		page = paginate.FirstCursorPage(snap, matches, size, req.Sort)
	default:
		page = paginate.Offset(matches, req.From, size)
	}
	resp.Hits = page.Hits
	resp.Cursor = page.Cursor
	return resp, nil
}

func (e *Engine) evaluate(ctx context.Context, req *SearchRequest, snap *index.Snapshot) (evaluator.MatchSet, error) {
	var node *query.Node
	if req.Query != nil {
		var err error
		node, err = query.ParseWithLimits(req.Query, snap.Schema(), query.Limits{
			MaxBoolClauses:  e.cfg.Search.MaxBoolClauses,
			MaxRegexpLength: e.cfg.Search.MaxRegexpLength,
		})
		if err != nil {
			return nil, err
		}
	}
	return evaluator.Evaluate(ctx, node, snap, evaluator.Options{
		Sort:      req.Sort,
		Highlight: req.Highlight,
	})
}

// startScroll evaluates the query, pins the snapshot and returns the first
// batch. Aggregations are computed over the full frozen match set and carried
// on this first response only.
func (e *Engine) startScroll(ctx context.Context, req *SearchRequest, snap *index.Snapshot, size int) (*SearchResponse, error) {
	matches, err := e.evaluate(ctx, req, snap)
	if err != nil {
		return nil, err
	}
	aggs, err := e.aggregations(snap, matches, req.Aggs)
	if err != nil {
		return nil, err
	}
	handle, err := e.scrolls.Create(snap, matches, size, req.Scroll)
	if err != nil {
		return nil, err
	}
	page, err := e.scrolls.Next(handle)
	e.syncScrollMetrics()
	if err != nil {
		return nil, err
	}
	return &SearchResponse{Total: page.Total, Hits: page.Hits, ScrollID: page.ScrollID, Aggregations: aggs}, nil
}

func (e *Engine) aggregations(snap *index.Snapshot, matches evaluator.MatchSet, specs map[string]*aggregate.Spec) (map[string]*aggregate.Result, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	aggStart := time.Now()
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	results, err := aggregate.Compute(snap, ids, specs, e.cfg.Aggregation.MaxBuckets)
	if err != nil {
		return nil, err
	}
	e.metrics.AggregationLatency.Observe(time.Since(aggStart).Seconds())
	return results, nil
}

func (e *Engine) pageSize(req *SearchRequest) (int, error) {
	size := req.Size
	if size == 0 {
		size = e.cfg.Search.DefaultPageSize
	}
	if size < 0 || size > e.cfg.Search.MaxPageSize {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, 400,
			"size must be between 0 and %d", e.cfg.Search.MaxPageSize)
	}
	return size, nil
}

// validatePagination enforces mutual exclusion of the three retrieval modes.
func validatePagination(req *SearchRequest) error {
	if req.From < 0 {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "from must be non-negative")
	}
	if req.SearchAfter != "" {
		if req.From > 0 {
			return apperrors.New(apperrors.ErrConflictingPagination, 400,
				"search_after cannot be combined with from")
		}
		if req.Scroll > 0 {
			return apperrors.New(apperrors.ErrConflictingPagination, 400,
				"search_after cannot be combined with scroll")
		}
		if len(req.Sort) == 0 {
			return apperrors.New(apperrors.ErrInvalidInput, 400,
				"search_after requires a sort specification")
		}
	}
	if req.Scroll > 0 && req.From > 0 {
		return apperrors.New(apperrors.ErrConflictingPagination, 400,
			"scroll cannot be combined with from")
	}
	return nil
}

// cacheKey folds the store generation into the key so entries computed
// against superseded state are never served.
func (e *Engine) cacheKey(snap *index.Snapshot, req *SearchRequest) string {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Sprintf("%d:unkeyable", snap.Generation())
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%d:%x", snap.Generation(), sum[:16])
}

// syncScrollMetrics republishes the scroll gauge and folds newly-reaped
// contexts into the expiry counter.
func (e *Engine) syncScrollMetrics() {
	e.metrics.ActiveScrollContexts.Set(float64(e.scrolls.Len()))
	expired := e.scrolls.ExpiredCount()
	for {
		seen := e.expiredSeen.Load()
		if expired <= seen {
			return
		}
		if e.expiredSeen.CompareAndSwap(seen, expired) {
			e.metrics.ScrollExpiredTotal.Add(float64(expired - seen))
			return
		}
	}
}

func rootKind(tree map[string]any) string {
	if len(tree) != 1 {
		return "match_all"
	}
	for op := range tree {
		return op
	}
	return "match_all"
}

func (e *Engine) observe(ctx context.Context, kind, cacheStatus string, resp *SearchResponse, err error, start time.Time) {
	outcome := "hit"
	switch {
	case err != nil:
		outcome = "error"
	case resp.Total == 0:
		outcome = "zero_result"
	}
	e.metrics.QueriesTotal.WithLabelValues(kind, outcome).Inc()
	e.metrics.QueryLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	if err == nil {
		e.metrics.QueryResultsCount.Observe(float64(len(resp.Hits)))
		if resp.Took == 0 {
			resp.Took = time.Since(start)
		}
	}
	log := e.logger
	if queryID, ok := logger.QueryID(ctx); ok {
		log = log.With("query_id", queryID)
	}
	logLevel := log.Debug
	if err != nil {
		logLevel = log.Warn
	}
	logLevel("query executed",
		"kind", kind,
		"cache", cacheStatus,
		"outcome", outcome,
		"took", time.Since(start),
		"error", err,
	)
}
