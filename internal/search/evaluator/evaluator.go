// Package evaluator walks a query IR tree against a document-store snapshot
// and produces scored match sets. Read paths never mutate shared state, so
// an evaluation can be abandoned via context cancellation at any document
// boundary.
package evaluator

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/Muntasir-Arin/es-in-action/internal/index"
	"github.com/Muntasir-Arin/es-in-action/internal/index/tokenizer"
	"github.com/Muntasir-Arin/es-in-action/internal/query"
	apperrors "github.com/Muntasir-Arin/es-in-action/pkg/errors"
)

// Match is a single scored hit.
type Match struct {
	ID         string              `json:"id"`
	Score      float64             `json:"score"`
	Highlights map[string][]string `json:"highlights,omitempty"`
}

// MatchSet is an ordered sequence of matches: sort criteria order when a
// sort spec is given, otherwise score descending with document identifier
// ascending as the tie-break.
type MatchSet []Match

// SortField is one criterion of a sort specification.
type SortField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// Options control evaluation output.
type Options struct {
	Sort      []SortField
	Highlight []string
}

// Evaluate walks the IR against every document in the snapshot. A nil node
// matches all documents with a constant score of 1 (the match-all case a
// transport layer produces for an absent query body).
func Evaluate(ctx context.Context, node *query.Node, snap *index.Snapshot, opts Options) (MatchSet, error) {
	matches := make(MatchSet, 0)
	for _, id := range snap.IDs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, _ := snap.Get(id)
		matched, score, err := evalDocument(node, doc)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		m := Match{ID: id, Score: score}
		if len(opts.Highlight) > 0 {
			m.Highlights = highlight(node, doc, opts.Highlight)
		}
		matches = append(matches, m)
	}
	Sort(matches, snap, opts.Sort)
	return matches, nil
}

// Sort orders matches in place: by the sort spec with the identifier as the
// implicit final tie-break key, or score descending / ID ascending when the
// spec is empty.
func Sort(matches MatchSet, snap *index.Snapshot, spec []SortField) {
	if len(spec) == 0 {
		sort.SliceStable(matches, func(i, j int) bool {
			if matches[i].Score != matches[j].Score {
				return matches[i].Score > matches[j].Score
			}
			return matches[i].ID < matches[j].ID
		})
		return
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return compareDocs(snap, matches[i].ID, matches[j].ID, spec) < 0
	})
}

func evalDocument(node *query.Node, doc *index.Document) (bool, float64, error) {
	get := func(name string) (index.Value, bool) {
		if name == index.IDField {
			return index.String(doc.ID), true
		}
		v, ok := doc.Fields[name]
		return v, ok
	}
	return evalNode(node, get)
}

type fieldGetter func(name string) (index.Value, bool)

func evalNode(node *query.Node, get fieldGetter) (bool, float64, error) {
	if node == nil {
		return true, 1.0, nil
	}
	switch node.Kind {
	case query.KindMatch:
		return evalMatch(node, get, false)
	case query.KindMatchPhrase:
		return evalMatch(node, get, true)
	case query.KindMultiMatch:
		return evalMultiMatch(node, get)
	case query.KindTerm:
		return evalTerm(node, get)
	case query.KindTerms:
		return evalTerms(node, get)
	case query.KindBool:
		return evalBool(node, get)
	case query.KindRange:
		return evalRange(node, get)
	case query.KindExists:
		return evalExists(node, get)
	case query.KindPrefix:
		return evalPrefix(node, get)
	case query.KindWildcard, query.KindRegexp:
		return evalPattern(node, get)
	case query.KindFuzzy:
		return evalFuzzy(node, get)
	case query.KindNested:
		return evalNested(node, get)
	case query.KindFunctionScore:
		return evalFunctionScore(node, get)
	default:
		return false, 0, apperrors.Newf(apperrors.ErrInternal, 500,
			"unhandled query kind %s", node.Kind)
	}
}

// evalMatch scores term-frequency overlap between the analyzed field text
// and the analyzed query string. In phrase mode the query terms must occur
// as a contiguous ordered subsequence and the score counts occurrences.
func evalMatch(node *query.Node, get fieldGetter, phrase bool) (bool, float64, error) {
	v, ok := get(node.Field)
	if !ok || v.Kind != index.KindString {
		return false, 0, nil
	}
	score := overlapScore(v.Str, node.Text, phrase)
	if score <= 0 {
		return false, 0, nil
	}
	return true, score * node.Boost, nil
}

func overlapScore(text, queryText string, phrase bool) float64 {
	docTerms := tokenizer.Terms(text)
	queryTerms := tokenizer.Terms(queryText)
	if len(docTerms) == 0 || len(queryTerms) == 0 {
		return 0
	}
	if phrase {
		return float64(phraseOccurrences(docTerms, queryTerms))
	}
	wanted := make(map[string]bool, len(queryTerms))
	for _, t := range queryTerms {
		wanted[t] = true
	}
	overlap := 0
	for _, t := range docTerms {
		if wanted[t] {
			overlap++
		}
	}
	return float64(overlap)
}

func phraseOccurrences(docTerms, queryTerms []string) int {
	if len(queryTerms) > len(docTerms) {
		return 0
	}
	count := 0
	for i := 0; i+len(queryTerms) <= len(docTerms); i++ {
		hit := true
		for j, qt := range queryTerms {
			if docTerms[i+j] != qt {
				hit = false
				break
			}
		}
		if hit {
			count++
		}
	}
	return count
}

// evalMultiMatch takes the best per-field overlap score.
func evalMultiMatch(node *query.Node, get fieldGetter) (bool, float64, error) {
	best := 0.0
	for _, field := range node.FieldsList {
		v, ok := get(field)
		if !ok || v.Kind != index.KindString {
			continue
		}
		if s := overlapScore(v.Str, node.Text, false); s > best {
			best = s
		}
	}
	if best <= 0 {
		return false, 0, nil
	}
	return true, best * node.Boost, nil
}

func evalTerm(node *query.Node, get fieldGetter) (bool, float64, error) {
	v, ok := get(node.Field)
	if !ok || !index.Equal(v, node.Value) {
		return false, 0, nil
	}
	return true, node.Boost, nil
}

func evalTerms(node *query.Node, get fieldGetter) (bool, float64, error) {
	v, ok := get(node.Field)
	if !ok {
		return false, 0, nil
	}
	for _, want := range node.Values {
		if index.Equal(v, want) {
			return true, node.Boost, nil
		}
	}
	return false, 0, nil
}

// evalBool combines clauses: must and filter are conjunctive, must_not
// excludes, and should contributes score (and is required when neither must
// nor filter is present). Only must and should contribute to the score.
func evalBool(node *query.Node, get fieldGetter) (bool, float64, error) {
	for _, clause := range node.MustNot {
		matched, _, err := evalNode(clause, get)
		if err != nil {
			return false, 0, err
		}
		if matched {
			return false, 0, nil
		}
	}
	for _, clause := range node.Filter {
		matched, _, err := evalNode(clause, get)
		if err != nil {
			return false, 0, err
		}
		if !matched {
			return false, 0, nil
		}
	}
	score := 0.0
	for _, clause := range node.Must {
		matched, s, err := evalNode(clause, get)
		if err != nil {
			return false, 0, err
		}
		if !matched {
			return false, 0, nil
		}
		score += s
	}
	shouldMatched := 0
	for _, clause := range node.Should {
		matched, s, err := evalNode(clause, get)
		if err != nil {
			return false, 0, err
		}
		if matched {
			shouldMatched++
			score += s
		}
	}
	if len(node.Must) == 0 && len(node.Filter) == 0 && len(node.Should) > 0 && shouldMatched == 0 {
		return false, 0, nil
	}
	return true, score * node.Boost, nil
}

func evalRange(node *query.Node, get fieldGetter) (bool, float64, error) {
	v, ok := get(node.Field)
	if !ok {
		return false, 0, nil
	}
	if node.Lower != nil {
		cmp, err := index.Compare(v, *node.Lower)
		if err != nil {
			return false, 0, rangeMismatch(node.Field, err)
		}
		if cmp < 0 || (cmp == 0 && !node.IncludeLower) {
			return false, 0, nil
		}
	}
	if node.Upper != nil {
		cmp, err := index.Compare(v, *node.Upper)
		if err != nil {
			return false, 0, rangeMismatch(node.Field, err)
		}
		if cmp > 0 || (cmp == 0 && !node.IncludeUpper) {
			return false, 0, nil
		}
	}
	return true, node.Boost, nil
}

func rangeMismatch(field string, err error) error {
	return apperrors.Newf(apperrors.ErrTypeMismatch, 400,
		"range on field %q: %v", field, err)
}

func evalExists(node *query.Node, get fieldGetter) (bool, float64, error) {
	v, ok := get(node.Field)
	if !ok {
		return false, 0, nil
	}
	if v.Kind == index.KindNested && len(v.Nested) == 0 {
		return false, 0, nil
	}
	return true, node.Boost, nil
}

func evalPrefix(node *query.Node, get fieldGetter) (bool, float64, error) {
	v, ok := get(node.Field)
	if !ok {
		return false, 0, nil
	}
	if !strings.HasPrefix(v.Text(), node.Pattern) {
		return false, 0, nil
	}
	return true, node.Boost, nil
}

func evalPattern(node *query.Node, get fieldGetter) (bool, float64, error) {
	v, ok := get(node.Field)
	if !ok {
		return false, 0, nil
	}
	if !node.Regexp.MatchString(v.Text()) {
		return false, 0, nil
	}
	return true, node.Boost, nil
}

// evalFuzzy matches any token of an analyzed field, or the whole value of
// an exact field, within the query's Damerau-Levenshtein edit distance.
func evalFuzzy(node *query.Node, get fieldGetter) (bool, float64, error) {
	v, ok := get(node.Field)
	if !ok || v.Kind != index.KindString {
		return false, 0, nil
	}
	candidates := tokenizer.Terms(v.Str)
	for _, term := range candidates {
		if withinEditDistance(term, node.Value.Str, node.Fuzziness) {
			return true, node.Boost, nil
		}
	}
	return false, 0, nil
}

// evalNested evaluates the inner query independently against each element of
// the nested array. Inner field names keep their full dotted paths; they are
// resolved relative to the element being tested.
func evalNested(node *query.Node, get fieldGetter) (bool, float64, error) {
	v, ok := get(node.Path)
	if !ok || v.Kind != index.KindNested {
		return false, 0, nil
	}
	prefix := node.Path + "."
	var elemScores []float64
	for _, elem := range v.Nested {
		elemGet := func(name string) (index.Value, bool) {
			if !strings.HasPrefix(name, prefix) {
				return index.Value{}, false
			}
			ev, ok := elem[name[len(prefix):]]
			return ev, ok
		}
		matched, s, err := evalNode(node.Inner, elemGet)
		if err != nil {
			return false, 0, err
		}
		if matched {
			elemScores = append(elemScores, s)
		}
	}
	if len(elemScores) == 0 {
		return false, 0, nil
	}
	var score float64
	switch node.ScoreMode {
	case "sum":
		for _, s := range elemScores {
			score += s
		}
	case "max":
		score = elemScores[0]
		for _, s := range elemScores[1:] {
			score = math.Max(score, s)
		}
	case "min":
		score = elemScores[0]
		for _, s := range elemScores[1:] {
			score = math.Min(score, s)
		}
	case "none":
		score = 0
	default: // avg
		for _, s := range elemScores {
			score += s
		}
		score /= float64(len(elemScores))
	}
	return true, score * node.Boost, nil
}

// evalFunctionScore combines each function's contribution per score_mode,
// then folds the result into the inner query's base score per boost_mode.
func evalFunctionScore(node *query.Node, get fieldGetter) (bool, float64, error) {
	matched, base, err := evalNode(node.Inner, get)
	if err != nil || !matched {
		return false, 0, err
	}
	values := make([]float64, 0, len(node.Functions))
	for _, fn := range node.Functions {
		v := fn.Weight
		if fn.Gauss != nil {
			v *= gaussFactor(fn.Gauss, get)
		}
		values = append(values, v)
	}
	var combined float64
	switch node.ScoreMode {
	case "sum":
		for _, v := range values {
			combined += v
		}
	case "avg":
		for _, v := range values {
			combined += v
		}
		combined /= float64(len(values))
	case "max":
		combined = values[0]
		for _, v := range values[1:] {
			combined = math.Max(combined, v)
		}
	case "min":
		combined = values[0]
		for _, v := range values[1:] {
			combined = math.Min(combined, v)
		}
	case "first":
		combined = values[0]
	default: // multiply
		combined = 1
		for _, v := range values {
			combined *= v
		}
	}
	var score float64
	switch node.BoostMode {
	case "sum":
		score = base + combined
	case "replace":
		score = combined
	case "max":
		score = math.Max(base, combined)
	case "min":
		score = math.Min(base, combined)
	default: // multiply
		score = base * combined
	}
	return true, score * node.Boost, nil
}

// gaussFactor computes the Gaussian decay factor for the document's value.
// The curve is 1 within offset of the origin and equals the configured decay
// at distance scale beyond the offset. A missing or non-numeric value leaves
// the function neutral.
func gaussFactor(g *query.GaussDecay, get fieldGetter) float64 {
	v, ok := get(g.Field)
	if !ok {
		return 1
	}
	var x float64
	switch v.Kind {
	case index.KindNumber:
		x = v.Num
	case index.KindDate:
		x = float64(v.Date.Unix())
	default:
		return 1
	}
	dist := math.Abs(x-g.Origin) - g.Offset
	if dist <= 0 {
		return 1
	}
	return math.Exp(dist * dist * math.Log(g.Decay) / (g.Scale * g.Scale))
}
