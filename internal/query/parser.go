package query

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Muntasir-Arin/es-in-action/internal/index"
	apperrors "github.com/Muntasir-Arin/es-in-action/pkg/errors"
)

// Limits bound the cost of queries the parser accepts. Zero values mean
// unbounded.
type Limits struct {
	MaxBoolClauses  int
	MaxRegexpLength int
}

// Parse validates a decoded DSL query tree against the schema and produces
// an IR node. Errors identify the offending node by path, e.g.
// "query.bool.must[1].range".
func Parse(tree map[string]any, schema *index.Schema) (*Node, error) {
	return ParseWithLimits(tree, schema, Limits{})
}

// ParseWithLimits is Parse with cost limits enforced during the walk.
func ParseWithLimits(tree map[string]any, schema *index.Schema, limits Limits) (*Node, error) {
	p := &parser{schema: schema, limits: limits}
	return p.parseNode("query", tree)
}

type parser struct {
	schema      *index.Schema
	limits      Limits
	boolClauses int
}

func malformed(path string, format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrMalformedQuery, 400,
		"%s: %s", path, fmt.Sprintf(format, args...))
}

func (p *parser) parseNode(path string, tree map[string]any) (*Node, error) {
	if len(tree) != 1 {
		return nil, malformed(path, "expected exactly one query operation, got %d", len(tree))
	}
	var op string
	var body any
	for k, v := range tree {
		op, body = k, v
	}
	path = path + "." + op

	switch op {
	case "match":
		return p.parseMatch(KindMatch, path, body)
	case "match_phrase":
		return p.parseMatch(KindMatchPhrase, path, body)
	case "multi_match":
		return p.parseMultiMatch(path, body)
	case "term":
		return p.parseTerm(path, body)
	case "terms":
		return p.parseTerms(path, body)
	case "bool":
		return p.parseBool(path, body)
	case "range":
		return p.parseRange(path, body)
	case "exists":
		return p.parseExists(path, body)
	case "prefix":
		return p.parsePattern(KindPrefix, path, body)
	case "wildcard":
		return p.parsePattern(KindWildcard, path, body)
	case "regexp":
		return p.parsePattern(KindRegexp, path, body)
	case "fuzzy":
		return p.parseFuzzy(path, body)
	case "nested":
		return p.parseNested(path, body)
	case "function_score":
		return p.parseFunctionScore(path, body)
	default:
		return nil, malformed(path, "unsupported query operation %q", op)
	}
}

func (p *parser) fieldType(path, field string) (index.FieldType, error) {
	ft, ok := p.schema.Type(field)
	if !ok {
		return "", apperrors.Newf(apperrors.ErrUnknownField, 400,
			"%s: field %q is not mapped", path, field)
	}
	return ft, nil
}

// fieldEntry extracts the single field-keyed entry of a query body,
// tolerating a sibling "boost" key the way the DSL allows for terms.
func fieldEntry(path string, body any) (string, any, float64, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return "", nil, 0, malformed(path, "expected an object body")
	}
	boost := 1.0
	var field string
	var raw any
	for k, v := range obj {
		if k == "boost" {
			b, err := parseBoost(path, v)
			if err != nil {
				return "", nil, 0, err
			}
			boost = b
			continue
		}
		if field != "" {
			return "", nil, 0, malformed(path, "expected a single field, got %q and %q", field, k)
		}
		field, raw = k, v
	}
	if field == "" {
		return "", nil, 0, malformed(path, "missing field")
	}
	return field, raw, boost, nil
}

func parseBoost(path string, v any) (float64, error) {
	n, ok := asNumber(v)
	if !ok {
		return 0, malformed(path, "boost must be a number")
	}
	if n < 0 {
		return 0, malformed(path, "boost must be non-negative, got %g", n)
	}
	return n, nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (p *parser) parseMatch(kind Kind, path string, body any) (*Node, error) {
	field, raw, boost, err := fieldEntry(path, body)
	if err != nil {
		return nil, err
	}
	ft, err := p.fieldType(path, field)
	if err != nil {
		return nil, err
	}
	if ft != index.FieldText && ft != index.FieldKeyword {
		return nil, malformed(path, "field %q has type %s, match queries require text or keyword", field, ft)
	}
	node := &Node{Kind: kind, Field: field, Boost: boost}
	switch q := raw.(type) {
	case string:
		node.Text = q
	case map[string]any:
		text, ok := q["query"].(string)
		if !ok {
			return nil, malformed(path, "missing query string for field %q", field)
		}
		node.Text = text
		if b, ok := q["boost"]; ok {
			if node.Boost, err = parseBoost(path, b); err != nil {
				return nil, err
			}
		}
	default:
		return nil, malformed(path, "field %q: expected a query string or object", field)
	}
	if strings.TrimSpace(node.Text) == "" {
		return nil, malformed(path, "field %q: empty query string", field)
	}
	return node, nil
}

func (p *parser) parseMultiMatch(path string, body any) (*Node, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, malformed(path, "expected an object body")
	}
	text, ok := obj["query"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return nil, malformed(path, "missing query string")
	}
	rawFields, ok := obj["fields"].([]any)
	if !ok || len(rawFields) == 0 {
		return nil, malformed(path, "requires a non-empty fields list")
	}
	fields := make([]string, 0, len(rawFields))
	for i, rf := range rawFields {
		field, ok := rf.(string)
		if !ok {
			return nil, malformed(path, "fields[%d] must be a string", i)
		}
		ft, err := p.fieldType(fmt.Sprintf("%s.fields[%d]", path, i), field)
		if err != nil {
			return nil, err
		}
		if ft != index.FieldText && ft != index.FieldKeyword {
			return nil, malformed(path, "field %q has type %s, multi_match requires text or keyword", field, ft)
		}
		fields = append(fields, field)
	}
	boost := 1.0
	if b, ok := obj["boost"]; ok {
		var err error
		if boost, err = parseBoost(path, b); err != nil {
			return nil, err
		}
	}
	return &Node{Kind: KindMultiMatch, Text: text, FieldsList: fields, Boost: boost}, nil
}

// convertScalar converts a decoded DSL literal into a typed value matching
// the field's declared type.
func (p *parser) convertScalar(path string, field string, ft index.FieldType, v any) (index.Value, error) {
	switch ft {
	case index.FieldText, index.FieldKeyword:
		if s, ok := v.(string); ok {
			return index.String(s), nil
		}
	case index.FieldNumeric:
		if n, ok := asNumber(v); ok {
			return index.Number(n), nil
		}
	case index.FieldDate:
		if s, ok := v.(string); ok {
			val, err := index.ParseDate(s)
			if err != nil {
				return index.Value{}, malformed(path, "field %q: %v", field, err)
			}
			return val, nil
		}
	case index.FieldBoolean:
		if b, ok := v.(bool); ok {
			return index.Boolean(b), nil
		}
	}
	return index.Value{}, malformed(path,
		"field %q: value %v is not compatible with type %s", field, v, ft)
}

func (p *parser) parseTerm(path string, body any) (*Node, error) {
	field, raw, boost, err := fieldEntry(path, body)
	if err != nil {
		return nil, err
	}
	ft, err := p.fieldType(path, field)
	if err != nil {
		return nil, err
	}
	node := &Node{Kind: KindTerm, Field: field, Boost: boost}
	if obj, ok := raw.(map[string]any); ok {
		inner, ok := obj["value"]
		if !ok {
			return nil, malformed(path, "field %q: missing value", field)
		}
		raw = inner
		if b, ok := obj["boost"]; ok {
			if node.Boost, err = parseBoost(path, b); err != nil {
				return nil, err
			}
		}
	}
	if node.Value, err = p.convertScalar(path, field, ft, raw); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *parser) parseTerms(path string, body any) (*Node, error) {
	field, raw, boost, err := fieldEntry(path, body)
	if err != nil {
		return nil, err
	}
	ft, err := p.fieldType(path, field)
	if err != nil {
		return nil, err
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, malformed(path, "field %q: requires a non-empty value list", field)
	}
	values := make([]index.Value, 0, len(list))
	for i, item := range list {
		val, err := p.convertScalar(fmt.Sprintf("%s[%d]", path, i), field, ft, item)
		if err != nil {
			return nil, err
		}
		values = append(values, val)
	}
	return &Node{Kind: KindTerms, Field: field, Values: values, Boost: boost}, nil
}

func (p *parser) parseClauses(path string, v any) ([]*Node, error) {
	var raw []any
	switch clause := v.(type) {
	case []any:
		raw = clause
	case map[string]any:
		raw = []any{clause}
	default:
		return nil, malformed(path, "expected a clause object or list")
	}
	nodes := make([]*Node, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, malformed(fmt.Sprintf("%s[%d]", path, i), "expected a query object")
		}
		node, err := p.parseNode(fmt.Sprintf("%s[%d]", path, i), obj)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (p *parser) parseBool(path string, body any) (*Node, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, malformed(path, "expected an object body")
	}
	node := &Node{Kind: KindBool, Boost: 1.0}
	var err error
	for key, v := range obj {
		switch key {
		case "must":
			node.Must, err = p.parseClauses(path+".must", v)
		case "should":
			node.Should, err = p.parseClauses(path+".should", v)
		case "must_not":
			node.MustNot, err = p.parseClauses(path+".must_not", v)
		case "filter":
			node.Filter, err = p.parseClauses(path+".filter", v)
		case "boost":
			node.Boost, err = parseBoost(path, v)
		default:
			err = malformed(path, "unsupported bool parameter %q", key)
		}
		if err != nil {
			return nil, err
		}
	}
	total := len(node.Must) + len(node.Should) + len(node.MustNot) + len(node.Filter)
	if total == 0 {
		return nil, malformed(path, "requires at least one clause")
	}
	p.boolClauses += total
	if p.limits.MaxBoolClauses > 0 && p.boolClauses > p.limits.MaxBoolClauses {
		return nil, malformed(path, "query exceeds the limit of %d bool clauses", p.limits.MaxBoolClauses)
	}
	return node, nil
}

func (p *parser) parseRange(path string, body any) (*Node, error) {
	field, raw, boost, err := fieldEntry(path, body)
	if err != nil {
		return nil, err
	}
	ft, err := p.fieldType(path, field)
	if err != nil {
		return nil, err
	}
	if ft == index.FieldBoolean || ft == index.FieldNested {
		return nil, malformed(path, "field %q: range is not supported on %s fields", field, ft)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, malformed(path, "field %q: expected an object of bounds", field)
	}
	node := &Node{Kind: KindRange, Field: field, Boost: boost}
	for key, v := range obj {
		switch key {
		case "gte", "gt":
			if node.Lower != nil {
				return nil, malformed(path, "field %q: duplicate lower bound", field)
			}
			val, err := p.convertScalar(path, field, ft, v)
			if err != nil {
				return nil, err
			}
			node.Lower = &val
			node.IncludeLower = key == "gte"
		case "lte", "lt":
			if node.Upper != nil {
				return nil, malformed(path, "field %q: duplicate upper bound", field)
			}
			val, err := p.convertScalar(path, field, ft, v)
			if err != nil {
				return nil, err
			}
			node.Upper = &val
			node.IncludeUpper = key == "lte"
		case "boost":
			if node.Boost, err = parseBoost(path, v); err != nil {
				return nil, err
			}
		default:
			return nil, malformed(path, "field %q: unsupported range parameter %q", field, key)
		}
	}
	if node.Lower == nil && node.Upper == nil {
		return nil, malformed(path, "field %q: requires at least one bound", field)
	}
	return node, nil
}

func (p *parser) parseExists(path string, body any) (*Node, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, malformed(path, "expected an object body")
	}
	field, ok := obj["field"].(string)
	if !ok || field == "" {
		return nil, malformed(path, "missing field name")
	}
	if _, err := p.fieldType(path, field); err != nil {
		return nil, err
	}
	return &Node{Kind: KindExists, Field: field, Boost: 1.0}, nil
}

func (p *parser) parsePattern(kind Kind, path string, body any) (*Node, error) {
	field, raw, boost, err := fieldEntry(path, body)
	if err != nil {
		return nil, err
	}
	ft, err := p.fieldType(path, field)
	if err != nil {
		return nil, err
	}
	if ft == index.FieldNumeric || ft == index.FieldBoolean || ft == index.FieldNested {
		return nil, malformed(path, "field %q: %s is not supported on %s fields", field, kind, ft)
	}
	node := &Node{Kind: kind, Field: field, Boost: boost}
	if obj, ok := raw.(map[string]any); ok {
		inner, ok := obj["value"]
		if !ok {
			return nil, malformed(path, "field %q: missing value", field)
		}
		raw = inner
		if b, ok := obj["boost"]; ok {
			if node.Boost, err = parseBoost(path, b); err != nil {
				return nil, err
			}
		}
	}
	pattern, ok := raw.(string)
	if !ok {
		return nil, malformed(path, "field %q: pattern must be a string", field)
	}
	node.Pattern = pattern
	if kind != KindPrefix && p.limits.MaxRegexpLength > 0 && len(pattern) > p.limits.MaxRegexpLength {
		return nil, malformed(path, "field %q: pattern exceeds %d characters", field, p.limits.MaxRegexpLength)
	}
	switch kind {
	case KindWildcard:
		node.Regexp, err = compileWildcard(pattern)
		if err != nil {
			return nil, malformed(path, "field %q: %v", field, err)
		}
	case KindRegexp:
		node.Regexp, err = regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return nil, malformed(path, "field %q: invalid regexp: %v", field, err)
		}
	}
	return node, nil
}

// compileWildcard translates a wildcard pattern (* = any run, ? = exactly
// one character) into an anchored regular expression.
func compileWildcard(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// maxFuzziness caps the edit distance of fuzzy queries.
const maxFuzziness = 2

func (p *parser) parseFuzzy(path string, body any) (*Node, error) {
	field, raw, boost, err := fieldEntry(path, body)
	if err != nil {
		return nil, err
	}
	ft, err := p.fieldType(path, field)
	if err != nil {
		return nil, err
	}
	if ft != index.FieldText && ft != index.FieldKeyword {
		return nil, malformed(path, "field %q has type %s, fuzzy requires text or keyword", field, ft)
	}
	node := &Node{Kind: KindFuzzy, Field: field, Boost: boost, Fuzziness: maxFuzziness}
	if obj, ok := raw.(map[string]any); ok {
		inner, ok := obj["value"]
		if !ok {
			return nil, malformed(path, "field %q: missing value", field)
		}
		raw = inner
		if f, ok := obj["fuzziness"]; ok {
			n, ok := asNumber(f)
			if !ok || n < 0 {
				return nil, malformed(path, "field %q: fuzziness must be a non-negative number", field)
			}
			node.Fuzziness = int(n)
			if node.Fuzziness > maxFuzziness {
				node.Fuzziness = maxFuzziness
			}
		}
		if b, ok := obj["boost"]; ok {
			if node.Boost, err = parseBoost(path, b); err != nil {
				return nil, err
			}
		}
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return nil, malformed(path, "field %q: value must be a non-empty string", field)
	}
	node.Value = index.String(strings.ToLower(value))
	return node, nil
}

var nestedScoreModes = map[string]bool{
	"avg": true, "sum": true, "max": true, "min": true, "none": true,
}

func (p *parser) parseNested(path string, body any) (*Node, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, malformed(path, "expected an object body")
	}
	nestedPath, ok := obj["path"].(string)
	if !ok || nestedPath == "" {
		return nil, malformed(path, "missing path")
	}
	ft, err := p.fieldType(path, nestedPath)
	if err != nil {
		return nil, err
	}
	if ft != index.FieldNested {
		return nil, malformed(path, "path %q has type %s, nested queries require a nested field", nestedPath, ft)
	}
	rawQuery, ok := obj["query"].(map[string]any)
	if !ok {
		return nil, malformed(path, "missing inner query")
	}
	inner, err := p.parseNode(path, rawQuery)
	if err != nil {
		return nil, err
	}
	node := &Node{Kind: KindNested, Path: nestedPath, Inner: inner, ScoreMode: "avg", Boost: 1.0}
	if sm, ok := obj["score_mode"]; ok {
		mode, isStr := sm.(string)
		if !isStr || !nestedScoreModes[mode] {
			return nil, malformed(path, "unsupported score_mode %v", sm)
		}
		node.ScoreMode = mode
	}
	if b, ok := obj["boost"]; ok {
		if node.Boost, err = parseBoost(path, b); err != nil {
			return nil, err
		}
	}
	return node, nil
}

var functionScoreModes = map[string]bool{
	"sum": true, "avg": true, "max": true, "min": true, "multiply": true, "first": true,
}

var boostModes = map[string]bool{
	"multiply": true, "sum": true, "replace": true, "max": true, "min": true,
}

func (p *parser) parseFunctionScore(path string, body any) (*Node, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, malformed(path, "expected an object body")
	}
	rawQuery, ok := obj["query"].(map[string]any)
	if !ok {
		return nil, malformed(path, "missing inner query")
	}
	inner, err := p.parseNode(path, rawQuery)
	if err != nil {
		return nil, err
	}
	node := &Node{
		Kind:      KindFunctionScore,
		Inner:     inner,
		ScoreMode: "multiply",
		BoostMode: "multiply",
		Boost:     1.0,
	}
	rawFns, ok := obj["functions"].([]any)
	if !ok || len(rawFns) == 0 {
		return nil, malformed(path, "requires a non-empty functions list")
	}
	for i, rawFn := range rawFns {
		fnPath := fmt.Sprintf("%s.functions[%d]", path, i)
		fnObj, ok := rawFn.(map[string]any)
		if !ok {
			return nil, malformed(fnPath, "expected an object")
		}
		fn := ScoreFunction{Weight: 1.0}
		for key, v := range fnObj {
			switch key {
			case "weight":
				w, ok := asNumber(v)
				if !ok || w < 0 {
					return nil, malformed(fnPath, "weight must be a non-negative number")
				}
				fn.Weight = w
			case "gauss":
				fn.Gauss, err = p.parseGauss(fnPath, v)
				if err != nil {
					return nil, err
				}
			default:
				return nil, malformed(fnPath, "unsupported function %q", key)
			}
		}
		node.Functions = append(node.Functions, fn)
	}
	if sm, ok := obj["score_mode"]; ok {
		mode, isStr := sm.(string)
		if !isStr || !functionScoreModes[mode] {
			return nil, malformed(path, "unsupported score_mode %v", sm)
		}
		node.ScoreMode = mode
	}
	if bm, ok := obj["boost_mode"]; ok {
		mode, isStr := bm.(string)
		if !isStr || !boostModes[mode] {
			return nil, malformed(path, "unsupported boost_mode %v", bm)
		}
		node.BoostMode = mode
	}
	if b, ok := obj["boost"]; ok {
		if node.Boost, err = parseBoost(path, b); err != nil {
			return nil, err
		}
	}
	return node, nil
}

func (p *parser) parseGauss(path string, body any) (*GaussDecay, error) {
	field, raw, _, err := fieldEntry(path+".gauss", body)
	if err != nil {
		return nil, err
	}
	ft, err := p.fieldType(path, field)
	if err != nil {
		return nil, err
	}
	if ft != index.FieldNumeric && ft != index.FieldDate {
		return nil, malformed(path, "field %q has type %s, gauss requires numeric or date", field, ft)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, malformed(path, "field %q: expected origin/scale parameters", field)
	}
	decay := &GaussDecay{Field: field, Decay: 0.5}
	origin, ok := obj["origin"]
	if !ok {
		return nil, malformed(path, "field %q: missing origin", field)
	}
	if decay.Origin, err = p.decayPoint(path, field, ft, origin); err != nil {
		return nil, err
	}
	scale, ok := obj["scale"]
	if !ok {
		return nil, malformed(path, "field %q: missing scale", field)
	}
	if decay.Scale, err = p.decaySpan(path, field, scale); err != nil {
		return nil, err
	}
	if decay.Scale <= 0 {
		return nil, malformed(path, "field %q: scale must be positive", field)
	}
	if off, ok := obj["offset"]; ok {
		if decay.Offset, err = p.decaySpan(path, field, off); err != nil {
			return nil, err
		}
		if decay.Offset < 0 {
			return nil, malformed(path, "field %q: offset must be non-negative", field)
		}
	}
	if d, ok := obj["decay"]; ok {
		n, isNum := asNumber(d)
		if !isNum || n <= 0 || n >= 1 {
			return nil, malformed(path, "field %q: decay must be in (0, 1)", field)
		}
		decay.Decay = n
	}
	return decay, nil
}

// decayPoint converts a decay origin to its numeric axis: the value itself
// for numeric fields, epoch seconds for dates.
func (p *parser) decayPoint(path, field string, ft index.FieldType, v any) (float64, error) {
	if ft == index.FieldNumeric {
		if n, ok := asNumber(v); ok {
			return n, nil
		}
		return 0, malformed(path, "field %q: origin must be a number", field)
	}
	s, ok := v.(string)
	if !ok {
		return 0, malformed(path, "field %q: origin must be a date string", field)
	}
	val, err := index.ParseDate(s)
	if err != nil {
		return 0, malformed(path, "field %q: %v", field, err)
	}
	return float64(val.Date.Unix()), nil
}

// decaySpan converts a scale or offset to the same axis as decayPoint:
// plain numbers pass through (seconds for dates), duration strings are
// accepted for date fields.
func (p *parser) decaySpan(path, field string, v any) (float64, error) {
	if n, ok := asNumber(v); ok {
		return n, nil
	}
	if s, ok := v.(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d.Seconds(), nil
		}
	}
	return 0, malformed(path, "field %q: expected a number or duration", field)
}
