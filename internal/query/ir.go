// Package query defines the typed intermediate representation of the search
// DSL and the parser that validates a decoded query tree against an index
// schema. IR nodes are immutable once parsed.
package query

import (
	"regexp"

	"github.com/Muntasir-Arin/es-in-action/internal/index"
)

// Kind tags an IR node with its operation. Every consumer (parser,
// evaluator, scorer) switches exhaustively on Kind, so adding an operation
// forces a review of each of them.
type Kind int

const (
	KindMatch Kind = iota
	KindMatchPhrase
	KindMultiMatch
	KindTerm
	KindTerms
	KindBool
	KindRange
	KindExists
	KindPrefix
	KindWildcard
	KindRegexp
	KindFuzzy
	KindNested
	KindFunctionScore
)

var kindNames = map[Kind]string{
	KindMatch:         "match",
	KindMatchPhrase:   "match_phrase",
	KindMultiMatch:    "multi_match",
	KindTerm:          "term",
	KindTerms:         "terms",
	KindBool:          "bool",
	KindRange:         "range",
	KindExists:        "exists",
	KindPrefix:        "prefix",
	KindWildcard:      "wildcard",
	KindRegexp:        "regexp",
	KindFuzzy:         "fuzzy",
	KindNested:        "nested",
	KindFunctionScore: "function_score",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Node is a tagged variant over the operation kinds. Only the fields
// relevant to the node's Kind are populated.
type Node struct {
	Kind  Kind
	Boost float64

	// Field-addressed operations.
	Field string

	// match / match_phrase / multi_match.
	Text       string
	FieldsList []string

	// term / terms.
	Value  index.Value
	Values []index.Value

	// range.
	Lower        *index.Value
	Upper        *index.Value
	IncludeLower bool
	IncludeUpper bool

	// prefix / wildcard / regexp. Pattern is the raw source; Regexp is the
	// anchored matcher compiled at parse time for wildcard and regexp.
	Pattern string
	Regexp  *regexp.Regexp

	// fuzzy.
	Fuzziness int

	// bool.
	Must    []*Node
	Should  []*Node
	MustNot []*Node
	Filter  []*Node

	// nested and function_score share Inner.
	Path      string
	Inner     *Node
	ScoreMode string

	// function_score.
	Functions []ScoreFunction
	BoostMode string
}

// ScoreFunction is one entry of a function_score functions list: a constant
// weight, optionally shaped by a Gaussian decay on a numeric or date field.
type ScoreFunction struct {
	Weight float64
	Gauss  *GaussDecay
}

// GaussDecay computes a multiplicative factor from the distance between a
// field value and Origin. The factor is 1 within Offset of the origin and
// equals Decay at distance Scale beyond the offset. Dates are measured in
// seconds.
type GaussDecay struct {
	Field  string
	Origin float64
	Scale  float64
	Offset float64
	Decay  float64
}
